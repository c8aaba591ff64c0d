package cli

import (
	"github.com/spf13/cobra"

	"DriveDecoder/app"
)

// LoadAppConfig reads the config file named by --config and applies every
// flag the user set explicitly on cmd
func LoadAppConfig(cmd *cobra.Command, opts *Options, inputs []string) (*app.Config, error) {
	config, err := app.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	ApplyOptions(config, opts, func(name string) bool { return changed(cmd, name) })
	if len(inputs) > 0 {
		config.Inputs = inputs
	}
	return config, config.Validate()
}

// ApplyOptions copies the options whose flag isSet reports onto config
func ApplyOptions(config *app.Config, opts *Options, isSet func(name string) bool) {
	if isSet("verbose") {
		config.Verbose = opts.Verbose
	}
	if isSet("silent") {
		config.Silent = opts.Silent
	}
	if isSet("log-file") {
		config.LogFile = opts.LogFile
	}
	if isSet("log-max-size") {
		config.LogRotation.MaxSize = opts.LogMaxSize
	}
	if isSet("log-max-age") {
		config.LogRotation.MaxAge = opts.LogMaxAge
	}
	if isSet("log-max-backups") {
		config.LogRotation.MaxBackups = opts.LogMaxBackups
	}
	if isSet("log-compress") {
		config.LogRotation.Compress = opts.LogCompress
	}

	if isSet("output") {
		config.OutputPath = opts.OutputPath
	}
	if isSet("format") {
		config.Format = opts.Format
	}
	if isSet("workers") {
		config.Workers = opts.Workers
	}
	if isSet("kind") {
		config.Kind = opts.Kind
	}
	if isSet("search") {
		config.Search = opts.Search
	}
	if isSet("json-status") {
		config.JSONStatus = opts.JSONStatus
	}

	if isSet("addr") {
		config.Server.Addr = opts.Addr
	}
	if isSet("port") {
		config.Server.Port = opts.Port
	}
	if isSet("max-concurrent") {
		config.Server.MaxConcurrent = opts.MaxConcurrent
	}
	if isSet("require-token") {
		config.Server.RequireToken = opts.RequireToken
	}
}
