// Package cli implements the drivedecoder commands.
package cli

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"DriveDecoder/app"
	"DriveDecoder/internal/logger"
	"DriveDecoder/internal/logrotate"
	"DriveDecoder/internal/processor"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitPartial     = 2
	ExitErrorServer = 6
)

// serverError marks failures of the API server lifecycle
type serverError struct{ err error }

func (e *serverError) Error() string { return e.err.Error() }
func (e *serverError) Unwrap() error { return e.err }

// ExitCode maps an Execute error to the process exit code
func ExitCode(err error) int {
	var se *serverError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &se):
		return ExitErrorServer
	case processor.IsPartial(err):
		return ExitPartial
	default:
		return ExitError
	}
}

// NewRootCommand builds the drivedecoder command tree
func NewRootCommand() *cobra.Command {
	opts := &Options{}
	root := &cobra.Command{
		Use:   "drivedecoder",
		Short: "Decode USB device history from Windows event logs",
		Long: `DriveDecoder reads Windows event logs (EVTX, exported XML, JSON or CSV),
recognizes USB insertion and removal events, resolves the device behind each
one and builds a timeline that can be filtered, searched and exported.`,
		SilenceUsage: true,
	}
	registerPersistentFlags(root.PersistentFlags(), opts)

	root.AddCommand(scanCommand(opts))
	root.AddCommand(serveCommand(opts))
	root.AddCommand(sessionsCommand(opts))
	root.AddCommand(statsCommand(opts))
	return root
}

// Execute runs the CLI
func Execute() error {
	return NewRootCommand().Execute()
}

// setupLogging sends logs to the command's stderr, teeing to a rotating
// file when one is configured. The returned closer releases the file.
func setupLogging(cmd *cobra.Command, config *app.Config) (io.Closer, error) {
	logger.Init(config.Verbose, config.Silent)
	console := cmd.ErrOrStderr()
	if config.LogFile == "" {
		logger.SetOutput(console)
		return io.NopCloser(nil), nil
	}
	w, err := logrotate.Attach(console, config.LogFile, config.LogRotation)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// prepare loads the configuration for cmd and sets up logging
func prepare(cmd *cobra.Command, opts *Options, inputs []string) (*app.Config, io.Closer, error) {
	config, err := LoadAppConfig(cmd, opts, inputs)
	if err != nil {
		return nil, nil, err
	}
	closer, err := setupLogging(cmd, config)
	if err != nil {
		return nil, nil, err
	}
	return config, closer, nil
}
