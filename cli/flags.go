package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"DriveDecoder/output"
)

// Options holds the command-line values for DriveDecoder. Values only
// override the config file when their flag was set explicitly.
type Options struct {
	ConfigPath string

	// Logging
	LogFile       string
	LogMaxSize    int
	LogMaxAge     int
	LogMaxBackups int
	LogCompress   bool
	Verbose       bool
	Silent        bool

	// Scanning
	OutputPath string
	Format     string
	Workers    int
	Kind       string
	Search     string
	JSONStatus bool
	JSON       bool

	// Serving
	Addr            string
	Port            int
	MaxConcurrent   int
	RequireToken    bool
	ShutdownTimeout int
	SecureStorage   bool
}

// registerPersistentFlags adds the flags shared by every command
func registerPersistentFlags(flags *pflag.FlagSet, opts *Options) {
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to YAML config file")
	flags.StringVar(&opts.LogFile, "log-file", "", "Also write logs to this file, with rotation")
	flags.IntVar(&opts.LogMaxSize, "log-max-size", 20, "Maximum size of log file in megabytes before rotation")
	flags.IntVar(&opts.LogMaxAge, "log-max-age", 30, "Maximum age of rotated log files in days")
	flags.IntVar(&opts.LogMaxBackups, "log-max-backups", 5, "Maximum number of old log files to retain")
	flags.BoolVar(&opts.LogCompress, "log-compress", true, "Compress rotated log files")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVarP(&opts.Silent, "silent", "s", false, "Disable all console output except errors")
}

// registerQueryFlags adds the workers and search flags
func registerQueryFlags(flags *pflag.FlagSet, opts *Options) {
	flags.IntVarP(&opts.Workers, "workers", "w", 0, "Number of worker goroutines (default: number of CPUs)")
	flags.StringVarP(&opts.Search, "search", "q", "", "Only devices whose vendor, model or serial contains this text")
}

func registerKindFlag(flags *pflag.FlagSet, opts *Options) {
	flags.StringVarP(&opts.Kind, "kind", "k", "", "Only entries of this kind (insertion, removal, all)")
}

// registerScanFlags adds the output flags of the scan command
func registerScanFlags(flags *pflag.FlagSet, opts *Options) {
	registerQueryFlags(flags, opts)
	registerKindFlag(flags, opts)
	flags.StringVarP(&opts.OutputPath, "output", "o", "", "Path for output file (default: usb-forensics-YYYY-MM-DD.<ext>)")
	flags.StringVarP(&opts.Format, "format", "f", "csv",
		fmt.Sprintf("Output format (%s)", strings.Join(output.Formats, ", ")))
	flags.BoolVar(&opts.JSONStatus, "json-status", false, "Output JSON status block to stdout")
}

// registerServeFlags adds the API server flags
func registerServeFlags(flags *pflag.FlagSet, opts *Options) {
	flags.IntVarP(&opts.Workers, "workers", "w", 0, "Number of worker goroutines per scan")
	flags.StringVar(&opts.Addr, "addr", "127.0.0.1", "Address to listen on")
	flags.IntVarP(&opts.Port, "port", "p", 8765, "Port to use for API server (0 picks a free port)")
	flags.IntVar(&opts.MaxConcurrent, "max-concurrent", 16, "Maximum number of concurrent API requests")
	flags.BoolVar(&opts.RequireToken, "require-token", false, "Require a bearer token on /api routes")
	flags.IntVar(&opts.ShutdownTimeout, "shutdown-timeout", 15, "Timeout in seconds for graceful shutdown")
	flags.BoolVar(&opts.SecureStorage, "use-secure-storage", true, "Store connection info in the OS keyring when available")
}

// changed reports whether the named flag was set on cmd
func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}
