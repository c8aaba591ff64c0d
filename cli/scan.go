package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"DriveDecoder/app"
	"DriveDecoder/internal/logger"
	"DriveDecoder/internal/processor"
)

func scanCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [file|directory]...",
		Short: "Decode event logs and export the USB timeline",
		Example: `  drivedecoder scan C:\Windows\System32\winevt\Logs\System.evtx
  drivedecoder scan ./exports --kind insertion --search sandisk -f jsonl -o usb.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, closer, err := prepare(cmd, opts, args)
			if err != nil {
				return err
			}
			defer closer.Close()

			application := app.New(config)
			if err := application.Initialize(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			progress := func(filesProcessed, totalFiles, entriesDecoded int) {
				if !config.JSONStatus {
					logger.PrintProgress(filesProcessed, totalFiles, "Decoding files")
				}
			}
			status, err := application.Process(ctx, progress)
			if !config.JSONStatus && !config.Silent {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			return reportStatus(cmd, config, status, err)
		},
	}
	registerScanFlags(cmd.Flags(), opts)
	return cmd
}

// reportStatus prints the JSON status block or a short summary
func reportStatus(cmd *cobra.Command, config *app.Config, status *app.ProcessStatus, err error) error {
	out := cmd.OutOrStdout()
	if config.JSONStatus {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(status); encErr != nil {
			return encErr
		}
		return err
	}

	if err != nil && !processor.IsPartial(err) {
		return err
	}
	fmt.Fprintln(out, status.Summary)
	fmt.Fprintf(out, "Wrote %d entries to %s in %d ms\n", status.Written, status.Output, status.DurationMs)
	return err
}
