package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"DriveDecoder/api"
	"DriveDecoder/app"
	"DriveDecoder/internal/logger"
	"DriveDecoder/internal/processor"
	"DriveDecoder/output"
	"DriveDecoder/timeline"
)

// decodeInputs scans the inputs without exporting. A partial failure is
// logged and the report of the readable files is returned.
func decodeInputs(cmd *cobra.Command, opts *Options, args []string) (*app.App, *processor.Report, io.Closer, error) {
	config, closer, err := prepare(cmd, opts, args)
	if err != nil {
		return nil, nil, nil, err
	}

	application := app.New(config)
	if err := application.Initialize(); err != nil {
		closer.Close()
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := application.Scan(ctx, nil)
	if err != nil {
		if !processor.IsPartial(err) {
			closer.Close()
			return nil, nil, nil, err
		}
		logger.Warn("Some inputs failed: %v", err)
	}
	logger.Info("Decode summary: %s", report.Combined().Summary())
	return application, report, closer, nil
}

func sessionsCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions [file|directory]...",
		Short: "Pair insertions and removals into connection sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, report, closer, err := decodeInputs(cmd, opts, args)
			if err != nil {
				return err
			}
			defer closer.Close()

			set := application.Sessions(report.Timeline)

			if opts.JSON {
				return writeIndentedJSON(cmd.OutOrStdout(), api.NewSessionsResponse(set))
			}
			return printSessions(cmd.OutOrStdout(), set)
		},
	}
	registerQueryFlags(cmd.Flags(), opts)
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printSessions(out io.Writer, set timeline.SessionSet) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tSERIAL\tVENDOR\tMODEL\tINSERTED\tREMOVED\tDURATION")
	for _, s := range set.Closed {
		ins, rem := output.NewRecord(s.Insertion), output.NewRecord(s.Removal)
		fmt.Fprintf(tw, "closed\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ins.Serial, ins.Vendor, ins.Model, ins.Timestamp, rem.Timestamp, s.Duration())
	}
	for _, e := range set.Open {
		r := output.NewRecord(e)
		fmt.Fprintf(tw, "open\t%s\t%s\t%s\t%s\t-\t-\n", r.Serial, r.Vendor, r.Model, r.Timestamp)
	}
	for _, e := range set.Orphans {
		r := output.NewRecord(e)
		fmt.Fprintf(tw, "orphan\t%s\t%s\t%s\t-\t%s\t-\n", r.Serial, r.Vendor, r.Model, r.Timestamp)
	}
	return tw.Flush()
}

func statsCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [file|directory]...",
		Short: "Count insertions, removals and unique devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, report, closer, err := decodeInputs(cmd, opts, args)
			if err != nil {
				return err
			}
			defer closer.Close()

			stats := timeline.Summarize(application.Select(report.Timeline))
			if opts.JSON {
				return writeIndentedJSON(cmd.OutOrStdout(), stats)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Total events:\t%d\n", stats.Total)
			fmt.Fprintf(tw, "Insertions:\t%d\n", stats.Insertions)
			fmt.Fprintf(tw, "Removals:\t%d\n", stats.Removals)
			fmt.Fprintf(tw, "Unique devices:\t%d\n", stats.UniqueDevices)
			return tw.Flush()
		},
	}
	registerQueryFlags(cmd.Flags(), opts)
	registerKindFlag(cmd.Flags(), opts)
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print JSON instead of text")
	return cmd
}

func writeIndentedJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
