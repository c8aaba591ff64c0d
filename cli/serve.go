package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"DriveDecoder/api"
	"DriveDecoder/internal/logger"
	"DriveDecoder/internal/securestorage"
)

func serveCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for scanning and querying USB timelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, closer, err := prepare(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer closer.Close()

			tempDir := api.GetTempDir()
			var storage securestorage.Storage
			if opts.SecureStorage {
				storage = securestorage.NewStorage(tempDir)
			} else {
				storage = securestorage.NewFileStorage(afero.NewOsFs(), tempDir)
			}

			server := api.NewServer(config, api.WithStorage(storage))
			if err := server.Start(); err != nil {
				return &serverError{err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s:%d\n", config.Server.Addr, server.GetPort())
			if token := server.GetAuthToken(); token != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Bearer token: %s\n", token)
			}

			signalChan := make(chan os.Signal, 1)
			signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signalChan)

			select {
			case sig := <-signalChan:
				logger.Info("Received signal: %v", sig)
			case <-server.Done():
				logger.Info("Shutdown requested through the API")
			case <-cmd.Context().Done():
			}

			if err := server.Stop(time.Duration(opts.ShutdownTimeout) * time.Second); err != nil {
				return &serverError{err: fmt.Errorf("error during server shutdown: %w", err)}
			}
			logger.Info("Server shutdown complete")
			return nil
		},
	}
	registerServeFlags(cmd.Flags(), opts)
	return cmd
}
