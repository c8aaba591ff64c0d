package main

import (
	"os"

	"DriveDecoder/cli"
	"DriveDecoder/internal/logger"
)

func main() {
	err := cli.Execute()
	logger.Sync()
	os.Exit(cli.ExitCode(err))
}
