package output

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"DriveDecoder/core"
	"DriveDecoder/timeline"
)

// Common errors
var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrWritingFailed     = errors.New("failed to write output")
)

// Writer defines the interface for all timeline exporters
type Writer interface {
	// Write appends entries in the order given
	Write(entries []core.TimelineEntry) error

	// Close flushes and releases the output
	Close() error
}

// SessionWriter is a Writer that also stores paired sessions. The set is
// paired from the unfiltered timeline, not from the entries written.
type SessionWriter interface {
	Writer
	SetSessions(set timeline.SessionSet)
}

// Formats lists the supported output formats
var Formats = []string{"csv", "jsonl", "sqlite"}

// GetWriter returns the writer for format. CSV and JSONL are created on fs;
// SQLite always writes to the OS filesystem. scanID tags SQLite rows.
func GetWriter(fs afero.Fs, format, outputPath, scanID string) (Writer, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	switch strings.ToLower(format) {
	case "csv":
		return NewCSVWriter(fs, outputPath)
	case "jsonl":
		return NewJSONLWriter(fs, outputPath)
	case "sqlite":
		return NewSQLiteWriter(outputPath, scanID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// DefaultFileName is the export name for a scan on the given day,
// e.g. usb-forensics-2024-03-01.csv
func DefaultFileName(format string, day time.Time) string {
	ext := strings.ToLower(format)
	if ext == "sqlite" {
		ext = "db"
	}
	return fmt.Sprintf("usb-forensics-%s.%s", day.Format("2006-01-02"), ext)
}
