package output

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"DriveDecoder/core"
	"DriveDecoder/timeline"
)

// CSVWriter streams the timeline CSV. The bytes written are identical to
// Timeline.ToCSV for the same entries.
type CSVWriter struct {
	mu        sync.Mutex
	file      afero.File
	bufWriter *bufio.Writer
}

// NewCSVWriter creates the file and writes the header row
func NewCSVWriter(fs afero.Fs, outputPath string) (*CSVWriter, error) {
	file, err := fs.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}

	// 64 KB buffer
	bufWriter := bufio.NewWriterSize(file, 64*1024)
	if _, err := bufWriter.WriteString(timeline.CSVLine(timeline.CSVHeader)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	return &CSVWriter{
		file:      file,
		bufWriter: bufWriter,
	}, nil
}

// Write appends one row per entry. Rows are separated, not terminated, by "\n".
func (w *CSVWriter) Write(entries []core.TimelineEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		if err := w.bufWriter.WriteByte('\n'); err != nil {
			return fmt.Errorf("%w: %v", ErrWritingFailed, err)
		}
		if _, err := w.bufWriter.WriteString(timeline.CSVLine(timeline.CSVRecord(e))); err != nil {
			return fmt.Errorf("%w: %v", ErrWritingFailed, err)
		}
	}
	return nil
}

// Close flushes the buffered rows and closes the file
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.bufWriter.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return w.file.Close()
}
