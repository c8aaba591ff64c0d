package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"DriveDecoder/core"
)

// jsonlFlushInterval is the number of lines buffered between flushes
const jsonlFlushInterval = 10000

// JSONLWriter writes one Record object per line
type JSONLWriter struct {
	mu      sync.Mutex
	file    afero.File
	buf     *bufio.Writer
	enc     *json.Encoder
	pending int
}

func NewJSONLWriter(fs afero.Fs, outputPath string) (*JSONLWriter, error) {
	file, err := fs.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create JSONL file: %w", err)
	}

	buf := bufio.NewWriterSize(file, 64*1024)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{file: file, buf: buf, enc: enc}, nil
}

func (w *JSONLWriter) Write(entries []core.TimelineEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range entries {
		if err := w.enc.Encode(NewRecord(e)); err != nil {
			return fmt.Errorf("failed to encode %s entry for %s: %w", e.Kind, e.Serial(), err)
		}
		if w.pending++; w.pending < jsonlFlushInterval {
			continue
		}
		w.pending = 0
		if err := w.buf.Flush(); err != nil {
			return fmt.Errorf("failed to flush JSONL output: %w", err)
		}
	}
	return nil
}

// Close flushes buffered lines. The file is closed even when the flush fails.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush JSONL output: %w", flushErr)
	}
	return closeErr
}
