package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"DriveDecoder/core"
	"DriveDecoder/internal/logger"
	"DriveDecoder/internal/processor"
	"DriveDecoder/output"
	"DriveDecoder/timeline"
)

// Status values reported in ProcessStatus
const (
	StatusSuccess     = "success"
	StatusPartial     = "partial"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
)

// ProcessStatus is the outcome of one scan and export run
type ProcessStatus struct {
	Status     string `json:"status"`
	ScanID     string `json:"scan_id,omitempty"`
	Files      int    `json:"files"`
	Entries    int    `json:"entries"`
	Decoded    int    `json:"decoded"`
	Skipped    int    `json:"skipped"`
	Written    int    `json:"written"`
	Output     string `json:"output,omitempty"`
	Summary    string `json:"summary,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ProgressCallback is invoked as input files finish decoding
type ProgressCallback func(filesProcessed, totalFiles, entriesDecoded int)

// App represents the DriveDecoder application
type App struct {
	Config *Config
	fs     afero.Fs
	proc   *processor.Processor
}

// New creates a new DriveDecoder application instance on the OS filesystem
func New(config *Config) *App {
	return NewWithFs(config, afero.NewOsFs())
}

// NewWithFs creates an application reading inputs and writing CSV/JSONL
// output through fs
func NewWithFs(config *Config, fs afero.Fs) *App {
	return &App{
		Config: config,
		fs:     fs,
	}
}

// Initialize validates the configuration and prepares the processor
func (a *App) Initialize() error {
	logger.Init(a.Config.Verbose, a.Config.Silent)

	if err := a.Config.Validate(); err != nil {
		return err
	}

	logger.Info("DriveDecoder initializing...")
	logger.Info("Inputs: %v", a.Config.Inputs)
	logger.Debug("Format: %s, workers: %d", a.Config.Format, a.Config.Workers)

	if err := a.validateInputPaths(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	a.proc = processor.NewProcessor(a.fs, a.Config.Workers, a.Config.Kinds())
	return nil
}

// Scan decodes every input and returns the merged report. A partial
// failure returns both the report and a *processor.ProcessingErrors.
func (a *App) Scan(ctx context.Context, progressCallback ProgressCallback) (*processor.Report, error) {
	if a.proc == nil {
		return nil, errors.New("application not initialized")
	}

	progressChan := make(chan processor.Progress, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for progress := range progressChan {
			if progressCallback != nil {
				progressCallback(progress.FilesProcessed, progress.FilesTotal, progress.EntriesDecoded)
			}
		}
	}()

	report, err := a.proc.Process(ctx, a.Config.Inputs, progressChan)
	close(progressChan)
	<-done
	return report, err
}

// Select applies the configured kind filter and search text
func (a *App) Select(tl *timeline.Timeline) []core.TimelineEntry {
	return tl.Query(a.Config.KindFilter(), a.Config.Search)
}

// Sessions pairs the search-matching entries of tl. The kind filter is not
// applied: without removals every session would look open.
func (a *App) Sessions(tl *timeline.Timeline) timeline.SessionSet {
	return timeline.PairSessions(timeline.SearchEntries(tl.Entries(), a.Config.Search))
}

// Process scans the inputs and writes the selected entries to the output
func (a *App) Process(ctx context.Context, progressCallback ProgressCallback) (*ProcessStatus, error) {
	startTime := time.Now()
	status := &ProcessStatus{}
	finish := func(state string, err error) (*ProcessStatus, error) {
		status.Status = state
		status.DurationMs = time.Since(startTime).Milliseconds()
		if err != nil {
			status.Error = err.Error()
		}
		return status, err
	}

	report, err := a.Scan(ctx, progressCallback)
	if err != nil && !processor.IsPartial(err) {
		if errors.Is(err, context.Canceled) {
			logger.Info("Processing was interrupted")
			return finish(StatusInterrupted, err)
		}
		logger.Error("Failed to process inputs: %v", err)
		return finish(StatusError, err)
	}
	scanErr := err

	combined := report.Combined()
	status.ScanID = report.Timeline.ID
	status.Files = len(report.Results)
	status.Entries = combined.Total
	status.Decoded = combined.Decoded()
	status.Skipped = combined.Skipped()
	status.Summary = combined.Summary()
	logger.Info("Decode summary: %s", status.Summary)

	selected := a.Select(report.Timeline)
	if err := a.Export(report.Timeline.ID, selected, a.Sessions(report.Timeline)); err != nil {
		logger.Error("Failed to write output: %v", err)
		return finish(StatusError, err)
	}
	status.Written = len(selected)
	status.Output = a.Config.OutputPath

	logger.Info("Processing completed in %v", time.Since(startTime))
	if scanErr != nil {
		logger.Warn("Some inputs failed: %v", scanErr)
		return finish(StatusPartial, scanErr)
	}
	return finish(StatusSuccess, nil)
}

// Export writes entries to the configured output, defaulting the path to
// usb-forensics-YYYY-MM-DD.<ext> in the working directory. Formats that
// store sessions receive the given set.
func (a *App) Export(scanID string, entries []core.TimelineEntry, sessions timeline.SessionSet) error {
	if a.Config.OutputPath == "" {
		a.Config.OutputPath = output.DefaultFileName(a.Config.Format, time.Now())
	}
	if err := a.validateOutputPath(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	w, err := output.GetWriter(a.fs, a.Config.Format, a.Config.OutputPath, scanID)
	if err != nil {
		return fmt.Errorf("failed to create output writer: %w", err)
	}
	if sw, ok := w.(output.SessionWriter); ok {
		sw.SetSessions(sessions)
	}
	if err := w.Write(entries); err != nil {
		w.Close()
		return fmt.Errorf("%w: %v", output.ErrWritingFailed, err)
	}
	return w.Close()
}

// validateInputPaths checks that every input exists
func (a *App) validateInputPaths() error {
	if len(a.Config.Inputs) == 0 {
		return errors.New("no input paths given")
	}
	for _, input := range a.Config.Inputs {
		if _, err := a.fs.Stat(input); err != nil {
			return err
		}
	}
	return nil
}

// validateOutputPath creates the output directory when missing
func (a *App) validateOutputPath() error {
	outputDir := filepath.Dir(a.Config.OutputPath)
	if _, err := a.fs.Stat(outputDir); err != nil {
		if os.IsNotExist(err) {
			if err := a.fs.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			return nil
		}
		return err
	}
	return nil
}
