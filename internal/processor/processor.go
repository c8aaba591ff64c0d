package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"DriveDecoder/decoder"
	"DriveDecoder/internal/logger"
	"DriveDecoder/parsers"
	"DriveDecoder/timeline"
)

// Progress is sent after each input file is decoded
type Progress struct {
	FilesProcessed int
	FilesTotal     int
	EntriesDecoded int
}

// Report is the outcome of processing a set of inputs
type Report struct {
	// Timeline merges every file's timeline
	Timeline *timeline.Timeline
	// Results holds one decode result per file, in input order
	Results []*decoder.Result
	// FilesSkipped counts directory members no parser recognized
	FilesSkipped int
}

// Total returns the number of raw entries read across all files
func (r *Report) Total() int {
	n := 0
	for _, res := range r.Results {
		n += res.Total
	}
	return n
}

// Diagnostics returns every file's diagnostics in input order
func (r *Report) Diagnostics() []decoder.Diagnostic {
	var out []decoder.Diagnostic
	for _, res := range r.Results {
		out = append(out, res.Diagnostics...)
	}
	return out
}

// Combined folds the per-file results into one over the merged timeline
func (r *Report) Combined() *decoder.Result {
	return &decoder.Result{
		Source:      "all inputs",
		Timeline:    r.Timeline,
		Diagnostics: r.Diagnostics(),
		Devices:     r.Timeline.Devices(),
		Total:       r.Total(),
	}
}

// Processor decodes log files concurrently. Every file is scanned with its
// own device resolver; results are reconciled by timeline.Merge.
type Processor struct {
	numWorkers     int
	fs             afero.Fs
	kinds          decoder.KindTable
	entriesDecoded int64
}

// NewProcessor returns a processor over fs running numWorkers decoders
func NewProcessor(fs afero.Fs, numWorkers int, kinds decoder.KindTable) *Processor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Processor{
		numWorkers: numWorkers,
		fs:         fs,
		kinds:      kinds,
	}
}

// ProcessingErrors collects per-file failures of a scan
type ProcessingErrors struct {
	Errors []error
	mu     sync.Mutex
}

// Add records a failure. It is safe for concurrent use.
func (pe *ProcessingErrors) Add(err error) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.Errors = append(pe.Errors, err)
}

// HasErrors reports whether any file failed
func (pe *ProcessingErrors) HasErrors() bool {
	return pe.Count() > 0
}

// Error implements the error interface
func (pe *ProcessingErrors) Error() string {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	if len(pe.Errors) == 0 {
		return ""
	}
	if len(pe.Errors) == 1 {
		return pe.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred during processing; first error: %v", len(pe.Errors), pe.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (pe *ProcessingErrors) Unwrap() []error {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return append([]error(nil), pe.Errors...)
}

// Count returns the number of errors
func (pe *ProcessingErrors) Count() int {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return len(pe.Errors)
}

// collectFiles expands directories recursively. Files named directly are
// always kept; directory members only when a parser recognizes them.
func (p *Processor) collectFiles(ctx context.Context, inputs []string) ([]string, int, error) {
	var files []string
	skipped := 0
	for _, input := range inputs {
		info, err := p.fs.Stat(input)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to access input path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, input)
			continue
		}

		var members []string
		err = afero.Walk(p.fs, input, func(path string, info os.FileInfo, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				logger.Warn("Error accessing %s: %v", path, err)
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if _, err := parsers.GetParserForFile(p.fs, path); err != nil {
				skipped++
				return nil
			}
			members = append(members, path)
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to walk directory: %w", err)
		}
		sort.Strings(members)
		files = append(files, members...)
	}
	return files, skipped, nil
}

// Process decodes every input file and merges the timelines in input order.
// Cancellation is checked between files. Files that fail are reported in a
// *ProcessingErrors alongside the report of the files that succeeded.
func (p *Processor) Process(ctx context.Context, inputs []string, progressChan chan<- Progress) (*Report, error) {
	files, skipped, err := p.collectFiles(ctx, inputs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	results := make([]*decoder.Result, len(files))
	processingErrors := &ProcessingErrors{}
	jobs := make(chan int)
	var filesProcessed int64
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					continue
				}

				path := files[idx]
				res, err := decoder.Scan(parsers.NewFileSource(p.fs, path), decoder.WithKinds(p.kinds))
				if err != nil {
					processingErrors.Add(err)
					continue
				}
				results[idx] = res

				done := atomic.AddInt64(&filesProcessed, 1)
				decoded := atomic.AddInt64(&p.entriesDecoded, int64(res.Decoded()))
				logger.Debug("Processed file: %s (%s)", path, res.Summary())

				if progressChan != nil {
					select {
					case progressChan <- Progress{
						FilesProcessed: int(done),
						FilesTotal:     len(files),
						EntriesDecoded: int(decoded),
					}:
					default:
					}
				}
			}
		}()
	}

feed:
	for idx := range files {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	report := &Report{FilesSkipped: skipped}
	timelines := make([]*timeline.Timeline, 0, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		report.Results = append(report.Results, res)
		timelines = append(timelines, res.Timeline)
	}
	report.Timeline = timeline.Merge(timelines...)

	logger.Info("Processing complete: %d files decoded, %d skipped, %d errors",
		len(report.Results), skipped, processingErrors.Count())

	if processingErrors.HasErrors() {
		return report, processingErrors
	}
	return report, nil
}

// IsPartial reports whether err left a usable report behind
func IsPartial(err error) bool {
	var pe *ProcessingErrors
	return errors.As(err, &pe)
}

// GetTotalEntriesDecoded returns the number of entries decoded so far
func (p *Processor) GetTotalEntriesDecoded() int {
	return int(atomic.LoadInt64(&p.entriesDecoded))
}
