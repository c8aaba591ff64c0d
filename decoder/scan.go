package decoder

import (
	"fmt"
	"sort"
	"strings"

	"DriveDecoder/core"
	"DriveDecoder/timeline"
)

// EntrySource supplies a finite batch of raw log entries. How the entries
// were retrieved (live query, exported file, fixture) is up to the source.
type EntrySource interface {
	Name() string
	Entries() ([]core.RawEntry, error)
}

type sliceSource struct {
	name    string
	entries []core.RawEntry
}

func (s sliceSource) Name() string                      { return s.name }
func (s sliceSource) Entries() ([]core.RawEntry, error) { return s.entries, nil }

// Entries wraps an in-memory batch as an EntrySource
func Entries(name string, entries []core.RawEntry) EntrySource {
	return sliceSource{name: name, entries: entries}
}

// Result is the outcome of one scan
type Result struct {
	Source      string
	Timeline    *timeline.Timeline
	Diagnostics []Diagnostic
	Devices     []*core.DeviceIdentity
	Total       int
}

// Empty reports that the source held no entries at all
func (r *Result) Empty() bool {
	return r.Total == 0
}

// Decoded returns the number of entries that made it into the timeline
func (r *Result) Decoded() int {
	return r.Timeline.Len()
}

// Skipped returns the number of entries reported as diagnostics
func (r *Result) Skipped() int {
	return len(r.Diagnostics)
}

// Reasons counts diagnostics by reason
func (r *Result) Reasons() map[string]int {
	reasons := make(map[string]int)
	for _, d := range r.Diagnostics {
		reasons[d.Reason()]++
	}
	return reasons
}

// Summary renders "N of M entries decoded, K skipped (reasons: ...)"
func (r *Result) Summary() string {
	if r.Empty() {
		return "0 entries in log source"
	}
	s := fmt.Sprintf("%d of %d entries decoded, %d skipped", r.Decoded(), r.Total, r.Skipped())
	if r.Skipped() == 0 {
		return s
	}

	reasons := r.Reasons()
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, reasons[k]))
	}
	return fmt.Sprintf("%s (reasons: %s)", s, strings.Join(parts, ", "))
}

// Option configures a scan
type Option func(*scanner)

type scanner struct {
	kinds KindTable
}

// WithKinds replaces the recognized event ID table
func WithKinds(kinds KindTable) Option {
	return func(s *scanner) {
		if kinds != nil {
			s.kinds = kinds
		}
	}
}

// Scan reads the source and decodes every entry with a fresh Resolver.
// Bad entries become diagnostics; only an unreadable source is an error.
func Scan(src EntrySource, opts ...Option) (*Result, error) {
	entries, err := src.Entries()
	if err != nil {
		return nil, &DecodeError{Source: src.Name(), Err: err}
	}
	return ScanEntries(src.Name(), entries, opts...), nil
}

// ScanEntries decodes an already retrieved batch
func ScanEntries(name string, entries []core.RawEntry, opts ...Option) *Result {
	s := &scanner{kinds: DefaultKindTable()}
	for _, opt := range opts {
		opt(s)
	}

	parser := NewRecordParser(s.kinds)
	resolver := NewResolver()
	pairs := make([]timeline.Pair, 0, len(entries))
	var diagnostics []Diagnostic

	for i, entry := range entries {
		if entry.Source == "" {
			entry.Source = name
		}

		event, err := parser.Parse(entry, i)
		if err == nil {
			var device *core.DeviceIdentity
			device, err = resolver.Resolve(event)
			if err == nil {
				pairs = append(pairs, timeline.Pair{Event: event, Device: device})
				continue
			}
		}

		diagnostics = append(diagnostics, Diagnostic{
			Index:    i,
			Source:   entry.Source,
			RecordID: entry.RecordID,
			EventID:  entry.EventID,
			Err:      err,
		})
	}

	return &Result{
		Source:      name,
		Timeline:    timeline.Build(pairs),
		Diagnostics: diagnostics,
		Devices:     resolver.Devices(),
		Total:       len(entries),
	}
}
