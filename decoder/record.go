package decoder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"DriveDecoder/core"
)

// KindTable maps recognized numeric event IDs to their EventKind. It is the
// only place where raw IDs are interpreted.
type KindTable map[int]core.EventKind

// DefaultKindTable returns the USB insertion/removal event IDs
func DefaultKindTable() KindTable {
	return KindTable{
		20001: core.Insertion,
		20003: core.Removal,
	}
}

// With returns a copy of the table extended by extra
func (t KindTable) With(extra map[int]core.EventKind) KindTable {
	out := make(KindTable, len(t)+len(extra))
	for id, k := range t {
		out[id] = k
	}
	for id, k := range extra {
		out[id] = k
	}
	return out
}

// Lookup returns the kind for id
func (t KindTable) Lookup(id int) (core.EventKind, bool) {
	k, ok := t[id]
	return k, ok
}

// Timestamp layouts seen in exported event logs
var recordTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.9999999Z",
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.9999999",
	"2006-01-02 15:04:05",
	"1/2/2006 3:04:05 PM",
	"01/02/2006 15:04:05",
}

// PowerShell ConvertTo-Json renders DateTime as /Date(1700000000000)/
var psDatePattern = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

// ParseTimestamp normalizes a raw log timestamp to UTC
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}

	if m := psDatePattern.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedRecord, raw)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	for _, layout := range recordTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	// Unix milliseconds
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 12 {
		return time.UnixMilli(ms).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedRecord, raw)
}

// RecordParser decodes raw entries using a kind table
type RecordParser struct {
	kinds KindTable
}

// NewRecordParser creates a parser; a nil table means DefaultKindTable
func NewRecordParser(kinds KindTable) *RecordParser {
	if kinds == nil {
		kinds = DefaultKindTable()
	}
	return &RecordParser{kinds: kinds}
}

// ParseRecord decodes entry with the default kind table
func ParseRecord(entry core.RawEntry, index int) (core.UsbLogEvent, error) {
	return NewRecordParser(nil).Parse(entry, index)
}

// Parse decodes one raw entry. index is the entry's position in its batch.
func (p *RecordParser) Parse(entry core.RawEntry, index int) (core.UsbLogEvent, error) {
	if entry.Unreadable != "" {
		return core.UsbLogEvent{}, fmt.Errorf("%w: %s", ErrMalformedRecord, entry.Unreadable)
	}

	kind, ok := p.kinds.Lookup(entry.EventID)
	if !ok {
		return core.UsbLogEvent{}, fmt.Errorf("%w: %d", ErrUnrecognizedEventID, entry.EventID)
	}

	timestamp, err := ParseTimestamp(entry.TimeCreated)
	if err != nil {
		return core.UsbLogEvent{}, err
	}

	descriptor := strings.TrimSpace(entry.Descriptor)
	if descriptor == "" && len(entry.Fields) == 0 {
		return core.UsbLogEvent{}, fmt.Errorf("%w: missing device descriptor", ErrMalformedRecord)
	}

	return core.UsbLogEvent{
		EventID:   entry.EventID,
		Kind:      kind,
		Timestamp: timestamp,
		RawSource: core.RawRef{
			Source:   entry.Source,
			RecordID: entry.RecordID,
			Index:    index,
		},
		Descriptor: descriptor,
		Fields:     entry.Fields,
		User:       strings.TrimSpace(entry.User),
		Computer:   strings.TrimSpace(entry.Computer),
		Provider:   strings.TrimSpace(entry.Provider),
		Channel:    strings.TrimSpace(entry.Channel),
	}, nil
}
