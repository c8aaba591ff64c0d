package timeline

import (
	"strings"

	"DriveDecoder/core"
)

// Filter returns the entries of the given kind; nil returns all entries
func (t *Timeline) Filter(kind *core.EventKind) []core.TimelineEntry {
	return FilterEntries(t.entries, kind)
}

// Search returns the entries whose vendor, model or serial contains text,
// ignoring case. An empty text matches everything.
func (t *Timeline) Search(text string) []core.TimelineEntry {
	return SearchEntries(t.entries, text)
}

// Query applies the kind filter and the search text together
func (t *Timeline) Query(kind *core.EventKind, text string) []core.TimelineEntry {
	return SearchEntries(FilterEntries(t.entries, kind), text)
}

// FilterEntries is Filter over an arbitrary entry slice
func FilterEntries(entries []core.TimelineEntry, kind *core.EventKind) []core.TimelineEntry {
	out := make([]core.TimelineEntry, 0, len(entries))
	for _, e := range entries {
		if kind == nil || e.Kind == *kind {
			out = append(out, e)
		}
	}
	return out
}

// SearchEntries is Search over an arbitrary entry slice
func SearchEntries(entries []core.TimelineEntry, text string) []core.TimelineEntry {
	needle := strings.ToLower(text)
	out := make([]core.TimelineEntry, 0, len(entries))
	for _, e := range entries {
		if needle == "" || matches(e.Device, needle) {
			out = append(out, e)
		}
	}
	return out
}

func matches(d *core.DeviceIdentity, needle string) bool {
	if d == nil {
		return false
	}
	return strings.Contains(strings.ToLower(d.Vendor), needle) ||
		strings.Contains(strings.ToLower(d.Model), needle) ||
		strings.Contains(strings.ToLower(d.SerialNumber), needle)
}
