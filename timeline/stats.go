package timeline

import "DriveDecoder/core"

// Stats are pure reductions over a set of entries
type Stats struct {
	Total         int `json:"total"`
	Insertions    int `json:"insertions"`
	Removals      int `json:"removals"`
	UniqueDevices int `json:"unique_devices"`
}

// Stats summarizes the whole timeline
func (t *Timeline) Stats() Stats {
	return Summarize(t.entries)
}

// Summarize counts entries by kind and distinct serial numbers
func Summarize(entries []core.TimelineEntry) Stats {
	serials := make(map[string]struct{})
	s := Stats{Total: len(entries)}
	for _, e := range entries {
		switch e.Kind {
		case core.Insertion:
			s.Insertions++
		case core.Removal:
			s.Removals++
		}
		serials[e.Serial()] = struct{}{}
	}
	s.UniqueDevices = len(serials)
	return s
}
