package timeline

import (
	"sort"
	"time"

	"DriveDecoder/core"
)

// Session is one physical connection interval of a device
type Session struct {
	Device    *core.DeviceIdentity
	Insertion core.TimelineEntry
	Removal   core.TimelineEntry
}

// Duration is the time between insertion and removal
func (s Session) Duration() time.Duration {
	return s.Removal.Timestamp.Sub(s.Insertion.Timestamp)
}

// SessionSet is the result of pairing a timeline
type SessionSet struct {
	Closed []Session
	// Open holds insertions without a matching removal
	Open []core.TimelineEntry
	// Orphans holds removals without a preceding insertion
	Orphans []core.TimelineEntry
}

// Sessions pairs the timeline's insertions and removals per device
func (t *Timeline) Sessions() SessionSet {
	return PairSessions(t.entries)
}

// PairSessions walks each device's entries in ascending time and pairs every
// insertion with the next removal. An insertion followed by another
// insertion stays open. The input is not modified and the result does not
// depend on input order beyond the Seq tie-break.
func PairSessions(entries []core.TimelineEntry) SessionSet {
	groups := make(map[string][]core.TimelineEntry)
	var serials []string
	for _, e := range entries {
		serial := e.Serial()
		if _, ok := groups[serial]; !ok {
			serials = append(serials, serial)
		}
		groups[serial] = append(groups[serial], e)
	}
	sort.Strings(serials)

	var set SessionSet
	for _, serial := range serials {
		group := groups[serial]
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.Before(group[j].Timestamp)
			}
			return group[i].Seq < group[j].Seq
		})

		var pending *core.TimelineEntry
		for i := range group {
			e := group[i]
			switch e.Kind {
			case core.Insertion:
				if pending != nil {
					set.Open = append(set.Open, *pending)
				}
				pending = &group[i]
			case core.Removal:
				if pending == nil {
					set.Orphans = append(set.Orphans, e)
					continue
				}
				set.Closed = append(set.Closed, Session{
					Device:    pending.Device,
					Insertion: *pending,
					Removal:   e,
				})
				pending = nil
			}
		}
		if pending != nil {
			set.Open = append(set.Open, *pending)
		}
	}
	return set
}
