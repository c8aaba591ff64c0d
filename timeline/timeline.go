// Package timeline builds the ordered, device-attributed USB event timeline
// and the read-only views (filter, search, sessions, statistics, CSV) over it.
package timeline

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"DriveDecoder/core"
)

// Pair is a decoded event together with its resolved device
type Pair struct {
	Event  core.UsbLogEvent
	Device *core.DeviceIdentity
}

// Timeline is a finalized, read-only sequence of entries, most recent first
type Timeline struct {
	ID      string
	Created time.Time
	entries []core.TimelineEntry
}

// Build orders pairs by timestamp descending. Pairs are expected in original
// log order; equal timestamps keep that order.
func Build(pairs []Pair) *Timeline {
	entries := make([]core.TimelineEntry, 0, len(pairs))
	for i, p := range pairs {
		entries = append(entries, core.TimelineEntry{
			Device:      p.Device,
			Kind:        p.Event.Kind,
			Timestamp:   p.Event.Timestamp,
			User:        p.Event.User,
			DriveLetter: driveLetter(p.Event),
			VolumeName:  fieldValue(p.Event.Fields, "VolumeName", "VolumeLabel"),
			EventID:     p.Event.EventID,
			Computer:    p.Event.Computer,
			Provider:    p.Event.Provider,
			Channel:     p.Event.Channel,
			Ref:         p.Event.RawSource,
			Seq:         i,
		})
	}
	return fromEntries(entries)
}

// Empty returns a timeline without entries
func Empty() *Timeline {
	return fromEntries(nil)
}

func fromEntries(entries []core.TimelineEntry) *Timeline {
	sortDescending(entries)
	return &Timeline{
		ID:      uuid.NewString(),
		Created: time.Now().UTC(),
		entries: entries,
	}
}

func sortDescending(entries []core.TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

// Merge reconciles timelines decoded independently (for example from
// several machines). Devices are matched by serial number; the identity
// from the earliest timeline wins. Original order is timelines in argument
// order, each in its own original order.
func Merge(timelines ...*Timeline) *Timeline {
	devices := make(map[string]*core.DeviceIdentity)
	var merged []core.TimelineEntry

	for _, tl := range timelines {
		if tl == nil {
			continue
		}
		own := append([]core.TimelineEntry(nil), tl.entries...)
		sort.SliceStable(own, func(i, j int) bool { return own[i].Seq < own[j].Seq })

		for _, e := range own {
			serial := e.Serial()
			if d, ok := devices[serial]; ok {
				e.Device = d
			} else {
				devices[serial] = e.Device
			}
			e.Seq = len(merged)
			merged = append(merged, e)
		}
	}
	return fromEntries(merged)
}

// Len returns the number of entries
func (t *Timeline) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the ordered entries
func (t *Timeline) Entries() []core.TimelineEntry {
	return append([]core.TimelineEntry(nil), t.entries...)
}

// Devices returns the distinct identities, most recently active first
func (t *Timeline) Devices() []*core.DeviceIdentity {
	seen := make(map[string]bool)
	var out []*core.DeviceIdentity
	for _, e := range t.entries {
		if seen[e.Serial()] {
			continue
		}
		seen[e.Serial()] = true
		out = append(out, e.Device)
	}
	return out
}

func driveLetter(ev core.UsbLogEvent) string {
	if v := fieldValue(ev.Fields, "DriveLetter", "drive_letter", "MountPoint"); v != "" {
		return normalizeDrive(v)
	}
	if m := drivePattern.FindStringSubmatch(ev.Descriptor); m != nil {
		return normalizeDrive(m[1])
	}
	return ""
}

func fieldValue(fields map[string]string, names ...string) string {
	return core.RawEntry{Fields: fields}.Field(names...)
}
