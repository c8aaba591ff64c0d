package core

import (
	"strings"
	"time"
)

// EventKind is the normalized classification of a USB log event
type EventKind int

const (
	// Insertion marks a device arrival
	Insertion EventKind = iota + 1
	// Removal marks a device departure
	Removal
)

// String returns the display name used in exports
func (k EventKind) String() string {
	switch k {
	case Insertion:
		return "Insertion"
	case Removal:
		return "Removal"
	default:
		return "Unknown"
	}
}

// ParseEventKind accepts "insertion"/"removal" in any case
func ParseEventKind(s string) (EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insertion", "insert":
		return Insertion, true
	case "removal", "remove":
		return Removal, true
	}
	return 0, false
}

// RawEntry is one log record as handed over by a log source, before decoding
type RawEntry struct {
	EventID     int               `json:"event_id"`
	TimeCreated string            `json:"time_created"`
	Descriptor  string            `json:"descriptor"`
	Fields      map[string]string `json:"fields,omitempty"`
	User        string            `json:"user,omitempty"`
	Computer    string            `json:"computer,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	RecordID    int64             `json:"record_id,omitempty"`
	Source      string            `json:"source,omitempty"`

	// Unreadable is set by a source for a record it found but could not
	// read (a broken JSON line, a bad CSV row). It decodes as malformed.
	Unreadable string `json:"-"`
}

// Field looks up a structured field by any of the given names, ignoring case
func (r RawEntry) Field(names ...string) string {
	for _, name := range names {
		if v, ok := r.Fields[name]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	for _, name := range names {
		for k, v := range r.Fields {
			if strings.EqualFold(k, name) && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// RawRef points back at the log entry an event was decoded from
type RawRef struct {
	Source   string `json:"source"`
	RecordID int64  `json:"record_id,omitempty"`
	Index    int    `json:"index"`
}

// UsbLogEvent is one decoded log record
type UsbLogEvent struct {
	EventID    int
	Kind       EventKind
	Timestamp  time.Time
	RawSource  RawRef
	Descriptor string
	Fields     map[string]string
	User       string
	Computer   string
	Provider   string
	Channel    string
}

// DeviceIdentity is the canonical, serial-keyed view of a physical device.
// Values are shared between timeline entries and never modified.
type DeviceIdentity struct {
	Vendor       string `json:"vendor"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	DeviceClass  string `json:"device_class,omitempty"`
	// Generated is set when Windows synthesized the instance ID because
	// the device reports no serial number
	Generated bool `json:"generated,omitempty"`
}

// TimelineEntry is one decoded, device-attributed event
type TimelineEntry struct {
	Device      *DeviceIdentity
	Kind        EventKind
	Timestamp   time.Time
	User        string
	DriveLetter string
	VolumeName  string
	EventID     int
	Computer    string
	Provider    string
	Channel     string
	Ref         RawRef
	Seq         int
}

// Serial returns the device serial, or "" for an entry without device
func (e TimelineEntry) Serial() string {
	if e.Device == nil {
		return ""
	}
	return e.Device.SerialNumber
}
