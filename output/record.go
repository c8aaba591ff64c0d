package output

import (
	"DriveDecoder/core"
	"DriveDecoder/timeline"
)

// Record is the flat JSON form of a timeline entry
type Record struct {
	Timestamp   string `json:"timestamp"`
	EventKind   string `json:"event_kind"`
	EventID     int    `json:"event_id"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Serial      string `json:"serial"`
	VendorID    string `json:"vendor_id,omitempty"`
	ProductID   string `json:"product_id,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
	Generated   bool   `json:"generated_serial,omitempty"`
	DriveLetter string `json:"drive_letter,omitempty"`
	VolumeName  string `json:"volume_name,omitempty"`
	User        string `json:"user,omitempty"`
	Computer    string `json:"computer,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Channel     string `json:"channel,omitempty"`
	Source      string `json:"source,omitempty"`
	RecordID    int64  `json:"record_id,omitempty"`
}

// NewRecord flattens e
func NewRecord(e core.TimelineEntry) Record {
	r := Record{
		Timestamp:   e.Timestamp.UTC().Format(timeline.CSVTimeFormat),
		EventKind:   e.Kind.String(),
		EventID:     e.EventID,
		DriveLetter: e.DriveLetter,
		VolumeName:  e.VolumeName,
		User:        e.User,
		Computer:    e.Computer,
		Provider:    e.Provider,
		Channel:     e.Channel,
		Source:      e.Ref.Source,
		RecordID:    e.Ref.RecordID,
	}
	if d := e.Device; d != nil {
		r.Vendor = d.Vendor
		r.Model = d.Model
		r.Serial = d.SerialNumber
		r.VendorID = d.VendorID
		r.ProductID = d.ProductID
		r.DeviceClass = d.DeviceClass
		r.Generated = d.Generated
	}
	return r
}

// NewRecords flattens entries
func NewRecords(entries []core.TimelineEntry) []Record {
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewRecord(e))
	}
	return out
}
