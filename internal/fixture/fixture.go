// Package fixture generates deterministic sample USB event batches for tests.
package fixture

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"DriveDecoder/core"
)

// Device is a sample physical device
type Device struct {
	Vendor string
	Model  string
	Serial string
}

// Devices are the sample devices every generated batch draws from
var Devices = []Device{
	{Vendor: "SanDisk", Model: "Cruzer Blade", Serial: "AA011234567890"},
	{Vendor: "Kingston", Model: "DataTraveler", Serial: "KS981234ABCD"},
	{Vendor: "Samsung", Model: "USB 3.0 Flash", Serial: "SM771234XYZ"},
	{Vendor: "Western Digital", Model: "My Passport", Serial: "WD556789PQRS"},
}

const (
	Provider = "Microsoft-Windows-DriverFrameworks-UserMode"
	Channel  = "System"
)

// Descriptor renders the USBSTOR instance path Windows logs for d
func (d Device) Descriptor() string {
	return fmt.Sprintf(`USBSTOR\Disk&Ven_%s&Prod_%s&Rev_1.00\%s&0`,
		strings.ReplaceAll(d.Vendor, " ", "_"),
		strings.ReplaceAll(d.Model, " ", "_"),
		d.Serial)
}

// Entry builds one raw entry for d
func Entry(d Device, eventID int, at time.Time) core.RawEntry {
	return core.RawEntry{
		EventID:     eventID,
		TimeCreated: at.UTC().Format(time.RFC3339Nano),
		Descriptor:  d.Descriptor(),
		Provider:    Provider,
		Channel:     Channel,
		Computer:    "WORKSTATION",
	}
}

// Generate returns n random insertion/removal entries within the 30 days
// before now. The same seed always yields the same batch.
func Generate(seed int64, n int, now time.Time) []core.RawEntry {
	r := rand.New(rand.NewSource(seed))
	entries := make([]core.RawEntry, 0, n)
	for i := 0; i < n; i++ {
		d := Devices[r.Intn(len(Devices))]
		eventID := 20001
		if r.Intn(2) == 1 {
			eventID = 20003
		}
		hoursAgo := r.Intn(720)
		e := Entry(d, eventID, now.Add(-time.Duration(hoursAgo)*time.Hour))
		e.RecordID = int64(i + 1)
		e.User = fmt.Sprintf(`WORKSTATION\User%d`, r.Intn(3)+1)
		e.Fields = map[string]string{
			"DriveLetter": fmt.Sprintf("%c:", 'E'+r.Intn(4)),
			"VolumeName":  "USB_" + strings.ToUpper(d.Vendor),
		}
		entries = append(entries, e)
	}
	return entries
}
