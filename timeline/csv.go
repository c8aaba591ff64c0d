package timeline

import (
	"strconv"
	"strings"

	"DriveDecoder/core"
)

// CSVTimeFormat renders timestamps as ISO-8601 UTC with milliseconds
const CSVTimeFormat = "2006-01-02T15:04:05.000Z"

// CSVHeader is the fixed column order of the export
var CSVHeader = []string{
	"Timestamp",
	"Event Kind",
	"Vendor",
	"Model",
	"Serial",
	"Drive Letter",
	"User",
	"Event ID",
}

// ToCSV renders the whole timeline
func (t *Timeline) ToCSV() string {
	return ToCSV(t.entries)
}

// ToCSV renders entries as CSV: header first, every field double-quoted,
// quotes doubled, rows joined by "\n" without a trailing newline.
// encoding/csv only quotes fields that need it, so the rows are built here.
func ToCSV(entries []core.TimelineEntry) string {
	var b strings.Builder
	b.WriteString(CSVLine(CSVHeader))
	for _, e := range entries {
		b.WriteByte('\n')
		b.WriteString(CSVLine(CSVRecord(e)))
	}
	return b.String()
}

// CSVRecord returns the export fields of one entry
func CSVRecord(e core.TimelineEntry) []string {
	vendor, model, serial := "", "", ""
	if e.Device != nil {
		vendor, model, serial = e.Device.Vendor, e.Device.Model, e.Device.SerialNumber
	}
	return []string{
		e.Timestamp.UTC().Format(CSVTimeFormat),
		e.Kind.String(),
		vendor,
		model,
		serial,
		e.DriveLetter,
		e.User,
		strconv.Itoa(e.EventID),
	}
}

// CSVLine quotes every field and joins them with commas
func CSVLine(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ",")
}
