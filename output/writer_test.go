package output

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DriveDecoder/core"
	"DriveDecoder/decoder"
	"DriveDecoder/internal/fixture"
	"DriveDecoder/timeline"
)

func sampleTimeline(t *testing.T) *timeline.Timeline {
	t.Helper()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sandisk := fixture.Devices[0]
	kingston := fixture.Devices[1]

	insert := fixture.Entry(sandisk, 20001, at)
	insert.Fields = map[string]string{"DriveLetter": "E:", "VolumeName": "USB_SANDISK"}
	insert.User = `WORKSTATION\User1`

	res := decoder.ScanEntries("System.evtx", []core.RawEntry{
		insert,
		fixture.Entry(sandisk, 20003, at.Add(5*time.Minute)),
		fixture.Entry(kingston, 20001, at.Add(time.Hour)),
		fixture.Entry(kingston, 20003, at.Add(-time.Hour)),
	})
	require.Equal(t, 4, res.Decoded())
	return res.Timeline
}

func TestGetWriter(t *testing.T) {
	fs := afero.NewMemMapFs()

	w, err := GetWriter(fs, "CSV", "/out.csv", "")
	require.NoError(t, err)
	assert.IsType(t, &CSVWriter{}, w)
	require.NoError(t, w.Close())

	w, err = GetWriter(fs, "jsonl", "/out.jsonl", "")
	require.NoError(t, err)
	assert.IsType(t, &JSONLWriter{}, w)
	require.NoError(t, w.Close())

	_, err = GetWriter(fs, "xlsx", "/out.xlsx", "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDefaultFileName(t *testing.T) {
	day := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "usb-forensics-2024-03-01.csv", DefaultFileName("csv", day))
	assert.Equal(t, "usb-forensics-2024-03-01.jsonl", DefaultFileName("JSONL", day))
	assert.Equal(t, "usb-forensics-2024-03-01.db", DefaultFileName("sqlite", day))
}

func TestCSVWriterMatchesToCSV(t *testing.T) {
	tl := sampleTimeline(t)
	fs := afero.NewMemMapFs()

	w, err := NewCSVWriter(fs, "/export.csv")
	require.NoError(t, err)
	entries := tl.Entries()
	require.NoError(t, w.Write(entries[:1]))
	require.NoError(t, w.Write(entries[1:]))
	require.NoError(t, w.Close())

	got, err := afero.ReadFile(fs, "/export.csv")
	require.NoError(t, err)
	assert.Equal(t, tl.ToCSV(), string(got))
	assert.False(t, bytes.HasSuffix(got, []byte("\n")))
}

func TestCSVWriterEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewCSVWriter(fs, "/empty.csv")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := afero.ReadFile(fs, "/empty.csv")
	require.NoError(t, err)
	assert.Equal(t, `"Timestamp","Event Kind","Vendor","Model","Serial","Drive Letter","User","Event ID"`, string(got))
}

func TestJSONLWriter(t *testing.T) {
	tl := sampleTimeline(t)
	fs := afero.NewMemMapFs()

	w, err := NewJSONLWriter(fs, "/export.jsonl")
	require.NoError(t, err)
	require.NoError(t, w.Write(tl.Entries()))
	require.NoError(t, w.Close())

	f, err := fs.Open("/export.jsonl")
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		records = append(records, r)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 4)

	// most recent first: the Kingston insertion at 11:00
	assert.Equal(t, "Kingston", records[0].Vendor)
	assert.Equal(t, "Insertion", records[0].EventKind)

	last := records[3]
	assert.Equal(t, "Kingston", last.Vendor)
	assert.Equal(t, "Removal", last.EventKind)

	sandisk := records[2]
	assert.Equal(t, "2024-03-01T10:00:00.000Z", sandisk.Timestamp)
	assert.Equal(t, "AA011234567890", sandisk.Serial)
	assert.Equal(t, "Mass Storage", sandisk.DeviceClass)
	assert.Equal(t, "E:", sandisk.DriveLetter)
	assert.Equal(t, "USB_SANDISK", sandisk.VolumeName)
	assert.Equal(t, "System.evtx", sandisk.Source)
	assert.Equal(t, fixture.Provider, sandisk.Provider)
	assert.Equal(t, fixture.Channel, sandisk.Channel)
}

func TestSQLiteWriter(t *testing.T) {
	tl := sampleTimeline(t)
	dbPath := filepath.Join(t.TempDir(), "usb.db")

	w, err := NewSQLiteWriter(dbPath, tl.ID)
	require.NoError(t, err)
	require.NoError(t, w.Write(tl.Entries()))
	require.NoError(t, w.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	count := func(query string, args ...interface{}) int {
		var n int
		require.NoError(t, db.QueryRow(query, args...).Scan(&n))
		return n
	}

	assert.Equal(t, 1, count("SELECT COUNT(*) FROM scans WHERE scan_id = ?", tl.ID))
	assert.Equal(t, 2, count("SELECT COUNT(*) FROM devices"))
	assert.Equal(t, 4, count("SELECT COUNT(*) FROM events WHERE scan_id = ?", tl.ID))
	assert.Equal(t, 2, count("SELECT COUNT(*) FROM events WHERE event_kind = 'Insertion'"))
	assert.Equal(t, 4, count("SELECT COUNT(*) FROM events WHERE provider = ? AND channel = ?",
		fixture.Provider, fixture.Channel))

	var firstSeen, lastSeen, vendor string
	require.NoError(t, db.QueryRow(
		"SELECT vendor, first_seen, last_seen FROM devices WHERE serial = ?", "AA011234567890",
	).Scan(&vendor, &firstSeen, &lastSeen))
	assert.Equal(t, "SanDisk", vendor)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", firstSeen)
	assert.Equal(t, "2024-03-01T10:05:00.000Z", lastSeen)

	// SanDisk: one closed session; Kingston: removal before insertion
	assert.Equal(t, 1, count("SELECT COUNT(*) FROM sessions WHERE state = ?", SessionClosed))
	assert.Equal(t, 1, count("SELECT COUNT(*) FROM sessions WHERE state = ?", SessionOrphan))
	assert.Equal(t, 1, count("SELECT COUNT(*) FROM sessions WHERE state = ?", SessionOpen))

	var duration float64
	require.NoError(t, db.QueryRow(
		"SELECT duration_seconds FROM sessions WHERE state = ?", SessionClosed,
	).Scan(&duration))
	assert.Equal(t, 300.0, duration)
}

func TestSQLiteWriterUsesGivenSessions(t *testing.T) {
	tl := sampleTimeline(t)
	dbPath := filepath.Join(t.TempDir(), "usb.db")

	w, err := GetWriter(nil, "sqlite", dbPath, tl.ID)
	require.NoError(t, err)
	sw, ok := w.(SessionWriter)
	require.True(t, ok)

	// only insertions are written, the sessions still come from the whole timeline
	insertion := core.Insertion
	sw.SetSessions(tl.Sessions())
	require.NoError(t, w.Write(tl.Filter(&insertion)))
	require.NoError(t, w.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	states := map[string]int{}
	rows, err := db.Query("SELECT state, COUNT(*) FROM sessions GROUP BY state")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		require.NoError(t, rows.Scan(&state, &n))
		states[state] = n
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[string]int{SessionClosed: 1, SessionOpen: 1, SessionOrphan: 1}, states)
}

func TestJSONLWriterEntryWithoutDevice(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := NewJSONLWriter(fs, "/export.jsonl")
	require.NoError(t, err)
	require.NoError(t, w.Write([]core.TimelineEntry{{Kind: core.Removal, EventID: 20003}}))
	require.NoError(t, w.Close())

	got, err := afero.ReadFile(fs, "/export.jsonl")
	require.NoError(t, err)
	var r Record
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(got), &r))
	assert.Equal(t, "Removal", r.EventKind)
	assert.Empty(t, r.Serial)
}
