package decoder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DriveDecoder/core"
	"DriveDecoder/internal/fixture"
)

type failingSource struct{}

func (failingSource) Name() string                      { return "broken.evtx" }
func (failingSource) Entries() ([]core.RawEntry, error) { return nil, errors.New("bad chunk header") }

func TestScanCollectsDiagnostics(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []core.RawEntry{
		fixture.Entry(fixture.Devices[0], 20001, at),
		{EventID: 4624, TimeCreated: at.Format(time.RFC3339), Descriptor: "logon"},
		{EventID: 20003, TimeCreated: "not a time", Descriptor: "Serial: AA1"},
		{EventID: 20003, TimeCreated: at.Format(time.RFC3339), Descriptor: "no identity here"},
		fixture.Entry(fixture.Devices[0], 20003, at.Add(5*time.Minute)),
	}

	res, err := Scan(Entries("System.evtx", entries))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Decoded())
	require.Len(t, res.Diagnostics, 3)

	assert.Equal(t, 1, res.Diagnostics[0].Index)
	assert.ErrorIs(t, res.Diagnostics[0].Err, ErrUnrecognizedEventID)
	assert.Equal(t, 4624, res.Diagnostics[0].EventID)
	assert.ErrorIs(t, res.Diagnostics[1].Err, ErrMalformedRecord)
	assert.ErrorIs(t, res.Diagnostics[2].Err, ErrUnresolvableIdentity)
	assert.Equal(t, "System.evtx", res.Diagnostics[2].Source)

	assert.Equal(t,
		"2 of 5 entries decoded, 3 skipped (reasons: malformed record: 1, unrecognized event id: 1, unresolvable identity: 1)",
		res.Summary())
	assert.Len(t, res.Devices, 1)
}

func TestScanEmptySource(t *testing.T) {
	res, err := Scan(Entries("empty", nil))
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, 0, res.Timeline.Len())
	assert.Empty(t, res.Diagnostics)
}

func TestScanUnreadableSource(t *testing.T) {
	_, err := Scan(failingSource{})
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "broken.evtx", decodeErr.Source)
}

func TestScanClosedSession(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	res := ScanEntries("fixture", []core.RawEntry{
		{EventID: 20001, TimeCreated: at.Format(time.RFC3339), Descriptor: "Serial: AA1"},
		{EventID: 20003, TimeCreated: at.Add(5 * time.Minute).Format(time.RFC3339), Descriptor: "Serial: AA1"},
	})

	sessions := res.Timeline.Sessions()
	require.Len(t, sessions.Closed, 1)
	assert.Empty(t, sessions.Open)
	assert.Empty(t, sessions.Orphans)
	assert.Equal(t, "AA1", sessions.Closed[0].Device.SerialNumber)
	assert.Equal(t, 5*time.Minute, sessions.Closed[0].Duration())
}

func TestScanOrphanRemoval(t *testing.T) {
	res := ScanEntries("fixture", []core.RawEntry{
		{EventID: 20003, TimeCreated: "2024-03-01T09:00:00Z", Descriptor: "Serial: BB2"},
	})

	sessions := res.Timeline.Sessions()
	assert.Empty(t, sessions.Closed)
	assert.Empty(t, sessions.Open)
	require.Len(t, sessions.Orphans, 1)
	assert.Equal(t, "BB2", sessions.Orphans[0].Serial())
}

func TestScanSharesIdentityAcrossEntries(t *testing.T) {
	entries := fixture.Generate(7, 40, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	res := ScanEntries("fixture", entries)

	require.Equal(t, 40, res.Decoded())
	bySerial := make(map[string]*core.DeviceIdentity)
	for _, e := range res.Timeline.Entries() {
		if d, ok := bySerial[e.Serial()]; ok {
			assert.Same(t, d, e.Device)
		}
		bySerial[e.Serial()] = e.Device
	}
	assert.Equal(t, len(bySerial), res.Timeline.Stats().UniqueDevices)
}

func TestScanWithExtendedKinds(t *testing.T) {
	entries := []core.RawEntry{
		{EventID: 2003, TimeCreated: "2024-03-01T09:00:00Z", Descriptor: "Serial: AA1"},
	}
	assert.Equal(t, 0, ScanEntries("x", entries).Decoded())

	res := ScanEntries("x", entries, WithKinds(DefaultKindTable().With(map[int]core.EventKind{2003: core.Insertion})))
	assert.Equal(t, 1, res.Decoded())
}
