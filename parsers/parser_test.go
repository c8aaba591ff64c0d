package parsers

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DriveDecoder/core"
	"DriveDecoder/decoder"
)

const xmlExport = `<?xml version="1.0" encoding="utf-8"?>
<Events>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-UserPnp" Guid="{96F4A050-7E31-453C-88BE-9634F4E02139}"/>
    <EventID>20001</EventID>
    <TimeCreated SystemTime="2024-03-01T10:00:00.1234567Z"/>
    <EventRecordID>4711</EventRecordID>
    <Channel>System</Channel>
    <Computer>WORKSTATION</Computer>
    <Security UserID="S-1-5-18"/>
  </System>
  <UserData>
    <InstallDeviceID xmlns="http://manifests.microsoft.com/win/2004/08/windows/userpnp">
      <DriverName>disk.inf</DriverName>
      <DeviceInstanceID>USBSTOR\Disk&amp;Ven_SanDisk&amp;Prod_Cruzer_Blade&amp;Rev_1.00\AA011234567890&amp;0</DeviceInstanceID>
    </InstallDeviceID>
  </UserData>
</Event>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-UserPnp"/>
    <EventID>20003</EventID>
    <TimeCreated SystemTime="2024-03-01T10:05:00.1234567Z"/>
    <EventRecordID>4712</EventRecordID>
    <Channel>System</Channel>
    <Computer>WORKSTATION</Computer>
  </System>
  <EventData>
    <Data Name="DeviceInstanceId">USBSTOR\Disk&amp;Ven_SanDisk&amp;Prod_Cruzer_Blade&amp;Rev_1.00\AA011234567890&amp;0</Data>
  </EventData>
</Event>
</Events>`

const psJSONExport = `[
  {
    "Id": 20001,
    "TimeCreated": "/Date(1709287200000)/",
    "RecordId": 17,
    "MachineName": "WORKSTATION",
    "ProviderName": "Microsoft-Windows-UserPnp",
    "LogName": "System",
    "UserId": {"BinaryLength": 12, "AccountDomainSid": null, "Value": "S-1-5-18"},
    "Message": "Driver Management concluded the process to install driver disk.inf for Device Instance ID USBSTOR\\DISK&VEN_KINGSTON&PROD_DATATRAVELER&REV_1.00\\KS981234ABCD&0 with the following status: 0x0.",
    "Properties": [{"Value": "disk.inf"}, {"Value": "USBSTOR\\DISK&VEN_KINGSTON&PROD_DATATRAVELER&REV_1.00\\KS981234ABCD&0"}]
  }
]`

const appJSONEvent = `{
  "id": "evt-1",
  "eventType": "insertion",
  "timestamp": "2024-03-01T10:00:00.000Z",
  "device": {
    "vendor": "SanDisk",
    "model": "Cruzer Blade",
    "serialNumber": "AA011234567890",
    "deviceClass": "Mass Storage",
    "volumeName": "USB_SANDISK",
    "driveLetter": "E:"
  },
  "eventLog": {"eventId": 20001, "source": "Microsoft-Windows-DriverFrameworks-UserMode", "logName": "System"},
  "user": "WORKSTATION\\User1"
}`

const jsonLines = `{"event_id": 20001, "time_created": "2024-03-01T10:00:00Z", "descriptor": "Serial: AA1", "record_id": 1}
{"event_id": 20003, "time_created": "2024-03-01T10:05:00Z", "descriptor": "Serial: AA1", "record_id": 2}
{"event_id": 20001, "time_created": `

const eventViewerCSV = `Level,Date and Time,Source,Event ID,Task Category
Information,3/1/2024 10:00:00 AM,Microsoft-Windows-UserPnp,20001,(7005),"Driver Management concluded the process to install driver disk.inf for Device Instance ID USBSTOR\DISK&VEN_SANDISK&PROD_CRUZER_BLADE&REV_1.00\AA011234567890&0 with the following status: 0x0."
Information,3/1/2024 10:02:00 AM,Microsoft-Windows-Kernel-General,16,None,"The access history in hive was cleared."
Information,3/1/2024 10:05:00 AM,Microsoft-Windows-UserPnp,20003,(7005),"Driver Management has concluded the process to remove Device Instance ID USBSTOR\DISK&VEN_SANDISK&PROD_CRUZER_BLADE&REV_1.00\AA011234567890&0"
`

func memFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

func TestGetParserForFile(t *testing.T) {
	fs := memFs(t, map[string]string{
		"/logs/System.evtx": "ElfFile\x00rest",
		"/logs/System":      "ElfFile\x00\x00\x00\x00\x00",
		"/logs/events.xml":  xmlExport,
		"/logs/export":      xmlExport,
		"/logs/dump":        psJSONExport,
		"/logs/app.jsonl":   jsonLines,
		"/logs/viewer.txt":  eventViewerCSV,
		"/logs/viewer.csv":  eventViewerCSV,
		"/logs/notes.txt":   "nothing to see",
		"/logs/memo.txt":    "collected Monday, from the reception PC",
	})

	tests := []struct {
		path string
		want Parser
	}{
		{"/logs/System.evtx", &EvtxParser{}},
		{"/logs/System", &EvtxParser{}},
		{"/logs/events.xml", &XMLEventParser{}},
		{"/logs/export", &XMLEventParser{}},
		{"/logs/dump", &JSONEventParser{}},
		{"/logs/app.jsonl", &JSONEventParser{}},
		{"/logs/viewer.txt", &CSVEventParser{}},
		{"/logs/viewer.csv", &CSVEventParser{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p, err := GetParserForFile(fs, tt.path)
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
			assert.True(t, p.CanParse(fs, tt.path))
		})
	}

	for _, path := range []string{"/logs/notes.txt", "/logs/memo.txt"} {
		_, err := GetParserForFile(fs, path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, path)
	}
}

func TestXMLEventParser(t *testing.T) {
	fs := memFs(t, map[string]string{"/System.xml": xmlExport})

	entries, err := (&XMLEventParser{}).Parse(fs, "/System.xml")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, 20001, first.EventID)
	assert.Equal(t, "2024-03-01T10:00:00.1234567Z", first.TimeCreated)
	assert.Equal(t, int64(4711), first.RecordID)
	assert.Equal(t, "Microsoft-Windows-UserPnp", first.Provider)
	assert.Equal(t, "System", first.Channel)
	assert.Equal(t, "WORKSTATION", first.Computer)
	assert.Equal(t, `NT AUTHORITY\SYSTEM`, first.User)
	assert.Equal(t, "disk.inf", first.Fields["DriverName"])
	assert.Equal(t,
		`USBSTOR\Disk&Ven_SanDisk&Prod_Cruzer_Blade&Rev_1.00\AA011234567890&0 | DriverName: disk.inf`,
		first.Descriptor)

	assert.Equal(t, 20003, entries[1].EventID)
	assert.Equal(t, "", entries[1].User)
}

func TestXMLEventParserMalformed(t *testing.T) {
	fs := memFs(t, map[string]string{"/broken.xml": "<Events><Event id=>broken</Event></Events>"})
	_, err := (&XMLEventParser{}).Parse(fs, "/broken.xml")
	assert.ErrorIs(t, err, ErrParsingFailed)
}

func TestJSONEventParserPowerShell(t *testing.T) {
	fs := memFs(t, map[string]string{"/events.json": psJSONExport})

	entries, err := (&JSONEventParser{}).Parse(fs, "/events.json")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, 20001, e.EventID)
	assert.Equal(t, "/Date(1709287200000)/", e.TimeCreated)
	assert.Equal(t, int64(17), e.RecordID)
	assert.Equal(t, `NT AUTHORITY\SYSTEM`, e.User)
	assert.Equal(t, "disk.inf", e.Fields["Data0"])
	assert.Contains(t, e.Descriptor, `USBSTOR\DISK&VEN_KINGSTON&PROD_DATATRAVELER&REV_1.00\KS981234ABCD&0`)

	event, err := decoder.ParseRecord(e, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), event.Timestamp)
	id, err := decoder.ExtractIdentity(event.Descriptor, event.Fields)
	require.NoError(t, err)
	assert.Equal(t, "KS981234ABCD", id.SerialNumber)
	assert.Equal(t, "KINGSTON", id.Vendor)
}

func TestJSONEventParserAppEvent(t *testing.T) {
	fs := memFs(t, map[string]string{"/event.json": appJSONEvent})

	entries, err := (&JSONEventParser{}).Parse(fs, "/event.json")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, 20001, e.EventID)
	assert.Equal(t, "Microsoft-Windows-DriverFrameworks-UserMode", e.Provider)
	assert.Equal(t, `WORKSTATION\User1`, e.User)
	assert.Equal(t, "E:", e.Fields["driveLetter"])

	res := decoder.ScanEntries("event.json", entries)
	require.Equal(t, 1, res.Decoded())
	entry := res.Timeline.Entries()[0]
	assert.Equal(t, "AA011234567890", entry.Serial())
	assert.Equal(t, "Mass Storage", entry.Device.DeviceClass)
	assert.Equal(t, "E:", entry.DriveLetter)
	assert.Equal(t, "USB_SANDISK", entry.VolumeName)
	assert.Equal(t, "Microsoft-Windows-DriverFrameworks-UserMode", entry.Provider)
	assert.Equal(t, "System", entry.Channel)
}

func TestJSONEventParserLines(t *testing.T) {
	fs := memFs(t, map[string]string{"/events.jsonl": jsonLines})

	entries, err := (&JSONEventParser{}).Parse(fs, "/events.jsonl")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Serial: AA1", entries[0].Descriptor)
	assert.Equal(t, int64(2), entries[1].RecordID)
	assert.Equal(t, "line 3 is not a valid JSON object", entries[2].Unreadable)
}

func TestJSONEventParserReportsUnreadableRecords(t *testing.T) {
	tests := []struct {
		name    string
		content string
		total   int
	}{
		{
			name: "truncated line",
			content: `{"event_id": 20001, "time_created": "2024-03-01T10:00:00Z", "descriptor": "Serial: AA1"}
{"event_id": 20003, "time_cre`,
			total: 2,
		},
		{
			name:    "non-object array elements",
			content: `[{"event_id": 20001, "time_created": "2024-03-01T10:00:00Z", "descriptor": "Serial: AA1"}, "garbage", 42]`,
			total:   3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memFs(t, map[string]string{"/events.json": tt.content})

			res, err := decoder.Scan(NewFileSource(fs, "/events.json"))
			require.NoError(t, err)
			assert.Equal(t, tt.total, res.Total)
			assert.Equal(t, 1, res.Decoded())
			require.Len(t, res.Diagnostics, tt.total-1)
			for _, d := range res.Diagnostics {
				assert.ErrorIs(t, d.Err, decoder.ErrMalformedRecord)
				assert.Equal(t, "events.json", d.Source)
			}
			assert.Contains(t, res.Summary(), "malformed record")
		})
	}
}

func TestJSONEventParserEmpty(t *testing.T) {
	fs := memFs(t, map[string]string{"/empty.json": "  \n"})
	entries, err := (&JSONEventParser{}).Parse(fs, "/empty.json")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCSVEventParserEventViewer(t *testing.T) {
	fs := memFs(t, map[string]string{"/viewer.csv": eventViewerCSV})

	entries, err := (&CSVEventParser{}).Parse(fs, "/viewer.csv")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	first := entries[0]
	assert.Equal(t, 20001, first.EventID)
	assert.Equal(t, "3/1/2024 10:00:00 AM", first.TimeCreated)
	assert.Equal(t, "Microsoft-Windows-UserPnp", first.Provider)
	assert.Equal(t, "Information", first.Fields["Level"])
	assert.Equal(t, "(7005)", first.Fields["Task Category"])
	assert.Contains(t, first.Descriptor, `Device Instance ID USBSTOR\DISK&VEN_SANDISK`)
}

func TestCSVEventParserExportCsv(t *testing.T) {
	content := "\xEF\xBB\xBF" + `"Id";"TimeCreated";"MachineName";"SerialNumber";"Vendor";"Model"
"20003";"2024-03-01 10:05:00";"WORKSTATION";"WD556789PQRS";"Western Digital";"My Passport"
`
	fs := memFs(t, map[string]string{"/export.csv": content})

	entries, err := (&CSVEventParser{}).Parse(fs, "/export.csv")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, 20003, e.EventID)
	assert.Equal(t, "WORKSTATION", e.Computer)
	assert.Equal(t, map[string]string{
		"SerialNumber": "WD556789PQRS",
		"Vendor":       "Western Digital",
		"Model":        "My Passport",
	}, e.Fields)
}

func TestCSVEventParserNoEventID(t *testing.T) {
	fs := memFs(t, map[string]string{"/other.csv": "a,b\n1,2\n"})
	_, err := (&CSVEventParser{}).Parse(fs, "/other.csv")
	assert.ErrorIs(t, err, ErrParsingFailed)
}

func TestFileSourceScan(t *testing.T) {
	fs := memFs(t, map[string]string{
		"/cases/System.xml": xmlExport,
		"/cases/viewer.csv": eventViewerCSV,
		"/cases/notes.txt":  "nothing to see",
	})

	res, err := decoder.Scan(NewFileSource(fs, "/cases/System.xml"))
	require.NoError(t, err)
	assert.Equal(t, "System.xml", res.Source)
	assert.Equal(t, 2, res.Decoded())
	sessions := res.Timeline.Sessions()
	require.Len(t, sessions.Closed, 1)
	assert.Equal(t, 5*time.Minute, sessions.Closed[0].Duration())
	assert.Equal(t, "viewer.csv", NewFileSource(fs, "/cases/viewer.csv").Name())

	res, err = decoder.Scan(NewFileSource(fs, "/cases/viewer.csv"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Decoded())
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 16, res.Diagnostics[0].EventID)
	assert.Equal(t, "viewer.csv", res.Diagnostics[0].Source)

	entries := res.Timeline.Entries()
	assert.Equal(t, core.Removal, entries[0].Kind)
	assert.Equal(t, "AA011234567890", entries[0].Serial())

	_, err = decoder.Scan(NewFileSource(fs, "/cases/notes.txt"))
	var decodeErr *decoder.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
