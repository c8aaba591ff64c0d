package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DriveDecoder/app"
	"DriveDecoder/internal/processor"
	"DriveDecoder/timeline"
)

const eventLog = `{"event_id": 20001, "time_created": "2024-03-01T10:00:00Z", "descriptor": "Vendor: SanDisk | Model: Cruzer | Serial: AA1", "record_id": 1}
{"event_id": 20003, "time_created": "2024-03-01T10:05:00Z", "descriptor": "Vendor: SanDisk | Model: Cruzer | Serial: AA1", "record_id": 2}
{"event_id": 20003, "time_created": "2024-03-01T09:00:00Z", "descriptor": "Vendor: Kingston | Model: DataTraveler | Serial: BB2", "record_id": 3}
{"event_id": 20001, "time_created": "2024-03-01T12:00:00Z", "descriptor": "Vendor: Kingston | Model: DataTraveler | Serial: BB2", "record_id": 4}`

func writeLog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "system.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(eventLog), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestScanCommandCSV(t *testing.T) {
	input := writeLog(t)
	out := filepath.Join(t.TempDir(), "usb.csv")

	stdout, err := run(t, "scan", input, "-o", out, "--silent")
	require.NoError(t, err)
	assert.Contains(t, stdout, "4 of 4 entries decoded, 0 skipped")
	assert.Contains(t, stdout, "Wrote 4 entries to "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, timeline.CSVLine(timeline.CSVHeader), lines[0])
}

func TestScanCommandJSONStatus(t *testing.T) {
	input := writeLog(t)
	out := filepath.Join(t.TempDir(), "usb.jsonl")

	stdout, err := run(t, "scan", input, "-o", out, "-f", "jsonl", "--kind", "removal", "--json-status", "--silent")
	require.NoError(t, err)

	var status app.ProcessStatus
	require.NoError(t, json.Unmarshal([]byte(stdout), &status))
	assert.Equal(t, app.StatusSuccess, status.Status)
	assert.Equal(t, 4, status.Decoded)
	assert.Equal(t, 2, status.Written)
	assert.Equal(t, out, status.Output)
}

func TestScanCommandConfigFile(t *testing.T) {
	input := writeLog(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "from-config.jsonl")
	configPath := filepath.Join(dir, "drivedecoder.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(
		"inputs: ["+input+"]\nformat: jsonl\noutput: "+out+"\nsearch: kingston\nsilent: true\n"), 0644))

	_, err := run(t, "scan", "--config", configPath)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	// flags override the file
	_, err = run(t, "scan", "--config", configPath, "--search", "sandisk", "--format", "csv", "-o", out+".csv")
	require.NoError(t, err)
	data, err = os.ReadFile(out + ".csv")
	require.NoError(t, err)
	assert.Contains(t, string(data), "SanDisk")
	assert.NotContains(t, string(data), "Kingston")
}

func TestScanCommandErrors(t *testing.T) {
	_, err := run(t, "scan", "--silent")
	assert.ErrorIs(t, err, app.ErrInvalidInput)

	_, err = run(t, "scan", writeLog(t), "-f", "xlsx", "--silent")
	assert.ErrorIs(t, err, app.ErrUnsupportedFormat)
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestSessionsCommand(t *testing.T) {
	input := writeLog(t)

	stdout, err := run(t, "sessions", input, "--silent")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "STATE"))
	assert.Regexp(t, `^closed\s+AA1\s+SanDisk\s+Cruzer\s+2024-03-01T10:00:00.000Z\s+2024-03-01T10:05:00.000Z\s+5m0s$`, lines[1])
	assert.Regexp(t, `^open\s+BB2`, lines[2])
	assert.Regexp(t, `^orphan\s+BB2`, lines[3])

	stdout, err = run(t, "sessions", input, "--json", "--search", "sandisk", "--silent")
	require.NoError(t, err)
	var resp struct {
		Closed  []json.RawMessage `json:"closed"`
		Open    []json.RawMessage `json:"open"`
		Orphans []json.RawMessage `json:"orphans"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Len(t, resp.Closed, 1)
	assert.Empty(t, resp.Open)
	assert.Empty(t, resp.Orphans)
}

func TestStatsCommand(t *testing.T) {
	input := writeLog(t)

	stdout, err := run(t, "stats", input, "--json", "--silent")
	require.NoError(t, err)
	var stats timeline.Stats
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	assert.Equal(t, timeline.Stats{Total: 4, Insertions: 2, Removals: 2, UniqueDevices: 2}, stats)

	stdout, err = run(t, "stats", input, "--kind", "insertion", "--silent")
	require.NoError(t, err)
	assert.Regexp(t, `Total events:\s+2`, stdout)
	assert.Regexp(t, `Removals:\s+0`, stdout)
}

func TestApplyOptions(t *testing.T) {
	config := app.NewDefaultConfig()
	config.Format = "jsonl"
	config.Search = "from file"

	opts := &Options{Format: "csv", Search: "from flag", Port: 9999, Workers: 3}
	set := map[string]bool{"search": true, "port": true}
	ApplyOptions(config, opts, func(name string) bool { return set[name] })

	assert.Equal(t, "jsonl", config.Format)
	assert.Equal(t, "from flag", config.Search)
	assert.Equal(t, 9999, config.Server.Port)
	assert.NotEqual(t, 3, config.Workers)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitErrorServer, ExitCode(&serverError{err: errors.New("bind")}))

	partial := &processor.ProcessingErrors{}
	partial.Add(errors.New("unreadable"))
	assert.Equal(t, ExitPartial, ExitCode(partial))
}
