package parsers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"DriveDecoder/core"
	"DriveDecoder/internal/logger"
)

// CSVEventParser reads events exported as CSV, either from Event Viewer
// ("Save All Events As" .csv) or from Get-WinEvent | Export-Csv
type CSVEventParser struct{}

// Known column names, compared after normalizeHeader
var (
	csvEventIDColumns  = []string{"eventid", "id"}
	csvTimeColumns     = []string{"timecreated", "dateandtime", "timestamp", "timegenerated", "date", "time"}
	csvRecordColumns   = []string{"recordid", "eventrecordid", "recordnumber"}
	csvProviderColumns = []string{"providername", "source", "provider"}
	csvChannelColumns  = []string{"logname", "channel"}
	csvComputerColumns = []string{"machinename", "computer", "computername"}
	csvUserColumns     = []string{"userid", "user", "username"}
	csvMessageColumns  = []string{"message", "descriptor", "description"}
)

// CanParse accepts .csv files
func (p *CSVEventParser) CanParse(fs afero.Fs, filePath string) bool {
	if strings.EqualFold(filepath.Ext(filePath), ".csv") {
		return true
	}
	return sniff(head(fs, filePath)) == "csv"
}

// Parse maps the header row onto raw entry fields. Columns it does not know
// are kept as structured fields under their header name.
func (p *CSVEventParser) Parse(fs afero.Fs, filePath string) ([]core.RawEntry, error) {
	content, err := readAll(fs, filePath)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = detectDelimiter(content)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read CSV header: %v", ErrParsingFailed, filepath.Base(filePath), err)
	}
	cols := newColumnMap(header)
	if cols.eventID < 0 {
		return nil, fmt.Errorf("%w: %s: no event id column", ErrParsingFailed, filepath.Base(filePath))
	}

	var entries []core.RawEntry
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			logger.Warn("Malformed CSV row %d in %s: %v", line, filepath.Base(filePath), err)
			entries = append(entries, unreadable("row %d: %v", line, err))
			continue
		}
		if isBlankRecord(record) {
			continue
		}
		entries = append(entries, cols.convert(header, record))
	}

	logger.Debug("Parsed CSV file: %s (found %d records)", filepath.Base(filePath), len(entries))
	return entries, nil
}

// columnMap holds the index of every known column, -1 when absent
type columnMap struct {
	eventID, time, record, provider, channel, computer, user, message int

	known map[int]bool
}

func newColumnMap(header []string) columnMap {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}
	m := columnMap{known: make(map[int]bool)}
	find := func(names []string) int {
		for _, name := range names {
			for i, h := range normalized {
				if h == name {
					m.known[i] = true
					return i
				}
			}
		}
		return -1
	}
	m.eventID = find(csvEventIDColumns)
	m.time = find(csvTimeColumns)
	m.record = find(csvRecordColumns)
	m.provider = find(csvProviderColumns)
	m.channel = find(csvChannelColumns)
	m.computer = find(csvComputerColumns)
	m.user = find(csvUserColumns)
	m.message = find(csvMessageColumns)
	return m
}

func (m columnMap) convert(header, record []string) core.RawEntry {
	get := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	entry := core.RawEntry{
		TimeCreated: get(m.time),
		Provider:    get(m.provider),
		Channel:     get(m.channel),
		Computer:    get(m.computer),
		User:        userFromSID(get(m.user)),
	}
	if id, err := strconv.Atoi(get(m.eventID)); err == nil {
		entry.EventID = id
	}
	if id, err := strconv.ParseInt(get(m.record), 10, 64); err == nil {
		entry.RecordID = id
	}

	fields := make(map[string]string)
	for i, h := range header {
		if m.known[i] {
			continue
		}
		if v := get(i); v != "" {
			fields[strings.TrimSpace(h)] = v
		}
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}

	// Event Viewer writes the description as an extra, unnamed column
	message := get(m.message)
	if len(record) > len(header) {
		message = strings.TrimSpace(strings.Join(append([]string{message}, record[len(header):]...), " "))
	}
	entry.Descriptor = buildDescriptor(fields, message)
	return entry
}

// normalizeHeader lower-cases and drops spaces, underscores and dashes
func normalizeHeader(h string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(h)))
}

// detectDelimiter picks the most frequent of comma, semicolon and tab
// in the first line
func detectDelimiter(content []byte) rune {
	first := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		first = content[:i]
	}
	best, bestCount := ',', bytes.Count(first, []byte(","))
	for _, d := range []rune{';', '\t'} {
		if c := bytes.Count(first, []byte(string(d))); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
