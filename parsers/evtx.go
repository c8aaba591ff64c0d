package parsers

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/0xrawsec/golang-evtx/evtx"
	"github.com/spf13/afero"

	"DriveDecoder/core"
	"DriveDecoder/internal/logger"
)

// EVTX element paths golang-evtx does not predefine
var (
	ComputerPath    = evtx.Path("/Event/System/Computer")
	ProviderPath    = evtx.Path("/Event/System/Provider/Name")
	RecordIDPath    = evtx.Path("/Event/System/EventRecordID")
	TimeCreatedPath = evtx.Path("/Event/System/TimeCreated/SystemTime")
)

const (
	eventRootSection = "Event"
	eventDataSection = "EventData"
	userDataSection  = "UserData"
)

// EvtxParser reads binary .evtx logs
type EvtxParser struct{}

// CanParse accepts .evtx names and files with an ElfFile header
func (p *EvtxParser) CanParse(fs afero.Fs, filePath string) bool {
	if strings.EqualFold(filepath.Ext(filePath), ".evtx") {
		return true
	}
	return sniff(head(fs, filePath)) == "evtx"
}

// Parse parses an EVTX file and returns its entries in record order
func (p *EvtxParser) Parse(fs afero.Fs, filePath string) ([]core.RawEntry, error) {
	file, err := fs.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open EVTX file: %w", err)
	}
	defer file.Close()

	ef, err := evtx.New(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParsingFailed, filepath.Base(filePath), err)
	}

	var entries []core.RawEntry
	for e := range ef.FastEvents() {
		if e == nil {
			continue
		}
		entries = append(entries, p.convertEvtxEvent(e))
	}

	logger.Debug("Parsed EVTX file: %s (found %d records)", filepath.Base(filePath), len(entries))
	return entries, nil
}

// convertEvtxEvent flattens a golang-evtx event into a raw entry. Event IDs
// are not filtered here; unrelated records are reported by the decoder.
func (p *EvtxParser) convertEvtxEvent(e *evtx.GoEvtxMap) core.RawEntry {
	entry := core.RawEntry{}

	if systemTime, err := e.GetTime(&evtx.SystemTimePath); err == nil {
		entry.TimeCreated = systemTime.UTC().Format(time.RFC3339Nano)
	} else if raw, err := e.GetString(&TimeCreatedPath); err == nil {
		entry.TimeCreated = raw
	}

	if eid, err := e.GetInt(&evtx.EventIDPath); err == nil {
		entry.EventID = int(eid)
	}
	if rid, err := e.GetInt(&RecordIDPath); err == nil {
		entry.RecordID = rid
	}
	if computer, err := e.GetString(&ComputerPath); err == nil {
		entry.Computer = computer
	}
	if provider, err := e.GetString(&ProviderPath); err == nil {
		entry.Provider = provider
	}
	if channel, err := e.GetString(&evtx.ChannelPath); err == nil {
		entry.Channel = channel
	}
	if userID, err := e.GetString(&evtx.UserIDPath); err == nil {
		entry.User = userFromSID(userID)
	}

	fields := make(map[string]string)
	if root, ok := (*e)[eventRootSection]; ok {
		if event, ok := asMap(root); ok {
			flattenInto(fields, event[eventDataSection])
			flattenInto(fields, event[userDataSection])
		}
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}
	entry.Descriptor = buildDescriptor(fields, "")
	return entry
}

// asMap normalizes the nested map types golang-evtx produces
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case evtx.GoEvtxMap:
		return m, true
	case *evtx.GoEvtxMap:
		if m == nil {
			return nil, false
		}
		return *m, true
	case map[string]interface{}:
		return m, true
	}
	return nil, false
}

// flattenInto copies leaf values keyed by their element name. The first
// value seen for a name wins.
func flattenInto(fields map[string]string, v interface{}) {
	m, ok := asMap(v)
	if !ok {
		return
	}
	for k, child := range m {
		if nested, ok := asMap(child); ok {
			flattenInto(fields, nested)
			continue
		}
		if _, exists := fields[k]; exists {
			continue
		}
		if s := leafString(child); s != "" {
			fields[k] = s
		}
	}
}

func leafString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
