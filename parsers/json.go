package parsers

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"DriveDecoder/core"
	"DriveDecoder/internal/logger"
)

// JSONEventParser reads events exported as JSON: a single object, an array
// of objects (Get-WinEvent | ConvertTo-Json) or one object per line (JSONL)
type JSONEventParser struct{}

// Alternative key paths, in priority order
var (
	jsonEventIDKeys  = []string{"event_id", "EventID", "EventId", "Id", "eventId", "eventLog.eventId"}
	jsonTimeKeys     = []string{"time_created", "TimeCreated", "timestamp", "Timestamp", "TimeGenerated", "SystemTime"}
	jsonRecordKeys   = []string{"record_id", "RecordId", "EventRecordID", "RecordNumber"}
	jsonComputerKeys = []string{"computer", "Computer", "MachineName"}
	jsonProviderKeys = []string{"provider", "ProviderName", "Provider", "eventLog.source"}
	jsonChannelKeys  = []string{"channel", "LogName", "Channel", "eventLog.logName"}
	jsonUserKeys     = []string{"user", "User", "UserId.Value", "UserId", "UserName"}
	jsonMessageKeys  = []string{"descriptor", "Message", "message"}
	jsonFieldObjects = []string{"fields", "device", "EventData", "UserData"}
)

// CanParse checks for a JSON extension or JSON content
func (p *JSONEventParser) CanParse(fs afero.Fs, filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json", ".jsonl", ".ndjson":
		return true
	}
	return sniff(head(fs, filePath)) == "json"
}

// Parse reads all event objects in file order
func (p *JSONEventParser) Parse(fs afero.Fs, filePath string) ([]core.RawEntry, error) {
	content, err := readAll(fs, filePath)
	if err != nil {
		return nil, err
	}
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return nil, nil
	}

	var entries []core.RawEntry
	if gjson.ValidBytes(content) {
		doc := gjson.ParseBytes(content)
		switch {
		case doc.IsArray():
			element := 0
			doc.ForEach(func(_, value gjson.Result) bool {
				if value.IsObject() {
					entries = append(entries, p.convertJSONEvent(value))
				} else {
					entries = append(entries, unreadable("array element %d is not an event object", element))
				}
				element++
				return true
			})
		case doc.IsObject():
			entries = append(entries, p.convertJSONEvent(doc))
		default:
			return nil, fmt.Errorf("%w: %s: unexpected JSON structure", ErrParsingFailed, filepath.Base(filePath))
		}
	} else {
		if content[0] != '{' {
			return nil, fmt.Errorf("%w: %s: invalid JSON", ErrParsingFailed, filepath.Base(filePath))
		}
		for i, raw := range bytes.Split(content, []byte("\n")) {
			raw = bytes.TrimSpace(raw)
			if len(raw) == 0 {
				continue
			}
			if !gjson.ValidBytes(raw) || raw[0] != '{' {
				logger.Warn("Malformed JSON line %d in %s", i+1, filepath.Base(filePath))
				entries = append(entries, unreadable("line %d is not a valid JSON object", i+1))
				continue
			}
			entries = append(entries, p.convertJSONEvent(gjson.ParseBytes(raw)))
		}
	}

	logger.Debug("Parsed JSON file: %s (found %d records)", filepath.Base(filePath), len(entries))
	return entries, nil
}

func (p *JSONEventParser) convertJSONEvent(obj gjson.Result) core.RawEntry {
	entry := core.RawEntry{}

	if v := firstOf(obj, jsonEventIDKeys); v.Exists() {
		if id, err := strconv.Atoi(strings.TrimSpace(v.String())); err == nil {
			entry.EventID = id
		}
	}
	entry.TimeCreated = firstOf(obj, jsonTimeKeys).String()
	if v := firstOf(obj, jsonRecordKeys); v.Exists() {
		entry.RecordID = v.Int()
	}
	entry.Computer = firstOf(obj, jsonComputerKeys).String()
	entry.Provider = firstOf(obj, jsonProviderKeys).String()
	entry.Channel = firstOf(obj, jsonChannelKeys).String()
	if v := firstOf(obj, jsonUserKeys); v.Type == gjson.String {
		entry.User = userFromSID(v.String())
	}
	entry.Source = obj.Get("source").String()

	fields := make(map[string]string)
	for _, key := range jsonFieldObjects {
		if v := obj.Get(key); v.IsObject() {
			flattenJSON(fields, v)
		}
	}
	// Get-WinEvent Properties are positional
	for i, prop := range obj.Get("Properties").Array() {
		if s := strings.TrimSpace(prop.Get("Value").String()); s != "" {
			fields["Data"+strconv.Itoa(i)] = s
		}
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}

	message := firstOf(obj, jsonMessageKeys).String()
	if obj.Get("descriptor").Exists() {
		entry.Descriptor = strings.TrimSpace(message)
	} else {
		entry.Descriptor = buildDescriptor(fields, message)
	}
	return entry
}

// unreadable stands in for a record that could not be read, so the
// decoder still counts and reports it
func unreadable(format string, args ...interface{}) core.RawEntry {
	return core.RawEntry{Unreadable: fmt.Sprintf(format, args...)}
}

// firstOf returns the first non-null value among the key paths
func firstOf(obj gjson.Result, keys []string) gjson.Result {
	for _, key := range keys {
		if v := obj.Get(key); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// flattenJSON stores scalar leaves under their own key. The first value
// seen for a key wins.
func flattenJSON(fields map[string]string, obj gjson.Result) {
	obj.ForEach(func(key, value gjson.Result) bool {
		if value.IsObject() {
			flattenJSON(fields, value)
			return true
		}
		if value.IsArray() || value.Type == gjson.Null {
			return true
		}
		if _, exists := fields[key.String()]; exists {
			return true
		}
		if s := strings.TrimSpace(value.String()); s != "" {
			fields[key.String()] = s
		}
		return true
	})
}
