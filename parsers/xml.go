package parsers

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/spf13/afero"

	"DriveDecoder/core"
	"DriveDecoder/internal/logger"
)

// XMLEventParser reads Windows events exported as XML
// (wevtutil qe /f:xml, Get-WinEvent | ForEach-Object { $_.ToXml() }, Event Viewer "Save as XML")
type XMLEventParser struct{}

// CanParse checks for the event schema or an <Event><System> structure
func (p *XMLEventParser) CanParse(fs afero.Fs, filePath string) bool {
	buf := head(fs, filePath)
	if len(buf) == 0 {
		return false
	}
	hasEventSchema := bytes.Contains(buf, []byte("http://schemas.microsoft.com/win/2004/08/events/event"))
	hasEventElement := bytes.Contains(buf, []byte("<Event")) && bytes.Contains(buf, []byte("<System>"))
	return hasEventSchema || hasEventElement
}

// Parse reads every <Event> element, with or without an <Events> root.
// A document that is not well formed fails as a whole.
func (p *XMLEventParser) Parse(fs afero.Fs, filePath string) ([]core.RawEntry, error) {
	content, err := readAll(fs, filePath)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(content); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParsingFailed, filepath.Base(filePath), err)
	}

	var entries []core.RawEntry
	for _, e := range doc.FindElements("//Event") {
		if e.FindElement("./System") == nil {
			continue
		}
		entries = append(entries, p.convertXMLEvent(e))
	}

	logger.Debug("Parsed XML event file: %s (found %d records)", filepath.Base(filePath), len(entries))
	return entries, nil
}

func (p *XMLEventParser) convertXMLEvent(e *etree.Element) core.RawEntry {
	entry := core.RawEntry{}

	if el := e.FindElement("./System/EventID"); el != nil {
		if id, err := strconv.Atoi(strings.TrimSpace(el.Text())); err == nil {
			entry.EventID = id
		}
	}
	if el := e.FindElement("./System/TimeCreated"); el != nil {
		entry.TimeCreated = el.SelectAttrValue("SystemTime", "")
	}
	if el := e.FindElement("./System/EventRecordID"); el != nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(el.Text()), 10, 64); err == nil {
			entry.RecordID = id
		}
	}
	if el := e.FindElement("./System/Provider"); el != nil {
		entry.Provider = el.SelectAttrValue("Name", "")
	}
	if el := e.FindElement("./System/Channel"); el != nil {
		entry.Channel = strings.TrimSpace(el.Text())
	}
	if el := e.FindElement("./System/Computer"); el != nil {
		entry.Computer = strings.TrimSpace(el.Text())
	}
	if el := e.FindElement("./System/Security"); el != nil {
		entry.User = userFromSID(el.SelectAttrValue("UserID", ""))
	}

	fields := make(map[string]string)
	for i, data := range e.FindElements("./EventData/Data") {
		name := data.SelectAttrValue("Name", "")
		if name == "" {
			name = "Data" + strconv.Itoa(i)
		}
		if v := strings.TrimSpace(data.Text()); v != "" {
			fields[name] = v
		}
	}
	if userData := e.FindElement("./UserData"); userData != nil {
		collectLeaves(fields, userData)
	}
	if len(fields) > 0 {
		entry.Fields = fields
	}

	message := ""
	if el := e.FindElement("./RenderingInfo/Message"); el != nil {
		message = el.Text()
	}
	entry.Descriptor = buildDescriptor(fields, message)
	return entry
}

// collectLeaves stores the text of every leaf element under its tag.
// The first value seen for a tag wins.
func collectLeaves(fields map[string]string, el *etree.Element) {
	for _, child := range el.ChildElements() {
		if len(child.ChildElements()) > 0 {
			collectLeaves(fields, child)
			continue
		}
		if _, exists := fields[child.Tag]; exists {
			continue
		}
		if v := strings.TrimSpace(child.Text()); v != "" {
			fields[child.Tag] = v
		}
	}
}
