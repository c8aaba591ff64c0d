package parsers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/spf13/afero"

	"DriveDecoder/core"
)

// Common errors
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrParsingFailed     = errors.New("failed to parse file")
)

// Parser turns one exported log file into raw entries
type Parser interface {
	// Parse reads a file and returns its entries in log order
	Parse(fs afero.Fs, filePath string) ([]core.RawEntry, error)

	// CanParse reports whether the file looks like this parser's format
	CanParse(fs afero.Fs, filePath string) bool
}

// evtxType identifies binary event log files by their "ElfFile\0" header
var evtxType = filetype.NewType("evtx", "application/x-ms-evtx")

func init() {
	filetype.AddMatcher(evtxType, func(buf []byte) bool {
		return bytes.HasPrefix(buf, []byte("ElfFile\x00"))
	})
}

// sniffSize is how much of a file is read to detect its format
const sniffSize = 4096

// head returns the first bytes of a file
func head(fs afero.Fs, filePath string) []byte {
	f, err := fs.Open(filePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return buf[:n]
}

// sniff classifies content that carries no usable extension
func sniff(buf []byte) string {
	if kind, err := filetype.Match(buf); err == nil && kind != types.Unknown {
		return kind.Extension
	}
	text := bytes.TrimSpace(bytes.TrimPrefix(buf, utf8BOM))
	switch {
	case len(text) == 0:
		return ""
	case text[0] == '<':
		return "xml"
	case text[0] == '[' || text[0] == '{':
		return "json"
	case hasEventIDColumn(bytes.SplitN(text, []byte("\n"), 2)[0]):
		return "csv"
	}
	return ""
}

// hasEventIDColumn reports whether a CSV header line names an event ID
// column. Plain text that merely contains a comma does not qualify.
func hasEventIDColumn(header []byte) bool {
	delim := detectDelimiter(header)
	for _, col := range strings.Split(string(header), string(delim)) {
		name := normalizeHeader(strings.Trim(strings.TrimSpace(col), `"`))
		for _, known := range csvEventIDColumns {
			if name == known {
				return true
			}
		}
	}
	return false
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// GetParserForFile returns the parser for the given file. The extension
// decides; files without a known one are sniffed.
func GetParserForFile(fs afero.Fs, filePath string) (Parser, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	switch ext {
	case "evtx", "xml", "json", "jsonl", "ndjson", "csv":
	default:
		ext = sniff(head(fs, filePath))
	}

	switch ext {
	case "evtx":
		return &EvtxParser{}, nil
	case "xml":
		return &XMLEventParser{}, nil
	case "json", "jsonl", "ndjson":
		return &JSONEventParser{}, nil
	case "csv":
		return &CSVEventParser{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(filePath))
}

// FileSource reads one exported log file as a decoder entry source
type FileSource struct {
	Fs   afero.Fs
	Path string
}

// NewFileSource creates a source for filePath on the OS filesystem when fs is nil
func NewFileSource(fs afero.Fs, filePath string) *FileSource {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileSource{Fs: fs, Path: filePath}
}

// Name returns the file's base name
func (s *FileSource) Name() string {
	return filepath.Base(s.Path)
}

// Entries parses the file with the matching parser
func (s *FileSource) Entries() ([]core.RawEntry, error) {
	p, err := GetParserForFile(s.Fs, s.Path)
	if err != nil {
		return nil, err
	}
	entries, err := p.Parse(s.Fs, s.Path)
	if err != nil {
		return nil, err
	}
	name := s.Name()
	for i := range entries {
		if entries[i].Source == "" {
			entries[i].Source = name
		}
	}
	return entries, nil
}

// readAll loads a whole file, stripping a UTF-8 BOM
func readAll(fs afero.Fs, filePath string) ([]byte, error) {
	content, err := afero.ReadFile(fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return bytes.TrimPrefix(content, utf8BOM), nil
}

// userFromSID renders the security user ID; well-known system SIDs get names
func userFromSID(sid string) string {
	switch strings.ToUpper(strings.TrimSpace(sid)) {
	case "S-1-5-18":
		return `NT AUTHORITY\SYSTEM`
	case "S-1-5-19":
		return `NT AUTHORITY\LOCAL SERVICE`
	case "S-1-5-20":
		return `NT AUTHORITY\NETWORK SERVICE`
	}
	return strings.TrimSpace(sid)
}

// buildDescriptor joins the event's data into one text so identity
// extraction can scan it: instance paths first, then the rendered message,
// then the remaining fields as "Name: value" in name order
func buildDescriptor(fields map[string]string, message string) string {
	var parts []string
	used := make(map[string]bool)
	for _, name := range descriptorFields {
		if v := strings.TrimSpace(fields[name]); v != "" {
			parts = append(parts, v)
			used[name] = true
		}
	}
	if m := strings.TrimSpace(message); m != "" {
		parts = append(parts, m)
	}

	rest := make([]string, 0, len(fields))
	for name := range fields {
		if !used[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		if v := strings.TrimSpace(fields[name]); v != "" {
			parts = append(parts, name+": "+v)
		}
	}
	return strings.Join(parts, " | ")
}

// Event data names that carry a device instance path
var descriptorFields = []string{
	"InstanceId", "DeviceInstanceId", "DeviceId", "InstanceID", "DeviceInstanceID",
	"DeviceDescription", "FriendlyName",
}
