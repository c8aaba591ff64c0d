package timeline

import (
	"regexp"
	"strings"
)

var (
	drivePattern      = regexp.MustCompile(`(?i)\bdrive(?:[ _]?letter)?\s*[:=]\s*([A-Z]:?)`)
	driveLetterFormat = regexp.MustCompile(`^[A-Z]:$`)
)

// normalizeDrive renders a drive as "E:"; anything else is dropped
func normalizeDrive(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimRight(s, `\`)
	if len(s) == 1 {
		s += ":"
	}
	if !driveLetterFormat.MatchString(s) {
		return ""
	}
	return s
}
