package decoder

import (
	"errors"
	"fmt"
)

// Per-record decode failures. A record failing with one of these is skipped
// and reported as a Diagnostic; the rest of the batch is still decoded.
var (
	ErrUnrecognizedEventID  = errors.New("unrecognized event id")
	ErrMalformedRecord      = errors.New("malformed record")
	ErrUnresolvableIdentity = errors.New("unresolvable device identity")
)

// DecodeError reports a source that could not be read as a whole
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Diagnostic describes one skipped entry
type Diagnostic struct {
	Index    int    `json:"index"`
	Source   string `json:"source"`
	RecordID int64  `json:"record_id,omitempty"`
	EventID  int    `json:"event_id"`
	Err      error  `json:"-"`
}

// Reason returns the short classification of the failure
func (d Diagnostic) Reason() string {
	switch {
	case errors.Is(d.Err, ErrUnrecognizedEventID):
		return "unrecognized event id"
	case errors.Is(d.Err, ErrMalformedRecord):
		return "malformed record"
	case errors.Is(d.Err, ErrUnresolvableIdentity):
		return "unresolvable identity"
	default:
		return "other"
	}
}

// Message returns the full error text
func (d Diagnostic) Message() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}
