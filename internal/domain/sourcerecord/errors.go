package sourcerecord

import (
	"errors"
	"fmt"
)

var (
	ErrMissingName     = errors.New("club name is missing")
	ErrInvalidEnvelope = errors.New("invalid record envelope")
)

// ParseError marks a raw record that cannot become a Record. The pipeline
// skips it and keeps going.
type ParseError struct {
	RecordID string
	Source   string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "<no id>"
	}
	if e.Err != nil {
		return fmt.Sprintf("parse record %s from %q: %s: %v", id, e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse record %s from %q: %s", id, e.Source, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
