package beacon

import (
	"errors"
	"fmt"
)

// DecodeError reports a record field that could not be turned into a typed value.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *DecodeError, so errors.Is(err, ErrDecode) works for every field.
func (e *DecodeError) Is(target error) bool {
	_, ok := target.(*DecodeError)
	return ok
}

// ErrDecode is the sentinel for errors.Is checks against DecodeError values.
var ErrDecode = &DecodeError{}

// ErrNotIBeacon is returned when manufacturer data does not carry an iBeacon frame.
var ErrNotIBeacon = errors.New("not an iBeacon frame")

func missingField(field string) error {
	return &DecodeError{Field: field, Reason: "missing"}
}
