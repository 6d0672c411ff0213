package tt

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCase    = errors.New("invalid test case")
	ErrSignalNotFound = errors.New("signal not found")
	ErrValueParse     = errors.New("invalid hex value")
	ErrTransmit       = errors.New("message NOT sent")
	ErrNoResponse     = errors.New("no response")
)

// CaseError carries the row context of a failed test case.
type CaseError struct {
	Row     int
	Message string
	Signal  string
	Err     error
}

func (e *CaseError) Error() string {
	switch {
	case e.Message == "":
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	case e.Signal == "":
		return fmt.Sprintf("row %d (%s): %v", e.Row, e.Message, e.Err)
	default:
		return fmt.Sprintf("row %d (%s.%s): %v", e.Row, e.Message, e.Signal, e.Err)
	}
}

func (e *CaseError) Unwrap() error {
	return e.Err
}

func caseError(c Case, err error) *CaseError {
	return &CaseError{Row: c.Row, Message: c.Message, Signal: c.Signal, Err: err}
}
