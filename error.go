package ttcan

import (
	"errors"
	"fmt"
	"time"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable marks an adapter error after which the channel can't be used again.
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable reports false for errors wrapped with Unrecoverable.
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrNilAdapter   = errors.New("adapter is nil")
	ErrDroppedFrame = errors.New("adapter incoming channel full")
	ErrClientClosed = errors.New("client closed")
	ErrTaskActive   = errors.New("a periodic task is already armed on this channel")
	ErrInvalidFrame = errors.New("invalid frame")
)

// SendTimeoutError is returned when the adapter does not accept a frame in time,
// usually because the bus is busy or the hardware is gone.
type SendTimeoutError struct {
	Timeout    time.Duration
	Identifier uint32
}

func (e *SendTimeoutError) Error() string {
	return fmt.Sprintf("send timeout (%s) for frame 0x%03X", e.Timeout, e.Identifier)
}
