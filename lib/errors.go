package lib

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch marks a frame whose checksum does not match its contents.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrHandshakeFailed is returned by Dial when no SYNACK arrives in time.
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrNotEstablished  = errors.New("connection not established")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// DecodeError reports a datagram that is not a well-formed frame.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode frame: " + e.Reason
}

// TimeoutError is returned when a bounded wait expires. It satisfies net.Error.
type TimeoutError struct {
	msg string
}

func (e *TimeoutError) Error() string {
	return e.msg
}

func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Temporary() bool {
	return false
}

// UnexpectedFlagError describes a well-formed frame that the current state
// does not expect. It is logged, never returned to callers.
type UnexpectedFlagError struct {
	State State
	Got   Flag
}

func (e *UnexpectedFlagError) Error() string {
	return fmt.Sprintf("unexpected %s frame while %s", e.Got, e.State)
}
