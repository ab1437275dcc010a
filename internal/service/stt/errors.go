package stt

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrMalformedEvent matches every *MalformedEventError.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrChannelClosed is returned by Start on an already closed channel.
	ErrChannelClosed = errors.New("channel is closed")
	// ErrEndpointUnsupported is returned when a channel cannot force a
	// turn end.
	ErrEndpointUnsupported = errors.New("channel does not support forced endpoints")
)

// TransportError is fatal to the channel that produced it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport as a match.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// MalformedEventError reports an inbound message that was skipped.
type MalformedEventError struct {
	Payload string
	Err     error
}

// maxPayloadEcho bounds how much of a bad payload is kept for diagnostics.
const maxPayloadEcho = 256

// NewMalformedEvent builds a MalformedEventError, truncating the payload.
func NewMalformedEvent(payload []byte, err error) *MalformedEventError {
	p := string(payload)
	if len(p) > maxPayloadEcho {
		p = p[:maxPayloadEcho] + "..."
	}
	return &MalformedEventError{Payload: p, Err: err}
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// Is reports ErrMalformedEvent as a match.
func (e *MalformedEventError) Is(target error) bool { return target == ErrMalformedEvent }

// IsFatal reports whether err ends the channel.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTransport)
}
