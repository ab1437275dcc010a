// Package stt defines the contract between the pipeline and streaming
// speech-to-text channels (websocket backend, Google, mock).
package stt

import (
	"context"
	"fmt"

	"ai-live-transcription-service/internal/models"
)

// Callback receives inbound events from a recognizer channel.
// Calls are made sequentially from a single reader goroutine.
type Callback interface {
	// OnTurn is called for every parsed turn event.
	OnTurn(ev models.TurnEvent)

	// OnError is called for recoverable (*MalformedEventError) and
	// fatal (*TransportError) problems. After a TransportError no
	// further callbacks are made.
	OnError(err error)
}

// Adapter defines the interface for recognizer channels.
type Adapter interface {
	// Start opens the channel and begins delivering events to cb.
	Start(ctx context.Context, cb Callback) error

	// SendAudio offers an encoded PCM16 frame. Frames offered while the
	// channel is not Open are dropped without error.
	SendAudio(ctx context.Context, frame []byte) error

	// Close sends a stop control message if still open, then closes.
	// Idempotent.
	Close() error

	// State reports the channel state.
	State() ChannelState
}

// Endpointer is implemented by channels that let the caller close the
// current turn without waiting for the recognizer's own endpointing.
type Endpointer interface {
	ForceEndpoint() error
}

// ChannelState represents the lifecycle of a recognizer channel.
type ChannelState int

const (
	// StateConnecting - dial in progress, frames are dropped.
	StateConnecting ChannelState = iota
	// StateOpen - frames are transmitted.
	StateOpen
	// StateClosed - terminal; frames are dropped.
	StateClosed
)

// String returns the string representation of the state.
func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}
