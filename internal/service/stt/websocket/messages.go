package websocket

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"ai-live-transcription-service/internal/models"
)

// Inbound message types.
const (
	TypeBegin       = "Begin"
	TypeTurn        = "Turn"
	TypeTermination = "Termination"
	TypeError       = "Error"
)

// Outbound control types.
const (
	typeAudio         = "audio"
	typeStop          = "stop"
	typeForceEndpoint = "ForceEndpoint"
)

var errUnknownType = errors.New("unknown message type")

// Message is one inbound message. The set of implementations is closed:
// *BeginMessage, *TurnMessage, *TerminationMessage, *ErrorMessage.
type Message interface {
	messageType() string
}

// BeginMessage opens a recognizer session.
type BeginMessage struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// TurnMessage carries one turn update.
type TurnMessage struct {
	models.TurnEvent
}

// TerminationMessage is the last message of a session.
type TerminationMessage struct {
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

// ErrorMessage reports a backend failure.
type ErrorMessage struct {
	Error string `json:"error"`
}

func (*BeginMessage) messageType() string       { return TypeBegin }
func (*TurnMessage) messageType() string        { return TypeTurn }
func (*TerminationMessage) messageType() string { return TypeTermination }
func (*ErrorMessage) messageType() string       { return TypeError }

type envelope struct {
	Type string `json:"type"`
}

// ParseMessage decodes one inbound payload. Unknown or missing types and
// undecodable bodies are errors.
func ParseMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var msg Message
	switch env.Type {
	case TypeTurn:
		msg = &TurnMessage{}
	case TypeBegin:
		msg = &BeginMessage{}
	case TypeTermination:
		msg = &TerminationMessage{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("%w %q", errUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	if t, ok := msg.(*TurnMessage); ok && t.TurnOrder < 0 {
		return nil, fmt.Errorf("decode %s: negative turn_order %d", env.Type, t.TurnOrder)
	}
	return msg, nil
}

type controlMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

func encodeControl(kind string) []byte {
	b, _ := json.Marshal(controlMessage{Type: kind})
	return b
}

// encodeAudioText wraps a frame for text-only transports.
func encodeAudioText(frame []byte) []byte {
	b, _ := json.Marshal(controlMessage{Type: typeAudio, Data: base64.StdEncoding.EncodeToString(frame)})
	return b
}
