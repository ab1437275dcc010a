// Package schema checks inbound recognizer events and outbound segment
// events against their wire contracts.
package schema

import (
	"errors"
	"fmt"
	"math"

	"ai-live-transcription-service/internal/models"
)

// ErrInvalid matches every *ValidationError.
var ErrInvalid = errors.New("schema validation failed")

// ValidationError names the first field that violates the contract.
type ValidationError struct {
	Type   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s %s", e.Type, e.Field, e.Reason)
}

// Is reports ErrInvalid as a match.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks a known event type. Unknown types are rejected.
func (v *Validator) Validate(event any) error {
	switch ev := event.(type) {
	case models.TurnEvent:
		return v.validateTurn(ev)
	case *models.TurnEvent:
		return v.validateTurn(*ev)
	case models.SegmentFinal:
		return v.validateSegmentFinal(ev)
	case models.SegmentTranslated:
		return v.validateSegmentTranslated(ev)
	default:
		return &ValidationError{Type: fmt.Sprintf("%T", event), Field: "type", Reason: "is not a known event"}
	}
}

func (v *Validator) validateTurn(ev models.TurnEvent) error {
	fail := func(field, reason string) error {
		return &ValidationError{Type: "Turn", Field: field, Reason: reason}
	}
	if ev.TurnOrder < 0 {
		return fail("turn_order", "must not be negative")
	}
	if !unit(ev.EndOfTurnConfidence) {
		return fail("end_of_turn_confidence", "must be within [0,1]")
	}
	for i, w := range ev.Words {
		field := fmt.Sprintf("words[%d]", i)
		if w.Text == "" {
			return fail(field+".text", "must not be empty")
		}
		if w.Start < 0 || w.End < w.Start {
			return fail(field+".end", "must not precede start")
		}
		if !unit(w.Confidence) {
			return fail(field+".confidence", "must be within [0,1]")
		}
	}
	return nil
}

func (v *Validator) validateSegmentFinal(ev models.SegmentFinal) error {
	fail := func(field, reason string) error {
		return &ValidationError{Type: models.EventSegmentFinal, Field: field, Reason: reason}
	}
	switch {
	case ev.EventType != models.EventSegmentFinal:
		return fail("eventType", "must be "+models.EventSegmentFinal)
	case ev.SessionID == "":
		return fail("sessionId", "is required")
	case ev.SegmentID == "":
		return fail("segmentId", "is required")
	case ev.TurnOrder < 0:
		return fail("turnOrder", "must not be negative")
	case ev.Text == "":
		return fail("text", "is required")
	case !unit(ev.Confidence):
		return fail("confidence", "must be within [0,1]")
	}
	return nil
}

func (v *Validator) validateSegmentTranslated(ev models.SegmentTranslated) error {
	fail := func(field, reason string) error {
		return &ValidationError{Type: models.EventSegmentTranslated, Field: field, Reason: reason}
	}
	switch {
	case ev.EventType != models.EventSegmentTranslated:
		return fail("eventType", "must be "+models.EventSegmentTranslated)
	case ev.SessionID == "":
		return fail("sessionId", "is required")
	case ev.SegmentID == "":
		return fail("segmentId", "is required")
	case ev.Language == "":
		return fail("language", "is required")
	}
	return nil
}

func unit(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}
