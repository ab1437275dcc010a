// Package models defines the data structures shared by the transcription pipeline.
package models

import "time"

// Word is a single recognizer hypothesis. A final word will not be revised.
type Word struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"word_is_final"`
}

// TurnEvent is one inbound recognizer update for an utterance.
// Many events may share a TurnOrder before EndOfTurn becomes true.
type TurnEvent struct {
	TurnOrder           int     `json:"turn_order"`
	EndOfTurn           bool    `json:"end_of_turn"`
	Formatted           bool    `json:"turn_is_formatted"`
	Transcript          string  `json:"transcript"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`
	Words               []Word  `json:"words"`
}

// Segment is the durable output unit: one per closed turn.
// Only TranslatedText changes after creation, and only once.
type Segment struct {
	ID             string    `json:"id"`
	TurnOrder      int       `json:"turnOrder"`
	Text           string    `json:"text"`
	Words          []Word    `json:"words"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"createdAt"`
	TranslatedText *string   `json:"translatedText,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate aggregator state.
func (s Segment) Clone() Segment {
	c := s
	c.Words = append([]Word(nil), s.Words...)
	if s.TranslatedText != nil {
		t := *s.TranslatedText
		c.TranslatedText = &t
	}
	return c
}

// IsTranslated reports whether a translation has been attached.
func (s Segment) IsTranslated() bool {
	return s.TranslatedText != nil
}

// SegmentFinal is published when a turn closes into a segment.
type SegmentFinal struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	SegmentID  string  `json:"segmentId"`
	TurnOrder  int     `json:"turnOrder"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	WordCount  int     `json:"wordCount"`
	Timestamp  int64   `json:"timestamp"`
}

// SegmentTranslated is published when a translation is attached to a segment.
type SegmentTranslated struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	SegmentID      string `json:"segmentId"`
	TurnOrder      int    `json:"turnOrder"`
	Language       string `json:"language"`
	Text           string `json:"text"`
	TranslatedText string `json:"translatedText"`
	Timestamp      int64  `json:"timestamp"`
}

// Event type names used on the wire and on Kafka.
const (
	EventSegmentFinal      = "transcript.segment.final"
	EventSegmentTranslated = "transcript.segment.translated"
)
