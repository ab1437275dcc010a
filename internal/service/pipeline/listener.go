package pipeline

import (
	"sync"

	"github.com/rs/zerolog/log"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/service/segment"
)

// MultiListener fans aggregator output out to several listeners, one call
// at a time, in registration order.
type MultiListener struct {
	mu        sync.Mutex
	listeners []segment.Listener
}

// NewMultiListener creates a fan-out over ls, skipping nils.
func NewMultiListener(ls ...segment.Listener) *MultiListener {
	m := &MultiListener{}
	for _, l := range ls {
		m.Add(l)
	}
	return m
}

// Add registers l.
func (m *MultiListener) Add(l segment.Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *MultiListener) each(fn func(segment.Listener)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		fn(l)
	}
}

func (m *MultiListener) OnSegment(seg models.Segment) {
	m.each(func(l segment.Listener) { l.OnSegment(seg) })
}

func (m *MultiListener) OnTranslation(seg models.Segment) {
	m.each(func(l segment.Listener) { l.OnTranslation(seg) })
}

func (m *MultiListener) OnPartial(turnOrder int, text string) {
	m.each(func(l segment.Listener) { l.OnPartial(turnOrder, text) })
}

func (m *MultiListener) OnError(err error) {
	m.each(func(l segment.Listener) { l.OnError(err) })
}

// LogListener writes aggregator output to the structured log.
type LogListener struct{}

func (LogListener) OnSegment(seg models.Segment) {
	log.Info().
		Str("segmentId", seg.ID).
		Int("turnOrder", seg.TurnOrder).
		Str("text", seg.Text).
		Float64("confidence", seg.Confidence).
		Msg("Segment")
}

func (LogListener) OnTranslation(seg models.Segment) {
	if seg.TranslatedText == nil {
		return
	}
	log.Info().
		Str("segmentId", seg.ID).
		Int("turnOrder", seg.TurnOrder).
		Str("translatedText", *seg.TranslatedText).
		Msg("Translation")
}

func (LogListener) OnPartial(turnOrder int, text string) {
	log.Debug().Int("turnOrder", turnOrder).Str("text", text).Msg("Partial")
}

func (LogListener) OnError(err error) {
	log.Warn().Err(err).Msg("Pipeline error")
}
