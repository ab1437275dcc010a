// Package mock provides a mock STT adapter for testing without cloud credentials.
// It simulates realistic turn-based recognition: provisional words grow as
// audio arrives, then the turn closes with its final words.
package mock

import (
	"context"
	"strings"
	"sync"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final words
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you help", "Can you help me with"},
		Final:      "Can you help me with my account",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// Config controls the simulation.
type Config struct {
	Utterances []SimulatedUtterance
	// FramesPerStep is how many audio frames advance the script by one event.
	FramesPerStep int
	// Loop restarts the script after the last utterance.
	Loop bool
}

// DefaultConfig replays DefaultUtterances once, one event per five frames.
func DefaultConfig() Config {
	return Config{Utterances: DefaultUtterances, FramesPerStep: 5}
}

// Adapter implements stt.Adapter with scripted turns.
// Events are delivered sequentially from one goroutine.
type Adapter struct {
	cfg Config

	mu        sync.Mutex
	state     stt.ChannelState
	cb        stt.Callback
	frames    int
	turn      int // index of the current utterance in the script
	step      int // next partial; len(Partials) means the final is next
	exhausted bool

	events chan models.TurnEvent
	done   chan struct{}
}

// New creates a new mock STT adapter.
func New(cfg Config) *Adapter {
	if len(cfg.Utterances) == 0 {
		cfg.Utterances = DefaultUtterances
	}
	if cfg.FramesPerStep <= 0 {
		cfg.FramesPerStep = 1
	}
	return &Adapter{
		cfg:    cfg,
		state:  stt.StateConnecting,
		events: make(chan models.TurnEvent, 64),
		done:   make(chan struct{}),
	}
}

// State implements stt.Adapter.
func (a *Adapter) State() stt.ChannelState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stt.StateConnecting {
		return stt.ErrChannelClosed
	}
	a.cb = cb
	a.state = stt.StateOpen
	go a.dispatch(cb)
	return nil
}

func (a *Adapter) dispatch(cb stt.Callback) {
	defer close(a.done)
	for ev := range a.events {
		cb.OnTurn(ev)
	}
}

// SendAudio advances the script every FramesPerStep frames.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stt.StateOpen || a.exhausted {
		return nil
	}
	a.frames++
	if a.frames%a.cfg.FramesPerStep != 0 {
		return nil
	}
	a.emitLocked(a.nextLocked())
	return nil
}

// Close finishes the current utterance if it was interrupted and stops
// delivering events. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.state == stt.StateClosed {
		a.mu.Unlock()
		return nil
	}
	wasOpen := a.state == stt.StateOpen
	if wasOpen && !a.exhausted && a.step > 0 {
		// Stream ended mid-utterance: close the turn with what was heard.
		a.step = len(a.cfg.Utterances[a.turn%len(a.cfg.Utterances)].Partials)
		a.emitLocked(a.nextLocked())
	}
	a.state = stt.StateClosed
	close(a.events)
	a.mu.Unlock()

	if wasOpen {
		<-a.done
	}
	return nil
}

// nextLocked builds the next scripted event. Caller holds mu.
func (a *Adapter) nextLocked() models.TurnEvent {
	utt := a.cfg.Utterances[a.turn%len(a.cfg.Utterances)]
	ev := models.TurnEvent{TurnOrder: a.turn}

	if a.step < len(utt.Partials) {
		ev.Transcript = utt.Partials[a.step]
		ev.Words = words(ev.Transcript, 0, false)
		a.step++
		return ev
	}

	ev.Transcript = utt.Final
	ev.EndOfTurn = true
	ev.EndOfTurnConfidence = utt.Confidence
	ev.Words = words(utt.Final, utt.Confidence, true)

	a.turn++
	a.step = 0
	if !a.cfg.Loop && a.turn >= len(a.cfg.Utterances) {
		a.exhausted = true
	}
	return ev
}

func (a *Adapter) emitLocked(ev models.TurnEvent) {
	select {
	case a.events <- ev:
	default:
		// Consumer is far behind; a real recognizer would also move on.
	}
}

func words(text string, confidence float64, final bool) []models.Word {
	var out []models.Word
	for i, w := range strings.Fields(text) {
		out = append(out, models.Word{
			Text:       w,
			Start:      int64(i) * 300,
			End:        int64(i)*300 + 250,
			Confidence: confidence,
			IsFinal:    final,
		})
	}
	return out
}
