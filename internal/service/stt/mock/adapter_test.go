package mock

import (
	"context"
	"sync"
	"testing"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/service/stt"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu     sync.Mutex
	turns  []models.TurnEvent
	errors []error
}

func (c *testCallback) OnTurn(ev models.TurnEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, ev)
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) getTurns() []models.TurnEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.TurnEvent{}, c.turns...)
}

var script = []SimulatedUtterance{
	{Partials: []string{"good", "good morning"}, Final: "good morning team", Confidence: 0.9},
	{Partials: []string{"ready"}, Final: "ready to start", Confidence: 0.8},
}

func send(t *testing.T, a *Adapter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := a.SendAudio(context.Background(), []byte{0, 0}); err != nil {
			t.Fatalf("SendAudio() error = %v", err)
		}
	}
}

func TestAdapter_New(t *testing.T) {
	adapter := New(Config{})
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if adapter.State() != stt.StateConnecting {
		t.Errorf("expected CONNECTING, got %v", adapter.State())
	}
	if len(adapter.cfg.Utterances) != len(DefaultUtterances) {
		t.Error("expected default utterances")
	}
}

func TestAdapter_ReplaysScript(t *testing.T) {
	a := New(Config{Utterances: script, FramesPerStep: 1})
	cb := &testCallback{}
	if err := a.Start(context.Background(), cb); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// 3 events for the first utterance, 2 for the second, then silence.
	send(t, a, 8)
	a.Close()

	turns := cb.getTurns()
	if len(turns) != 5 {
		t.Fatalf("got %d events, want 5", len(turns))
	}

	first := turns[2]
	if first.TurnOrder != 0 || !first.EndOfTurn || first.Transcript != "good morning team" {
		t.Errorf("first final = %+v", first)
	}
	for _, w := range first.Words {
		if !w.IsFinal || w.Confidence != 0.9 {
			t.Errorf("final word = %+v", w)
		}
	}
	if turns[0].EndOfTurn || turns[0].Words[0].IsFinal {
		t.Errorf("partial = %+v", turns[0])
	}
	if turns[3].TurnOrder != 1 || turns[4].TurnOrder != 1 || !turns[4].EndOfTurn {
		t.Errorf("second utterance events = %+v, %+v", turns[3], turns[4])
	}
}

func TestAdapter_FramesPerStep(t *testing.T) {
	a := New(Config{Utterances: script, FramesPerStep: 3})
	cb := &testCallback{}
	_ = a.Start(context.Background(), cb)

	send(t, a, 5)
	a.mu.Lock()
	step := a.step
	a.mu.Unlock()
	if step != 1 {
		t.Errorf("step = %d after 5 frames, want 1", step)
	}
	a.Close()
}

func TestAdapter_CloseFinishesInterruptedTurn(t *testing.T) {
	a := New(Config{Utterances: script, FramesPerStep: 1})
	cb := &testCallback{}
	_ = a.Start(context.Background(), cb)

	send(t, a, 1)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	turns := cb.getTurns()
	if len(turns) != 2 {
		t.Fatalf("got %d events, want 2", len(turns))
	}
	if !turns[1].EndOfTurn || turns[1].Transcript != "good morning team" {
		t.Errorf("closing event = %+v", turns[1])
	}
}

func TestAdapter_CloseIsIdempotent(t *testing.T) {
	a := New(Config{Utterances: script})
	_ = a.Start(context.Background(), &testCallback{})

	for i := 0; i < 3; i++ {
		if err := a.Close(); err != nil {
			t.Fatalf("Close() #%d error = %v", i+1, err)
		}
	}
	if a.State() != stt.StateClosed {
		t.Errorf("State() = %v, want CLOSED", a.State())
	}
	if err := a.Start(context.Background(), &testCallback{}); err != stt.ErrChannelClosed {
		t.Errorf("Start() after close error = %v, want ErrChannelClosed", err)
	}
}

func TestAdapter_DropsAudioWhenNotOpen(t *testing.T) {
	a := New(Config{Utterances: script, FramesPerStep: 1})
	send(t, a, 3)
	if a.frames != 0 {
		t.Errorf("frames counted before Start: %d", a.frames)
	}
	a.Close()
	send(t, a, 3)
}

func TestAdapter_Loop(t *testing.T) {
	a := New(Config{Utterances: script[1:], FramesPerStep: 1, Loop: true})
	cb := &testCallback{}
	_ = a.Start(context.Background(), cb)

	send(t, a, 4)
	a.Close()

	turns := cb.getTurns()
	if len(turns) != 4 {
		t.Fatalf("got %d events, want 4", len(turns))
	}
	if turns[3].TurnOrder != 1 || !turns[3].EndOfTurn {
		t.Errorf("looped turn = %+v", turns[3])
	}
}
