package capture

import (
	"errors"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateNoPermission {
		t.Errorf("expected StateNoPermission, got %v", lc.State())
	}
	if lc.State().IsTerminal() {
		t.Error("expected non-terminal initial state")
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	lc := NewLifecycle()

	steps := []struct {
		name string
		do   func() error
		want State
	}{
		{"grant", lc.Grant, StateIdle},
		{"begin", lc.Begin, StateCapturing},
		{"pause", lc.Pause, StatePaused},
		{"pause again", lc.Pause, StatePaused},
		{"resume", lc.Resume, StateCapturing},
		{"pause", lc.Pause, StatePaused},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: unexpected error: %v", step.name, err)
		}
		if lc.State() != step.want {
			t.Fatalf("%s: expected %v, got %v", step.name, step.want, lc.State())
		}
	}

	prev, err := lc.Stop()
	if err != nil {
		t.Fatalf("stop: unexpected error: %v", err)
	}
	if prev != StatePaused {
		t.Errorf("expected previous state PAUSED, got %v", prev)
	}
	if !lc.State().IsTerminal() {
		t.Error("expected terminal state after stop")
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup []func(*Lifecycle) error
		do    func(*Lifecycle) error
	}{
		{"begin without permission", nil, (*Lifecycle).Begin},
		{"pause while idle", []func(*Lifecycle) error{(*Lifecycle).Grant}, (*Lifecycle).Pause},
		{"resume while idle", []func(*Lifecycle) error{(*Lifecycle).Grant}, (*Lifecycle).Resume},
		{"begin twice", []func(*Lifecycle) error{(*Lifecycle).Grant, (*Lifecycle).Begin}, (*Lifecycle).Begin},
		{"stop without permission", nil, func(l *Lifecycle) error { _, err := l.Stop(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			for _, s := range tt.setup {
				if err := s(lc); err != nil {
					t.Fatalf("setup failed: %v", err)
				}
			}
			if err := tt.do(lc); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestLifecycle_StoppedIsTerminal(t *testing.T) {
	lc := NewLifecycle()
	_ = lc.Grant()
	if _, err := lc.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := lc.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
	for name, fn := range map[string]func() error{
		"grant":  lc.Grant,
		"begin":  lc.Begin,
		"pause":  lc.Pause,
		"resume": lc.Resume,
	} {
		if err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s after stop: expected ErrInvalidTransition, got %v", name, err)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNoPermission, "NO_PERMISSION"},
		{StateIdle, "IDLE"},
		{StateCapturing, "CAPTURING"},
		{StatePaused, "PAUSED"},
		{StateStopped, "STOPPED"},
		{State(42), "UNKNOWN(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}
