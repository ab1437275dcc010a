package segment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/service/translate"
)

// recordingListener implements Listener for testing.
type recordingListener struct {
	mu           sync.Mutex
	segments     []models.Segment
	translations []models.Segment
	partials     []string
	errs         []error
	translated   chan models.Segment
	failed       chan error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		translated: make(chan models.Segment, 16),
		failed:     make(chan error, 16),
	}
}

func (l *recordingListener) OnSegment(seg models.Segment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segments = append(l.segments, seg)
}

func (l *recordingListener) OnTranslation(seg models.Segment) {
	l.mu.Lock()
	l.translations = append(l.translations, seg)
	l.mu.Unlock()
	l.translated <- seg
}

func (l *recordingListener) OnPartial(turnOrder int, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partials = append(l.partials, text)
}

func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
	l.failed <- err
}

func (l *recordingListener) segmentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.segments)
}

// funcTranslator adapts a function to translate.Translator.
type funcTranslator func(ctx context.Context, text, language string) (string, error)

func (f funcTranslator) Translate(ctx context.Context, text, language string) (string, error) {
	return f(ctx, text, language)
}

func (f funcTranslator) Name() string { return "test" }

// gatedTranslator blocks until released or the request context ends.
type gatedTranslator struct {
	release chan struct{}
	calls   chan string
}

func newGatedTranslator() *gatedTranslator {
	return &gatedTranslator{release: make(chan struct{}), calls: make(chan string, 64)}
}

func (g *gatedTranslator) Translate(ctx context.Context, text, language string) (string, error) {
	g.calls <- text
	select {
	case <-g.release:
		return "[" + language + "] " + text, nil
	case <-ctx.Done():
		return "", &translate.Error{Text: text, Language: language, Err: ctx.Err()}
	}
}

func (g *gatedTranslator) Name() string { return "gated" }

func final(text string, confidence float64) models.Word {
	return models.Word{Text: text, Confidence: confidence, IsFinal: true}
}

func provisional(text string) models.Word {
	return models.Word{Text: text, Confidence: 0.3}
}

func newTestAggregator(tr translate.Translator, l Listener) *Aggregator {
	cfg := DefaultConfig()
	cfg.SessionID = "sess"
	if tr != nil {
		cfg.TargetLanguage = "es"
	}
	a := NewAggregator(cfg, tr, l)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

func TestAggregator_ExplicitClose(t *testing.T) {
	l := newRecordingListener()
	a := newTestAggregator(nil, l)

	a.HandleTurn(models.TurnEvent{
		TurnOrder: 0,
		EndOfTurn: true,
		Words:     []models.Word{final("A", 0.8), final("B", 0.6)},
	})

	segs := a.Segments()
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].TurnOrder != 0 || segs[0].Text != "A B" {
		t.Errorf("unexpected segment: %+v", segs[0])
	}
	if diff := segs[0].Confidence - 0.7; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected confidence 0.7, got %v", segs[0].Confidence)
	}
	if segs[0].ID != "sess-seg-1" {
		t.Errorf("expected id sess-seg-1, got %s", segs[0].ID)
	}
	if l.segmentCount() != 1 {
		t.Errorf("expected listener to see 1 segment, got %d", l.segmentCount())
	}
	if turn, partial := a.Partial(); turn != noTurn || partial != "" {
		t.Errorf("expected no open turn, got %d %q", turn, partial)
	}
}

func TestAggregator_BoundaryViaTurnOrderJump(t *testing.T) {
	l := newRecordingListener()
	a := newTestAggregator(nil, l)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, Words: []models.Word{final("A", 1)}})
	if len(a.Segments()) != 0 {
		t.Fatal("expected no segment before turn closes")
	}

	a.HandleTurn(models.TurnEvent{TurnOrder: 1, Words: []models.Word{final("B", 1)}})
	segs := a.Segments()
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment after jump, got %d", len(segs))
	}
	if segs[0].TurnOrder != 0 || segs[0].Text != "A" {
		t.Errorf("expected turn 0 'A', got %+v", segs[0])
	}

	a.HandleTurn(models.TurnEvent{TurnOrder: 1, EndOfTurn: true})
	segs = a.Segments()
	if len(segs) != 2 || segs[1].TurnOrder != 1 || segs[1].Text != "B" {
		t.Errorf("expected turn 1 'B' second, got %+v", segs)
	}
}

func TestAggregator_IdempotentDedup(t *testing.T) {
	a := newTestAggregator(nil, nil)

	for i := 0; i < 5; i++ {
		a.HandleTurn(models.TurnEvent{
			TurnOrder: 3,
			Words:     []models.Word{final("hello", 0.9), final("world", 0.9), provisional("again")},
		})
	}
	a.HandleTurn(models.TurnEvent{TurnOrder: 3, EndOfTurn: true, Words: []models.Word{final("hello", 0.9)}})

	segs := a.Segments()
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Text != "hello world" {
		t.Errorf("expected 'hello world', got %q", segs[0].Text)
	}
	if len(segs[0].Words) != 2 {
		t.Errorf("expected 2 words, got %d", len(segs[0].Words))
	}
}

func TestAggregator_ProvisionalWordsNotStored(t *testing.T) {
	a := newTestAggregator(nil, nil)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, Words: []models.Word{provisional("maybe")}})
	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{provisional("maybe")}})

	if n := len(a.Segments()); n != 0 {
		t.Errorf("expected no segment from provisional words, got %d", n)
	}
}

func TestAggregator_DuplicateEventIsNoop(t *testing.T) {
	l := newRecordingListener()
	a := newTestAggregator(nil, l)

	ev := models.TurnEvent{TurnOrder: 0, Transcript: "A", Words: []models.Word{final("A", 1)}}
	a.HandleTurn(ev)
	a.HandleTurn(ev)

	if _, partial := a.Partial(); partial != "A" {
		t.Errorf("expected partial 'A', got %q", partial)
	}
	l.mu.Lock()
	partials := len(l.partials)
	l.mu.Unlock()
	if partials != 1 {
		t.Errorf("expected 1 partial notification, got %d", partials)
	}
	if len(a.Segments()) != 0 {
		t.Error("expected no segment")
	}
}

func TestAggregator_LateEventsForFinalizedTurnIgnored(t *testing.T) {
	a := newTestAggregator(nil, nil)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("hi", 1)}})
	// Formatted repeat of the same turn.
	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Formatted: true, Words: []models.Word{final("Hi.", 1)}})
	if len(a.Segments()) != 1 {
		t.Errorf("expected 1 segment, got %d", len(a.Segments()))
	}
}

func TestAggregator_OlderTurnClosesNewerOpenTurnAndIsDropped(t *testing.T) {
	a := newTestAggregator(nil, nil)

	if !a.HandleTurnFor(a.Epoch(), models.TurnEvent{TurnOrder: 5, Words: []models.Word{final("x", 1)}}) {
		t.Fatal("turn 5 should be applied")
	}
	// Turn 3 is above the last finalized order (none yet) but below the
	// open turn: it closes turn 5 and is then rejected.
	if a.HandleTurnFor(a.Epoch(), models.TurnEvent{TurnOrder: 3, Words: []models.Word{final("y", 1)}}) {
		t.Error("turn 3 should be rejected once turn 5 is finalized")
	}
	if turn, _ := a.Partial(); turn == 3 {
		t.Error("turn 3 must not become the open turn")
	}
	a.HandleTurn(models.TurnEvent{TurnOrder: 3, EndOfTurn: true, Words: []models.Word{final("y", 1)}})

	segs := a.Segments()
	if len(segs) != 1 || segs[0].TurnOrder != 5 || segs[0].Text != "x" {
		t.Fatalf("segments = %+v, want only turn 5 \"x\"", segs)
	}
}

func TestAggregator_ConfidenceIsMeanOfTurnWords(t *testing.T) {
	a := newTestAggregator(nil, nil)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, Words: []models.Word{final("a", 0.2)}})
	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("b", 0.6)}})

	segs := a.Segments()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if got := segs[0].Confidence; got < 0.399 || got > 0.401 {
		t.Errorf("confidence = %v, want 0.4", got)
	}
}

func TestAggregator_MonotonicOrdering(t *testing.T) {
	sequences := [][]models.TurnEvent{
		{
			{TurnOrder: 0, Words: []models.Word{final("a", 1)}},
			{TurnOrder: 2, Words: []models.Word{final("b", 1)}},
			{TurnOrder: 1, Words: []models.Word{final("late", 1)}},
			{TurnOrder: 1, EndOfTurn: true},
			{TurnOrder: 3, EndOfTurn: true, Words: []models.Word{final("c", 1)}},
		},
		{
			{TurnOrder: 5, Words: []models.Word{final("x", 1)}},
			{TurnOrder: 3, Words: []models.Word{final("y", 1)}},
			{TurnOrder: 3, EndOfTurn: true},
			{TurnOrder: 6, EndOfTurn: true, Words: []models.Word{final("z", 1)}},
		},
		{
			{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("a", 1)}},
			{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("a", 1)}},
			{TurnOrder: 1, Words: []models.Word{final("b", 1)}},
			{TurnOrder: 1, Words: []models.Word{final("c", 1)}},
			{TurnOrder: 4, Words: nil},
			{TurnOrder: 4, EndOfTurn: true, Words: []models.Word{final("d", 1)}},
		},
	}

	for i, seq := range sequences {
		a := newTestAggregator(nil, nil)
		for _, ev := range seq {
			a.HandleTurn(ev)
		}
		segs := a.Segments()
		if len(segs) == 0 {
			t.Errorf("sequence %d: expected segments", i)
		}
		seen := map[int]bool{}
		for j, s := range segs {
			if seen[s.TurnOrder] {
				t.Errorf("sequence %d: duplicate segment for turn %d", i, s.TurnOrder)
			}
			seen[s.TurnOrder] = true
			if j > 0 && s.TurnOrder <= segs[j-1].TurnOrder {
				t.Errorf("sequence %d: turn order not strictly increasing: %d after %d", i, s.TurnOrder, segs[j-1].TurnOrder)
			}
		}
	}
}

func TestAggregator_TranslationAttached(t *testing.T) {
	l := newRecordingListener()
	tr := funcTranslator(func(_ context.Context, text, language string) (string, error) {
		return language + ":" + text, nil
	})
	a := newTestAggregator(tr, l)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("hello", 1)}})

	select {
	case seg := <-l.translated:
		if seg.TranslatedText == nil || *seg.TranslatedText != "es:hello" {
			t.Errorf("unexpected translation: %+v", seg.TranslatedText)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for translation")
	}

	seg, ok := a.Segment(0)
	if !ok || seg.TranslatedText == nil || *seg.TranslatedText != "es:hello" {
		t.Errorf("expected stored translation, got %+v", seg)
	}
}

func TestAggregator_SameLanguageSkipsTranslation(t *testing.T) {
	called := make(chan struct{}, 1)
	tr := funcTranslator(func(_ context.Context, text, _ string) (string, error) {
		called <- struct{}{}
		return text, nil
	})
	cfg := DefaultConfig()
	cfg.SourceLanguage = "en"
	cfg.TargetLanguage = "EN"
	a := NewAggregator(cfg, tr, nil)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("hello", 1)}})
	if err := a.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected drain error: %v", err)
	}

	select {
	case <-called:
		t.Error("translator should not be called for same language")
	default:
	}
}

func TestAggregator_PendingTranslationDoesNotBlockSegments(t *testing.T) {
	gate := newGatedTranslator()
	defer close(gate.release)
	a := newTestAggregator(gate, nil)
	a.cfg.TranslateTimeout = 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		for turn := 0; turn < 20; turn++ {
			a.HandleTurn(models.TurnEvent{TurnOrder: turn, EndOfTurn: true, Words: []models.Word{final("w", 1)}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn handling blocked on pending translations")
	}
	if n := len(a.Segments()); n != 20 {
		t.Errorf("expected 20 segments, got %d", n)
	}
	for _, s := range a.Segments() {
		if s.IsTranslated() {
			t.Errorf("turn %d should not be translated yet", s.TurnOrder)
		}
	}
}

func TestAggregator_TranslationSingleAssignment(t *testing.T) {
	l := newRecordingListener()
	a := newTestAggregator(nil, l)
	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("hi", 1)}})

	epoch := a.Epoch()
	a.attach(epoch, 0, "first", nil)
	a.attach(epoch, 0, "second", nil)

	seg, _ := a.Segment(0)
	if seg.TranslatedText == nil || *seg.TranslatedText != "first" {
		t.Errorf("expected first translation to win, got %v", seg.TranslatedText)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.translations) != 1 {
		t.Errorf("expected 1 translation notification, got %d", len(l.translations))
	}
}

func TestAggregator_TranslationForMissingSegmentDiscarded(t *testing.T) {
	a := newTestAggregator(nil, nil)
	a.attach(a.Epoch(), 42, "orphan", nil)

	if len(a.Segments()) != 0 {
		t.Error("expected no segments")
	}
}

func TestAggregator_ResetDiscardsInFlightTranslation(t *testing.T) {
	gate := newGatedTranslator()
	a := newTestAggregator(gate, nil)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("old", 1)}})
	<-gate.calls

	a.Reset()
	a.HandleTurn(models.TurnEvent{TurnOrder: 0, Words: []models.Word{final("new", 1)}})
	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true})
	<-gate.calls

	close(gate.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Drain(ctx); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	segs := a.Segments()
	if len(segs) != 1 || segs[0].Text != "new" {
		t.Fatalf("expected only the new session segment, got %+v", segs)
	}
	if segs[0].TranslatedText == nil || *segs[0].TranslatedText != "[es] new" {
		t.Errorf("expected new segment translated from its own request, got %v", segs[0].TranslatedText)
	}
}

func TestAggregator_TranslationFailureLeavesSegmentUntranslated(t *testing.T) {
	l := newRecordingListener()
	tr := funcTranslator(func(_ context.Context, text, language string) (string, error) {
		return "", &translate.Error{Text: text, Language: language, Status: 500, Err: errors.New("boom")}
	})
	a := newTestAggregator(tr, l)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("hello", 1)}})

	select {
	case err := <-l.failed:
		var terr *translate.Error
		if !errors.As(err, &terr) || terr.Text != "hello" {
			t.Errorf("expected translate.Error carrying text, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for translation error")
	}

	seg, _ := a.Segment(0)
	if seg.IsTranslated() {
		t.Error("expected segment to remain untranslated")
	}
}

func TestAggregator_StopIgnoresEventsButKeepsTranslations(t *testing.T) {
	gate := newGatedTranslator()
	l := newRecordingListener()
	a := newTestAggregator(gate, l)

	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("one", 1)}})
	<-gate.calls
	a.Stop()

	a.HandleTurn(models.TurnEvent{TurnOrder: 1, EndOfTurn: true, Words: []models.Word{final("two", 1)}})
	if len(a.Segments()) != 1 {
		t.Errorf("expected events after stop to be ignored, got %d segments", len(a.Segments()))
	}

	close(gate.release)
	select {
	case seg := <-l.translated:
		if seg.TurnOrder != 0 {
			t.Errorf("expected translation for turn 0, got %d", seg.TurnOrder)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight translation should still attach after stop")
	}
}

func TestAggregator_StaleEpochIgnored(t *testing.T) {
	a := newTestAggregator(nil, nil)
	old := a.Epoch()
	a.Reset()

	if a.HandleTurnFor(old, models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("x", 1)}}) {
		t.Error("expected stale epoch event to be ignored")
	}
	if len(a.Segments()) != 0 {
		t.Error("expected no segments")
	}
}

func TestAggregator_ResetClearsState(t *testing.T) {
	a := newTestAggregator(nil, nil)
	a.HandleTurn(models.TurnEvent{TurnOrder: 7, EndOfTurn: true, Words: []models.Word{final("x", 1)}})
	a.HandleTurn(models.TurnEvent{TurnOrder: 8, Words: []models.Word{final("y", 1)}})

	a.ResetSession("next")

	if len(a.Segments()) != 0 {
		t.Error("expected segments cleared")
	}
	if turn, _ := a.Partial(); turn != noTurn {
		t.Errorf("expected no open turn, got %d", turn)
	}

	// Turn orders restart from zero in a new session.
	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("z", 1)}})
	segs := a.Segments()
	if len(segs) != 1 || segs[0].ID != "next-seg-2" {
		t.Errorf("expected next-seg-2, got %+v", segs)
	}
}

func TestAggregator_SegmentsSnapshotIsReadOnly(t *testing.T) {
	a := newTestAggregator(nil, nil)
	a.HandleTurn(models.TurnEvent{TurnOrder: 0, EndOfTurn: true, Words: []models.Word{final("x", 1)}})

	segs := a.Segments()
	segs[0].Text = "mutated"
	segs[0].Words[0].Text = "mutated"

	again := a.Segments()
	if again[0].Text != "x" || again[0].Words[0].Text != "x" {
		t.Errorf("snapshot mutation leaked into aggregator: %+v", again[0])
	}
}
