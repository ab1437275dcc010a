package segment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/observability/logging"
	"ai-live-transcription-service/internal/observability/metrics"
	"ai-live-transcription-service/internal/service/translate"
)

// noTurn marks that no turn is currently open.
const noTurn = -1

// Close kinds, used for logging and metrics.
const (
	closeExplicit = "end_of_turn"
	closeImplicit = "turn_order_change"
)

// Listener receives aggregator output. Calls are serialized and arrive in
// the order the underlying mutations happened. A Listener must not call
// back into the Aggregator.
type Listener interface {
	// OnSegment is called once per finalized turn.
	OnSegment(seg models.Segment)
	// OnTranslation is called when a translation is attached to a segment.
	OnTranslation(seg models.Segment)
	// OnPartial carries the live, non-durable text of the open turn.
	OnPartial(turnOrder int, text string)
	// OnError carries non-fatal problems, e.g. *translate.Error.
	OnError(err error)
}

// Config controls aggregation and translation.
type Config struct {
	SessionID        string
	SourceLanguage   string
	TargetLanguage   string
	TranslateTimeout time.Duration
	// MaxInFlight bounds concurrent translation requests.
	MaxInFlight int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionID:        "session",
		SourceLanguage:   "en",
		TranslateTimeout: 15 * time.Second,
		MaxInFlight:      8,
	}
}

// Aggregator turns recognizer events into an append-only sequence of
// segments, at most one per turn, in strictly increasing turn order.
//
// Every mutation runs to completion under mu. Translations run on their
// own goroutines and re-enter through attach, so a pending translation
// never holds up new turn events.
type Aggregator struct {
	mu         sync.Mutex
	notifyMu   sync.Mutex
	cfg        Config
	translator translate.Translator
	listener   Listener
	ids        *Generator
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time

	openTurnOrder int
	openWords     []models.Word
	openTexts     map[string]struct{}
	partial       string
	lastTurnOrder int
	segments      []models.Segment
	byTurn        map[int]int

	epoch  uint64
	closed bool

	inflight sync.WaitGroup
	sem      chan struct{}
}

// NewAggregator creates an aggregator. translator and listener may be nil.
func NewAggregator(cfg Config, translator translate.Translator, listener Listener) *Aggregator {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	a := &Aggregator{
		cfg:        cfg,
		translator: translator,
		listener:   listener,
		ids:        New(),
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithSession(cfg.SessionID).With().Str("component", "aggregator").Logger(),
		now:        time.Now,
		sem:        make(chan struct{}, cfg.MaxInFlight),
	}
	a.clearLocked()
	return a
}

// SetListener replaces the listener. Intended for wiring before events flow.
func (a *Aggregator) SetListener(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = l
}

// HandleTurn applies ev to the current session.
func (a *Aggregator) HandleTurn(ev models.TurnEvent) {
	a.mu.Lock()
	epoch := a.epoch
	a.mu.Unlock()
	a.HandleTurnFor(epoch, ev)
}

// HandleTurnFor applies ev only if epoch is still current. Channels bind
// to the epoch returned by Reset so that late events from a previous
// session are ignored. Returns false if the event was ignored.
func (a *Aggregator) HandleTurnFor(epoch uint64, ev models.TurnEvent) bool {
	a.mu.Lock()

	logger := a.logger
	if a.closed || epoch != a.epoch {
		reason := "stopped"
		if epoch != a.epoch {
			reason = "stale_session"
		}
		a.mu.Unlock()
		a.metrics.RecordTurnIgnored(reason)
		logger.Debug().Int("turnOrder", ev.TurnOrder).Str("reason", reason).Msg("Turn event ignored")
		return false
	}

	if ev.TurnOrder <= a.lastTurnOrder {
		last := a.lastTurnOrder
		a.mu.Unlock()
		a.metrics.RecordTurnIgnored("already_finalized")
		logger.Debug().
			Int("turnOrder", ev.TurnOrder).
			Int("lastTurnOrder", last).
			Msg("Turn event for finalized turn ignored")
		return false
	}

	var out []func(Listener)

	// A different turn order closes whatever is open.
	if ev.TurnOrder != a.openTurnOrder {
		if len(a.openWords) > 0 {
			a.logger.Info().
				Int("closedTurn", a.openTurnOrder).
				Int("newTurn", ev.TurnOrder).
				Msg("Turn closed implicitly by turn order change")
			out = append(out, a.finalizeLocked(closeImplicit)...)
		}
		a.resetOpenLocked()
		// The implicit close above may have raised lastTurnOrder past ev:
		// an older order cannot open a turn behind a finalized one.
		if ev.TurnOrder <= a.lastTurnOrder {
			a.metrics.RecordTurnIgnored("out_of_order")
			a.dispatch(out)
			return false
		}
		a.openTurnOrder = ev.TurnOrder
	}

	for _, w := range ev.Words {
		if !w.IsFinal {
			continue
		}
		if _, seen := a.openTexts[w.Text]; seen {
			continue
		}
		a.openTexts[w.Text] = struct{}{}
		a.openWords = append(a.openWords, w)
	}

	if p := partialText(ev); p != a.partial && !ev.EndOfTurn {
		a.partial = p
		turn := ev.TurnOrder
		out = append(out, func(l Listener) { l.OnPartial(turn, p) })
	}

	if ev.EndOfTurn && len(a.openWords) > 0 {
		out = append(out, a.finalizeLocked(closeExplicit)...)
		a.resetOpenLocked()
	}

	a.dispatch(out)
	return true
}

// finalizeLocked appends a segment for the open turn and schedules its
// translation. Confidence is the mean over every final word accumulated
// for the turn, not only those of the closing event. Returns the
// notifications to deliver.
func (a *Aggregator) finalizeLocked(kind string) []func(Listener) {
	texts := make([]string, len(a.openWords))
	var sum float64
	for i, w := range a.openWords {
		texts[i] = w.Text
		sum += w.Confidence
	}

	seg := models.Segment{
		ID:         a.ids.Next(a.cfg.SessionID),
		TurnOrder:  a.openTurnOrder,
		Text:       strings.Join(texts, " "),
		Words:      append([]models.Word(nil), a.openWords...),
		Confidence: sum / float64(len(a.openWords)),
		CreatedAt:  a.now(),
	}
	a.byTurn[seg.TurnOrder] = len(a.segments)
	a.segments = append(a.segments, seg)
	a.lastTurnOrder = seg.TurnOrder

	a.metrics.RecordSegmentCreated(kind)
	a.logger.Info().
		Str("segmentId", seg.ID).
		Int("turnOrder", seg.TurnOrder).
		Int("words", len(seg.Words)).
		Float64("confidence", seg.Confidence).
		Str("close", kind).
		Msg("Segment finalized")

	snapshot := seg.Clone()
	out := []func(Listener){func(l Listener) { l.OnSegment(snapshot) }}

	if a.needsTranslation() {
		a.requestTranslationLocked(a.epoch, seg.TurnOrder, seg.Text)
	}
	return out
}

func (a *Aggregator) needsTranslation() bool {
	return a.translator != nil &&
		a.cfg.TargetLanguage != "" &&
		!strings.EqualFold(a.cfg.TargetLanguage, a.cfg.SourceLanguage)
}

// requestTranslationLocked starts a fire-and-forget translation keyed by
// turn order. The semaphore is acquired on the worker goroutine.
func (a *Aggregator) requestTranslationLocked(epoch uint64, turnOrder int, text string) {
	a.metrics.RecordTranslationRequested()
	a.inflight.Add(1)

	translator := a.translator
	language := a.cfg.TargetLanguage
	timeout := a.cfg.TranslateTimeout

	go func() {
		defer a.inflight.Done()
		a.sem <- struct{}{}
		defer func() { <-a.sem }()

		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		translated, err := translator.Translate(ctx, text, language)
		a.metrics.RecordTranslationResult(translator.Name(), err, time.Since(start).Seconds())
		a.attach(epoch, turnOrder, translated, err)
	}()
}

// attach writes a translation result into its segment, at most once.
func (a *Aggregator) attach(epoch uint64, turnOrder int, translated string, err error) {
	a.mu.Lock()

	if epoch != a.epoch {
		logger := a.logger
		a.mu.Unlock()
		a.metrics.RecordTranslationDiscarded("reset")
		logger.Debug().Int("turnOrder", turnOrder).Msg("Translation discarded after reset")
		return
	}

	if err != nil {
		turnLogger := logging.WithTurn(a.cfg.SessionID, turnOrder)
		turnLogger.Warn().
			Err(err).
			Str("component", "aggregator").
			Msg("Translation failed, segment left untranslated")
		a.dispatch([]func(Listener){func(l Listener) { l.OnError(err) }})
		return
	}

	idx, ok := a.byTurn[turnOrder]
	if !ok {
		a.mu.Unlock()
		a.metrics.RecordTranslationDiscarded("missing_segment")
		return
	}
	seg := &a.segments[idx]
	if seg.IsTranslated() {
		a.mu.Unlock()
		a.metrics.RecordTranslationDiscarded("already_attached")
		return
	}

	t := translated
	seg.TranslatedText = &t
	a.metrics.RecordTranslationAttached()
	a.logger.Debug().Str("segmentId", seg.ID).Int("turnOrder", turnOrder).Msg("Translation attached")

	snapshot := seg.Clone()
	a.dispatch([]func(Listener){func(l Listener) { l.OnTranslation(snapshot) }})
}

// dispatch releases mu and delivers notifications in mutation order.
// Must be called with mu held.
func (a *Aggregator) dispatch(out []func(Listener)) {
	l := a.listener
	if l == nil || len(out) == 0 {
		a.mu.Unlock()
		return
	}
	a.notifyMu.Lock()
	a.mu.Unlock()
	defer a.notifyMu.Unlock()
	for _, fn := range out {
		fn(l)
	}
}

// Reset clears all state and starts a new session epoch. In-flight
// translations from earlier epochs are discarded when they resolve.
func (a *Aggregator) Reset() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch++
	a.closed = false
	a.clearLocked()
	a.logger.Info().Uint64("epoch", a.epoch).Msg("Aggregator reset")
	return a.epoch
}

// ResetSession is Reset with a new session ID for segment IDs and logs.
func (a *Aggregator) ResetSession(sessionId string) uint64 {
	a.mu.Lock()
	a.cfg.SessionID = sessionId
	a.logger = logging.WithSession(sessionId).With().Str("component", "aggregator").Logger()
	a.mu.Unlock()
	return a.Reset()
}

// Stop makes the aggregator ignore further turn events. Segments remain
// readable and in-flight translations may still attach.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.resetOpenLocked()
}

// Drain waits for in-flight translations or until ctx is done.
func (a *Aggregator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Segments returns a copy of the segment sequence.
func (a *Aggregator) Segments() []models.Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Segment, len(a.segments))
	for i, s := range a.segments {
		out[i] = s.Clone()
	}
	return out
}

// Segment returns the segment for a turn, if any.
func (a *Aggregator) Segment(turnOrder int) (models.Segment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.byTurn[turnOrder]
	if !ok {
		return models.Segment{}, false
	}
	return a.segments[idx].Clone(), true
}

// Partial returns the live text of the open turn, if any.
func (a *Aggregator) Partial() (int, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openTurnOrder, a.partial
}

// Epoch returns the current session epoch.
func (a *Aggregator) Epoch() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}

// SessionID returns the session the held segments belong to.
func (a *Aggregator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.SessionID
}

func (a *Aggregator) clearLocked() {
	a.resetOpenLocked()
	a.lastTurnOrder = noTurn
	a.segments = nil
	a.byTurn = make(map[int]int)
}

func (a *Aggregator) resetOpenLocked() {
	a.openTurnOrder = noTurn
	a.openWords = nil
	a.openTexts = make(map[string]struct{})
	a.partial = ""
}

// partialText prefers the recognizer's transcript and falls back to all
// word hypotheses, final or not.
func partialText(ev models.TurnEvent) string {
	if ev.Transcript != "" {
		return ev.Transcript
	}
	texts := make([]string, 0, len(ev.Words))
	for _, w := range ev.Words {
		texts = append(texts, w.Text)
	}
	return strings.Join(texts, " ")
}
