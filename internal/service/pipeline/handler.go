// Package pipeline coordinates one live transcription session: capture
// blocks are encoded and streamed to a recognizer channel, and the
// channel's turn events feed the segment aggregator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/observability/logging"
	"ai-live-transcription-service/internal/observability/metrics"
	"ai-live-transcription-service/internal/schema"
	"ai-live-transcription-service/internal/service/audio"
	"ai-live-transcription-service/internal/service/capture"
	"ai-live-transcription-service/internal/service/segment"
	"ai-live-transcription-service/internal/service/stt"
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("session already active")
	// ErrNoSession is returned by Pause, Resume and Stop without a session.
	ErrNoSession = errors.New("no active session")
)

// debugEvery samples per-frame debug logging.
const debugEvery = 100

// AdapterFactory opens a fresh recognizer channel for a session.
type AdapterFactory func(sessionID string) (stt.Adapter, error)

// LevelFunc receives capture level samples.
type LevelFunc func(sessionID string, level capture.Level)

// Config controls the coordinator.
type Config struct {
	Capture capture.Config
	// DeviceID selects the input device; empty means the default.
	DeviceID string
	// SendTimeout bounds one SendAudio call.
	SendTimeout time.Duration
}

// Handler manages audio transcription sessions, one at a time.
// It owns the capture session and the recognizer channel of the running
// session and forwards the channel's events to the aggregator.
type Handler struct {
	cfg        Config
	platform   capture.Platform
	newAdapter AdapterFactory
	aggregator *segment.Aggregator
	listener   segment.Listener
	validator  *schema.Validator
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu        sync.Mutex
	current   *run
	onLevel   LevelFunc
	onSession func(sessionID string)
}

// run is one session: capture, channel and the epoch both are bound to.
type run struct {
	id      string
	epoch   uint64
	capture *capture.Session
	adapter stt.Adapter
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	logger  zerolog.Logger
}

// NewHandler creates a coordinator. listener receives aggregator output
// and pipeline errors; it may be nil.
func NewHandler(cfg Config, platform capture.Platform, newAdapter AdapterFactory, agg *segment.Aggregator, listener segment.Listener) *Handler {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if listener != nil {
		agg.SetListener(listener)
	}
	return &Handler{
		cfg:        cfg,
		platform:   platform,
		newAdapter: newAdapter,
		aggregator: agg,
		listener:   listener,
		validator:  schema.New(),
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("pipeline"),
	}
}

// SetLevelFunc installs a receiver for capture levels.
func (h *Handler) SetLevelFunc(fn LevelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLevel = fn
}

// SetSessionFunc installs a hook called with each new session ID once the
// aggregator has been reset for it.
func (h *Handler) SetSessionFunc(fn func(sessionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSession = fn
}

// Aggregator returns the segment aggregator.
func (h *Handler) Aggregator() *segment.Aggregator { return h.aggregator }

// Segments returns a snapshot of the current session's segments.
func (h *Handler) Segments() []models.Segment { return h.aggregator.Segments() }

// Start begins a session: the aggregator is reset, the recognizer channel
// is opened and capture starts on the configured device.
func (h *Handler) Start(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		select {
		case <-h.current.done:
			h.current = nil
		default:
			return fmt.Errorf("%w: %s", ErrSessionActive, h.current.id)
		}
	}

	logger := logging.WithSession(sessionID)
	session := capture.NewSession(h.platform, h.cfg.Capture)
	if err := session.RequestPermission(ctx); err != nil {
		return err
	}

	adapter, err := h.newAdapter(sessionID)
	if err != nil {
		return fmt.Errorf("create recognizer channel: %w", err)
	}

	// Reset before the channel opens so events from an older session can
	// never land in this one.
	epoch := h.aggregator.ResetSession(sessionID)
	if h.onSession != nil {
		h.onSession(sessionID)
	}
	r := &run{
		id:      sessionID,
		epoch:   epoch,
		capture: session,
		adapter: adapter,
		started: time.Now(),
		done:    make(chan struct{}),
		logger:  logger,
	}

	if err := adapter.Start(ctx, &binding{h: h, run: r}); err != nil {
		h.aggregator.Stop()
		return err
	}
	if err := session.Start(ctx, h.cfg.DeviceID); err != nil {
		_ = adapter.Close()
		h.aggregator.Stop()
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	h.current = r

	h.metrics.RecordStreamStart()
	logger.Info().
		Uint64("epoch", epoch).
		Str("deviceId", session.DeviceID()).
		Msg("Transcription session started")

	go h.pump(pumpCtx, r)
	go h.forwardLevels(r)
	return nil
}

// Pause suspends capture; the channel stays open.
func (h *Handler) Pause() error {
	r, err := h.active()
	if err != nil {
		return err
	}
	return r.capture.Pause()
}

// Resume restarts capture after Pause.
func (h *Handler) Resume() error {
	r, err := h.active()
	if err != nil {
		return err
	}
	return r.capture.Resume()
}

// Stop ends the session: capture stops and flushes, the flushed audio is
// sent, the channel is closed and the aggregator stops taking events.
// In-flight translations are not awaited.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	r := h.current
	h.mu.Unlock()
	if r == nil {
		return ErrNoSession
	}

	if err := r.capture.Stop(); err != nil && !errors.Is(err, capture.ErrInvalidTransition) {
		r.logger.Warn().Err(err).Msg("Capture stop failed")
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		r.cancel()
		<-r.done
	}

	h.mu.Lock()
	if h.current == r {
		h.current = nil
	}
	h.mu.Unlock()
	return nil
}

// ForceEndpoint asks the recognizer to finalize the current turn now.
func (h *Handler) ForceEndpoint() error {
	r, err := h.active()
	if err != nil {
		return err
	}
	ep, ok := r.adapter.(stt.Endpointer)
	if !ok {
		return stt.ErrEndpointUnsupported
	}
	if err := ep.ForceEndpoint(); err != nil {
		return fmt.Errorf("force endpoint: %w", err)
	}
	r.logger.Debug().Msg("Turn endpoint requested")
	return nil
}

// Done is closed when the current session ends, whether by Stop, end of
// the capture source or a channel failure. Without a session it is
// already closed.
func (h *Handler) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return h.current.done
}

// Status describes the running session, if any.
type Status struct {
	SessionID    string        `json:"sessionId,omitempty"`
	Active       bool          `json:"active"`
	CaptureState string        `json:"captureState,omitempty"`
	ChannelState string        `json:"channelState,omitempty"`
	Recorded     time.Duration `json:"recordedNs"`
	Segments     int           `json:"segments"`
	Epoch        uint64        `json:"epoch"`
}

// Status reports the current session.
func (h *Handler) Status() Status {
	h.mu.Lock()
	r := h.current
	h.mu.Unlock()

	st := Status{
		Segments: len(h.aggregator.Segments()),
		Epoch:    h.aggregator.Epoch(),
	}
	if r == nil {
		// Segments outlive their session until the next Start.
		if st.Epoch > 0 {
			st.SessionID = h.aggregator.SessionID()
		}
		return st
	}
	select {
	case <-r.done:
		st.SessionID = r.id
	default:
		st.Active = true
		st.SessionID = r.id
	}
	st.CaptureState = r.capture.State().String()
	st.ChannelState = r.adapter.State().String()
	st.Recorded = r.capture.Duration()
	return st
}

func (h *Handler) active() (*run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil, ErrNoSession
	}
	select {
	case <-h.current.done:
		return nil, ErrNoSession
	default:
		return h.current, nil
	}
}

// pump encodes capture blocks and offers them to the channel until capture
// closes its output, then closes the channel.
func (h *Handler) pump(ctx context.Context, r *run) {
	defer close(r.done)

	success := true
	var blocks, bytes int
	for block := range r.capture.Blocks() {
		frame := audio.EncodePCM16(block.Samples)
		sendCtx, cancel := context.WithTimeout(ctx, h.cfg.SendTimeout)
		err := r.adapter.SendAudio(sendCtx, frame)
		cancel()
		if err != nil {
			r.logger.Warn().Err(err).Uint64("seq", block.Seq).Msg("Audio frame not sent")
			if ctx.Err() != nil {
				_ = r.capture.Stop()
			}
			continue
		}
		blocks++
		bytes += len(frame)
		if blocks%debugEvery == 0 {
			r.logger.Debug().Int("blocks", blocks).Int("bytes", bytes).Msg("Audio frames sent")
		}
		if block.Final {
			r.logger.Debug().Int("samples", len(block.Samples)).Msg("Final capture block flushed")
		}
	}

	select {
	case err := <-r.capture.Errors():
		success = false
		h.notifyError(err)
	default:
	}

	if err := r.adapter.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Recognizer channel close failed")
	}
	h.aggregator.Stop()

	h.metrics.RecordStreamEnd(success, time.Since(r.started).Seconds())
	r.logger.Info().
		Int("blocks", blocks).
		Int("bytes", bytes).
		Dur("recorded", r.capture.Duration()).
		Bool("success", success).
		Msg("Transcription session ended")
}

func (h *Handler) forwardLevels(r *run) {
	for lvl := range r.capture.Levels() {
		h.mu.Lock()
		fn := h.onLevel
		h.mu.Unlock()
		if fn != nil {
			fn(r.id, lvl)
		}
	}
}

func (h *Handler) notifyError(err error) {
	if h.listener != nil {
		h.listener.OnError(err)
	}
}

// binding is the stt.Callback of one run. Events are applied only while
// the run's epoch is current.
type binding struct {
	h   *Handler
	run *run
}

func (b *binding) OnTurn(ev models.TurnEvent) {
	if err := b.h.validator.Validate(ev); err != nil {
		b.h.metrics.RecordMalformedEvent()
		b.run.logger.Warn().Err(err).Int("turnOrder", ev.TurnOrder).Msg("Skipping invalid turn event")
		b.h.notifyError(stt.NewMalformedEvent(nil, err))
		return
	}
	b.h.aggregator.HandleTurnFor(b.run.epoch, ev)
}

func (b *binding) OnError(err error) {
	if !stt.IsFatal(err) {
		b.run.logger.Warn().Err(err).Msg("Recoverable recognizer error")
		b.h.notifyError(err)
		return
	}

	b.run.logger.Error().Err(err).Msg("Recognizer channel failed, stopping capture")
	b.h.notifyError(err)
	// Capture stop closes Blocks, which ends the pump. Not done inline so the
	// channel's reader is never blocked on capture teardown.
	go func() {
		if err := b.run.capture.Stop(); err != nil && !errors.Is(err, capture.ErrInvalidTransition) {
			b.run.logger.Warn().Err(err).Msg("Capture stop failed")
		}
	}()
}
