// Package websocket streams PCM16 frames to a turn-based recognizer over a
// websocket and delivers its Turn messages as models.TurnEvent values.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/observability/logging"
	"ai-live-transcription-service/internal/observability/metrics"
	"ai-live-transcription-service/internal/service/stt"
)

const provider = "websocket"

// Config holds channel settings.
type Config struct {
	URL    string
	APIKey string
	// SampleRate is advertised to the backend as a query parameter.
	SampleRate  int
	FormatTurns bool
	// TextFrames sends audio as {"type":"audio","data":<base64>} text
	// messages instead of binary frames.
	TextFrames bool
	// QueueSize bounds outbound frames; the oldest is dropped when full.
	QueueSize        int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// DrainTimeout bounds how long Close waits for the backend to finish
	// after the stop message.
	DrainTimeout time.Duration
	SessionID    string
}

// DefaultConfig returns the defaults for a 16 kHz stream.
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		FormatTurns:      true,
		QueueSize:        64,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		DrainTimeout:     2 * time.Second,
	}
}

var (
	_ stt.Adapter    = (*Adapter)(nil)
	_ stt.Endpointer = (*Adapter)(nil)
)

// Adapter implements stt.Adapter over a websocket.
type Adapter struct {
	cfg     Config
	dialer  *gws.Dialer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu         sync.Mutex
	state      stt.ChannelState
	conn       *gws.Conn
	cb         stt.Callback
	closing    bool
	terminated bool
	failErr    error

	queue      chan []byte
	ctrl       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	readerDone chan struct{}
	inCallback atomic.Bool
	sent       atomic.Uint64
}

// New creates a channel in CONNECTING state. Nothing is dialed until Start.
func New(cfg Config) *Adapter {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DrainTimeout < 0 {
		cfg.DrainTimeout = 0
	}
	return &Adapter{
		cfg:        cfg,
		dialer:     &gws.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithChannel(cfg.SessionID, provider),
		state:      stt.StateConnecting,
		queue:      make(chan []byte, cfg.QueueSize),
		ctrl:       make(chan []byte, 4),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

// State implements stt.Adapter.
func (a *Adapter) State() stt.ChannelState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start dials the backend. A dial failure closes the channel and is
// returned as a *stt.TransportError; no retry is attempted.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	if a.state == stt.StateClosed {
		a.mu.Unlock()
		return stt.ErrChannelClosed
	}
	if a.conn != nil || a.cb != nil {
		a.mu.Unlock()
		return fmt.Errorf("websocket channel already started")
	}
	a.cb = cb
	a.mu.Unlock()

	target, err := a.dialURL()
	if err != nil {
		return a.failStart(&stt.TransportError{Op: "dial", Err: err})
	}

	headers := http.Header{}
	if a.cfg.APIKey != "" {
		headers.Set("Authorization", a.cfg.APIKey)
	}

	a.logger.Debug().Str("url", redact(target)).Msg("Connecting to recognizer")
	conn, resp, err := a.dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return a.failStart(&stt.TransportError{Op: "dial", Err: err})
	}

	a.mu.Lock()
	if a.state == stt.StateClosed {
		// Closed while dialing.
		a.mu.Unlock()
		_ = conn.Close()
		return stt.ErrChannelClosed
	}
	a.conn = conn
	a.setStateLocked(stt.StateOpen)
	a.mu.Unlock()

	a.logger.Info().
		Int("sampleRate", a.cfg.SampleRate).
		Bool("textFrames", a.cfg.TextFrames).
		Int("queueSize", a.cfg.QueueSize).
		Msg("Recognizer channel open")

	go a.writeLoop(conn)
	go a.readLoop(conn)
	return nil
}

func (a *Adapter) failStart(err *stt.TransportError) error {
	a.mu.Lock()
	a.shutdownLocked()
	a.mu.Unlock()
	close(a.writerDone)
	close(a.readerDone)
	a.metrics.RecordTransportError(provider, err.Op)
	a.logger.Error().Err(err).Msg("Recognizer channel failed to open")
	return err
}

// SendAudio implements stt.Adapter. Frames offered while not OPEN are
// dropped. When the queue is full the oldest queued frame is discarded.
func (a *Adapter) SendAudio(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stt.StateOpen {
		a.metrics.RecordFrameDropped("not_open")
		return nil
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case a.queue <- buf:
		return nil
	default:
	}

	select {
	case <-a.queue:
		a.metrics.RecordFrameDropped("queue_full")
		a.logger.Warn().Int("queueSize", a.cfg.QueueSize).Msg("Outbound queue full, dropped oldest frame")
	default:
	}
	select {
	case a.queue <- buf:
	default:
		a.metrics.RecordFrameDropped("queue_full")
	}
	return nil
}

// ForceEndpoint asks the backend to finalize the current turn.
func (a *Adapter) ForceEndpoint() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stt.StateOpen {
		return stt.ErrChannelClosed
	}
	select {
	case a.ctrl <- encodeControl(typeForceEndpoint):
		return nil
	default:
		return fmt.Errorf("control queue full")
	}
}

// Close implements stt.Adapter. If the channel is open it sends the stop
// message, waits up to DrainTimeout for the backend to finish and closes
// the connection. Safe to call repeatedly and concurrently with SendAudio.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.state == stt.StateClosed {
		a.mu.Unlock()
		return nil
	}
	wasOpen := a.state == stt.StateOpen
	a.closing = true
	a.shutdownLocked()
	conn := a.conn
	a.mu.Unlock()

	if !wasOpen || conn == nil {
		return nil
	}

	<-a.writerDone

	var firstErr error
	deadline := time.Now().Add(a.cfg.WriteTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(gws.TextMessage, encodeControl(typeStop)); err != nil {
		firstErr = &stt.TransportError{Op: "stop", Err: err}
	}

	// The reader keeps delivering trailing turns until the backend
	// terminates. Waiting from inside a callback would deadlock.
	if firstErr == nil && a.cfg.DrainTimeout > 0 && !a.inCallback.Load() {
		timer := time.NewTimer(a.cfg.DrainTimeout)
		select {
		case <-a.readerDone:
		case <-timer.C:
			a.logger.Warn().Dur("timeout", a.cfg.DrainTimeout).Msg("Recognizer did not terminate in time")
		}
		timer.Stop()
	}

	_ = conn.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	if err := conn.Close(); err != nil && firstErr == nil && !errors.Is(err, net.ErrClosed) {
		firstErr = err
	}

	a.logger.Info().Uint64("framesSent", a.sent.Load()).Msg("Recognizer channel closed")
	return firstErr
}

// setStateLocked records a transition. Caller holds mu.
func (a *Adapter) setStateLocked(to stt.ChannelState) {
	if a.state == to {
		return
	}
	a.state = to
	a.metrics.RecordChannelTransition(provider, to.String())
}

// shutdownLocked moves to CLOSED and stops the writer. Caller holds mu.
func (a *Adapter) shutdownLocked() {
	if a.state == stt.StateClosed {
		return
	}
	a.setStateLocked(stt.StateClosed)
	close(a.done)
}

func (a *Adapter) writeLoop(conn *gws.Conn) {
	defer close(a.writerDone)

	for {
		select {
		case <-a.done:
			return
		case msg := <-a.ctrl:
			if err := a.write(conn, gws.TextMessage, msg); err != nil {
				a.writeFailed(conn, err)
				return
			}
		case frame := <-a.queue:
			kind, payload := gws.BinaryMessage, frame
			if a.cfg.TextFrames {
				kind, payload = gws.TextMessage, encodeAudioText(frame)
			}
			if err := a.write(conn, kind, payload); err != nil {
				a.writeFailed(conn, err)
				return
			}
			n := a.sent.Add(1)
			a.metrics.RecordFrameSent(len(frame))
			if n%100 == 1 {
				a.logger.Debug().Uint64("frames", n).Int("bytes", len(frame)).Msg("Audio frame sent")
			}
		}
	}
}

func (a *Adapter) write(conn *gws.Conn, kind int, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, payload)
}

// writeFailed closes the connection; the reader reports the error.
func (a *Adapter) writeFailed(conn *gws.Conn, err error) {
	a.mu.Lock()
	if !a.closing && a.failErr == nil {
		a.failErr = &stt.TransportError{Op: "write", Err: err}
	}
	a.shutdownLocked()
	a.mu.Unlock()
	_ = conn.Close()
}

func (a *Adapter) readLoop(conn *gws.Conn) {
	defer close(a.readerDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.readFailed(conn, err)
			return
		}

		msg, perr := ParseMessage(data)
		if perr != nil {
			merr := stt.NewMalformedEvent(data, perr)
			a.metrics.RecordMalformedEvent()
			a.logger.Warn().Err(perr).Str("payload", merr.Payload).Msg("Skipping malformed event")
			a.deliver(func(cb stt.Callback) { cb.OnError(merr) })
			continue
		}

		switch m := msg.(type) {
		case *TurnMessage:
			a.metrics.RecordTurnEvent()
			ev := m.TurnEvent
			a.deliver(func(cb stt.Callback) { cb.OnTurn(ev) })
		case *BeginMessage:
			a.logger.Info().Str("backendSession", m.ID).Int64("expiresAt", m.ExpiresAt).Msg("Recognizer session started")
		case *TerminationMessage:
			a.logger.Info().
				Float64("audioSeconds", m.AudioDurationSeconds).
				Float64("sessionSeconds", m.SessionDurationSeconds).
				Msg("Recognizer session terminated")
			a.mu.Lock()
			requested := a.closing
			a.terminated = true
			a.shutdownLocked()
			a.mu.Unlock()
			_ = conn.Close()
			if !requested {
				// Unrequested end of stream: the caller must stop feeding audio.
				terr := &stt.TransportError{Op: "terminated", Err: errors.New("backend ended the session")}
				a.metrics.RecordTransportError(provider, terr.Op)
				a.logger.Error().Err(terr).Msg("Recognizer channel terminated by backend")
				a.deliver(func(cb stt.Callback) { cb.OnError(terr) })
			}
			return
		case *ErrorMessage:
			a.mu.Lock()
			if a.failErr == nil {
				a.failErr = &stt.TransportError{Op: "backend", Err: errors.New(m.Error)}
			}
			a.mu.Unlock()
			a.readFailed(conn, errors.New(m.Error))
			return
		}
	}
}

// readFailed reports the channel failure unless the channel is closing
// on request or was terminated by the backend.
func (a *Adapter) readFailed(conn *gws.Conn, err error) {
	a.mu.Lock()
	if a.closing || a.terminated {
		a.mu.Unlock()
		return
	}
	if a.failErr == nil {
		a.failErr = &stt.TransportError{Op: "read", Err: err}
	}
	ferr := a.failErr
	a.shutdownLocked()
	a.mu.Unlock()
	_ = conn.Close()

	var terr *stt.TransportError
	if errors.As(ferr, &terr) {
		a.metrics.RecordTransportError(provider, terr.Op)
	}
	a.logger.Error().Err(ferr).Msg("Recognizer channel failed")
	a.deliver(func(cb stt.Callback) { cb.OnError(ferr) })
}

func (a *Adapter) deliver(fn func(stt.Callback)) {
	a.mu.Lock()
	cb := a.cb
	a.mu.Unlock()
	if cb == nil {
		return
	}
	a.inCallback.Store(true)
	defer a.inCallback.Store(false)
	fn(cb)
}

func (a *Adapter) dialURL() (string, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(a.cfg.SampleRate))
	q.Set("encoding", "pcm_s16le")
	if a.cfg.FormatTurns {
		q.Set("format_turns", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
