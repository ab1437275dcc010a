// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/observability/logging"
	"ai-live-transcription-service/internal/observability/metrics"
	"ai-live-transcription-service/internal/service/stt"
)

const provider = "google"

// Config holds recognition settings.
type Config struct {
	LanguageCode   string
	SampleRate     int
	InterimResults bool
	// Encoding names a RecognitionConfig_AudioEncoding, e.g. LINEAR16.
	Encoding  string
	SessionID string
	// DrainTimeout bounds how long Close waits for trailing results.
	DrainTimeout time.Duration
}

// DefaultConfig returns en-US 16 kHz recognition with interim results.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRate:     16000,
		InterimResults: true,
		Encoding:       "LINEAR16",
		DrainTimeout:   2 * time.Second,
	}
}

// recognizeStream is the part of the StreamingRecognize client used here.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamOpener func(ctx context.Context) (recognizeStream, error)

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
// Each final result closes a turn; the turn order increments per result.
type Adapter struct {
	cfg     Config
	open    streamOpener
	client  io.Closer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	sendMu  sync.Mutex
	state   stt.ChannelState
	stream  recognizeStream
	cb      stt.Callback
	cancel  context.CancelFunc
	closing bool
	done    chan struct{}
}

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	a := newAdapter(cfg, func(ctx context.Context) (recognizeStream, error) {
		return c.StreamingRecognize(ctx)
	})
	a.client = c
	return a, nil
}

func newAdapter(cfg Config, open streamOpener) *Adapter {
	def := DefaultConfig()
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = def.LanguageCode
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Adapter{
		cfg:     cfg,
		open:    open,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithChannel(cfg.SessionID, provider),
		state:   stt.StateConnecting,
		done:    make(chan struct{}),
	}
}

// State implements stt.Adapter.
func (a *Adapter) State() stt.ChannelState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start begins a streaming recognition session and sends the initial config.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	if a.state == stt.StateClosed {
		a.mu.Unlock()
		return stt.ErrChannelClosed
	}
	if a.stream != nil {
		a.mu.Unlock()
		return fmt.Errorf("google stream already started")
	}
	a.cb = cb
	a.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	stream, err := a.open(sctx)
	if err != nil {
		cancel()
		return a.failStart(err)
	}

	// Send streaming config as the first message
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.Encoding),
					SampleRateHertz:            int32(a.cfg.SampleRate),
					LanguageCode:               a.cfg.LanguageCode,
					EnableWordTimeOffsets:      true,
					EnableWordConfidence:       true,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return a.failStart(err)
	}

	a.mu.Lock()
	a.stream = stream
	a.cancel = cancel
	a.setStateLocked(stt.StateOpen)
	a.mu.Unlock()

	a.logger.Info().
		Str("languageCode", a.cfg.LanguageCode).
		Int("sampleRate", a.cfg.SampleRate).
		Msg("Google streaming recognition started")

	go a.listen(stream)
	return nil
}

func (a *Adapter) failStart(err error) error {
	a.mu.Lock()
	a.setStateLocked(stt.StateClosed)
	client := a.client
	a.client = nil
	a.mu.Unlock()
	close(a.done)
	if client != nil {
		if cerr := client.Close(); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("Failed to close speech client")
		}
	}
	a.metrics.RecordTransportError(provider, "dial")
	return &stt.TransportError{Op: "dial", Err: err}
}

// SendAudio sends audio bytes to Google Speech-to-Text. Frames offered
// while the stream is not open are dropped.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	stream := a.stream
	open := a.state == stt.StateOpen
	a.mu.Unlock()
	if !open {
		a.metrics.RecordFrameDropped("not_open")
		return nil
	}

	a.sendMu.Lock()
	err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	a.sendMu.Unlock()
	if err != nil {
		// The receive side reports the failure.
		a.logger.Debug().Err(err).Msg("Audio send failed")
		a.metrics.RecordFrameDropped("send_error")
		return nil
	}
	a.metrics.RecordFrameSent(len(audio))
	return nil
}

// Close half-closes the stream, waits for trailing results and releases
// the client. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	stream := a.stream
	cancel := a.cancel
	open := a.state == stt.StateOpen
	a.mu.Unlock()

	var err error
	if open {
		a.sendMu.Lock()
		err = stream.CloseSend()
		a.sendMu.Unlock()

		timer := time.NewTimer(a.cfg.DrainTimeout)
		select {
		case <-a.done:
		case <-timer.C:
			a.logger.Warn().Msg("Timed out waiting for trailing results")
		}
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}

	a.mu.Lock()
	a.setStateLocked(stt.StateClosed)
	client := a.client
	a.client = nil
	a.mu.Unlock()

	if client != nil {
		if cerr := client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (a *Adapter) setStateLocked(to stt.ChannelState) {
	if a.state == to {
		return
	}
	a.state = to
	a.metrics.RecordChannelTransition(provider, to.String())
}

// listen receives transcript responses from Google and invokes callbacks.
func (a *Adapter) listen(stream recognizeStream) {
	defer close(a.done)

	turn := 0
	for {
		resp, err := stream.Recv()
		if err != nil {
			a.mu.Lock()
			closing := a.closing
			a.setStateLocked(stt.StateClosed)
			cb := a.cb
			a.mu.Unlock()

			if closing {
				return
			}
			a.metrics.RecordTransportError(provider, "recv")
			a.logger.Error().Err(err).Msg("Google recognition stream failed")
			cb.OnError(&stt.TransportError{Op: "recv", Err: err})
			return
		}

		if resp.Error != nil {
			a.logger.Warn().Str("status", resp.Error.GetMessage()).Msg("Recognition error status")
		}

		for _, r := range resp.Results {
			ev, ok := turnFromResult(turn, r)
			if !ok {
				continue
			}
			a.metrics.RecordTurnEvent()
			a.cb.OnTurn(ev)
			if ev.EndOfTurn {
				turn++
			}
		}
	}
}

// turnFromResult maps one recognition result onto a turn event. Final
// results close the turn; interim results carry provisional words.
func turnFromResult(turn int, r *speechpb.StreamingRecognitionResult) (models.TurnEvent, bool) {
	if len(r.Alternatives) == 0 {
		return models.TurnEvent{}, false
	}
	alt := r.Alternatives[0]
	ev := models.TurnEvent{
		TurnOrder:  turn,
		EndOfTurn:  r.IsFinal,
		Formatted:  r.IsFinal,
		Transcript: strings.TrimSpace(alt.Transcript),
	}
	if r.IsFinal {
		ev.EndOfTurnConfidence = float64(alt.Confidence)
	}

	if len(alt.Words) > 0 {
		for _, w := range alt.Words {
			ev.Words = append(ev.Words, models.Word{
				Text:       w.Word,
				Start:      w.StartTime.AsDuration().Milliseconds(),
				End:        w.EndTime.AsDuration().Milliseconds(),
				Confidence: float64(w.Confidence),
				IsFinal:    r.IsFinal,
			})
		}
		return ev, true
	}

	// Interim results carry no word list.
	conf := float64(alt.Confidence)
	if !r.IsFinal {
		conf = float64(r.Stability)
	}
	for _, text := range strings.Fields(alt.Transcript) {
		ev.Words = append(ev.Words, models.Word{Text: text, Confidence: conf, IsFinal: r.IsFinal})
	}
	return ev, true
}

// parseAudioEncoding maps an encoding name to the proto enum, falling back
// to LINEAR16 for unknown names.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]
	if !ok || v == int32(speechpb.RecognitionConfig_ENCODING_UNSPECIFIED) {
		return speechpb.RecognitionConfig_LINEAR16
	}
	return speechpb.RecognitionConfig_AudioEncoding(v)
}
