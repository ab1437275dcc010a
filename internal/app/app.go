package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/config"
	"ai-live-transcription-service/internal/events"
	"ai-live-transcription-service/internal/feed"
	"ai-live-transcription-service/internal/observability/logging"
	"ai-live-transcription-service/internal/service/capture"
	"ai-live-transcription-service/internal/service/pipeline"
	"ai-live-transcription-service/internal/service/segment"
	"ai-live-transcription-service/internal/service/stt"
	"ai-live-transcription-service/internal/service/stt/google"
	"ai-live-transcription-service/internal/service/stt/mock"
	"ai-live-transcription-service/internal/service/stt/websocket"
	"ai-live-transcription-service/internal/service/translate"
)

// ErrShuttingDown is reported by Ready once Shutdown has begun.
var ErrShuttingDown = errors.New("shutting down")

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Feed       *feed.Broadcaster
	Publisher  *events.Publisher
	Sink       *events.Sink
	Aggregator *segment.Aggregator
	Sessions   *pipeline.Handler

	stopping atomic.Bool
}

// Options replaces the configured capture platform or recognizer, e.g. for
// file input or tests. Zero values use the configuration.
type Options struct {
	Platform   capture.Platform
	NewAdapter pipeline.AdapterFactory
	Translator translate.Translator
}

// New constructs a new Application from the provided configuration.
func New(ctx context.Context, cfg *config.Configuration, opts Options) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	platform := opts.Platform
	if platform == nil {
		p, err := NewPlatform(cfg.Capture)
		if err != nil {
			return nil, err
		}
		platform = p
	}

	newAdapter := opts.NewAdapter
	if newAdapter == nil {
		f, err := NewAdapterFactory(cfg)
		if err != nil {
			return nil, err
		}
		newAdapter = f
	}

	translator := opts.Translator
	if translator == nil {
		t, err := NewTranslator(ctx, cfg.Translation)
		if err != nil {
			return nil, err
		}
		translator = t
	}

	a.Publisher = events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicSegment:     cfg.Kafka.TopicSegment,
		TopicTranslation: cfg.Kafka.TopicTranslation,
		Principal:        cfg.Kafka.Principal,
	})
	a.Sink = events.NewSink(a.Publisher, cfg.Translation.TargetLanguage, cfg.Kafka.QueueSize)
	a.Feed = feed.NewBroadcaster()

	aggCfg := segment.DefaultConfig()
	aggCfg.SourceLanguage = cfg.Translation.SourceLanguage
	aggCfg.TargetLanguage = cfg.Translation.TargetLanguage
	aggCfg.TranslateTimeout = cfg.Translation.Timeout
	aggCfg.MaxInFlight = cfg.Translation.MaxInFlight
	a.Aggregator = segment.NewAggregator(aggCfg, translator, nil)

	listener := pipeline.NewMultiListener(pipeline.LogListener{}, a.Feed, a.Sink)

	a.Sessions = pipeline.NewHandler(pipeline.Config{
		Capture:     CaptureConfig(cfg.Capture),
		DeviceID:    cfg.Capture.Device,
		SendTimeout: cfg.STT.SendTimeout,
	}, platform, newAdapter, a.Aggregator, listener)
	a.Sessions.SetSessionFunc(a.Sink.SetSession)

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("captureSource", cfg.Capture.Source).
		Str("translator", nameOf(translator)).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("Live transcription application created")
	return a, nil
}

// CaptureConfig converts capture settings into a session configuration.
func CaptureConfig(c config.CaptureConfig) capture.Config {
	cc := capture.DefaultConfig()
	cc.Constraints = capture.Constraints{
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl,
		SampleRate:       c.SampleRateHz,
		Channels:         c.Channels,
	}
	cc.FrameSamples = c.BlockSamples()
	return cc
}

// NewPlatform builds the configured capture platform.
func NewPlatform(c config.CaptureConfig) (capture.Platform, error) {
	switch c.Source {
	case "ffmpeg":
		return capture.NewFFmpegPlatform(capture.FFmpegConfig{
			Path:        c.FFmpegPath,
			InputFormat: c.FFmpegInputFormat,
			Devices:     c.FFmpegDevices,
		}), nil
	case "stdin":
		return capture.NewReaderPlatform(os.Stdin, capture.SampleFormat(c.StdinFormat)), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", c.Source)
	}
}

// NewAdapterFactory returns a factory for the configured recognizer.
func NewAdapterFactory(cfg *config.Configuration) (pipeline.AdapterFactory, error) {
	s := cfg.STT
	switch s.Provider {
	case "websocket":
		return func(sessionID string) (stt.Adapter, error) {
			wc := websocket.DefaultConfig()
			wc.URL = s.URL
			wc.APIKey = s.APIKey
			wc.SampleRate = cfg.Capture.SampleRateHz
			wc.FormatTurns = s.FormatTurns
			wc.TextFrames = s.TextFrames
			wc.QueueSize = s.QueueSize
			wc.DrainTimeout = s.DrainTimeout
			wc.SessionID = sessionID
			return websocket.New(wc), nil
		}, nil
	case "google":
		return func(sessionID string) (stt.Adapter, error) {
			return google.New(context.Background(), google.Config{
				LanguageCode:   s.LanguageCode,
				SampleRate:     cfg.Capture.SampleRateHz,
				InterimResults: s.InterimResults,
				Encoding:       s.AudioEncoding,
				SessionID:      sessionID,
				DrainTimeout:   s.DrainTimeout,
			})
		}, nil
	case "mock":
		return func(string) (stt.Adapter, error) {
			return mock.New(mock.DefaultConfig()), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", s.Provider)
	}
}

// NewTranslator builds the configured translator; "none" returns nil.
func NewTranslator(ctx context.Context, c config.TranslationConfig) (translate.Translator, error) {
	switch c.Provider {
	case "", "none":
		return nil, nil
	case "http":
		return translate.NewHTTP(translate.HTTPConfig{
			Endpoint: c.Endpoint,
			APIKey:   c.APIKey,
			Timeout:  c.Timeout,
		}), nil
	case "gemini":
		return translate.NewGemini(ctx, translate.GeminiConfig{
			APIKey: c.GeminiAPIKey,
			Model:  c.GeminiModel,
		})
	default:
		return nil, fmt.Errorf("unknown translation provider %q", c.Provider)
	}
}

func nameOf(t translate.Translator) string {
	if t == nil {
		return "none"
	}
	return t.Name()
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Live transcription service starting")

	if id := a.Cfg.Service.AutoStart; id != "" {
		if err := a.Sessions.Start(ctx, id); err != nil {
			return fmt.Errorf("auto-start session %s: %w", id, err)
		}
	}
	return nil
}

// Ready reports whether the service accepts work.
func (a *Application) Ready() error {
	if a.stopping.Load() {
		return ErrShuttingDown
	}
	return nil
}

// Shutdown stops the running session, waits for in-flight translations
// and flushes queued events, all bounded by ctx.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.stopping.Store(true)
	shutdownLogger.Info().Msg("Live transcription service shutting down")

	if err := a.Sessions.Stop(ctx); err != nil && !errors.Is(err, pipeline.ErrNoSession) {
		shutdownLogger.Warn().Err(err).Msg("Session stop failed")
	}
	if err := a.Aggregator.Drain(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Translations still in flight")
	}
	if err := a.Sink.Close(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Event queue not fully flushed")
	}
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Publisher close failed")
	}
}
