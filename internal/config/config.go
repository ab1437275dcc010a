package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig       `toml:"service"`
	Capture       CaptureConfig       `toml:"capture"`
	STT           STTConfig           `toml:"stt"`
	Translation   TranslationConfig   `toml:"translation"`
	Kafka         KafkaConfig         `toml:"kafka"`
	Observability ObservabilityConfig `toml:"observability"`
}

// ServiceConfig holds service identity and listener settings.
type ServiceConfig struct {
	Principal       string        `toml:"principal"`
	HTTPPort        string        `toml:"http_port"`
	GRPCPort        string        `toml:"grpc_port"`
	MetricsPort     string        `toml:"metrics_port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	// AutoStart begins a session at startup with this ID; empty waits for
	// a start request.
	AutoStart string `toml:"auto_start"`
}

// CaptureConfig holds microphone capture settings.
type CaptureConfig struct {
	Source            string        `toml:"source"` // ffmpeg, stdin
	SampleRateHz      int           `toml:"sample_rate_hz"`
	Channels          int           `toml:"channels"`
	SliceInterval     time.Duration `toml:"slice_interval"`
	TranscriptionMode bool          `toml:"transcription_mode"`
	FrameSamples      int           `toml:"frame_samples"`
	EchoCancellation  bool          `toml:"echo_cancellation"`
	NoiseSuppression  bool          `toml:"noise_suppression"`
	AutoGainControl   bool          `toml:"auto_gain_control"`
	Device            string        `toml:"device"`
	StdinFormat       string        `toml:"stdin_format"` // s16le, f32le
	FFmpegPath        string        `toml:"ffmpeg_path"`
	FFmpegInputFormat string        `toml:"ffmpeg_input_format"`
	FFmpegDevices     []string      `toml:"ffmpeg_devices"`
}

// BlockSamples returns the samples per capture block: the transcription
// frame in transcription mode, otherwise one slice interval.
func (c CaptureConfig) BlockSamples() int {
	if c.TranscriptionMode && c.FrameSamples > 0 {
		return c.FrameSamples
	}
	n := int(c.SliceInterval * time.Duration(c.SampleRateHz) / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}

// STTConfig holds speech-to-text channel configuration.
type STTConfig struct {
	Provider       string        `toml:"provider"` // websocket, google, mock
	URL            string        `toml:"url"`
	APIKey         string        `toml:"api_key"`
	TextFrames     bool          `toml:"text_frames"`
	QueueSize      int           `toml:"queue_size"`
	FormatTurns    bool          `toml:"format_turns"`
	LanguageCode   string        `toml:"language_code"`
	AudioEncoding  string        `toml:"audio_encoding"`
	InterimResults bool          `toml:"interim_results"`
	DrainTimeout   time.Duration `toml:"drain_timeout"`
	SendTimeout    time.Duration `toml:"send_timeout"`
}

// TranslationConfig holds segment translation settings.
type TranslationConfig struct {
	Provider       string        `toml:"provider"` // http, gemini, none
	Endpoint       string        `toml:"endpoint"`
	APIKey         string        `toml:"api_key"`
	SourceLanguage string        `toml:"source_language"`
	TargetLanguage string        `toml:"target_language"`
	Timeout        time.Duration `toml:"timeout"`
	MaxInFlight    int           `toml:"max_in_flight"`
	GeminiAPIKey   string        `toml:"gemini_api_key"`
	GeminiModel    string        `toml:"gemini_model"`
}

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled          bool     `toml:"enabled"`
	Brokers          []string `toml:"brokers"`
	TopicSegment     string   `toml:"topic_segment"`
	TopicTranslation string   `toml:"topic_translation"`
	Principal        string   `toml:"principal"`
	QueueSize        int      `toml:"queue_size"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:       "svc-live-transcription",
			HTTPPort:        "8080",
			GRPCPort:        "50051",
			MetricsPort:     "9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Capture: CaptureConfig{
			Source:            "ffmpeg",
			SampleRateHz:      16000,
			Channels:          1,
			SliceInterval:     100 * time.Millisecond,
			TranscriptionMode: true,
			FrameSamples:      1024,
			EchoCancellation:  true,
			NoiseSuppression:  true,
			AutoGainControl:   true,
			StdinFormat:       "s16le",
			FFmpegPath:        "ffmpeg",
			FFmpegInputFormat: "alsa",
			FFmpegDevices:     []string{"default"},
		},
		STT: STTConfig{
			Provider:       "mock",
			URL:            "wss://streaming.assemblyai.com/v3/ws",
			QueueSize:      64,
			FormatTurns:    true,
			LanguageCode:   "en-US",
			AudioEncoding:  "LINEAR16",
			InterimResults: true,
			DrainTimeout:   2 * time.Second,
			SendTimeout:    2 * time.Second,
		},
		Translation: TranslationConfig{
			Provider:       "none",
			SourceLanguage: "en",
			Timeout:        15 * time.Second,
			MaxInFlight:    8,
			GeminiModel:    "gemini-2.0-flash",
		},
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			TopicSegment:     "transcript.segment.final",
			TopicTranslation: "transcript.segment.translated",
			QueueSize:        256,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from defaults and environment variables.
func Load() *Configuration {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile decodes a TOML file over the defaults, then applies environment
// overrides.
func LoadFile(path string) (*Configuration, error) {
	cfg := Defaults()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Configuration) {
	s := &cfg.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.MetricsPort = envOrDefault("METRICS_PORT", s.MetricsPort)
	s.ShutdownTimeout = envOrDefaultDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.AutoStart = envOrDefault("SESSION_AUTO_START", s.AutoStart)

	c := &cfg.Capture
	c.Source = envOrDefault("CAPTURE_SOURCE", c.Source)
	c.SampleRateHz = envOrDefaultInt("CAPTURE_SAMPLE_RATE_HZ", c.SampleRateHz)
	c.Channels = envOrDefaultInt("CAPTURE_CHANNELS", c.Channels)
	c.SliceInterval = envOrDefaultDuration("CAPTURE_SLICE_INTERVAL", c.SliceInterval)
	c.TranscriptionMode = envOrDefaultBool("CAPTURE_TRANSCRIPTION_MODE", c.TranscriptionMode)
	c.FrameSamples = envOrDefaultInt("CAPTURE_FRAME_SAMPLES", c.FrameSamples)
	c.EchoCancellation = envOrDefaultBool("CAPTURE_ECHO_CANCELLATION", c.EchoCancellation)
	c.NoiseSuppression = envOrDefaultBool("CAPTURE_NOISE_SUPPRESSION", c.NoiseSuppression)
	c.AutoGainControl = envOrDefaultBool("CAPTURE_AUTO_GAIN_CONTROL", c.AutoGainControl)
	c.Device = envOrDefault("CAPTURE_DEVICE", c.Device)
	c.StdinFormat = envOrDefault("CAPTURE_STDIN_FORMAT", c.StdinFormat)
	c.FFmpegPath = envOrDefault("FFMPEG_PATH", c.FFmpegPath)
	c.FFmpegInputFormat = envOrDefault("FFMPEG_INPUT_FORMAT", c.FFmpegInputFormat)
	c.FFmpegDevices = envOrDefaultList("FFMPEG_DEVICES", c.FFmpegDevices)

	t := &cfg.STT
	t.Provider = envOrDefault("STT_PROVIDER", t.Provider)
	t.URL = envOrDefault("STT_URL", t.URL)
	t.APIKey = envOrDefault("STT_API_KEY", t.APIKey)
	t.TextFrames = envOrDefaultBool("STT_TEXT_FRAMES", t.TextFrames)
	t.QueueSize = envOrDefaultInt("STT_QUEUE_SIZE", t.QueueSize)
	t.FormatTurns = envOrDefaultBool("STT_FORMAT_TURNS", t.FormatTurns)
	t.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", t.LanguageCode)
	t.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", t.AudioEncoding)
	t.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", t.InterimResults)
	t.DrainTimeout = envOrDefaultDuration("STT_DRAIN_TIMEOUT", t.DrainTimeout)
	t.SendTimeout = envOrDefaultDuration("STT_SEND_TIMEOUT", t.SendTimeout)

	tr := &cfg.Translation
	tr.Provider = envOrDefault("TRANSLATION_PROVIDER", tr.Provider)
	tr.Endpoint = envOrDefault("TRANSLATION_ENDPOINT", tr.Endpoint)
	tr.APIKey = envOrDefault("TRANSLATION_API_KEY", tr.APIKey)
	tr.SourceLanguage = envOrDefault("TRANSLATION_SOURCE_LANGUAGE", tr.SourceLanguage)
	tr.TargetLanguage = envOrDefault("TRANSLATION_TARGET_LANGUAGE", tr.TargetLanguage)
	tr.Timeout = envOrDefaultDuration("TRANSLATION_TIMEOUT", tr.Timeout)
	tr.MaxInFlight = envOrDefaultInt("TRANSLATION_MAX_IN_FLIGHT", tr.MaxInFlight)
	tr.GeminiAPIKey = envOrDefault("GEMINI_API_KEY", tr.GeminiAPIKey)
	tr.GeminiModel = envOrDefault("GEMINI_MODEL", tr.GeminiModel)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	k.Brokers = envOrDefaultList("KAFKA_BROKERS", k.Brokers)
	k.TopicSegment = envOrDefault("KAFKA_TOPIC_SEGMENT", k.TopicSegment)
	k.TopicTranslation = envOrDefault("KAFKA_TOPIC_TRANSLATION", k.TopicTranslation)
	k.QueueSize = envOrDefaultInt("KAFKA_QUEUE_SIZE", k.QueueSize)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
}

// Validate returns the first invalid setting, if any.
func (c *Configuration) Validate() error {
	for name, port := range map[string]string{
		"http_port":    c.Service.HTTPPort,
		"grpc_port":    c.Service.GRPCPort,
		"metrics_port": c.Service.MetricsPort,
	} {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid %s: %q", name, port)
		}
	}

	switch c.Capture.Source {
	case "ffmpeg", "stdin":
	default:
		return fmt.Errorf("invalid capture source: %q", c.Capture.Source)
	}
	if c.Capture.SampleRateHz <= 0 {
		return fmt.Errorf("invalid capture sample rate: %d", c.Capture.SampleRateHz)
	}
	if c.Capture.Channels != 1 {
		return fmt.Errorf("invalid capture channels: %d (only mono is supported)", c.Capture.Channels)
	}
	if c.Capture.SliceInterval <= 0 {
		return fmt.Errorf("invalid capture slice interval: %s", c.Capture.SliceInterval)
	}
	if c.Capture.StdinFormat != "s16le" && c.Capture.StdinFormat != "f32le" {
		return fmt.Errorf("invalid capture stdin format: %q", c.Capture.StdinFormat)
	}

	switch c.STT.Provider {
	case "mock", "google":
	case "websocket":
		if c.STT.URL == "" {
			return errors.New("stt url is required for the websocket provider")
		}
	default:
		return fmt.Errorf("invalid stt provider: %q", c.STT.Provider)
	}
	if c.STT.QueueSize <= 0 {
		return fmt.Errorf("invalid stt queue size: %d", c.STT.QueueSize)
	}

	switch c.Translation.Provider {
	case "none":
	case "http":
		if c.Translation.Endpoint == "" {
			return errors.New("translation endpoint is required for the http provider")
		}
	case "gemini":
		if c.Translation.GeminiAPIKey == "" {
			return errors.New("gemini api key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("invalid translation provider: %q", c.Translation.Provider)
	}
	if c.Translation.Provider != "none" && c.Translation.TargetLanguage == "" {
		return errors.New("translation target language is required")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required when kafka is enabled")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
