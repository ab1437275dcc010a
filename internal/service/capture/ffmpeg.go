package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/observability/logging"
)

// FFmpegConfig configures the ffmpeg-backed capture platform.
type FFmpegConfig struct {
	Path        string   // ffmpeg binary
	InputFormat string   // alsa, pulse, avfoundation, dshow, ...
	Devices     []string // selectable inputs; first is the default
}

// FFmpegPlatform captures from a system input through an ffmpeg process
// writing f32le samples to stdout.
type FFmpegPlatform struct {
	cfg    FFmpegConfig
	logger zerolog.Logger

	mu    sync.Mutex
	inUse bool
}

// NewFFmpegPlatform creates an ffmpeg capture platform.
func NewFFmpegPlatform(cfg FFmpegConfig) *FFmpegPlatform {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = []string{"default"}
	}
	return &FFmpegPlatform{cfg: cfg, logger: logging.WithComponent("capture.ffmpeg")}
}

// RequestPermission implements Platform. Access is granted when the ffmpeg
// binary can be executed.
func (p *FFmpegPlatform) RequestPermission(_ context.Context, _ Constraints) error {
	if _, err := exec.LookPath(p.cfg.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

// ListDevices implements Platform.
func (p *FFmpegPlatform) ListDevices(context.Context) ([]Device, error) {
	devices := make([]Device, len(p.cfg.Devices))
	for i, d := range p.cfg.Devices {
		devices[i] = Device{ID: d, Label: p.cfg.InputFormat + ":" + d, Default: i == 0}
	}
	return devices, nil
}

// DeviceChanges implements Platform. The configured device set is static.
func (p *FFmpegPlatform) DeviceChanges() <-chan struct{} { return nil }

// Open implements Platform.
func (p *FFmpegPlatform) Open(ctx context.Context, deviceID string, c Constraints) (Stream, error) {
	p.mu.Lock()
	if p.inUse {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: capture device busy", ErrDeviceUnavailable)
	}
	p.inUse = true
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		p.inUse = false
		p.mu.Unlock()
	}

	if c.EchoCancellation {
		p.logger.Debug().Msg("Echo cancellation requested but not available for ffmpeg inputs")
	}
	args := ffmpegArgs(p.cfg.InputFormat, deviceID, c)
	p.logger.Debug().Str("path", p.cfg.Path).Strs("args", args).Msg("Starting ffmpeg capture")

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, p.cfg.Path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	return &ffmpegStream{
		pcm: &pcmStream{
			r:       stdout,
			format:  FormatF32LE,
			release: func() {},
			closed:  make(chan struct{}),
		},
		cmd:     cmd,
		cancel:  cancel,
		release: release,
		logger:  p.logger,
	}, nil
}

// ffmpegArgs builds the ffmpeg command line. Noise suppression maps to
// highpass+afftdn and auto gain to dynaudnorm. ffmpeg has no echo
// canceller without a far-end reference, so that constraint is ignored.
func ffmpegArgs(inputFormat, device string, c Constraints) []string {
	rate := c.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	args := []string{
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
	}
	if inputFormat != "" {
		args = append(args, "-f", inputFormat)
	}
	args = append(args, "-i", device)

	var filters []string
	if c.NoiseSuppression {
		filters = append(filters, "highpass=f=80", "afftdn")
	}
	if c.AutoGainControl {
		filters = append(filters, "dynaudnorm")
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	return append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-f", string(FormatF32LE),
		"-flush_packets", "1",
		"pipe:1",
	)
}

type ffmpegStream struct {
	pcm     *pcmStream
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	release func()
	logger  zerolog.Logger

	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func (s *ffmpegStream) Read(buf []float32) (int, error) {
	n, err := s.pcm.Read(buf)
	if err == nil {
		return n, nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return n, io.EOF
	}
	// The process ended without being asked to: the input went away.
	if errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: ffmpeg output ended", ErrDeviceUnavailable)
	}
	return n, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		// Exit status is expected to be non-zero after cancel.
		_ = s.cmd.Wait()
		_ = s.pcm.Close()
		s.release()
		s.logger.Debug().Msg("ffmpeg capture stopped")
	})
	return nil
}
