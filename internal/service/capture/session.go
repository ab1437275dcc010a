package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/observability/logging"
	"ai-live-transcription-service/internal/observability/metrics"
	"ai-live-transcription-service/internal/service/audio"
)

// Config controls block production.
type Config struct {
	Constraints Constraints
	// FrameSamples is the number of samples per emitted block.
	FrameSamples int
	// BlockBuffer and LevelBuffer size the output channels.
	BlockBuffer int
	LevelBuffer int
	// FlushTimeout bounds how long Stop waits to hand over the final block.
	FlushTimeout time.Duration
}

// DefaultConfig returns 16 kHz mono capture in 100 ms blocks.
func DefaultConfig() Config {
	return Config{
		Constraints: Constraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			SampleRate:       16000,
			Channels:         1,
		},
		FrameSamples: FrameSamplesFor(100*time.Millisecond, 16000),
		BlockBuffer:  32,
		LevelBuffer:  64,
		FlushTimeout: time.Second,
	}
}

// FrameSamplesFor converts a slice interval into a sample count.
func FrameSamplesFor(interval time.Duration, sampleRate int) int {
	n := int(interval * time.Duration(sampleRate) / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}

// Block is a run of consecutive samples. Offset is the position of the
// first sample on the recorded timeline. Final marks the flush on stop.
type Block struct {
	Seq     uint64
	Samples []float32
	Offset  time.Duration
	Final   bool
}

// Level is an RMS level sample for visualization.
type Level struct {
	Value  float64
	Offset time.Duration
}

// DeviceError reports loss of the capture device while capturing.
type DeviceError struct {
	DeviceID string
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device %q: %v", e.DeviceID, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Session owns one capture device at a time and produces sample blocks
// and level samples while capturing.
type Session struct {
	cfg       Config
	platform  Platform
	lifecycle *Lifecycle
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	deviceID string
	stream   Stream
	clock    recordingClock
	stopping chan struct{}
	finished chan struct{}
	stopOnce sync.Once
	err      error

	blocks chan Block
	levels chan Level
	errs   chan error
}

// NewSession creates a capture session in NO_PERMISSION state.
func NewSession(platform Platform, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = def.FrameSamples
	}
	if cfg.Constraints.SampleRate <= 0 {
		cfg.Constraints.SampleRate = def.Constraints.SampleRate
	}
	if cfg.Constraints.Channels <= 0 {
		cfg.Constraints.Channels = 1
	}
	if cfg.BlockBuffer <= 0 {
		cfg.BlockBuffer = def.BlockBuffer
	}
	if cfg.LevelBuffer <= 0 {
		cfg.LevelBuffer = def.LevelBuffer
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	s := &Session{
		cfg:       cfg,
		platform:  platform,
		lifecycle: NewLifecycle(),
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("capture"),
		now:       time.Now,
		stopping:  make(chan struct{}),
		finished:  make(chan struct{}),
		blocks:    make(chan Block, cfg.BlockBuffer),
		levels:    make(chan Level, cfg.LevelBuffer),
		errs:      make(chan error, 1),
	}
	s.clock.now = s.now
	return s
}

// Blocks delivers sample blocks. Closed after Stop or device loss.
func (s *Session) Blocks() <-chan Block { return s.blocks }

// Levels delivers level samples. Samples are dropped when not consumed.
func (s *Session) Levels() <-chan Level { return s.levels }

// Errors delivers the device error that forced the session to stop.
func (s *Session) Errors() <-chan error { return s.errs }

// Done is closed once the device has been released.
func (s *Session) Done() <-chan struct{} { return s.finished }

// State returns the session state.
func (s *Session) State() State { return s.lifecycle.State() }

// Err returns the error that stopped the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// DeviceChanges forwards the platform's change notifications; callers
// should re-query ListDevices on each signal.
func (s *Session) DeviceChanges() <-chan struct{} { return s.platform.DeviceChanges() }

// RequestPermission asks for device access with the configured
// constraints. On denial the session stays in NO_PERMISSION.
func (s *Session) RequestPermission(ctx context.Context) error {
	if err := s.platform.RequestPermission(ctx, s.cfg.Constraints); err != nil {
		s.metrics.RecordDeviceError("permission")
		s.logger.Warn().Err(err).Msg("Capture permission denied")
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := s.lifecycle.Grant(); err != nil {
		return err
	}
	s.metrics.RecordCaptureTransition(StateIdle.String())
	s.logger.Info().
		Bool("echoCancellation", s.cfg.Constraints.EchoCancellation).
		Bool("noiseSuppression", s.cfg.Constraints.NoiseSuppression).
		Bool("autoGainControl", s.cfg.Constraints.AutoGainControl).
		Msg("Capture permission granted")
	return nil
}

// ListDevices returns the current audio inputs.
func (s *Session) ListDevices(ctx context.Context) ([]Device, error) {
	return s.platform.ListDevices(ctx)
}

// Start opens deviceID (empty selects the default) and begins producing
// blocks. Fails with ErrDeviceUnavailable if the device is gone.
func (s *Session) Start(ctx context.Context, deviceID string) error {
	if st := s.lifecycle.State(); st != StateIdle {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, st)
	}

	devices, err := s.platform.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	id, ok := selectDevice(devices, deviceID)
	if !ok {
		s.metrics.RecordDeviceError("unavailable")
		return fmt.Errorf("%w: %q", ErrDeviceUnavailable, deviceID)
	}

	stream, err := s.platform.Open(ctx, id, s.cfg.Constraints)
	if err != nil {
		s.metrics.RecordDeviceError("open")
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.mu.Lock()
	if err := s.lifecycle.Begin(); err != nil {
		s.mu.Unlock()
		_ = stream.Close()
		return err
	}
	s.deviceID = id
	s.stream = stream
	s.clock.start()
	s.mu.Unlock()

	s.metrics.CaptureSessions.Inc()
	s.metrics.RecordCaptureTransition(StateCapturing.String())
	s.logger.Info().
		Str("deviceId", id).
		Int("sampleRate", s.cfg.Constraints.SampleRate).
		Int("frameSamples", s.cfg.FrameSamples).
		Msg("Capture started")

	go s.run(stream, id)
	return nil
}

// Pause suspends block production without releasing the device.
func (s *Session) Pause() error {
	if err := s.lifecycle.Pause(); err != nil {
		return err
	}
	s.mu.Lock()
	s.clock.pause()
	s.mu.Unlock()
	s.metrics.RecordCaptureTransition(StatePaused.String())
	s.logger.Info().Msg("Capture paused")
	return nil
}

// Resume restarts block production.
func (s *Session) Resume() error {
	if err := s.lifecycle.Resume(); err != nil {
		return err
	}
	s.mu.Lock()
	s.clock.resume()
	s.mu.Unlock()
	s.metrics.RecordCaptureTransition(StateCapturing.String())
	s.logger.Info().Msg("Capture resumed")
	return nil
}

// Stop releases the device, flushes buffered samples as a final block and
// closes the output channels. Safe to call more than once.
func (s *Session) Stop() error {
	prev, err := s.lifecycle.Stop()
	if err != nil {
		return err
	}
	if prev == StateStopped {
		<-s.finished
		return nil
	}

	s.mu.Lock()
	s.clock.pause()
	stream := s.stream
	s.mu.Unlock()

	s.metrics.RecordCaptureTransition(StateStopped.String())
	s.signalStop()

	if stream == nil {
		// Never started: nothing to flush.
		s.closeOutputs()
		return nil
	}
	_ = stream.Close()
	<-s.finished
	s.logger.Info().Dur("recorded", s.Duration()).Msg("Capture stopped")
	return nil
}

// Duration is the recorded time, excluding pauses.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.elapsed()
}

// DeviceID returns the open device, if any.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

func (s *Session) signalStop() {
	s.stopOnce.Do(func() { close(s.stopping) })
}

func (s *Session) closeOutputs() {
	close(s.blocks)
	close(s.levels)
	close(s.finished)
}

// run reads from the device until stop, end of source or device loss and
// owns teardown of the output channels.
func (s *Session) run(stream Stream, deviceID string) {
	defer s.closeOutputs()

	frame := s.cfg.FrameSamples
	rate := s.cfg.Constraints.SampleRate
	buf := make([]float32, frame)
	pending := make([]float32, 0, 2*frame)
	var seq uint64
	var emitted int64

	emit := func(samples []float32, final bool) bool {
		b := Block{
			Seq:     seq,
			Samples: samples,
			Offset:  time.Duration(emitted) * time.Second / time.Duration(rate),
			Final:   final,
		}

		sent := false
		if final {
			timer := time.NewTimer(s.cfg.FlushTimeout)
			defer timer.Stop()
			select {
			case s.blocks <- b:
				sent = true
			case <-timer.C:
				s.logger.Warn().Int("samples", len(samples)).Msg("Final block dropped, no consumer")
			}
		} else {
			select {
			case s.blocks <- b:
				sent = true
			case <-s.stopping:
			}
		}
		if !sent {
			return false
		}

		seq++
		emitted += int64(len(samples))
		s.metrics.RecordCaptureBlock()
		select {
		case s.levels <- Level{Value: audio.RMS(samples), Offset: b.Offset}:
		default:
		}
		return true
	}

	// capturing follows the last observed Capturing/Paused state so samples
	// read while a stop is in progress are kept.
	capturing := true
	var readErr error
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			switch s.lifecycle.State() {
			case StateCapturing:
				capturing = true
			case StatePaused:
				capturing = false
			}
			if capturing {
				pending = append(pending, buf[:n]...)
				for len(pending) >= frame {
					block := make([]float32, frame)
					copy(block, pending[:frame])
					if !emit(block, false) {
						// Left in pending for the final flush.
						break
					}
					pending = append(pending[:0], pending[frame:]...)
				}
			}
		}
		if err != nil {
			readErr = err
			break
		}
		select {
		case <-s.stopping:
		default:
			continue
		}
		break
	}

	stopRequested := false
	select {
	case <-s.stopping:
		stopRequested = true
	default:
	}

	switch {
	case stopRequested:
	case errors.Is(readErr, io.EOF):
		s.logger.Info().Str("deviceId", deviceID).Msg("Capture source ended")
		s.forceStop(nil)
	default:
		derr := &DeviceError{DeviceID: deviceID, Err: readErr}
		if !errors.Is(readErr, ErrDeviceUnavailable) {
			derr.Err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, readErr)
		}
		s.metrics.RecordDeviceError("lost")
		s.logger.Error().Err(readErr).Str("deviceId", deviceID).Msg("Capture device lost")
		s.forceStop(derr)
	}

	_ = stream.Close()
	if stopRequested && capturing && readErr == nil {
		pending = drainClosed(stream, buf, pending, FrameSamplesFor(s.cfg.FlushTimeout, rate))
	}
	if len(pending) > 0 {
		emit(append([]float32(nil), pending...), true)
	}
}

// drainClosed appends samples a closed stream still holds, up to limit.
func drainClosed(stream Stream, buf []float32, pending []float32, limit int) []float32 {
	for drained := 0; drained < limit; {
		n, err := stream.Read(buf)
		pending = append(pending, buf[:n]...)
		drained += n
		if err != nil || n == 0 {
			break
		}
	}
	return pending
}

// forceStop moves the session to STOPPED from inside the reader and
// publishes err, if any.
func (s *Session) forceStop(err error) {
	if prev, _ := s.lifecycle.Stop(); prev != StateStopped {
		s.metrics.RecordCaptureTransition(StateStopped.String())
	}
	s.mu.Lock()
	s.clock.pause()
	s.err = err
	s.mu.Unlock()
	s.signalStop()
	if err != nil {
		s.errs <- err
	}
}

func selectDevice(devices []Device, want string) (string, bool) {
	if len(devices) == 0 {
		return "", false
	}
	if want == "" {
		for _, d := range devices {
			if d.Default {
				return d.ID, true
			}
		}
		return devices[0].ID, true
	}
	for _, d := range devices {
		if d.ID == want {
			return d.ID, true
		}
	}
	return "", false
}

// recordingClock measures capture time, excluding paused intervals.
type recordingClock struct {
	now         func() time.Time
	startedAt   time.Time
	accumulated time.Duration
	running     bool
}

func (c *recordingClock) start() {
	c.accumulated = 0
	c.startedAt = c.now()
	c.running = true
}

func (c *recordingClock) pause() {
	if !c.running {
		return
	}
	c.accumulated += c.now().Sub(c.startedAt)
	c.running = false
}

func (c *recordingClock) resume() {
	if c.running {
		return
	}
	c.startedAt = c.now()
	c.running = true
}

func (c *recordingClock) elapsed() time.Duration {
	if c.running {
		return c.accumulated + c.now().Sub(c.startedAt)
	}
	return c.accumulated
}
