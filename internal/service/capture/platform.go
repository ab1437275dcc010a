package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"ai-live-transcription-service/internal/service/audio"
)

// Constraints are the processing options requested with device access.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	Channels         int
}

// Device describes an audio input.
type Device struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

// Platform is the device-permission API the session captures through.
type Platform interface {
	// RequestPermission returns an error wrapping ErrPermissionDenied on denial.
	RequestPermission(ctx context.Context, c Constraints) error
	// ListDevices returns the current audio inputs.
	ListDevices(ctx context.Context) ([]Device, error)
	// Open starts capturing from a device. The stream is exclusively owned
	// by the caller until closed.
	Open(ctx context.Context, deviceID string, c Constraints) (Stream, error)
	// DeviceChanges signals when the device set changed. May return nil.
	DeviceChanges() <-chan struct{}
}

// Stream yields mono float samples in [-1, 1] at the constrained rate.
type Stream interface {
	// Read blocks until samples are available. Device loss is reported as
	// an error wrapping ErrDeviceUnavailable; io.EOF ends the source.
	// After Close, Read returns samples already buffered and then an error
	// without blocking.
	Read(buf []float32) (int, error)
	Close() error
}

// SampleFormat is the encoding of a raw PCM source.
type SampleFormat string

const (
	FormatF32LE SampleFormat = "f32le"
	FormatS16LE SampleFormat = "s16le"
)

func (f SampleFormat) bytesPerSample() int {
	if f == FormatS16LE {
		return 2
	}
	return 4
}

// ReaderPlatform exposes one virtual device backed by an io.Reader of raw
// PCM (stdin, a WAV body, a pipe).
type ReaderPlatform struct {
	DeviceID string
	Label    string
	Format   SampleFormat
	// Realtime paces reads to the sample rate.
	Realtime bool

	mu     sync.Mutex
	source io.Reader
	inUse  bool
}

// NewReaderPlatform creates a ReaderPlatform reading from r.
func NewReaderPlatform(r io.Reader, format SampleFormat) *ReaderPlatform {
	return &ReaderPlatform{DeviceID: "reader", Label: "PCM reader", Format: format, source: r}
}

// RequestPermission implements Platform. A reader is always accessible.
func (p *ReaderPlatform) RequestPermission(ctx context.Context, _ Constraints) error {
	return ctx.Err()
}

// ListDevices implements Platform.
func (p *ReaderPlatform) ListDevices(context.Context) ([]Device, error) {
	return []Device{{ID: p.DeviceID, Label: p.Label, Default: true}}, nil
}

// DeviceChanges implements Platform. The device set never changes.
func (p *ReaderPlatform) DeviceChanges() <-chan struct{} { return nil }

// Open implements Platform.
func (p *ReaderPlatform) Open(_ context.Context, deviceID string, c Constraints) (Stream, error) {
	if deviceID != "" && deviceID != p.DeviceID {
		return nil, fmt.Errorf("%w: unknown device %q", ErrDeviceUnavailable, deviceID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse {
		return nil, fmt.Errorf("%w: device %q busy", ErrDeviceUnavailable, p.DeviceID)
	}
	p.inUse = true
	return &pcmStream{
		r:        p.source,
		format:   p.Format,
		rate:     c.SampleRate,
		realtime: p.Realtime,
		release: func() {
			p.mu.Lock()
			p.inUse = false
			p.mu.Unlock()
		},
		closed: make(chan struct{}),
	}, nil
}

// pcmStream decodes raw little-endian PCM into float samples.
type pcmStream struct {
	r        io.Reader
	format   SampleFormat
	rate     int
	realtime bool
	release  func()
	raw      []byte
	started  time.Time
	emitted  int64

	once   sync.Once
	closed chan struct{}
}

func (s *pcmStream) Read(buf []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}

	bps := s.format.bytesPerSample()
	if need := len(buf) * bps; cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:len(buf)*bps]

	n, err := io.ReadFull(s.r, raw)
	samples := n / bps
	for i := 0; i < samples; i++ {
		b := raw[i*bps:]
		if s.format == FormatS16LE {
			buf[i] = audio.Int16ToFloat(int16(binary.LittleEndian.Uint16(b)))
		} else {
			buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	}
	s.pace(samples)

	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
		if samples > 0 {
			err = nil
		}
	}
	return samples, err
}

// pace sleeps so that samples are delivered no faster than real time.
func (s *pcmStream) pace(samples int) {
	if !s.realtime || s.rate <= 0 || samples == 0 {
		return
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.emitted += int64(samples)
	due := s.started.Add(time.Duration(s.emitted) * time.Second / time.Duration(s.rate))
	if d := time.Until(due); d > 0 {
		select {
		case <-time.After(d):
		case <-s.closed:
		}
	}
}

func (s *pcmStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if c, ok := s.r.(io.Closer); ok {
			_ = c.Close()
		}
		s.release()
	})
	return nil
}
