package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/observability/logging"
)

// Sink publishes aggregator output from its own goroutine so a slow broker
// never holds up aggregation. Events keep their arrival order; when the
// queue is full new events are dropped and logged.
type Sink struct {
	pub      *Publisher
	language string
	timeout  time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	sessionID string
	closed    bool
	queue     chan func(context.Context) error
	done      chan struct{}
}

// NewSink starts a publishing worker. language is the translation target.
func NewSink(pub *Publisher, language string, size int) *Sink {
	if size <= 0 {
		size = 256
	}
	s := &Sink{
		pub:      pub,
		language: language,
		timeout:  10 * time.Second,
		logger:   logging.WithComponent("event-sink"),
		queue:    make(chan func(context.Context) error, size),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// SetSession sets the session ID stamped on subsequent events.
func (s *Sink) SetSession(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// OnSegment queues a SegmentFinal event.
func (s *Sink) OnSegment(seg models.Segment) {
	ev := SegmentFinalFrom(s.session(), seg)
	s.enqueue(ev.SegmentID, func(ctx context.Context) error { return s.pub.PublishSegment(ctx, ev) })
}

// OnTranslation queues a SegmentTranslated event.
func (s *Sink) OnTranslation(seg models.Segment) {
	ev := SegmentTranslatedFrom(s.session(), s.language, seg)
	s.enqueue(ev.SegmentID, func(ctx context.Context) error { return s.pub.PublishTranslation(ctx, ev) })
}

// OnPartial is not published; partial text is not durable.
func (s *Sink) OnPartial(int, string) {}

// OnError is not published.
func (s *Sink) OnError(error) {}

func (s *Sink) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Sink) enqueue(segmentID string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- fn:
	default:
		s.logger.Warn().Str("segmentId", segmentID).Msg("Event queue full, dropping event")
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for fn := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := fn(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to publish event")
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be published
// or for ctx to expire.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
