// Package feed fans aggregator output out to live subscribers such as
// websocket clients and gRPC watchers.
package feed

import (
	"sync"

	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/observability/logging"
)

// Update types.
const (
	TypeSegment     = "segment"
	TypeTranslation = "translation"
	TypePartial     = "partial"
	TypeError       = "error"
	TypeSnapshot    = "snapshot"
)

// Update is one message on the live feed.
type Update struct {
	Type      string           `json:"type"`
	Segment   *models.Segment  `json:"segment,omitempty"`
	Segments  []models.Segment `json:"segments,omitempty"`
	TurnOrder int              `json:"turnOrder,omitempty"`
	Text      string           `json:"text,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Broadcaster implements segment.Listener and copies every notification
// to all subscribers. A subscriber whose buffer is full is dropped rather
// than stalling the aggregator; it can resubscribe and take a snapshot.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	logger zerolog.Logger
}

// Subscription is one subscriber's view of the feed.
type Subscription struct {
	b       *Broadcaster
	ch      chan Update
	once    sync.Once
	dropped bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		logger: logging.WithComponent("feed"),
	}
}

// Subscribe registers a subscriber with the given buffer size. Subscribe
// before taking a snapshot so that nothing is missed; updates may then
// repeat segments already in the snapshot.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscription{b: b, ch: make(chan Update, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()
	b.logger.Debug().Int("subscribers", n).Msg("Subscriber added")
	return s
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Updates is closed when the subscription ends.
func (s *Subscription) Updates() <-chan Update { return s.ch }

// Dropped reports whether the subscription was ended for falling behind.
// Valid once Updates is closed.
func (s *Subscription) Dropped() bool {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.dropped
}

// Close ends the subscription. Idempotent.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.removeLocked()
}

func (s *Subscription) removeLocked() {
	s.once.Do(func() {
		delete(s.b.subs, s)
		close(s.ch)
	})
}

func (b *Broadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- u:
		default:
			s.dropped = true
			s.removeLocked()
			b.logger.Warn().Str("type", u.Type).Msg("Subscriber too slow, dropped")
		}
	}
}

func (b *Broadcaster) OnSegment(seg models.Segment) {
	b.publish(Update{Type: TypeSegment, Segment: &seg, TurnOrder: seg.TurnOrder})
}

func (b *Broadcaster) OnTranslation(seg models.Segment) {
	b.publish(Update{Type: TypeTranslation, Segment: &seg, TurnOrder: seg.TurnOrder})
}

func (b *Broadcaster) OnPartial(turnOrder int, text string) {
	b.publish(Update{Type: TypePartial, TurnOrder: turnOrder, Text: text})
}

func (b *Broadcaster) OnError(err error) {
	b.publish(Update{Type: TypeError, Error: err.Error()})
}
