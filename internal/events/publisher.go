// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/observability/metrics"
	"ai-live-transcription-service/internal/schema"
)

// Publisher publishes segment events to separate Kafka topics.
type Publisher struct {
	writerSegment     *kafka.Writer
	writerTranslation *kafka.Writer
	principal         string
	topicSegment      string
	topicTranslation  string
	enabled           bool
	validator         *schema.Validator
	metrics           *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicSegment     string
	TopicTranslation string
	Principal        string
	Enabled          bool
}

// New creates a new Kafka event publisher with separate topics for
// finalized segments and their translations.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			validator: v,
			metrics:   m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:        cfg.Principal,
			topicSegment:     cfg.TopicSegment,
			topicTranslation: cfg.TopicTranslation,
			enabled:          false,
			validator:        v,
			metrics:          m,
		}
	}

	// Create a custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicSegment", cfg.TopicSegment).
		Str("topicTranslation", cfg.TopicTranslation).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerSegment:     newWriter(cfg.TopicSegment),
		writerTranslation: newWriter(cfg.TopicTranslation),
		principal:         cfg.Principal,
		topicSegment:      cfg.TopicSegment,
		topicTranslation:  cfg.TopicTranslation,
		enabled:           true,
		validator:         v,
		metrics:           m,
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// PublishSegment publishes a finalized segment. The session ID is the
// message key, so one session's segments stay ordered on a partition.
func (p *Publisher) PublishSegment(ctx context.Context, ev models.SegmentFinal) error {
	if err := p.validator.Validate(ev); err != nil {
		log.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Refusing to publish invalid segment")
		return err
	}
	return p.publish(ctx, p.writerSegment, p.topicSegment, ev.EventType, ev.SessionID, ev)
}

// PublishTranslation publishes a translation attached to a segment.
func (p *Publisher) PublishTranslation(ctx context.Context, ev models.SegmentTranslated) error {
	if err := p.validator.Validate(ev); err != nil {
		log.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Refusing to publish invalid translation")
		return err
	}
	return p.publish(ctx, p.writerTranslation, p.topicTranslation, ev.EventType, ev.SessionID, ev)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	// Log the event
	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerSegment != nil {
		if e := p.writerSegment.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing segment writer")
			err = e
		}
	}
	if p.writerTranslation != nil {
		if e := p.writerTranslation.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing translation writer")
			err = e
		}
	}
	return err
}

// SegmentFinalFrom builds the wire event for a finalized segment.
func SegmentFinalFrom(sessionID string, seg models.Segment) models.SegmentFinal {
	return models.SegmentFinal{
		EventType:  models.EventSegmentFinal,
		SessionID:  sessionID,
		SegmentID:  seg.ID,
		TurnOrder:  seg.TurnOrder,
		Text:       seg.Text,
		Confidence: seg.Confidence,
		WordCount:  len(seg.Words),
		Timestamp:  seg.CreatedAt.UnixMilli(),
	}
}

// SegmentTranslatedFrom builds the wire event for an attached translation.
func SegmentTranslatedFrom(sessionID, language string, seg models.Segment) models.SegmentTranslated {
	ev := models.SegmentTranslated{
		EventType: models.EventSegmentTranslated,
		SessionID: sessionID,
		SegmentID: seg.ID,
		TurnOrder: seg.TurnOrder,
		Language:  language,
		Text:      seg.Text,
		Timestamp: time.Now().UnixMilli(),
	}
	if seg.TranslatedText != nil {
		ev.TranslatedText = *seg.TranslatedText
	}
	return ev
}
