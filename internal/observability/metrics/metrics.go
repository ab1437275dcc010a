// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_live_transcription"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Capture metrics
	CaptureSessions     prometheus.Counter
	CaptureTransitions  *prometheus.CounterVec
	CaptureBlocks       prometheus.Counter
	CaptureDeviceErrors *prometheus.CounterVec

	// Channel metrics
	ChannelTransitions *prometheus.CounterVec
	FramesSent         prometheus.Counter
	FramesDropped      *prometheus.CounterVec
	AudioBytesSent     prometheus.Counter
	MalformedEvents    prometheus.Counter
	TurnEvents         prometheus.Counter
	TransportErrors    *prometheus.CounterVec

	// Segment metrics
	SegmentsCreated *prometheus.CounterVec
	TurnsIgnored    *prometheus.CounterVec

	// Translation metrics
	TranslationsRequested prometheus.Counter
	TranslationsAttached  prometheus.Counter
	TranslationsFailed    *prometheus.CounterVec
	TranslationsDiscarded *prometheus.CounterVec
	TranslationLatency    *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Feed metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram
	FeedClients    *prometheus.GaugeVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CaptureSessions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_sessions_total",
			Help:      "Total number of capture sessions started",
		}),
		CaptureTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_transitions_total",
			Help:      "Capture session state transitions",
		}, []string{"to"}),
		CaptureBlocks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_blocks_total",
			Help:      "Total number of audio sample blocks produced",
		}),
		CaptureDeviceErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_device_errors_total",
			Help:      "Capture device errors",
		}, []string{"kind"}),

		ChannelTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_transitions_total",
			Help:      "Recognizer channel state transitions",
		}, []string{"provider", "to"}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total encoded audio frames written to the recognizer",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total encoded audio frames dropped before transmission",
		}, []string{"reason"}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total encoded audio bytes written to the recognizer",
		}),
		MalformedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events_total",
			Help:      "Inbound messages that could not be parsed",
		}),
		TurnEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_events_total",
			Help:      "Inbound turn events delivered to the aggregator",
		}),
		TransportErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Channel-level transport errors",
		}, []string{"provider", "op"}),

		SegmentsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_created_total",
			Help:      "Total number of segments created",
		}, []string{"close"}),
		TurnsIgnored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_ignored_total",
			Help:      "Turn events ignored by the aggregator",
		}, []string{"reason"}),

		TranslationsRequested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_requested_total",
			Help:      "Total translation requests issued",
		}),
		TranslationsAttached: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_attached_total",
			Help:      "Translations attached to a segment",
		}),
		TranslationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_failed_total",
			Help:      "Translation requests that failed",
		}, []string{"provider"}),
		TranslationsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_discarded_total",
			Help:      "Translation results that were not attached",
		}, []string{"reason"}),
		TranslationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_latency_seconds",
			Help:      "Translation request latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		StreamsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_streams_total",
			Help:      "Total number of gRPC feed streams started",
		}),
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_streams_active",
			Help:      "Number of currently active gRPC feed streams",
		}),
		StreamsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_streams_success_total",
			Help:      "Total number of feed streams that ended cleanly",
		}),
		StreamsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_streams_failed_total",
			Help:      "Total number of feed streams that ended with an error",
		}),
		StreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_stream_duration_seconds",
			Help:      "Duration of gRPC feed streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900, 3600},
		}),
		FeedClients: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_clients",
			Help:      "Connected live feed subscribers",
		}, []string{"transport"}),
	}
}

// RecordCaptureTransition records a capture session state change.
func (m *Metrics) RecordCaptureTransition(to string) {
	m.CaptureTransitions.WithLabelValues(to).Inc()
}

// RecordCaptureBlock records an emitted sample block.
func (m *Metrics) RecordCaptureBlock() {
	m.CaptureBlocks.Inc()
}

// RecordDeviceError records a capture device failure.
func (m *Metrics) RecordDeviceError(kind string) {
	m.CaptureDeviceErrors.WithLabelValues(kind).Inc()
}

// RecordChannelTransition records a recognizer channel state change.
func (m *Metrics) RecordChannelTransition(provider, to string) {
	m.ChannelTransitions.WithLabelValues(provider, to).Inc()
}

// RecordFrameSent records an encoded frame written to the channel.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Inc()
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordFrameDropped records an encoded frame that was not transmitted.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordMalformedEvent records an unparseable inbound message.
func (m *Metrics) RecordMalformedEvent() {
	m.MalformedEvents.Inc()
}

// RecordTurnEvent records a turn event handed to the aggregator.
func (m *Metrics) RecordTurnEvent() {
	m.TurnEvents.Inc()
}

// RecordTransportError records a fatal channel error.
func (m *Metrics) RecordTransportError(provider, op string) {
	m.TransportErrors.WithLabelValues(provider, op).Inc()
}

// RecordSegmentCreated records a finalized segment and how its turn was closed.
func (m *Metrics) RecordSegmentCreated(closeKind string) {
	m.SegmentsCreated.WithLabelValues(closeKind).Inc()
}

// RecordTurnIgnored records a turn event the aggregator did not apply.
func (m *Metrics) RecordTurnIgnored(reason string) {
	m.TurnsIgnored.WithLabelValues(reason).Inc()
}

// RecordTranslationRequested records an issued translation request.
func (m *Metrics) RecordTranslationRequested() {
	m.TranslationsRequested.Inc()
}

// RecordTranslationResult records the outcome of a translation request.
func (m *Metrics) RecordTranslationResult(provider string, err error, latencySeconds float64) {
	m.TranslationLatency.WithLabelValues(provider).Observe(latencySeconds)
	if err != nil {
		m.TranslationsFailed.WithLabelValues(provider).Inc()
	}
}

// RecordTranslationAttached records a translation written to its segment.
func (m *Metrics) RecordTranslationAttached() {
	m.TranslationsAttached.Inc()
}

// RecordTranslationDiscarded records a translation result that was dropped.
func (m *Metrics) RecordTranslationDiscarded(reason string) {
	m.TranslationsDiscarded.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordStreamStart records a new feed stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a feed stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordFeedClient adjusts the live subscriber gauge for a transport.
func (m *Metrics) RecordFeedClient(transport string, delta float64) {
	m.FeedClients.WithLabelValues(transport).Add(delta)
}
