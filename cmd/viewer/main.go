// Command viewer follows the segment Kafka topics and prints the
// transcript with translations as they arrive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-live-transcription-service/internal/models"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicSegment := flag.String("topic-segment", models.EventSegmentFinal, "Segment topic")
	topicTranslation := flag.String("topic-translation", models.EventSegmentTranslated, "Translation topic")
	since := flag.Duration("since", time.Hour, "Replay messages newer than this")
	session := flag.String("session", "", "Only show this session")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Println(line)
	}

	var wg sync.WaitGroup
	for _, topic := range []string{*topicSegment, *topicTranslation} {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			consume(ctx, strings.Split(*brokers, ","), topic, *since, func(value []byte) {
				if line, ok := render(value, *session); ok {
					emit(line)
				}
			})
		}(topic)
	}

	log.Info().Str("brokers", *brokers).Msg("Viewer started")
	wg.Wait()
}

// consume reads partition 0 of topic without a consumer group.
func consume(ctx context.Context, brokers []string, topic string, since time.Duration, handle func([]byte)) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	log.Info().Str("topic", topic).Dur("since", since).Msg("Consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}
		handle(msg.Value)
	}
}

// render formats one event. Events for other sessions are skipped when
// session is set.
func render(value []byte, session string) (string, bool) {
	var head struct {
		EventType string `json:"eventType"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		log.Warn().Err(err).Msg("Skipping malformed event")
		return "", false
	}
	if session != "" && head.SessionID != session {
		return "", false
	}

	switch head.EventType {
	case models.EventSegmentFinal:
		var ev models.SegmentFinal
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", false
		}
		return fmt.Sprintf("%s [%d] %s (%.2f)", ev.SessionID, ev.TurnOrder, ev.Text, ev.Confidence), true
	case models.EventSegmentTranslated:
		var ev models.SegmentTranslated
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", false
		}
		return fmt.Sprintf("%s [%d]   -> (%s) %s", ev.SessionID, ev.TurnOrder, ev.Language, ev.TranslatedText), true
	default:
		return "", false
	}
}
