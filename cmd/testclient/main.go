// Command testclient watches the SegmentFeed gRPC service and logs every
// update.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "ai-live-transcription-service/internal/api/grpc"
	"ai-live-transcription-service/internal/feed"
)

func main() {
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	snapshot := flag.Bool("snapshot", true, "Request the current segments first")
	partials := flag.Bool("partials", false, "Also show partial text")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stream, err := grpcapi.NewSegmentFeedClient(conn).Watch(ctx, *snapshot)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to watch feed")
	}
	log.Info().Str("server", *serverAddr).Msg("Watching segment feed")

	for {
		u, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Feed ended")
		}

		switch u.Type {
		case feed.TypeSnapshot:
			for _, s := range u.Segments {
				log.Info().Str("segmentId", s.ID).Int("turnOrder", s.TurnOrder).Str("text", s.Text).Msg("Snapshot")
			}
		case feed.TypeSegment:
			log.Info().Str("segmentId", u.Segment.ID).Int("turnOrder", u.Segment.TurnOrder).Str("text", u.Segment.Text).Msg("Segment")
		case feed.TypeTranslation:
			if u.Segment.TranslatedText != nil {
				log.Info().Str("segmentId", u.Segment.ID).Str("translatedText", *u.Segment.TranslatedText).Msg("Translation")
			}
		case feed.TypePartial:
			if *partials {
				log.Debug().Int("turnOrder", u.TurnOrder).Str("text", u.Text).Msg("Partial")
			}
		case feed.TypeError:
			log.Warn().Str("error", u.Error).Msg("Pipeline error")
		}
	}
}
