// Command audioclient runs a WAV file through the live transcription
// pipeline in-process and prints segments as they are produced.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"ai-live-transcription-service/internal/app"
	"ai-live-transcription-service/internal/config"
	"ai-live-transcription-service/internal/feed"
	"ai-live-transcription-service/internal/service/audio"
	"ai-live-transcription-service/internal/service/capture"
)

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	configPath := flag.String("config", "", "optional TOML config file")
	sessionID := flag.String("session", "audio-"+time.Now().Format("150405"), "Session ID")
	realtime := flag.Bool("realtime", true, "Pace the file at its sample rate")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to load config")
		}
	}
	if cfg.Observability.LogFormat == "json" {
		cfg.Observability.LogFormat = "console"
	}

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	info, err := audio.ReadWAVHeader(r)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read WAV header")
	}
	if info.AudioFormat != 1 || info.BitsPerSample != 16 || info.Channels != 1 {
		log.Fatal().Interface("wav", info).Msg("Only 16-bit mono PCM is supported")
	}
	cfg.Capture.SampleRateHz = int(info.SampleRate)

	platform := capture.NewReaderPlatform(r, capture.FormatS16LE)
	platform.Realtime = *realtime

	ctx := context.Background()
	application, err := app.New(ctx, cfg, app.Options{Platform: platform})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	sub := application.Feed.Subscribe(1024)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for u := range sub.Updates() {
			printUpdate(u)
		}
	}()

	log.Info().
		Str("file", *audioFile).
		Uint32("sampleRate", info.SampleRate).
		Float64("seconds", info.Duration()).
		Msg("Streaming audio")

	start := time.Now()
	if err := application.Sessions.Start(ctx, *sessionID); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}
	<-application.Sessions.Done()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	application.Shutdown(shutdownCtx)
	sub.Close()
	<-printed

	segs := application.Sessions.Segments()
	log.Info().
		Int("segments", len(segs)).
		Dur("elapsed", time.Since(start)).
		Msg("Stream completed")
}

func printUpdate(u feed.Update) {
	switch u.Type {
	case feed.TypeSegment:
		fmt.Printf("[%d] %s (%.2f)\n", u.Segment.TurnOrder, u.Segment.Text, u.Segment.Confidence)
	case feed.TypeTranslation:
		if u.Segment.TranslatedText != nil {
			fmt.Printf("[%d]   -> %s\n", u.Segment.TurnOrder, *u.Segment.TranslatedText)
		}
	case feed.TypeError:
		fmt.Printf("! %s\n", u.Error)
	}
}
