package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"ai-live-transcription-service/internal/feed"
	"ai-live-transcription-service/internal/models"
)

func startFeed(t *testing.T, s *Server) *SegmentFeedClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	Register(g, s)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSegmentFeedClient(conn)
}

func waitSubscribers(t *testing.T, fb *feed.Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fb.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", fb.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatch_SnapshotAndUpdates(t *testing.T) {
	fb := feed.NewBroadcaster()
	snapshot := func() []models.Segment {
		return []models.Segment{{ID: "s-seg-1", TurnOrder: 0, Text: "hello"}}
	}
	client := startFeed(t, NewServer(fb, snapshot))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.Watch(ctx, true)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	u, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() snapshot error = %v", err)
	}
	if u.Type != feed.TypeSnapshot || len(u.Segments) != 1 || u.Segments[0].Text != "hello" {
		t.Errorf("snapshot = %+v", u)
	}

	waitSubscribers(t, fb, 1)
	tr := "hola"
	fb.OnTranslation(models.Segment{ID: "s-seg-1", TurnOrder: 0, Text: "hello", TranslatedText: &tr})

	u, err = stream.Recv()
	if err != nil {
		t.Fatalf("Recv() update error = %v", err)
	}
	if u.Type != feed.TypeTranslation || u.Segment == nil || u.Segment.TranslatedText == nil || *u.Segment.TranslatedText != "hola" {
		t.Errorf("update = %+v", u)
	}
}

func TestWatch_WithoutSnapshot(t *testing.T) {
	fb := feed.NewBroadcaster()
	client := startFeed(t, NewServer(fb, func() []models.Segment {
		t.Error("snapshot should not be taken")
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.Watch(ctx, false)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	waitSubscribers(t, fb, 1)
	fb.OnPartial(2, "typing")

	u, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if u.Type != feed.TypePartial || u.TurnOrder != 2 || u.Text != "typing" {
		t.Errorf("update = %+v", u)
	}
}

func TestWatch_SlowWatcherIsDropped(t *testing.T) {
	fb := feed.NewBroadcaster()
	srv := NewServer(fb, nil)
	srv.buffer = 1
	client := startFeed(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.Watch(ctx, false)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	waitSubscribers(t, fb, 1)

	// The client does not read, so flow control eventually blocks the
	// server and the one-slot buffer overflows.
	for i := 0; i < 1000000 && fb.Subscribers() > 0; i++ {
		fb.OnPartial(0, "x")
	}

	for {
		_, err := stream.Recv()
		if err == nil {
			continue
		}
		if status.Code(err) != codes.ResourceExhausted {
			t.Errorf("Recv() error = %v, want ResourceExhausted", err)
		}
		break
	}
}

func TestStructRoundTrip(t *testing.T) {
	in := feed.Update{Type: feed.TypeError, Error: "boom"}
	msg, err := ToStruct(in)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Fields["type"].GetStringValue() != "error" {
		t.Errorf("type field = %v", msg.Fields["type"])
	}
	out, err := FromStruct(msg)
	if err != nil {
		t.Fatal(err)
	}
	if out.Type != in.Type || out.Error != in.Error {
		t.Errorf("round trip = %+v", out)
	}
}
