package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"ai-live-transcription-service/internal/observability/metrics"
)

// UnaryServerInterceptor logs unary calls (health checks, reflection) at
// debug level.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		callEvent(log.Debug(), ctx, info.FullMethod, start, err).Msg("gRPC unary call")
		return resp, err
	}
}

// StreamServerInterceptor counts connected feed watchers and logs each
// stream when it ends. A watcher leaving by cancelling its context is not
// a failure.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		start := time.Now()
		m.RecordFeedClient("grpc", 1)
		defer m.RecordFeedClient("grpc", -1)

		err := handler(srv, ss)

		ev := log.Info()
		if code := status.Code(err); code != codes.OK && code != codes.Canceled {
			ev = log.Warn()
		}
		callEvent(ev, ctx, info.FullMethod, start, err).Msg("gRPC stream closed")
		return err
	}
}

func callEvent(ev *zerolog.Event, ctx context.Context, method string, start time.Time, err error) *zerolog.Event {
	ev = ev.Str("method", method).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start))
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ev = ev.Str("peer", p.Addr.String())
	}
	return ev
}
