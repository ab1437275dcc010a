package grpcapi

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"ai-live-transcription-service/internal/feed"
	"ai-live-transcription-service/internal/models"
	"ai-live-transcription-service/internal/observability/logging"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "transcription.SegmentFeed"

const watchMethod = "/" + ServiceName + "/Watch"

// SegmentFeedServer is the server API for the SegmentFeed service.
type SegmentFeedServer interface {
	Watch(*structpb.Struct, SegmentFeed_WatchServer) error
}

// SegmentFeed_WatchServer is the server side of a Watch stream.
type SegmentFeed_WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type segmentFeedWatchServer struct {
	grpc.ServerStream
}

func (x *segmentFeedWatchServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SegmentFeedServer).Watch(m, &segmentFeedWatchServer{stream})
}

// SegmentFeed_ServiceDesc describes the SegmentFeed service. Messages are
// well-known Struct values, so no generated code is needed.
var SegmentFeed_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SegmentFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "transcription/feed.proto",
}

// SnapshotFunc returns the current segments.
type SnapshotFunc func() []models.Segment

// Server streams segment updates to gRPC watchers.
type Server struct {
	feed     *feed.Broadcaster
	snapshot SnapshotFunc
	buffer   int
}

// NewServer creates a SegmentFeed server.
func NewServer(fb *feed.Broadcaster, snapshot SnapshotFunc) *Server {
	return &Server{feed: fb, snapshot: snapshot, buffer: 256}
}

// Register registers the SegmentFeed service on g.
func Register(g *grpc.Server, s *Server) {
	g.RegisterService(&SegmentFeed_ServiceDesc, s)
}

// Watch sends a snapshot (unless the request sets "snapshot": false) and
// then every live update until the client goes away.
func (s *Server) Watch(req *structpb.Struct, stream SegmentFeed_WatchServer) error {
	logger := logging.WithComponent("grpc.feed")
	sub := s.feed.Subscribe(s.buffer)
	defer sub.Close()

	wantSnapshot := true
	if v, ok := req.GetFields()["snapshot"]; ok {
		wantSnapshot = v.GetBoolValue()
	}
	if wantSnapshot && s.snapshot != nil {
		msg, err := ToStruct(feed.Update{Type: feed.TypeSnapshot, Segments: s.snapshot()})
		if err != nil {
			return status.Errorf(codes.Internal, "encode snapshot: %v", err)
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				if sub.Dropped() {
					return status.Error(codes.ResourceExhausted, "watcher fell behind the feed")
				}
				return nil
			}
			msg, err := ToStruct(u)
			if err != nil {
				logger.Warn().Err(err).Str("type", u.Type).Msg("Skipping unencodable update")
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// ToStruct converts an update into its wire form.
func ToStruct(u feed.Update) (*structpb.Struct, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	msg := &structpb.Struct{}
	if err := msg.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return msg, nil
}

// FromStruct converts a wire message back into an update.
func FromStruct(msg *structpb.Struct) (feed.Update, error) {
	var u feed.Update
	data, err := msg.MarshalJSON()
	if err != nil {
		return u, err
	}
	err = json.Unmarshal(data, &u)
	return u, err
}

// SegmentFeedClient is the client API for the SegmentFeed service.
type SegmentFeedClient struct {
	cc grpc.ClientConnInterface
}

// NewSegmentFeedClient creates a SegmentFeed client.
func NewSegmentFeedClient(cc grpc.ClientConnInterface) *SegmentFeedClient {
	return &SegmentFeedClient{cc: cc}
}

// WatchStream receives feed updates.
type WatchStream struct {
	grpc.ClientStream
}

// Recv returns the next update.
func (w *WatchStream) Recv() (feed.Update, error) {
	m := new(structpb.Struct)
	if err := w.ClientStream.RecvMsg(m); err != nil {
		return feed.Update{}, err
	}
	return FromStruct(m)
}

// Watch opens a feed stream.
func (c *SegmentFeedClient) Watch(ctx context.Context, snapshot bool, opts ...grpc.CallOption) (*WatchStream, error) {
	stream, err := c.cc.NewStream(ctx, &SegmentFeed_ServiceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"snapshot": snapshot})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream}, nil
}
