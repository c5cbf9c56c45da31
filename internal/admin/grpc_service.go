// Package admin serves the broker administration API over gRPC. Messages use
// the protobuf well-known types, so no generated code is needed.
package admin

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/broker"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/database"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

const ServiceName = "broker.admin.v1.Admin"

// AdminServer is the server API of the admin service.
type AdminServer interface {
	// ListSessions returns one struct per open session.
	ListSessions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// Publish routes {topic, payload} to the topic subscribers and returns
	// the number of deliveries.
	Publish(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error)
	// SendToClient sends {topic, payload} to the client named by client_id.
	SendToClient(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// History returns up to the given number of journaled sessions.
	History(context.Context, *wrapperspb.Int64Value) (*structpb.ListValue, error)
	// Session returns the journal record of one session id.
	Session(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ListSessions", func() *emptypb.Empty { return new(emptypb.Empty) }, AdminServer.ListSessions),
		unaryMethod("Publish", func() *structpb.Struct { return new(structpb.Struct) }, AdminServer.Publish),
		unaryMethod("SendToClient", func() *structpb.Struct { return new(structpb.Struct) }, AdminServer.SendToClient),
		unaryMethod("History", func() *wrapperspb.Int64Value { return new(wrapperspb.Int64Value) }, AdminServer.History),
		unaryMethod("Session", func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }, AdminServer.Session),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "broker/admin/v1/admin.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unaryMethod[Req, Resp proto.Message](
	name string,
	newReq func() Req,
	call func(AdminServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Backend is the broker surface the admin service drives.
type Backend interface {
	Sessions() []broker.SessionInfo
	Publish(topic string, payload []byte) int
	SendToClient(clientID, topic string, payload []byte) error
}

type GRPCService struct {
	backend Backend
	history database.SessionReader
}

var _ AdminServer = (*GRPCService)(nil)

// NewGRPCService serves backend. history may be nil when no journal is
// configured.
func NewGRPCService(backend Backend, history database.SessionReader) *GRPCService {
	return &GRPCService{backend: backend, history: history}
}

func (s *GRPCService) ListSessions(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	sessions := s.backend.Sessions()
	values := make([]*structpb.Value, 0, len(sessions))
	for _, session := range sessions {
		topics := make([]any, len(session.Topics))
		for i, topic := range session.Topics {
			topics[i] = topic
		}
		value, err := structpb.NewValue(map[string]any{
			"id":           session.ID,
			"client_id":    session.ClientID,
			"remote_addr":  session.RemoteAddr,
			"state":        session.State,
			"topics":       topics,
			"connected_at": session.ConnectedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		values = append(values, value)
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *GRPCService) Publish(_ context.Context, in *structpb.Struct) (*wrapperspb.Int64Value, error) {
	topic, payload, err := message(in)
	if err != nil {
		return nil, err
	}
	delivered := s.backend.Publish(topic, payload)
	logger.InfoF("Admin publish on topic %q delivered to %d subscribers", topic, delivered)
	return wrapperspb.Int64(int64(delivered)), nil
}

func (s *GRPCService) SendToClient(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	clientID := in.GetFields()["client_id"].GetStringValue()
	if clientID == "" {
		return nil, status.Error(codes.InvalidArgument, "client_id is required")
	}
	topic, payload, err := message(in)
	if err != nil {
		return nil, err
	}
	if err := s.backend.SendToClient(clientID, topic, payload); err != nil {
		if errors.Is(err, connection.ErrClientNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCService) History(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.ListValue, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "session journal is not configured")
	}
	records, err := s.history.ListRecent(ctx, in.GetValue())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	values := make([]*structpb.Value, 0, len(records))
	for _, record := range records {
		value, err := structpb.NewValue(recordFields(record))
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		values = append(values, value)
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *GRPCService) Session(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "session journal is not configured")
	}
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "session id is required")
	}
	record, err := s.history.GetSession(ctx, in.GetValue())
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(recordFields(record))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func recordFields(record *database.SessionRecord) map[string]any {
	fields := map[string]any{
		"session_id":   record.SessionID,
		"client_id":    record.ClientID,
		"remote_addr":  record.RemoteAddr,
		"connected_at": record.ConnectedAt.UTC().Format(time.RFC3339),
	}
	if record.ClosedAt != nil {
		fields["closed_at"] = record.ClosedAt.UTC().Format(time.RFC3339)
		fields["close_reason"] = record.CloseReason
	}
	return fields
}

func message(in *structpb.Struct) (string, []byte, error) {
	fields := in.GetFields()
	topic := fields["topic"].GetStringValue()
	if topic == "" {
		return "", nil, status.Error(codes.InvalidArgument, "topic is required")
	}
	return topic, []byte(fields["payload"].GetStringValue()), nil
}
