package admin

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

// Server hosts the admin service next to the standard health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

func NewServer(service AdminServer, opts ...grpc.ServerOption) *Server {
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	s.grpc.RegisterService(&ServiceDesc, service)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Serve(listener net.Listener) error {
	return s.grpc.Serve(listener)
}

// Run listens on address and serves until ctx is done.
func (s *Server) Run(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", address, err)
	}
	logger.InfoF("Admin gRPC listening on %s", listener.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(listener) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Stop()
		return nil
	}
}

// Stop reports NOT_SERVING to health checks and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Client calls the admin service over cc.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListSessions(ctx context.Context) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, fullMethod("ListSessions"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Publish(ctx context.Context, topic, payload string) (int64, error) {
	in, err := structpb.NewStruct(map[string]any{"topic": topic, "payload": payload})
	if err != nil {
		return 0, err
	}
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, fullMethod("Publish"), in, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

func (c *Client) SendToClient(ctx context.Context, clientID, topic, payload string) error {
	in, err := structpb.NewStruct(map[string]any{"client_id": clientID, "topic": topic, "payload": payload})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, fullMethod("SendToClient"), in, new(emptypb.Empty))
}

func (c *Client) History(ctx context.Context, limit int64) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, fullMethod("History"), wrapperspb.Int64(limit), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Session(ctx context.Context, sessionID string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Session"), wrapperspb.String(sessionID), out); err != nil {
		return nil, err
	}
	return out, nil
}
