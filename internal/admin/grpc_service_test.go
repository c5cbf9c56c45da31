package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/broker"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/database"
)

type fakeBackend struct {
	sessions  []broker.SessionInfo
	published map[string][]byte
	sent      map[string][]byte
}

func (b *fakeBackend) Sessions() []broker.SessionInfo { return b.sessions }

func (b *fakeBackend) Publish(topic string, payload []byte) int {
	b.published[topic] = payload
	return 2
}

func (b *fakeBackend) SendToClient(clientID, topic string, payload []byte) error {
	if clientID != "dashboard" {
		return fmt.Errorf("%w: %q", connection.ErrClientNotFound, clientID)
	}
	b.sent[topic] = payload
	return nil
}

type fakeHistory struct {
	records []*database.SessionRecord
}

func (h *fakeHistory) GetSession(_ context.Context, sessionID string) (*database.SessionRecord, error) {
	if sessionID == "broken" {
		return nil, errors.New("database operation failed")
	}
	for _, record := range h.records {
		if record.SessionID == sessionID {
			return record, nil
		}
	}
	return nil, database.ErrSessionNotFound
}

func (h *fakeHistory) ListRecent(_ context.Context, limit int64) ([]*database.SessionRecord, error) {
	if int64(len(h.records)) > limit {
		return h.records[:limit], nil
	}
	return h.records, nil
}

func startAdmin(t *testing.T, backend Backend, history database.SessionReader) (*Server, *grpc.ClientConn) {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	srv := NewServer(NewGRPCService(backend, history))
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return srv, cc
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		sessions: []broker.SessionInfo{{
			ID:          "s-1",
			ClientID:    "dashboard",
			RemoteAddr:  "127.0.0.1:50000",
			State:       "connected",
			Topics:      []string{"events", "room/1"},
			ConnectedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
		published: map[string][]byte{},
		sent:      map[string][]byte{},
	}
}

func TestAdminListSessions(t *testing.T) {
	_, cc := startAdmin(t, newBackend(), nil)
	client := NewClient(cc)

	list, err := client.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, list.GetValues(), 1)

	fields := list.GetValues()[0].GetStructValue().GetFields()
	assert.Equal(t, "s-1", fields["id"].GetStringValue())
	assert.Equal(t, "dashboard", fields["client_id"].GetStringValue())
	assert.Equal(t, "connected", fields["state"].GetStringValue())
	assert.Equal(t, "2026-01-02T03:04:05Z", fields["connected_at"].GetStringValue())
	assert.Len(t, fields["topics"].GetListValue().GetValues(), 2)
}

func TestAdminPublish(t *testing.T) {
	backend := newBackend()
	_, cc := startAdmin(t, backend, nil)
	client := NewClient(cc)

	delivered, err := client.Publish(context.Background(), "events", "tick")
	require.NoError(t, err)
	assert.EqualValues(t, 2, delivered)
	assert.Equal(t, []byte("tick"), backend.published["events"])

	_, err = client.Publish(context.Background(), "", "tick")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAdminSendToClient(t *testing.T) {
	backend := newBackend()
	_, cc := startAdmin(t, backend, nil)
	client := NewClient(cc)

	require.NoError(t, client.SendToClient(context.Background(), "dashboard", "control/switch", "ON"))
	assert.Equal(t, []byte("ON"), backend.sent["control/switch"])

	err := client.SendToClient(context.Background(), "ghost", "control/switch", "ON")
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = client.SendToClient(context.Background(), "", "control/switch", "ON")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAdminHistory(t *testing.T) {
	_, cc := startAdmin(t, newBackend(), nil)
	_, err := NewClient(cc).History(context.Background(), 10)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	closedAt := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)
	history := &fakeHistory{records: []*database.SessionRecord{
		{SessionID: "s-2", ClientID: "B", ConnectedAt: closedAt.Add(-time.Minute)},
		{SessionID: "s-1", ClientID: "A", ConnectedAt: closedAt.Add(-time.Hour), ClosedAt: &closedAt, CloseReason: "client sent DISCONNECT"},
	}}
	_, cc = startAdmin(t, newBackend(), history)

	list, err := NewClient(cc).History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list.GetValues(), 2)
	open := list.GetValues()[0].GetStructValue().GetFields()
	assert.NotContains(t, open, "closed_at")
	closed := list.GetValues()[1].GetStructValue().GetFields()
	assert.Equal(t, "client sent DISCONNECT", closed["close_reason"].GetStringValue())
	assert.Equal(t, "2026-01-02T04:00:00Z", closed["closed_at"].GetStringValue())
}

func TestAdminSession(t *testing.T) {
	_, cc := startAdmin(t, newBackend(), nil)
	_, err := NewClient(cc).Session(context.Background(), "s-1")
	assert.Equal(t, codes.Unavailable, status.Code(err))

	closedAt := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)
	history := &fakeHistory{records: []*database.SessionRecord{
		{SessionID: "s-1", ClientID: "A", RemoteAddr: "127.0.0.1:50000", ConnectedAt: closedAt.Add(-time.Hour), ClosedAt: &closedAt, CloseReason: "broker stopped"},
	}}
	_, cc = startAdmin(t, newBackend(), history)
	client := NewClient(cc)

	record, err := client.Session(context.Background(), "s-1")
	require.NoError(t, err)
	fields := record.GetFields()
	assert.Equal(t, "A", fields["client_id"].GetStringValue())
	assert.Equal(t, "2026-01-02T03:00:00Z", fields["connected_at"].GetStringValue())
	assert.Equal(t, "broker stopped", fields["close_reason"].GetStringValue())

	_, err = client.Session(context.Background(), "s-9")
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = client.Session(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = client.Session(context.Background(), "broken")
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestAdminHealth(t *testing.T) {
	srv, cc := startAdmin(t, newBackend(), nil)
	healthClient := healthpb.NewHealthClient(cc)

	resp, err := healthClient.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	srv.health.Shutdown()
	resp, err = healthClient.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
