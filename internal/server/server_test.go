package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/packet"
)

func startServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()
	srv := NewServer(Config{Hostname: "127.0.0.1", Port: 0}, handler)
	url, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return srv, url
}

func TestServerReadsPacketAcrossFrames(t *testing.T) {
	received := make(chan packet.Packet, 1)
	srv, url := startServer(t, func(conn connection.Conn) {
		defer conn.Close()
		p, err := packet.Read(conn)
		if err != nil {
			return
		}
		received <- p
	})

	port := srv.Addr().(*net.TCPAddr).Port
	assert.Equal(t, fmt.Sprintf("ws://127.0.0.1:%d", port), url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, url)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "mqtt", client.Subprotocol())

	wire := (&packet.Publish{Topic: "x", Payload: []byte("hello")}).Encode()
	require.NoError(t, client.WriteFrame(wire[:3]))
	require.NoError(t, client.WriteFrame(wire[3:]))

	select {
	case p := <-received:
		publish, ok := p.(*packet.Publish)
		require.True(t, ok)
		assert.Equal(t, "x", publish.Topic)
		assert.Equal(t, []byte("hello"), publish.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("packet was not received")
	}
}

func TestServerSkipsTextMessages(t *testing.T) {
	received := make(chan packet.Packet, 1)
	_, url := startServer(t, func(conn connection.Conn) {
		defer conn.Close()
		if p, err := packet.Read(conn); err == nil {
			received <- p
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not mqtt")))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, (&packet.PingReq{}).Encode()))

	select {
	case p := <-received:
		assert.IsType(t, &packet.PingReq{}, p)
	case <-time.After(5 * time.Second):
		t.Fatal("packet was not received")
	}
}

func TestServerWritesOneFramePerPacket(t *testing.T) {
	_, url := startServer(t, func(conn connection.Conn) {
		_ = conn.WriteFrame(packet.NewPingRespPacket())
		_, _ = io.Copy(io.Discard, conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer ws.Close()

	messageType, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, []byte{0xD0, 0x00}, data)
}

func TestServerListenError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	srv := NewServer(Config{Hostname: "127.0.0.1", Port: taken.Addr().(*net.TCPAddr).Port}, func(connection.Conn) {})
	_, err = srv.Start()
	var listenErr *ListenError
	require.ErrorAs(t, err, &listenErr)
	assert.Equal(t, taken.Addr().String(), listenErr.Address)
	assert.Nil(t, srv.Addr())
}

func TestServerStopClosesListener(t *testing.T) {
	srv, url := startServer(t, func(conn connection.Conn) { _ = conn.Close() })
	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, url)
	assert.Error(t, err)
}

func TestIsNormalClose(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"closed", net.ErrClosed, true},
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNormalClose(tt.err))
		})
	}
}
