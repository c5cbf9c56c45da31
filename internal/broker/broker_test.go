package broker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/packet"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/server"
)

const waitTimeout = 5 * time.Second

type testClient struct {
	t       *testing.T
	conn    *server.Conn
	packets chan packet.Packet
}

func startBroker(t *testing.T, opts ...Option) (*Broker, string) {
	t.Helper()
	return startBrokerWithConfig(t, server.Config{Hostname: "127.0.0.1", Port: 0}, opts...)
}

func startBrokerWithConfig(t *testing.T, config server.Config, opts ...Option) (*Broker, string) {
	t.Helper()
	b, err := New(config, opts...)
	require.NoError(t, err)
	url, err := b.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return b, url
}

func dial(t *testing.T, url string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	conn, err := server.Dial(ctx, url)
	require.NoError(t, err)

	c := &testClient{t: t, conn: conn, packets: make(chan packet.Packet, 64)}
	go func() {
		defer close(c.packets)
		for {
			p, err := packet.Read(conn)
			if err != nil {
				return
			}
			c.packets <- p
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// connect dials and completes the CONNECT handshake.
func connect(t *testing.T, url, clientID string) *testClient {
	t.Helper()
	c := dial(t, url)
	c.send(&packet.Connect{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: clientID})
	assert.Equal(t, &packet.ConnAck{ReturnCode: packet.Accepted}, c.next())
	return c
}

func (c *testClient) send(p packet.Packet) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteFrame(p.Encode()))
}

func (c *testClient) next() packet.Packet {
	c.t.Helper()
	select {
	case p, ok := <-c.packets:
		require.True(c.t, ok, "connection closed")
		return p
	case <-time.After(waitTimeout):
		c.t.Fatal("no packet received")
		return nil
	}
}

func (c *testClient) expectNothing() {
	c.t.Helper()
	select {
	case p, ok := <-c.packets:
		if ok {
			c.t.Fatalf("unexpected %s packet", p.Type())
		}
	case <-time.After(200 * time.Millisecond):
	}
}

// expectClosed waits until the broker has closed the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-c.packets:
			if !ok {
				return
			}
		case <-deadline:
			c.t.Fatal("connection was not closed")
		}
	}
}

func subscribe(c *testClient, id uint16, topics ...string) {
	c.t.Helper()
	sub := &packet.Subscribe{QoS: 1, PacketID: id}
	for _, topic := range topics {
		sub.Subscriptions = append(sub.Subscriptions, packet.TopicSubscription{Topic: topic, QoS: 1})
	}
	c.send(sub)
	ack, ok := c.next().(*packet.SubAck)
	require.True(c.t, ok)
	require.Equal(c.t, id, ack.PacketID)
}

func TestPublishReachesSubscriberAndAcksPublisher(t *testing.T) {
	_, url := startBroker(t)
	a := connect(t, url, "A")
	a.send(&packet.Subscribe{
		QoS:           1,
		PacketID:      1,
		Subscriptions: []packet.TopicSubscription{{Topic: "room/1", QoS: 1}},
	})
	assert.Equal(t, &packet.SubAck{PacketID: 1, Granted: []byte{1}}, a.next())

	b := connect(t, url, "B")
	b.send(&packet.Publish{
		PacketFlag: packet.PublishPacketFlag{QoS: 1},
		Topic:      "room/1",
		PacketID:   2,
		Payload:    []byte("hi"),
	})

	got, ok := a.next().(*packet.Publish)
	require.True(t, ok)
	assert.Equal(t, "room/1", got.Topic)
	assert.Equal(t, []byte("hi"), got.Payload)
	assert.Equal(t, &packet.PubAck{PacketID: 2}, b.next())

	a.expectNothing()
	b.expectNothing()
}

func TestDisconnectedSubscriberIsRemoved(t *testing.T) {
	broker, url := startBroker(t)
	a := connect(t, url, "A")
	subscribe(a, 1, "x")
	require.Len(t, broker.Registry().SubscribersOf("x"), 1)

	a.send(&packet.Disconnect{})
	a.expectClosed()
	require.Eventually(t, func() bool {
		return len(broker.Registry().SubscribersOf("x")) == 0 && broker.Manager().Count() == 0
	}, waitTimeout, 10*time.Millisecond)

	b := connect(t, url, "B")
	b.send(&packet.Publish{Topic: "x", Payload: []byte("lost")})
	b.expectNothing()
	assert.Empty(t, broker.Registry().SubscribersOf("x"))
}

func TestDisconnectStillSendsQueuedAcks(t *testing.T) {
	_, url := startBroker(t)
	for i := 0; i < 20; i++ {
		a := connect(t, url, "A")
		publish := &packet.Publish{
			PacketFlag: packet.PublishPacketFlag{QoS: 1},
			Topic:      "nobody",
			PacketID:   7,
			Payload:    []byte("last words"),
		}
		frame := append(publish.Encode(), (&packet.Disconnect{}).Encode()...)
		require.NoError(t, a.conn.WriteFrame(frame))

		assert.Equal(t, &packet.PubAck{PacketID: 7}, a.next())
		a.expectClosed()
	}
}

func TestOversizedPacketClosesSession(t *testing.T) {
	broker, url := startBrokerWithConfig(t, server.Config{Hostname: "127.0.0.1", Port: 0, MaxPacketSize: 64})
	a := connect(t, url, "A")
	subscribe(a, 1, "x")

	a.send(&packet.Publish{Topic: "x", Payload: make([]byte, 32)})
	got, ok := a.next().(*packet.Publish)
	require.True(t, ok)
	assert.Len(t, got.Payload, 32)

	a.send(&packet.Publish{Topic: "x", Payload: make([]byte, 128)})
	a.expectClosed()
	require.Eventually(t, func() bool {
		return broker.Registry().TopicCount() == 0
	}, waitTimeout, 10*time.Millisecond)
}

func TestTransportCloseRemovesSubscriber(t *testing.T) {
	broker, url := startBroker(t)
	a := connect(t, url, "A")
	subscribe(a, 1, "x", "y")

	require.NoError(t, a.conn.Close())
	require.Eventually(t, func() bool {
		return broker.Registry().TopicCount() == 0
	}, waitTimeout, 10*time.Millisecond)
}

func TestPublishFansOutOncePerSubscriber(t *testing.T) {
	_, url := startBroker(t)
	a := connect(t, url, "A")
	c := connect(t, url, "C")
	subscribe(a, 1, "x")
	subscribe(c, 1, "x")

	b := connect(t, url, "B")
	b.send(&packet.Publish{Topic: "x", Payload: []byte("once")})

	for _, subscriber := range []*testClient{a, c} {
		got, ok := subscriber.next().(*packet.Publish)
		require.True(t, ok)
		assert.Equal(t, []byte("once"), got.Payload)
		subscriber.expectNothing()
	}
	b.expectNothing()
}

func TestStopSeversConnectionsAndEmptiesRegistry(t *testing.T) {
	broker, url := startBroker(t)
	a := connect(t, url, "A")
	subscribe(a, 1, "x")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, broker.Stop(ctx))

	a.expectClosed()
	assert.Empty(t, broker.Registry().SubscribersOf("x"))
	assert.Equal(t, 0, broker.Manager().Count())

	dialCtx, dialCancel := context.WithTimeout(context.Background(), time.Second)
	defer dialCancel()
	_, err := server.Dial(dialCtx, url)
	assert.Error(t, err)
}

func TestPacketBeforeConnectClosesSession(t *testing.T) {
	broker, url := startBroker(t)
	a := dial(t, url)
	a.send(&packet.Subscribe{QoS: 1, PacketID: 1, Subscriptions: []packet.TopicSubscription{{Topic: "x"}}})
	a.expectClosed()
	assert.Equal(t, 0, broker.Registry().TopicCount())
}

func TestSessionProtocolDetails(t *testing.T) {
	broker, url := startBroker(t)
	a := connect(t, url, "A")

	// A second CONNECT is ignored.
	a.send(&packet.Connect{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: "A"})
	a.send(&packet.PingReq{})
	assert.Equal(t, &packet.PingResp{}, a.next())

	// QoS 0 SUBSCRIBE gets no SUBACK.
	a.send(&packet.Subscribe{PacketID: 3, Subscriptions: []packet.TopicSubscription{{Topic: "quiet"}}})
	a.expectNothing()
	require.Eventually(t, func() bool {
		return len(broker.Registry().SubscribersOf("quiet")) == 1
	}, waitTimeout, 10*time.Millisecond)

	// Granted QoS is capped at 1 and has one entry per topic.
	a.send(&packet.Subscribe{QoS: 1, PacketID: 4, Subscriptions: []packet.TopicSubscription{
		{Topic: "t0", QoS: 0}, {Topic: "t2", QoS: 2},
	}})
	assert.Equal(t, &packet.SubAck{PacketID: 4, Granted: []byte{0, 1}}, a.next())

	a.send(&packet.Unsubscribe{PacketID: 5, Topics: []string{"t0", "missing"}})
	assert.Equal(t, &packet.UnsubAck{PacketID: 5}, a.next())
	assert.Empty(t, broker.Registry().SubscribersOf("t0"))

	// Packets the broker does not act on are ignored.
	a.send(&packet.PubAck{PacketID: 9})
	a.send(&packet.PingReq{})
	assert.Equal(t, &packet.PingResp{}, a.next())

	// QoS 0 PUBLISH is not acknowledged.
	a.send(&packet.Publish{Topic: "nobody"})
	a.expectNothing()
}

func TestBrokerInjectedMessages(t *testing.T) {
	broker, url := startBroker(t)
	a := connect(t, url, "dashboard")
	subscribe(a, 1, "events")

	assert.Equal(t, 1, broker.Publish("events", []byte("tick")))
	got, ok := a.next().(*packet.Publish)
	require.True(t, ok)
	assert.Equal(t, []byte("tick"), got.Payload)

	require.NoError(t, broker.SendToClient("dashboard", "direct", []byte("hello")))
	got, ok = a.next().(*packet.Publish)
	require.True(t, ok)
	assert.Equal(t, "direct", got.Topic)

	assert.ErrorIs(t, broker.SendToClient("ghost", "direct", nil), connection.ErrClientNotFound)

	sessions := broker.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "dashboard", sessions[0].ClientID)
	assert.Equal(t, "connected", sessions[0].State)
	assert.Equal(t, []string{"events"}, sessions[0].Topics)
}

type closeRecorder struct {
	closed chan error
}

func (r *closeRecorder) SessionOpened(*connection.Session) {}

func (r *closeRecorder) SessionClosed(_ *connection.Session, reason error) {
	r.closed <- reason
}

func TestObserversAndMetrics(t *testing.T) {
	recorder := &closeRecorder{closed: make(chan error, 4)}
	reg := prometheus.NewRegistry()
	_, url := startBroker(t, WithObserver(recorder), WithMetrics(reg), WithOutboxSize(16), WithWriteTimeout(time.Second))

	a := connect(t, url, "A")
	a.send(&packet.Disconnect{})

	select {
	case reason := <-recorder.closed:
		assert.ErrorIs(t, reason, ErrClientDisconnected)
	case <-time.After(waitTimeout):
		t.Fatal("observer was not told about the closed session")
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "wsbroker_connections_total")
	assert.Contains(t, names, "wsbroker_packets_received_total")
}
