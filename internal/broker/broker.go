// Package broker wires the websocket listener, the session lifecycle, the
// subscription registry and the router into one MQTT broker.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/packet"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/server"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/subscription"
)

// DefaultMaxPacketSize is the largest remaining length accepted when the
// configuration does not set one.
const DefaultMaxPacketSize = 1 << 20

type Option func(*Broker)

// WithOutboxSize bounds the number of packets queued per session.
func WithOutboxSize(size int) Option {
	return func(b *Broker) { b.outboxSize = size }
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(b *Broker) { b.writeTimeout = timeout }
}

// WithObserver reports session starts and ends to observer.
func WithObserver(observer connection.Observer) Option {
	return func(b *Broker) { b.observers = append(b.observers, observer) }
}

// WithMetrics registers the broker collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(b *Broker) { b.registerer = reg }
}

type Broker struct {
	registry *subscription.Registry
	manager  *connection.Manager
	router   *Router
	server   *server.Server
	metrics  *metrics.Metrics

	observers     []connection.Observer
	registerer    prometheus.Registerer
	outboxSize    int
	writeTimeout  time.Duration
	maxPacketSize int

	mu       sync.Mutex
	stopped  bool
	sessions sync.WaitGroup
}

// SessionInfo describes one open session.
type SessionInfo struct {
	ID          string
	ClientID    string
	RemoteAddr  string
	State       string
	Topics      []string
	ConnectedAt time.Time
}

func New(config server.Config, opts ...Option) (*Broker, error) {
	b := &Broker{
		registry:      subscription.NewRegistry(),
		outboxSize:    connection.DefaultOutboxSize,
		writeTimeout:  connection.DefaultWriteTimeout,
		maxPacketSize: config.MaxPacketSize,
	}
	if b.maxPacketSize <= 0 {
		b.maxPacketSize = DefaultMaxPacketSize
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.registerer != nil {
		m, err := metrics.New(b.registerer, b.registry.SubscriptionCount)
		if err != nil {
			return nil, err
		}
		b.metrics = m
		b.observers = append([]connection.Observer{m}, b.observers...)
	}

	b.manager = connection.NewManager(b.registry, b.observers...)
	b.router = NewRouter(b.registry, b.metrics)
	b.server = server.NewServer(config, b.serve)
	return b, nil
}

// Start binds the listener and returns the URL clients should dial.
func (b *Broker) Start() (string, error) {
	return b.server.Start()
}

// Stop closes the listener, terminates every session and waits for their
// goroutines. The registry is empty afterwards.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	err := b.server.Stop(ctx)
	closed := b.manager.CloseAll(ErrBrokerStopped)
	logger.InfoF("Broker stopped, %d sessions closed", closed)

	done := make(chan struct{})
	go func() {
		b.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for sessions: %w", ctx.Err())
	}
	return err
}

func (b *Broker) track() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}
	b.sessions.Add(1)
	return true
}

func (b *Broker) Registry() *subscription.Registry { return b.registry }

func (b *Broker) Manager() *connection.Manager { return b.manager }

func (b *Broker) Sessions() []SessionInfo {
	sessions := b.manager.Sessions()
	result := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, SessionInfo{
			ID:          s.ID(),
			ClientID:    s.ClientID(),
			RemoteAddr:  s.RemoteAddr(),
			State:       s.State().String(),
			Topics:      b.registry.TopicsOf(s),
			ConnectedAt: s.CreatedAt(),
		})
	}
	return result
}

// Publish routes a message that originates from the broker itself. No
// acknowledgment is produced.
func (b *Broker) Publish(topic string, payload []byte) int {
	return b.router.Publish(nil, &packet.Publish{Topic: topic, Payload: payload})
}

// SendToClient queues a message to one client regardless of its
// subscriptions.
func (b *Broker) SendToClient(clientID, topic string, payload []byte) error {
	message := &packet.Publish{Topic: topic, Payload: payload}
	return b.manager.SendMessage(clientID, message.Encode())
}
