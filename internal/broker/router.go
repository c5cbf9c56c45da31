package broker

import (
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/packet"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/subscription"
)

// Router fans published messages out to the subscribers of their topic.
type Router struct {
	registry *subscription.Registry
	metrics  *metrics.Metrics
}

func NewRouter(registry *subscription.Registry, m *metrics.Metrics) *Router {
	return &Router{registry: registry, metrics: m}
}

// Publish queues the message at QoS 0 to every Connected subscriber of its
// topic and returns how many deliveries were queued. Subscribers whose outbox
// is full miss the message. When from is set and the message has QoS above 0,
// one PubAck is sent back to from after the fan-out.
func (r *Router) Publish(from *connection.Session, p *packet.Publish) int {
	subscribers := r.registry.SubscribersOf(p.Topic)
	data := p.Forward().Encode()

	delivered, dropped := 0, 0
	for _, s := range subscribers {
		if !s.Connected() {
			continue
		}
		if s.Deliver(data) {
			delivered++
			continue
		}
		dropped++
		logger.WarnF("[%s] Outbox full, message on topic %q dropped", s.ID(), p.Topic)
	}
	r.metrics.Routed(delivered, dropped)

	if from != nil {
		logger.DebugF("[%s] Routed message on topic %q to %d subscribers", from.ID(), p.Topic, delivered)
		if p.PacketFlag.QoS > 0 {
			ack := &packet.PubAck{PacketID: p.PacketID}
			if err := from.Reply(ack.Encode()); err != nil {
				logger.DebugF("[%s] Fail to queue PUBACK, details: %v", from.ID(), err)
			}
		}
	}
	return delivered
}
