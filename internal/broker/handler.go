package broker

import (
	"errors"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/packet"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/server"
)

var (
	ErrClientDisconnected = errors.New("client sent DISCONNECT")
	ErrNotConnected       = errors.New("packet received before CONNECT")
	ErrBrokerStopped      = errors.New("broker stopped")
)

// serve runs one connection from upgrade to teardown.
func (b *Broker) serve(conn connection.Conn) {
	if !b.track() {
		_ = conn.Close()
		return
	}
	defer b.sessions.Done()

	s := connection.NewSession(conn, b.outboxSize, b.writeTimeout)
	if err := b.manager.Add(s); err != nil {
		logger.DebugF("[%s] Refuse connection from %s, details: %v", s.ID(), s.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.WriteLoop()
	}()

	reason := b.readLoop(s)
	if reason == nil || errors.Is(reason, ErrClientDisconnected) {
		b.manager.Finish(s, reason)
	} else {
		b.manager.Terminate(s, reason)
	}
	<-writerDone
}

// readLoop processes packets in arrival order until the session must end
// and returns the reason.
func (b *Broker) readLoop(s *connection.Session) error {
	for {
		p, err := packet.ReadLimit(s, b.maxPacketSize)
		if err != nil {
			var protocolErr *mqtt.ProtocolError
			if !errors.As(err, &protocolErr) {
				return b.readError(s, err)
			}
			b.metrics.PacketReceived(protocolErr.Type)
			if protocolErr.Type == mqtt.CONNECT && s.State() == connection.StateConnecting {
				// CONNECT is accepted whatever its body holds.
				logger.DebugF("[%s] Accept malformed CONNECT, details: %v", s.ID(), err)
				if err := b.handleConnect(s, nil); err != nil {
					return err
				}
				continue
			}
			logger.WarnF("[%s] Ignore malformed packet, details: %v", s.ID(), err)
			continue
		}

		b.metrics.PacketReceived(p.Type())
		logger.DebugF("[%s] Receive %s packet", s.ID(), p.Type())
		if err := b.handlePacket(s, p); err != nil {
			return err
		}
	}
}

func (b *Broker) readError(s *connection.Session, err error) error {
	if s.Closed() {
		return nil
	}
	if server.IsNormalClose(err) {
		logger.InfoF("[%s] Client close connection", s.ID())
		return nil
	}
	connErr := &connection.ConnectionError{SessionID: s.ID(), Op: "read", Err: err}
	logger.ErrorF("Error occured while reading packet, details: %v", connErr)
	return connErr
}

// handlePacket dispatches one packet. A non-nil error ends the session.
func (b *Broker) handlePacket(s *connection.Session, p packet.Packet) error {
	switch pkt := p.(type) {
	case *packet.Connect:
		return b.handleConnect(s, pkt)
	case *packet.Disconnect:
		logger.InfoF("[%s] Client disconnect", s.ID())
		return ErrClientDisconnected
	}

	if !s.Connected() {
		logger.ErrorF("[%s] Invalid packet type, expected %s packet, but got %s packet", s.ID(), mqtt.CONNECT, p.Type())
		return fmt.Errorf("%w: %s", ErrNotConnected, p.Type())
	}

	switch pkt := p.(type) {
	case *packet.Subscribe:
		return b.handleSubscribe(s, pkt)
	case *packet.Unsubscribe:
		return b.handleUnsubscribe(s, pkt)
	case *packet.Publish:
		b.router.Publish(s, pkt)
		return nil
	case *packet.PingReq:
		return s.Reply(packet.NewPingRespPacket())
	default:
		logger.WarnF("[%s] %s packet has not been supported, ignored", s.ID(), p.Type())
		return nil
	}
}

// handleConnect accepts the first CONNECT; later ones are ignored. connect
// is nil when the body could not be parsed.
func (b *Broker) handleConnect(s *connection.Session, connect *packet.Connect) error {
	if s.State() != connection.StateConnecting {
		logger.WarnF("[%s] Duplicate CONNECT packet, ignored", s.ID())
		return nil
	}
	if connect != nil && connect.ClientID != "" {
		s.SetClientID(connect.ClientID)
	}

	if err := s.Reply(packet.NewConnectAckPacket(false, packet.Accepted)); err != nil {
		return err
	}
	if !s.Promote() {
		return connection.ErrSessionClosed
	}
	logger.InfoF("[%s] Client %q connected from %s", s.ID(), s.ClientID(), s.RemoteAddr())
	return nil
}

func (b *Broker) handleSubscribe(s *connection.Session, subscribe *packet.Subscribe) error {
	granted := subscribe.Granted()
	for i, sub := range subscribe.Subscriptions {
		if !b.registry.Subscribe(s, sub.Topic, granted[i]) {
			return connection.ErrSessionClosed
		}
		logger.DebugF("[%s] Subscribe topic %q with QoS %d", s.ID(), sub.Topic, granted[i])
	}
	if subscribe.QoS == 0 {
		return nil
	}
	return s.Reply(packet.NewSubAckPacket(subscribe.PacketID, granted))
}

func (b *Broker) handleUnsubscribe(s *connection.Session, unsubscribe *packet.Unsubscribe) error {
	for _, topic := range unsubscribe.Topics {
		if b.registry.Unsubscribe(s, topic) {
			logger.DebugF("[%s] Unsubscribe topic %q", s.ID(), topic)
		}
	}
	ack := &packet.UnsubAck{PacketID: unsubscribe.PacketID}
	return s.Reply(ack.Encode())
}
