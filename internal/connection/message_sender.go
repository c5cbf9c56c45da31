package connection

import (
	"errors"
	"fmt"
)

var (
	ErrClientNotFound = errors.New("client is not connected")
	ErrOutboxFull     = errors.New("client outbox is full")
)

// MessageSender sends raw packets to a client addressed by its client ID.
type MessageSender interface {
	SendMessage(clientID string, data []byte) error
}

var _ MessageSender = (*Manager)(nil)

// SendMessage delivers data to the Connected session announcing clientID.
func (m *Manager) SendMessage(clientID string, data []byte) error {
	s, ok := m.FindByClientID(clientID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrClientNotFound, clientID)
	}
	if !s.Deliver(data) {
		return fmt.Errorf("[%s] %w", s.id, ErrOutboxFull)
	}
	return nil
}
