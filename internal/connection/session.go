package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	DefaultOutboxSize   = 256
	DefaultWriteTimeout = 10 * time.Second
)

// Session is the server side of one client connection. Packets are read by a
// single goroutine; everything sent to the client goes through the outbox and
// is written by WriteLoop.
type Session struct {
	id           string
	conn         Conn
	remoteAddr   string
	state        atomic.Int32
	clientID     atomic.Pointer[string]
	outbox       chan []byte
	done         chan struct{}
	writerExit   chan struct{}
	drain        atomic.Bool
	releaseOnce  sync.Once
	writeTimeout time.Duration
	createdAt    time.Time
}

func NewSession(conn Conn, outboxSize int, writeTimeout time.Duration) *Session {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	s := &Session{
		id:           uuid.NewString(),
		conn:         conn,
		outbox:       make(chan []byte, outboxSize),
		done:         make(chan struct{}),
		writerExit:   make(chan struct{}),
		writeTimeout: writeTimeout,
		createdAt:    time.Now(),
	}
	if addr := conn.RemoteAddr(); addr != nil {
		s.remoteAddr = addr.String()
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) RemoteAddr() string { return s.remoteAddr }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) ClientID() string {
	if id := s.clientID.Load(); id != nil {
		return *id
	}
	return ""
}

func (s *Session) SetClientID(clientID string) {
	s.clientID.Store(&clientID)
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Connected() bool { return s.State() == StateConnected }

func (s *Session) Closed() bool { return s.State() == StateClosed }

// Promote moves a Connecting session to Connected. It reports false when the
// session was not Connecting.
func (s *Session) Promote() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected))
}

// Read reads the client's byte stream.
func (s *Session) Read(p []byte) (int, error) {
	return s.conn.Read(p)
}

// Reply queues a response to a packet this session sent. It waits for room
// in the outbox and fails once the session is released or its writer has
// stopped.
func (s *Session) Reply(data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case <-s.writerExit:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outbox <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-s.writerExit:
		return ErrSessionClosed
	}
}

// Deliver queues a message routed from another session. It never blocks:
// when the session is not Connected or its outbox is full the message is
// dropped and false is returned.
func (s *Session) Deliver(data []byte) bool {
	if !s.Connected() {
		return false
	}
	select {
	case s.outbox <- data:
		return true
	default:
		return false
	}
}

// WriteLoop drains the outbox until the session is released. A failed write
// closes the connection, which ends the reader and so the session. It must be
// run once per session.
func (s *Session) WriteLoop() {
	defer close(s.writerExit)
	for {
		select {
		case <-s.done:
			if s.drain.Load() {
				s.flush()
			}
			return
		case data := <-s.outbox:
			if err := s.write(data); err != nil {
				if !IsNetClosedError(err) {
					logger.WarnF("[%s] Fail to send data, details: %v", s.id, err)
				}
				_ = s.conn.Close()
				return
			}
		}
	}
}

// flush writes whatever is still queued and then closes the connection.
func (s *Session) flush() {
	defer s.closeConn()
	for {
		select {
		case data := <-s.outbox:
			if err := s.write(data); err != nil {
				logger.DebugF("[%s] Stop flushing outbox, details: %v", s.id, err)
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteFrame(data); err != nil {
		return &ConnectionError{SessionID: s.id, Op: "write", Err: err}
	}
	logger.DebugF("[%s] Send %d bytes to client", s.id, len(data))
	return nil
}

// markClosed moves the session to Closed and reports whether this call did it.
func (s *Session) markClosed() bool {
	return State(s.state.Swap(int32(StateClosed))) != StateClosed
}

// release stops the writer. When the session drains, a running writer
// closes the connection after its flush; otherwise it is closed here.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		close(s.done)
		if s.drain.Load() {
			select {
			case <-s.writerExit:
			default:
				return
			}
		}
		s.closeConn()
	})
}

func (s *Session) closeConn() {
	if err := s.conn.Close(); err != nil && !IsNetClosedError(err) {
		logger.WarnF("[%s] Error occured while closing connection, details: %v", s.id, err)
	}
}
