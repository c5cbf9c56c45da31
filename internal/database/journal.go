package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

const DefaultJournalQueueSize = 1024

// Journal records session starts and ends through a SessionWriter. Records
// are written by one background goroutine so session teardown never waits on
// the database; when the queue is full the record is dropped.
type Journal struct {
	writer  SessionWriter
	queue   chan *SessionRecord
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var _ connection.Observer = (*Journal)(nil)

func NewJournal(writer SessionWriter, queueSize int) *Journal {
	if queueSize <= 0 {
		queueSize = DefaultJournalQueueSize
	}
	j := &Journal{
		writer: writer,
		queue:  make(chan *SessionRecord, queueSize),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Journal) run() {
	defer close(j.done)
	for record := range j.queue {
		if err := j.writer.SaveSession(context.Background(), record); err != nil {
			logger.WarnF("[%s] Fail to record session, details: %v", record.SessionID, err)
		}
	}
}

func (j *Journal) SessionOpened(s *connection.Session) {
	j.enqueue(newRecord(s))
}

func (j *Journal) SessionClosed(s *connection.Session, reason error) {
	record := newRecord(s)
	closedAt := time.Now().UTC()
	record.ClosedAt = &closedAt
	if reason != nil {
		record.CloseReason = reason.Error()
	}
	j.enqueue(record)
}

func newRecord(s *connection.Session) *SessionRecord {
	return &SessionRecord{
		SessionID:   s.ID(),
		ClientID:    s.ClientID(),
		RemoteAddr:  s.RemoteAddr(),
		ConnectedAt: s.CreatedAt().UTC(),
	}
}

func (j *Journal) enqueue(record *SessionRecord) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- record:
	default:
		j.dropped.Add(1)
		logger.WarnF("[%s] Session journal queue full, record dropped", record.SessionID)
	}
}

// Dropped returns how many records were lost to a full queue.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Invoke stops accepting records and waits for queued ones to be written or
// for ctx to end.
func (j *Journal) Invoke(ctx context.Context) error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
