package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

var (
	ErrSessionIDEmpty  = errors.New("session_id is empty")
	ErrSessionNotFound = errors.New("session record does not exist")
)

const (
	cacheSize = 256
	cacheTTL  = time.Hour
)

// DBStore reads and writes session records. Lookups by session id are
// served from a small expiring cache; only closed records are cached since
// they no longer change.
type DBStore struct {
	collection       *mongo.Collection
	operationTimeout time.Duration
	cache            *expirable.LRU[string, *SessionRecord]
}

var (
	_ SessionWriter = (*DBStore)(nil)
	_ SessionReader = (*DBStore)(nil)
)

func NewDatabaseStore(collection *mongo.Collection, operationTimeout time.Duration) *DBStore {
	if operationTimeout <= 0 {
		operationTimeout = defaultOperationTimeout
	}
	return &DBStore{
		collection:       collection,
		operationTimeout: operationTimeout,
		cache:            expirable.NewLRU[string, *SessionRecord](cacheSize, nil, cacheTTL),
	}
}

func wrapErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("database operation failed: %w", err)
}

// SaveSession upserts record by its session id.
func (ds *DBStore) SaveSession(ctx context.Context, record *SessionRecord) error {
	if record.SessionID == "" {
		return ErrSessionIDEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "session_id", Value: record.SessionID}}
	opts := options.Replace().SetUpsert(true)

	result, err := ds.collection.ReplaceOne(ctx, filter, record, opts)
	if err != nil {
		return wrapErr(err)
	}

	ds.cache.Remove(record.SessionID)
	logger.DebugF("Session saved: session_id=%s, matched=%d, modified=%d, upserted=%v",
		record.SessionID,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

func (ds *DBStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	if sessionID == "" {
		return nil, ErrSessionIDEmpty
	}
	if record, ok := ds.cache.Get(sessionID); ok {
		return record, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "session_id", Value: sessionID}}
	var record SessionRecord

	startTime := time.Now()
	err := ds.collection.FindOne(ctx, filter).Decode(&record)
	logger.DebugF("session query cost: %v", time.Since(startTime))
	if err != nil {
		return nil, wrapErr(err)
	}

	if record.ClosedAt != nil {
		ds.cache.Add(sessionID, &record)
	}
	return &record, nil
}

// ListRecent returns up to limit records, newest connection first. Closed
// records are kept in the cache for later GetSession calls.
func (ds *DBStore) ListRecent(ctx context.Context, limit int64) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "connected_at", Value: -1}}).SetLimit(limit)
	cursor, err := ds.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	records := make([]*SessionRecord, 0, limit)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, wrapErr(err)
	}
	for _, record := range records {
		if record.ClosedAt != nil {
			ds.cache.Add(record.SessionID, record)
		}
	}
	return records, nil
}
