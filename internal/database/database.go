// Package database keeps a journal of broker sessions in MongoDB.
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	c "github.com/life-stream-dev/life-stream-go-ws-broker/internal/config"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/utils"
)

const defaultOperationTimeout = 5 * time.Second

// Database is a connected MongoDB client bound to the journal database.
type Database struct {
	client           *mongo.Client
	db               *mongo.Database
	operationTimeout time.Duration
}

// BuildURI returns the connection string for config. Credentials are
// escaped and omitted entirely when no username is set.
func BuildURI(config c.DatabaseConfig) string {
	host := fmt.Sprintf("%s:%d", config.Host, config.Port)
	if config.Username == "" {
		return fmt.Sprintf("mongodb://%s/", host)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s/?authSource=admin",
		url.QueryEscape(config.Username),
		url.QueryEscape(config.Password),
		host,
	)
}

func clientOptions(config c.DatabaseConfig, appName string) (*options.ClientOptions, error) {
	durations := map[string]string{
		"connect_timeout":      config.ConnectTimeout,
		"socket_timeout":       config.SocketTimeout,
		"connect_idle_timeout": config.ConnectIdleTimeout,
		"heartbeat":            config.Heartbeat,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for name, value := range durations {
		d, err := utils.ParseStringTime(value)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", name, err)
		}
		parsed[name] = d
	}

	opts := options.Client().ApplyURI(BuildURI(config)).SetAppName(appName)
	opts.SetMinPoolSize(config.MinPoolSize)
	if config.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(config.MaxPoolSize)
	}
	if d := parsed["connect_idle_timeout"]; d > 0 {
		opts.SetMaxConnIdleTime(d)
	}
	if d := parsed["connect_timeout"]; d > 0 {
		opts.SetConnectTimeout(d)
	}
	if d := parsed["socket_timeout"]; d > 0 {
		opts.SetSocketTimeout(d)
	}
	if d := parsed["heartbeat"]; d > 0 {
		opts.SetHeartbeatInterval(d)
	}
	if config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s", evt.Address)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s (%s)", evt.Address, evt.Reason)
			}
		},
	})
	return opts, nil
}

// Connect dials MongoDB, verifies the connection and prepares the session
// collection indexes.
func Connect(ctx context.Context, config c.DatabaseConfig, appName string) (*Database, error) {
	logger.DebugF("Connecting to database...")

	operationTimeout, err := utils.ParseStringTime(config.OperationTimeout)
	if err != nil {
		return nil, fmt.Errorf("database operation_timeout: %w", err)
	}
	if operationTimeout <= 0 {
		operationTimeout = defaultOperationTimeout
	}

	opts, err := clientOptions(config, appName)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	d := &Database{
		client:           client,
		db:               client.Database(config.Database),
		operationTimeout: operationTimeout,
	}
	if err := d.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	logger.InfoF("Database %s connected", config.Database)
	return d, nil
}

func (d *Database) ensureIndexes(ctx context.Context) error {
	_, err := d.db.Collection(SessionCollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("sessions_session_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "connected_at", Value: -1}},
			Options: options.Index().SetName("sessions_connected_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("error occured while creating database indexes: %w", err)
	}
	return nil
}

// Sessions returns the session journal store.
func (d *Database) Sessions() *DBStore {
	return NewDatabaseStore(d.db.Collection(SessionCollectionName), d.operationTimeout)
}

// Invoke disconnects the client; it lets the database take part in the
// shutdown sequence.
func (d *Database) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	return d.client.Disconnect(ctx)
}
