package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultDatabase = "userdb"
)

// Config captures the settings required to establish a MongoDB connection.
// Pool and timeout settings apply to every operation on the shared client.
type Config struct {
	URI                    string
	Database               string // used when URI carries no database path
	MaxPoolSize            uint64
	SocketTimeout          time.Duration
	ServerSelectionTimeout time.Duration
	Timeout                time.Duration
}

// Connect establishes a MongoDB client, verifies connectivity with a ping, and
// returns both the client and the selected database. A default timeout is
// applied when none is provided.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.SocketTimeout > 0 {
		opts.SetSocketTimeout(cfg.SocketTimeout)
	}
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(databaseName(cfg))
	return client, db, nil
}

// databaseName prefers the database named in the URI path over cfg.Database.
func databaseName(cfg Config) string {
	if cs, err := connstring.ParseAndValidate(cfg.URI); err == nil && cs.Database != "" {
		return cs.Database
	}
	if cfg.Database != "" {
		return cfg.Database
	}
	return defaultDatabase
}
