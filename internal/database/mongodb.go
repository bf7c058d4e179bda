package database

import (
	"context"
	"fmt"
	"time"

	"github.com/impala/hetero/backend/go-services/internal/config"
	"github.com/impala/hetero/backend/go-services/pkg/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// ConnectMongo opens a connection and returns the client. Caller should call client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// Dial connects with exponential backoff to tolerate startup races with the
// database container.
func Dial(ctx context.Context, cfg config.MongoDBConfig) (*mongo.Client, error) {
	log := logger.With("database")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backoff := connectBackoff
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client, err := ConnectMongo(ctx, cfg.URI, timeout)
		if err == nil {
			log.Info().Str("database", cfg.Database).Msg("connected to MongoDB")
			return client, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Int("max", connectAttempts).Msg("failed to connect to MongoDB")
		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("mongo: giving up after %d attempts: %w", connectAttempts, lastErr)
}
