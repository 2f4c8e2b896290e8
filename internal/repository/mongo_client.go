package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// NewMongoClient connects and pings, retrying with exponential backoff until ctx expires.
func NewMongoClient(ctx context.Context, uri string, logger *zap.SugaredLogger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pctx, nil)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warnw("mongo not ready, retrying", "error", err, "in", wait)
	}
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.RetryNotify(ping, b, notify); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
