package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// connectTimeout bounds how long NewPool waits for the first successful ping.
const connectTimeout = 30 * time.Second

// NewPool opens a pgx pool and pings it, retrying with exponential backoff
// while the database comes up.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32, logger zerolog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = connectTimeout
	ping := func() error { return pool.Ping(ctx) }
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("database ping failed")
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(eb, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
