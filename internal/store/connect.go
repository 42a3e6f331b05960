// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store connects to and migrates the keyauth PostgreSQL database.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// RetryConfig bounds startup retries against a backing service.
type RetryConfig struct {
	Attempts uint64
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryConfig retries for roughly half a minute.
var DefaultRetryConfig = RetryConfig{
	Attempts: 8,
	Base:     250 * time.Millisecond,
	Max:      5 * time.Second,
}

func (c RetryConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.Base)
	if c.Max > 0 {
		b = retry.WithCappedDuration(c.Max, b)
	}
	return retry.WithMaxRetries(c.Attempts, b)
}

// Retry runs fn with exponential backoff until it succeeds, the attempts are
// exhausted, or ctx is done. Every failed attempt is logged at WARN.
func Retry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, operation string, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempt := 0
	err := retry.Do(ctx, cfg.backoff(), func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			logger.WarnContext(ctx, "startup dependency not ready",
				"operation", operation,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.With("operation", operation).With("attempts", attempt).Wrap(err)
	}
	return nil
}

// Connect opens a pgx pool and waits for the database to answer a ping.
func Connect(ctx context.Context, databaseURL string, cfg RetryConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DATABASE_URL_INVALID").With("operation", "parse database url").Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DATABASE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := Retry(ctx, cfg, logger, "ping database", pool.Ping); err != nil {
		pool.Close()
		return nil, oops.Code("DATABASE_CONNECT_FAILED").Wrap(err)
	}
	return pool, nil
}
