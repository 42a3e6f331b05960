// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/keyauth/internal/auth"
	"github.com/holomush/keyauth/internal/auth/postgres"
	"github.com/holomush/keyauth/internal/observability"
	"github.com/holomush/keyauth/internal/store"
)

// Storage holds the PostgreSQL-backed collaborators of the auth services.
type Storage struct {
	Keys     auth.KeyRepository
	Sessions auth.SessionRepository
	Players  auth.PlayerDirectory

	// Ping reports whether the database is reachable. Used for readiness.
	Ping  func(ctx context.Context) error
	Close func()
}

// Migrator is the subset of store.Migrator used by the CLI.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// ObservabilityServer is the subset of observability.Server used by serve.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() prometheus.Registerer
}

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// StorageOpener connects to PostgreSQL.
	// Default: openPostgresStorage
	StorageOpener func(ctx context.Context, databaseURL string, logger *slog.Logger) (*Storage, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// RedisConnector returns a client once Redis answers a ping.
	// Default: connectRedis
	RedisConnector func(ctx context.Context, url string, logger *slog.Logger) (redis.UniversalClient, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer
}

// withDefaults returns a copy of d with every nil field filled in.
func (d *Deps) withDefaults() *Deps {
	out := &Deps{}
	if d != nil {
		*out = *d
	}
	if out.StorageOpener == nil {
		out.StorageOpener = openPostgresStorage
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.RedisConnector == nil {
		out.RedisConnector = connectRedis
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	return out
}

func openPostgresStorage(ctx context.Context, databaseURL string, logger *slog.Logger) (*Storage, error) {
	pool, err := store.Connect(ctx, databaseURL, store.DefaultRetryConfig, logger)
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded by store.Connect
	}
	return &Storage{
		Keys:     postgres.NewKeyRepository(pool),
		Sessions: postgres.NewSessionRepository(pool),
		Players:  postgres.NewPlayerDirectory(pool),
		Ping:     pool.Ping,
		Close:    pool.Close,
	}, nil
}

func connectRedis(ctx context.Context, url string, logger *slog.Logger) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_URL_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := redis.NewClient(opts)

	err = store.Retry(ctx, store.DefaultRetryConfig, logger, "ping redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
	}
	return client, nil
}
