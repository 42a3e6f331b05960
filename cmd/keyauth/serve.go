// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/keyauth/internal/auth"
	"github.com/holomush/keyauth/internal/auth/events"
	"github.com/holomush/keyauth/internal/auth/redisstore"
	"github.com/holomush/keyauth/internal/config"
	"github.com/holomush/keyauth/pkg/errutil"
)

const (
	shutdownTimeout  = 5 * time.Second
	readinessTimeout = 2 * time.Second
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication service",
		Long: `Connect to storage, run the expiry sweeper and serve metrics and
health probes until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runServe(cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("redis-url", "", "Redis URL for the redis backends")
	flags.String("challenges", config.BackendMemory, "challenge store backend (memory or redis)")
	flags.Duration("challenge-ttl", auth.ChallengeTTL, "challenge lifetime")
	flags.Duration("session-ttl", auth.SessionTTL, "session lifetime")
	flags.String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("events", config.BackendNone, "session event backend (none or redis)")
	flags.String("events-topic", events.DefaultTopic, "stream receiving session events")
	flags.Bool("auto-migrate", false, "apply pending migrations before serving")

	return cmd
}

func (c *cli) runServe(cmd *cobra.Command) error {
	cfg, logger, err := c.load(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").Wrapf(err, "invalid configuration")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting keyauth",
		"challenges", cfg.Challenges.Backend,
		"events", cfg.Events.Backend,
		"metrics_addr", cfg.Metrics.Addr,
	)

	if cfg.Database.AutoMigrate {
		if err := c.applyMigrations(cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	storage, err := c.deps.StorageOpener(ctx, cfg.Database.URL, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer storage.Close()
	logger.Info("connected to database")

	var redisClient redis.UniversalClient
	if cfg.RequiresRedis() {
		redisClient, err = c.deps.RedisConnector(ctx, cfg.Redis.URL, logger)
		if err != nil {
			return err //nolint:wrapcheck // already coded by the connector
		}
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				logger.Warn("error closing redis client", "error", closeErr)
			}
		}()
		logger.Info("connected to redis")
	}

	challengeStore, err := newChallengeStore(cfg, redisClient)
	if err != nil {
		return err
	}

	var ready atomic.Bool
	var obsServer ObservabilityServer
	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithChallengeTTL(cfg.Challenges.TTL),
		auth.WithSessionTTL(cfg.Sessions.TTL),
	}
	if cfg.Metrics.Addr != "" {
		obsServer = c.deps.ObservabilityServerFactory(cfg.Metrics.Addr, readiness(&ready, storage), logger)
		opts = append(opts, auth.WithMetrics(auth.NewMetrics(obsServer.Registry())))
	}

	publisher, closePublisher, err := newEventPublisher(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer closePublisher()
	if publisher != nil {
		opts = append(opts, auth.WithEventPublisher(publisher))
	}

	stack, err := newAuthStack(storage, challengeStore, opts...)
	if err != nil {
		return err
	}

	sweeper, err := auth.NewSweeper(stack.challenges, stack.sessions,
		auth.WithChallengeSweepInterval(cfg.Challenges.SweepInterval),
		auth.WithSessionCleanupInterval(cfg.Sessions.CleanupInterval),
		auth.WithSweeperLogger(logger.With("component", "sweeper")),
	)
	if err != nil {
		return oops.With("component", "sweeper").Wrap(err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return oops.With("component", "sweeper").Wrap(err)
	}
	defer sweeper.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	ready.Store(true)
	cmd.Println("keyauth started")
	logger.Info("keyauth ready")

	<-ctx.Done()
	ready.Store(false)
	logger.Info("shutting down")
	return nil
}

func (c *cli) applyMigrations(databaseURL string, logger *slog.Logger) error {
	migrator, err := c.deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()
	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").Wrap(err)
	}
	version, _, err := migrator.Version()
	if err != nil {
		logger.Warn("migrations applied but version unknown", "error", err)
		return nil
	}
	logger.Info("database schema up to date", "version", version)
	return nil
}

func newChallengeStore(cfg *config.Config, client redis.UniversalClient) (auth.ChallengeStore, error) {
	if cfg.Challenges.Backend != config.BackendRedis {
		return auth.NewMemoryChallengeStore(), nil
	}
	s, err := redisstore.NewChallengeStore(client)
	if err != nil {
		return nil, oops.With("component", "redis challenge store").Wrap(err)
	}
	return s, nil
}

// newEventPublisher returns a nil publisher and a no-op close when events are
// disabled.
func newEventPublisher(cfg *config.Config, client redis.UniversalClient, logger *slog.Logger) (*events.Publisher, func(), error) {
	if cfg.Events.Backend != config.BackendRedis {
		return nil, func() {}, nil
	}
	stream, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		watermill.NewSlogLogger(logger.With("component", "events")),
	)
	if err != nil {
		return nil, nil, oops.Code("EVENTS_INIT_FAILED").Wrap(err)
	}
	closeStream := func() {
		if err := stream.Close(); err != nil {
			logger.Warn("error closing event publisher", "error", err)
		}
	}
	publisher, err := events.NewPublisher(stream, cfg.Events.Topic)
	if err != nil {
		closeStream()
		return nil, nil, oops.Code("EVENTS_INIT_FAILED").Wrap(err)
	}
	return publisher, closeStream, nil
}

// readiness is true once serve finished starting and the database answers.
func readiness(ready *atomic.Bool, storage *Storage) func() bool {
	return func() bool {
		if !ready.Load() {
			return false
		}
		if storage.Ping == nil {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		return storage.Ping(ctx) == nil
	}
}

// monitorServerErrors cancels ctx if a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			errutil.LogError(logger.With("server", name), "server failed", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
