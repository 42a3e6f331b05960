// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"io"
	"log/slog"
	"time"
)

// Option configures the services in this package during construction.
// Each service reads only the settings it uses.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	metrics *Metrics
	events  EventPublisher

	challengeTTL time.Duration
	sessionTTL   time.Duration
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		events: nopPublisher{},

		challengeTTL: ChallengeTTL,
		sessionTTL:   SessionTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for best-effort failures and audit lines.
// A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now. Tests use it to move through TTLs without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics records operation outcomes on m. Metrics are disabled if not set.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithEventPublisher publishes session lifecycle events to p.
// If not provided, events are dropped.
func WithEventPublisher(p EventPublisher) Option {
	return func(o *options) {
		if p != nil {
			o.events = p
		}
	}
}

// WithChallengeTTL overrides the challenge lifetime. Non-positive values are ignored.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.challengeTTL = ttl
		}
	}
}

// WithSessionTTL overrides the session lifetime used by create and extend.
// Non-positive values are ignored.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.sessionTTL = ttl
		}
	}
}
