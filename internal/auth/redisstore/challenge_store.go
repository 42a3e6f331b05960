// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore provides a Redis-backed auth.ChallengeStore shared by
// every keyauth instance in a deployment.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/keyauth/internal/auth"
)

const (
	// DefaultKeyPrefix namespaces challenge keys.
	DefaultKeyPrefix = "keyauth:challenge:"

	// DefaultGrace keeps a challenge past its expiry for as long as the
	// in-memory store would.
	DefaultGrace = auth.ChallengeRetention
)

// client is the subset of redis.Cmdable the store uses.
type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// Option configures a ChallengeStore.
type Option func(*ChallengeStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *ChallengeStore) { s.prefix = prefix }
}

// WithGrace overrides DefaultGrace. Negative values are ignored.
func WithGrace(d time.Duration) Option {
	return func(s *ChallengeStore) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithClock sets the time source used to compute key TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *ChallengeStore) {
		if now != nil {
			s.now = now
		}
	}
}

// ChallengeStore implements auth.ChallengeStore on Redis. Keys carry a TTL,
// so SweepExpired has nothing to do.
type ChallengeStore struct {
	client client
	prefix string
	grace  time.Duration
	now    func() time.Time
}

// NewChallengeStore creates a store over a go-redis client.
func NewChallengeStore(c client, opts ...Option) (*ChallengeStore, error) {
	if c == nil {
		return nil, oops.Errorf("redis client is required")
	}
	s := &ChallengeStore{
		client: c,
		prefix: DefaultKeyPrefix,
		grace:  DefaultGrace,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put stores a challenge until its expiry plus the grace period. Fails with
// ErrDuplicate if the ID is already present.
func (s *ChallengeStore) Put(ctx context.Context, challenge *auth.Challenge) error {
	if challenge == nil || challenge.ID == "" {
		return oops.Errorf("challenge with an ID is required")
	}
	payload, err := json.Marshal(challenge)
	if err != nil {
		return oops.With("operation", "encode challenge").Wrap(err)
	}

	ttl := challenge.ExpiresAt.Sub(s.now())
	if ttl < 0 {
		ttl = 0
	}
	ttl += s.grace
	if ttl <= 0 {
		// A zero expiration means "persist" to Redis.
		ttl = time.Millisecond
	}

	ok, err := s.client.SetNX(ctx, s.prefix+challenge.ID, payload, ttl).Result()
	if err != nil {
		return oops.With("operation", "redis setnx").With("challenge_id", challenge.ID).Wrap(err)
	}
	if !ok {
		return oops.With("challenge_id", challenge.ID).Wrap(auth.ErrDuplicate)
	}
	return nil
}

// GetAndDelete atomically consumes a challenge with GETDEL.
func (s *ChallengeStore) GetAndDelete(ctx context.Context, id string) (*auth.Challenge, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "redis getdel").With("challenge_id", id).Wrap(err)
	}

	var challenge auth.Challenge
	if err := json.Unmarshal(payload, &challenge); err != nil {
		return nil, oops.With("operation", "decode challenge").With("challenge_id", id).Wrap(err)
	}
	return &challenge, nil
}

// SweepExpired is a no-op; Redis evicts keys on TTL.
func (s *ChallengeStore) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
