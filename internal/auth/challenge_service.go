// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ChallengeService issues challenges for registered keys and consumes them
// during verification.
type ChallengeService struct {
	keys     *KeyRegistry
	store    ChallengeStore
	verifier SignatureVerifier
	logger   *slog.Logger
	now      func() time.Time
	metrics  *Metrics
	ttl      time.Duration
}

// NewChallengeService creates a ChallengeService.
func NewChallengeService(keys *KeyRegistry, store ChallengeStore, verifier SignatureVerifier, opts ...Option) (*ChallengeService, error) {
	if keys == nil {
		return nil, oops.Errorf("key registry is required")
	}
	if store == nil {
		return nil, oops.Errorf("challenge store is required")
	}
	if verifier == nil {
		return nil, oops.Errorf("signature verifier is required")
	}
	o := buildOptions(opts)
	return &ChallengeService{
		keys:     keys,
		store:    store,
		verifier: verifier,
		logger:   o.logger,
		now:      o.now,
		metrics:  o.metrics,
		ttl:      o.challengeTTL,
	}, nil
}

// Create issues a challenge for the key registered under fingerprint.
func (s *ChallengeService) Create(ctx context.Context, fingerprint string) (*Challenge, error) {
	if _, err := s.keys.Lookup(ctx, fingerprint); err != nil {
		return nil, err
	}

	now := s.now()
	challenge, err := newChallenge(fingerprint, now.Add(s.ttl))
	if err != nil {
		return nil, oops.Code(string(KindStorage)).
			With("operation", "generate challenge").
			Wrap(err)
	}
	if err := s.store.Put(ctx, challenge); err != nil {
		return nil, storageError("put challenge", err)
	}

	s.Sweep(ctx)
	return challenge, nil
}

// Sweep removes challenges that expired more than ChallengeRetention ago.
// Failures are logged and otherwise ignored.
func (s *ChallengeService) Sweep(ctx context.Context) int {
	removed, err := s.store.SweepExpired(ctx, s.now().Add(-ChallengeRetention))
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort challenge sweep failed",
			"operation", "sweep_challenges",
			"error", err)
	}
	s.metrics.recordSweep("challenges", int64(removed))
	return removed
}

// Verify consumes challengeID and checks signature against its nonce.
// The challenge is removed whatever the outcome, so a second call with the same
// ID always fails with INVALID_CHALLENGE.
func (s *ChallengeService) Verify(ctx context.Context, challengeID string, signature []byte) (ulid.ULID, error) {
	playerID, err := s.verify(ctx, challengeID, signature)
	s.metrics.recordChallenge(err)
	return playerID, err
}

func (s *ChallengeService) verify(ctx context.Context, challengeID string, signature []byte) (ulid.ULID, error) {
	challenge, err := s.store.GetAndDelete(ctx, challengeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, oops.Code(string(KindInvalidChallenge)).
				With("challenge_id", challengeID).
				Errorf("challenge not found")
		}
		return ulid.ULID{}, storageError("get and delete challenge", err)
	}

	now := s.now()
	if challenge.IsExpiredAt(now) {
		return ulid.ULID{}, oops.Code(string(KindChallengeExpired)).
			With("challenge_id", challengeID).
			With("expired_at", challenge.ExpiresAt).
			Errorf("challenge expired")
	}

	key, err := s.keys.Lookup(ctx, challenge.Fingerprint)
	if err != nil {
		if IsKind(err, KindKeyNotFound) {
			// Key removed after the challenge was issued.
			return ulid.ULID{}, oops.Code(string(KindAuthenticationFailed)).
				With("challenge_id", challengeID).
				With("fingerprint", challenge.Fingerprint).
				Errorf("key no longer registered")
		}
		return ulid.ULID{}, err
	}

	ok, err := s.verifier.Verify(key.KeyType, key.KeyBytes, challenge.Nonce, signature)
	if err != nil || !ok {
		failure := oops.Code(string(KindAuthenticationFailed)).
			With("challenge_id", challengeID).
			With("fingerprint", key.Fingerprint).
			With("key_type", key.KeyType)
		if err != nil {
			failure = failure.With("verifier_error", err.Error())
		}
		return ulid.ULID{}, failure.Errorf("signature verification failed")
	}

	if err := s.keys.TouchLastUsed(ctx, key.ID, now); err != nil {
		s.logger.WarnContext(ctx, "best-effort key last-used update failed",
			"operation", "touch_last_used",
			"key_id", key.ID.String(),
			"error", err)
	}
	return key.PlayerID, nil
}
