// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/samber/oops"
)

// Challenge configuration.
const (
	ChallengeIDBytes    = 16 // 128-bit handle
	ChallengeNonceBytes = 32 // 256-bit nonce
	ChallengeTTL        = 5 * time.Minute

	// ChallengeRetention is how long an expired challenge stays in its store.
	// Within it a late verification reports CHALLENGE_EXPIRED; after it the
	// challenge is gone and the attempt reports INVALID_CHALLENGE.
	ChallengeRetention = 15 * time.Minute
)

// Challenge is a single-use request to sign Nonce with the key identified by
// Fingerprint. Challenges are never written to SQL storage.
type Challenge struct {
	ID          string    `json:"id"`
	Nonce       []byte    `json:"nonce"`
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpiredAt reports whether the challenge is no longer usable at t.
func (c *Challenge) IsExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// newChallenge generates a challenge with fresh random ID and nonce.
func newChallenge(fingerprint string, expiresAt time.Time) (*Challenge, error) {
	id := make([]byte, ChallengeIDBytes)
	if _, err := rand.Read(id); err != nil {
		return nil, oops.With("operation", "crypto/rand.Read").
			With("requested_bytes", ChallengeIDBytes).
			Wrap(err)
	}
	nonce := make([]byte, ChallengeNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, oops.With("operation", "crypto/rand.Read").
			With("requested_bytes", ChallengeNonceBytes).
			Wrap(err)
	}
	return &Challenge{
		ID:          base64.RawURLEncoding.EncodeToString(id),
		Nonce:       nonce,
		Fingerprint: fingerprint,
		ExpiresAt:   expiresAt,
	}, nil
}

// ChallengeStore holds outstanding challenges.
//
// Implementations must make GetAndDelete atomic: of any number of concurrent
// callers with the same ID, at most one receives the challenge.
type ChallengeStore interface {
	// Put stores a new challenge.
	Put(ctx context.Context, challenge *Challenge) error

	// GetAndDelete removes and returns the challenge with the given ID, expired
	// or not. Returns an error wrapping ErrNotFound if there is none.
	GetAndDelete(ctx context.Context, id string) (*Challenge, error)

	// SweepExpired removes challenges expired at or before cutoff and returns
	// how many were removed. Stores with native expiry may return 0.
	SweepExpired(ctx context.Context, cutoff time.Time) (int, error)
}
