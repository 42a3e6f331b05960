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

// KeyRegistry parses, fingerprints, and stores public keys bound to players.
type KeyRegistry struct {
	keys    KeyRepository
	logger  *slog.Logger
	now     func() time.Time
	metrics *Metrics
}

// NewKeyRegistry creates a KeyRegistry backed by keys.
func NewKeyRegistry(keys KeyRepository, opts ...Option) (*KeyRegistry, error) {
	if keys == nil {
		return nil, oops.Errorf("key repository is required")
	}
	o := buildOptions(opts)
	return &KeyRegistry{
		keys:    keys,
		logger:  o.logger,
		now:     o.now,
		metrics: o.metrics,
	}, nil
}

// Register parses rawKey and stores it for playerID under label. An empty label
// falls back to the key's comment.
//
// Uniqueness of the fingerprint is enforced by the repository, so two racing
// registrations of the same key cannot both succeed.
func (r *KeyRegistry) Register(ctx context.Context, playerID ulid.ULID, rawKey, label string) (*RegisteredKey, error) {
	key, err := r.register(ctx, playerID, rawKey, label)
	r.metrics.recordKeyRegistration(err)
	return key, err
}

func (r *KeyRegistry) register(ctx context.Context, playerID ulid.ULID, rawKey, label string) (*RegisteredKey, error) {
	parsed, err := ParsePublicKey(rawKey)
	if err != nil {
		return nil, err
	}

	key, err := NewRegisteredKey(playerID, label, parsed, r.now())
	if err != nil {
		return nil, err
	}

	if err := r.keys.Create(ctx, key); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, oops.Code(string(KindDuplicateKey)).
				With("fingerprint", key.Fingerprint).
				Wrap(err)
		}
		return nil, storageError("create key", err)
	}

	r.logger.Info("public key registered",
		"player_id", playerID.String(),
		"key_id", key.ID.String(),
		"key_type", key.KeyType,
		"fingerprint", key.Fingerprint)
	return key, nil
}

// List returns the keys owned by playerID.
func (r *KeyRegistry) List(ctx context.Context, playerID ulid.ULID) ([]*RegisteredKey, error) {
	keys, err := r.keys.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, storageError("list keys", err)
	}
	return keys, nil
}

// Remove deletes keyID if and only if it is owned by playerID. A key owned by
// another player is reported exactly like a key that does not exist.
func (r *KeyRegistry) Remove(ctx context.Context, playerID, keyID ulid.ULID) error {
	if err := r.keys.DeleteOwned(ctx, playerID, keyID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(string(KindKeyNotFound)).
				With("key_id", keyID.String()).
				Wrap(err)
		}
		return storageError("delete key", err)
	}
	return nil
}

// Lookup resolves a fingerprint to its registered key.
func (r *KeyRegistry) Lookup(ctx context.Context, fingerprint string) (*RegisteredKey, error) {
	key, err := r.keys.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(string(KindKeyNotFound)).
				With("fingerprint", fingerprint).
				Wrap(err)
		}
		return nil, storageError("get key by fingerprint", err)
	}
	return key, nil
}

// TouchLastUsed records a successful authentication with keyID at the given time.
func (r *KeyRegistry) TouchLastUsed(ctx context.Context, keyID ulid.ULID, at time.Time) error {
	if err := r.keys.UpdateLastUsed(ctx, keyID, at); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(string(KindKeyNotFound)).
				With("key_id", keyID.String()).
				Wrap(err)
		}
		return storageError("update key last used", err)
	}
	return nil
}
