// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/keyauth/internal/auth"
)

const keyColumns = `id, player_id, name, public_key, fingerprint, last_used, created_at`

// KeyRepository implements auth.KeyRepository using PostgreSQL.
type KeyRepository struct {
	pool poolIface
}

// NewKeyRepository creates a new KeyRepository.
func NewKeyRepository(pool poolIface) *KeyRepository {
	return &KeyRepository{pool: pool}
}

// Create stores a new key.
func (r *KeyRepository) Create(ctx context.Context, key *auth.RegisteredKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ssh_keys (id, player_id, name, public_key, fingerprint, last_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		key.ID.String(),
		key.PlayerID.String(),
		key.Name,
		key.AuthorizedKey(),
		key.Fingerprint,
		key.LastUsedAt,
		key.CreatedAt,
	)
	if isUniqueViolation(err) {
		return oops.With("operation", "insert ssh_key").
			With("fingerprint", key.Fingerprint).
			Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.With("operation", "insert ssh_key").
			With("player_id", key.PlayerID.String()).
			Wrap(err)
	}
	return nil
}

// GetByFingerprint retrieves a key by fingerprint.
func (r *KeyRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*auth.RegisteredKey, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM ssh_keys WHERE fingerprint = $1`, fingerprint)

	key, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("fingerprint", fingerprint).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get ssh_key by fingerprint").Wrap(err)
	}
	return key, nil
}

// ListByPlayer retrieves a player's keys, oldest first.
func (r *KeyRepository) ListByPlayer(ctx context.Context, playerID ulid.ULID) ([]*auth.RegisteredKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+keyColumns+` FROM ssh_keys
		WHERE player_id = $1
		ORDER BY created_at, id
	`, playerID.String())
	if err != nil {
		return nil, oops.With("operation", "list ssh_keys by player").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	defer rows.Close()

	keys := make([]*auth.RegisteredKey, 0)
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, oops.With("operation", "scan ssh_key row").Wrap(err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate ssh_key rows").Wrap(err)
	}
	return keys, nil
}

// UpdateLastUsed sets last_used on a key.
func (r *KeyRepository) UpdateLastUsed(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `UPDATE ssh_keys SET last_used = $2 WHERE id = $1`, id.String(), at)
	if err != nil {
		return oops.With("operation", "update ssh_key last_used").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteOwned removes a key if playerID owns it.
func (r *KeyRepository) DeleteOwned(ctx context.Context, playerID, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM ssh_keys WHERE id = $1 AND player_id = $2`,
		id.String(), playerID.String())
	if err != nil {
		return oops.With("operation", "delete ssh_key").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("id", id.String()).
			With("player_id", playerID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanKey scans one ssh_keys row. pgx.ErrNoRows is returned unwrapped.
func scanKey(row pgx.Row) (*auth.RegisteredKey, error) {
	var (
		idStr       string
		playerIDStr string
		name        string
		publicKey   string
		fingerprint string
		lastUsed    *time.Time
		createdAt   time.Time
	)
	if err := row.Scan(&idStr, &playerIDStr, &name, &publicKey, &fingerprint, &lastUsed, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers map to ErrNotFound
		}
		return nil, oops.With("operation", "scan ssh_key").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse ssh_key id").With("id", idStr).Wrap(err)
	}
	playerID, err := ulid.Parse(playerIDStr)
	if err != nil {
		return nil, oops.With("operation", "parse player id").With("player_id", playerIDStr).Wrap(err)
	}

	keyType, encoded, ok := strings.Cut(publicKey, " ")
	if !ok {
		return nil, oops.With("operation", "parse stored public_key").With("id", idStr).
			Errorf("public_key is not in \"type base64\" form")
	}
	keyBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, oops.With("operation", "decode stored public_key").With("id", idStr).Wrap(err)
	}

	return &auth.RegisteredKey{
		ID:          id,
		PlayerID:    playerID,
		Name:        name,
		KeyType:     keyType,
		KeyBytes:    keyBytes,
		Fingerprint: fingerprint,
		LastUsedAt:  lastUsed,
		CreatedAt:   createdAt,
	}, nil
}
