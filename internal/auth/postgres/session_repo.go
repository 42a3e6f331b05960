// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/keyauth/internal/auth"
)

const sessionColumns = `id, player_id, token_hash, player_username, realm_id, character_id, character_name,
	device_info, expires_at, created_at, last_activity`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool poolIface
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool poolIface) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	realmID, charID, charName := bindingColumns(session.Character)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, player_id, token_hash, player_username, realm_id, character_id,
			character_name, device_info, expires_at, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		session.ID.String(),
		session.PlayerID.String(),
		session.TokenHash,
		session.PlayerUsername,
		realmID,
		charID,
		charName,
		nullableString(session.DeviceInfo),
		session.ExpiresAt,
		session.CreatedAt,
		session.LastActivityAt,
	)
	if isUniqueViolation(err) {
		return oops.With("operation", "insert session").Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.With("operation", "insert session").
			With("player_id", session.PlayerID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("operation", "get session by token hash").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "get session by token hash").Wrap(err)
	}
	return session, nil
}

// ListActiveByPlayer retrieves a player's live sessions, newest first.
func (r *SessionRepository) ListActiveByPlayer(ctx context.Context, playerID ulid.ULID, now time.Time) ([]*auth.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE player_id = $1 AND expires_at > $2
		ORDER BY created_at DESC
	`, playerID.String(), now)
	if err != nil {
		return nil, oops.With("operation", "list sessions by player").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	defer rows.Close()

	sessions := make([]*auth.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.With("operation", "scan session row").Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate session rows").Wrap(err)
	}
	return sessions, nil
}

// UpdateLastActivity sets last_activity on a session.
func (r *SessionRepository) UpdateLastActivity(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.pool.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1`, id.String(), at)
	if err != nil {
		return oops.With("operation", "update session last_activity").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateExpiry sets expires_at on a session live at now.
func (r *SessionRepository) UpdateExpiry(ctx context.Context, id ulid.ULID, expiresAt, now time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE sessions SET expires_at = $2, last_activity = $3
		WHERE id = $1 AND expires_at > $3
	`, id.String(), expiresAt, now)
	if err != nil {
		return oops.With("operation", "update session expires_at").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateCharacter writes the three binding columns together and returns the
// updated row.
func (r *SessionRepository) UpdateCharacter(ctx context.Context, id ulid.ULID, binding auth.CharacterBinding, now time.Time) (*auth.Session, error) {
	realmID, charID, charName := bindingColumns(binding)

	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET realm_id = $2, character_id = $3, character_name = $4, last_activity = $5
		WHERE id = $1 AND expires_at > $5
		RETURNING `+sessionColumns,
		id.String(), realmID, charID, charName, now)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "update session character").
			With("id", id.String()).
			Wrap(err)
	}
	return session, nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id.String())
	if err != nil {
		return oops.With("operation", "delete session").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByTokenHash removes a session by token hash and returns it.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM sessions WHERE token_hash = $1 RETURNING `+sessionColumns, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("operation", "delete session by token hash").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "delete session by token hash").Wrap(err)
	}
	return session, nil
}

// DeleteByPlayer removes all of a player's sessions.
func (r *SessionRepository) DeleteByPlayer(ctx context.Context, playerID ulid.ULID) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE player_id = $1`, playerID.String())
	if err != nil {
		return 0, oops.With("operation", "delete sessions by player").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions expired at now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.With("operation", "delete expired sessions").Wrap(err)
	}
	return result.RowsAffected(), nil
}

// bindingColumns flattens a binding into (realm_id, character_id, character_name),
// all nil when unbound.
func bindingColumns(b auth.CharacterBinding) (realmID, charID, charName *string) {
	c, ok := b.Bound()
	if !ok {
		return nil, nil, nil
	}
	r, id, name := c.RealmID.String(), c.CharacterID.String(), c.CharacterName
	return &r, &id, &name
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanSession scans one sessions row. pgx.ErrNoRows is returned unwrapped.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr          string
		playerIDStr    string
		tokenHash      string
		playerUsername string
		realmIDStr     *string
		charIDStr      *string
		charName       *string
		deviceInfo     *string
		expiresAt      time.Time
		createdAt      time.Time
		lastActivity   time.Time
	)
	err := row.Scan(&idStr, &playerIDStr, &tokenHash, &playerUsername, &realmIDStr, &charIDStr, &charName,
		&deviceInfo, &expiresAt, &createdAt, &lastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers map to ErrNotFound
		}
		return nil, oops.With("operation", "scan session").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse session id").With("id", idStr).Wrap(err)
	}
	playerID, err := ulid.Parse(playerIDStr)
	if err != nil {
		return nil, oops.With("operation", "parse player id").With("player_id", playerIDStr).Wrap(err)
	}
	binding, err := buildBinding(realmIDStr, charIDStr, charName)
	if err != nil {
		return nil, oops.With("id", idStr).Wrap(err)
	}

	session := &auth.Session{
		ID:             id,
		PlayerID:       playerID,
		TokenHash:      tokenHash,
		PlayerUsername: playerUsername,
		Character:      binding,
		ExpiresAt:      expiresAt,
		CreatedAt:      createdAt,
		LastActivityAt: lastActivity,
	}
	if deviceInfo != nil {
		session.DeviceInfo = *deviceInfo
	}
	return session, nil
}

func buildBinding(realmIDStr, charIDStr, charName *string) (auth.CharacterBinding, error) {
	if realmIDStr == nil && charIDStr == nil && charName == nil {
		return auth.Unbound(), nil
	}
	if realmIDStr == nil || charIDStr == nil || charName == nil {
		return auth.CharacterBinding{}, oops.With("operation", "build character binding").
			Errorf("character columns partially set")
	}
	realmID, err := ulid.Parse(*realmIDStr)
	if err != nil {
		return auth.CharacterBinding{}, oops.With("operation", "parse realm id").Wrap(err)
	}
	charID, err := ulid.Parse(*charIDStr)
	if err != nil {
		return auth.CharacterBinding{}, oops.With("operation", "parse character id").Wrap(err)
	}
	return auth.BindCharacter(auth.BoundCharacter{
		CharacterID:   charID,
		CharacterName: *charName,
		RealmID:       realmID,
	}), nil
}
