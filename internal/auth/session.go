// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenBytes = 32 // 256 bits
	SessionTTL        = 24 * time.Hour
)

// BoundCharacter identifies the character a session is playing.
type BoundCharacter struct {
	CharacterID   ulid.ULID
	CharacterName string
	RealmID       ulid.ULID
}

// CharacterBinding is either Unbound (the zero value) or bound to exactly one
// character. The persisted form is three nullable columns written together.
type CharacterBinding struct {
	bound *BoundCharacter
}

// Unbound returns a binding with no character.
func Unbound() CharacterBinding {
	return CharacterBinding{}
}

// BindCharacter returns a binding to c.
func BindCharacter(c BoundCharacter) CharacterBinding {
	return CharacterBinding{bound: &c}
}

// Bound returns the bound character, if any.
func (b CharacterBinding) Bound() (BoundCharacter, bool) {
	if b.bound == nil {
		return BoundCharacter{}, false
	}
	return *b.bound, true
}

// IsBound reports whether a character is bound.
func (b CharacterBinding) IsBound() bool {
	return b.bound != nil
}

// Session is an authenticated player session. The plaintext token is never
// stored; only TokenHash is.
type Session struct {
	ID             ulid.ULID
	PlayerID       ulid.ULID
	TokenHash      string
	PlayerUsername string
	Character      CharacterBinding
	DeviceInfo     string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// IsExpiredAt reports whether the session is expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Info returns the caller-facing view of the session.
func (s *Session) Info() *SessionInfo {
	return &SessionInfo{
		SessionID:      s.ID,
		PlayerID:       s.PlayerID,
		PlayerUsername: s.PlayerUsername,
		Character:      s.Character,
		DeviceInfo:     s.DeviceInfo,
		ExpiresAt:      s.ExpiresAt,
		LastActivityAt: s.LastActivityAt,
	}
}

// SessionInfo is what a successful validation yields.
type SessionInfo struct {
	SessionID      ulid.ULID
	PlayerID       ulid.ULID
	PlayerUsername string
	Character      CharacterBinding
	DeviceInfo     string
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the client; the hash is stored in the database.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = base64.RawURLEncoding.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the hex SHA256 hash under which a token is stored.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionRepository manages session persistence.
//
// Methods taking now only match sessions that are still live at now
// (expires_at > now) and return an error wrapping ErrNotFound otherwise.
type SessionRepository interface {
	// Create stores a new session. Returns an error wrapping ErrDuplicate on a
	// token hash collision.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by token hash, expired or not.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// ListActiveByPlayer retrieves the player's sessions live at now.
	ListActiveByPlayer(ctx context.Context, playerID ulid.ULID, now time.Time) ([]*Session, error)

	// UpdateLastActivity sets the last-activity timestamp.
	UpdateLastActivity(ctx context.Context, id ulid.ULID, at time.Time) error

	// UpdateExpiry sets expires_at on a session live at now.
	UpdateExpiry(ctx context.Context, id ulid.ULID, expiresAt, now time.Time) error

	// UpdateCharacter writes all binding columns of a session live at now in a
	// single statement and returns the updated session.
	UpdateCharacter(ctx context.Context, id ulid.ULID, binding CharacterBinding, now time.Time) (*Session, error)

	// Delete removes a session by ID.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByTokenHash removes a session by token hash and returns it.
	DeleteByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// DeleteByPlayer removes all of a player's sessions and returns the count.
	DeleteByPlayer(ctx context.Context, playerID ulid.ULID) (int64, error)

	// DeleteExpired removes sessions with expires_at <= now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
