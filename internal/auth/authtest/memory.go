// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/keyauth/internal/auth"
)

// KeyRepository is an in-memory auth.KeyRepository.
type KeyRepository struct {
	mu   sync.Mutex
	keys map[ulid.ULID]*auth.RegisteredKey
}

// NewKeyRepository creates an empty KeyRepository.
func NewKeyRepository() *KeyRepository {
	return &KeyRepository{keys: make(map[ulid.ULID]*auth.RegisteredKey)}
}

// Create implements auth.KeyRepository.
func (r *KeyRepository) Create(_ context.Context, key *auth.RegisteredKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.keys {
		if existing.Fingerprint == key.Fingerprint || existing.ID == key.ID {
			return auth.ErrDuplicate
		}
	}
	stored := *key
	r.keys[key.ID] = &stored
	return nil
}

// GetByFingerprint implements auth.KeyRepository.
func (r *KeyRepository) GetByFingerprint(_ context.Context, fingerprint string) (*auth.RegisteredKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.Fingerprint == fingerprint {
			found := *key
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

// ListByPlayer implements auth.KeyRepository.
func (r *KeyRepository) ListByPlayer(_ context.Context, playerID ulid.ULID) ([]*auth.RegisteredKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]*auth.RegisteredKey, 0)
	for _, key := range r.keys {
		if key.PlayerID == playerID {
			found := *key
			keys = append(keys, &found)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID.Compare(keys[j].ID) < 0 })
	return keys, nil
}

// UpdateLastUsed implements auth.KeyRepository.
func (r *KeyRepository) UpdateLastUsed(_ context.Context, id ulid.ULID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return auth.ErrNotFound
	}
	key.LastUsedAt = &at
	return nil
}

// DeleteOwned implements auth.KeyRepository.
func (r *KeyRepository) DeleteOwned(_ context.Context, playerID, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok || key.PlayerID != playerID {
		return auth.ErrNotFound
	}
	delete(r.keys, id)
	return nil
}

// SessionRepository is an in-memory auth.SessionRepository.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[ulid.ULID]*auth.Session
}

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[ulid.ULID]*auth.Session)}
}

// Put stores session as-is, bypassing validation. Tests use it to seed
// sessions with arbitrary expiry times.
func (r *SessionRepository) Put(session *auth.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *session
	r.sessions[session.ID] = &stored
}

// Get returns a copy of the stored session, if any.
func (r *SessionRepository) Get(id ulid.ULID) (*auth.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	found := *session
	return &found, true
}

// Len returns the number of stored sessions, expired ones included.
func (r *SessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Create implements auth.SessionRepository.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.TokenHash == session.TokenHash || existing.ID == session.ID {
			return auth.ErrDuplicate
		}
	}
	stored := *session
	r.sessions[session.ID] = &stored
	return nil
}

// GetByTokenHash implements auth.SessionRepository.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.TokenHash == tokenHash {
			found := *session
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

// ListActiveByPlayer implements auth.SessionRepository.
func (r *SessionRepository) ListActiveByPlayer(_ context.Context, playerID ulid.ULID, now time.Time) ([]*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*auth.Session, 0)
	for _, session := range r.sessions {
		if session.PlayerID == playerID && !session.IsExpiredAt(now) {
			found := *session
			sessions = append(sessions, &found)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	return sessions, nil
}

// UpdateLastActivity implements auth.SessionRepository.
func (r *SessionRepository) UpdateLastActivity(_ context.Context, id ulid.ULID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	session.LastActivityAt = at
	return nil
}

// UpdateExpiry implements auth.SessionRepository.
func (r *SessionRepository) UpdateExpiry(_ context.Context, id ulid.ULID, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.IsExpiredAt(now) {
		return auth.ErrNotFound
	}
	session.ExpiresAt = expiresAt
	return nil
}

// UpdateCharacter implements auth.SessionRepository.
func (r *SessionRepository) UpdateCharacter(_ context.Context, id ulid.ULID, binding auth.CharacterBinding, now time.Time) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || session.IsExpiredAt(now) {
		return nil, auth.ErrNotFound
	}
	session.Character = binding
	found := *session
	return &found, nil
}

// Delete implements auth.SessionRepository.
func (r *SessionRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

// DeleteByTokenHash implements auth.SessionRepository.
func (r *SessionRepository) DeleteByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.sessions {
		if session.TokenHash == tokenHash {
			delete(r.sessions, id)
			return session, nil
		}
	}
	return nil, auth.ErrNotFound
}

// DeleteByPlayer implements auth.SessionRepository.
func (r *SessionRepository) DeleteByPlayer(_ context.Context, playerID ulid.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, session := range r.sessions {
		if session.PlayerID == playerID {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpired implements auth.SessionRepository.
func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, session := range r.sessions {
		if session.IsExpiredAt(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// PlayerDirectory is a map-backed auth.PlayerDirectory.
type PlayerDirectory map[ulid.ULID]string

// Username implements auth.PlayerDirectory.
func (d PlayerDirectory) Username(_ context.Context, playerID ulid.ULID) (string, error) {
	name, ok := d[playerID]
	if !ok {
		return "", auth.ErrNotFound
	}
	return name, nil
}

// Clock is a manually advanced clock for auth.WithClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
