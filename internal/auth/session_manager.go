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

// SessionManager creates, validates, and retires sessions.
type SessionManager struct {
	sessions SessionRepository
	logger   *slog.Logger
	now      func() time.Time
	metrics  *Metrics
	events   EventPublisher
	ttl      time.Duration
	binding  *keyedMutex
}

// NewSessionManager creates a SessionManager backed by sessions.
func NewSessionManager(sessions SessionRepository, opts ...Option) (*SessionManager, error) {
	if sessions == nil {
		return nil, oops.Errorf("session repository is required")
	}
	o := buildOptions(opts)
	return &SessionManager{
		sessions: sessions,
		logger:   o.logger,
		now:      o.now,
		metrics:  o.metrics,
		events:   o.events,
		ttl:      o.sessionTTL,
		binding:  newKeyedMutex(),
	}, nil
}

// CreateSession issues a new unbound session for playerID.
// Returns the session and the plaintext token, which is not recoverable later.
func (m *SessionManager) CreateSession(ctx context.Context, playerID ulid.ULID, username, deviceInfo string) (*Session, string, error) {
	if playerID.Compare(ulid.ULID{}) == 0 {
		return nil, "", oops.Code(string(KindAuthenticationFailed)).Errorf("player ID cannot be zero")
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code(string(KindStorage)).
			With("operation", "generate session token").
			Wrap(err)
	}

	now := m.now()
	session := &Session{
		ID:             ulid.Make(),
		PlayerID:       playerID,
		TokenHash:      tokenHash,
		PlayerUsername: username,
		Character:      Unbound(),
		DeviceInfo:     deviceInfo,
		ExpiresAt:      now.Add(m.ttl),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, "", storageError("create session", err)
	}

	m.publish(ctx, session, EventSessionCreated, now)
	return session, token, nil
}

// ValidateSession resolves a token to its session. An expired session is
// deleted as a side effect. Validation records activity but never moves
// ExpiresAt.
func (m *SessionManager) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	info, err := m.validate(ctx, token)
	m.metrics.recordValidation(err)
	return info, err
}

func (m *SessionManager) validate(ctx context.Context, token string) (*SessionInfo, error) {
	if token == "" {
		return nil, oops.Code(string(KindSessionNotFound)).Errorf("session token cannot be empty")
	}

	session, err := m.sessions.GetByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(string(KindSessionNotFound)).Errorf("invalid session token")
		}
		return nil, storageError("get session by token hash", err)
	}

	now := m.now()
	if session.IsExpiredAt(now) {
		if err := m.sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.WarnContext(ctx, "best-effort expired session delete failed",
				"operation", "delete_expired_session",
				"session_id", session.ID.String(),
				"error", err)
		} else if err == nil {
			m.publish(ctx, session, EventSessionExpired, now)
		}
		return nil, oops.Code(string(KindSessionExpired)).
			With("session_id", session.ID.String()).
			With("expired_at", session.ExpiresAt).
			Errorf("session has expired")
	}

	if err := m.sessions.UpdateLastActivity(ctx, session.ID, now); err != nil {
		m.logger.WarnContext(ctx, "best-effort session activity update failed",
			"operation", "update_last_activity",
			"session_id", session.ID.String(),
			"error", err)
	} else {
		session.LastActivityAt = now
	}

	return session.Info(), nil
}

// AttachCharacter binds a character to a live session, replacing any previous
// binding. Calls for the same session are serialized.
func (m *SessionManager) AttachCharacter(ctx context.Context, sessionID, characterID ulid.ULID, characterName string, realmID ulid.ULID) error {
	binding := BindCharacter(BoundCharacter{
		CharacterID:   characterID,
		CharacterName: characterName,
		RealmID:       realmID,
	})
	return m.setBinding(ctx, sessionID, binding, EventCharacterAttached)
}

// DetachCharacter returns a live session to the unbound state.
func (m *SessionManager) DetachCharacter(ctx context.Context, sessionID ulid.ULID) error {
	return m.setBinding(ctx, sessionID, Unbound(), EventCharacterDetached)
}

func (m *SessionManager) setBinding(ctx context.Context, sessionID ulid.ULID, binding CharacterBinding, eventType SessionEventType) error {
	unlock := m.binding.Lock(sessionID)
	defer unlock()

	now := m.now()
	session, err := m.sessions.UpdateCharacter(ctx, sessionID, binding, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(string(KindSessionNotFound)).
				With("session_id", sessionID.String()).
				Wrap(err)
		}
		return storageError("update session character", err)
	}

	m.publish(ctx, session, eventType, now)
	return nil
}

// InvalidateSession deletes the session identified by token.
func (m *SessionManager) InvalidateSession(ctx context.Context, token string) error {
	if token == "" {
		return oops.Code(string(KindSessionNotFound)).Errorf("session token cannot be empty")
	}
	session, err := m.sessions.DeleteByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(string(KindSessionNotFound)).Errorf("invalid session token")
		}
		return storageError("delete session by token hash", err)
	}
	m.publish(ctx, session, EventSessionInvalidated, m.now())
	return nil
}

// InvalidatePlayerSessions deletes every session of playerID and returns the
// number removed.
func (m *SessionManager) InvalidatePlayerSessions(ctx context.Context, playerID ulid.ULID) (int64, error) {
	n, err := m.sessions.DeleteByPlayer(ctx, playerID)
	if err != nil {
		return 0, storageError("delete sessions by player", err)
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "player sessions invalidated",
			"player_id", playerID.String(),
			"count", n)
	}
	return n, nil
}

// ExtendSession renews a live session to a full TTL from now.
func (m *SessionManager) ExtendSession(ctx context.Context, sessionID ulid.ULID) error {
	now := m.now()
	if err := m.sessions.UpdateExpiry(ctx, sessionID, now.Add(m.ttl), now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(string(KindSessionNotFound)).
				With("session_id", sessionID.String()).
				Wrap(err)
		}
		return storageError("update session expiry", err)
	}
	return nil
}

// GetPlayerSessions lists the player's unexpired sessions without deleting
// expired ones.
func (m *SessionManager) GetPlayerSessions(ctx context.Context, playerID ulid.ULID) ([]*Session, error) {
	sessions, err := m.sessions.ListActiveByPlayer(ctx, playerID, m.now())
	if err != nil {
		return nil, storageError("list player sessions", err)
	}
	return sessions, nil
}

// CleanupExpiredSessions deletes every session expired at now and returns the count.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, storageError("delete expired sessions", err)
	}
	m.metrics.recordSweep("sessions", n)
	return n, nil
}

func (m *SessionManager) publish(ctx context.Context, session *Session, eventType SessionEventType, at time.Time) {
	if session == nil {
		return
	}
	event := SessionEvent{
		Type:       eventType,
		SessionID:  session.ID,
		PlayerID:   session.PlayerID,
		OccurredAt: at,
	}
	if c, ok := session.Character.Bound(); ok {
		event.CharacterID = &c.CharacterID
		event.RealmID = &c.RealmID
	}
	if err := m.events.PublishSessionEvent(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "best-effort session event publish failed",
			"operation", "publish_session_event",
			"event_type", string(eventType),
			"session_id", session.ID.String(),
			"error", err)
	}
}
