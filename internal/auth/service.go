// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/keyauth/pkg/errutil"
)

var tracer = otel.Tracer("keyauth/auth")

// PlayerDirectory resolves player identities owned by the game layer.
type PlayerDirectory interface {
	// Username returns the player's display name. Returns an error wrapping
	// ErrNotFound if the player does not exist.
	Username(ctx context.Context, playerID ulid.ULID) (string, error)
}

// Service is the entry point the network layer calls.
type Service struct {
	keys       *KeyRegistry
	challenges *ChallengeService
	sessions   *SessionManager
	players    PlayerDirectory
	logger     *slog.Logger
}

// NewService creates a Service from its components.
func NewService(keys *KeyRegistry, challenges *ChallengeService, sessions *SessionManager, players PlayerDirectory, opts ...Option) (*Service, error) {
	if keys == nil {
		return nil, oops.Errorf("key registry is required")
	}
	if challenges == nil {
		return nil, oops.Errorf("challenge service is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session manager is required")
	}
	if players == nil {
		return nil, oops.Errorf("player directory is required")
	}
	o := buildOptions(opts)
	return &Service{
		keys:       keys,
		challenges: challenges,
		sessions:   sessions,
		players:    players,
		logger:     o.logger,
	}, nil
}

// RegisterKey adds a public key to playerID's account.
func (s *Service) RegisterKey(ctx context.Context, playerID ulid.ULID, rawKey, label string) (key *RegisteredKey, err error) {
	ctx, span := tracer.Start(ctx, "auth.register_key",
		trace.WithAttributes(attribute.String("player.id", playerID.String())))
	defer func() { s.finish(ctx, span, "register key", err) }()

	return s.keys.Register(ctx, playerID, rawKey, label)
}

// ListKeys returns playerID's keys.
func (s *Service) ListKeys(ctx context.Context, playerID ulid.ULID) (keys []*RegisteredKey, err error) {
	ctx, span := tracer.Start(ctx, "auth.list_keys",
		trace.WithAttributes(attribute.String("player.id", playerID.String())))
	defer func() { s.finish(ctx, span, "list keys", err) }()

	return s.keys.List(ctx, playerID)
}

// RemoveKey deletes one of playerID's keys. With revokeSessions set, every
// session of the player is invalidated as well.
func (s *Service) RemoveKey(ctx context.Context, playerID, keyID ulid.ULID, revokeSessions bool) (err error) {
	ctx, span := tracer.Start(ctx, "auth.remove_key",
		trace.WithAttributes(
			attribute.String("player.id", playerID.String()),
			attribute.String("key.id", keyID.String()),
		))
	defer func() { s.finish(ctx, span, "remove key", err) }()

	if err := s.keys.Remove(ctx, playerID, keyID); err != nil {
		return err
	}
	if revokeSessions {
		if _, err := s.sessions.InvalidatePlayerSessions(ctx, playerID); err != nil {
			return err
		}
	}
	return nil
}

// StartChallenge issues a challenge for the key with the given fingerprint.
func (s *Service) StartChallenge(ctx context.Context, fingerprint string) (challenge *Challenge, err error) {
	ctx, span := tracer.Start(ctx, "auth.start_challenge",
		trace.WithAttributes(attribute.String("key.fingerprint", fingerprint)))
	defer func() { s.finish(ctx, span, "start challenge", err) }()

	return s.challenges.Create(ctx, fingerprint)
}

// CompleteChallenge verifies a signed challenge and opens a session for the
// key's owner. Returns the session and its plaintext token.
func (s *Service) CompleteChallenge(ctx context.Context, challengeID string, signature []byte, deviceInfo string) (session *Session, token string, err error) {
	ctx, span := tracer.Start(ctx, "auth.complete_challenge")
	defer func() { s.finish(ctx, span, "complete challenge", err) }()

	playerID, err := s.challenges.Verify(ctx, challengeID, signature)
	if err != nil {
		return nil, "", err
	}
	span.SetAttributes(attribute.String("player.id", playerID.String()))

	username, err := s.players.Username(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", oops.Code(string(KindAuthenticationFailed)).
				With("player_id", playerID.String()).
				Errorf("key owner no longer exists")
		}
		return nil, "", storageError("get player username", err)
	}

	session, token, err = s.sessions.CreateSession(ctx, playerID, username, deviceInfo)
	if err != nil {
		return nil, "", err
	}
	s.logger.InfoContext(ctx, "player authenticated",
		"player_id", playerID.String(),
		"session_id", session.ID.String())
	return session, token, nil
}

// ValidateSession resolves a bearer token to its session.
func (s *Service) ValidateSession(ctx context.Context, token string) (info *SessionInfo, err error) {
	ctx, span := tracer.Start(ctx, "auth.validate_session")
	defer func() { s.finish(ctx, span, "validate session", err) }()

	return s.sessions.ValidateSession(ctx, token)
}

// AttachCharacter binds a character to a session.
func (s *Service) AttachCharacter(ctx context.Context, sessionID, characterID ulid.ULID, characterName string, realmID ulid.ULID) (err error) {
	ctx, span := tracer.Start(ctx, "auth.attach_character",
		trace.WithAttributes(
			attribute.String("session.id", sessionID.String()),
			attribute.String("character.id", characterID.String()),
		))
	defer func() { s.finish(ctx, span, "attach character", err) }()

	return s.sessions.AttachCharacter(ctx, sessionID, characterID, characterName, realmID)
}

// DetachCharacter clears a session's character binding.
func (s *Service) DetachCharacter(ctx context.Context, sessionID ulid.ULID) (err error) {
	ctx, span := tracer.Start(ctx, "auth.detach_character",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer func() { s.finish(ctx, span, "detach character", err) }()

	return s.sessions.DetachCharacter(ctx, sessionID)
}

// ExtendSession renews a session's expiry.
func (s *Service) ExtendSession(ctx context.Context, sessionID ulid.ULID) (err error) {
	ctx, span := tracer.Start(ctx, "auth.extend_session",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer func() { s.finish(ctx, span, "extend session", err) }()

	return s.sessions.ExtendSession(ctx, sessionID)
}

// Logout invalidates the session behind token.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { s.finish(ctx, span, "logout", err) }()

	return s.sessions.InvalidateSession(ctx, token)
}

// LogoutEverywhere invalidates every session of playerID.
func (s *Service) LogoutEverywhere(ctx context.Context, playerID ulid.ULID) (n int64, err error) {
	ctx, span := tracer.Start(ctx, "auth.logout_everywhere",
		trace.WithAttributes(attribute.String("player.id", playerID.String())))
	defer func() { s.finish(ctx, span, "logout everywhere", err) }()

	return s.sessions.InvalidatePlayerSessions(ctx, playerID)
}

// PlayerSessions lists playerID's live sessions.
func (s *Service) PlayerSessions(ctx context.Context, playerID ulid.ULID) (sessions []*Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.player_sessions",
		trace.WithAttributes(attribute.String("player.id", playerID.String())))
	defer func() { s.finish(ctx, span, "player sessions", err) }()

	return s.sessions.GetPlayerSessions(ctx, playerID)
}

// finish records err on span and logs the precise failure kind. Clients only
// ever see PublicMessage(err).
func (s *Service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	kind := KindOf(err)
	span.SetAttributes(attribute.String("auth.failure_kind", string(kind)))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))

	level := slog.LevelInfo
	if kind == KindStorage || kind == "" {
		level = slog.LevelWarn
	}
	errutil.Log(ctx, s.logger, level, operation+" failed", err)
}
