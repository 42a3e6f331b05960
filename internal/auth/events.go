// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionEventType names a session lifecycle transition.
type SessionEventType string

// Session lifecycle event types.
const (
	EventSessionCreated     SessionEventType = "session.created"
	EventSessionInvalidated SessionEventType = "session.invalidated"
	EventSessionExpired     SessionEventType = "session.expired"
	EventCharacterAttached  SessionEventType = "session.character_attached"
	EventCharacterDetached  SessionEventType = "session.character_detached"
)

// SessionEvent describes a session lifecycle transition. It never carries the
// session token.
type SessionEvent struct {
	Type        SessionEventType `json:"type"`
	SessionID   ulid.ULID        `json:"session_id"`
	PlayerID    ulid.ULID        `json:"player_id"`
	CharacterID *ulid.ULID       `json:"character_id,omitempty"`
	RealmID     *ulid.ULID       `json:"realm_id,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// EventPublisher delivers session lifecycle events to interested consumers.
// Publishing is best-effort: a failure never fails the originating operation.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event SessionEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishSessionEvent(context.Context, SessionEvent) error { return nil }
