// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyauth/internal/auth"
	"github.com/holomush/keyauth/internal/auth/authtest"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// stack wires every component over in-memory storage and a fake clock.
type stack struct {
	clock      *authtest.Clock
	keyRepo    *authtest.KeyRepository
	sessRepo   *authtest.SessionRepository
	store      *auth.MemoryChallengeStore
	players    authtest.PlayerDirectory
	keys       *auth.KeyRegistry
	challenges *auth.ChallengeService
	sessions   *auth.SessionManager
	service    *auth.Service
	logs       *syncBuffer
}

func newStack(t *testing.T, extra ...auth.Option) *stack {
	t.Helper()

	s := &stack{
		clock:    authtest.NewClock(testEpoch),
		keyRepo:  authtest.NewKeyRepository(),
		sessRepo: authtest.NewSessionRepository(),
		store:    auth.NewMemoryChallengeStore(),
		players:  authtest.PlayerDirectory{},
		logs:     &syncBuffer{},
	}
	opts := append([]auth.Option{auth.WithClock(s.clock.Now), auth.WithLogger(loggerFor(s))}, extra...)

	var err error
	s.keys, err = auth.NewKeyRegistry(s.keyRepo, opts...)
	require.NoError(t, err)
	s.challenges, err = auth.NewChallengeService(s.keys, s.store, auth.NewSSHVerifier(), opts...)
	require.NoError(t, err)
	s.sessions, err = auth.NewSessionManager(s.sessRepo, opts...)
	require.NoError(t, err)
	s.service, err = auth.NewService(s.keys, s.challenges, s.sessions, s.players, opts...)
	require.NoError(t, err)
	return s
}

// loggerFor returns a JSON logger writing into the stack's log buffer.
func loggerFor(s *stack) *slog.Logger {
	return slog.New(slog.NewJSONHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newPlayer registers a player in the directory and returns its ID.
func (s *stack) newPlayer(username string) ulid.ULID {
	id := ulid.Make()
	s.players[id] = username
	return id
}

// logEntries parses every JSON log line written so far.
func (s *stack) logEntries(t *testing.T) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(s.logs.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func findLog(entries []map[string]any, msg string) map[string]any {
	for _, e := range entries {
		if e["msg"] == msg {
			return e
		}
	}
	return nil
}
