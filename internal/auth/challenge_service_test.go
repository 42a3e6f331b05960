// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyauth/internal/auth"
	"github.com/holomush/keyauth/internal/auth/authtest"
	"github.com/holomush/keyauth/internal/auth/mocks"
	"github.com/holomush/keyauth/pkg/errutil"
)

func TestNewChallengeService_NilDependencies(t *testing.T) {
	s := newStack(t)
	store := auth.NewMemoryChallengeStore()
	verifier := auth.NewSSHVerifier()

	tests := []struct {
		name     string
		keys     *auth.KeyRegistry
		store    auth.ChallengeStore
		verifier auth.SignatureVerifier
	}{
		{"nil keys", nil, store, verifier},
		{"nil store", s.keys, nil, verifier},
		{"nil verifier", s.keys, store, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewChallengeService(tt.keys, tt.store, tt.verifier)
			require.Error(t, err)
			assert.Nil(t, svc)
		})
	}
}

// registeredKey registers a fresh key for a new player.
func registeredKey(t *testing.T, s *stack, keyType string) (*authtest.TestKey, ulid.ULID) {
	t.Helper()
	playerID := s.newPlayer("player-" + ulid.Make().String())
	key := authtest.NewTestKey(t, keyType)
	_, err := s.keys.Register(context.Background(), playerID, key.AuthorizedKey, "")
	require.NoError(t, err)
	return key, playerID
}

func TestChallengeService_Create(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)

	ch, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)

	id, err := base64.RawURLEncoding.DecodeString(ch.ID)
	require.NoError(t, err)
	assert.Len(t, id, auth.ChallengeIDBytes)
	assert.Len(t, ch.Nonce, auth.ChallengeNonceBytes)
	assert.Equal(t, key.Fingerprint, ch.Fingerprint)
	assert.Equal(t, testEpoch.Add(auth.ChallengeTTL), ch.ExpiresAt)

	other, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)
	assert.NotEqual(t, ch.ID, other.ID)
	assert.NotEqual(t, ch.Nonce, other.Nonce)
}

func TestChallengeService_Create_UnknownFingerprint(t *testing.T) {
	s := newStack(t)
	_, err := s.challenges.Create(context.Background(), "SHA256:nobody")
	errutil.AssertErrorCode(t, err, string(auth.KindKeyNotFound))
	assert.Equal(t, 0, s.store.Len())
}

func TestChallengeService_Create_SweepsExpired(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)

	_, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)
	_, err = s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)
	require.Equal(t, 2, s.store.Len())

	s.clock.Advance(auth.ChallengeTTL + time.Second)
	_, err = s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 3, s.store.Len(), "recently expired challenges are retained")

	s.clock.Advance(auth.ChallengeRetention)
	_, err = s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 2, s.store.Len(), "challenges past retention should be swept on create")
}

func TestChallengeService_HappyPath_AllKeyTypes(t *testing.T) {
	for _, keyType := range allKeyTypes {
		t.Run(keyType, func(t *testing.T) {
			ctx := context.Background()
			s := newStack(t)
			key, playerID := registeredKey(t, s, keyType)

			ch, err := s.challenges.Create(ctx, key.Fingerprint)
			require.NoError(t, err)

			s.clock.Advance(10 * time.Second)
			got, err := s.challenges.Verify(ctx, ch.ID, key.Sign(t, ch.Nonce))
			require.NoError(t, err)
			assert.Equal(t, playerID, got)

			stored, err := s.keys.Lookup(ctx, key.Fingerprint)
			require.NoError(t, err)
			require.NotNil(t, stored.LastUsedAt)
			assert.Equal(t, testEpoch.Add(10*time.Second), *stored.LastUsedAt)
		})
	}
}

func TestChallengeService_SingleUse(t *testing.T) {
	ctx := context.Background()

	t.Run("after success", func(t *testing.T) {
		s := newStack(t)
		key, _ := registeredKey(t, s, auth.KeyTypeED25519)
		ch, err := s.challenges.Create(ctx, key.Fingerprint)
		require.NoError(t, err)
		sig := key.Sign(t, ch.Nonce)

		_, err = s.challenges.Verify(ctx, ch.ID, sig)
		require.NoError(t, err)

		_, err = s.challenges.Verify(ctx, ch.ID, sig)
		errutil.AssertErrorCode(t, err, string(auth.KindInvalidChallenge))
	})

	t.Run("after failure", func(t *testing.T) {
		s := newStack(t)
		key, _ := registeredKey(t, s, auth.KeyTypeED25519)
		ch, err := s.challenges.Create(ctx, key.Fingerprint)
		require.NoError(t, err)

		_, err = s.challenges.Verify(ctx, ch.ID, key.Sign(t, []byte("wrong nonce")))
		errutil.AssertErrorCode(t, err, string(auth.KindAuthenticationFailed))

		_, err = s.challenges.Verify(ctx, ch.ID, key.Sign(t, ch.Nonce))
		errutil.AssertErrorCode(t, err, string(auth.KindInvalidChallenge))
	})
}

func TestChallengeService_Expired(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)

	ch, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)
	sig := key.Sign(t, ch.Nonce)

	s.clock.Advance(6 * time.Minute)
	_, err = s.challenges.Verify(ctx, ch.ID, sig)
	errutil.AssertErrorCode(t, err, string(auth.KindChallengeExpired))

	_, err = s.challenges.Verify(ctx, ch.ID, sig)
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidChallenge))
}

func TestChallengeService_ExpiredSurvivesSweep(t *testing.T) {
	tests := []struct {
		name  string
		sweep func(t *testing.T, s *stack, key *authtest.TestKey)
	}{
		{
			name: "background sweep",
			sweep: func(_ *testing.T, s *stack, _ *authtest.TestKey) {
				s.challenges.Sweep(context.Background())
			},
		},
		{
			name: "sweep on create",
			sweep: func(t *testing.T, s *stack, key *authtest.TestKey) {
				_, err := s.challenges.Create(context.Background(), key.Fingerprint)
				require.NoError(t, err)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newStack(t)
			key, _ := registeredKey(t, s, auth.KeyTypeED25519)

			ch, err := s.challenges.Create(ctx, key.Fingerprint)
			require.NoError(t, err)

			s.clock.Advance(5*time.Minute + 30*time.Second)
			tt.sweep(t, s, key)
			s.clock.Advance(30 * time.Second)

			_, err = s.challenges.Verify(ctx, ch.ID, key.Sign(t, ch.Nonce))
			errutil.AssertErrorCode(t, err, string(auth.KindChallengeExpired))
		})
	}
}

func TestChallengeService_SweptAfterRetention(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)

	ch, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)

	s.clock.Advance(auth.ChallengeTTL + auth.ChallengeRetention)
	assert.Equal(t, 1, s.challenges.Sweep(ctx))

	_, err = s.challenges.Verify(ctx, ch.ID, key.Sign(t, ch.Nonce))
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidChallenge))
}

func TestChallengeService_ExpiresExactlyAtTTL(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)

	ch, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)

	s.clock.Advance(auth.ChallengeTTL)
	_, err = s.challenges.Verify(ctx, ch.ID, key.Sign(t, ch.Nonce))
	errutil.AssertErrorCode(t, err, string(auth.KindChallengeExpired))
}

func TestChallengeService_UnknownChallenge(t *testing.T) {
	s := newStack(t)
	_, err := s.challenges.Verify(context.Background(), "does-not-exist", []byte("sig"))
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidChallenge))
	assert.Equal(t, auth.PublicAuthFailure, auth.PublicMessage(err))
}

func TestChallengeService_KeyRemovedAfterIssue(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, playerID := registeredKey(t, s, auth.KeyTypeED25519)

	ch, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)

	stored, err := s.keys.Lookup(ctx, key.Fingerprint)
	require.NoError(t, err)
	require.NoError(t, s.keys.Remove(ctx, playerID, stored.ID))

	_, err = s.challenges.Verify(ctx, ch.ID, key.Sign(t, ch.Nonce))
	errutil.AssertErrorCode(t, err, string(auth.KindAuthenticationFailed))
}

func TestChallengeService_WrongKeySignature(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)
	attacker := authtest.NewED25519Key(t)

	ch, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)

	_, err = s.challenges.Verify(ctx, ch.ID, attacker.Sign(t, ch.Nonce))
	errutil.AssertErrorCode(t, err, string(auth.KindAuthenticationFailed))

	stored, err := s.keys.Lookup(ctx, key.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, stored.LastUsedAt, "failed attempts must not touch last used")
}

func TestChallengeService_ConcurrentVerify(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		s := newStack(t)
		key, playerID := registeredKey(t, s, auth.KeyTypeED25519)
		ch, err := s.challenges.Create(ctx, key.Fingerprint)
		require.NoError(t, err)
		sig := key.Sign(t, ch.Nonce)

		const callers = 2
		var wg sync.WaitGroup
		start := make(chan struct{})
		results := make([]error, callers)
		ids := make([]ulid.ULID, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				ids[i], results[i] = s.challenges.Verify(ctx, ch.ID, sig)
			}(i)
		}
		close(start)
		wg.Wait()

		successes := 0
		for i, err := range results {
			if err == nil {
				successes++
				assert.Equal(t, playerID, ids[i])
				continue
			}
			errutil.AssertErrorCode(t, err, string(auth.KindInvalidChallenge))
		}
		require.Equal(t, 1, successes, "exactly one verification may succeed")
	}
}

func TestChallengeService_VerifierError(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)

	verifier := mocks.NewMockSignatureVerifier(t)
	svc, err := auth.NewChallengeService(s.keys, s.store, verifier, auth.WithClock(s.clock.Now))
	require.NoError(t, err)

	ch, err := svc.Create(ctx, key.Fingerprint)
	require.NoError(t, err)

	verifier.On("Verify", auth.KeyTypeED25519, mock.Anything, ch.Nonce, []byte("sig")).
		Return(false, errors.New("decode signature"))

	_, err = svc.Verify(ctx, ch.ID, []byte("sig"))
	errutil.AssertErrorCode(t, err, string(auth.KindAuthenticationFailed))
	errutil.AssertErrorContext(t, err, "verifier_error", "decode signature")
}

func TestChallengeService_StoreErrors(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)

	store := mocks.NewMockChallengeStore(t)
	svc, err := auth.NewChallengeService(s.keys, store, auth.NewSSHVerifier())
	require.NoError(t, err)

	t.Run("put failure", func(t *testing.T) {
		store.On("Put", mock.Anything, mock.AnythingOfType("*auth.Challenge")).
			Return(errors.New("redis down")).Once()

		_, err := svc.Create(ctx, key.Fingerprint)
		errutil.AssertErrorCode(t, err, string(auth.KindStorage))
	})

	t.Run("get failure", func(t *testing.T) {
		store.On("GetAndDelete", mock.Anything, "abc").
			Return(nil, errors.New("redis down")).Once()

		_, err := svc.Verify(ctx, "abc", []byte("sig"))
		errutil.AssertErrorCode(t, err, string(auth.KindStorage))
	})

	t.Run("sweep failure is best-effort", func(t *testing.T) {
		store.On("Put", mock.Anything, mock.AnythingOfType("*auth.Challenge")).Return(nil).Once()
		store.On("SweepExpired", mock.Anything, mock.AnythingOfType("time.Time")).
			Return(0, errors.New("sweep failed")).Once()

		ch, err := svc.Create(ctx, key.Fingerprint)
		require.NoError(t, err)
		assert.NotEmpty(t, ch.ID)
	})
}

func TestChallengeService_TouchFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	key := authtest.NewED25519Key(t)
	parsed, err := auth.ParsePublicKey(key.AuthorizedKey)
	require.NoError(t, err)
	playerID := ulid.Make()
	stored, err := auth.NewRegisteredKey(playerID, "", parsed, testEpoch)
	require.NoError(t, err)

	repo := mocks.NewMockKeyRepository(t)
	repo.On("GetByFingerprint", mock.Anything, key.Fingerprint).Return(stored, nil)
	repo.On("UpdateLastUsed", mock.Anything, stored.ID, mock.AnythingOfType("time.Time")).
		Return(errors.New("deadlock detected"))

	s := newStack(t)
	registry, err := auth.NewKeyRegistry(repo)
	require.NoError(t, err)
	svc, err := auth.NewChallengeService(registry, auth.NewMemoryChallengeStore(), auth.NewSSHVerifier(),
		auth.WithLogger(loggerFor(s)))
	require.NoError(t, err)

	ch, err := svc.Create(ctx, key.Fingerprint)
	require.NoError(t, err)
	got, err := svc.Verify(ctx, ch.ID, key.Sign(t, ch.Nonce))
	require.NoError(t, err)
	assert.Equal(t, playerID, got)

	entry := findLog(s.logEntries(t), "best-effort key last-used update failed")
	require.NotNil(t, entry)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "touch_last_used", entry["operation"])
}

func TestChallengeService_CustomTTL(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, auth.WithChallengeTTL(30*time.Second))
	key, _ := registeredKey(t, s, auth.KeyTypeED25519)

	ch, err := s.challenges.Create(ctx, key.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(30*time.Second), ch.ExpiresAt)
}
