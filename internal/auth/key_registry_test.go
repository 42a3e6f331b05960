// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyauth/internal/auth"
	"github.com/holomush/keyauth/internal/auth/authtest"
	"github.com/holomush/keyauth/internal/auth/mocks"
	"github.com/holomush/keyauth/pkg/errutil"
)

func TestNewKeyRegistry_NilRepository(t *testing.T) {
	reg, err := auth.NewKeyRegistry(nil)
	require.Error(t, err)
	assert.Nil(t, reg)
}

func TestKeyRegistry_Register(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	alice := s.newPlayer("alice")
	key := authtest.NewED25519Key(t)

	reg, err := s.keys.Register(ctx, alice, key.AuthorizedKey, "laptop")
	require.NoError(t, err)

	assert.Equal(t, alice, reg.PlayerID)
	assert.Equal(t, "laptop", reg.Name)
	assert.Equal(t, auth.KeyTypeED25519, reg.KeyType)
	assert.Equal(t, key.Fingerprint, reg.Fingerprint)
	assert.Equal(t, testEpoch, reg.CreatedAt)

	found, err := s.keys.Lookup(ctx, key.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, found.ID)
}

func TestKeyRegistry_Register_DuplicateFingerprint(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	alice := s.newPlayer("alice")
	bob := s.newPlayer("bob")
	key := authtest.NewED25519Key(t)

	_, err := s.keys.Register(ctx, alice, key.AuthorizedKey, "first")
	require.NoError(t, err)

	t.Run("same player", func(t *testing.T) {
		_, err := s.keys.Register(ctx, alice, key.AuthorizedKey, "again")
		errutil.AssertErrorCode(t, err, string(auth.KindDuplicateKey))
	})

	t.Run("different player", func(t *testing.T) {
		_, err := s.keys.Register(ctx, bob, key.AuthorizedKey, "stolen")
		errutil.AssertErrorCode(t, err, string(auth.KindDuplicateKey))
		assert.Equal(t, "public key could not be registered", auth.PublicMessage(err))
	})

	t.Run("different comment same key", func(t *testing.T) {
		parsed, err := auth.ParsePublicKey(key.AuthorizedKey)
		require.NoError(t, err)
		_, err = s.keys.Register(ctx, bob, parsed.AuthorizedKey()+" other-comment", "")
		errutil.AssertErrorCode(t, err, string(auth.KindDuplicateKey))
	})
}

func TestKeyRegistry_Register_InvalidKey(t *testing.T) {
	s := newStack(t)
	_, err := s.keys.Register(context.Background(), s.newPlayer("alice"), "not-a-key", "")
	errutil.AssertErrorCode(t, err, string(auth.KindInvalidKeyFormat))
	assert.Equal(t, 0, len(mustList(t, s, ulid.Make())))
}

func TestKeyRegistry_Register_StorageError(t *testing.T) {
	repo := mocks.NewMockKeyRepository(t)
	reg, err := auth.NewKeyRegistry(repo)
	require.NoError(t, err)

	repo.On("Create", mock.Anything, mock.AnythingOfType("*auth.RegisteredKey")).
		Return(errors.New("connection reset"))

	_, err = reg.Register(context.Background(), ulid.Make(), authtest.NewED25519Key(t).AuthorizedKey, "")
	errutil.AssertErrorCode(t, err, string(auth.KindStorage))
	errutil.AssertErrorContext(t, err, "operation", "create key")
}

func TestKeyRegistry_ListAndRemove(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	alice := s.newPlayer("alice")
	bob := s.newPlayer("bob")

	k1, err := s.keys.Register(ctx, alice, authtest.NewED25519Key(t).AuthorizedKey, "one")
	require.NoError(t, err)
	k2, err := s.keys.Register(ctx, alice, authtest.NewTestKey(t, auth.KeyTypeECDSA256).AuthorizedKey, "two")
	require.NoError(t, err)
	bobKey, err := s.keys.Register(ctx, bob, authtest.NewED25519Key(t).AuthorizedKey, "bob")
	require.NoError(t, err)

	keys := mustList(t, s, alice)
	require.Len(t, keys, 2)
	assert.ElementsMatch(t, []ulid.ULID{k1.ID, k2.ID}, []ulid.ULID{keys[0].ID, keys[1].ID})

	t.Run("cannot remove another player's key", func(t *testing.T) {
		err := s.keys.Remove(ctx, alice, bobKey.ID)
		errutil.AssertErrorCode(t, err, string(auth.KindKeyNotFound))
		assert.Len(t, mustList(t, s, bob), 1)
	})

	t.Run("unknown key looks the same", func(t *testing.T) {
		err := s.keys.Remove(ctx, alice, ulid.Make())
		errutil.AssertErrorCode(t, err, string(auth.KindKeyNotFound))
	})

	t.Run("owner removes key", func(t *testing.T) {
		require.NoError(t, s.keys.Remove(ctx, alice, k1.ID))
		keys := mustList(t, s, alice)
		require.Len(t, keys, 1)
		assert.Equal(t, k2.ID, keys[0].ID)
	})
}

func TestKeyRegistry_Lookup_NotFound(t *testing.T) {
	s := newStack(t)
	_, err := s.keys.Lookup(context.Background(), "SHA256:missing")
	errutil.AssertErrorCode(t, err, string(auth.KindKeyNotFound))
	assert.Equal(t, auth.PublicAuthFailure, auth.PublicMessage(err))
}

func TestKeyRegistry_Remove_StorageError(t *testing.T) {
	repo := mocks.NewMockKeyRepository(t)
	reg, err := auth.NewKeyRegistry(repo)
	require.NoError(t, err)

	playerID, keyID := ulid.Make(), ulid.Make()
	repo.On("DeleteOwned", mock.Anything, playerID, keyID).Return(errors.New("timeout"))

	err = reg.Remove(context.Background(), playerID, keyID)
	errutil.AssertErrorCode(t, err, string(auth.KindStorage))
}

func mustList(t *testing.T, s *stack, playerID ulid.ULID) []*auth.RegisteredKey {
	t.Helper()
	keys, err := s.keys.List(context.Background(), playerID)
	require.NoError(t, err)
	return keys
}
