// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/keyauth/internal/auth"
)

func TestMemoryChallengeStore_PutGetAndDelete(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryChallengeStore()
	ch := &auth.Challenge{ID: "c1", Nonce: []byte("n"), Fingerprint: "SHA256:x", ExpiresAt: testEpoch.Add(time.Minute)}

	require.NoError(t, store.Put(ctx, ch))
	assert.Equal(t, 1, store.Len())

	got, err := store.GetAndDelete(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ch, got)
	assert.Equal(t, 0, store.Len())

	_, err = store.GetAndDelete(ctx, "c1")
	assert.True(t, errors.Is(err, auth.ErrNotFound))
}

func TestMemoryChallengeStore_GetAndDeleteReturnsExpired(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryChallengeStore()
	require.NoError(t, store.Put(ctx, &auth.Challenge{ID: "old", ExpiresAt: testEpoch.Add(-time.Hour)}))

	got, err := store.GetAndDelete(ctx, "old")
	require.NoError(t, err)
	assert.True(t, got.IsExpiredAt(testEpoch))
}

func TestMemoryChallengeStore_PutRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryChallengeStore()

	require.Error(t, store.Put(ctx, nil))
	require.Error(t, store.Put(ctx, &auth.Challenge{}))

	require.NoError(t, store.Put(ctx, &auth.Challenge{ID: "dup"}))
	err := store.Put(ctx, &auth.Challenge{ID: "dup"})
	assert.True(t, errors.Is(err, auth.ErrDuplicate))
}

func TestMemoryChallengeStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryChallengeStore()
	require.NoError(t, store.Put(ctx, &auth.Challenge{ID: "expired-1", ExpiresAt: testEpoch.Add(-time.Minute)}))
	require.NoError(t, store.Put(ctx, &auth.Challenge{ID: "expired-2", ExpiresAt: testEpoch}))
	require.NoError(t, store.Put(ctx, &auth.Challenge{ID: "live", ExpiresAt: testEpoch.Add(time.Minute)}))

	removed, err := store.SweepExpired(ctx, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())

	_, err = store.GetAndDelete(ctx, "live")
	require.NoError(t, err)
}

func TestMemoryChallengeStore_SweepStopsOnCancel(t *testing.T) {
	store := auth.NewMemoryChallengeStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(context.Background(), &auth.Challenge{ID: id, ExpiresAt: testEpoch.Add(-time.Minute)}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	removed, err := store.SweepExpired(ctx, testEpoch)
	require.Error(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 3, store.Len())
}

func TestMemoryChallengeStore_ConcurrentGetAndDelete(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryChallengeStore()
	require.NoError(t, store.Put(ctx, &auth.Challenge{ID: "race", ExpiresAt: testEpoch.Add(time.Minute)}))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.GetAndDelete(ctx, "race"); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
