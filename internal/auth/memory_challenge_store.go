// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"
)

// MemoryChallengeStore is an in-process ChallengeStore for single-instance
// deployments. Challenges are lost on restart.
type MemoryChallengeStore struct {
	mu         sync.RWMutex
	challenges map[string]*Challenge
}

// NewMemoryChallengeStore creates an empty store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*Challenge),
	}
}

// Put implements ChallengeStore.
func (s *MemoryChallengeStore) Put(_ context.Context, challenge *Challenge) error {
	if challenge == nil || challenge.ID == "" {
		return oops.Errorf("challenge with an ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.challenges[challenge.ID]; exists {
		return oops.With("challenge_id", challenge.ID).Wrap(ErrDuplicate)
	}
	s.challenges[challenge.ID] = challenge
	return nil
}

// GetAndDelete implements ChallengeStore.
func (s *MemoryChallengeStore) GetAndDelete(_ context.Context, id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.challenges, id)
	return challenge, nil
}

// SweepExpired implements ChallengeStore. The write lock is held for one
// delete at a time so request-path callers are never blocked by a long sweep.
func (s *MemoryChallengeStore) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	var expired []string
	for id, challenge := range s.challenges {
		if challenge.IsExpiredAt(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if err := ctx.Err(); err != nil {
			return removed, oops.With("operation", "sweep challenges").Wrap(err)
		}
		s.mu.Lock()
		// Re-check: the entry may have been consumed since the scan.
		if challenge, ok := s.challenges[id]; ok && challenge.IsExpiredAt(cutoff) {
			delete(s.challenges, id)
			removed++
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored challenges, expired ones included.
func (s *MemoryChallengeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.challenges)
}
