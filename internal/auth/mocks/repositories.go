// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/keyauth/internal/auth"
)

// MockKeyRepository is a mock of auth.KeyRepository.
type MockKeyRepository struct {
	mock.Mock
}

// NewMockKeyRepository creates a MockKeyRepository whose expectations are
// asserted when the test finishes.
func NewMockKeyRepository(t cleanupT) *MockKeyRepository {
	m := &MockKeyRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockKeyRepository) Create(ctx context.Context, key *auth.RegisteredKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// GetByFingerprint provides a mock function.
func (m *MockKeyRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*auth.RegisteredKey, error) {
	args := m.Called(ctx, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.RegisteredKey), args.Error(1)
}

// ListByPlayer provides a mock function.
func (m *MockKeyRepository) ListByPlayer(ctx context.Context, playerID ulid.ULID) ([]*auth.RegisteredKey, error) {
	args := m.Called(ctx, playerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auth.RegisteredKey), args.Error(1)
}

// UpdateLastUsed provides a mock function.
func (m *MockKeyRepository) UpdateLastUsed(ctx context.Context, id ulid.ULID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// DeleteOwned provides a mock function.
func (m *MockKeyRepository) DeleteOwned(ctx context.Context, playerID, id ulid.ULID) error {
	args := m.Called(ctx, playerID, id)
	return args.Error(0)
}

// MockSessionRepository is a mock of auth.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

// NewMockSessionRepository creates a MockSessionRepository whose expectations
// are asserted when the test finishes.
func NewMockSessionRepository(t cleanupT) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create provides a mock function.
func (m *MockSessionRepository) Create(ctx context.Context, session *auth.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

// GetByTokenHash provides a mock function.
func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

// ListActiveByPlayer provides a mock function.
func (m *MockSessionRepository) ListActiveByPlayer(ctx context.Context, playerID ulid.ULID, now time.Time) ([]*auth.Session, error) {
	args := m.Called(ctx, playerID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auth.Session), args.Error(1)
}

// UpdateLastActivity provides a mock function.
func (m *MockSessionRepository) UpdateLastActivity(ctx context.Context, id ulid.ULID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// UpdateExpiry provides a mock function.
func (m *MockSessionRepository) UpdateExpiry(ctx context.Context, id ulid.ULID, expiresAt, now time.Time) error {
	args := m.Called(ctx, id, expiresAt, now)
	return args.Error(0)
}

// UpdateCharacter provides a mock function.
func (m *MockSessionRepository) UpdateCharacter(ctx context.Context, id ulid.ULID, binding auth.CharacterBinding, now time.Time) (*auth.Session, error) {
	args := m.Called(ctx, id, binding, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

// Delete provides a mock function.
func (m *MockSessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// DeleteByTokenHash provides a mock function.
func (m *MockSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Session), args.Error(1)
}

// DeleteByPlayer provides a mock function.
func (m *MockSessionRepository) DeleteByPlayer(ctx context.Context, playerID ulid.ULID) (int64, error) {
	args := m.Called(ctx, playerID)
	return args.Get(0).(int64), args.Error(1)
}

// DeleteExpired provides a mock function.
func (m *MockSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}
