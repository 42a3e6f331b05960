// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/keyauth/internal/auth"
)

type cleanupT interface {
	mock.TestingT
	Cleanup(func())
}

// MockChallengeStore is a mock of auth.ChallengeStore.
type MockChallengeStore struct {
	mock.Mock
}

// NewMockChallengeStore creates a MockChallengeStore.
func NewMockChallengeStore(t cleanupT) *MockChallengeStore {
	m := &MockChallengeStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Put provides a mock function.
func (m *MockChallengeStore) Put(ctx context.Context, challenge *auth.Challenge) error {
	args := m.Called(ctx, challenge)
	return args.Error(0)
}

// GetAndDelete provides a mock function.
func (m *MockChallengeStore) GetAndDelete(ctx context.Context, id string) (*auth.Challenge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Challenge), args.Error(1)
}

// SweepExpired provides a mock function.
func (m *MockChallengeStore) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

// MockSignatureVerifier is a mock of auth.SignatureVerifier.
type MockSignatureVerifier struct {
	mock.Mock
}

// NewMockSignatureVerifier creates a MockSignatureVerifier.
func NewMockSignatureVerifier(t cleanupT) *MockSignatureVerifier {
	m := &MockSignatureVerifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Verify provides a mock function.
func (m *MockSignatureVerifier) Verify(keyType string, keyBytes, nonce, signature []byte) (bool, error) {
	args := m.Called(keyType, keyBytes, nonce, signature)
	return args.Bool(0), args.Error(1)
}

// MockPlayerDirectory is a mock of auth.PlayerDirectory.
type MockPlayerDirectory struct {
	mock.Mock
}

// NewMockPlayerDirectory creates a MockPlayerDirectory.
func NewMockPlayerDirectory(t cleanupT) *MockPlayerDirectory {
	m := &MockPlayerDirectory{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Username provides a mock function.
func (m *MockPlayerDirectory) Username(ctx context.Context, playerID ulid.ULID) (string, error) {
	args := m.Called(ctx, playerID)
	return args.String(0), args.Error(1)
}

// MockEventPublisher is a mock of auth.EventPublisher.
type MockEventPublisher struct {
	mock.Mock
}

// NewMockEventPublisher creates a MockEventPublisher.
func NewMockEventPublisher(t cleanupT) *MockEventPublisher {
	m := &MockEventPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// PublishSessionEvent provides a mock function.
func (m *MockEventPublisher) PublishSessionEvent(ctx context.Context, event auth.SessionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
