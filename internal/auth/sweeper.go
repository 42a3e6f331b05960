// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Default sweep intervals.
const (
	DefaultChallengeSweepInterval = time.Minute
	DefaultSessionCleanupInterval = 15 * time.Minute
)

// Sweeper periodically evicts expired challenges and sessions, independent of
// request traffic. Each target runs on its own ticker.
type Sweeper struct {
	challenges        *ChallengeService
	sessions          *SessionManager
	challengeInterval time.Duration
	sessionInterval   time.Duration
	logger            *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithChallengeSweepInterval sets how often expired challenges are swept.
func WithChallengeSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.challengeInterval = d
		}
	}
}

// WithSessionCleanupInterval sets how often expired sessions are deleted.
func WithSessionCleanupInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.sessionInterval = d
		}
	}
}

// WithSweeperLogger sets the logger for sweep results and failures.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper creates a Sweeper. Call Start to begin sweeping.
func NewSweeper(challenges *ChallengeService, sessions *SessionManager, opts ...SweeperOption) (*Sweeper, error) {
	if challenges == nil {
		return nil, oops.Errorf("challenge service is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session manager is required")
	}
	s := &Sweeper{
		challenges:        challenges,
		sessions:          sessions,
		challengeInterval: DefaultChallengeSweepInterval,
		sessionInterval:   DefaultSessionCleanupInterval,
		logger:            challenges.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the sweep loops. They run until ctx is cancelled or Stop is
// called. Starting a running Sweeper is an error; a stopped one may be
// started again.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return oops.Errorf("sweeper already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopChan = make(chan struct{})

	s.wg.Add(2)
	go s.loop(ctx, s.challengeInterval, s.sweepChallenges)
	go s.loop(ctx, s.sessionInterval, s.cleanupSessions)

	go func() {
		s.wg.Wait()
		close(s.stopChan)
	}()
	return nil
}

// Stop cancels the loops and waits for an in-flight sweep to finish.
// It is safe to call Stop more than once, or without Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.stopChan
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	if s.stopChan == done {
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Done returns a channel closed once both loops have exited, or nil if the
// Sweeper was never started.
func (s *Sweeper) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopChan
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

func (s *Sweeper) sweepChallenges(ctx context.Context) {
	if removed := s.challenges.Sweep(ctx); removed > 0 {
		s.logger.DebugContext(ctx, "expired challenges swept", "count", removed)
	}
}

func (s *Sweeper) cleanupSessions(ctx context.Context) {
	n, err := s.sessions.CleanupExpiredSessions(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.WarnContext(ctx, "best-effort session cleanup failed",
			"operation", "cleanup_expired_sessions",
			"error", err)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired sessions removed", "count", n)
	}
}
