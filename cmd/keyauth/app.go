// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/keyauth/internal/auth"
)

// authStack is the wired set of auth services over one Storage.
type authStack struct {
	keys       *auth.KeyRegistry
	challenges *auth.ChallengeService
	sessions   *auth.SessionManager
	service    *auth.Service
}

func newAuthStack(storage *Storage, challengeStore auth.ChallengeStore, opts ...auth.Option) (*authStack, error) {
	keys, err := auth.NewKeyRegistry(storage.Keys, opts...)
	if err != nil {
		return nil, oops.With("component", "key registry").Wrap(err)
	}
	challenges, err := auth.NewChallengeService(keys, challengeStore, auth.NewSSHVerifier(), opts...)
	if err != nil {
		return nil, oops.With("component", "challenge service").Wrap(err)
	}
	sessions, err := auth.NewSessionManager(storage.Sessions, opts...)
	if err != nil {
		return nil, oops.With("component", "session manager").Wrap(err)
	}
	service, err := auth.NewService(keys, challenges, sessions, storage.Players, opts...)
	if err != nil {
		return nil, oops.With("component", "service").Wrap(err)
	}
	return &authStack{
		keys:       keys,
		challenges: challenges,
		sessions:   sessions,
		service:    service,
	}, nil
}

// openAdmin connects storage for a one-shot admin command. The returned
// stack keeps challenges in memory since admin commands never issue them.
func (c *cli) openAdmin(ctx context.Context, cmd *cobra.Command) (*authStack, func(), error) {
	cfg, logger, err := c.load(cmd)
	if err != nil {
		return nil, nil, err
	}
	url, err := databaseURL(cfg)
	if err != nil {
		return nil, nil, err
	}

	storage, err := c.deps.StorageOpener(ctx, url, logger)
	if err != nil {
		return nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	stack, err := newAuthStack(storage, auth.NewMemoryChallengeStore(),
		auth.WithLogger(logger),
		auth.WithSessionTTL(cfg.Sessions.TTL),
	)
	if err != nil {
		storage.Close()
		return nil, nil, err
	}
	return stack, storage.Close, nil
}

func parseID(flag, value string) (ulid.ULID, error) {
	if value == "" {
		return ulid.ULID{}, oops.Code("INVALID_ARGUMENT").Errorf("--%s is required", flag)
	}
	id, err := ulid.ParseStrict(value)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ARGUMENT").With(flag, value).Wrapf(err, "invalid --%s", flag)
	}
	return id, nil
}
