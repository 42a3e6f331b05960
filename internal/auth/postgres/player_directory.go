// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/keyauth/internal/auth"
)

// PlayerDirectory implements auth.PlayerDirectory over the game's players table.
type PlayerDirectory struct {
	pool poolIface
}

// NewPlayerDirectory creates a new PlayerDirectory.
func NewPlayerDirectory(pool poolIface) *PlayerDirectory {
	return &PlayerDirectory{pool: pool}
}

// Username returns the username of a player.
func (d *PlayerDirectory) Username(ctx context.Context, playerID ulid.ULID) (string, error) {
	var username string
	err := d.pool.QueryRow(ctx, `SELECT username FROM players WHERE id = $1`, playerID.String()).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.With("player_id", playerID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return "", oops.With("operation", "get player username").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	return username, nil
}
