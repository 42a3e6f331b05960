// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/keyauth/internal/auth"
)

// sessionView is the JSON form of a session. The token hash is omitted.
type sessionView struct {
	ID             string    `json:"id"`
	PlayerID       string    `json:"player_id"`
	PlayerUsername string    `json:"player_username"`
	CharacterID    string    `json:"character_id,omitempty"`
	CharacterName  string    `json:"character_name,omitempty"`
	RealmID        string    `json:"realm_id,omitempty"`
	DeviceInfo     string    `json:"device_info,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func newSessionView(s *auth.Session) sessionView {
	v := sessionView{
		ID:             s.ID.String(),
		PlayerID:       s.PlayerID.String(),
		PlayerUsername: s.PlayerUsername,
		DeviceInfo:     s.DeviceInfo,
		ExpiresAt:      s.ExpiresAt,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
	if c, ok := s.Character.Bound(); ok {
		v.CharacterID = c.CharacterID.String()
		v.CharacterName = c.CharacterName
		v.RealmID = c.RealmID.String()
	}
	return v
}

func newSessionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and end player sessions",
	}
	cmd.AddCommand(newSessionsListCmd(c), newSessionsCleanupCmd(c), newSessionsRevokeCmd(c))
	return cmd
}

func newSessionsListCmd(c *cli) *cobra.Command {
	var player string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a player's active sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			playerID, err := parseID("player", player)
			if err != nil {
				return err
			}
			stack, closeFn, err := c.openAdmin(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			sessions, err := stack.service.PlayerSessions(cmd.Context(), playerID)
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry their own codes
			}
			if jsonOutput {
				return writeSessionsJSON(cmd.OutOrStdout(), sessions)
			}
			writeSessionsTable(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "player ID (ULID)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output sessions as JSON")
	return cmd
}

func newSessionsCleanupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every expired session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, closeFn, err := c.openAdmin(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := stack.sessions.CleanupExpiredSessions(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry their own codes
			}
			cmd.Printf("Removed %d expired session(s)\n", n)
			return nil
		},
	}
}

func newSessionsRevokeCmd(c *cli) *cobra.Command {
	var player string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "End all of a player's sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			playerID, err := parseID("player", player)
			if err != nil {
				return err
			}
			stack, closeFn, err := c.openAdmin(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := stack.service.LogoutEverywhere(cmd.Context(), playerID)
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry their own codes
			}
			cmd.Printf("Revoked %d session(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "player ID (ULID)")
	return cmd
}

func writeSessionsTable(w io.Writer, sessions []*auth.Session) {
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(w, "No active sessions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCHARACTER\tDEVICE\tLAST ACTIVITY\tEXPIRES")
	for _, s := range sessions {
		character := "-"
		if c, ok := s.Character.Bound(); ok {
			character = c.CharacterName
		}
		device := s.DeviceInfo
		if device == "" {
			device = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, character, device,
			s.LastActivityAt.UTC().Format(time.RFC3339), s.ExpiresAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func writeSessionsJSON(w io.Writer, sessions []*auth.Session) error {
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, newSessionView(s))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(views); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
