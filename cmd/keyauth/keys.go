// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/keyauth/internal/auth"
)

// maxKeyFileSize bounds how much of --file is read. Authorized-key lines for
// the supported types are well under 1 KiB.
const maxKeyFileSize = 16 << 10

// keyView is the JSON form of a registered key.
type keyView struct {
	ID          string     `json:"id"`
	PlayerID    string     `json:"player_id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Fingerprint string     `json:"fingerprint"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func newKeyView(k *auth.RegisteredKey) keyView {
	return keyView{
		ID:          k.ID.String(),
		PlayerID:    k.PlayerID.String(),
		Name:        k.Name,
		Type:        k.KeyType,
		Fingerprint: k.Fingerprint,
		LastUsedAt:  k.LastUsedAt,
		CreatedAt:   k.CreatedAt,
	}
}

func newKeysCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage players' SSH public keys",
	}
	cmd.AddCommand(newKeysAddCmd(c), newKeysListCmd(c), newKeysRemoveCmd(c))
	return cmd
}

func newKeysAddCmd(c *cli) *cobra.Command {
	var player, name, file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a public key for a player",
		Long: `Register an OpenSSH authorized-key line for a player. The key is read
from --file, or from standard input when --file is "-".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			playerID, err := parseID("player", player)
			if err != nil {
				return err
			}
			raw, err := readKeyInput(cmd, file)
			if err != nil {
				return err
			}

			stack, closeFn, err := c.openAdmin(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			key, err := stack.service.RegisterKey(cmd.Context(), playerID, raw, name)
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry their own codes
			}
			cmd.Printf("Registered key %s (%s %s)\n", key.ID, key.KeyType, key.Fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "player ID (ULID)")
	cmd.Flags().StringVar(&name, "name", "", "key label (defaults to the key comment)")
	cmd.Flags().StringVar(&file, "file", "-", `authorized-key file, or "-" for stdin`)
	return cmd
}

func newKeysListCmd(c *cli) *cobra.Command {
	var player string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a player's keys",
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

			keys, err := stack.service.ListKeys(cmd.Context(), playerID)
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry their own codes
			}
			if jsonOutput {
				return writeKeysJSON(cmd.OutOrStdout(), keys)
			}
			writeKeysTable(cmd.OutOrStdout(), keys)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "player ID (ULID)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output keys as JSON")
	return cmd
}

func newKeysRemoveCmd(c *cli) *cobra.Command {
	var player, key string
	var revoke bool
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove one of a player's keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			playerID, err := parseID("player", player)
			if err != nil {
				return err
			}
			keyID, err := parseID("key", key)
			if err != nil {
				return err
			}
			stack, closeFn, err := c.openAdmin(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := stack.service.RemoveKey(cmd.Context(), playerID, keyID, revoke); err != nil {
				return err //nolint:wrapcheck // auth errors carry their own codes
			}
			cmd.Printf("Removed key %s\n", keyID)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "player ID (ULID)")
	cmd.Flags().StringVar(&key, "key", "", "key ID (ULID)")
	cmd.Flags().BoolVar(&revoke, "revoke-sessions", false, "also end all of the player's sessions")
	return cmd
}

func readKeyInput(cmd *cobra.Command, path string) (string, error) {
	var r io.Reader
	if path == "" || path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return "", oops.Code("INVALID_ARGUMENT").With("file", path).Wrap(err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxKeyFileSize))
	if err != nil {
		return "", oops.Code("INVALID_ARGUMENT").With("file", path).Wrap(err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", oops.Code("INVALID_ARGUMENT").Errorf("no public key provided")
	}
	return raw, nil
}

func writeKeysTable(w io.Writer, keys []*auth.RegisteredKey) {
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(w, "No keys registered")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tTYPE\tFINGERPRINT\tLAST USED\tCREATED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, k.KeyType, k.Fingerprint, lastUsed, k.CreatedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func writeKeysJSON(w io.Writer, keys []*auth.RegisteredKey) error {
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, newKeyView(k))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(views); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
