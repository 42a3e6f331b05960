// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/keyauth/internal/config"
	"github.com/holomush/keyauth/internal/logging"
)

const serviceName = "keyauth"

// cli carries state shared by all subcommands.
type cli struct {
	deps       *Deps
	configFile string
}

// NewRootCmd creates the root command for the keyauth CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	c := &cli{deps: deps.withDefaults()}

	cmd := &cobra.Command{
		Use:   "keyauth",
		Short: "keyauth - SSH key authentication for HoloMUSH",
		Long: `keyauth authenticates players by SSH public-key challenge-response
and manages the sessions that result.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file path (YAML; defaults to $XDG_CONFIG_HOME/keyauth/config.yaml when present)")
	flags.String("database-url", "", "PostgreSQL connection URL (or DATABASE_URL)")
	flags.String("log-format", config.DefaultLogFormat, "log format (json or text)")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(c))
	cmd.AddCommand(newMigrateCmd(c))
	cmd.AddCommand(newKeysCmd(c))
	cmd.AddCommand(newSessionsCmd(c))

	return cmd
}

// load reads configuration for cmd and installs a default logger writing to
// its stderr.
func (c *cli) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // already coded by config.Load
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return nil, nil, oops.Code("CONFIG_INVALID").Errorf("log.format must be 'json' or 'text', got %q", cfg.Log.Format)
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, level, cmd.ErrOrStderr())
	return cfg, logger, nil
}

// databaseURL returns the configured database URL or a CONFIG_INVALID error.
func databaseURL(cfg *config.Config) (string, error) {
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("database URL is required: set --database-url, KEYAUTH_DATABASE__URL or DATABASE_URL")
	}
	return cfg.Database.URL, nil
}
