// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/logging"
	"github.com/fortauth/fort/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the fort CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fort",
		Short: "Fort - identity and access administration",
		Long: `Fort manages users, abilities and roles, remember-me sessions,
password resets and second factors on PostgreSQL.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/fort/config.yaml)")
	flags.String("database_url", "", "PostgreSQL connection URL")
	flags.String("log_level", "", "log level (debug, info, warn, error)")
	flags.String("log_format", "", "log format (json, text)")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewAbilityCmd())
	cmd.AddCommand(NewRoleCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewJanitorCmd())

	return cmd
}

// loadConfig resolves configuration from --config (or the XDG default
// file), FORT_* and flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = xdg.DefaultConfigFile(); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(path, cmd.Flags())
}

func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return logging.Setup(logging.Options{
		Service: "fort",
		Version: cmd.Root().Version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Output:  cmd.ErrOrStderr(),
	})
}

// withApp loads config, connects, and runs fn against the wired services.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
