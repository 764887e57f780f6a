// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortauth/fort/internal/seed"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	timeout time.Duration
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed FILE",
		Short: "Load abilities, roles and grants from a YAML file",
		Long: `Creates the abilities and roles listed in FILE, attaches abilities to
roles, and grants abilities and roles to existing users. FILE is checked
against the seed schema first (see "fort seed schema").
This command is idempotent - it will not create duplicates if run multiple times.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, args, cfg)
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for seed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := seed.GenerateSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	})

	return cmd
}

func runSeed(cmd *cobra.Command, args []string, cfg *seedConfig) error {
	f, err := seed.ReadFile(args[0])
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
		defer cancel()

		report, err := seed.Apply(ctx, a.access, a.users, f)
		if err != nil {
			return err
		}
		cmd.Printf("Abilities: %d created, %d existing\n", report.AbilitiesCreated, report.AbilitiesExisted)
		cmd.Printf("Roles: %d created, %d existing\n", report.RolesCreated, report.RolesExisted)
		cmd.Printf("Grants applied: %d\n", report.Grants)
		return nil
	})
}
