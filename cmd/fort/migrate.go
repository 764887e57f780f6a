// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
)

// NewMigrateCmd creates the migrate subcommand group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back or inspect the schema migrations embedded in the binary.`,
		RunE:  runMigrateUp,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		RunE:  runMigrateStatus,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Force sets the recorded schema version and clears the dirty flag.
Use it only to recover from a failed migration after fixing the schema by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: runMigrateForce,
	})

	return cmd
}

func openMigrator(cmd *cobra.Command) (*store.Migrator, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := requireDatabaseURL(cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if err := requireDefaultTables(cfg.Tables); err != nil {
		return nil, err
	}
	return store.NewMigrator(cfg.DatabaseURL)
}

// requireDefaultTables refuses to migrate when the repositories are pointed at
// renamed tables the embedded migrations would never create.
func requireDefaultTables(tables config.Tables) error {
	if tables.IsDefault() {
		return nil
	}
	return oops.Code("CONFIG_INVALID").
		With("tables", tables).
		Errorf("custom table names require an externally managed schema; fort migrate only creates the default tables")
}

func requireDatabaseURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required (set FORT_DATABASE_URL or --database_url)")
	}
	return nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Println("Running migrations...")
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Println("Rolling back migrations...")
	if err := m.Down(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
	}
	cmd.Println("Rollback completed successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	version, dirty, err := m.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "pending").Wrap(err)
	}

	cmd.Print(formatMigrationStatus(version, dirty, pending))
	return nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}

	m, err := openMigrator(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Force(version); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "force").With("version", version).Wrap(err)
	}
	cmd.Printf("Schema version forced to %d\n", version)
	return nil
}

// parseForceVersion reads a leading integer from s. Trailing characters are
// ignored. Range checks are left to Migrator.Force.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(s, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}

func formatMigrationStatus(version uint, dirty bool, pending []uint) string {
	var b strings.Builder
	if version == 0 {
		b.WriteString("Schema version: none\n")
	} else {
		fmt.Fprintf(&b, "Schema version: %d", version)
		if dirty {
			b.WriteString(" (dirty)")
		}
		b.WriteString("\n")
	}
	if len(pending) == 0 {
		b.WriteString("Pending: none\n")
		return b.String()
	}
	parts := make([]string, len(pending))
	for i, v := range pending {
		parts[i] = fmt.Sprintf("%d", v)
	}
	fmt.Fprintf(&b, "Pending: %s\n", strings.Join(parts, ", "))
	return b.String()
}
