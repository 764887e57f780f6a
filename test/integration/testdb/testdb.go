// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

//go:build integration

// Package testdb starts a migrated PostgreSQL container for integration
// suites.
package testdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fortauth/fort/internal/store"
)

// DB is a running, migrated database.
type DB struct {
	URL       string
	Pool      *pgxpool.Pool
	container testcontainers.Container
}

// Start runs postgres, applies every migration and opens a pool.
func Start(ctx context.Context) (*DB, error) {
	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("fort_test"),
		postgres.WithUsername("fort"),
		postgres.WithPassword("fort"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	_ = migrator.Close()

	pool, err := store.Open(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	return &DB{URL: connStr, Pool: pool, container: container}, nil
}

// Truncate empties every Fort table between specs.
func (d *DB) Truncate(ctx context.Context) error {
	_, err := d.Pool.Exec(ctx, `TRUNCATE users, socialites, roles, abilities, ability_user,
		ability_role, role_user, persistences, password_resets, phone_challenges CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// Close releases the pool and terminates the container.
func (d *DB) Close(ctx context.Context) {
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.container != nil {
		_ = d.container.Terminate(ctx)
	}
}
