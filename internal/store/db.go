// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

// Package store opens the PostgreSQL pool, applies the embedded schema, and
// maps driver failures onto the Fort error taxonomy.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/fortauth/fort/pkg/errutil"
)

// Querier is the subset of *pgxpool.Pool the repositories use. It is also
// satisfied by pgxmock.PgxPoolIface.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

// Open connects a pool and pings it so configuration errors surface early.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database URL is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(Classify(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(Classify(err))
	}
	return pool, nil
}

// Classify tags a driver error with its taxonomy sentinel: unique violations
// become Conflict, foreign key violations NotFound, and everything else
// (connection loss, timeouts, cancelled contexts, server errors)
// StoreUnavailable. pgx.ErrNoRows is returned unchanged; repositories turn it
// into a NotFound with entity context.
func Classify(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %w", errutil.ErrConflict, err)
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%w: %w", errutil.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%w: %w", errutil.ErrStoreUnavailable, err)
}

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation,
// optionally restricted to one constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Ident quotes a configured table name for interpolation into SQL.
func Ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
