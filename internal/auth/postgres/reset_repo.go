// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
	"github.com/fortauth/fort/pkg/errutil"
)

// PasswordResetRepository implements auth.PasswordResetRepository using
// PostgreSQL. Email is the primary key, so a new token replaces the old one.
type PasswordResetRepository struct {
	db store.Querier
	t  quoted
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db store.Querier, tables config.Tables) *PasswordResetRepository {
	return &PasswordResetRepository{db: db, t: quoteTables(tables)}
}

// Upsert inserts or replaces the token for the email.
func (r *PasswordResetRepository) Upsert(ctx context.Context, token *auth.PasswordResetToken) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (email, token, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET token = EXCLUDED.token, created_at = EXCLUDED.created_at
	`, r.t.passwordResets), token.Email, token.TokenHash, token.CreatedAt)
	if err != nil {
		return oops.Code("RESET_UPSERT_FAILED").
			With("operation", "upsert reset token").
			With("email", token.Email).
			Wrap(store.Classify(err))
	}
	return nil
}

// Get retrieves the token row for the email.
func (r *PasswordResetRepository) Get(ctx context.Context, email string) (*auth.PasswordResetToken, error) {
	var t auth.PasswordResetToken
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT email, token, created_at FROM %s WHERE email = $1
	`, r.t.passwordResets), email).Scan(&t.Email, &t.TokenHash, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").With("email", email).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").With("email", email).Wrap(store.Classify(err))
	}
	return &t, nil
}

// Consume deletes the row only while it still holds tokenHash and was
// created at or after notBefore.
func (r *PasswordResetRepository) Consume(ctx context.Context, email, tokenHash string, notBefore time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE email = $1 AND token = $2 AND created_at >= $3
	`, r.t.passwordResets), email, tokenHash, notBefore)
	if err != nil {
		return false, oops.Code("RESET_CONSUME_FAILED").With("email", email).Wrap(store.Classify(err))
	}
	return result.RowsAffected() == 1, nil
}

// DeleteOlderThan removes rows created before cutoff.
func (r *PasswordResetRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, r.t.passwordResets), cutoff)
	if err != nil {
		return 0, oops.Code("RESET_PRUNE_FAILED").Wrap(store.Classify(err))
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
