// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
	"github.com/fortauth/fort/pkg/errutil"
)

// PhoneChallengeRepository implements auth.PhoneChallengeRepository using
// PostgreSQL.
type PhoneChallengeRepository struct {
	db store.Querier
	t  quoted
}

// NewPhoneChallengeRepository creates a new PhoneChallengeRepository.
func NewPhoneChallengeRepository(db store.Querier, tables config.Tables) *PhoneChallengeRepository {
	return &PhoneChallengeRepository{db: db, t: quoteTables(tables)}
}

// Upsert replaces the user's outstanding challenge.
func (r *PhoneChallengeRepository) Upsert(ctx context.Context, c *auth.PhoneChallenge) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (user_id, code_hash, attempts, created_at) VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET code_hash = EXCLUDED.code_hash, attempts = 0, created_at = EXCLUDED.created_at
	`, r.t.phoneChallenges), c.UserID.String(), c.CodeHash, c.CreatedAt)
	if err != nil {
		return oops.Code("CHALLENGE_UPSERT_FAILED").
			With("user_id", c.UserID.String()).
			Wrap(store.Classify(err))
	}
	return nil
}

// Get retrieves the user's challenge.
func (r *PhoneChallengeRepository) Get(ctx context.Context, userID ulid.ULID) (*auth.PhoneChallenge, error) {
	c := auth.PhoneChallenge{UserID: userID}
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT code_hash, attempts, created_at FROM %s WHERE user_id = $1
	`, r.t.phoneChallenges), userID.String()).Scan(&c.CodeHash, &c.Attempts, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CHALLENGE_NOT_FOUND").With("user_id", userID.String()).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CHALLENGE_GET_FAILED").With("user_id", userID.String()).Wrap(store.Classify(err))
	}
	return &c, nil
}

// Delete removes the user's challenge.
func (r *PhoneChallengeRepository) Delete(ctx context.Context, userID ulid.ULID) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, r.t.phoneChallenges), userID.String())
	if err != nil {
		return oops.Code("CHALLENGE_DELETE_FAILED").With("user_id", userID.String()).Wrap(store.Classify(err))
	}
	return nil
}

// Consume deletes the challenge if its code hash still matches.
func (r *PhoneChallengeRepository) Consume(ctx context.Context, userID ulid.ULID, codeHash string) (bool, error) {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE user_id = $1 AND code_hash = $2
	`, r.t.phoneChallenges), userID.String(), codeHash)
	if err != nil {
		return false, oops.Code("CHALLENGE_CONSUME_FAILED").With("user_id", userID.String()).Wrap(store.Classify(err))
	}
	return result.RowsAffected() == 1, nil
}

// RecordFailure bumps the attempt counter in place.
func (r *PhoneChallengeRepository) RecordFailure(ctx context.Context, userID ulid.ULID) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET attempts = attempts + 1 WHERE user_id = $1 RETURNING attempts
	`, r.t.phoneChallenges), userID.String()).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.Code("CHALLENGE_UPDATE_FAILED").With("user_id", userID.String()).Wrap(store.Classify(err))
	}
	return attempts, nil
}

// DeleteOlderThan removes challenges created before cutoff.
func (r *PhoneChallengeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, r.t.phoneChallenges), cutoff)
	if err != nil {
		return 0, oops.Code("CHALLENGE_PRUNE_FAILED").Wrap(store.Classify(err))
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.PhoneChallengeRepository = (*PhoneChallengeRepository)(nil)
