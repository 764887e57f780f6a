// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
	"github.com/fortauth/fort/pkg/errutil"
)

const persistenceColumns = "id, user_id, token, agent, ip, attempt, created_at, updated_at"

// PersistenceRepository implements auth.PersistenceRepository using
// PostgreSQL. The token column holds the SHA-256 digest of the cookie.
type PersistenceRepository struct {
	db store.Querier
	t  quoted
}

// NewPersistenceRepository creates a new PersistenceRepository.
func NewPersistenceRepository(db store.Querier, tables config.Tables) *PersistenceRepository {
	return &PersistenceRepository{db: db, t: quoteTables(tables)}
}

// Create stores a new persistence.
func (r *PersistenceRepository) Create(ctx context.Context, p *auth.Persistence) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.t.persistences, persistenceColumns),
		p.ID.String(),
		p.UserID.String(),
		p.TokenHash,
		p.Agent,
		p.IP,
		p.Attempt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		code := "PERSISTENCE_CREATE_FAILED"
		if store.IsUniqueViolation(err, "") {
			code = "PERSISTENCE_DUPLICATE_TOKEN"
		}
		return oops.Code(code).
			With("operation", "insert persistence").
			With("user_id", p.UserID.String()).
			Wrap(store.Classify(err))
	}
	return nil
}

// GetByTokenHash retrieves a persistence by token digest.
func (r *PersistenceRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Persistence, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE token = $1
	`, persistenceColumns, r.t.persistences), tokenHash)

	p, err := scanPersistence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PERSISTENCE_NOT_FOUND").Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PERSISTENCE_GET_FAILED").Wrap(err)
	}
	return p, nil
}

// ListByUser returns the user's persistences, newest first.
func (r *PersistenceRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.Persistence, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE user_id = $1 ORDER BY created_at DESC
	`, persistenceColumns, r.t.persistences), userID.String())
	if err != nil {
		return nil, oops.Code("PERSISTENCE_LIST_FAILED").
			With("operation", "list persistences").
			With("user_id", userID.String()).
			Wrap(store.Classify(err))
	}
	defer rows.Close()

	var list []*auth.Persistence
	for rows.Next() {
		p, err := scanPersistence(rows)
		if err != nil {
			return nil, oops.Code("PERSISTENCE_SCAN_FAILED").With("operation", "scan persistence row").Wrap(err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("PERSISTENCE_ROWS_ERROR").Wrap(store.Classify(err))
	}
	return list, nil
}

// DeleteByTokenHash removes one persistence.
func (r *PersistenceRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE token = $1`, r.t.persistences), tokenHash)
	if err != nil {
		return false, oops.Code("PERSISTENCE_DELETE_FAILED").
			With("operation", "delete persistence").
			Wrap(store.Classify(err))
	}
	return result.RowsAffected() > 0, nil
}

// DeleteByUser removes every persistence for the user.
func (r *PersistenceRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error) {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, r.t.persistences), userID.String())
	if err != nil {
		return 0, oops.Code("PERSISTENCE_DELETE_FAILED").
			With("operation", "delete user persistences").
			With("user_id", userID.String()).
			Wrap(store.Classify(err))
	}
	return result.RowsAffected(), nil
}

// DeleteByUserExcept removes every persistence for the user except keepHash.
func (r *PersistenceRepository) DeleteByUserExcept(ctx context.Context, userID ulid.ULID, keepHash string) (int64, error) {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE user_id = $1 AND token <> $2
	`, r.t.persistences), userID.String(), keepHash)
	if err != nil {
		return 0, oops.Code("PERSISTENCE_DELETE_FAILED").
			With("operation", "delete other persistences").
			With("user_id", userID.String()).
			Wrap(store.Classify(err))
	}
	return result.RowsAffected(), nil
}

func scanPersistence(row pgx.Row) (*auth.Persistence, error) {
	var (
		idStr, userStr string
		p              auth.Persistence
	)
	err := row.Scan(&idStr, &userStr, &p.TokenHash, &p.Agent, &p.IP, &p.Attempt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers add entity context
		}
		return nil, store.Classify(err)
	}
	if p.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("PERSISTENCE_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if p.UserID, err = ulid.Parse(userStr); err != nil {
		return nil, oops.Code("PERSISTENCE_INVALID_ID").With("user_id", userStr).Wrap(err)
	}
	return &p, nil
}

// Compile-time interface check.
var _ auth.PersistenceRepository = (*PersistenceRepository)(nil)
