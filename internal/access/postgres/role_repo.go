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

	"github.com/fortauth/fort/internal/access"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
	"github.com/fortauth/fort/pkg/errutil"
)

const roleColumns = "id, slug, title, description, created_at, updated_at, deleted_at"

// RoleRepository implements access.RoleRepository using PostgreSQL.
type RoleRepository struct {
	db store.Querier
	t  quoted
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(db store.Querier, tables config.Tables) *RoleRepository {
	return &RoleRepository{db: db, t: quoteTables(tables)}
}

// Create stores a new role.
func (r *RoleRepository) Create(ctx context.Context, role *access.Role) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, slug, title, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.t.roles),
		role.ID.String(),
		role.Slug,
		role.Title,
		role.Description,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		code := "ROLE_CREATE_FAILED"
		if store.IsUniqueViolation(err, "") {
			code = "ROLE_DUPLICATE_SLUG"
		}
		return oops.Code(code).
			With("operation", "insert role").
			With("slug", role.Slug).
			Wrap(store.Classify(err))
	}
	return nil
}

// Get retrieves a live role by id.
func (r *RoleRepository) Get(ctx context.Context, id ulid.ULID) (*access.Role, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = $1 AND deleted_at IS NULL
	`, roleColumns, r.t.roles), id.String())

	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ROLE_NOT_FOUND").With("id", id.String()).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ROLE_GET_FAILED").With("id", id.String()).Wrap(err)
	}
	return role, nil
}

// GetBySlug retrieves a live role by slug.
func (r *RoleRepository) GetBySlug(ctx context.Context, slug string) (*access.Role, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE slug = $1 AND deleted_at IS NULL
	`, roleColumns, r.t.roles), slug)

	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ROLE_NOT_FOUND").With("slug", slug).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ROLE_GET_FAILED").With("slug", slug).Wrap(err)
	}
	return role, nil
}

// List returns live roles ordered by slug.
func (r *RoleRepository) List(ctx context.Context, limit, offset int) ([]*access.Role, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE deleted_at IS NULL ORDER BY slug LIMIT $1 OFFSET $2
	`, roleColumns, r.t.roles), limit, offset)
	if err != nil {
		return nil, oops.Code("ROLE_LIST_FAILED").With("operation", "list roles").Wrap(store.Classify(err))
	}
	defer rows.Close()

	var roles []*access.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, oops.Code("ROLE_SCAN_FAILED").With("operation", "scan role row").Wrap(err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ROLE_ROWS_ERROR").With("operation", "iterate role rows").Wrap(store.Classify(err))
	}
	return roles, nil
}

// SoftDelete marks a live role deleted.
func (r *RoleRepository) SoftDelete(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, r.t.roles), id.String())
	if err != nil {
		return oops.Code("ROLE_DELETE_FAILED").
			With("operation", "soft delete role").
			With("id", id.String()).
			Wrap(store.Classify(err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ROLE_NOT_FOUND").With("id", id.String()).Wrap(errutil.ErrNotFound)
	}
	return nil
}

// AddUser adds a user to a role; an existing membership is left alone.
func (r *RoleRepository) AddUser(ctx context.Context, roleID, userID ulid.ULID) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (role_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, r.t.roleUser), roleID.String(), userID.String())
	if err != nil {
		return oops.Code("ROLE_ASSIGN_FAILED").
			With("operation", "add role member").
			With("role_id", roleID.String()).
			With("user_id", userID.String()).
			Wrap(store.Classify(err))
	}
	return nil
}

// RemoveUser removes a user from a role.
func (r *RoleRepository) RemoveUser(ctx context.Context, roleID, userID ulid.ULID) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE role_id = $1 AND user_id = $2
	`, r.t.roleUser), roleID.String(), userID.String())
	if err != nil {
		return oops.Code("ROLE_REMOVE_FAILED").
			With("operation", "remove role member").
			With("role_id", roleID.String()).
			With("user_id", userID.String()).
			Wrap(store.Classify(err))
	}
	return nil
}

func scanRole(row pgx.Row) (*access.Role, error) {
	var (
		idStr string
		role  access.Role
	)
	err := row.Scan(&idStr, &role.Slug, &role.Title, &role.Description, &role.CreatedAt, &role.UpdatedAt, &role.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers add entity context
		}
		return nil, store.Classify(err)
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ROLE_INVALID_ID").With("id", idStr).Wrap(err)
	}
	role.ID = id
	return &role, nil
}

// Compile-time interface check.
var _ access.RoleRepository = (*RoleRepository)(nil)
