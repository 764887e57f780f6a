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

	"github.com/fortauth/fort/internal/access"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
	"github.com/fortauth/fort/pkg/errutil"
)

// quoted holds sanitized table identifiers.
type quoted struct {
	abilities   string
	roles       string
	abilityUser string
	abilityRole string
	roleUser    string
}

func quoteTables(t config.Tables) quoted {
	return quoted{
		abilities:   store.Ident(t.Abilities),
		roles:       store.Ident(t.Roles),
		abilityUser: store.Ident(t.AbilityUser),
		abilityRole: store.Ident(t.AbilityRole),
		roleUser:    store.Ident(t.RoleUser),
	}
}

const abilityColumns = "a.id, a.resource, a.action, a.policy, a.slug, a.title, a.created_at, a.updated_at"

// AbilityRepository implements access.AbilityRepository using PostgreSQL.
type AbilityRepository struct {
	db store.Querier
	t  quoted
}

// NewAbilityRepository creates a new AbilityRepository.
func NewAbilityRepository(db store.Querier, tables config.Tables) *AbilityRepository {
	return &AbilityRepository{db: db, t: quoteTables(tables)}
}

// Create stores a new ability.
func (r *AbilityRepository) Create(ctx context.Context, ability *access.Ability) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, resource, action, policy, slug, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.t.abilities),
		ability.ID.String(),
		ability.Resource,
		ability.Action,
		ability.Policy,
		ability.Slug,
		ability.Title,
		ability.CreatedAt,
		ability.UpdatedAt,
	)
	if err != nil {
		code := "ABILITY_CREATE_FAILED"
		if store.IsUniqueViolation(err, "") {
			code = "ABILITY_DUPLICATE"
		}
		return oops.Code(code).
			With("operation", "insert ability").
			With("slug", ability.Slug).
			Wrap(store.Classify(err))
	}
	return nil
}

// Get retrieves an ability by id.
func (r *AbilityRepository) Get(ctx context.Context, id ulid.ULID) (*access.Ability, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s a WHERE a.id = $1
	`, abilityColumns, r.t.abilities), id.String())

	ability, err := scanAbility(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ABILITY_NOT_FOUND").With("id", id.String()).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ABILITY_GET_FAILED").With("id", id.String()).Wrap(err)
	}
	return ability, nil
}

// GetBySlug retrieves an ability by slug.
func (r *AbilityRepository) GetBySlug(ctx context.Context, slug string) (*access.Ability, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s a WHERE a.slug = $1
	`, abilityColumns, r.t.abilities), slug)

	ability, err := scanAbility(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ABILITY_NOT_FOUND").With("slug", slug).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ABILITY_GET_FAILED").With("slug", slug).Wrap(err)
	}
	return ability, nil
}

// List returns abilities ordered by slug.
func (r *AbilityRepository) List(ctx context.Context, limit, offset int) ([]*access.Ability, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s a ORDER BY a.slug LIMIT $1 OFFSET $2
	`, abilityColumns, r.t.abilities), limit, offset)
	if err != nil {
		return nil, oops.Code("ABILITY_LIST_FAILED").With("operation", "list abilities").Wrap(store.Classify(err))
	}
	return collectAbilities(rows, "list abilities")
}

// UserAbilities returns abilities granted directly to the user.
func (r *AbilityRepository) UserAbilities(ctx context.Context, userID ulid.ULID) ([]*access.Ability, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s a
		JOIN %s au ON au.ability_id = a.id
		WHERE au.user_id = $1
	`, abilityColumns, r.t.abilities, r.t.abilityUser), userID.String())
	if err != nil {
		return nil, oops.Code("ABILITY_QUERY_FAILED").
			With("operation", "load user abilities").
			With("user_id", userID.String()).
			Wrap(store.Classify(err))
	}
	return collectAbilities(rows, "load user abilities")
}

// RoleAbilities returns abilities of every live role the user belongs to.
func (r *AbilityRepository) RoleAbilities(ctx context.Context, userID ulid.ULID) ([]*access.Ability, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT %s FROM %s a
		JOIN %s ar ON ar.ability_id = a.id
		JOIN %s r ON r.id = ar.role_id AND r.deleted_at IS NULL
		JOIN %s ru ON ru.role_id = r.id
		WHERE ru.user_id = $1
	`, abilityColumns, r.t.abilities, r.t.abilityRole, r.t.roles, r.t.roleUser), userID.String())
	if err != nil {
		return nil, oops.Code("ABILITY_QUERY_FAILED").
			With("operation", "load role abilities").
			With("user_id", userID.String()).
			Wrap(store.Classify(err))
	}
	return collectAbilities(rows, "load role abilities")
}

// CountReferences counts the roles and users holding the ability.
func (r *AbilityRepository) CountReferences(ctx context.Context, id ulid.ULID) (roles, users int, err error) {
	err = r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM %s WHERE ability_id = $1),
			(SELECT COUNT(*) FROM %s WHERE ability_id = $1)
	`, r.t.abilityRole, r.t.abilityUser), id.String()).Scan(&roles, &users)
	if err != nil {
		return 0, 0, oops.Code("ABILITY_COUNT_FAILED").
			With("operation", "count ability references").
			With("id", id.String()).
			Wrap(store.Classify(err))
	}
	return roles, users, nil
}

// Delete removes an ability row.
func (r *AbilityRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.t.abilities), id.String())
	if err != nil {
		return oops.Code("ABILITY_DELETE_FAILED").
			With("operation", "delete ability").
			With("id", id.String()).
			Wrap(store.Classify(err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ABILITY_NOT_FOUND").With("id", id.String()).Wrap(errutil.ErrNotFound)
	}
	return nil
}

// GrantToUser links an ability to a user; an existing link is left alone.
func (r *AbilityRepository) GrantToUser(ctx context.Context, abilityID, userID ulid.ULID) error {
	return r.link(ctx, r.t.abilityUser, "user_id", abilityID, userID)
}

// RevokeFromUser unlinks an ability from a user.
func (r *AbilityRepository) RevokeFromUser(ctx context.Context, abilityID, userID ulid.ULID) error {
	return r.unlink(ctx, r.t.abilityUser, "user_id", abilityID, userID)
}

// GrantToRole links an ability to a role.
func (r *AbilityRepository) GrantToRole(ctx context.Context, abilityID, roleID ulid.ULID) error {
	return r.link(ctx, r.t.abilityRole, "role_id", abilityID, roleID)
}

// RevokeFromRole unlinks an ability from a role.
func (r *AbilityRepository) RevokeFromRole(ctx context.Context, abilityID, roleID ulid.ULID) error {
	return r.unlink(ctx, r.t.abilityRole, "role_id", abilityID, roleID)
}

func (r *AbilityRepository) link(ctx context.Context, table, column string, abilityID, otherID ulid.ULID) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (ability_id, %s) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, table, column), abilityID.String(), otherID.String())
	if err != nil {
		return oops.Code("ABILITY_GRANT_FAILED").
			With("operation", "grant ability").
			With("ability_id", abilityID.String()).
			With(column, otherID.String()).
			Wrap(store.Classify(err))
	}
	return nil
}

func (r *AbilityRepository) unlink(ctx context.Context, table, column string, abilityID, otherID ulid.ULID) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE ability_id = $1 AND %s = $2
	`, table, column), abilityID.String(), otherID.String())
	if err != nil {
		return oops.Code("ABILITY_REVOKE_FAILED").
			With("operation", "revoke ability").
			With("ability_id", abilityID.String()).
			With(column, otherID.String()).
			Wrap(store.Classify(err))
	}
	return nil
}

func collectAbilities(rows pgx.Rows, operation string) ([]*access.Ability, error) {
	defer rows.Close()

	var abilities []*access.Ability
	for rows.Next() {
		ability, err := scanAbility(rows)
		if err != nil {
			return nil, oops.Code("ABILITY_SCAN_FAILED").With("operation", operation).Wrap(err)
		}
		abilities = append(abilities, ability)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ABILITY_ROWS_ERROR").With("operation", operation).Wrap(store.Classify(err))
	}
	return abilities, nil
}

// scanAbility scans one ability. pgx.ErrNoRows propagates unchanged.
func scanAbility(row pgx.Row) (*access.Ability, error) {
	var (
		idStr     string
		a         access.Ability
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&idStr, &a.Resource, &a.Action, &a.Policy, &a.Slug, &a.Title, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers add entity context
		}
		return nil, store.Classify(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ABILITY_INVALID_ID").With("id", idStr).Wrap(err)
	}
	a.ID = id
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	return &a, nil
}

// Compile-time interface check.
var _ access.AbilityRepository = (*AbilityRepository)(nil)
