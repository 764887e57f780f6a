// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// GrantReader loads the two halves of a principal's effective ability set.
type GrantReader interface {
	// UserAbilities returns abilities granted directly to the user.
	UserAbilities(ctx context.Context, userID ulid.ULID) ([]*Ability, error)

	// RoleAbilities returns abilities of every non-deleted role the user
	// belongs to.
	RoleAbilities(ctx context.Context, userID ulid.ULID) ([]*Ability, error)
}

// AbilityRepository persists abilities and their join relations. Grant and
// revoke methods are single atomic statements and idempotent.
type AbilityRepository interface {
	GrantReader

	// Create stores a new ability. Duplicate slug or triple fails with Conflict.
	Create(ctx context.Context, ability *Ability) error

	// Get returns NotFound when id is unknown.
	Get(ctx context.Context, id ulid.ULID) (*Ability, error)

	// GetBySlug returns NotFound when slug is unknown.
	GetBySlug(ctx context.Context, slug string) (*Ability, error)

	// List returns abilities ordered by slug.
	List(ctx context.Context, limit, offset int) ([]*Ability, error)

	// CountReferences returns how many roles and users reference the ability.
	CountReferences(ctx context.Context, id ulid.ULID) (roles, users int, err error)

	// Delete removes the ability row.
	Delete(ctx context.Context, id ulid.ULID) error

	GrantToUser(ctx context.Context, abilityID, userID ulid.ULID) error
	RevokeFromUser(ctx context.Context, abilityID, userID ulid.ULID) error
	GrantToRole(ctx context.Context, abilityID, roleID ulid.ULID) error
	RevokeFromRole(ctx context.Context, abilityID, roleID ulid.ULID) error
}

// RoleRepository persists roles and role membership.
type RoleRepository interface {
	// Create stores a new role. Duplicate slug fails with Conflict.
	Create(ctx context.Context, role *Role) error

	// Get returns NotFound when id is unknown or soft-deleted.
	Get(ctx context.Context, id ulid.ULID) (*Role, error)

	// GetBySlug returns NotFound when slug is unknown or soft-deleted.
	GetBySlug(ctx context.Context, slug string) (*Role, error)

	// List returns non-deleted roles ordered by slug.
	List(ctx context.Context, limit, offset int) ([]*Role, error)

	// SoftDelete stamps deleted_at; the role stops contributing abilities.
	SoftDelete(ctx context.Context, id ulid.ULID) error

	AddUser(ctx context.Context, roleID, userID ulid.ULID) error
	RemoveUser(ctx context.Context, roleID, userID ulid.ULID) error
}
