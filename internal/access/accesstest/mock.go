// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

// Package accesstest provides in-memory repositories for access tests.
package accesstest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/access"
	"github.com/fortauth/fort/pkg/errutil"
)

type pair struct {
	a, b ulid.ULID
}

// Store is an in-memory backing store shared by AbilityRepo and RoleRepo.
// Set Err to make every call fail with it.
type Store struct {
	mu          sync.Mutex
	abilities   map[ulid.ULID]*access.Ability
	roles       map[ulid.ULID]*access.Role
	abilityUser map[pair]struct{} // (ability, user)
	abilityRole map[pair]struct{} // (ability, role)
	roleUser    map[pair]struct{} // (role, user)

	Err error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		abilities:   make(map[ulid.ULID]*access.Ability),
		roles:       make(map[ulid.ULID]*access.Role),
		abilityUser: make(map[pair]struct{}),
		abilityRole: make(map[pair]struct{}),
		roleUser:    make(map[pair]struct{}),
	}
}

// Abilities returns the ability repository view.
func (s *Store) Abilities() *AbilityRepo { return &AbilityRepo{s: s} }

// Roles returns the role repository view.
func (s *Store) Roles() *RoleRepo { return &RoleRepo{s: s} }

// AbilityRepo implements access.AbilityRepository over a Store.
type AbilityRepo struct{ s *Store }

var _ access.AbilityRepository = (*AbilityRepo)(nil)

func notFound(code string) error {
	return oops.Code(code).Wrap(errutil.ErrNotFound)
}

func conflict(code string) error {
	return oops.Code(code).Wrap(errutil.ErrConflict)
}

// Create stores ability, enforcing slug and triple uniqueness.
func (r *AbilityRepo) Create(_ context.Context, ability *access.Ability) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for _, existing := range r.s.abilities {
		if existing.Slug == ability.Slug {
			return conflict("ABILITY_DUPLICATE_SLUG")
		}
		if existing.Resource == ability.Resource && existing.Action == ability.Action &&
			ptrEqual(existing.Policy, ability.Policy) {
			return conflict("ABILITY_DUPLICATE")
		}
	}
	cp := *ability
	r.s.abilities[ability.ID] = &cp
	return nil
}

// Get returns the ability with id.
func (r *AbilityRepo) Get(_ context.Context, id ulid.ULID) (*access.Ability, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	a, ok := r.s.abilities[id]
	if !ok {
		return nil, notFound("ABILITY_NOT_FOUND")
	}
	cp := *a
	return &cp, nil
}

// GetBySlug returns the ability with slug.
func (r *AbilityRepo) GetBySlug(_ context.Context, slug string) (*access.Ability, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, a := range r.s.abilities {
		if a.Slug == slug {
			cp := *a
			return &cp, nil
		}
	}
	return nil, notFound("ABILITY_NOT_FOUND")
}

// List returns abilities ordered by slug.
func (r *AbilityRepo) List(_ context.Context, limit, offset int) ([]*access.Ability, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	all := make([]*access.Ability, 0, len(r.s.abilities))
	for _, a := range r.s.abilities {
		cp := *a
		all = append(all, &cp)
	}
	slices.SortFunc(all, func(x, y *access.Ability) int { return strings.Compare(x.Slug, y.Slug) })
	return page(all, limit, offset), nil
}

// CountReferences counts roles and users holding id.
func (r *AbilityRepo) CountReferences(_ context.Context, id ulid.ULID) (roles, users int, err error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return 0, 0, r.s.Err
	}
	for p := range r.s.abilityRole {
		if p.a == id {
			roles++
		}
	}
	for p := range r.s.abilityUser {
		if p.a == id {
			users++
		}
	}
	return roles, users, nil
}

// Delete removes the ability and cascades its join rows.
func (r *AbilityRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	if _, ok := r.s.abilities[id]; !ok {
		return notFound("ABILITY_NOT_FOUND")
	}
	delete(r.s.abilities, id)
	for p := range r.s.abilityRole {
		if p.a == id {
			delete(r.s.abilityRole, p)
		}
	}
	for p := range r.s.abilityUser {
		if p.a == id {
			delete(r.s.abilityUser, p)
		}
	}
	return nil
}

// GrantToUser records (ability, user).
func (r *AbilityRepo) GrantToUser(_ context.Context, abilityID, userID ulid.ULID) error {
	return r.s.link(r.s.abilityUser, abilityID, userID, true)
}

// RevokeFromUser deletes (ability, user).
func (r *AbilityRepo) RevokeFromUser(_ context.Context, abilityID, userID ulid.ULID) error {
	return r.s.unlink(r.s.abilityUser, abilityID, userID)
}

// GrantToRole records (ability, role).
func (r *AbilityRepo) GrantToRole(_ context.Context, abilityID, roleID ulid.ULID) error {
	r.s.mu.Lock()
	_, ok := r.s.roles[roleID]
	r.s.mu.Unlock()
	if !ok {
		return notFound("ROLE_NOT_FOUND")
	}
	return r.s.link(r.s.abilityRole, abilityID, roleID, true)
}

// RevokeFromRole deletes (ability, role).
func (r *AbilityRepo) RevokeFromRole(_ context.Context, abilityID, roleID ulid.ULID) error {
	return r.s.unlink(r.s.abilityRole, abilityID, roleID)
}

// UserAbilities returns the user's direct abilities.
func (r *AbilityRepo) UserAbilities(_ context.Context, userID ulid.ULID) ([]*access.Ability, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	var out []*access.Ability
	for p := range r.s.abilityUser {
		if p.b == userID {
			out = append(out, r.s.abilities[p.a])
		}
	}
	return out, nil
}

// RoleAbilities returns abilities of the user's live roles.
func (r *AbilityRepo) RoleAbilities(_ context.Context, userID ulid.ULID) ([]*access.Ability, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	var out []*access.Ability
	for membership := range r.s.roleUser {
		if membership.b != userID {
			continue
		}
		role := r.s.roles[membership.a]
		if role == nil || role.DeletedAt != nil {
			continue
		}
		for grant := range r.s.abilityRole {
			if grant.b == role.ID {
				out = append(out, r.s.abilities[grant.a])
			}
		}
	}
	return out, nil
}

// RoleRepo implements access.RoleRepository over a Store.
type RoleRepo struct{ s *Store }

var _ access.RoleRepository = (*RoleRepo)(nil)

// Create stores role, enforcing slug uniqueness.
func (r *RoleRepo) Create(_ context.Context, role *access.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for _, existing := range r.s.roles {
		if existing.Slug == role.Slug {
			return conflict("ROLE_DUPLICATE_SLUG")
		}
	}
	cp := *role
	r.s.roles[role.ID] = &cp
	return nil
}

// Get returns a live role.
func (r *RoleRepo) Get(_ context.Context, id ulid.ULID) (*access.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	role, ok := r.s.roles[id]
	if !ok || role.DeletedAt != nil {
		return nil, notFound("ROLE_NOT_FOUND")
	}
	cp := *role
	return &cp, nil
}

// GetBySlug returns a live role by slug.
func (r *RoleRepo) GetBySlug(_ context.Context, slug string) (*access.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, role := range r.s.roles {
		if role.Slug == slug && role.DeletedAt == nil {
			cp := *role
			return &cp, nil
		}
	}
	return nil, notFound("ROLE_NOT_FOUND")
}

// List returns live roles ordered by slug.
func (r *RoleRepo) List(_ context.Context, limit, offset int) ([]*access.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	all := make([]*access.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		if role.DeletedAt == nil {
			cp := *role
			all = append(all, &cp)
		}
	}
	slices.SortFunc(all, func(x, y *access.Role) int { return strings.Compare(x.Slug, y.Slug) })
	return page(all, limit, offset), nil
}

// SoftDelete stamps the role as deleted.
func (r *RoleRepo) SoftDelete(_ context.Context, id ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	role, ok := r.s.roles[id]
	if !ok || role.DeletedAt != nil {
		return notFound("ROLE_NOT_FOUND")
	}
	now := time.Now()
	role.DeletedAt = &now
	return nil
}

// AddUser records (role, user).
func (r *RoleRepo) AddUser(_ context.Context, roleID, userID ulid.ULID) error {
	r.s.mu.Lock()
	_, ok := r.s.roles[roleID]
	r.s.mu.Unlock()
	if !ok {
		return notFound("ROLE_NOT_FOUND")
	}
	return r.s.link(r.s.roleUser, roleID, userID, false)
}

// RemoveUser deletes (role, user).
func (r *RoleRepo) RemoveUser(_ context.Context, roleID, userID ulid.ULID) error {
	return r.s.unlink(r.s.roleUser, roleID, userID)
}

func (s *Store) link(rel map[pair]struct{}, a, b ulid.ULID, checkAbility bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if checkAbility {
		if _, ok := s.abilities[a]; !ok {
			return notFound("ABILITY_NOT_FOUND")
		}
	}
	rel[pair{a, b}] = struct{}{}
	return nil
}

func (s *Store) unlink(rel map[pair]struct{}, a, b ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(rel, pair{a, b})
	return nil
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
