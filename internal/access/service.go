// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/logging"
	"github.com/fortauth/fort/pkg/errutil"
)

// ProtectionChecker reports whether an account is protected from mutation.
// *Authorizer implements it.
type ProtectionChecker interface {
	IsProtected(id ulid.ULID) bool
}

// ServiceConfig wires the administration service.
type ServiceConfig struct {
	Abilities AbilityRepository
	Roles     RoleRepository
	Protected ProtectionChecker
	Logger    *slog.Logger
}

// Service administers abilities, roles and grants.
type Service struct {
	abilities AbilityRepository
	roles     RoleRepository
	protected ProtectionChecker
	logger    *slog.Logger
}

// NewService creates an administration service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Abilities == nil {
		return nil, oops.Code("ACCESS_INVALID_CONFIG").Errorf("ability repository is required")
	}
	if cfg.Roles == nil {
		return nil, oops.Code("ACCESS_INVALID_CONFIG").Errorf("role repository is required")
	}
	return &Service{
		abilities: cfg.Abilities,
		roles:     cfg.Roles,
		protected: cfg.Protected,
		logger:    logging.OrDiscard(cfg.Logger),
	}, nil
}

// CreateAbility validates and stores a new ability.
func (s *Service) CreateAbility(ctx context.Context, resource, action string, policy *string, slug, title string) (*Ability, error) {
	ability, err := NewAbility(resource, action, policy, slug, title)
	if err != nil {
		return nil, err
	}
	if err := s.abilities.Create(ctx, ability); err != nil {
		return nil, oops.Code("ABILITY_CREATE_FAILED").With("slug", ability.Slug).Wrap(err)
	}
	abilityMutations.WithLabelValues("create_ability").Inc()
	s.logger.InfoContext(ctx, "ability created", "ability_id", ability.ID.String(), "slug", ability.Slug)
	return ability, nil
}

// CreateRole validates and stores a new role.
func (s *Service) CreateRole(ctx context.Context, slug, title string, description *string) (*Role, error) {
	role, err := NewRole(slug, title, description)
	if err != nil {
		return nil, err
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, oops.Code("ROLE_CREATE_FAILED").With("slug", role.Slug).Wrap(err)
	}
	abilityMutations.WithLabelValues("create_role").Inc()
	s.logger.InfoContext(ctx, "role created", "role_id", role.ID.String(), "slug", role.Slug)
	return role, nil
}

// DeleteAbility removes an ability nobody references. An ability still held
// by any role or user is refused with Conflict.
func (s *Service) DeleteAbility(ctx context.Context, id ulid.ULID) error {
	roles, users, err := s.abilities.CountReferences(ctx, id)
	if err != nil {
		return oops.Code("ABILITY_DELETE_FAILED").With("ability_id", id.String()).Wrap(err)
	}
	if roles > 0 || users > 0 {
		return oops.Code("ABILITY_IN_USE").
			With("ability_id", id.String()).
			With("roles", roles).
			With("users", users).
			Wrapf(errutil.ErrConflict, "ability is still granted")
	}
	if err := s.abilities.Delete(ctx, id); err != nil {
		return oops.Code("ABILITY_DELETE_FAILED").With("ability_id", id.String()).Wrap(err)
	}
	abilityMutations.WithLabelValues("delete_ability").Inc()
	s.logger.InfoContext(ctx, "ability deleted", "ability_id", id.String())
	return nil
}

// DeleteRole soft-deletes a role. Its members immediately lose its abilities.
func (s *Service) DeleteRole(ctx context.Context, id ulid.ULID) error {
	if err := s.roles.SoftDelete(ctx, id); err != nil {
		return oops.Code("ROLE_DELETE_FAILED").With("role_id", id.String()).Wrap(err)
	}
	abilityMutations.WithLabelValues("delete_role").Inc()
	s.logger.InfoContext(ctx, "role deleted", "role_id", id.String())
	return nil
}

// GrantUserAbility grants an ability directly to a user. Idempotent.
func (s *Service) GrantUserAbility(ctx context.Context, userID, abilityID ulid.ULID) error {
	if err := s.guard(userID, "grant_user_ability"); err != nil {
		return err
	}
	if err := s.abilities.GrantToUser(ctx, abilityID, userID); err != nil {
		return oops.Code("GRANT_FAILED").
			With("user_id", userID.String()).
			With("ability_id", abilityID.String()).
			Wrap(err)
	}
	abilityMutations.WithLabelValues("grant_user_ability").Inc()
	return nil
}

// RevokeUserAbility removes a direct grant. Revoking an absent grant is a no-op.
func (s *Service) RevokeUserAbility(ctx context.Context, userID, abilityID ulid.ULID) error {
	if err := s.guard(userID, "revoke_user_ability"); err != nil {
		return err
	}
	if err := s.abilities.RevokeFromUser(ctx, abilityID, userID); err != nil {
		return oops.Code("REVOKE_FAILED").
			With("user_id", userID.String()).
			With("ability_id", abilityID.String()).
			Wrap(err)
	}
	abilityMutations.WithLabelValues("revoke_user_ability").Inc()
	return nil
}

// GrantRoleAbility adds an ability to a role. Idempotent.
func (s *Service) GrantRoleAbility(ctx context.Context, roleID, abilityID ulid.ULID) error {
	if err := s.abilities.GrantToRole(ctx, abilityID, roleID); err != nil {
		return oops.Code("GRANT_FAILED").
			With("role_id", roleID.String()).
			With("ability_id", abilityID.String()).
			Wrap(err)
	}
	abilityMutations.WithLabelValues("grant_role_ability").Inc()
	return nil
}

// RevokeRoleAbility removes an ability from a role.
func (s *Service) RevokeRoleAbility(ctx context.Context, roleID, abilityID ulid.ULID) error {
	if err := s.abilities.RevokeFromRole(ctx, abilityID, roleID); err != nil {
		return oops.Code("REVOKE_FAILED").
			With("role_id", roleID.String()).
			With("ability_id", abilityID.String()).
			Wrap(err)
	}
	abilityMutations.WithLabelValues("revoke_role_ability").Inc()
	return nil
}

// AssignRole adds a user to a role. Idempotent.
func (s *Service) AssignRole(ctx context.Context, userID, roleID ulid.ULID) error {
	if err := s.guard(userID, "assign_role"); err != nil {
		return err
	}
	if err := s.roles.AddUser(ctx, roleID, userID); err != nil {
		return oops.Code("ASSIGN_ROLE_FAILED").
			With("user_id", userID.String()).
			With("role_id", roleID.String()).
			Wrap(err)
	}
	abilityMutations.WithLabelValues("assign_role").Inc()
	return nil
}

// RemoveRole removes a user from a role.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID ulid.ULID) error {
	if err := s.guard(userID, "remove_role"); err != nil {
		return err
	}
	if err := s.roles.RemoveUser(ctx, roleID, userID); err != nil {
		return oops.Code("REMOVE_ROLE_FAILED").
			With("user_id", userID.String()).
			With("role_id", roleID.String()).
			Wrap(err)
	}
	abilityMutations.WithLabelValues("remove_role").Inc()
	return nil
}

// FindAbility looks an ability up by ULID or, failing to parse one, by slug.
func (s *Service) FindAbility(ctx context.Context, idOrSlug string) (*Ability, error) {
	if id, err := ulid.ParseStrict(idOrSlug); err == nil {
		return s.abilities.Get(ctx, id)
	}
	return s.abilities.GetBySlug(ctx, idOrSlug)
}

// FindRole looks a role up by ULID or slug.
func (s *Service) FindRole(ctx context.Context, idOrSlug string) (*Role, error) {
	if id, err := ulid.ParseStrict(idOrSlug); err == nil {
		return s.roles.Get(ctx, id)
	}
	return s.roles.GetBySlug(ctx, idOrSlug)
}

// ListAbilities pages through abilities ordered by slug.
func (s *Service) ListAbilities(ctx context.Context, limit, offset int) ([]*Ability, error) {
	return s.abilities.List(ctx, limit, offset)
}

// ListRoles pages through live roles ordered by slug.
func (s *Service) ListRoles(ctx context.Context, limit, offset int) ([]*Role, error) {
	return s.roles.List(ctx, limit, offset)
}

func (s *Service) guard(userID ulid.ULID, operation string) error {
	if s.protected == nil || !s.protected.IsProtected(userID) {
		return nil
	}
	return oops.Code("ACCOUNT_PROTECTED").
		With("user_id", userID.String()).
		With("operation", operation).
		Wrapf(errutil.ErrPolicyViolation, "account is protected")
}
