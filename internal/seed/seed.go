// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

// Package seed loads abilities, roles and grants from a YAML document and
// applies them idempotently.
package seed

import (
	"context"
	"errors"
	"os"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/fortauth/fort/internal/access"
	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/pkg/errutil"
)

// File is the seed document.
type File struct {
	Abilities []Ability `json:"abilities,omitempty" yaml:"abilities"`
	Roles     []Role    `json:"roles,omitempty" yaml:"roles"`
	Users     []User    `json:"users,omitempty" yaml:"users"`
}

// Ability describes one ability to create.
type Ability struct {
	Resource string  `json:"resource" yaml:"resource" jsonschema:"minLength=1"`
	Action   string  `json:"action" yaml:"action" jsonschema:"minLength=1"`
	Policy   *string `json:"policy,omitempty" yaml:"policy" jsonschema:"minLength=1"`
	Slug     string  `json:"slug,omitempty" yaml:"slug" jsonschema:"pattern=^[a-z0-9][a-z0-9._-]*$"`
	Title    string  `json:"title,omitempty" yaml:"title"`
}

// Role describes a role and the abilities attached to it.
type Role struct {
	Slug        string   `json:"slug" yaml:"slug" jsonschema:"pattern=^[a-z0-9][a-z0-9._-]*$"`
	Title       string   `json:"title,omitempty" yaml:"title"`
	Description *string  `json:"description,omitempty" yaml:"description"`
	Abilities   []string `json:"abilities,omitempty" yaml:"abilities"`
}

// User lists grants for an existing account.
type User struct {
	// User is a ULID, email or username.
	User      string   `json:"user" yaml:"user" jsonschema:"minLength=1"`
	Abilities []string `json:"abilities,omitempty" yaml:"abilities"`
	Roles     []string `json:"roles,omitempty" yaml:"roles"`
}

// Report counts what Apply changed.
type Report struct {
	AbilitiesCreated int
	AbilitiesExisted int
	RolesCreated     int
	RolesExisted     int
	Grants           int
}

// ReadFile reads and parses the seed file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code("SEED_READ_FAILED").With("path", path).Wrap(err)
	}
	return Parse(data)
}

// Parse validates data against the seed schema and decodes it.
func Parse(data []byte) (*File, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.Code("SEED_PARSE_FAILED").Wrap(err)
	}
	return &f, nil
}

// Apply creates what is missing and leaves existing rows untouched. Grants
// are idempotent, so a second run reports the same grant count.
func Apply(ctx context.Context, svc *access.Service, users auth.UserRepository, f *File) (Report, error) {
	var report Report

	for _, sa := range f.Abilities {
		_, created, err := ensureAbility(ctx, svc, sa)
		if err != nil {
			return report, err
		}
		if created {
			report.AbilitiesCreated++
		} else {
			report.AbilitiesExisted++
		}
	}

	for _, sr := range f.Roles {
		role, created, err := ensureRole(ctx, svc, sr)
		if err != nil {
			return report, err
		}
		if created {
			report.RolesCreated++
		} else {
			report.RolesExisted++
		}
		for _, ref := range sr.Abilities {
			ability, err := svc.FindAbility(ctx, ref)
			if err != nil {
				return report, oops.Code("SEED_FAILED").With("role", sr.Slug).With("ability", ref).Wrap(err)
			}
			if err := svc.GrantRoleAbility(ctx, role.ID, ability.ID); err != nil {
				return report, err
			}
			report.Grants++
		}
	}

	for _, su := range f.Users {
		user, err := auth.LookupUser(ctx, users, su.User)
		if err != nil {
			return report, oops.Code("SEED_FAILED").With("user", su.User).Wrap(err)
		}
		for _, ref := range su.Abilities {
			ability, err := svc.FindAbility(ctx, ref)
			if err != nil {
				return report, oops.Code("SEED_FAILED").With("user", su.User).With("ability", ref).Wrap(err)
			}
			if err := svc.GrantUserAbility(ctx, user.ID, ability.ID); err != nil {
				return report, err
			}
			report.Grants++
		}
		for _, ref := range su.Roles {
			role, err := svc.FindRole(ctx, ref)
			if err != nil {
				return report, oops.Code("SEED_FAILED").With("user", su.User).With("role", ref).Wrap(err)
			}
			if err := svc.AssignRole(ctx, user.ID, role.ID); err != nil {
				return report, err
			}
			report.Grants++
		}
	}

	return report, nil
}

func ensureAbility(ctx context.Context, svc *access.Service, sa Ability) (*access.Ability, bool, error) {
	ability, err := svc.CreateAbility(ctx, sa.Resource, sa.Action, sa.Policy, sa.Slug, sa.Title)
	if err == nil {
		return ability, true, nil
	}
	if !errors.Is(err, errutil.ErrConflict) {
		return nil, false, err
	}
	slug := sa.Slug
	if slug == "" {
		slug = access.DeriveSlug(sa.Resource, sa.Action, sa.Policy)
	}
	existing, findErr := svc.FindAbility(ctx, slug)
	if findErr != nil {
		// Same triple under a different slug.
		return nil, false, oops.Code("SEED_CONFLICT").With("slug", slug).Wrap(err)
	}
	return existing, false, nil
}

func ensureRole(ctx context.Context, svc *access.Service, sr Role) (*access.Role, bool, error) {
	role, err := svc.CreateRole(ctx, sr.Slug, sr.Title, sr.Description)
	if err == nil {
		return role, true, nil
	}
	if !errors.Is(err, errutil.ErrConflict) {
		return nil, false, err
	}
	existing, findErr := svc.FindRole(ctx, sr.Slug)
	if findErr != nil {
		return nil, false, oops.Code("SEED_CONFLICT").With("slug", sr.Slug).Wrap(err)
	}
	return existing, false, nil
}
