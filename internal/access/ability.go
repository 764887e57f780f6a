// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

import (
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/pkg/errutil"
)

// The superadmin ability is (global, superadmin, nil).
const (
	ResourceGlobal   = "global"
	ActionSuperadmin = "superadmin"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Ability is an atomic permission (resource, action, policy). A nil Policy
// applies to every policy scope of the resource/action pair.
type Ability struct {
	ID        ulid.ULID
	Resource  string
	Action    string
	Policy    *string
	Slug      string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAbility validates and builds an Ability. An empty slug is derived from
// the triple.
func NewAbility(resource, action string, policy *string, slug, title string) (*Ability, error) {
	if resource == "" {
		return nil, oops.Code("ABILITY_INVALID").Wrapf(errutil.ErrPolicyViolation, "resource cannot be empty")
	}
	if action == "" {
		return nil, oops.Code("ABILITY_INVALID").Wrapf(errutil.ErrPolicyViolation, "action cannot be empty")
	}
	if policy != nil && *policy == "" {
		return nil, oops.Code("ABILITY_INVALID").Wrapf(errutil.ErrPolicyViolation, "policy must be nil or non-empty")
	}
	if slug == "" {
		slug = DeriveSlug(resource, action, policy)
	}
	if !slugRegex.MatchString(slug) {
		return nil, oops.Code("ABILITY_INVALID").
			With("slug", slug).
			Wrapf(errutil.ErrPolicyViolation, "slug must be lowercase letters, digits, '.', '_' or '-'")
	}
	if title == "" {
		title = slug
	}

	now := time.Now()
	return &Ability{
		ID:        ulid.Make(),
		Resource:  resource,
		Action:    action,
		Policy:    policy,
		Slug:      slug,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DeriveSlug builds "resource.action[.policy]" in lowercase.
func DeriveSlug(resource, action string, policy *string) string {
	parts := []string{resource, action}
	if policy != nil {
		parts = append(parts, *policy)
	}
	return strings.ToLower(strings.Join(parts, "."))
}

// Role is a named group of abilities.
type Role struct {
	ID          ulid.ULID
	Slug        string
	Title       string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// NewRole validates and builds a Role.
func NewRole(slug, title string, description *string) (*Role, error) {
	if !slugRegex.MatchString(slug) {
		return nil, oops.Code("ROLE_INVALID").
			With("slug", slug).
			Wrapf(errutil.ErrPolicyViolation, "slug must be lowercase letters, digits, '.', '_' or '-'")
	}
	if title == "" {
		title = slug
	}

	now := time.Now()
	return &Role{
		ID:          ulid.Make(),
		Slug:        slug,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Principal is anything that can be authorized.
type Principal interface {
	PrincipalID() ulid.ULID
}

// PrincipalID adapts a bare ULID to Principal.
type PrincipalID ulid.ULID

// PrincipalID implements Principal.
func (p PrincipalID) PrincipalID() ulid.ULID { return ulid.ULID(p) }

// Ptr returns a pointer to s, for optional policy arguments.
func Ptr(s string) *string { return &s }
