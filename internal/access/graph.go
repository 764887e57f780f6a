// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Graph resolves a principal's abilities from direct grants and role
// membership. It holds no state; every call reads the store.
type Graph struct {
	grants GrantReader
}

// NewGraph creates a Graph over grants.
func NewGraph(grants GrantReader) (*Graph, error) {
	if grants == nil {
		return nil, oops.Code("ACCESS_INVALID_CONFIG").Errorf("grant reader is required")
	}
	return &Graph{grants: grants}, nil
}

// EffectiveSet returns the union of the principal's direct and role abilities.
func (g *Graph) EffectiveSet(ctx context.Context, principalID ulid.ULID) (AbilitySet, error) {
	direct, err := g.grants.UserAbilities(ctx, principalID)
	if err != nil {
		return AbilitySet{}, oops.Code("ACCESS_RESOLVE_FAILED").
			With("operation", "load direct abilities").
			With("principal_id", principalID.String()).
			Wrap(err)
	}

	inherited, err := g.grants.RoleAbilities(ctx, principalID)
	if err != nil {
		return AbilitySet{}, oops.Code("ACCESS_RESOLVE_FAILED").
			With("operation", "load role abilities").
			With("principal_id", principalID.String()).
			Wrap(err)
	}

	return NewAbilitySet(direct, inherited), nil
}

// HasAbility reports whether the principal's effective set grants
// (resource, action, policy).
func (g *Graph) HasAbility(ctx context.Context, principalID ulid.ULID, resource, action string, policy *string) (bool, error) {
	set, err := g.EffectiveSet(ctx, principalID)
	if err != nil {
		return false, err
	}
	return set.Has(resource, action, policy), nil
}
