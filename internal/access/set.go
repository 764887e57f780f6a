// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

type abilityKey struct {
	resource string
	action   string
	policy   string
	scoped   bool
}

func keyOf(resource, action string, policy *string) abilityKey {
	if policy == nil {
		return abilityKey{resource: resource, action: action}
	}
	return abilityKey{resource: resource, action: action, policy: *policy, scoped: true}
}

// AbilitySet is a principal's effective abilities. It is immutable once built
// and safe to memoize and share between goroutines.
type AbilitySet struct {
	keys map[abilityKey]struct{}
}

// NewAbilitySet unions the given ability lists.
func NewAbilitySet(lists ...[]*Ability) AbilitySet {
	keys := make(map[abilityKey]struct{})
	for _, list := range lists {
		for _, a := range list {
			keys[keyOf(a.Resource, a.Action, a.Policy)] = struct{}{}
		}
	}
	return AbilitySet{keys: keys}
}

// Has reports whether the set contains (resource, action, nil) or
// (resource, action, policy).
func (s AbilitySet) Has(resource, action string, policy *string) bool {
	if _, ok := s.keys[keyOf(resource, action, nil)]; ok {
		return true
	}
	if policy == nil {
		return false
	}
	_, ok := s.keys[keyOf(resource, action, policy)]
	return ok
}

// IsSuperadmin reports whether the set holds (global, superadmin, nil).
func (s AbilitySet) IsSuperadmin() bool {
	_, ok := s.keys[keyOf(ResourceGlobal, ActionSuperadmin, nil)]
	return ok
}

// Len returns the number of distinct abilities.
func (s AbilitySet) Len() int {
	return len(s.keys)
}
