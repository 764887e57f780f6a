// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortauth/fort/pkg/errutil"
)

func TestNewAbility(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		action   string
		policy   *string
		slug     string
		wantSlug string
		wantErr  bool
	}{
		{name: "derived slug", resource: "posts", action: "edit", wantSlug: "posts.edit"},
		{name: "derived slug with policy", resource: "posts", action: "edit", policy: Ptr("own"), wantSlug: "posts.edit.own"},
		{name: "explicit slug", resource: "posts", action: "edit", slug: "edit-posts", wantSlug: "edit-posts"},
		{name: "empty resource", action: "edit", wantErr: true},
		{name: "empty action", resource: "posts", wantErr: true},
		{name: "empty policy", resource: "posts", action: "edit", policy: Ptr(""), wantErr: true},
		{name: "bad slug", resource: "posts", action: "edit", slug: "Edit Posts", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAbility(tt.resource, tt.action, tt.policy, tt.slug, "")
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "ABILITY_INVALID")
				errutil.AssertErrorKind(t, err, errutil.KindPolicyViolation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSlug, a.Slug)
			assert.Equal(t, tt.wantSlug, a.Title)
			assert.False(t, a.ID.IsZero())
		})
	}
}

func TestNewRole(t *testing.T) {
	r, err := NewRole("editor", "", Ptr("edits things"))
	require.NoError(t, err)
	assert.Equal(t, "editor", r.Title)
	assert.Nil(t, r.DeletedAt)

	_, err = NewRole("", "Editor", nil)
	errutil.AssertErrorCode(t, err, "ROLE_INVALID")
}

func TestPrincipalID(t *testing.T) {
	a, err := NewAbility("x", "y", nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, a.ID, PrincipalID(a.ID).PrincipalID())
}
