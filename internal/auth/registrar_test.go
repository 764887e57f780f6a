// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/internal/auth/authtest"
	"github.com/fortauth/fort/pkg/errutil"
)

func newRegistrar(t *testing.T, users *authtest.Users, enabled bool) *auth.Registrar {
	t.Helper()
	r, err := auth.NewRegistrar(auth.RegistrarConfig{Users: users, Hasher: fastHasher(), Enabled: enabled})
	require.NoError(t, err)
	return r
}

func TestRegistrar_Register(t *testing.T) {
	ctx := context.Background()
	users := authtest.NewUsers()
	r := newRegistrar(t, users, true)

	user, err := r.Register(ctx, auth.Registration{
		Username: "alice", Email: "Alice@X.com", Password: "secret1", PasswordConfirmation: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", user.Email)
	assert.True(t, user.Active)
	assert.False(t, user.EmailVerified)

	stored := users.Get(user.ID)
	require.NotNil(t, stored)
	ok, err := fastHasher().Verify("secret1", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistrar_Rejections(t *testing.T) {
	ctx := context.Background()
	existing, err := auth.NewUser("alice", "a@x.com", "hash")
	require.NoError(t, err)

	tests := []struct {
		name    string
		enabled bool
		reg     auth.Registration
		code    string
		kind    errutil.Kind
	}{
		{
			name: "disabled",
			reg:  auth.Registration{Username: "bob", Email: "b@x.com", Password: "secret1", PasswordConfirmation: "secret1"},
			code: "REGISTRATION_DISABLED",
			kind: errutil.KindPolicyViolation,
		},
		{
			name:    "password mismatch",
			enabled: true,
			reg:     auth.Registration{Username: "bob", Email: "b@x.com", Password: "secret1", PasswordConfirmation: "secret2"},
			code:    "AUTH_PASSWORD_MISMATCH",
			kind:    errutil.KindPolicyViolation,
		},
		{
			name:    "bad username",
			enabled: true,
			reg:     auth.Registration{Username: "b", Email: "b@x.com", Password: "secret1", PasswordConfirmation: "secret1"},
			code:    "AUTH_INVALID_USERNAME",
			kind:    errutil.KindPolicyViolation,
		},
		{
			name:    "duplicate email",
			enabled: true,
			reg:     auth.Registration{Username: "bob", Email: "A@x.com", Password: "secret1", PasswordConfirmation: "secret1"},
			code:    "USER_DUPLICATE",
			kind:    errutil.KindConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistrar(t, authtest.NewUsers(existing), tt.enabled)
			_, err := r.Register(ctx, tt.reg)
			errutil.AssertErrorCode(t, err, tt.code)
			errutil.AssertErrorKind(t, err, tt.kind)
		})
	}
}
