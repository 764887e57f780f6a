// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortauth/fort/internal/access/accesstest"
	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/internal/auth/authtest"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/pkg/errutil"
)

// testApp is an app over in-memory repositories.
type testApp struct {
	*app
	store           *accesstest.Store
	userRepo        *authtest.Users
	persistenceRepo *authtest.Persistences
	resetRepo       *authtest.Resets
	challengeRepo   *authtest.Challenges
}

func newTestApp(t *testing.T, configure func(*config.Config), users ...*auth.User) *testApp {
	t.Helper()
	cfg := config.Default()
	if configure != nil {
		configure(&cfg)
	}

	ta := &testApp{
		store:           accesstest.NewStore(),
		userRepo:        authtest.NewUsers(users...),
		persistenceRepo: authtest.NewPersistences(),
		resetRepo:       authtest.NewResets(),
		challengeRepo:   authtest.NewChallenges(),
	}
	a, err := assemble(repositories{
		abilities:    ta.store.Abilities(),
		roles:        ta.store.Roles(),
		users:        ta.userRepo,
		persistences: ta.persistenceRepo,
		resets:       ta.resetRepo,
		challenges:   ta.challengeRepo,
	}, cfg, nil)
	require.NoError(t, err)
	ta.app = a
	return ta
}

func newUser(t *testing.T, username, email string) *auth.User {
	t.Helper()
	u, err := auth.NewUser(username, email, "hash")
	require.NoError(t, err)
	return u
}

func ptr(s string) *string { return &s }

func TestWire_BuildsEveryServiceOverPostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a, err := wire(mock, config.Default(), nil)
	require.NoError(t, err)

	assert.NotNil(t, a.access)
	assert.NotNil(t, a.authorizer)
	assert.NotNil(t, a.graph)
	assert.NotNil(t, a.tracker)
	assert.NotNil(t, a.resets)
	assert.NotNil(t, a.twoFactor)
	assert.NotNil(t, a.registrar)
	assert.Nil(t, a.pool)
	a.Close()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssemble_RejectsBadProtectedPattern(t *testing.T) {
	cfg := config.Default()
	cfg.ProtectedActions = []string{"[unclosed"}
	store := accesstest.NewStore()

	_, err := assemble(repositories{
		abilities:    store.Abilities(),
		roles:        store.Roles(),
		users:        authtest.NewUsers(),
		persistences: authtest.NewPersistences(),
		resets:       authtest.NewResets(),
		challenges:   authtest.NewChallenges(),
	}, cfg, nil)
	errutil.AssertErrorCode(t, err, "ACCESS_INVALID_CONFIG")
}
