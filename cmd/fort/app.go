// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fortauth/fort/internal/access"
	accesspg "github.com/fortauth/fort/internal/access/postgres"
	"github.com/fortauth/fort/internal/auth"
	authpg "github.com/fortauth/fort/internal/auth/postgres"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
)

// app holds the services a command works with.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool

	users      auth.UserRepository
	graph      *access.Graph
	access     *access.Service
	authorizer *access.Authorizer
	tracker    *auth.PersistenceTracker
	resets     *auth.PasswordResetBroker
	twoFactor  *auth.TwoFactorManager
	registrar  *auth.Registrar
}

// openApp connects to the database and wires every service.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a, err := wire(pool, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.pool = pool
	return a, nil
}

// repositories are the storage ports every service is built over.
type repositories struct {
	abilities    access.AbilityRepository
	roles        access.RoleRepository
	users        auth.UserRepository
	persistences auth.PersistenceRepository
	resets       auth.PasswordResetRepository
	challenges   auth.PhoneChallengeRepository
}

// postgresRepositories binds every repository to db.
func postgresRepositories(db store.Querier, tables config.Tables) repositories {
	return repositories{
		abilities:    accesspg.NewAbilityRepository(db, tables),
		roles:        accesspg.NewRoleRepository(db, tables),
		users:        authpg.NewUserRepository(db, tables),
		persistences: authpg.NewPersistenceRepository(db, tables),
		resets:       authpg.NewPasswordResetRepository(db, tables),
		challenges:   authpg.NewPhoneChallengeRepository(db, tables),
	}
}

// wire builds the services over db.
func wire(db store.Querier, cfg config.Config, logger *slog.Logger) (*app, error) {
	return assemble(postgresRepositories(db, cfg.Tables), cfg, logger)
}

func assemble(repos repositories, cfg config.Config, logger *slog.Logger) (*app, error) {
	abilities, roles, users := repos.abilities, repos.roles, repos.users

	graph, err := access.NewGraph(abilities)
	if err != nil {
		return nil, err
	}
	authorizer, err := access.NewAuthorizer(graph, access.AuthorizerConfig{
		ProtectedUsers:   cfg.ProtectedUsers,
		ProtectedActions: cfg.ProtectedActions,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	svc, err := access.NewService(access.ServiceConfig{
		Abilities: abilities,
		Roles:     roles,
		Protected: authorizer,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	tracker, err := auth.NewPersistenceTracker(auth.PersistenceTrackerConfig{
		Repo:   repos.persistences,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	resets, err := auth.NewPasswordResetBroker(auth.PasswordResetBrokerConfig{
		Users:        users,
		Resets:       repos.resets,
		Persistences: tracker,
		TTL:          cfg.ResetTokenTTL,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	twoFactor, err := auth.NewTwoFactorManager(auth.TwoFactorManagerConfig{
		Users:        users,
		Challenges:   repos.challenges,
		Issuer:       cfg.TOTPIssuer,
		ChallengeTTL: cfg.PhoneChallengeTTL,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	registrar, err := auth.NewRegistrar(auth.RegistrarConfig{
		Users:   users,
		Enabled: cfg.RegistrationEnabled,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		users:      users,
		graph:      graph,
		access:     svc,
		authorizer: authorizer,
		tracker:    tracker,
		resets:     resets,
		twoFactor:  twoFactor,
		registrar:  registrar,
	}, nil
}

// Close releases the pool.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
