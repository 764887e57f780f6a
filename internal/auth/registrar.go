// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/logging"
	"github.com/fortauth/fort/pkg/errutil"
)

// Registration carries the sign-up form fields.
type Registration struct {
	Username             string
	Email                string
	Password             string
	PasswordConfirmation string
}

// RegistrarConfig wires a Registrar.
type RegistrarConfig struct {
	Users     UserRepository
	Hasher    PasswordHasher
	Validator PasswordValidator
	Enabled   bool
	Logger    *slog.Logger
}

// Registrar creates accounts through self-service sign-up.
type Registrar struct {
	users     UserRepository
	hasher    PasswordHasher
	validator PasswordValidator
	enabled   bool
	logger    *slog.Logger
}

// NewRegistrar creates a Registrar.
func NewRegistrar(cfg RegistrarConfig) (*Registrar, error) {
	if cfg.Users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewArgon2idHasher()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = DefaultPasswordValidator
	}
	return &Registrar{
		users:     cfg.Users,
		hasher:    hasher,
		validator: validator,
		enabled:   cfg.Enabled,
		logger:    logging.OrDiscard(cfg.Logger),
	}, nil
}

// Register validates reg and creates an active, unverified account.
func (r *Registrar) Register(ctx context.Context, reg Registration) (*User, error) {
	if !r.enabled {
		return nil, oops.Code("REGISTRATION_DISABLED").Wrapf(errutil.ErrPolicyViolation, "registration is disabled")
	}
	if err := r.validator(reg.Password, reg.PasswordConfirmation); err != nil {
		return nil, err
	}

	hash, err := r.hasher.Hash(reg.Password)
	if err != nil {
		return nil, oops.Code("REGISTRATION_FAILED").With("operation", "hash password").Wrap(err)
	}
	user, err := NewUser(reg.Username, reg.Email, hash)
	if err != nil {
		return nil, err
	}
	if err := r.users.Create(ctx, user); err != nil {
		return nil, oops.Code("REGISTRATION_FAILED").
			With("username", user.Username).
			Wrap(err)
	}

	r.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user, nil
}
