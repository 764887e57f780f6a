// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/pkg/errutil"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, digits and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// User is an account record.
type User struct {
	ID            ulid.ULID
	Username      string
	Email         string
	Phone         *string
	PasswordHash  string
	Active        bool
	EmailVerified bool
	PhoneVerified bool
	Social        bool
	TwoFactor     TwoFactorSettings
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUser validates and builds an active User.
func NewUser(username, email, passwordHash string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        normalized,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// PrincipalID lets a User be passed to access.Authorizer.Can.
func (u *User) PrincipalID() ulid.ULID {
	return u.ID
}

// HasVerifiedPhone reports whether a phone number is on file and verified.
func (u *User) HasVerifiedPhone() bool {
	return u.Phone != nil && *u.Phone != "" && u.PhoneVerified
}

// ValidateUsername checks length and alphabet.
func ValidateUsername(username string) error {
	switch {
	case username == "":
		return oops.Code("AUTH_INVALID_USERNAME").Wrapf(errutil.ErrPolicyViolation, "username cannot be empty")
	case len(username) < MinUsernameLength:
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Wrapf(errutil.ErrPolicyViolation, "username must be at least %d characters", MinUsernameLength)
	case len(username) > MaxUsernameLength:
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Wrapf(errutil.ErrPolicyViolation, "username must be at most %d characters", MaxUsernameLength)
	case !usernameRegex.MatchString(username):
		return oops.Code("AUTH_INVALID_USERNAME").
			Wrapf(errutil.ErrPolicyViolation, "username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// NormalizeEmail validates a bare address and lowercases it. Reset tokens
// and user lookups are keyed by the normalized form.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", oops.Code("AUTH_INVALID_EMAIL").Wrapf(errutil.ErrPolicyViolation, "invalid email address")
	}
	return strings.ToLower(email), nil
}

// UserRepository is the user-lookup collaborator plus the narrow writes the
// services need.
type UserRepository interface {
	// Create stores a new user. Duplicate username or email fails with Conflict.
	Create(ctx context.Context, user *User) error

	// GetByID returns NotFound when id is unknown.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail looks up case-insensitively.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByUsername looks up case-insensitively.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// UpdatePassword replaces the credential hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// ModifyTwoFactor locks the user, passes fn a copy of it and stores the
	// settings fn returns. A nil result writes nothing; an error from fn is
	// returned unchanged and writes nothing. Calls for one user are
	// serialized, so fn always sees the latest settings.
	ModifyTwoFactor(ctx context.Context, id ulid.ULID, fn TwoFactorMutation) error
}

// TwoFactorMutation computes new settings from the current user.
type TwoFactorMutation func(user *User) (*TwoFactorSettings, error)

// LookupUser finds a user by ULID, then by email when ref contains "@",
// otherwise by username.
func LookupUser(ctx context.Context, users UserRepository, ref string) (*User, error) {
	if id, err := ulid.ParseStrict(ref); err == nil {
		return users.GetByID(ctx, id)
	}
	if strings.Contains(ref, "@") {
		return users.GetByEmail(ctx, ref)
	}
	return users.GetByUsername(ctx, ref)
}
