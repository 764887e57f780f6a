// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/fortauth/fort/pkg/errutil"
)

// MinPasswordLength is the default password policy minimum.
const MinPasswordLength = 6

// ResetStatus is the outcome of a reset-flow step. Values double as
// translation keys for the caller's view layer.
type ResetStatus string

// Reset statuses.
const (
	ResetLinkSent        ResetStatus = "passwords.sent"
	ResetInvalidUser     ResetStatus = "passwords.user"
	ResetInvalidToken    ResetStatus = "passwords.token"
	ResetInvalidPassword ResetStatus = "passwords.password"
	ResetSuccess         ResetStatus = "passwords.reset"
)

// ResetResult is returned by SendResetLink and Reset. Token is set only for
// a LinkSent result issued to a known account.
type ResetResult struct {
	Status ResetStatus
	Token  string
}

// PublicMessage maps a status to what an unauthenticated caller may see. An
// unknown email reads exactly like a sent link.
func PublicMessage(status ResetStatus) ResetStatus {
	switch status {
	case ResetInvalidUser, ResetLinkSent:
		return ResetLinkSent
	case ResetSuccess, ResetInvalidPassword:
		return status
	default:
		return ResetInvalidToken
	}
}

// ResetCredentials carries the reset form fields.
type ResetCredentials struct {
	Email                string
	Token                string
	Password             string
	PasswordConfirmation string
}

// PasswordValidator checks a new password against its confirmation.
type PasswordValidator func(password, confirmation string) error

// DefaultPasswordValidator requires a non-empty password of at least
// MinPasswordLength characters that equals its confirmation.
func DefaultPasswordValidator(password, confirmation string) error {
	switch {
	case password == "":
		return oops.Code("AUTH_PASSWORD_EMPTY").Wrapf(errutil.ErrPolicyViolation, "password cannot be empty")
	case len([]rune(password)) < MinPasswordLength:
		return oops.Code("AUTH_PASSWORD_TOO_SHORT").
			With("min", MinPasswordLength).
			Wrapf(errutil.ErrPolicyViolation, "password must be at least %d characters", MinPasswordLength)
	case password != confirmation:
		return oops.Code("AUTH_PASSWORD_MISMATCH").Wrapf(errutil.ErrPolicyViolation, "password confirmation does not match")
	}
	return nil
}

// PasswordResetToken is the stored reset row for one email.
type PasswordResetToken struct {
	Email     string
	TokenHash string
	CreatedAt time.Time
}

// IsExpiredAt reports whether the token is older than ttl at now.
func (t *PasswordResetToken) IsExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.CreatedAt) > ttl
}

// PasswordResetRepository keeps one reset row per email.
type PasswordResetRepository interface {
	// Upsert inserts or overwrites the row for token.Email.
	Upsert(ctx context.Context, token *PasswordResetToken) error

	// Get returns NotFound when no row exists for email.
	Get(ctx context.Context, email string) (*PasswordResetToken, error)

	// Consume deletes the row only if it still holds tokenHash and was
	// created at or after notBefore, and reports whether it did. Of two
	// concurrent callers with the same token only one gets true.
	Consume(ctx context.Context, email, tokenHash string, notBefore time.Time) (bool, error)

	// DeleteOlderThan prunes rows created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
