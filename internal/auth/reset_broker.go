// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/logging"
	"github.com/fortauth/fort/pkg/errutil"
)

// DefaultResetTokenTTL is used when the config leaves the TTL unset.
const DefaultResetTokenTTL = time.Hour

// PasswordResetBrokerConfig wires a PasswordResetBroker.
type PasswordResetBrokerConfig struct {
	Users        UserRepository
	Resets       PasswordResetRepository
	Persistences *PersistenceTracker
	Hasher       PasswordHasher

	// Dispatcher delivers the reset link. Optional; without it the caller
	// is responsible for sending the returned token.
	Dispatcher *Dispatcher

	TTL    time.Duration
	Logger *slog.Logger
	Clock  func() time.Time
}

// PasswordResetBroker issues, validates and consumes password reset tokens.
type PasswordResetBroker struct {
	users        UserRepository
	resets       PasswordResetRepository
	persistences *PersistenceTracker
	hasher       PasswordHasher
	dispatcher   *Dispatcher
	ttl          time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewPasswordResetBroker creates a PasswordResetBroker.
func NewPasswordResetBroker(cfg PasswordResetBrokerConfig) (*PasswordResetBroker, error) {
	if cfg.Users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	}
	if cfg.Resets == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("reset repository is required")
	}
	if cfg.Persistences == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("persistence tracker is required")
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewArgon2idHasher()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PasswordResetBroker{
		users:        cfg.Users,
		resets:       cfg.Resets,
		persistences: cfg.Persistences,
		hasher:       hasher,
		dispatcher:   cfg.Dispatcher,
		ttl:          ttl,
		logger:       logging.OrDiscard(cfg.Logger),
		now:          clock,
	}, nil
}

// SendResetLink issues a reset token for creds.Email. The result is
// LinkSent whether or not the email belongs to an account; only a known
// account gets a token. Only store failures are returned as errors.
func (b *PasswordResetBroker) SendResetLink(ctx context.Context, creds ResetCredentials) (ResetResult, error) {
	email, err := NormalizeEmail(creds.Email)
	if err != nil {
		b.logger.DebugContext(ctx, "reset requested for malformed email")
		resetOutcomes.WithLabelValues("send", string(ResetInvalidUser)).Inc()
		return ResetResult{Status: ResetLinkSent}, nil
	}

	user, err := b.users.GetByEmail(ctx, email)
	if errors.Is(err, errutil.ErrNotFound) {
		b.logger.DebugContext(ctx, "reset requested for unknown email", "status", string(ResetInvalidUser))
		resetOutcomes.WithLabelValues("send", string(ResetInvalidUser)).Inc()
		return ResetResult{Status: ResetLinkSent}, nil
	}
	if err != nil {
		return ResetResult{}, oops.Code("RESET_REQUEST_FAILED").With("operation", "get user by email").Wrap(err)
	}

	token, digest, err := GenerateToken()
	if err != nil {
		return ResetResult{}, oops.Code("RESET_REQUEST_FAILED").Wrap(err)
	}
	row := &PasswordResetToken{Email: email, TokenHash: digest, CreatedAt: b.now()}
	if err := b.resets.Upsert(ctx, row); err != nil {
		return ResetResult{}, oops.Code("RESET_REQUEST_FAILED").With("operation", "upsert reset token").Wrap(err)
	}

	if b.dispatcher != nil {
		b.dispatcher.Dispatch(ctx, Notification{
			Channel:     ChannelMail,
			Destination: user.Email,
			Template:    TemplatePasswordReset,
			Data:        map[string]string{"token": token, "email": email},
		})
	}

	resetOutcomes.WithLabelValues("send", string(ResetLinkSent)).Inc()
	b.logger.InfoContext(ctx, "password reset link issued", "user_id", user.ID.String())
	return ResetResult{Status: ResetLinkSent, Token: token}, nil
}

// ValidateToken fails closed: no row, an expired row or a digest mismatch
// all return false. Only store failures are returned as errors.
func (b *PasswordResetBroker) ValidateToken(ctx context.Context, email, token string) (bool, error) {
	_, err := b.checkToken(ctx, email, token)
	if err == nil {
		return true, nil
	}
	if errutil.KindOf(err) == errutil.KindStoreUnavailable {
		return false, err
	}
	return false, nil
}

// Reset consumes a valid token and sets a new password. validator may be nil
// for DefaultPasswordValidator. The token is consumed before the password is
// written, so concurrent resets with one token succeed at most once. On
// success every remember-me persistence of the user is revoked.
func (b *PasswordResetBroker) Reset(ctx context.Context, creds ResetCredentials, validator PasswordValidator) (ResetResult, error) {
	row, err := b.checkToken(ctx, creds.Email, creds.Token)
	if err != nil {
		if errutil.KindOf(err) == errutil.KindStoreUnavailable {
			return ResetResult{}, err
		}
		b.logger.DebugContext(ctx, "password reset rejected", errutil.Attrs(err)...)
		resetOutcomes.WithLabelValues("reset", string(ResetInvalidToken)).Inc()
		return ResetResult{Status: ResetInvalidToken}, nil
	}

	if validator == nil {
		validator = DefaultPasswordValidator
	}
	if err := validator(creds.Password, creds.PasswordConfirmation); err != nil {
		resetOutcomes.WithLabelValues("reset", string(ResetInvalidPassword)).Inc()
		return ResetResult{Status: ResetInvalidPassword}, nil
	}

	email := row.Email
	user, err := b.users.GetByEmail(ctx, email)
	if errors.Is(err, errutil.ErrNotFound) {
		resetOutcomes.WithLabelValues("reset", string(ResetInvalidToken)).Inc()
		return ResetResult{Status: ResetInvalidToken}, nil
	}
	if err != nil {
		return ResetResult{}, oops.Code("RESET_PASSWORD_FAILED").With("operation", "get user by email").Wrap(err)
	}

	hash, err := b.hasher.Hash(creds.Password)
	if err != nil {
		return ResetResult{}, oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	consumed, err := b.resets.Consume(ctx, email, row.TokenHash, b.now().Add(-b.ttl))
	if err != nil {
		return ResetResult{}, oops.Code("RESET_PASSWORD_FAILED").With("operation", "consume reset token").Wrap(err)
	}
	if !consumed {
		b.logger.DebugContext(ctx, "password reset lost the token to another request", "user_id", user.ID.String())
		resetOutcomes.WithLabelValues("reset", string(ResetInvalidToken)).Inc()
		return ResetResult{Status: ResetInvalidToken}, nil
	}
	if err := b.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return ResetResult{}, oops.Code("RESET_PASSWORD_FAILED").With("operation", "update password").Wrap(err)
	}

	resetOutcomes.WithLabelValues("reset", string(ResetSuccess)).Inc()
	if _, err := b.persistences.RevokeAll(ctx, user.ID); err != nil {
		// The password changed; report the revocation failure alongside success.
		errutil.LogError(ctx, b.logger, "revoke persistences after reset failed", err)
		return ResetResult{Status: ResetSuccess}, oops.Code("RESET_REVOKE_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	b.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())
	return ResetResult{Status: ResetSuccess}, nil
}

// PruneExpired removes tokens past their TTL.
func (b *PasswordResetBroker) PruneExpired(ctx context.Context) (int64, error) {
	n, err := b.resets.DeleteOlderThan(ctx, b.now().Add(-b.ttl))
	if err != nil {
		return 0, oops.Code("RESET_PRUNE_FAILED").Wrap(err)
	}
	prunedRows.WithLabelValues("password_reset").Add(float64(n))
	return n, nil
}

// checkToken returns the row for a live matching token, or an error tagged
// InvalidCredential, Expired or StoreUnavailable.
func (b *PasswordResetBroker) checkToken(ctx context.Context, email, token string) (*PasswordResetToken, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, oops.Code("RESET_TOKEN_INVALID").Wrap(errutil.ErrInvalidCredential)
	}
	if token == "" {
		return nil, oops.Code("RESET_TOKEN_INVALID").With("email", email).Wrap(errutil.ErrInvalidCredential)
	}

	row, err := b.resets.Get(ctx, email)
	if errors.Is(err, errutil.ErrNotFound) {
		return nil, oops.Code("RESET_TOKEN_INVALID").With("email", email).Wrap(errutil.ErrInvalidCredential)
	}
	if err != nil {
		return nil, oops.Code("RESET_VALIDATE_FAILED").With("email", email).Wrap(err)
	}
	if row.IsExpiredAt(b.now(), b.ttl) {
		return nil, oops.Code("RESET_TOKEN_EXPIRED").With("email", email).Wrap(errutil.ErrExpired)
	}
	if !VerifyToken(token, row.TokenHash) {
		return nil, oops.Code("RESET_TOKEN_INVALID").With("email", email).Wrap(errutil.ErrInvalidCredential)
	}
	return row, nil
}
