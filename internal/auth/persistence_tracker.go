// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/fortauth/fort/internal/logging"
	"github.com/fortauth/fort/pkg/errutil"
)

// DefaultMintAttempts bounds token regeneration after a collision.
const DefaultMintAttempts = 3

// PersistenceTrackerConfig wires a PersistenceTracker.
type PersistenceTrackerConfig struct {
	Repo   PersistenceRepository
	Logger *slog.Logger

	// MintAttempts bounds Mint's regenerate-on-conflict loop.
	MintAttempts uint64
}

// PersistenceTracker creates, resolves and revokes remember-me tokens.
type PersistenceTracker struct {
	repo     PersistenceRepository
	logger   *slog.Logger
	attempts uint64
	generate func() (string, string, error)
}

// NewPersistenceTracker creates a PersistenceTracker.
func NewPersistenceTracker(cfg PersistenceTrackerConfig) (*PersistenceTracker, error) {
	if cfg.Repo == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("persistence repository is required")
	}
	attempts := cfg.MintAttempts
	if attempts == 0 {
		attempts = DefaultMintAttempts
	}
	return &PersistenceTracker{
		repo:     cfg.Repo,
		logger:   logging.OrDiscard(cfg.Logger),
		attempts: attempts,
		generate: GenerateToken,
	}, nil
}

// Create records token for userID. A token already on file fails with
// Conflict; it is never overwritten.
func (t *PersistenceTracker) Create(ctx context.Context, userID ulid.ULID, token, agent, ip string, attempt bool) (*Persistence, error) {
	if token == "" {
		return nil, oops.Code("PERSISTENCE_INVALID_TOKEN").Wrapf(errutil.ErrPolicyViolation, "token cannot be empty")
	}
	p, err := NewPersistence(userID, HashToken(token), agent, ip, attempt)
	if err != nil {
		return nil, err
	}
	if err := t.repo.Create(ctx, p); err != nil {
		if errors.Is(err, errutil.ErrConflict) {
			return nil, oops.Code("PERSISTENCE_DUPLICATE_TOKEN").
				With("user_id", userID.String()).
				Wrap(err)
		}
		return nil, oops.Code("PERSISTENCE_CREATE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return p, nil
}

// Mint generates a fresh token and records it, regenerating only when the
// store reports a collision. It returns the plaintext token for the cookie.
func (t *PersistenceTracker) Mint(ctx context.Context, userID ulid.ULID, agent, ip string, attempt bool) (*Persistence, string, error) {
	var (
		p     *Persistence
		token string
	)
	backoff := retry.WithMaxRetries(t.attempts-1, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var genErr error
		token, _, genErr = t.generate()
		if genErr != nil {
			return genErr
		}
		created, err := t.Create(ctx, userID, token, agent, ip, attempt)
		if errors.Is(err, errutil.ErrConflict) {
			t.logger.WarnContext(ctx, "remember token collision, regenerating", "user_id", userID.String())
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		p = created
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// FindByToken resolves a remember cookie. Unknown or revoked tokens return
// NotFound.
func (t *PersistenceTracker) FindByToken(ctx context.Context, token string) (*Persistence, error) {
	if token == "" {
		return nil, oops.Code("PERSISTENCE_NOT_FOUND").Wrap(errutil.ErrNotFound)
	}
	p, err := t.repo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, errutil.ErrNotFound) {
			return nil, oops.Code("PERSISTENCE_NOT_FOUND").Wrap(err)
		}
		return nil, oops.Code("PERSISTENCE_LOOKUP_FAILED").Wrap(err)
	}
	return p, nil
}

// ListForUser returns the user's active devices.
func (t *PersistenceTracker) ListForUser(ctx context.Context, userID ulid.ULID) ([]*Persistence, error) {
	list, err := t.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("PERSISTENCE_LIST_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return list, nil
}

// Revoke deletes one token. Revoking an unknown token is a no-op.
func (t *PersistenceTracker) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := t.repo.DeleteByTokenHash(ctx, HashToken(token)); err != nil {
		return oops.Code("PERSISTENCE_REVOKE_FAILED").Wrap(err)
	}
	return nil
}

// RevokeAll deletes every token for userID.
func (t *PersistenceTracker) RevokeAll(ctx context.Context, userID ulid.ULID) (int64, error) {
	n, err := t.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, oops.Code("PERSISTENCE_REVOKE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	persistencesRevoked.Add(float64(n))
	t.logger.InfoContext(ctx, "revoked all persistences", "user_id", userID.String(), "count", n)
	return n, nil
}

// RevokeOthers signs out every device of userID except the one holding
// keepToken.
func (t *PersistenceTracker) RevokeOthers(ctx context.Context, userID ulid.ULID, keepToken string) (int64, error) {
	if keepToken == "" {
		return t.RevokeAll(ctx, userID)
	}
	n, err := t.repo.DeleteByUserExcept(ctx, userID, HashToken(keepToken))
	if err != nil {
		return 0, oops.Code("PERSISTENCE_REVOKE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	persistencesRevoked.Add(float64(n))
	return n, nil
}
