// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/pkg/errutil"
)

// Persistence is a remember-me session tied to one device. TokenHash is the
// SHA-256 digest of the cookie value.
type Persistence struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	Agent     *string
	IP        *string
	Attempt   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPersistence validates and builds a Persistence. Empty agent or ip are
// stored as NULL.
func NewPersistence(userID ulid.ULID, tokenHash, agent, ip string, attempt bool) (*Persistence, error) {
	if userID.IsZero() {
		return nil, oops.Code("PERSISTENCE_INVALID_USER").Wrapf(errutil.ErrPolicyViolation, "user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("PERSISTENCE_INVALID_TOKEN").Wrapf(errutil.ErrPolicyViolation, "token cannot be empty")
	}

	now := time.Now()
	return &Persistence{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		Agent:     optional(agent),
		IP:        optional(ip),
		Attempt:   attempt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PersistenceRepository manages persistence rows.
type PersistenceRepository interface {
	// Create stores a new persistence. A duplicate token fails with Conflict.
	Create(ctx context.Context, p *Persistence) error

	// GetByTokenHash returns NotFound for unknown digests.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Persistence, error)

	// ListByUser returns the user's persistences, newest first.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*Persistence, error)

	// DeleteByTokenHash removes one row and reports whether it existed.
	DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error)

	// DeleteByUser removes every row for the user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) (int64, error)

	// DeleteByUserExcept removes every row for the user except keepHash.
	DeleteByUserExcept(ctx context.Context, userID ulid.ULID, keepHash string) (int64, error)
}
