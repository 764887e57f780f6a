// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
	"github.com/fortauth/fort/pkg/errutil"
)

// SocialLinkRepository implements auth.SocialLinkRepository using PostgreSQL.
type SocialLinkRepository struct {
	db store.Querier
	t  quoted
}

// NewSocialLinkRepository creates a new SocialLinkRepository.
func NewSocialLinkRepository(db store.Querier, tables config.Tables) *SocialLinkRepository {
	return &SocialLinkRepository{db: db, t: quoteTables(tables)}
}

// GetByProvider retrieves the link for an external identity.
func (r *SocialLinkRepository) GetByProvider(ctx context.Context, provider, providerUID string) (*auth.SocialLink, error) {
	var (
		idStr, userStr string
		link           auth.SocialLink
	)
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, user_id, provider, provider_uid, created_at FROM %s
		WHERE provider = $1 AND provider_uid = $2
	`, r.t.socialites), provider, providerUID).
		Scan(&idStr, &userStr, &link.Provider, &link.ProviderUID, &link.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SOCIAL_LINK_NOT_FOUND").With("provider", provider).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SOCIAL_LINK_GET_FAILED").With("provider", provider).Wrap(store.Classify(err))
	}
	if link.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SOCIAL_LINK_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if link.UserID, err = ulid.Parse(userStr); err != nil {
		return nil, oops.Code("SOCIAL_LINK_INVALID_ID").With("user_id", userStr).Wrap(err)
	}
	return &link, nil
}

// CreateWithUser inserts the user and the link in one transaction.
func (r *SocialLinkRepository) CreateWithUser(ctx context.Context, user *auth.User, link *auth.SocialLink) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("SOCIAL_TX_FAILED").With("operation", "begin").Wrap(store.Classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error is more useful
		}
	}()

	if err = insertUser(ctx, tx, r.t, user); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, provider, provider_uid, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.t.socialites),
		link.ID.String(),
		link.UserID.String(),
		link.Provider,
		link.ProviderUID,
		link.CreatedAt,
	)
	if err != nil {
		code := "SOCIAL_LINK_CREATE_FAILED"
		if store.IsUniqueViolation(err, "") {
			code = "SOCIAL_LINK_DUPLICATE"
		}
		return oops.Code(code).
			With("operation", "insert social link").
			With("provider", link.Provider).
			Wrap(store.Classify(err))
	}
	if err = tx.Commit(ctx); err != nil {
		return oops.Code("SOCIAL_TX_FAILED").With("operation", "commit").Wrap(store.Classify(err))
	}
	return nil
}

// Compile-time interface check.
var _ auth.SocialLinkRepository = (*SocialLinkRepository)(nil)
