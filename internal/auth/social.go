// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/logging"
	"github.com/fortauth/fort/pkg/errutil"
)

// SocialLink ties a user to an external identity.
type SocialLink struct {
	ID          ulid.ULID
	UserID      ulid.ULID
	Provider    string
	ProviderUID string
	CreatedAt   time.Time
}

// ExternalIdentity is what a federated login callback reports.
type ExternalIdentity struct {
	Provider string
	UID      string
	Email    string
	Username string
}

// SocialLinkRepository is the external-identity lookup/create collaborator.
type SocialLinkRepository interface {
	// GetByProvider returns NotFound when no link exists.
	GetByProvider(ctx context.Context, provider, providerUID string) (*SocialLink, error)

	// CreateWithUser stores user and link atomically.
	CreateWithUser(ctx context.Context, user *User, link *SocialLink) error
}

// SocialLinker resolves federated identities to local users.
type SocialLinker struct {
	links  SocialLinkRepository
	users  UserRepository
	logger *slog.Logger
}

// NewSocialLinker creates a SocialLinker.
func NewSocialLinker(links SocialLinkRepository, users UserRepository, logger *slog.Logger) (*SocialLinker, error) {
	if links == nil || users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("social link and user repositories are required")
	}
	return &SocialLinker{links: links, users: users, logger: logging.OrDiscard(logger)}, nil
}

var usernameStrip = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// FindOrCreate returns the user linked to ident, creating a social user and
// link on first sight. created reports which path was taken.
func (s *SocialLinker) FindOrCreate(ctx context.Context, ident ExternalIdentity) (user *User, created bool, err error) {
	if ident.Provider == "" || ident.UID == "" {
		return nil, false, oops.Code("SOCIAL_INVALID_IDENTITY").Wrapf(errutil.ErrPolicyViolation, "provider and uid are required")
	}

	link, err := s.links.GetByProvider(ctx, ident.Provider, ident.UID)
	switch {
	case err == nil:
		user, err := s.users.GetByID(ctx, link.UserID)
		if err != nil {
			return nil, false, oops.Code("SOCIAL_LOOKUP_FAILED").With("user_id", link.UserID.String()).Wrap(err)
		}
		return user, false, nil
	case !errors.Is(err, errutil.ErrNotFound):
		return nil, false, oops.Code("SOCIAL_LOOKUP_FAILED").With("provider", ident.Provider).Wrap(err)
	}

	user, err = NewUser(socialUsername(ident), ident.Email, "")
	if err != nil {
		return nil, false, err
	}
	user.Social = true
	user.EmailVerified = true

	link = &SocialLink{
		ID:          ulid.Make(),
		UserID:      user.ID,
		Provider:    ident.Provider,
		ProviderUID: ident.UID,
		CreatedAt:   user.CreatedAt,
	}
	if err := s.links.CreateWithUser(ctx, user, link); err != nil {
		return nil, false, oops.Code("SOCIAL_CREATE_FAILED").
			With("provider", ident.Provider).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "social user created", "user_id", user.ID.String(), "provider", ident.Provider)
	return user, true, nil
}

// socialUsername derives a valid username from the identity's nickname or
// email local part.
func socialUsername(ident ExternalIdentity) string {
	candidate := ident.Username
	if candidate == "" {
		candidate, _, _ = strings.Cut(ident.Email, "@")
	}
	candidate = usernameStrip.ReplaceAllString(candidate, "_")
	candidate = strings.Trim(candidate, "_")
	if candidate == "" || !isLetter(candidate[0]) {
		candidate = "u" + candidate
	}
	if len(candidate) > MaxUsernameLength {
		candidate = candidate[:MaxUsernameLength]
	}
	for len(candidate) < MinUsernameLength {
		candidate += "_"
	}
	return candidate
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
