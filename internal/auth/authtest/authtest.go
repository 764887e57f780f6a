// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

// Package authtest provides in-memory repositories and a recording notifier
// for auth tests.
package authtest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/pkg/errutil"
)

// Users is an in-memory auth.UserRepository. Set Err to fail every call.
type Users struct {
	mu    sync.Mutex
	byID  map[ulid.ULID]*auth.User
	Err   error
	Saves int
}

// NewUsers creates an empty Users.
func NewUsers(users ...*auth.User) *Users {
	u := &Users{byID: make(map[ulid.ULID]*auth.User)}
	for _, user := range users {
		u.byID[user.ID] = cloneUser(user)
	}
	return u
}

var _ auth.UserRepository = (*Users)(nil)

// Create stores user, enforcing case-insensitive username and email uniqueness.
func (r *Users) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return oops.Code("USER_DUPLICATE").Wrap(errutil.ErrConflict)
		}
	}
	r.byID[user.ID] = cloneUser(user)
	return nil
}

// GetByID returns a copy of the user.
func (r *Users) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	return r.find(func(u *auth.User) bool { return u.ID == id })
}

// GetByEmail matches case-insensitively.
func (r *Users) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	return r.find(func(u *auth.User) bool { return strings.EqualFold(u.Email, email) })
}

// GetByUsername matches case-insensitively.
func (r *Users) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	return r.find(func(u *auth.User) bool { return strings.EqualFold(u.Username, username) })
}

// UpdatePassword replaces the hash.
func (r *Users) UpdatePassword(_ context.Context, id ulid.ULID, hash string) error {
	return r.update(id, func(u *auth.User) { u.PasswordHash = hash })
}

// ModifyTwoFactor applies fn while holding the repository lock and counts
// every write. fn must not call back into r.
func (r *Users) ModifyTwoFactor(_ context.Context, id ulid.ULID, fn auth.TwoFactorMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	u, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(errutil.ErrNotFound)
	}
	next, err := fn(cloneUser(u))
	if err != nil || next == nil {
		return err
	}
	u.TwoFactor = next.Clone()
	u.UpdatedAt = time.Now()
	r.Saves++
	return nil
}

// Get returns a copy of the stored user or nil, for assertions.
func (r *Users) Get(id ulid.ULID) *auth.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		return cloneUser(u)
	}
	return nil
}

func (r *Users) find(match func(*auth.User) bool) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.byID {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(errutil.ErrNotFound)
}

func (r *Users) update(id ulid.ULID, apply func(*auth.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	u, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").Wrap(errutil.ErrNotFound)
	}
	apply(u)
	u.UpdatedAt = time.Now()
	return nil
}

func cloneUser(u *auth.User) *auth.User {
	cp := *u
	cp.TwoFactor = u.TwoFactor.Clone()
	if u.Phone != nil {
		p := *u.Phone
		cp.Phone = &p
	}
	return &cp
}

// Persistences is an in-memory auth.PersistenceRepository.
type Persistences struct {
	mu   sync.Mutex
	rows map[string]*auth.Persistence // by token hash
	Err  error

	// Collisions makes the next N Create calls fail with Conflict.
	Collisions int
}

// NewPersistences creates an empty Persistences.
func NewPersistences() *Persistences {
	return &Persistences{rows: make(map[string]*auth.Persistence)}
}

var _ auth.PersistenceRepository = (*Persistences)(nil)

// Create stores p unless its token hash exists.
func (r *Persistences) Create(_ context.Context, p *auth.Persistence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if r.Collisions > 0 {
		r.Collisions--
		return oops.Code("PERSISTENCE_DUPLICATE_TOKEN").Wrap(errutil.ErrConflict)
	}
	if _, ok := r.rows[p.TokenHash]; ok {
		return oops.Code("PERSISTENCE_DUPLICATE_TOKEN").Wrap(errutil.ErrConflict)
	}
	cp := *p
	r.rows[p.TokenHash] = &cp
	return nil
}

// GetByTokenHash returns the row for hash.
func (r *Persistences) GetByTokenHash(_ context.Context, hash string) (*auth.Persistence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	p, ok := r.rows[hash]
	if !ok {
		return nil, oops.Code("PERSISTENCE_NOT_FOUND").Wrap(errutil.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ListByUser returns the user's rows, newest first.
func (r *Persistences) ListByUser(_ context.Context, userID ulid.ULID) ([]*auth.Persistence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*auth.Persistence
	for _, p := range r.rows {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *auth.Persistence) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// DeleteByTokenHash removes one row.
func (r *Persistences) DeleteByTokenHash(_ context.Context, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	_, ok := r.rows[hash]
	delete(r.rows, hash)
	return ok, nil
}

// DeleteByUser removes every row for userID.
func (r *Persistences) DeleteByUser(_ context.Context, userID ulid.ULID) (int64, error) {
	return r.deleteWhere(func(p *auth.Persistence) bool { return p.UserID == userID })
}

// DeleteByUserExcept removes every row for userID but keepHash.
func (r *Persistences) DeleteByUserExcept(_ context.Context, userID ulid.ULID, keepHash string) (int64, error) {
	return r.deleteWhere(func(p *auth.Persistence) bool { return p.UserID == userID && p.TokenHash != keepHash })
}

// Len returns the number of stored rows.
func (r *Persistences) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *Persistences) deleteWhere(match func(*auth.Persistence) bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for hash, p := range r.rows {
		if match(p) {
			delete(r.rows, hash)
			n++
		}
	}
	return n, nil
}

// Resets is an in-memory auth.PasswordResetRepository.
type Resets struct {
	mu   sync.Mutex
	rows map[string]*auth.PasswordResetToken
	Err  error
}

// NewResets creates an empty Resets.
func NewResets() *Resets {
	return &Resets{rows: make(map[string]*auth.PasswordResetToken)}
}

var _ auth.PasswordResetRepository = (*Resets)(nil)

// Upsert overwrites the row for the email.
func (r *Resets) Upsert(_ context.Context, t *auth.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	cp := *t
	r.rows[t.Email] = &cp
	return nil
}

// Get returns the row for email.
func (r *Resets) Get(_ context.Context, email string) (*auth.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	t, ok := r.rows[email]
	if !ok {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(errutil.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// Consume removes the row for email when the hash matches and the row is
// not older than notBefore.
func (r *Resets) Consume(_ context.Context, email, tokenHash string, notBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	t, ok := r.rows[email]
	if !ok || t.TokenHash != tokenHash || t.CreatedAt.Before(notBefore) {
		return false, nil
	}
	delete(r.rows, email)
	return true, nil
}

// DeleteOlderThan prunes rows created before cutoff.
func (r *Resets) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for email, t := range r.rows {
		if t.CreatedAt.Before(cutoff) {
			delete(r.rows, email)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows.
func (r *Resets) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Challenges is an in-memory auth.PhoneChallengeRepository.
type Challenges struct {
	mu   sync.Mutex
	rows map[ulid.ULID]*auth.PhoneChallenge
	Err  error
}

// NewChallenges creates an empty Challenges.
func NewChallenges() *Challenges {
	return &Challenges{rows: make(map[ulid.ULID]*auth.PhoneChallenge)}
}

var _ auth.PhoneChallengeRepository = (*Challenges)(nil)

// Upsert overwrites the user's challenge.
func (r *Challenges) Upsert(_ context.Context, c *auth.PhoneChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	cp := *c
	cp.Attempts = 0
	r.rows[c.UserID] = &cp
	return nil
}

// Get returns the user's challenge.
func (r *Challenges) Get(_ context.Context, userID ulid.ULID) (*auth.PhoneChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	c, ok := r.rows[userID]
	if !ok {
		return nil, oops.Code("CHALLENGE_NOT_FOUND").Wrap(errutil.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// Delete removes the user's challenge.
func (r *Challenges) Delete(_ context.Context, userID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	delete(r.rows, userID)
	return nil
}

// Consume deletes the challenge when codeHash matches.
func (r *Challenges) Consume(_ context.Context, userID ulid.ULID, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	c, ok := r.rows[userID]
	if !ok || c.CodeHash != codeHash {
		return false, nil
	}
	delete(r.rows, userID)
	return true, nil
}

// RecordFailure increments the attempt count.
func (r *Challenges) RecordFailure(_ context.Context, userID ulid.ULID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	c, ok := r.rows[userID]
	if !ok {
		return 0, nil
	}
	c.Attempts++
	return c.Attempts, nil
}

// DeleteOlderThan prunes challenges created before cutoff.
func (r *Challenges) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	var n int64
	for id, c := range r.rows {
		if c.CreatedAt.Before(cutoff) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

// SocialLinks is an in-memory auth.SocialLinkRepository writing users into
// a shared Users.
type SocialLinks struct {
	mu    sync.Mutex
	links map[string]*auth.SocialLink
	users *Users
}

// NewSocialLinks creates an empty SocialLinks backed by users.
func NewSocialLinks(users *Users) *SocialLinks {
	return &SocialLinks{links: make(map[string]*auth.SocialLink), users: users}
}

var _ auth.SocialLinkRepository = (*SocialLinks)(nil)

// GetByProvider returns the link for (provider, uid).
func (r *SocialLinks) GetByProvider(_ context.Context, provider, uid string) (*auth.SocialLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[provider+"\x00"+uid]
	if !ok {
		return nil, oops.Code("SOCIAL_LINK_NOT_FOUND").Wrap(errutil.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

// CreateWithUser stores the user then the link.
func (r *SocialLinks) CreateWithUser(ctx context.Context, user *auth.User, link *auth.SocialLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := link.Provider + "\x00" + link.ProviderUID
	if _, ok := r.links[key]; ok {
		return oops.Code("SOCIAL_LINK_DUPLICATE").Wrap(errutil.ErrConflict)
	}
	if err := r.users.Create(ctx, user); err != nil {
		return err
	}
	cp := *link
	r.links[key] = &cp
	return nil
}

// Notifier records every notification it receives. Set Err to fail delivery.
type Notifier struct {
	mu   sync.Mutex
	sent []auth.Notification
	Err  error
}

var _ auth.Notifier = (*Notifier)(nil)

// Notify records n.
func (n *Notifier) Notify(_ context.Context, note auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, note)
	return nil
}

// Sent returns a copy of the recorded notifications.
func (n *Notifier) Sent() []auth.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}
