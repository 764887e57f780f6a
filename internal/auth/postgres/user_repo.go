// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/internal/store"
	"github.com/fortauth/fort/pkg/errutil"
)

// quoted holds sanitized table identifiers.
type quoted struct {
	users           string
	persistences    string
	passwordResets  string
	phoneChallenges string
	socialites      string
}

func quoteTables(t config.Tables) quoted {
	return quoted{
		users:           store.Ident(t.Users),
		persistences:    store.Ident(t.Persistences),
		passwordResets:  store.Ident(t.PasswordResets),
		phoneChallenges: store.Ident(t.PhoneChallenges),
		socialites:      store.Ident(t.Socialites),
	}
}

// execer is satisfied by store.Querier and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const userColumns = `id, username, email, phone, password_hash, active, email_verified,
	phone_verified, social, two_factor, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db store.Querier
	t  quoted
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db store.Querier, tables config.Tables) *UserRepository {
	return &UserRepository{db: db, t: quoteTables(tables)}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	return insertUser(ctx, r.db, r.t, user)
}

func insertUser(ctx context.Context, db execer, t quoted, user *auth.User) error {
	twoFactor, err := json.Marshal(user.TwoFactor)
	if err != nil {
		return oops.Code("USER_ENCODE_FAILED").With("id", user.ID.String()).Wrap(err)
	}
	_, err = db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.users, userColumns),
		user.ID.String(),
		user.Username,
		user.Email,
		user.Phone,
		user.PasswordHash,
		user.Active,
		user.EmailVerified,
		user.PhoneVerified,
		user.Social,
		twoFactor,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		code := "USER_CREATE_FAILED"
		if store.IsUniqueViolation(err, "") {
			code = "USER_DUPLICATE"
		}
		return oops.Code(code).
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(store.Classify(err))
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return r.getOne(ctx, "id = $1", "id", id.String())
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getOne(ctx, "LOWER(email) = LOWER($1)", "email", email)
}

// GetByUsername retrieves a user by username, ignoring case.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.getOne(ctx, "LOWER(username) = LOWER($1)", "username", username)
}

func (r *UserRepository) getOne(ctx context.Context, where, key, value string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, userColumns, r.t.users, where), value)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With(key, value).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With(key, value).Wrap(err)
	}
	return user, nil
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, r.t.users), id.String(), passwordHash)
	return r.checkUpdate(result, err, "update password", id)
}

// ModifyTwoFactor runs fn against the user row locked with SELECT ... FOR
// UPDATE and writes the returned settings in the same transaction.
func (r *UserRepository) ModifyTwoFactor(ctx context.Context, id ulid.ULID, fn auth.TwoFactorMutation) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("USER_TX_FAILED").With("operation", "begin").With("id", id.String()).Wrap(store.Classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error is more useful
		}
	}()

	row := tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, userColumns, r.t.users), id.String())
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(errutil.ErrNotFound)
	}
	if err != nil {
		return oops.Code("USER_GET_FAILED").With("id", id.String()).Wrap(err)
	}

	next, err := fn(user)
	if err != nil {
		return err
	}
	if next != nil {
		var doc []byte
		if doc, err = json.Marshal(next); err != nil {
			return oops.Code("USER_ENCODE_FAILED").With("id", id.String()).Wrap(err)
		}
		if _, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET two_factor = $2, updated_at = NOW() WHERE id = $1
		`, r.t.users), id.String(), doc); err != nil {
			return oops.Code("USER_UPDATE_FAILED").
				With("operation", "update two factor").
				With("id", id.String()).
				Wrap(store.Classify(err))
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return oops.Code("USER_TX_FAILED").With("operation", "commit").With("id", id.String()).Wrap(store.Classify(err))
	}
	return nil
}

func (r *UserRepository) checkUpdate(result pgconn.CommandTag, err error, operation string, id ulid.ULID) error {
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(store.Classify(err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(errutil.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr     string
		twoFactor []byte
		user      auth.User
	)
	err := row.Scan(
		&idStr,
		&user.Username,
		&user.Email,
		&user.Phone,
		&user.PasswordHash,
		&user.Active,
		&user.EmailVerified,
		&user.PhoneVerified,
		&user.Social,
		&twoFactor,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers add entity context
		}
		return nil, store.Classify(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	user.ID = id
	if len(twoFactor) > 0 {
		if err := json.Unmarshal(twoFactor, &user.TwoFactor); err != nil {
			return nil, oops.Code("USER_DECODE_FAILED").With("id", idStr).Wrap(err)
		}
	}
	return &user, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
