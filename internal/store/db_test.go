// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortauth/fort/internal/store"
	"github.com/fortauth/fort/pkg/errutil"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errutil.Kind
	}{
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, errutil.KindConflict},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation}), errutil.KindConflict},
		{"foreign key violation", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}, errutil.KindNotFound},
		{"admin shutdown", &pgconn.PgError{Code: pgerrcode.AdminShutdown}, errutil.KindStoreUnavailable},
		{"deadline", context.DeadlineExceeded, errutil.KindStoreUnavailable},
		{"connection refused", errors.New("dial tcp: connection refused"), errutil.KindStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := store.Classify(tt.err)
			assert.Equal(t, tt.want, errutil.KindOf(got))
			assert.ErrorIs(t, got, tt.err, "original error stays in the chain")
		})
	}
}

func TestClassify_PassesThrough(t *testing.T) {
	assert.NoError(t, store.Classify(nil))
	assert.Equal(t, pgx.ErrNoRows, store.Classify(pgx.ErrNoRows))
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "persistences_token_key"}

	assert.True(t, store.IsUniqueViolation(err, ""))
	assert.True(t, store.IsUniqueViolation(err, "persistences_token_key"))
	assert.False(t, store.IsUniqueViolation(err, "users_email_key"))
	assert.False(t, store.IsUniqueViolation(errors.New("other"), ""))
}

func TestIdent(t *testing.T) {
	assert.Equal(t, `"persistences"`, store.Ident("persistences"))
	assert.Equal(t, `"we""ird"`, store.Ident(`we"ird`))
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := store.Open(context.Background(), "")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
