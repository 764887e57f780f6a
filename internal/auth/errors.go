// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"errors"

	"github.com/fortauth/fort/pkg/errutil"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errutil.ErrNotFound

// ErrNoSecondFactor means the account has neither an enabled factor nor
// backup codes, so a second-factor challenge cannot be answered.
var ErrNoSecondFactor = errors.New("no active second factor")
