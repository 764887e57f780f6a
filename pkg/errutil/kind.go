// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package errutil

import "errors"

// Sentinel errors forming the error taxonomy. Concrete errors wrap exactly one
// of these with an oops code carrying the fine-grained reason, so callers can
// branch with errors.Is while logs keep the specific code.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpired           = errors.New("expired")
	ErrConflict          = errors.New("conflict")
	ErrPolicyViolation   = errors.New("policy violation")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// Kind names a taxonomy class.
type Kind string

// Taxonomy kinds, in the order KindOf tests them.
const (
	KindUnknown           Kind = ""
	KindStoreUnavailable  Kind = "StoreUnavailable"
	KindNotFound          Kind = "NotFound"
	KindInvalidCredential Kind = "InvalidCredential"
	KindExpired           Kind = "Expired"
	KindConflict          Kind = "Conflict"
	KindPolicyViolation   Kind = "PolicyViolation"
)

var kinds = []struct {
	kind     Kind
	sentinel error
}{
	{KindStoreUnavailable, ErrStoreUnavailable},
	{KindNotFound, ErrNotFound},
	{KindInvalidCredential, ErrInvalidCredential},
	{KindExpired, ErrExpired},
	{KindConflict, ErrConflict},
	{KindPolicyViolation, ErrPolicyViolation},
}

// KindOf classifies err. StoreUnavailable wins over every other kind because
// an infrastructure failure makes any validation outcome meaningless.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsValidation reports whether err is a user-facing validation outcome
// (InvalidCredential, Expired or PolicyViolation) that callers render rather
// than propagate.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindInvalidCredential, KindExpired, KindPolicyViolation:
		return true
	default:
		return false
	}
}
