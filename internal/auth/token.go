// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/samber/oops"
)

// TokenBytes is the entropy of remember and reset tokens (64 hex chars).
const TokenBytes = 32

// GenerateToken creates a random hex token and its SHA-256 digest. The
// plaintext goes to the client; only the digest is stored.
func GenerateToken() (token, digest string, err error) {
	buf := make([]byte, TokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}
	token = hex.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken returns the hex SHA-256 digest of token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken compares token against a stored digest in constant time.
// Empty inputs never match.
func VerifyToken(token, digest string) bool {
	if token == "" || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(digest)) == 1
}

// randomDigits returns n uniformly random decimal digits, zero-padded.
// n must be at most 18.
func randomDigits(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", oops.Code("CODE_GENERATE_FAILED").With("digits", n).Wrap(err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}
