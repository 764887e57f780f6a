// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
)

// Factor names a second-factor kind.
type Factor string

// Second factors.
const (
	FactorTOTP   Factor = "totp"
	FactorPhone  Factor = "phone"
	FactorBackup Factor = "backup"
)

// BackupCodeCount and BackupCodeDigits shape the TOTP backup list.
const (
	BackupCodeCount  = 10
	BackupCodeDigits = 10
)

// PhoneCodeDigits is the length of an SMS challenge code.
const PhoneCodeDigits = 6

// MaxPhoneChallengeAttempts is how many wrong codes a challenge survives.
const MaxPhoneChallengeAttempts = 5

// TwoFactorSettings is the typed two_factor value stored on the user. A nil
// block means the factor was never enrolled or has been disabled.
type TwoFactorSettings struct {
	TOTP  *TOTPFactor  `json:"totp,omitempty"`
	Phone *PhoneFactor `json:"phone,omitempty"`
}

// TOTPFactor holds the authenticator-app secret and backup codes.
type TOTPFactor struct {
	Enabled  bool       `json:"enabled"`
	Secret   string     `json:"secret"`
	Backup   []string   `json:"backup,omitempty"`
	BackupAt *time.Time `json:"backup_at,omitempty"`
}

// PhoneFactor marks SMS codes as a second factor.
type PhoneFactor struct {
	Enabled bool `json:"enabled"`
}

// TOTPEnabled reports whether the authenticator factor is active.
func (s TwoFactorSettings) TOTPEnabled() bool {
	return s.TOTP != nil && s.TOTP.Enabled
}

// PhoneEnabled reports whether the phone factor is active.
func (s TwoFactorSettings) PhoneEnabled() bool {
	return s.Phone != nil && s.Phone.Enabled
}

// HasBackupCodes reports whether unused backup codes remain.
func (s TwoFactorSettings) HasBackupCodes() bool {
	return s.TOTP != nil && len(s.TOTP.Backup) > 0
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s TwoFactorSettings) Clone() TwoFactorSettings {
	var out TwoFactorSettings
	if s.TOTP != nil {
		t := *s.TOTP
		t.Backup = slices.Clone(s.TOTP.Backup)
		if s.TOTP.BackupAt != nil {
			at := *s.TOTP.BackupAt
			t.BackupAt = &at
		}
		out.TOTP = &t
	}
	if s.Phone != nil {
		p := *s.Phone
		out.Phone = &p
	}
	return out
}

// Enrollment is returned by BeginEnrollment.
type Enrollment struct {
	// Secret is the base32 TOTP secret.
	Secret string
	// URI is the otpauth:// provisioning URI for QR rendering.
	URI string
}

// PhoneChallenge is an outstanding SMS code for one user.
type PhoneChallenge struct {
	UserID    ulid.ULID
	CodeHash  string
	Attempts  int
	CreatedAt time.Time
}

// IsExpiredAt reports whether the challenge is older than ttl at now.
func (c *PhoneChallenge) IsExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) > ttl
}

// PhoneChallengeRepository stores one challenge row per user.
type PhoneChallengeRepository interface {
	// Upsert replaces any outstanding challenge for the user and resets its
	// attempt count.
	Upsert(ctx context.Context, challenge *PhoneChallenge) error

	// Get returns NotFound when the user has no challenge.
	Get(ctx context.Context, userID ulid.ULID) (*PhoneChallenge, error)

	// Delete removes the user's challenge; absent rows are not an error.
	Delete(ctx context.Context, userID ulid.ULID) error

	// Consume deletes the challenge only if it still carries codeHash and
	// reports whether it did. Of two concurrent callers only one gets true.
	Consume(ctx context.Context, userID ulid.ULID, codeHash string) (bool, error)

	// RecordFailure increments the attempt count and returns the new value,
	// or 0 when the challenge is gone.
	RecordFailure(ctx context.Context, userID ulid.ULID) (int, error)

	// DeleteOlderThan prunes challenges created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
