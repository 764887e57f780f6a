// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"

	"github.com/fortauth/fort/internal/logging"
	"github.com/fortauth/fort/pkg/errutil"
)

// TOTP parameters. Skew of one step accepts the previous and next code.
const (
	TOTPPeriod     = 30
	TOTPSkew       = 1
	TOTPSecretSize = 20
)

// DefaultPhoneChallengeTTL is used when the config leaves the TTL unset.
const DefaultPhoneChallengeTTL = 10 * time.Minute

var totpOpts = totp.ValidateOpts{
	Period:    TOTPPeriod,
	Skew:      TOTPSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TwoFactorManagerConfig wires a TwoFactorManager.
type TwoFactorManagerConfig struct {
	Users      UserRepository
	Challenges PhoneChallengeRepository

	// Dispatcher sends phone codes. Required for SendPhoneChallenge.
	Dispatcher *Dispatcher

	Issuer       string
	ChallengeTTL time.Duration
	Logger       *slog.Logger
	Clock        func() time.Time
}

// TwoFactorManager enrolls, verifies and disables second factors.
type TwoFactorManager struct {
	users      UserRepository
	challenges PhoneChallengeRepository
	dispatcher *Dispatcher
	issuer     string
	ttl        time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewTwoFactorManager creates a TwoFactorManager.
func NewTwoFactorManager(cfg TwoFactorManagerConfig) (*TwoFactorManager, error) {
	if cfg.Users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	}
	if cfg.Challenges == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("phone challenge repository is required")
	}
	if cfg.Issuer == "" {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("TOTP issuer is required")
	}
	ttl := cfg.ChallengeTTL
	if ttl <= 0 {
		ttl = DefaultPhoneChallengeTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TwoFactorManager{
		users:      cfg.Users,
		challenges: cfg.Challenges,
		dispatcher: cfg.Dispatcher,
		issuer:     cfg.Issuer,
		ttl:        ttl,
		logger:     logging.OrDiscard(cfg.Logger),
		now:        clock,
	}, nil
}

// BeginEnrollment returns the user's TOTP secret, generating and storing a
// disabled one on first call. Repeated calls return the same secret, also
// when they race.
func (m *TwoFactorManager) BeginEnrollment(ctx context.Context, userID ulid.ULID) (*Enrollment, error) {
	var (
		enrollment *Enrollment
		generated  bool
	)
	err := m.modify(ctx, userID, func(user *User) (*TwoFactorSettings, error) {
		if t := user.TwoFactor.TOTP; t != nil && t.Secret != "" {
			raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(t.Secret)
			if err != nil {
				return nil, oops.Code("TWOFACTOR_SECRET_CORRUPT").With("user_id", userID.String()).Wrap(err)
			}
			key, err := m.key(user, raw)
			if err != nil {
				return nil, err
			}
			enrollment = &Enrollment{Secret: t.Secret, URI: key.URL()}
			return nil, nil
		}

		key, err := m.key(user, nil)
		if err != nil {
			return nil, err
		}
		settings := user.TwoFactor.Clone()
		settings.TOTP = &TOTPFactor{Enabled: false, Secret: key.Secret()}
		enrollment = &Enrollment{Secret: key.Secret(), URI: key.URL()}
		generated = true
		return &settings, nil
	})
	if err != nil {
		return nil, err
	}
	if generated {
		m.logger.InfoContext(ctx, "totp secret generated", "user_id", userID.String())
	}
	return enrollment, nil
}

// ConfirmEnrollment verifies code against the stored secret and enables TOTP.
// Backup codes are created on the first confirmation only. The returned
// factor carries the current backup list.
func (m *TwoFactorManager) ConfirmEnrollment(ctx context.Context, userID ulid.ULID, code string) (*TOTPFactor, error) {
	var confirmed *TOTPFactor
	err := m.modify(ctx, userID, func(user *User) (*TwoFactorSettings, error) {
		t := user.TwoFactor.TOTP
		if t == nil || t.Secret == "" {
			return nil, oops.Code("TWOFACTOR_NOT_ENROLLED").
				With("user_id", userID.String()).
				Wrapf(errutil.ErrPolicyViolation, "no TOTP secret to confirm")
		}
		if !m.validTOTP(code, t.Secret) {
			secondFactorChecks.WithLabelValues(string(FactorTOTP), outcome(false)).Inc()
			return nil, oops.Code("TWOFACTOR_INVALID_TOKEN").
				With("user_id", userID.String()).
				Wrap(errutil.ErrInvalidCredential)
		}
		secondFactorChecks.WithLabelValues(string(FactorTOTP), outcome(true)).Inc()

		settings := user.TwoFactor.Clone()
		settings.TOTP.Enabled = true
		if len(settings.TOTP.Backup) == 0 {
			codes, err := GenerateBackupCodes()
			if err != nil {
				return nil, err
			}
			now := m.now()
			settings.TOTP.Backup = codes
			settings.TOTP.BackupAt = &now
		}
		confirmed = settings.Clone().TOTP
		return &settings, nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// RegenerateBackupCodes replaces the backup list. TOTP must be enabled.
func (m *TwoFactorManager) RegenerateBackupCodes(ctx context.Context, userID ulid.ULID) ([]string, error) {
	var codes []string
	err := m.modify(ctx, userID, func(user *User) (*TwoFactorSettings, error) {
		if !user.TwoFactor.TOTPEnabled() {
			return nil, oops.Code("TWOFACTOR_CANT_BACKUP").
				With("user_id", userID.String()).
				Wrapf(errutil.ErrPolicyViolation, "TOTP must be enabled to create backup codes")
		}
		var err error
		if codes, err = GenerateBackupCodes(); err != nil {
			return nil, err
		}
		now := m.now()
		settings := user.TwoFactor.Clone()
		settings.TOTP.Backup = slices.Clone(codes)
		settings.TOTP.BackupAt = &now
		return &settings, nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// DisableTOTP clears the whole TOTP block, including the secret and backups.
func (m *TwoFactorManager) DisableTOTP(ctx context.Context, userID ulid.ULID) error {
	return m.modify(ctx, userID, func(user *User) (*TwoFactorSettings, error) {
		if user.TwoFactor.TOTP == nil {
			return nil, nil
		}
		settings := user.TwoFactor.Clone()
		settings.TOTP = nil
		return &settings, nil
	})
}

// EnablePhone turns on the phone factor. The user's phone must be present
// and verified. Enabling twice is a no-op.
func (m *TwoFactorManager) EnablePhone(ctx context.Context, userID ulid.ULID) error {
	return m.modify(ctx, userID, func(user *User) (*TwoFactorSettings, error) {
		if !user.HasVerifiedPhone() {
			return nil, oops.Code("TWOFACTOR_PHONE_REQUIRED").
				With("user_id", userID.String()).
				Wrapf(errutil.ErrPolicyViolation, "a verified phone number is required")
		}
		if user.TwoFactor.PhoneEnabled() {
			return nil, nil
		}
		settings := user.TwoFactor.Clone()
		settings.Phone = &PhoneFactor{Enabled: true}
		return &settings, nil
	})
}

// DisablePhone clears the phone factor flag.
func (m *TwoFactorManager) DisablePhone(ctx context.Context, userID ulid.ULID) error {
	return m.modify(ctx, userID, func(user *User) (*TwoFactorSettings, error) {
		if user.TwoFactor.Phone == nil {
			return nil, nil
		}
		settings := user.TwoFactor.Clone()
		settings.Phone = nil
		return &settings, nil
	})
}

// SendPhoneChallenge stores a fresh code digest for the user, replacing any
// outstanding one, and hands the code to the dispatcher.
func (m *TwoFactorManager) SendPhoneChallenge(ctx context.Context, userID ulid.ULID) error {
	if m.dispatcher == nil {
		return oops.Code("AUTH_INVALID_CONFIG").Errorf("phone challenges need a dispatcher")
	}
	user, err := m.user(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasVerifiedPhone() {
		return oops.Code("TWOFACTOR_PHONE_REQUIRED").
			With("user_id", userID.String()).
			Wrapf(errutil.ErrPolicyViolation, "a verified phone number is required")
	}

	code, err := randomDigits(PhoneCodeDigits)
	if err != nil {
		return err
	}
	challenge := &PhoneChallenge{UserID: userID, CodeHash: HashToken(code), CreatedAt: m.now()}
	if err := m.challenges.Upsert(ctx, challenge); err != nil {
		return oops.Code("TWOFACTOR_CHALLENGE_FAILED").With("user_id", userID.String()).Wrap(err)
	}

	m.dispatcher.Dispatch(ctx, Notification{
		Channel:     ChannelSMS,
		Destination: *user.Phone,
		Template:    TemplatePhoneCode,
		Data:        map[string]string{"code": code},
	})
	return nil
}

// VerifyPhoneChallenge checks code against the user's outstanding challenge
// and consumes it on success. Missing or mismatched codes are
// InvalidCredential; stale ones are Expired and removed. A challenge is
// discarded after MaxPhoneChallengeAttempts wrong codes.
func (m *TwoFactorManager) VerifyPhoneChallenge(ctx context.Context, userID ulid.ULID, code string) error {
	err := m.checkPhone(ctx, userID, code)
	secondFactorChecks.WithLabelValues(string(FactorPhone), outcome(err == nil)).Inc()
	return err
}

// RequiredFactors lists the factors a login challenge for user may accept.
// Backup codes are listed whenever any remain.
func (m *TwoFactorManager) RequiredFactors(user *User) []Factor {
	var factors []Factor
	if user.TwoFactor.TOTPEnabled() {
		factors = append(factors, FactorTOTP)
	}
	if user.TwoFactor.PhoneEnabled() {
		factors = append(factors, FactorPhone)
	}
	if user.TwoFactor.HasBackupCodes() {
		factors = append(factors, FactorBackup)
	}
	return factors
}

// VerifySecondFactor answers a login challenge. It tries the authenticator
// code, then the phone code, then falls back to the backup list; a matched
// backup code is removed. An account with nothing to check against returns
// ErrNoSecondFactor.
func (m *TwoFactorManager) VerifySecondFactor(ctx context.Context, userID ulid.ULID, code string) (Factor, error) {
	user, err := m.user(ctx, userID)
	if err != nil {
		return "", err
	}
	tf := user.TwoFactor
	if !tf.TOTPEnabled() && !tf.PhoneEnabled() && !tf.HasBackupCodes() {
		return "", oops.Code("TWOFACTOR_NOT_CONFIGURED").With("user_id", userID.String()).Wrap(ErrNoSecondFactor)
	}

	if tf.TOTPEnabled() && m.validTOTP(code, tf.TOTP.Secret) {
		secondFactorChecks.WithLabelValues(string(FactorTOTP), outcome(true)).Inc()
		return FactorTOTP, nil
	}

	if tf.PhoneEnabled() {
		err := m.checkPhone(ctx, userID, code)
		if err == nil {
			secondFactorChecks.WithLabelValues(string(FactorPhone), outcome(true)).Inc()
			return FactorPhone, nil
		}
		if errutil.KindOf(err) == errutil.KindStoreUnavailable {
			return "", err
		}
	}

	if matchBackup(tf, code) >= 0 {
		used, remaining, err := m.consumeBackup(ctx, userID, code)
		if err != nil {
			return "", err
		}
		if used {
			secondFactorChecks.WithLabelValues(string(FactorBackup), outcome(true)).Inc()
			m.logger.InfoContext(ctx, "backup code used", "user_id", userID.String(), "remaining", remaining)
			return FactorBackup, nil
		}
	}

	secondFactorChecks.WithLabelValues("any", outcome(false)).Inc()
	return "", oops.Code("TWOFACTOR_INVALID_TOKEN").With("user_id", userID.String()).Wrap(errutil.ErrInvalidCredential)
}

// PruneExpiredChallenges removes phone challenges past their TTL.
func (m *TwoFactorManager) PruneExpiredChallenges(ctx context.Context) (int64, error) {
	n, err := m.challenges.DeleteOlderThan(ctx, m.now().Add(-m.ttl))
	if err != nil {
		return 0, oops.Code("TWOFACTOR_PRUNE_FAILED").Wrap(err)
	}
	prunedRows.WithLabelValues("phone_challenge").Add(float64(n))
	return n, nil
}

// GenerateBackupCodes returns BackupCodeCount fresh zero-padded codes.
func GenerateBackupCodes() ([]string, error) {
	codes := make([]string, 0, BackupCodeCount)
	for range BackupCodeCount {
		c, err := randomDigits(BackupCodeDigits)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, nil
}

// consumeBackup removes code from the locked backup list. A code another
// request already used is reported as unused.
func (m *TwoFactorManager) consumeBackup(ctx context.Context, userID ulid.ULID, code string) (used bool, remaining int, err error) {
	err = m.modify(ctx, userID, func(user *User) (*TwoFactorSettings, error) {
		idx := matchBackup(user.TwoFactor, code)
		if idx < 0 {
			return nil, nil
		}
		settings := user.TwoFactor.Clone()
		settings.TOTP.Backup = slices.Delete(settings.TOTP.Backup, idx, idx+1)
		used, remaining = true, len(settings.TOTP.Backup)
		return &settings, nil
	})
	return used, remaining, err
}

func (m *TwoFactorManager) checkPhone(ctx context.Context, userID ulid.ULID, code string) error {
	invalid := func() error {
		return oops.Code("TWOFACTOR_INVALID_CODE").With("user_id", userID.String()).Wrap(errutil.ErrInvalidCredential)
	}

	challenge, err := m.challenges.Get(ctx, userID)
	if errors.Is(err, errutil.ErrNotFound) {
		return invalid()
	}
	if err != nil {
		return oops.Code("TWOFACTOR_CHALLENGE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	if challenge.IsExpiredAt(m.now(), m.ttl) {
		m.discardChallenge(ctx, userID)
		return oops.Code("TWOFACTOR_CODE_EXPIRED").With("user_id", userID.String()).Wrap(errutil.ErrExpired)
	}
	if challenge.Attempts >= MaxPhoneChallengeAttempts {
		m.discardChallenge(ctx, userID)
		return invalid()
	}

	if !VerifyToken(code, challenge.CodeHash) {
		attempts, err := m.challenges.RecordFailure(ctx, userID)
		if err != nil {
			return oops.Code("TWOFACTOR_CHALLENGE_FAILED").With("user_id", userID.String()).Wrap(err)
		}
		if attempts >= MaxPhoneChallengeAttempts {
			m.logger.InfoContext(ctx, "phone challenge discarded after failed attempts",
				"user_id", userID.String(), "attempts", attempts)
			m.discardChallenge(ctx, userID)
		}
		return invalid()
	}

	consumed, err := m.challenges.Consume(ctx, userID, challenge.CodeHash)
	if err != nil {
		return oops.Code("TWOFACTOR_CHALLENGE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	if !consumed {
		return invalid()
	}
	return nil
}

func (m *TwoFactorManager) discardChallenge(ctx context.Context, userID ulid.ULID) {
	if err := m.challenges.Delete(ctx, userID); err != nil {
		errutil.LogWarn(ctx, m.logger, "delete phone challenge failed", err)
	}
}

func (m *TwoFactorManager) validTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, m.now().UTC(), totpOpts)
	return err == nil && ok
}

func (m *TwoFactorManager) key(user *User, secret []byte) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: user.Email,
		Period:      TOTPPeriod,
		SecretSize:  TOTPSecretSize,
		Secret:      secret,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, oops.Code("TWOFACTOR_SECRET_FAILED").With("user_id", user.ID.String()).Wrap(err)
	}
	return key, nil
}

func (m *TwoFactorManager) user(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, oops.Code("TWOFACTOR_USER_LOOKUP_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return user, nil
}

// modify runs fn under the user's two-factor lock. Errors from fn come back
// unchanged; repository failures are wrapped.
func (m *TwoFactorManager) modify(ctx context.Context, userID ulid.ULID, fn TwoFactorMutation) error {
	var fnErr error
	err := m.users.ModifyTwoFactor(ctx, userID, func(user *User) (*TwoFactorSettings, error) {
		next, err := fn(user)
		fnErr = err
		return next, err
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return oops.Code("TWOFACTOR_SAVE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return nil
}

// matchBackup returns the index of code in the backup list, or -1. Every
// entry is compared so timing does not reveal the position.
func matchBackup(tf TwoFactorSettings, code string) int {
	if tf.TOTP == nil || code == "" {
		return -1
	}
	found := -1
	for i, candidate := range tf.TOTP.Backup {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 && found < 0 {
			found = i
		}
	}
	return found
}
