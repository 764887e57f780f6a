// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortauth/fort/internal/auth"
	"github.com/fortauth/fort/internal/auth/authtest"
	"github.com/fortauth/fort/pkg/errutil"
)

type twoFactorFixture struct {
	manager    *auth.TwoFactorManager
	users      *authtest.Users
	challenges *authtest.Challenges
	clock      *fakeClock
	user       *auth.User
}

func newTwoFactorFixture(t *testing.T, dispatcher *auth.Dispatcher) *twoFactorFixture {
	t.Helper()
	user, err := auth.NewUser("alice", "a@x.com", "hash")
	require.NoError(t, err)
	phone := "+15550100"
	user.Phone = &phone
	user.PhoneVerified = true

	f := &twoFactorFixture{
		users:      authtest.NewUsers(user),
		challenges: authtest.NewChallenges(),
		clock:      newFakeClock(),
		user:       user,
	}
	f.manager, err = auth.NewTwoFactorManager(auth.TwoFactorManagerConfig{
		Users:        f.users,
		Challenges:   f.challenges,
		Dispatcher:   dispatcher,
		Issuer:       "Fort",
		ChallengeTTL: 10 * time.Minute,
		Clock:        f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

func (f *twoFactorFixture) code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    auth.TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// enable runs enrollment end to end and returns the confirmed factor.
func (f *twoFactorFixture) enable(t *testing.T) *auth.TOTPFactor {
	t.Helper()
	ctx := context.Background()
	enrollment, err := f.manager.BeginEnrollment(ctx, f.user.ID)
	require.NoError(t, err)
	factor, err := f.manager.ConfirmEnrollment(ctx, f.user.ID, f.code(t, enrollment.Secret, f.clock.Now()))
	require.NoError(t, err)
	return factor
}

func TestNewTwoFactorManager_RequiresIssuer(t *testing.T) {
	_, err := auth.NewTwoFactorManager(auth.TwoFactorManagerConfig{
		Users:      authtest.NewUsers(),
		Challenges: authtest.NewChallenges(),
	})
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_CONFIG")
}

func TestTwoFactorManager_BeginEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	first, err := f.manager.BeginEnrollment(ctx, f.user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Secret)
	assert.Contains(t, first.URI, "otpauth://totp/")
	assert.Contains(t, first.URI, "issuer=Fort")

	second, err := f.manager.BeginEnrollment(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Secret, second.Secret)
	assert.Equal(t, first.URI, second.URI)

	stored := f.users.Get(f.user.ID)
	require.NotNil(t, stored.TwoFactor.TOTP)
	assert.False(t, stored.TwoFactor.TOTPEnabled(), "not enabled until confirmed")
	assert.Equal(t, first.Secret, stored.TwoFactor.TOTP.Secret)
}

func TestTwoFactorManager_ConfirmEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	_, err := f.manager.ConfirmEnrollment(ctx, f.user.ID, "123456")
	errutil.AssertErrorCode(t, err, "TWOFACTOR_NOT_ENROLLED")

	enrollment, err := f.manager.BeginEnrollment(ctx, f.user.ID)
	require.NoError(t, err)

	stale := f.code(t, enrollment.Secret, f.clock.Now().Add(-2*time.Minute))
	_, err = f.manager.ConfirmEnrollment(ctx, f.user.ID, stale)
	errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_TOKEN")
	errutil.AssertErrorKind(t, err, errutil.KindInvalidCredential)
	assert.False(t, f.users.Get(f.user.ID).TwoFactor.TOTPEnabled())

	factor, err := f.manager.ConfirmEnrollment(ctx, f.user.ID, f.code(t, enrollment.Secret, f.clock.Now()))
	require.NoError(t, err)
	assert.True(t, factor.Enabled)
	require.Len(t, factor.Backup, auth.BackupCodeCount)
	for _, c := range factor.Backup {
		assert.Regexp(t, `^[0-9]{10}$`, c)
	}
	require.NotNil(t, factor.BackupAt)
	assert.True(t, factor.BackupAt.Equal(f.clock.Now()))

	// A second confirmation keeps the existing backup list.
	f.clock.Advance(time.Minute)
	again, err := f.manager.ConfirmEnrollment(ctx, f.user.ID, f.code(t, enrollment.Secret, f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, factor.Backup, again.Backup)
	assert.True(t, again.BackupAt.Equal(*factor.BackupAt))
}

func TestTwoFactorManager_TOTPSkew(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)
	factor := f.enable(t)
	now := f.clock.Now()

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		factorUsed, err := f.manager.VerifySecondFactor(ctx, f.user.ID, f.code(t, factor.Secret, now.Add(offset)))
		require.NoError(t, err, "offset %s", offset)
		assert.Equal(t, auth.FactorTOTP, factorUsed)
	}

	_, err := f.manager.VerifySecondFactor(ctx, f.user.ID, f.code(t, factor.Secret, now.Add(90*time.Second)))
	errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_TOKEN")
}

func TestTwoFactorManager_RegenerateBackupCodes(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)

	_, err := f.manager.RegenerateBackupCodes(ctx, f.user.ID)
	errutil.AssertErrorCode(t, err, "TWOFACTOR_CANT_BACKUP")
	errutil.AssertErrorKind(t, err, errutil.KindPolicyViolation)

	factor := f.enable(t)
	f.clock.Advance(time.Hour)
	codes, err := f.manager.RegenerateBackupCodes(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, codes, auth.BackupCodeCount)
	assert.NotEqual(t, factor.Backup, codes)

	stored := f.users.Get(f.user.ID).TwoFactor.TOTP
	assert.Equal(t, codes, stored.Backup)
	assert.True(t, stored.BackupAt.Equal(f.clock.Now()))
}

func TestTwoFactorManager_DisableTOTP(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)
	f.enable(t)

	require.NoError(t, f.manager.DisableTOTP(ctx, f.user.ID))
	assert.Nil(t, f.users.Get(f.user.ID).TwoFactor.TOTP)

	saves := f.users.Saves
	require.NoError(t, f.manager.DisableTOTP(ctx, f.user.ID))
	assert.Equal(t, saves, f.users.Saves, "disabling twice writes nothing")
}

func TestTwoFactorManager_EnablePhone(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a verified phone", func(t *testing.T) {
		f := newTwoFactorFixture(t, nil)
		unverified, err := auth.NewUser("bob", "b@x.com", "hash")
		require.NoError(t, err)
		phone := "+15550111"
		unverified.Phone = &phone
		require.NoError(t, f.users.Create(ctx, unverified))

		err = f.manager.EnablePhone(ctx, unverified.ID)
		errutil.AssertErrorCode(t, err, "TWOFACTOR_PHONE_REQUIRED")
		errutil.AssertErrorKind(t, err, errutil.KindPolicyViolation)
	})

	t.Run("is idempotent", func(t *testing.T) {
		f := newTwoFactorFixture(t, nil)
		require.NoError(t, f.manager.EnablePhone(ctx, f.user.ID))
		saves := f.users.Saves
		require.NoError(t, f.manager.EnablePhone(ctx, f.user.ID))
		assert.Equal(t, saves, f.users.Saves)
		assert.True(t, f.users.Get(f.user.ID).TwoFactor.PhoneEnabled())

		require.NoError(t, f.manager.DisablePhone(ctx, f.user.ID))
		assert.False(t, f.users.Get(f.user.ID).TwoFactor.PhoneEnabled())
	})
}

// sendChallenge sends a phone code through a real dispatcher and returns
// the delivered code.
func sendChallenge(t *testing.T) (*twoFactorFixture, string) {
	t.Helper()
	notifier := &authtest.Notifier{}
	dispatcher, err := auth.NewDispatcher(auth.DispatcherConfig{Notifier: notifier})
	require.NoError(t, err)
	f := newTwoFactorFixture(t, dispatcher)

	require.NoError(t, f.manager.SendPhoneChallenge(context.Background(), f.user.ID))
	require.NoError(t, dispatcher.Close(context.Background()))

	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, auth.ChannelSMS, sent[0].Channel)
	assert.Equal(t, "+15550100", sent[0].Destination)
	assert.Equal(t, auth.TemplatePhoneCode, sent[0].Template)
	code := sent[0].Data["code"]
	require.Len(t, code, auth.PhoneCodeDigits)
	return f, code
}

func TestTwoFactorManager_PhoneChallenge(t *testing.T) {
	ctx := context.Background()

	t.Run("verifies once", func(t *testing.T) {
		f, code := sendChallenge(t)

		err := f.manager.VerifyPhoneChallenge(ctx, f.user.ID, "000000x")
		errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_CODE")

		require.NoError(t, f.manager.VerifyPhoneChallenge(ctx, f.user.ID, code))

		err = f.manager.VerifyPhoneChallenge(ctx, f.user.ID, code)
		errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_CODE")
		errutil.AssertErrorKind(t, err, errutil.KindInvalidCredential)
	})

	t.Run("expires", func(t *testing.T) {
		f, code := sendChallenge(t)
		f.clock.Advance(11 * time.Minute)

		err := f.manager.VerifyPhoneChallenge(ctx, f.user.ID, code)
		errutil.AssertErrorCode(t, err, "TWOFACTOR_CODE_EXPIRED")
		errutil.AssertErrorKind(t, err, errutil.KindExpired)

		_, err = f.challenges.Get(ctx, f.user.ID)
		assert.True(t, errors.Is(err, errutil.ErrNotFound), "stale challenge is removed")
	})

	t.Run("discarded after too many wrong codes", func(t *testing.T) {
		f, code := sendChallenge(t)
		wrong := "x" + code[1:]

		for range auth.MaxPhoneChallengeAttempts - 1 {
			err := f.manager.VerifyPhoneChallenge(ctx, f.user.ID, wrong)
			errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_CODE")
		}
		c, err := f.challenges.Get(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, auth.MaxPhoneChallengeAttempts-1, c.Attempts)

		err = f.manager.VerifyPhoneChallenge(ctx, f.user.ID, wrong)
		errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_CODE")
		_, err = f.challenges.Get(ctx, f.user.ID)
		assert.True(t, errors.Is(err, errutil.ErrNotFound), "challenge is gone after the last allowed attempt")

		err = f.manager.VerifyPhoneChallenge(ctx, f.user.ID, code)
		errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_CODE")
	})

	t.Run("exhausted challenge refuses the right code", func(t *testing.T) {
		f, code := sendChallenge(t)
		c, err := f.challenges.Get(ctx, f.user.ID)
		require.NoError(t, err)
		for range auth.MaxPhoneChallengeAttempts {
			_, err := f.challenges.RecordFailure(ctx, f.user.ID)
			require.NoError(t, err)
		}

		err = f.manager.VerifyPhoneChallenge(ctx, f.user.ID, code)
		errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_CODE")
		_, err = f.challenges.Get(ctx, f.user.ID)
		assert.True(t, errors.Is(err, errutil.ErrNotFound))

		// A fresh challenge starts counting from zero.
		require.NoError(t, f.challenges.Upsert(ctx, c))
		got, err := f.challenges.Get(ctx, f.user.ID)
		require.NoError(t, err)
		assert.Zero(t, got.Attempts)
	})

	t.Run("right code accepted once under concurrency", func(t *testing.T) {
		f, code := sendChallenge(t)

		const callers = 8
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = f.manager.VerifyPhoneChallenge(ctx, f.user.ID, code)
			}()
		}
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			if err == nil {
				accepted++
			}
		}
		assert.Equal(t, 1, accepted)
	})

	t.Run("needs a dispatcher", func(t *testing.T) {
		f := newTwoFactorFixture(t, nil)
		err := f.manager.SendPhoneChallenge(ctx, f.user.ID)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CONFIG")
	})

	t.Run("prunes stale challenges", func(t *testing.T) {
		f, _ := sendChallenge(t)
		n, err := f.manager.PruneExpiredChallenges(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		f.clock.Advance(time.Hour)
		n, err = f.manager.PruneExpiredChallenges(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestTwoFactorManager_VerifySecondFactor(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing configured", func(t *testing.T) {
		f := newTwoFactorFixture(t, nil)
		_, err := f.manager.VerifySecondFactor(ctx, f.user.ID, "123456")
		require.ErrorIs(t, err, auth.ErrNoSecondFactor)
		errutil.AssertErrorCode(t, err, "TWOFACTOR_NOT_CONFIGURED")
	})

	t.Run("phone code", func(t *testing.T) {
		f, code := sendChallenge(t)
		require.NoError(t, f.manager.EnablePhone(ctx, f.user.ID))

		factor, err := f.manager.VerifySecondFactor(ctx, f.user.ID, code)
		require.NoError(t, err)
		assert.Equal(t, auth.FactorPhone, factor)
	})

	t.Run("backup code is single use", func(t *testing.T) {
		f := newTwoFactorFixture(t, nil)
		enrolled := f.enable(t)
		backup := enrolled.Backup[3]

		factor, err := f.manager.VerifySecondFactor(ctx, f.user.ID, backup)
		require.NoError(t, err)
		assert.Equal(t, auth.FactorBackup, factor)

		remaining := f.users.Get(f.user.ID).TwoFactor.TOTP.Backup
		assert.Len(t, remaining, auth.BackupCodeCount-1)
		assert.NotContains(t, remaining, backup)

		_, err = f.manager.VerifySecondFactor(ctx, f.user.ID, backup)
		errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_TOKEN")
	})

	t.Run("backup codes outlive a disabled authenticator", func(t *testing.T) {
		f := newTwoFactorFixture(t, nil)
		enrolled := f.enable(t)
		require.NoError(t, f.users.ModifyTwoFactor(ctx, f.user.ID, func(u *auth.User) (*auth.TwoFactorSettings, error) {
			settings := u.TwoFactor.Clone()
			settings.TOTP.Enabled = false
			return &settings, nil
		}))

		assert.Equal(t, []auth.Factor{auth.FactorBackup}, f.manager.RequiredFactors(f.users.Get(f.user.ID)))
		factor, err := f.manager.VerifySecondFactor(ctx, f.user.ID, enrolled.Backup[0])
		require.NoError(t, err)
		assert.Equal(t, auth.FactorBackup, factor)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newTwoFactorFixture(t, nil)
		_, err := f.manager.VerifySecondFactor(ctx, ulid.Make(), "123456")
		errutil.AssertErrorKind(t, err, errutil.KindNotFound)
	})
}

func TestTwoFactorManager_RequiredFactors(t *testing.T) {
	f := newTwoFactorFixture(t, nil)
	assert.Empty(t, f.manager.RequiredFactors(f.user))

	f.enable(t)
	require.NoError(t, f.manager.EnablePhone(context.Background(), f.user.ID))
	assert.Equal(t,
		[]auth.Factor{auth.FactorTOTP, auth.FactorPhone, auth.FactorBackup},
		f.manager.RequiredFactors(f.users.Get(f.user.ID)))
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := auth.GenerateBackupCodes()
	require.NoError(t, err)
	assert.Len(t, codes, auth.BackupCodeCount)
	for _, c := range codes {
		assert.Len(t, c, auth.BackupCodeDigits)
	}
}

// racingUsers holds callers of GetByID or ModifyTwoFactor until every
// expected caller has arrived, so they all act on the same stored state.
type racingUsers struct {
	*authtest.Users
	getGate    *sync.WaitGroup
	modifyGate *sync.WaitGroup
}

func (r *racingUsers) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if r.getGate != nil {
		r.getGate.Done()
		r.getGate.Wait()
	}
	return r.Users.GetByID(ctx, id)
}

func (r *racingUsers) ModifyTwoFactor(ctx context.Context, id ulid.ULID, fn auth.TwoFactorMutation) error {
	if r.modifyGate != nil {
		r.modifyGate.Done()
		r.modifyGate.Wait()
	}
	return r.Users.ModifyTwoFactor(ctx, id, fn)
}

func newRacingFixture(t *testing.T) (*twoFactorFixture, *racingUsers) {
	t.Helper()
	f := newTwoFactorFixture(t, nil)
	racing := &racingUsers{Users: f.users}
	var err error
	f.manager, err = auth.NewTwoFactorManager(auth.TwoFactorManagerConfig{
		Users:        racing,
		Challenges:   f.challenges,
		Issuer:       "Fort",
		ChallengeTTL: 10 * time.Minute,
		Clock:        f.clock.Now,
	})
	require.NoError(t, err)
	return f, racing
}

func gate(n int) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(n)
	return &wg
}

func TestTwoFactorManager_ConcurrentBackupCodeUse(t *testing.T) {
	ctx := context.Background()
	f, racing := newRacingFixture(t)
	enrolled := f.enable(t)
	backup := enrolled.Backup[0]

	const callers = 2
	racing.getGate = gate(callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.manager.VerifySecondFactor(ctx, f.user.ID, backup)
		}()
	}
	wg.Wait()
	racing.getGate = nil

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		errutil.AssertErrorCode(t, err, "TWOFACTOR_INVALID_TOKEN")
	}
	assert.Equal(t, 1, accepted, "a backup code is accepted once")
	assert.Len(t, f.users.Get(f.user.ID).TwoFactor.TOTP.Backup, auth.BackupCodeCount-1)
}

func TestTwoFactorManager_ConcurrentEnrollment(t *testing.T) {
	ctx := context.Background()
	f, racing := newRacingFixture(t)

	const callers = 2
	racing.modifyGate = gate(callers)
	secrets := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := f.manager.BeginEnrollment(ctx, f.user.ID)
			if assert.NoError(t, err) {
				secrets[i] = e.Secret
			}
		}()
	}
	wg.Wait()

	stored := f.users.Get(f.user.ID).TwoFactor.TOTP.Secret
	assert.Equal(t, stored, secrets[0])
	assert.Equal(t, stored, secrets[1])
	assert.Equal(t, 1, f.users.Saves, "only the first caller writes a secret")

	code := f.code(t, stored, f.clock.Now())
	racing.modifyGate = gate(callers)
	factors := make([]*auth.TOTPFactor, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			factor, err := f.manager.ConfirmEnrollment(ctx, f.user.ID, code)
			if assert.NoError(t, err) {
				factors[i] = factor
			}
		}()
	}
	wg.Wait()
	racing.modifyGate = nil

	require.NotNil(t, factors[0])
	require.NotNil(t, factors[1])
	assert.Equal(t, factors[0].Backup, factors[1].Backup, "one backup list for concurrent confirmations")
	assert.Equal(t, factors[0].Backup, f.users.Get(f.user.ID).TwoFactor.TOTP.Backup)
}

func TestTwoFactorManager_StoreFailureIsWrapped(t *testing.T) {
	ctx := context.Background()
	f := newTwoFactorFixture(t, nil)
	f.users.Err = errutil.ErrStoreUnavailable

	_, err := f.manager.BeginEnrollment(ctx, f.user.ID)
	errutil.AssertErrorCode(t, err, "TWOFACTOR_SAVE_FAILED")
	errutil.AssertErrorKind(t, err, errutil.KindStoreUnavailable)

	err = f.manager.DisablePhone(ctx, f.user.ID)
	errutil.AssertErrorCode(t, err, "TWOFACTOR_SAVE_FAILED")
}
