// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

//go:build integration

package auth_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/fortauth/fort/internal/auth"
	authpg "github.com/fortauth/fort/internal/auth/postgres"
	"github.com/fortauth/fort/internal/config"
	"github.com/fortauth/fort/pkg/errutil"
)

var _ = Describe("Authentication against PostgreSQL", func() {
	var (
		ctx     context.Context
		tables  config.Tables
		users   *authpg.UserRepository
		tracker *auth.PersistenceTracker
		alice   *auth.User
	)

	BeforeEach(func() {
		ctx = context.Background()
		Expect(db.Truncate(ctx)).To(Succeed())

		tables = config.DefaultTables()
		users = authpg.NewUserRepository(db.Pool, tables)

		var err error
		tracker, err = auth.NewPersistenceTracker(auth.PersistenceTrackerConfig{
			Repo: authpg.NewPersistenceRepository(db.Pool, tables),
		})
		Expect(err).NotTo(HaveOccurred())

		alice, err = auth.NewUser("alice", "a@x.com", "old-hash")
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Create(ctx, alice)).To(Succeed())
	})

	Describe("users", func() {
		It("enforces case-insensitive uniqueness", func() {
			dup, err := auth.NewUser("ALICE", "other@x.com", "hash")
			Expect(err).NotTo(HaveOccurred())
			err = users.Create(ctx, dup)
			Expect(errutil.KindOf(err)).To(Equal(errutil.KindConflict))
		})

		It("round-trips two factor settings", func() {
			at := time.Now().UTC().Truncate(time.Second)
			settings := auth.TwoFactorSettings{
				TOTP: &auth.TOTPFactor{Enabled: true, Secret: "SECRET", Backup: []string{"0000000001"}, BackupAt: &at},
			}
			Expect(users.ModifyTwoFactor(ctx, alice.ID, func(*auth.User) (*auth.TwoFactorSettings, error) {
				return &settings, nil
			})).To(Succeed())

			got, err := users.GetByUsername(ctx, "Alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.TwoFactor.TOTPEnabled()).To(BeTrue())
			Expect(got.TwoFactor.TOTP.Backup).To(Equal([]string{"0000000001"}))
			Expect(got.TwoFactor.TOTP.BackupAt.Equal(at)).To(BeTrue())
		})
	})

	Describe("persistences", func() {
		It("rejects a token already on file", func() {
			_, err := tracker.Create(ctx, alice.ID, "cookie", "agent", "127.0.0.1", false)
			Expect(err).NotTo(HaveOccurred())

			_, err = tracker.Create(ctx, alice.ID, "cookie", "", "", false)
			Expect(errutil.KindOf(err)).To(Equal(errutil.KindConflict))
		})

		It("revokes other devices", func() {
			for _, tok := range []string{"current", "laptop", "phone"} {
				_, err := tracker.Create(ctx, alice.ID, tok, "", "", false)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(tracker.RevokeOthers(ctx, alice.ID, "current")).To(Equal(int64(2)))

			_, err := tracker.FindByToken(ctx, "current")
			Expect(err).NotTo(HaveOccurred())
			_, err = tracker.FindByToken(ctx, "laptop")
			Expect(errors.Is(err, errutil.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("password reset", func() {
		var broker *auth.PasswordResetBroker

		BeforeEach(func() {
			var err error
			broker, err = auth.NewPasswordResetBroker(auth.PasswordResetBrokerConfig{
				Users:        users,
				Resets:       authpg.NewPasswordResetRepository(db.Pool, tables),
				Persistences: tracker,
				Hasher:       auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}),
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("honours only the latest token and revokes devices", func() {
			_, err := tracker.Create(ctx, alice.ID, "device", "", "", false)
			Expect(err).NotTo(HaveOccurred())

			first, err := broker.SendResetLink(ctx, auth.ResetCredentials{Email: "a@x.com"})
			Expect(err).NotTo(HaveOccurred())
			second, err := broker.SendResetLink(ctx, auth.ResetCredentials{Email: "a@x.com"})
			Expect(err).NotTo(HaveOccurred())

			Expect(broker.ValidateToken(ctx, "a@x.com", first.Token)).To(BeFalse())
			Expect(broker.ValidateToken(ctx, "a@x.com", second.Token)).To(BeTrue())

			res, err := broker.Reset(ctx, auth.ResetCredentials{
				Email: "a@x.com", Token: second.Token, Password: "new-secret", PasswordConfirmation: "new-secret",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(auth.ResetSuccess))

			_, err = tracker.FindByToken(ctx, "device")
			Expect(errors.Is(err, errutil.ErrNotFound)).To(BeTrue())
			Expect(broker.ValidateToken(ctx, "a@x.com", second.Token)).To(BeFalse())
		})

		It("lets only one of several concurrent resets use a token", func() {
			link, err := broker.SendResetLink(ctx, auth.ResetCredentials{Email: "a@x.com"})
			Expect(err).NotTo(HaveOccurred())

			const callers = 6
			statuses := make([]auth.ResetStatus, callers)
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := broker.Reset(ctx, auth.ResetCredentials{
						Email: "a@x.com", Token: link.Token, Password: "secret1", PasswordConfirmation: "secret1",
					}, nil)
					statuses[i], errs[i] = res.Status, err
				}()
			}
			wg.Wait()

			successes := 0
			for i := range callers {
				Expect(errs[i]).NotTo(HaveOccurred())
				if statuses[i] == auth.ResetSuccess {
					successes++
				} else {
					Expect(statuses[i]).To(Equal(auth.ResetInvalidToken))
				}
			}
			Expect(successes).To(Equal(1))
		})
	})

	Describe("two factor", func() {
		It("enrolls and verifies TOTP and backup codes", func() {
			manager, err := auth.NewTwoFactorManager(auth.TwoFactorManagerConfig{
				Users:      users,
				Challenges: authpg.NewPhoneChallengeRepository(db.Pool, tables),
				Issuer:     "Fort",
			})
			Expect(err).NotTo(HaveOccurred())

			enrollment, err := manager.BeginEnrollment(ctx, alice.ID)
			Expect(err).NotTo(HaveOccurred())
			code, err := totp.GenerateCodeCustom(enrollment.Secret, time.Now(), totp.ValidateOpts{
				Period: auth.TOTPPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
			})
			Expect(err).NotTo(HaveOccurred())

			factor, err := manager.ConfirmEnrollment(ctx, alice.ID, code)
			Expect(err).NotTo(HaveOccurred())
			Expect(factor.Backup).To(HaveLen(auth.BackupCodeCount))

			used, err := manager.VerifySecondFactor(ctx, alice.ID, factor.Backup[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(Equal(auth.FactorBackup))

			stored, err := users.GetByID(ctx, alice.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.TwoFactor.TOTP.Backup).To(HaveLen(auth.BackupCodeCount - 1))
		})

		It("serializes concurrent enrollment and backup code use", func() {
			manager, err := auth.NewTwoFactorManager(auth.TwoFactorManagerConfig{
				Users:      users,
				Challenges: authpg.NewPhoneChallengeRepository(db.Pool, tables),
				Issuer:     "Fort",
			})
			Expect(err).NotTo(HaveOccurred())

			const callers = 6
			secrets := make([]string, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if e, err := manager.BeginEnrollment(ctx, alice.ID); err == nil {
						secrets[i] = e.Secret
					}
				}()
			}
			wg.Wait()
			stored, err := users.GetByID(ctx, alice.ID)
			Expect(err).NotTo(HaveOccurred())
			for _, secret := range secrets {
				Expect(secret).To(Equal(stored.TwoFactor.TOTP.Secret))
			}

			code, err := totp.GenerateCodeCustom(stored.TwoFactor.TOTP.Secret, time.Now(), totp.ValidateOpts{
				Period: auth.TOTPPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
			})
			Expect(err).NotTo(HaveOccurred())
			factor, err := manager.ConfirmEnrollment(ctx, alice.ID, code)
			Expect(err).NotTo(HaveOccurred())

			accepted := make([]bool, callers)
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := manager.VerifySecondFactor(ctx, alice.ID, factor.Backup[0])
					accepted[i] = err == nil
				}()
			}
			wg.Wait()
			count := 0
			for _, ok := range accepted {
				if ok {
					count++
				}
			}
			Expect(count).To(Equal(1))
		})
	})

	Describe("social login", func() {
		It("creates once and finds afterwards", func() {
			linker, err := auth.NewSocialLinker(authpg.NewSocialLinkRepository(db.Pool, tables), users, nil)
			Expect(err).NotTo(HaveOccurred())

			ident := auth.ExternalIdentity{Provider: "github", UID: "42", Email: "octo@x.com", Username: "octo"}
			first, created, err := linker.FindOrCreate(ctx, ident)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			second, created, err := linker.FindOrCreate(ctx, ident)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("leaves no user behind when the email is taken", func() {
			linker, err := auth.NewSocialLinker(authpg.NewSocialLinkRepository(db.Pool, tables), users, nil)
			Expect(err).NotTo(HaveOccurred())

			_, _, err = linker.FindOrCreate(ctx, auth.ExternalIdentity{Provider: "github", UID: "7", Email: "A@x.com", Username: "alice2"})
			Expect(errutil.KindOf(err)).To(Equal(errutil.KindConflict))

			_, err = users.GetByUsername(ctx, "alice2")
			Expect(errors.Is(err, errutil.ErrNotFound)).To(BeTrue())
		})
	})
})
