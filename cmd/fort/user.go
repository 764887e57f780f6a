// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fortauth/fort/internal/access"
	"github.com/fortauth/fort/internal/auth"
)

// NewUserCmd creates the user subcommand group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage a user's grants, sessions and second factors",
		Long: `USER may be a ULID, an email address or a username.
Grant changes on a protected account are refused.`,
	}

	cmd.AddCommand(
		newUserRegisterCmd(),
		userGrantCmd("grant-ability USER ABILITY", "Grant an ability directly to a user", grantUserAbility),
		userGrantCmd("revoke-ability USER ABILITY", "Revoke a direct ability grant", revokeUserAbility),
		userGrantCmd("assign-role USER ROLE", "Add a user to a role", assignRole),
		userGrantCmd("remove-role USER ROLE", "Remove a user from a role", removeRole),
		newUserCanCmd(),
		newUserSessionsCmd(),
		newUserRevokeSessionsCmd(),
		newUserResetLinkCmd(),
		newUserDisable2FACmd(),
	)
	return cmd
}

func newUserRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register USERNAME EMAIL",
		Short: "Create an account, reading the password from stdin",
		Long: `Create an active account. The first line of stdin is the password.
Refused unless registration_enabled is set.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return registerUser(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), a.registrar, args[0], args[1])
			})
		},
	}
}

func registerUser(ctx context.Context, in io.Reader, out io.Writer, registrar *auth.Registrar, username, email string) error {
	password, err := readPassword(in)
	if err != nil {
		return err
	}
	user, err := registrar.Register(ctx, auth.Registration{
		Username:             username,
		Email:                email,
		Password:             password,
		PasswordConfirmation: password,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Registered %s (%s)\n", user.Username, user.ID)
	return err
}

func readPassword(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type grantFunc func(ctx context.Context, svc *access.Service, user *auth.User, ref string) error

func userGrantCmd(use, short string, fn grantFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				user, err := auth.LookupUser(ctx, a.users, args[0])
				if err != nil {
					return err
				}
				if err := fn(ctx, a.access, user, args[1]); err != nil {
					return err
				}
				cmd.Println("OK")
				return nil
			})
		},
	}
}

func grantUserAbility(ctx context.Context, svc *access.Service, user *auth.User, ref string) error {
	ability, err := svc.FindAbility(ctx, ref)
	if err != nil {
		return err
	}
	return svc.GrantUserAbility(ctx, user.ID, ability.ID)
}

func revokeUserAbility(ctx context.Context, svc *access.Service, user *auth.User, ref string) error {
	ability, err := svc.FindAbility(ctx, ref)
	if err != nil {
		return err
	}
	return svc.RevokeUserAbility(ctx, user.ID, ability.ID)
}

func assignRole(ctx context.Context, svc *access.Service, user *auth.User, ref string) error {
	role, err := svc.FindRole(ctx, ref)
	if err != nil {
		return err
	}
	return svc.AssignRole(ctx, user.ID, role.ID)
}

func removeRole(ctx context.Context, svc *access.Service, user *auth.User, ref string) error {
	role, err := svc.FindRole(ctx, ref)
	if err != nil {
		return err
	}
	return svc.RemoveRole(ctx, user.ID, role.ID)
}

func newUserCanCmd() *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "can USER RESOURCE ACTION",
		Short: "Check whether a user may perform an action",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *string
			if cmd.Flags().Changed("policy") {
				p = &policy
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return checkCan(ctx, cmd.OutOrStdout(), a.users, a.authorizer, args[0], args[1], args[2], p)
			})
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "", "policy qualifier")
	return cmd
}

func checkCan(ctx context.Context, out io.Writer, users auth.UserRepository, authz *access.Authorizer, ref, resource, action string, policy *string) error {
	user, err := auth.LookupUser(ctx, users, ref)
	if err != nil {
		return err
	}
	allowed, err := authz.Can(ctx, access.PrincipalID(user.ID), resource, action, policy)
	if err != nil {
		return err
	}
	verdict := "denied"
	if allowed {
		verdict = "allowed"
	}
	_, err = io.WriteString(out, verdict+"\n")
	return err
}

func newUserSessionsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "sessions USER",
		Short: "List a user's remember-me sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				user, err := auth.LookupUser(ctx, a.users, args[0])
				if err != nil {
					return err
				}
				sessions, err := a.tracker.ListForUser(ctx, user.ID)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), jsonOutput, sessionViews(sessions), formatSessionsTable)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newUserRevokeSessionsCmd() *cobra.Command {
	var keep string
	cmd := &cobra.Command{
		Use:   "revoke-sessions USER",
		Short: "Revoke a user's remember-me sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := revokeSessions(ctx, a.users, a.tracker, args[0], keep)
				if err != nil {
					return err
				}
				cmd.Printf("Revoked %d session(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&keep, "keep", "", "raw token of the session to keep")
	return cmd
}

func revokeSessions(ctx context.Context, users auth.UserRepository, tracker *auth.PersistenceTracker, ref, keep string) (int64, error) {
	user, err := auth.LookupUser(ctx, users, ref)
	if err != nil {
		return 0, err
	}
	if keep != "" {
		return tracker.RevokeOthers(ctx, user.ID, keep)
	}
	return tracker.RevokeAll(ctx, user.ID)
}

func newUserResetLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-link EMAIL",
		Short: "Issue a password reset token and print it",
		Long: `Issue a password reset token for EMAIL, replacing any earlier one, and
print it so an operator can hand it over out of band.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return issueResetLink(ctx, cmd.OutOrStdout(), a.resets, args[0])
			})
		},
	}
}

func issueResetLink(ctx context.Context, out io.Writer, broker *auth.PasswordResetBroker, email string) error {
	result, err := broker.SendResetLink(ctx, auth.ResetCredentials{Email: email})
	if err != nil {
		return err
	}
	if result.Token == "" {
		_, err = io.WriteString(out, "no account for "+email+"\n")
		return err
	}
	_, err = io.WriteString(out, result.Token+"\n")
	return err
}

func newUserDisable2FACmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable-2fa USER",
		Short: "Turn off every second factor for a user",
		Long:  `Clears the TOTP secret and backup codes and turns off phone codes.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := disableSecondFactors(ctx, a.users, a.twoFactor, args[0]); err != nil {
					return err
				}
				cmd.Println("Second factors disabled")
				return nil
			})
		},
	}
}

func disableSecondFactors(ctx context.Context, users auth.UserRepository, m *auth.TwoFactorManager, ref string) error {
	user, err := auth.LookupUser(ctx, users, ref)
	if err != nil {
		return err
	}
	if err := m.DisableTOTP(ctx, user.ID); err != nil {
		return err
	}
	return m.DisablePhone(ctx, user.ID)
}
