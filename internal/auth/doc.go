// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

// Package auth holds Fort's credential-side services.
//
// # Domain Types
//
// User carries the account flags and the typed TwoFactorSettings value.
// Persistence is a remember-me session, PasswordResetToken a per-email reset
// row and PhoneChallenge a per-user SMS code. Only digests of tokens and
// codes are stored; plaintext values leave the package once, in the return
// value or a Notification.
//
// # Services
//
//   - PersistenceTracker - remember-me token lifecycle and revocation
//   - PasswordResetBroker - reset link issuance, validation and consumption
//   - TwoFactorManager - TOTP and phone factor enrollment and verification
//   - Registrar - self-service sign-up behind the registration flag
//   - SocialLinker - find-or-create for federated identities
//
// Services are created with New* constructors that validate dependencies.
// They hold no mutable state; everything lives behind the repositories.
package auth
