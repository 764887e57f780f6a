// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

// Package postgres implements the access repositories on PostgreSQL. Table
// names come from config.Tables; every grant and revoke is one statement.
package postgres
