// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

// Package postgres implements the auth repositories on PostgreSQL. Table
// names come from config.Tables and are quoted before interpolation.
package postgres
