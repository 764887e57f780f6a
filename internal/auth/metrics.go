// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// persistencesRevoked counts remember tokens removed by bulk revocation.
	persistencesRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fort_persistences_revoked_total",
		Help: "Total number of remember-me persistences revoked in bulk",
	})

	// resetOutcomes counts password reset flow results.
	resetOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fort_password_reset_results_total",
		Help: "Total number of password reset operations by step and result",
	}, []string{"step", "result"})

	// secondFactorChecks counts second-factor verifications.
	secondFactorChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fort_second_factor_checks_total",
		Help: "Total number of second-factor code checks by factor and outcome",
	}, []string{"factor", "outcome"})

	// notificationsDispatched counts notifier hand-offs.
	notificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fort_notifications_total",
		Help: "Total number of notifications by channel and delivery outcome",
	}, []string{"channel", "outcome"})

	// prunedRows counts rows removed by the expiry janitor.
	prunedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fort_pruned_rows_total",
		Help: "Total number of expired token rows pruned",
	}, []string{"kind"})
)

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
