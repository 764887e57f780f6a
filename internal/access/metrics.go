// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package access

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision reasons, used as the "reason" label.
const (
	ReasonProtected  = "protected"
	ReasonSuperadmin = "superadmin"
	ReasonGranted    = "granted"
	ReasonNoAbility  = "no_ability"
	ReasonError      = "error"
)

var (
	// decisionsTotal counts authorization decisions by outcome and reason.
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fort_authorization_decisions_total",
		Help: "Total number of authorization decisions",
	}, []string{"outcome", "reason"})

	// decisionDuration tracks Can() latency including store reads.
	decisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fort_authorization_duration_seconds",
		Help:    "Histogram of authorization decision latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// abilityMutations counts administrative grant/revoke operations.
	abilityMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fort_ability_mutations_total",
		Help: "Total number of ability and role administration operations",
	}, []string{"operation"})
)

func recordDecision(start time.Time, allowed bool, reason string) {
	decisionDuration.Observe(time.Since(start).Seconds())
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	decisionsTotal.WithLabelValues(outcome, reason).Inc()
}
