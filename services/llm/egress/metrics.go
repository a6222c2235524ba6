// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Egress Control
// =============================================================================

var (
	// egressCallsTotal counts egress call attempts by provider and status.
	// Labels: provider (openai), status (allowed, blocked)
	egressCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "egress",
		Name:      "calls_total",
		Help:      "Total egress call attempts by provider and status",
	}, []string{"provider", "status"})

	// egressTokensTotal counts estimated tokens by provider and direction.
	// Labels: provider, direction (input, output)
	egressTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "egress",
		Name:      "tokens_total",
		Help:      "Estimated tokens by provider and direction",
	}, []string{"provider", "direction"})

	// egressBlockedTotal counts blocked egress attempts by provider and blocker.
	// Labels: provider, blocked_by (kill_switch, policy, consent, rate_limit, budget)
	egressBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "egress",
		Name:      "blocked_total",
		Help:      "Total blocked egress attempts by provider and blocking check",
	}, []string{"provider", "blocked_by"})

	// egressLatencySeconds measures end-to-end egress latency including
	// guard checks.
	// Labels: provider
	egressLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "egress",
		Name:      "latency_seconds",
		Help:      "End-to-end egress latency including guard checks",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})
)

// RecordEgressAllowed records a call that passed all checks.
//
// Inputs:
//   - provider: The provider name.
//   - inputTokens: Estimated input tokens sent.
//   - outputTokens: Estimated output tokens received.
//   - durationSec: Call duration in seconds.
func RecordEgressAllowed(provider string, inputTokens, outputTokens int, durationSec float64) {
	egressCallsTotal.WithLabelValues(provider, "allowed").Inc()
	egressTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	egressTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	egressLatencySeconds.WithLabelValues(provider).Observe(durationSec)
}

// RecordEgressBlocked records a blocked egress attempt.
//
// Inputs:
//   - provider: The provider name.
//   - blockedBy: The check that blocked the request
//     (kill_switch, policy, consent, rate_limit, budget).
func RecordEgressBlocked(provider, blockedBy string) {
	egressCallsTotal.WithLabelValues(provider, "blocked").Inc()
	egressBlockedTotal.WithLabelValues(provider, blockedBy).Inc()
}
