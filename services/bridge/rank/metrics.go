// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Ranking and the Relevance Oracle
// =============================================================================

var (
	// rankCandidates tracks how many candidates each ranking pass produced.
	rankCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "rank",
		Name:      "candidates",
		Help:      "Candidates produced per ranking pass",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})

	// rankExcludedTotal counts values dropped as sentinels.
	rankExcludedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "rank",
		Name:      "excluded_total",
		Help:      "Values excluded from ranking as sentinel placeholders",
	})

	// rankBoostedTotal counts candidates boosted by an oracle verdict.
	rankBoostedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "rank",
		Name:      "boosted_total",
		Help:      "Candidates boosted by oracle preference",
	})

	// oracleLatencySeconds measures oracle consultation latency by outcome.
	// Labels: model, outcome (success, timeout, error, parse_error, cache_hit)
	oracleLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "rank",
		Name:      "oracle_latency_seconds",
		Help:      "Relevance oracle consultation latency by model and outcome",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"model", "outcome"})

	// oracleTotal counts oracle consultations by outcome.
	// Labels: model, outcome
	oracleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "rank",
		Name:      "oracle_total",
		Help:      "Relevance oracle consultations by model and outcome",
	}, []string{"model", "outcome"})

	// oracleHallucinationsTotal counts reply items not in the candidate set.
	oracleHallucinationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "rank",
		Name:      "oracle_hallucinations_total",
		Help:      "Oracle reply items dropped because they named no candidate",
	})

	// verdictCacheTotal counts verdict cache lookups by result.
	// Labels: result (hit, miss, error)
	verdictCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "rank",
		Name:      "verdict_cache_total",
		Help:      "Oracle verdict cache lookups by result",
	}, []string{"result"})
)

// RecordOracleLatency records one oracle consultation's latency.
//
// Inputs:
//   - model: The oracle model name.
//   - outcome: success, timeout, error, parse_error, or cache_hit.
//   - seconds: Consultation duration in seconds.
func RecordOracleLatency(model, outcome string, seconds float64) {
	oracleLatencySeconds.WithLabelValues(model, outcome).Observe(seconds)
}

// RecordOracleTotal counts one oracle consultation.
//
// Inputs:
//   - model: The oracle model name.
//   - outcome: success, timeout, error, parse_error, or cache_hit.
func RecordOracleTotal(model, outcome string) {
	oracleTotal.WithLabelValues(model, outcome).Inc()
}
