// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Search Engine
// =============================================================================

var (
	// searchesTotal counts resolve calls by outcome.
	// Labels: outcome (found, exhausted, timed_out, error)
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "engine",
		Name:      "searches_total",
		Help:      "Resolve calls by outcome",
	}, []string{"outcome"})

	// searchDuration measures wall-clock resolve duration.
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "engine",
		Name:      "search_duration_seconds",
		Help:      "Wall-clock duration of resolve calls",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
	})

	// searchIterations tracks iterations consumed per resolve call.
	searchIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "engine",
		Name:      "search_iterations",
		Help:      "Iterations consumed per resolve call",
		Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
	})

	// searchConfidence tracks confidence of found results.
	searchConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "engine",
		Name:      "search_confidence",
		Help:      "Confidence of found results",
		Buckets:   []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// activeSearches gauges resolve calls currently in flight.
	activeSearches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bridge",
		Subsystem: "engine",
		Name:      "active_searches",
		Help:      "Resolve calls currently in flight",
	})
)
