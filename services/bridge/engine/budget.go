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
	"fmt"
	"time"
)

// =============================================================================
// Limits
// =============================================================================

// Limits bounds one resolve call.
type Limits struct {
	// MaxIterations caps search depth. Iteration 1 is the direct check;
	// each further iteration expands one frontier batch.
	// Default: 5
	MaxIterations int `json:"max_iterations"`

	// MaxBridgesPerIteration caps how many candidates one iteration pops.
	// Default: 3
	MaxBridgesPerIteration int `json:"max_bridges_per_iteration"`

	// MaxTotalSearches caps corpus scans across the whole call. The worst
	// case is MaxTotalSearches full passes over the corpus.
	// Default: 20
	MaxTotalSearches int `json:"max_total_searches"`

	// Timeout is the wall clock limit.
	// Default: 30s
	Timeout time.Duration `json:"timeout"`
}

// DefaultLimits returns sensible defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxIterations:          5,
		MaxBridgesPerIteration: 3,
		MaxTotalSearches:       20,
		Timeout:                30 * time.Second,
	}
}

// mergedWith fills zero or negative fields from the fallback. Per-request
// overrides only narrow or widen the limits they actually set.
func (l Limits) mergedWith(fallback Limits) Limits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = fallback.MaxIterations
	}
	if l.MaxBridgesPerIteration <= 0 {
		l.MaxBridgesPerIteration = fallback.MaxBridgesPerIteration
	}
	if l.MaxTotalSearches <= 0 {
		l.MaxTotalSearches = fallback.MaxTotalSearches
	}
	if l.Timeout <= 0 {
		l.Timeout = fallback.Timeout
	}
	return l
}

// =============================================================================
// Guard
// =============================================================================

// Guard tracks budget consumption during one resolve call.
//
// Description:
//
//	Counts iterations and corpus searches against Limits and watches the
//	wall clock. Exceeded must be consulted before every candidate search,
//	not only per iteration, so a slow iteration is cut mid-batch.
//
// Thread Safety: NOT safe for concurrent use. A Guard belongs to exactly
// one resolve call and is never shared across goroutines.
type Guard struct {
	limits Limits
	start  time.Time

	iterations  int
	searches    int
	exhaustedBy string
}

// NewGuard creates a budget guard and starts its clock.
func NewGuard(limits Limits) *Guard {
	return &Guard{
		limits: limits.mergedWith(DefaultLimits()),
		start:  time.Now(),
	}
}

// Limits returns the effective limits.
func (g *Guard) Limits() Limits {
	return g.limits
}

// StartIteration counts a new iteration and returns its number.
func (g *Guard) StartIteration() int {
	g.iterations++
	return g.iterations
}

// RecordSearch counts one corpus search.
func (g *Guard) RecordSearch() {
	g.searches++
}

// Iterations returns the number of iterations started.
func (g *Guard) Iterations() int {
	return g.iterations
}

// Searches returns the number of corpus searches performed.
func (g *Guard) Searches() int {
	return g.searches
}

// Elapsed returns time elapsed since the guard was created.
func (g *Guard) Elapsed() time.Duration {
	return time.Since(g.start)
}

// Exceeded reports whether any limit has been hit. Once true it stays
// true; ExhaustedBy remembers the first limit that tripped.
func (g *Guard) Exceeded() bool {
	if g.exhaustedBy != "" {
		return true
	}
	switch {
	case g.limits.Timeout > 0 && time.Since(g.start) >= g.limits.Timeout:
		g.exhaustedBy = "timeout"
	case g.iterations >= g.limits.MaxIterations:
		g.exhaustedBy = "iterations"
	case g.searches >= g.limits.MaxTotalSearches:
		g.exhaustedBy = "searches"
	default:
		return false
	}
	return true
}

// ExhaustedBy returns which limit tripped first ("timeout", "iterations",
// "searches"), or empty while within budget.
func (g *Guard) ExhaustedBy() string {
	return g.exhaustedBy
}

// Report is a snapshot of budget consumption for diagnostics.
type Report struct {
	IterationsUsed int           `json:"iterations_used"`
	SearchesUsed   int           `json:"searches_used"`
	Elapsed        time.Duration `json:"elapsed"`
	Limits         Limits        `json:"limits"`
	ExhaustedBy    string        `json:"exhausted_by,omitempty"`
}

// Report generates a consumption snapshot.
func (g *Guard) Report() Report {
	return Report{
		IterationsUsed: g.iterations,
		SearchesUsed:   g.searches,
		Elapsed:        g.Elapsed(),
		Limits:         g.limits,
		ExhaustedBy:    g.exhaustedBy,
	}
}

// String returns a human-readable budget status.
func (g *Guard) String() string {
	status := ""
	if g.exhaustedBy != "" {
		status = fmt.Sprintf(" [EXHAUSTED by %s]", g.exhaustedBy)
	}
	return fmt.Sprintf("Budget{iterations=%d/%d, searches=%d/%d, elapsed=%v/%v}%s",
		g.iterations, g.limits.MaxIterations,
		g.searches, g.limits.MaxTotalSearches,
		g.Elapsed().Round(time.Millisecond), g.limits.Timeout,
		status)
}
