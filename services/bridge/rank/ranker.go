// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rank scores bridge candidates for the frontier search engine.
//
// Ranking is intrinsic and deterministic: catalog priority plus value-shape
// heuristics, iterated in catalog order and extractor discovery order, so
// two passes over the same extraction always produce the same list. An
// optional relevance oracle may boost a preferred subset of the top
// candidates; oracle failure of any kind falls back to the intrinsic order.
package rank

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/extract"
)

// =============================================================================
// OTel Tracer
// =============================================================================

var rankTracer = otel.Tracer("aleutian.bridge.rank")

// =============================================================================
// Scoring Constants
// =============================================================================

const (
	// OracleCandidateLimit caps how many top candidates are shown to the
	// relevance oracle.
	OracleCandidateLimit = 10

	// OracleBoost is the flat score bonus for an oracle-preferred candidate.
	OracleBoost = 10
)

// sentinelValues are placeholder strings that carry no pivot information.
// Compared case-insensitively; matching values are excluded outright, not
// just scored low.
var sentinelValues = map[string]bool{
	"unknown": true,
	"null":    true,
	"":        true,
	"n/a":     true,
}

// =============================================================================
// Candidate
// =============================================================================

// Candidate is one potential bridge value with its heuristic score.
type Candidate struct {
	EntityType string
	Value      string
	Score      int
}

// =============================================================================
// Scoring
// =============================================================================

// IsSentinel reports whether a value is a placeholder that must be excluded
// from ranking.
func IsSentinel(value string) bool {
	return sentinelValues[strings.ToLower(value)]
}

// ScoreValue computes the intrinsic score for a value of a type with the
// given catalog priority.
//
// Description:
//
//	Base score is the catalog priority. Longer values are more
//	discriminating needles, so length adds up to 3; a value containing an
//	ASCII digit (IDs, addresses, sessions) adds 1 more.
func ScoreValue(priority int, value string) int {
	score := priority
	if len(value) > 5 {
		score++
	}
	if len(value) > 10 {
		score += 2
	}
	if containsASCIIDigit(value) {
		score++
	}
	return score
}

func containsASCIIDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			return true
		}
	}
	return false
}

// =============================================================================
// Ranker
// =============================================================================

// Ranker turns an extraction into a scored, ordered candidate list.
//
// Thread Safety: Safe for concurrent use (read-only after construction).
type Ranker struct {
	cat    *catalog.Catalog
	oracle Oracle
	logger *slog.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithOracle attaches a relevance oracle. The oracle is advisory: it is
// consulted with at most OracleCandidateLimit top candidates, and any
// failure falls back to the intrinsic order.
func WithOracle(oracle Oracle) Option {
	return func(r *Ranker) {
		r.oracle = oracle
	}
}

// WithLogger sets the logger for oracle fallback diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Ranker) {
		r.logger = logger
	}
}

// New creates a Ranker bound to a catalog.
func New(cat *catalog.Catalog, opts ...Option) *Ranker {
	r := &Ranker{
		cat:    cat,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank produces the scored candidate list for one expansion step.
//
// Description:
//
//	Iterates the extraction's entity types in catalog order and each
//	type's values in discovery order; target-typed values never become
//	bridge candidates. Sentinel values are excluded and counted. The
//	result is stably sorted score-descending, so equal scores keep
//	discovery order, and the whole pass is a pure function of the
//	extraction when no oracle is attached.
//
//	With an oracle: the top candidates are submitted once, each preferred
//	value gets a flat OracleBoost, and the list is re-sorted stably one
//	time. Oracle errors and timeouts are logged and swallowed; the
//	intrinsic order is the answer either way.
//
// Inputs:
//
//	ctx - Context for tracing and the oracle call.
//	ex - Extraction to rank. Must not be nil.
//	targetType - The search's target entity type.
//	hint - Optional free-text context forwarded to the oracle.
//
// Outputs:
//
//	[]Candidate - Scored candidates, best first. Empty when the extraction
//	holds nothing rankable.
//
// Thread Safety: Safe for concurrent use.
func (r *Ranker) Rank(ctx context.Context, ex *extract.Extraction, targetType, hint string) []Candidate {
	ctx, span := rankTracer.Start(ctx, "rank.Rank")
	defer span.End()

	candidates := r.intrinsic(ex, targetType)
	rankCandidates.Observe(float64(len(candidates)))
	span.SetAttributes(
		attribute.String("target_type", targetType),
		attribute.Int("candidates", len(candidates)),
	)

	if r.oracle == nil || len(candidates) == 0 {
		return candidates
	}

	window := candidates
	if len(window) > OracleCandidateLimit {
		window = candidates[:OracleCandidateLimit]
	}

	preferred, err := r.oracle.Rank(ctx, window, targetType, hint)
	if err != nil {
		r.logger.Warn("relevance oracle failed, using intrinsic order",
			slog.String("target_type", targetType),
			slog.String("error", err.Error()),
		)
		span.SetAttributes(attribute.Bool("oracle.failed", true))
		return candidates
	}
	if len(preferred) == 0 {
		return candidates
	}

	preferredSet := make(map[string]bool, len(preferred))
	for _, value := range preferred {
		preferredSet[value] = true
	}

	boosted := 0
	for i := range window {
		if preferredSet[candidates[i].Value] {
			candidates[i].Score += OracleBoost
			boosted++
		}
	}
	rankBoostedTotal.Add(float64(boosted))
	span.SetAttributes(attribute.Int("oracle.boosted", boosted))

	// One stable re-sort: boosted candidates rise, ties keep their order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return candidates
}

// intrinsic builds the oracle-free candidate list.
func (r *Ranker) intrinsic(ex *extract.Extraction, targetType string) []Candidate {
	var out []Candidate
	for _, entityType := range ex.Types() {
		if entityType == targetType {
			continue
		}
		priority := r.cat.Priority(entityType)
		for _, value := range ex.Values(entityType) {
			if IsSentinel(value) {
				rankExcludedTotal.Inc()
				continue
			}
			out = append(out, Candidate{
				EntityType: entityType,
				Value:      value,
				Score:      ScoreValue(priority, value),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// truncate shortens a string for span attributes and log lines.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
