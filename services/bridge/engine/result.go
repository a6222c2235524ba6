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
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
)

// =============================================================================
// Search States
// =============================================================================

// State is a phase of the resolve state machine.
type State string

const (
	StateInit        State = "INIT"
	StateDirectCheck State = "DIRECT_CHECK"
	StateExpanding   State = "EXPANDING"

	// Terminal states.
	StateFound     State = "FOUND"
	StateExhausted State = "EXHAUSTED"
	StateTimedOut  State = "TIMED_OUT"
)

// Terminal reports whether the state ends a search.
func (s State) Terminal() bool {
	return s == StateFound || s == StateExhausted || s == StateTimedOut
}

// =============================================================================
// Path Hops
// =============================================================================

// sourceValueType labels the source hop when the caller did not name the
// source's entity type.
const sourceValueType = "value"

// Hop is one step in a resolved path: the source, a bridge, or the target.
type Hop struct {
	EntityType string `json:"entity_type"`
	Value      string `json:"value"`
}

// String renders the hop in "type:value" form.
func (h Hop) String() string {
	return h.EntityType + ":" + h.Value
}

// PathStrings renders a path as "type:value" hops.
func PathStrings(path []Hop) []string {
	out := make([]string, len(path))
	for i, h := range path {
		out[i] = h.String()
	}
	return out
}

// =============================================================================
// Result
// =============================================================================

// BridgeUse records one candidate the search actually expanded.
type BridgeUse struct {
	Candidate rank.Candidate `json:"candidate"`

	// Depth is the iteration in which the bridge was searched, which is
	// also its hop position in any path that runs through it.
	Depth int `json:"depth"`
}

// SearchResult is the outcome of one resolve call.
//
// Description:
//
//	Found, TargetValues, Path, Iterations, BridgesUsed, Confidence,
//	RecordsScanned, and TotalSearches are the search's answer;
//	State, Elapsed, SearchID, and Visited are diagnostics. A miss is a
//	normal result, never an error: Found false with the counters telling
//	why the search stopped.
type SearchResult struct {
	SearchID string `json:"search_id"`

	Found bool `json:"found"`

	// TargetValues holds every target-typed value extracted from the hit
	// records, first-discovery order. Empty on a miss.
	TargetValues []string `json:"target_values,omitempty"`

	// Path is the resolved chain. Path[0] is always the source hop; on a
	// hit the last hop carries the first target value.
	Path []Hop `json:"path"`

	Iterations  int         `json:"iterations"`
	BridgesUsed []BridgeUse `json:"bridges_used,omitempty"`

	// Confidence is the heuristic confidence in a hit, in [0,1]. Zero on
	// a miss.
	Confidence float64 `json:"confidence"`

	RecordsScanned int `json:"records_scanned"`
	TotalSearches  int `json:"total_searches"`

	State   State         `json:"state"`
	Elapsed time.Duration `json:"elapsed"`

	// Visited is the visited-set cardinality at termination.
	Visited int `json:"visited"`
}
