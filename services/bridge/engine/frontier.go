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
	"sort"

	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
)

// =============================================================================
// Frontier
// =============================================================================

// frontierItem is a candidate awaiting expansion plus the bridge chain that
// led to it, so a hit can report the full path without back-pointers into
// search state.
type frontierItem struct {
	cand rank.Candidate

	// chain holds the bridges between the source and this candidate,
	// oldest first. Empty for candidates found in the source's records.
	chain []rank.Candidate
}

// frontier holds not-yet-expanded candidates in score-descending order with
// insertion-order tie-breaks.
//
// Thread Safety: NOT safe for concurrent use; owned by one resolve call.
type frontier struct {
	items []frontierItem
}

// merge appends staged candidates and re-sorts stably, so equal scores keep
// their insertion order and earlier entries win ties against later ones.
func (f *frontier) merge(staged []frontierItem) {
	f.items = append(f.items, staged...)
	sort.SliceStable(f.items, func(i, j int) bool {
		return f.items[i].cand.Score > f.items[j].cand.Score
	})
}

// popBatch removes and returns up to max unvisited candidates from the
// front. Visited candidates encountered on the way are dropped outright;
// they were expanded through another parent already.
func (f *frontier) popBatch(max int, visited *visitedSet) []frontierItem {
	batch := make([]frontierItem, 0, max)
	var rest []frontierItem
	for i, item := range f.items {
		if len(batch) >= max {
			rest = append(rest, f.items[i:]...)
			break
		}
		if visited.has(item.cand.EntityType, item.cand.Value) {
			continue
		}
		batch = append(batch, item)
	}
	f.items = rest
	return batch
}

func (f *frontier) empty() bool {
	return len(f.items) == 0
}

func (f *frontier) size() int {
	return len(f.items)
}

// =============================================================================
// Visited Set
// =============================================================================

// visitedSet tracks (entity_type, value) pairs already expanded. It only
// grows, which is what prevents cycles and re-expansion.
//
// When the caller omitted the source's entity type, any candidate carrying
// the source value counts as visited regardless of its type; without a type
// there is no way to tell a re-discovery of the source from a genuinely new
// candidate.
//
// Thread Safety: NOT safe for concurrent use; owned by one resolve call.
type visitedSet struct {
	pairs           map[string]bool
	sourceValue     string
	valueOnlySource bool
}

// newVisitedSet creates a visited set seeded with the source hop.
func newVisitedSet(sourceType, sourceValue string) *visitedSet {
	v := &visitedSet{
		pairs:       make(map[string]bool),
		sourceValue: sourceValue,
	}
	if sourceType == "" {
		v.valueOnlySource = true
		v.add(sourceValueType, sourceValue)
	} else {
		v.add(sourceType, sourceValue)
	}
	return v
}

func visitedKey(entityType, value string) string {
	return entityType + "\x00" + value
}

func (v *visitedSet) add(entityType, value string) {
	v.pairs[visitedKey(entityType, value)] = true
}

func (v *visitedSet) has(entityType, value string) bool {
	if v.valueOnlySource && value == v.sourceValue {
		return true
	}
	return v.pairs[visitedKey(entityType, value)]
}

func (v *visitedSet) size() int {
	return len(v.pairs)
}
