// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package suggest produces near-miss pivot suggestions for exhausted
// searches.
//
// When a resolve ends EXHAUSTED the engine has proven that no literal
// substring chain connects source to target. The suggesters here answer the
// follow-up question: which entities appear in records *related* to the
// source, even when those records never contain the source value verbatim?
// Suggestions are strictly advisory and never feed back into the search
// itself.
package suggest

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/AleutianAI/AleutianBridge/services/bridge/extract"
	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// DefaultLimit is the suggestion count when the caller does not specify one.
const DefaultLimit = 5

// Entity-type weighting applied to raw record scores. Types the catalog
// declares as related to the source type are more plausible pivots; values
// already of the target type are the strongest hint of all.
const (
	relatedTypeBoost = 1.25
	targetTypeBoost  = 1.5
)

// Query describes the failed search a suggester should advise on.
type Query struct {
	// SourceValue is the value the exhausted search started from.
	SourceValue string

	// SourceType is the resolved source entity type ("" when unknown).
	SourceType string

	// TargetType is the entity type the search failed to reach.
	TargetType string

	// Limit caps returned suggestions. <= 0 means DefaultLimit.
	Limit int
}

// Suggester ranks pivot candidates for an exhausted search.
//
// Implementations must be safe for concurrent use and must treat the view
// as read-only.
type Suggester interface {
	Suggest(ctx context.Context, view corpus.View, q Query) ([]datatypes.Suggestion, error)
}

// englishStopwords are dropped during tokenization. Deliberately short:
// log-ish corpora use few function words, and over-filtering would discard
// discriminating terms.
var englishStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"for": true, "with": true, "from": true, "this": true, "that": true,
	"was": true, "is": true, "are": true, "to": true, "of": true, "in": true,
}

// tokenize splits text into lowercase terms for BM25 scoring.
//
// Description:
//
//	Lowercases, treats any non-alphanumeric rune as a delimiter, and drops
//	single-character terms and stopwords. An email like alice@example.com
//	becomes [alice example com], which is exactly the behavior a near-miss
//	matcher wants: partial overlap still scores.
//
// Outputs:
//
//	map[string]int - Term frequencies. Empty for all-noise input.
func tokenize(text string) map[string]int {
	terms := make(map[string]int)
	if text == "" {
		return terms
	}

	var word strings.Builder
	flush := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		word.Reset()
		if len(w) < 2 || englishStopwords[w] {
			return
		}
		terms[w]++
	}

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	return terms
}

// scoredRecord pairs a record with its relevance to the query.
type scoredRecord struct {
	rec   *corpus.Record
	score float64
}

// collectSuggestions extracts entities from scored records and aggregates
// them into a ranked suggestion list.
//
// Description:
//
//	Each extracted (type, value) pair inherits its record's score, weighted
//	by entity-type plausibility. Sentinel values and the source value itself
//	are excluded. Duplicates keep their best score. Ordering is fully
//	deterministic: score descending, then entity type, then value.
//
// Inputs:
//
//	ctx - Cancels extraction between records.
//	ex - Extractor over the active catalog.
//	cat - Catalog supplying related-type weighting.
//	records - Scored records, any order.
//	q - The failed search being advised on.
//	origin - Suggestion source label ("bm25", "weaviate").
func collectSuggestions(ctx context.Context, ex *extract.Extractor, cat *catalog.Catalog, records []scoredRecord, q Query, origin string) []datatypes.Suggestion {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	related := make(map[string]bool)
	if q.SourceType != "" {
		for _, rt := range cat.Related(q.SourceType) {
			related[rt] = true
		}
	}

	type key struct{ entityType, value string }
	best := make(map[key]float64)

	for _, sr := range records {
		if ctx.Err() != nil {
			break
		}
		extraction := ex.Extract(ctx, []*corpus.Record{sr.rec})
		for _, entityType := range extraction.Types() {
			weight := 1.0
			switch {
			case entityType == q.TargetType:
				weight = targetTypeBoost
			case related[entityType]:
				weight = relatedTypeBoost
			}
			for _, value := range extraction.Values(entityType) {
				if rank.IsSentinel(value) || strings.EqualFold(value, q.SourceValue) {
					continue
				}
				k := key{entityType, value}
				if s := sr.score * weight; s > best[k] {
					best[k] = s
				}
			}
		}
	}

	suggestions := make([]datatypes.Suggestion, 0, len(best))
	for k, score := range best {
		suggestions = append(suggestions, datatypes.Suggestion{
			Value:      k.value,
			EntityType: k.entityType,
			Score:      score,
			Source:     origin,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		if suggestions[i].EntityType != suggestions[j].EntityType {
			return suggestions[i].EntityType < suggestions[j].EntityType
		}
		return suggestions[i].Value < suggestions[j].Value
	})

	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}
