// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suggest

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/AleutianAI/AleutianBridge/services/bridge/extract"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// BM25 tuning constants. Standard values recommended by Robertson et al.
const (
	// bm25K1 controls term frequency saturation. Higher = slower saturation.
	// Range [1.2, 2.0] is typical. 1.5 is a robust middle ground.
	bm25K1 = 1.5

	// bm25B controls document length normalization.
	// 0 = no normalization, 1 = full normalization. 0.75 is the standard default.
	bm25B = 0.75

	// topRecords caps how many best-matching records feed entity
	// extraction. Keeps Suggest bounded on large corpora.
	topRecords = 20

	// buildCheckInterval is how many records are indexed between context
	// cancellation checks.
	buildCheckInterval = 1024
)

// bm25Doc holds the tokenized representation of a single record.
type bm25Doc struct {
	// idx is the record's position in the scored slice.
	idx int

	// tf maps each term to its frequency within this record.
	tf map[string]int

	// len is the total token count (not the vocabulary size).
	len int
}

// bm25Index is an Okapi BM25 index over a corpus view.
//
// Immutable after construction. The index is rebuilt per Suggest call
// rather than cached: suggestions only run on exhausted searches, and the
// view a search ran against may differ from the store's current contents.
type bm25Index struct {
	docs []bm25Doc

	// idf maps each term to its inverse document frequency, computed as
	// log((N+1)/(df+1)) + 1 (Lucene-style smoothing).
	idf map[string]float64

	avgLen float64
}

// buildBM25Index tokenizes every record in the view.
//
// Outputs:
//
//	*bm25Index - Never nil. Empty views yield an index that scores zero.
//	error - Context cancellation only.
func buildBM25Index(ctx context.Context, records []*corpus.Record) (*bm25Index, error) {
	if len(records) == 0 {
		return &bm25Index{idf: make(map[string]float64)}, nil
	}

	docs := make([]bm25Doc, 0, len(records))
	df := make(map[string]int)
	totalLen := 0

	for i, rec := range records {
		if i%buildCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		tf := tokenize(rec.Raw)
		docLen := 0
		for term, n := range tf {
			docLen += n
			df[term]++
		}
		docs = append(docs, bm25Doc{idx: i, tf: tf, len: docLen})
		totalLen += docLen
	}

	idf := make(map[string]float64, len(df))
	n := len(docs)
	for term, docFreq := range df {
		idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}

	return &bm25Index{
		docs:   docs,
		idf:    idf,
		avgLen: float64(totalLen) / float64(n),
	}, nil
}

// score ranks all documents against the query terms.
//
// Scores are normalized to [0, 1] by the maximum raw score. Zero-scoring
// documents are omitted. The result is sorted score-descending with index
// order breaking ties.
func (idx *bm25Index) score(queryTerms map[string]int) []docScore {
	if len(queryTerms) == 0 || len(idx.docs) == 0 {
		return nil
	}

	var scored []docScore
	var maxScore float64

	for _, doc := range idx.docs {
		s := bm25Score(queryTerms, doc, idx.idf, idx.avgLen)
		if s > 0 {
			scored = append(scored, docScore{idx: doc.idx, score: s})
			if s > maxScore {
				maxScore = s
			}
		}
	}

	for i := range scored {
		scored[i].score /= maxScore
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].idx < scored[j].idx
	})

	return scored
}

// docScore pairs a record index with its normalized score.
type docScore struct {
	idx   int
	score float64
}

// bm25Score computes the raw BM25 score for a single (query, doc) pair.
func bm25Score(queryTerms map[string]int, doc bm25Doc, idf map[string]float64, avgLen float64) float64 {
	dl := float64(doc.len)
	var score float64

	for term := range queryTerms {
		tf, inDoc := doc.tf[term]
		if !inDoc {
			continue
		}
		termIDF, known := idf[term]
		if !known {
			continue
		}

		tfFloat := float64(tf)
		numerator := tfFloat * (bm25K1 + 1)
		lengthNorm := bm25K1 * (1.0 - bm25B + bm25B*dl/avgLen)
		score += termIDF * numerator / (tfFloat + lengthNorm)
	}

	return score
}

// BM25Suggester ranks pivot candidates by lexical overlap with the source
// value.
//
// Always available and fully deterministic: no external services, no
// randomness, stable ordering.
type BM25Suggester struct {
	cat       *catalog.Catalog
	extractor *extract.Extractor
	logger    *slog.Logger
}

// NewBM25 creates a BM25 suggester over the given catalog.
func NewBM25(cat *catalog.Catalog, logger *slog.Logger) *BM25Suggester {
	if logger == nil {
		logger = slog.Default()
	}
	return &BM25Suggester{
		cat:       cat,
		extractor: extract.New(cat, logger),
		logger:    logger,
	}
}

// Suggest implements Suggester.
//
// Description:
//
//	Builds a BM25 index over the view, scores every record against the
//	tokenized source value, and extracts entities from the top-scoring
//	records. Entity types related to the source type (and the target type
//	itself) are weighted up.
//
// Outputs:
//
//	[]datatypes.Suggestion - Ranked suggestions, possibly empty.
//	error - Context cancellation only.
func (s *BM25Suggester) Suggest(ctx context.Context, view corpus.View, q Query) ([]datatypes.Suggestion, error) {
	records := view.Records()
	if len(records) == 0 {
		return nil, nil
	}

	queryTerms := tokenize(q.SourceValue)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	index, err := buildBM25Index(ctx, records)
	if err != nil {
		return nil, err
	}

	scored := index.score(queryTerms)
	if len(scored) > topRecords {
		scored = scored[:topRecords]
	}

	sr := make([]scoredRecord, 0, len(scored))
	for _, ds := range scored {
		sr = append(sr, scoredRecord{rec: records[ds.idx], score: ds.score})
	}

	suggestions := collectSuggestions(ctx, s.extractor, s.cat, sr, q, "bm25")
	s.logger.Debug("bm25 suggestions computed",
		"source_value", q.SourceValue,
		"candidate_records", len(scored),
		"suggestions", len(suggestions))
	return suggestions, nil
}
