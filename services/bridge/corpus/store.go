// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	scanLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "corpus",
		Name:      "scan_latency_seconds",
		Help:      "Latency of a single corpus scan",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	scanRecordsExamined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "corpus",
		Name:      "records_examined_total",
		Help:      "Total records examined across all scans",
	})

	scanMatchCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bridge",
		Subsystem: "corpus",
		Name:      "scan_matches",
		Help:      "Number of records matched per scan",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 100, 500},
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var corpusTracer = otel.Tracer("aleutian.bridge.corpus")

// =============================================================================
// Errors
// =============================================================================

// ErrScan marks a scan or load that failed because a corpus source was
// unreadable or the caller canceled. An empty match set is NOT a scan
// error; it is a normal outcome.
var ErrScan = errors.New("corpus scan failed")

// scanCheckInterval is how often Scan checks for context cancellation.
const scanCheckInterval = 1024

// =============================================================================
// Store
// =============================================================================

// Stats describes the loaded corpus.
type Stats struct {
	// Records is the total record count.
	Records int

	// Sources is the number of distinct sources records were loaded from.
	Sources int

	// Bytes is the total raw text size.
	Bytes int64
}

// Store holds the corpus records.
//
// Description:
//
//	Records are appended during loading and read-only afterwards. The
//	store keeps insertion order; all scans iterate in that order, which
//	is what makes candidate discovery order deterministic.
//
// Thread Safety: Safe for concurrent use. Loading and scanning may not
// overlap meaningfully (a scan sees whatever was loaded when it started),
// but neither corrupts the other.
type Store struct {
	mu      sync.RWMutex
	records []*Record
	sources map[string]struct{}
	bytes   int64
}

// NewStore creates an empty corpus store.
func NewStore() *Store {
	return &Store{
		sources: make(map[string]struct{}),
	}
}

// AddBatch appends records to the corpus in order.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) AddBatch(records []*Record) {
	if len(records) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		s.records = append(s.records, rec)
		s.sources[rec.Source] = struct{}{}
		s.bytes += int64(len(rec.Raw))
	}
}

// Len returns the record count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats returns corpus statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Records: len(s.records),
		Sources: len(s.sources),
		Bytes:   s.bytes,
	}
}

// All returns a View over the whole corpus.
func (s *Store) All() View {
	return View{store: s}
}

// snapshot returns the current record slice. The slice is append-only, so
// holding a snapshot after the lock is released is safe.
func (s *Store) snapshot() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records
}

// =============================================================================
// View and Scan
// =============================================================================

// View is a scan domain: either the whole corpus or the match set of a
// previous scan. Restricting successive scans to the previous hop's matches
// is what keeps multi-hop searches anchored to records that actually
// mention the bridge value.
//
// Thread Safety: Views are immutable values; safe to copy and share.
type View struct {
	store  *Store
	subset []*Record
}

// Size returns the number of records in the view's domain.
func (v View) Size() int {
	if v.subset != nil {
		return len(v.subset)
	}
	if v.store == nil {
		return 0
	}
	return v.store.Len()
}

// Records returns the view's records in corpus order. For a full-corpus
// view this snapshots the store.
func (v View) Records() []*Record {
	if v.subset != nil {
		return v.subset
	}
	if v.store == nil {
		return nil
	}
	return v.store.snapshot()
}

// Each iterates the view's records in order, stopping early when fn
// returns false. The context is checked periodically so a canceled caller
// does not pay for a full pass over a large corpus.
//
// Outputs:
//
//	error - Wraps ErrScan if the context was canceled mid-iteration.
func (v View) Each(ctx context.Context, fn func(*Record) bool) error {
	records := v.Records()
	for i, rec := range records {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrScan, err)
			}
		}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

// ScanResult holds the outcome of one scan.
type ScanResult struct {
	// Matches are the records whose raw text contained the needle, in
	// corpus order.
	Matches []*Record

	// Scanned is the number of records examined.
	Scanned int
}

// View returns the match set as a scan domain for the next hop.
func (r ScanResult) View() View {
	return View{subset: r.Matches}
}

// Scan finds every record in the view whose raw text contains the needle,
// case-insensitively.
//
// Description:
//
//	A linear pass over the view's records. An empty match set is a normal
//	outcome, not an error. An empty needle matches nothing (mirrors the
//	empty-query behavior of other search surfaces rather than matching
//	the entire corpus).
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	needle - Substring to search for (any case).
//
// Outputs:
//
//	ScanResult - Matches in corpus order plus the examined count.
//	error - Wraps ErrScan if the context was canceled mid-scan.
//
// Thread Safety: Safe for concurrent use.
func (v View) Scan(ctx context.Context, needle string) (ScanResult, error) {
	ctx, span := corpusTracer.Start(ctx, "corpus.Scan")
	defer span.End()
	start := time.Now()

	result := ScanResult{}
	if needle == "" {
		span.SetAttributes(attribute.Bool("empty_needle", true))
		return result, nil
	}

	needleLower := strings.ToLower(needle)

	err := v.Each(ctx, func(rec *Record) bool {
		result.Scanned++
		if rec.ContainsFold(needleLower) {
			result.Matches = append(result.Matches, rec)
		}
		return true
	})

	scanLatency.Observe(time.Since(start).Seconds())
	scanRecordsExamined.Add(float64(result.Scanned))
	scanMatchCount.Observe(float64(len(result.Matches)))

	span.SetAttributes(
		attribute.Int("scanned", result.Scanned),
		attribute.Int("matches", len(result.Matches)),
	)

	if err != nil {
		span.RecordError(err)
		return ScanResult{Scanned: result.Scanned}, err
	}

	return result, nil
}
