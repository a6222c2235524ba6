// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives the bridge-entity relationship search.
//
// Description:
//
//	A resolve call starts from one known field value and walks toward a
//	target entity type by pivoting through bridge values that co-occur
//	with the current frontier. The walk is bounded by a budget guard
//	(iterations, searches, wall clock) and stops the moment a target
//	value appears or the budget runs out. Everything mutable lives for
//	exactly one call; the corpus and catalog are shared and read-only.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/AleutianAI/AleutianBridge/services/bridge/extract"
	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
)

// =============================================================================
// OTel Tracer
// =============================================================================

var engineTracer = otel.Tracer("aleutian.bridge.engine")

// =============================================================================
// Resolver
// =============================================================================

// Resolver runs bounded multi-hop bridge searches over a record corpus.
//
// Description:
//
//	The Resolver owns no mutable search state. Each Resolve call builds
//	its own visited set, frontier, and budget guard, so one Resolver can
//	serve many concurrent calls as long as the corpus view and catalog
//	stay read-only underneath them.
//
// Thread Safety: Safe for concurrent use.
type Resolver struct {
	cat       *catalog.Catalog
	extractor *extract.Extractor
	oracle    rank.Oracle
	limits    Limits
	logger    *slog.Logger
	progress  ProgressFunc
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOracle installs a relevance oracle. The oracle is consulted only for
// requests that opt in, and only ever advises ranking; it cannot fail a
// search.
func WithOracle(o rank.Oracle) Option {
	return func(r *Resolver) { r.oracle = o }
}

// WithLimits sets the default budget. Requests may override per field.
func WithLimits(l Limits) Option {
	return func(r *Resolver) { r.limits = l }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProgress sets a default progress callback for calls that do not carry
// their own.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Resolver) { r.progress = fn }
}

// New creates a Resolver bound to a compiled catalog.
//
// Inputs:
//
//	cat - Field pattern catalog. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Resolver - The resolver.
//	error - Non-nil if cat is nil.
func New(cat *catalog.Catalog, opts ...Option) (*Resolver, error) {
	if cat == nil {
		return nil, fmt.Errorf("engine: catalog must not be nil")
	}

	r := &Resolver{
		cat:    cat,
		limits: DefaultLimits(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.extractor = extract.New(cat, r.logger)

	return r, nil
}

// =============================================================================
// Request
// =============================================================================

// Request describes one resolve call.
type Request struct {
	// SourceValue is the known starting value. Required.
	SourceValue string `json:"source_value"`

	// SourceType names the source value's entity type. Optional; when
	// empty, the source hop is labeled with the type the value extracts
	// as from its own records, and any rediscovery of the value counts
	// as visited regardless of type.
	SourceType string `json:"source_type,omitempty"`

	// TargetType is the entity type to resolve toward. Required. A type
	// the catalog does not define is not an error; the search simply
	// exhausts.
	TargetType string `json:"target_type"`

	// Hint is free-text context forwarded to the relevance oracle.
	Hint string `json:"hint,omitempty"`

	// Limits overrides the resolver's default budget. Zero fields inherit.
	Limits Limits `json:"limits"`

	// UseOracle consults the configured relevance oracle during ranking.
	// Ignored when the resolver has no oracle.
	UseOracle bool `json:"use_oracle"`

	// Progress receives events during the call. Optional; overrides the
	// resolver's default callback.
	Progress ProgressFunc `json:"-"`
}

// =============================================================================
// Resolve
// =============================================================================

// Resolve searches the view for a target-typed value reachable from the
// source value.
//
// Description:
//
//	The search is a state machine: INIT, then DIRECT_CHECK (one scan for
//	the source value; a direct co-occurrence resolves immediately with
//	confidence 1.0), then EXPANDING (iterative frontier expansion through
//	bridge values), ending in FOUND, EXHAUSTED, or TIMED_OUT. Budget
//	exhaustion is a normal outcome reported in the result, never an
//	error. The only errors are invalid arguments and scan failures.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing. Must not be nil.
//	view - Scan domain, usually the full corpus.
//	req - The resolve request.
//
// Outputs:
//
//	*SearchResult - The outcome with full diagnostic counters. Nil on error.
//	error - Invalid request, or a scan failure wrapping corpus.ErrScan.
//
// Thread Safety: Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, view corpus.View, req Request) (*SearchResult, error) {
	ctx, span := engineTracer.Start(ctx, "engine.Resolve")
	defer span.End()

	if req.SourceValue == "" {
		return nil, fmt.Errorf("engine: source_value must not be empty")
	}
	if req.TargetType == "" {
		return nil, fmt.Errorf("engine: target_type must not be empty")
	}

	searchID := uuid.NewString()
	span.SetAttributes(
		attribute.String("search_id", searchID),
		attribute.String("target_type", req.TargetType),
	)

	fn := req.Progress
	if fn == nil {
		fn = r.progress
	}
	em := newEmitter(fn, searchID)

	rankOpts := []rank.Option{rank.WithLogger(r.logger)}
	if req.UseOracle && r.oracle != nil {
		rankOpts = append(rankOpts, rank.WithOracle(&observingOracle{inner: r.oracle, em: em}))
	}

	s := &search{
		req:         req,
		view:        view,
		res:         &SearchResult{SearchID: searchID, State: StateInit},
		guard:       NewGuard(req.Limits.mergedWith(r.limits)),
		visited:     newVisitedSet(req.SourceType, req.SourceValue),
		sourceLabel: sourceValueType,
		ranker:      rank.New(r.cat, rankOpts...),
		ext:         r.extractor,
		em:          em,
	}

	activeSearches.Inc()
	defer activeSearches.Dec()
	em.state(StateInit)

	if err := s.run(ctx); err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		r.logger.Error("bridge search failed",
			slog.String("search_id", searchID),
			slog.String("target_type", req.TargetType),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	res := s.finalize()

	outcome := strings.ToLower(string(res.State))
	searchesTotal.WithLabelValues(outcome).Inc()
	searchDuration.Observe(res.Elapsed.Seconds())
	searchIterations.Observe(float64(res.Iterations))
	if res.Found {
		searchConfidence.Observe(res.Confidence)
	}

	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("iterations", res.Iterations),
		attribute.Int("searches", res.TotalSearches),
		attribute.Int("records_scanned", res.RecordsScanned),
	)

	r.logger.Info("bridge search complete",
		slog.String("search_id", searchID),
		slog.String("state", string(res.State)),
		slog.Bool("found", res.Found),
		slog.Int("iterations", res.Iterations),
		slog.Int("searches", res.TotalSearches),
		slog.Int("records_scanned", res.RecordsScanned),
		slog.Duration("elapsed", res.Elapsed),
	)

	return res, nil
}

// =============================================================================
// Per-Call Search State
// =============================================================================

// search carries the mutable state of one resolve call. Created fresh per
// call, never shared, discarded on return.
type search struct {
	req      Request
	view     corpus.View
	res      *SearchResult
	guard    *Guard
	visited  *visitedSet
	frontier frontier
	ranker   *rank.Ranker
	ext      *extract.Extractor
	em       *emitter

	// sourceLabel is the entity type shown for the source hop. Starts as
	// the generic value label and is replaced by inference when the
	// caller omitted the source type.
	sourceLabel string
}

// run executes the state machine. It returns an error only for scan
// failures; every budget outcome is recorded in the result instead.
func (s *search) run(ctx context.Context) error {
	// -------------------------------------------------------------------------
	// DIRECT_CHECK: one scan for the source value. A record holding both
	// the source value and a target-typed value resolves here, in exactly
	// one iteration.
	// -------------------------------------------------------------------------
	s.transition(StateDirectCheck)
	s.guard.StartIteration()
	s.guard.RecordSearch()

	scan, err := s.view.Scan(ctx, s.req.SourceValue)
	if err != nil {
		return err
	}
	s.res.RecordsScanned += scan.Scanned

	if len(scan.Matches) == 0 {
		// Source absent from the corpus; nothing to expand from.
		return nil
	}

	ex := s.ext.Extract(ctx, scan.Matches)
	s.inferSourceLabel(ex)

	if vals := ex.Values(s.req.TargetType); len(vals) > 0 {
		s.hit(nil, vals)
		return nil
	}

	// -------------------------------------------------------------------------
	// EXPANDING: rank the source records' other values to seed the
	// frontier, then expand the best unvisited candidates until a hit or
	// the budget ends the search.
	// -------------------------------------------------------------------------
	s.transition(StateExpanding)
	s.frontier.merge(s.stage(s.ranker.Rank(ctx, ex, s.req.TargetType, s.req.Hint), nil))

	for {
		if s.guard.Exceeded() {
			return nil
		}
		if s.frontier.empty() {
			return nil
		}

		iteration := s.guard.StartIteration()
		s.em.iteration(iteration)

		batch := s.frontier.popBatch(s.guard.Limits().MaxBridgesPerIteration, s.visited)
		if len(batch) == 0 {
			return nil
		}

		var staged []frontierItem
		for i := range batch {
			item := &batch[i]

			// Mark before the budget check: an unsearched candidate that
			// the budget cuts off must still never be re-expanded by a
			// later call path.
			s.visited.add(item.cand.EntityType, item.cand.Value)
			if s.guard.Exceeded() {
				return nil
			}
			s.guard.RecordSearch()
			s.em.candidate(iteration, item.cand)

			scan, err := s.view.Scan(ctx, item.cand.Value)
			if err != nil {
				return err
			}
			s.res.RecordsScanned += scan.Scanned
			s.res.BridgesUsed = append(s.res.BridgesUsed, BridgeUse{Candidate: item.cand, Depth: iteration})

			if len(scan.Matches) == 0 {
				continue
			}

			ex := s.ext.Extract(ctx, scan.Matches)
			if vals := ex.Values(s.req.TargetType); len(vals) > 0 {
				// Stop immediately; the rest of the batch is never searched.
				s.hit(item, vals)
				return nil
			}

			next := s.stage(s.ranker.Rank(ctx, ex, s.req.TargetType, s.req.Hint), item)
			staged = append(staged, next...)
			s.em.staged(iteration, len(next))
		}

		// Staged candidates join the frontier only after the whole batch,
		// so a candidate discovered this iteration is never searched until
		// the next one. Iteration number therefore equals hop depth.
		s.frontier.merge(staged)
	}
}

// hit records a successful resolution. item is nil for a direct hit.
func (s *search) hit(item *frontierItem, targetValues []string) {
	s.res.Found = true
	s.res.TargetValues = targetValues

	path := []Hop{s.sourceHop()}
	firstScore := 0
	if item != nil {
		for _, b := range item.chain {
			path = append(path, Hop{EntityType: b.EntityType, Value: b.Value})
		}
		path = append(path, Hop{EntityType: item.cand.EntityType, Value: item.cand.Value})
		firstScore = item.cand.Score
		if len(item.chain) > 0 {
			firstScore = item.chain[0].Score
		}
	}
	path = append(path, Hop{EntityType: s.req.TargetType, Value: targetValues[0]})

	s.res.Path = path
	s.res.Confidence = EstimateConfidence(len(path), firstScore, s.guard.Iterations())
}

// stage converts ranked candidates into frontier items carrying their
// bridge chain, dropping anything already visited.
func (s *search) stage(cands []rank.Candidate, parent *frontierItem) []frontierItem {
	items := make([]frontierItem, 0, len(cands))
	var chain []rank.Candidate
	if parent != nil {
		chain = append(append([]rank.Candidate{}, parent.chain...), parent.cand)
	}
	for _, c := range cands {
		if s.visited.has(c.EntityType, c.Value) {
			continue
		}
		items = append(items, frontierItem{cand: c, chain: chain})
	}
	return items
}

// inferSourceLabel looks the source value up among its own records'
// extracted types so the path's first hop carries a real entity type even
// when the caller omitted one. Catalog order makes the inference
// deterministic when several types claim the value.
func (s *search) inferSourceLabel(ex *extract.Extraction) {
	if s.req.SourceType != "" {
		return
	}
	for _, typ := range ex.Types() {
		for _, val := range ex.Values(typ) {
			if val == s.req.SourceValue {
				s.sourceLabel = typ
				return
			}
		}
	}
}

func (s *search) sourceHop() Hop {
	typ := s.req.SourceType
	if typ == "" {
		typ = s.sourceLabel
	}
	return Hop{EntityType: typ, Value: s.req.SourceValue}
}

func (s *search) transition(state State) {
	s.res.State = state
	s.em.state(state)
}

// finalize stamps the result with terminal state and budget counters.
func (s *search) finalize() *SearchResult {
	s.res.Iterations = s.guard.Iterations()
	s.res.TotalSearches = s.guard.Searches()
	s.res.Elapsed = s.guard.Elapsed()
	s.res.Visited = s.visited.size()

	switch {
	case s.res.Found:
		s.transition(StateFound)
	case s.guard.ExhaustedBy() == "timeout":
		s.transition(StateTimedOut)
	default:
		s.transition(StateExhausted)
	}

	if !s.res.Found {
		s.res.Path = []Hop{s.sourceHop()}
	}

	msg := fmt.Sprintf("found %d target values", len(s.res.TargetValues))
	if !s.res.Found {
		reason := s.guard.ExhaustedBy()
		if reason == "" {
			reason = "frontier empty"
		}
		msg = "not found: " + reason
	}
	s.em.result(s.res.State, msg)

	return s.res
}

// =============================================================================
// Oracle Observation
// =============================================================================

// observingOracle forwards verdict requests to the configured oracle and
// reports each consultation as a progress event. Ranking semantics are
// untouched; the wrapper exists so streaming clients can watch oracle
// activity without the rank package knowing about events.
type observingOracle struct {
	inner rank.Oracle
	em    *emitter
}

func (o *observingOracle) Rank(ctx context.Context, candidates []rank.Candidate, targetType, hint string) ([]string, error) {
	preferred, err := o.inner.Rank(ctx, candidates, targetType, hint)
	if err != nil {
		o.em.oracle(fmt.Sprintf("oracle consultation failed: %v", err))
		return nil, err
	}
	o.em.oracle(fmt.Sprintf("oracle preferred %d of %d candidates", len(preferred), len(candidates)))
	return preferred, nil
}
