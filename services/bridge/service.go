// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge exposes the bridge-entity relationship resolver as an HTTP
// service: corpus loading, bounded multi-hop resolve calls, live progress
// over WebSocket, and debug introspection.
//
// The package wires the lower layers together (corpus store, catalog,
// search engine, suggesters, analytics sink) but holds no search state of
// its own; everything mutable during a search lives inside the engine for
// exactly one call.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/AleutianAI/AleutianBridge/services/bridge/engine"
	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
	"github.com/AleutianAI/AleutianBridge/services/bridge/suggest"
	"github.com/AleutianAI/AleutianBridge/services/bridge/telemetry"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// ServiceVersion is the bridge service version.
const ServiceVersion = "0.1.0"

// suggestTimeout bounds the near-miss suggester pass after an exhausted
// search. Suggestions are advisory; they must never double a request's
// latency.
const suggestTimeout = 5 * time.Second

// =============================================================================
// Catalog Source
// =============================================================================

// CatalogSource supplies the active catalog for each resolve call.
//
// Description:
//
//	The catalog can change underneath a running service (hot reload from
//	disk), so the service asks for it per call instead of binding one at
//	construction. catalog.Watcher satisfies this interface directly;
//	StaticCatalog adapts a fixed catalog.
//
// Thread Safety: Implementations must be safe for concurrent use.
type CatalogSource interface {
	// Current returns the active catalog. Must never return nil.
	Current() *catalog.Catalog
}

// StaticCatalog is a CatalogSource that always returns the same catalog.
type StaticCatalog struct {
	cat *catalog.Catalog
}

// NewStaticCatalog wraps a fixed catalog as a CatalogSource.
func NewStaticCatalog(cat *catalog.Catalog) *StaticCatalog {
	return &StaticCatalog{cat: cat}
}

// Current returns the wrapped catalog.
func (s *StaticCatalog) Current() *catalog.Catalog {
	return s.cat
}

// =============================================================================
// Service Configuration
// =============================================================================

// ServiceConfig holds configuration for the bridge service.
type ServiceConfig struct {
	// Limits is the default search budget. Requests may narrow or widen
	// individual fields up to the datatypes caps.
	Limits engine.Limits

	// CorpusName labels analytics points written for searches against
	// this service's corpus.
	// Default: "default"
	CorpusName string

	// MaxLineBytes caps accepted corpus line length.
	// Default: corpus.DefaultMaxLineBytes
	MaxLineBytes int

	// SuggestLimit caps near-miss suggestions attached to an exhausted
	// search. Zero uses the suggester default.
	SuggestLimit int
}

// DefaultServiceConfig returns the default service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Limits:       engine.DefaultLimits(),
		CorpusName:   "default",
		MaxLineBytes: corpus.DefaultMaxLineBytes,
	}
}

// =============================================================================
// Service
// =============================================================================

// Service is the bridge resolver service.
//
// Description:
//
//	Owns the corpus store and the optional subsystems (relevance oracle,
//	suggesters, analytics sink) for the lifetime of the process. A
//	resolver is built per resolve call so each call binds the catalog
//	that is current when it starts; in-flight searches are never
//	retargeted by a hot reload.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	config   ServiceConfig
	store    *corpus.Store
	loader   *corpus.Loader
	catalogs CatalogSource

	// oracle is nil when the service runs without LLM re-ranking.
	oracle rank.Oracle

	// suggesters are tried in order after an exhausted search. The first
	// one to return a non-empty list wins.
	suggesters []suggest.Suggester

	// sink receives one analytics point per completed search. May be nil.
	sink *telemetry.InfluxSink

	logger  *slog.Logger
	started time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithOracle installs a relevance oracle. Resolve requests still opt in
// per call via use_oracle.
func WithOracle(o rank.Oracle) ServiceOption {
	return func(s *Service) { s.oracle = o }
}

// WithSuggesters installs near-miss suggesters, tried in the given order
// after an exhausted search.
func WithSuggesters(suggesters ...suggest.Suggester) ServiceOption {
	return func(s *Service) { s.suggesters = suggesters }
}

// WithSink installs a search analytics sink.
func WithSink(sink *telemetry.InfluxSink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithServiceLogger sets the logger. Defaults to slog.Default().
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a bridge service with an empty corpus.
//
// Inputs:
//
//	catalogs - Active catalog source. Must not be nil.
//	config - Service configuration, typically DefaultServiceConfig().
//	opts - Optional oracle, suggesters, sink, and logger.
//
// Outputs:
//
//	*Service - The service.
//	error - Non-nil if catalogs is nil.
func NewService(catalogs CatalogSource, config ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if catalogs == nil {
		return nil, fmt.Errorf("bridge: catalog source must not be nil")
	}
	if config.CorpusName == "" {
		config.CorpusName = "default"
	}

	s := &Service{
		config:   config,
		store:    corpus.NewStore(),
		catalogs: catalogs,
		logger:   slog.Default(),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loader = corpus.NewLoader(s.store,
		corpus.WithMaxLineBytes(config.MaxLineBytes),
		corpus.WithLoaderLogger(s.logger),
	)

	return s, nil
}

// Catalog returns the currently active catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalogs.Current()
}

// Store returns the corpus store. Callers must treat records as read-only.
func (s *Service) Store() *corpus.Store {
	return s.store
}

// OracleConfigured reports whether an oracle is installed.
func (s *Service) OracleConfigured() bool {
	return s.oracle != nil
}

// Uptime returns how long the service has been running.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}

// =============================================================================
// Corpus Loading
// =============================================================================

// LoadCorpus loads records from a local file, a directory, or a gs:// URI.
//
// Description:
//
//	Records append to the existing store; loading the same path twice
//	duplicates its records. The path kind is detected, not declared:
//	gs:// prefixes go to GCS, directories are walked, everything else is
//	read as a single file.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	path - Local file, directory, or gs://bucket/prefix URI.
//
// Outputs:
//
//	corpus.LoadStats - Counts for this load.
//	error - Wraps corpus.ErrScan on any load failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) LoadCorpus(ctx context.Context, path string) (corpus.LoadStats, error) {
	if corpus.IsGCSURI(path) {
		return s.loader.LoadGCS(ctx, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return corpus.LoadStats{}, fmt.Errorf("%w: stat %s: %v", corpus.ErrScan, path, err)
	}
	if info.IsDir() {
		return s.loader.LoadDir(ctx, path)
	}
	return s.loader.LoadFile(ctx, path)
}

// =============================================================================
// Resolve
// =============================================================================

// ErrUnknownTargetType is returned by Resolve when the requested target
// type is not defined by the active catalog (after alias resolution). The
// engine itself would simply exhaust; rejecting up front turns a wasted
// full-budget search into an immediate, explainable failure.
var ErrUnknownTargetType = fmt.Errorf("unknown target entity type")

// Resolve runs one bounded bridge search and shapes the wire response.
//
// Description:
//
//	Binds the catalog that is current at call time, canonicalizes the
//	target type through catalog aliases, and runs the engine with the
//	request's budget overrides. An exhausted search gets a near-miss
//	suggester pass; every completed search is recorded to the analytics
//	sink when one is configured. A miss is a normal response, not an
//	error.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	req - Validated resolve request.
//	progress - Optional per-call progress callback (WebSocket streaming).
//
// Outputs:
//
//	datatypes.ResolveResponse - The shaped outcome. Zero value on error.
//	error - ErrUnknownTargetType, or a scan failure wrapping corpus.ErrScan.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) Resolve(ctx context.Context, req datatypes.ResolveRequest, progress engine.ProgressFunc) (datatypes.ResolveResponse, error) {
	cat := s.catalogs.Current()

	targetType, ok := cat.Resolve(req.TargetType)
	if !ok {
		return datatypes.ResolveResponse{}, fmt.Errorf("%w: %q", ErrUnknownTargetType, req.TargetType)
	}
	sourceType := req.SourceType
	if canonical, ok := cat.Resolve(sourceType); ok {
		sourceType = canonical
	}

	resolver, err := engine.New(cat,
		engine.WithLimits(s.config.Limits),
		engine.WithOracle(s.oracle),
		engine.WithLogger(s.logger),
	)
	if err != nil {
		return datatypes.ResolveResponse{}, err
	}

	engReq := engine.Request{
		SourceValue: req.SourceValue,
		SourceType:  sourceType,
		TargetType:  targetType,
		Hint:        req.OracleHint,
		UseOracle:   req.UseOracle && s.oracle != nil,
		Progress:    progress,
		Limits: engine.Limits{
			MaxIterations:          req.MaxIterations,
			MaxBridgesPerIteration: req.MaxBridgesPerIteration,
			MaxTotalSearches:       req.MaxTotalSearches,
			Timeout:                time.Duration(req.TimeoutMs) * time.Millisecond,
		},
	}

	view := s.store.All()
	result, err := resolver.Resolve(ctx, view, engReq)
	if err != nil {
		return datatypes.ResolveResponse{}, err
	}

	resp := s.shapeResponse(req.RequestID, result)

	if result.State == engine.StateExhausted && len(s.suggesters) > 0 {
		resp.Suggestions = s.suggestions(ctx, view, suggest.Query{
			SourceValue: req.SourceValue,
			SourceType:  sourceType,
			TargetType:  targetType,
			Limit:       s.config.SuggestLimit,
		})
	}

	if s.sink != nil {
		rec := telemetry.SearchRecord{
			Outcome:        string(result.State),
			Corpus:         s.config.CorpusName,
			Oracle:         engReq.UseOracle,
			Iterations:     result.Iterations,
			Searches:       result.TotalSearches,
			RecordsScanned: result.RecordsScanned,
			Confidence:     result.Confidence,
			Duration:       result.Elapsed,
		}
		// Sink writes block up to their own timeout; keep them off the
		// request path.
		go s.sink.Record(rec)
	}

	return resp, nil
}

// shapeResponse flattens an engine result into the wire response.
func (s *Service) shapeResponse(requestID string, result *engine.SearchResult) datatypes.ResolveResponse {
	path := make([]datatypes.PathHop, len(result.Path))
	for i, hop := range result.Path {
		path[i] = datatypes.PathHop{EntityType: hop.EntityType, Value: hop.Value}
	}

	bridges := make([]string, len(result.BridgesUsed))
	for i, b := range result.BridgesUsed {
		bridges[i] = b.Candidate.EntityType + ":" + b.Candidate.Value
	}

	return datatypes.ResolveResponse{
		RequestID:      requestID,
		SearchID:       result.SearchID,
		Found:          result.Found,
		TargetValues:   result.TargetValues,
		Path:           path,
		Iterations:     result.Iterations,
		BridgesUsed:    bridges,
		Confidence:     result.Confidence,
		RecordsScanned: result.RecordsScanned,
		TotalSearches:  result.TotalSearches,
		State:          string(result.State),
		ElapsedMs:      result.Elapsed.Milliseconds(),
	}
}

// suggestions runs the configured suggesters in order and returns the first
// non-empty result. Suggester failures are logged and skipped; an exhausted
// search with no suggestions is still a complete answer.
func (s *Service) suggestions(ctx context.Context, view corpus.View, q suggest.Query) []datatypes.Suggestion {
	ctx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	for _, sg := range s.suggesters {
		out, err := sg.Suggest(ctx, view, q)
		if err != nil {
			s.logger.Warn("suggester failed, trying next",
				slog.String("target_type", q.TargetType),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// =============================================================================
// Introspection
// =============================================================================

// CatalogSummary describes one entity type of the active catalog.
type CatalogSummary struct {
	EntityType   string   `json:"entity_type"`
	Priority     int      `json:"priority"`
	Patterns     []string `json:"patterns"`
	RelatedTypes []string `json:"related_types,omitempty"`
}

// CatalogSummaries returns the active catalog's entity types sorted by
// descending priority (name breaking ties), the same order ranking uses.
func (s *Service) CatalogSummaries() []CatalogSummary {
	cat := s.catalogs.Current()

	types := cat.Types()
	out := make([]CatalogSummary, 0, len(types))
	for _, t := range types {
		spec, ok := cat.Spec(t)
		if !ok {
			continue
		}
		out = append(out, CatalogSummary{
			EntityType:   t,
			Priority:     spec.Priority,
			Patterns:     spec.Patterns,
			RelatedTypes: spec.RelatedTypes,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].EntityType < out[j].EntityType
	})
	return out
}
