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
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/AleutianAI/AleutianBridge/services/bridge/extract"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

const (
	// defaultWeaviateClass is the Weaviate class storing record chunks.
	defaultWeaviateClass = "BridgeRecord"

	// Chunking bounds for record text. Most records fit one chunk; long
	// multi-line payloads split with enough overlap that an entity value
	// straddling a boundary still lands whole in one chunk.
	chunkSize    = 512
	chunkOverlap = 64

	// weaviateFetchLimit is how many chunks a hybrid query retrieves
	// before extraction and aggregation.
	weaviateFetchLimit = 20
)

// WeaviateConfig holds connection settings for the vector suggester.
type WeaviateConfig struct {
	// URL is the full base URL (http://host:port).
	URL string

	// ClassName overrides the Weaviate class ("" = BridgeRecord).
	ClassName string

	// Alpha weights hybrid search: 0 = pure keyword, 1 = pure vector.
	Alpha float32
}

// WeaviateConfigFromEnv reads BRIDGE_WEAVIATE_URL and BRIDGE_WEAVIATE_ALPHA.
//
// The suggester is opt-in: the second return value is false when
// BRIDGE_WEAVIATE_URL is unset.
func WeaviateConfigFromEnv() (WeaviateConfig, bool) {
	rawURL := os.Getenv("BRIDGE_WEAVIATE_URL")
	if rawURL == "" {
		return WeaviateConfig{}, false
	}

	// Keyword-dominant by default: record corpora are id-heavy and the
	// class carries no vectorizer.
	alpha := float32(0.25)
	if raw := os.Getenv("BRIDGE_WEAVIATE_ALPHA"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 32); err == nil && f >= 0 && f <= 1 {
			alpha = float32(f)
		}
	}

	return WeaviateConfig{URL: rawURL, Alpha: alpha}, true
}

// WeaviateSuggester ranks pivot candidates with Weaviate hybrid search.
//
// Strictly optional: every failure path degrades to the injected fallback
// suggester, so resolve responses never lose suggestions because Weaviate
// is down.
type WeaviateSuggester struct {
	client    *weaviate.Client
	class     string
	alpha     float32
	fallback  Suggester
	cat       *catalog.Catalog
	extractor *extract.Extractor
	logger    *slog.Logger
}

// NewWeaviate creates a Weaviate-backed suggester.
//
// Inputs:
//
//	cfg - Connection settings, typically from WeaviateConfigFromEnv.
//	cat - Catalog for extraction and related-type weighting.
//	fallback - Suggester used when Weaviate fails. Must not be nil.
//	logger - Structured logger. Nil falls back to slog.Default().
//
// Outputs:
//
//	*WeaviateSuggester - Ready for EnsureSchema/Index/Suggest.
//	error - Invalid URL or client construction failure.
func NewWeaviate(cfg WeaviateConfig, cat *catalog.Catalog, fallback Suggester, logger *slog.Logger) (*WeaviateSuggester, error) {
	if logger == nil {
		logger = slog.Default()
	}

	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q: %w", cfg.URL, err)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	class := cfg.ClassName
	if class == "" {
		class = defaultWeaviateClass
	}

	return &WeaviateSuggester{
		client:    client,
		class:     class,
		alpha:     cfg.Alpha,
		fallback:  fallback,
		cat:       cat,
		extractor: extract.New(cat, logger),
		logger:    logger,
	}, nil
}

// EnsureSchema creates the record class if it does not exist.
func (s *WeaviateSuggester) EnsureSchema(ctx context.Context) error {
	_, err := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx)
	if err == nil {
		return nil
	}

	class := &models.Class{
		Class:       s.class,
		Description: "Chunked corpus records for near-miss suggestion search",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}, Description: "Chunk text"},
			{Name: "source", DataType: []string{"text"}, Description: "Record origin"},
			{Name: "line", DataType: []string{"int"}, Description: "Line within source"},
		},
	}

	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	s.logger.Info("weaviate class created", "class", s.class)
	return nil
}

// Index batch-loads a corpus view into Weaviate.
//
// Description:
//
//	Splits each record with a recursive character splitter and writes one
//	object per chunk. Object IDs are deterministic (sha256 of chunk plus
//	provenance), so re-indexing the same view is idempotent.
//
// Outputs:
//
//	int - Chunks successfully written.
//	error - Batch transport failure. Per-item failures are logged only.
func (s *WeaviateSuggester) Index(ctx context.Context, view corpus.View) (int, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators([]string{"\n", " ", ""}),
	)

	var objects []*models.Object
	err := view.Each(ctx, func(rec *corpus.Record) bool {
		chunks, err := splitter.SplitText(rec.Raw)
		if err != nil {
			s.logger.Warn("chunking failed, indexing record whole",
				"source", rec.Source, "line", rec.Line, "error", err)
			chunks = []string{rec.Raw}
		}
		for _, chunk := range chunks {
			hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", chunk, rec.Source, rec.Line)))
			chunkUUID, _ := uuid.FromBytes(hash[:16])
			objects = append(objects, &models.Object{
				Class: s.class,
				ID:    strfmt.UUID(chunkUUID.String()),
				Properties: map[string]interface{}{
					"text":   chunk,
					"source": rec.Source,
					"line":   rec.Line,
				},
			})
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, nil
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import: %w", err)
	}

	written := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			written++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				s.logger.Warn("weaviate batch item failed", "error", e.Message)
			}
		}
	}

	s.logger.Info("corpus indexed into weaviate",
		"class", s.class, "records", view.Size(), "chunks", written)
	return written, nil
}

// Suggest implements Suggester.
//
// Description:
//
//	Runs an alpha-weighted hybrid query for the source value and feeds the
//	returned chunks through the shared extraction/weighting pipeline. Any
//	Weaviate failure falls back to the injected suggester.
func (s *WeaviateSuggester) Suggest(ctx context.Context, view corpus.View, q Query) ([]datatypes.Suggestion, error) {
	hybrid := s.client.GraphQL().HybridArgumentBuilder().
		WithQuery(q.SourceValue).
		WithAlpha(s.alpha)

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(
			graphql.Field{Name: "text"},
			graphql.Field{Name: "source"},
			graphql.Field{Name: "line"},
			graphql.Field{Name: "_additional { score }"},
		).
		WithHybrid(hybrid).
		WithLimit(weaviateFetchLimit).
		Do(ctx)

	if err != nil {
		s.logger.Warn("weaviate suggest failed, falling back", "error", err)
		return s.fallback.Suggest(ctx, view, q)
	}
	if len(result.Errors) > 0 {
		s.logger.Warn("weaviate suggest returned errors, falling back",
			"error", result.Errors[0].Message)
		return s.fallback.Suggest(ctx, view, q)
	}

	records := s.parseChunks(result)
	if len(records) == 0 {
		return s.fallback.Suggest(ctx, view, q)
	}

	return collectSuggestions(ctx, s.extractor, s.cat, records, q, "weaviate"), nil
}

// parseChunks converts a hybrid query response into scored records.
func (s *WeaviateSuggester) parseChunks(result *models.GraphQLResponse) []scoredRecord {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[s.class].([]interface{})
	if !ok {
		return nil
	}

	records := make([]scoredRecord, 0, len(objects))
	for i, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		if text == "" {
			continue
		}
		source, _ := m["source"].(string)
		line := 0
		if f, ok := m["line"].(float64); ok {
			line = int(f)
		}

		// Hybrid scores come back as strings inside _additional. Fall back
		// to rank position when absent or unparseable.
		score := 1.0 / float64(i+1)
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if raw, ok := add["score"].(string); ok {
				if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
					score = f
				}
			}
		}

		records = append(records, scoredRecord{
			rec:   corpus.NewRecord(text, source, line),
			score: score,
		})
	}
	return records
}
