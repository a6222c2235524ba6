// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	extractMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "extract",
		Name:      "malformed_payloads_total",
		Help:      "Records skipped because their payload failed to parse",
	})

	extractValuesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "extract",
		Name:      "values_total",
		Help:      "Distinct typed values produced by extraction",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var extractTracer = otel.Tracer("aleutian.bridge.extract")

// =============================================================================
// Extractor
// =============================================================================

// Extractor pulls typed values out of record payloads using the catalog's
// field-name patterns.
//
// Description:
//
//	Extraction reads ONLY the structured payload of each record. The raw
//	free text and record metadata (source, line number) never contribute
//	values; the free text exists for scanning, not for extraction.
//
// Thread Safety: Safe for concurrent use (read-only after construction).
type Extractor struct {
	cat    *catalog.Catalog
	logger *slog.Logger
}

// New creates an Extractor bound to a catalog.
//
// Inputs:
//
//	cat - Compiled field pattern catalog. Must not be nil.
//	logger - Logger for diagnostics. May be nil (uses slog.Default()).
func New(cat *catalog.Catalog, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cat: cat, logger: logger}
}

// Extraction is the result of one extraction pass: deduplicated values per
// entity type, in deterministic discovery order.
//
// Description:
//
//	Discovery order is record order crossed with the record's sorted
//	payload fields, first occurrence wins. Two extractions over the same
//	records always produce identical orderings; nothing here depends on
//	map iteration.
type Extraction struct {
	// values maps entity type to its deduplicated values in discovery order.
	values map[string][]string

	// typeOrder lists the types present, in the catalog's deterministic order.
	typeOrder []string

	// malformed counts records whose payload failed to parse.
	malformed int

	// examined counts records the pass looked at.
	examined int
}

// Types returns the entity types with at least one extracted value, in the
// catalog's deterministic order.
func (e *Extraction) Types() []string {
	out := make([]string, len(e.typeOrder))
	copy(out, e.typeOrder)
	return out
}

// Values returns the extracted values for an entity type in discovery
// order. Unknown or absent types return nil.
func (e *Extraction) Values(entityType string) []string {
	vals := e.values[entityType]
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, len(vals))
	copy(out, vals)
	return out
}

// Has reports whether any value of the given type was extracted.
func (e *Extraction) Has(entityType string) bool {
	return len(e.values[entityType]) > 0
}

// Malformed returns the count of records skipped for unparsable payloads.
func (e *Extraction) Malformed() int {
	return e.malformed
}

// Examined returns the number of records the pass looked at.
func (e *Extraction) Examined() int {
	return e.examined
}

// Total returns the number of distinct typed values extracted.
func (e *Extraction) Total() int {
	n := 0
	for _, vals := range e.values {
		n += len(vals)
	}
	return n
}

// Extract runs one extraction pass over the given records.
//
// Description:
//
//	For each record, parses the payload (skipping and counting records
//	with no well-formed payload), matches every field name against the
//	catalog, and attributes the field's value to every matching type.
//	When only is non-empty, extraction is restricted to those types;
//	names that are not defined in the catalog simply yield nothing.
//
// Inputs:
//
//	ctx - Context for tracing.
//	records - Records to extract from (typically a scan's match set).
//	only - Optional restriction to specific entity types.
//
// Outputs:
//
//	*Extraction - The extraction result. Never nil.
//
// Thread Safety: Safe for concurrent use.
func (x *Extractor) Extract(ctx context.Context, records []*corpus.Record, only ...string) *Extraction {
	_, span := extractTracer.Start(ctx, "extract.Extract")
	defer span.End()

	var restrict map[string]bool
	if len(only) > 0 {
		restrict = make(map[string]bool, len(only))
		for _, typ := range only {
			restrict[typ] = true
		}
	}

	result := &Extraction{
		values:   make(map[string][]string),
		examined: len(records),
	}
	seen := make(map[string]map[string]bool)

	for _, rec := range records {
		fields, err := rec.Payload()
		if err != nil {
			result.malformed++
			extractMalformedTotal.Inc()
			x.logger.Debug("skipping record with unparsable payload",
				slog.String("source", rec.Source),
				slog.Int("line", rec.Line),
			)
			continue
		}

		for _, field := range fields {
			for _, typ := range x.cat.MatchingTypes(field.Name) {
				if restrict != nil && !restrict[typ] {
					continue
				}
				if seen[typ] == nil {
					seen[typ] = make(map[string]bool)
				}
				if seen[typ][field.Value] {
					continue
				}
				seen[typ][field.Value] = true
				result.values[typ] = append(result.values[typ], field.Value)
			}
		}
	}

	// Catalog order, filtered to types that produced values.
	for _, typ := range x.cat.Types() {
		if len(result.values[typ]) > 0 {
			result.typeOrder = append(result.typeOrder, typ)
		}
	}

	total := result.Total()
	extractValuesTotal.Add(float64(total))

	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("malformed", result.malformed),
		attribute.Int("types", len(result.typeOrder)),
		attribute.Int("values", total),
	)

	return result
}
