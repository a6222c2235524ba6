// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

// =============================================================================
// HTTP Response Types
// =============================================================================

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /v1/bridge/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`

	// Records is the current corpus size. A healthy service with zero
	// records answers every resolve with an immediate exhaustion.
	Records int `json:"records"`

	// CatalogTypes is the number of entity types the active catalog
	// defines.
	CatalogTypes int `json:"catalog_types"`

	// OracleConfigured is true when LLM re-ranking is available (requests
	// still opt in per call).
	OracleConfigured bool `json:"oracle_configured"`

	UptimeSeconds int64 `json:"uptime_seconds"`
}

// CorpusLoadResponse is returned by POST /v1/bridge/corpus.
type CorpusLoadResponse struct {
	// Path is the loaded file, directory, or gs:// URI.
	Path string `json:"path"`

	// Files is the number of sources read by this load.
	Files int `json:"files"`

	// RecordsLoaded is the number of records this load appended.
	RecordsLoaded int `json:"records_loaded"`

	// SkippedLines counts blank lines dropped by this load.
	SkippedLines int `json:"skipped_lines"`

	// TotalRecords is the store size after the load.
	TotalRecords int `json:"total_records"`
}

// CorpusStatsResponse is returned by GET /v1/bridge/corpus/stats.
type CorpusStatsResponse struct {
	Records int   `json:"records"`
	Sources int   `json:"sources"`
	Bytes   int64 `json:"bytes"`
}

// CatalogResponse is returned by GET /v1/bridge/catalog.
type CatalogResponse struct {
	SchemaVersion string `json:"schema_version"`

	// Entities lists every defined type in ranking order (priority
	// descending, name breaking ties).
	Entities []CatalogSummary `json:"entities"`

	// Aliases maps accepted alternate names to canonical types.
	Aliases map[string]string `json:"aliases,omitempty"`
}

// DebugConfigResponse is returned by GET /v1/bridge/debug/config.
type DebugConfigResponse struct {
	CorpusName string `json:"corpus_name"`

	// Default search budget applied when a request does not override.
	MaxIterations          int   `json:"max_iterations"`
	MaxBridgesPerIteration int   `json:"max_bridges_per_iteration"`
	MaxTotalSearches       int   `json:"max_total_searches"`
	TimeoutMs              int64 `json:"timeout_ms"`

	MaxLineBytes     int  `json:"max_line_bytes"`
	SuggestLimit     int  `json:"suggest_limit"`
	OracleConfigured bool `json:"oracle_configured"`
	Suggesters       int  `json:"suggesters"`
	SinkConfigured   bool `json:"sink_configured"`
}

// DebugRecord is one corpus record in a debug sample.
type DebugRecord struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
}

// DebugCorpusResponse is returned by GET /v1/bridge/debug/corpus.
type DebugCorpusResponse struct {
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Records []DebugRecord `json:"records"`
}
