// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxValueBytes is the maximum size of a user-supplied value string.
	// Byte length, not rune count: oversized payloads are rejected before
	// they reach the scanner.
	MaxValueBytes = 4 * 1024

	// MaxRequestIterations caps the per-request iteration override.
	MaxRequestIterations = 50

	// MaxRequestBridges caps the per-request bridges-per-iteration override.
	MaxRequestBridges = 20

	// MaxRequestSearches caps the per-request total-search override.
	MaxRequestSearches = 500

	// MaxRequestTimeoutMs caps the per-request timeout override (5 minutes).
	MaxRequestTimeoutMs = 300_000
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// resolveValidate is the validator instance for bridge datatypes.
// Initialized in init() with custom validators.
var resolveValidate *validator.Validate

func init() {
	resolveValidate = validator.New()
	_ = resolveValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxValueBytes on a string field. Checks byte
// length, not rune count, so multi-byte payloads cannot slip past the cap.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxValueBytes
}

// =============================================================================
// Resolve Request
// =============================================================================

// ResolveRequest is the body of POST /v1/bridge/resolve.
//
// # Description
//
// Asks the engine to connect SourceValue to one or more values of TargetType
// by pivoting through bridge values that co-occur in corpus records.
// SourceType is optional: when empty, the engine treats candidates equal to
// the source value as already visited instead of matching on type.
//
// The four limit fields override the engine defaults for this request only.
// Zero means "use the default".
//
// # Validation
//
//   - SourceValue: required, at most MaxValueBytes bytes
//   - TargetType: required
//   - MaxIterations / MaxBridgesPerIteration / MaxTotalSearches / TimeoutMs:
//     bounded overrides; zero picks the engine default
type ResolveRequest struct {
	RequestID   string `json:"request_id" validate:"omitempty,uuid4"`
	SourceValue string `json:"source_value" validate:"required,maxbytes"`
	SourceType  string `json:"source_type,omitempty"`
	TargetType  string `json:"target_type" validate:"required"`

	MaxIterations          int   `json:"max_iterations,omitempty" validate:"gte=0,lte=50"`
	MaxBridgesPerIteration int   `json:"max_bridges_per_iteration,omitempty" validate:"gte=0,lte=20"`
	MaxTotalSearches       int   `json:"max_total_searches,omitempty" validate:"gte=0,lte=500"`
	TimeoutMs              int64 `json:"timeout_ms,omitempty" validate:"gte=0,lte=300000"`

	// UseOracle enables the relevance oracle for this request when the
	// service has one configured.
	UseOracle bool `json:"use_oracle,omitempty"`

	// OracleHint is free-text context forwarded to the oracle prompt.
	OracleHint string `json:"oracle_hint,omitempty" validate:"maxbytes"`
}

// Validate validates the ResolveRequest fields.
func (r *ResolveRequest) Validate() error {
	return resolveValidate.Struct(r)
}

// EnsureDefaults populates the request ID when the client omitted it.
func (r *ResolveRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
}

// =============================================================================
// Resolve Response
// =============================================================================

// PathHop is one step of the resolution path.
type PathHop struct {
	EntityType string `json:"entity_type"`
	Value      string `json:"value"`
}

// ResolveResponse is the body returned by POST /v1/bridge/resolve.
//
// # Description
//
// Mirrors the engine's search result. Found=false is a normal outcome, not
// an error: Path is empty, TargetValues is empty, and State explains why the
// search stopped (exhausted or timed_out).
type ResolveResponse struct {
	RequestID    string    `json:"request_id"`
	SearchID     string    `json:"search_id"`
	Found        bool      `json:"found"`
	TargetValues []string  `json:"target_values,omitempty"`
	Path         []PathHop `json:"path,omitempty"`

	Iterations     int      `json:"iterations"`
	BridgesUsed    []string `json:"bridges_used,omitempty"`
	Confidence     float64  `json:"confidence"`
	RecordsScanned int      `json:"records_scanned"`
	TotalSearches  int      `json:"total_searches"`

	State     string `json:"state"`
	ElapsedMs int64  `json:"elapsed_ms"`

	// Suggestions holds near-miss pivot hints attached when the search
	// exhausted without a find. Advisory only.
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Suggestion is a near-miss pivot hint for an exhausted search.
type Suggestion struct {
	Value      string  `json:"value"`
	EntityType string  `json:"entity_type,omitempty"`
	Score      float64 `json:"score"`
	Source     string  `json:"source,omitempty"`
}

// =============================================================================
// Corpus Load Request
// =============================================================================

// CorpusLoadRequest is the body of POST /v1/bridge/corpus.
type CorpusLoadRequest struct {
	// Path is a local file, a directory, or a gs:// URI.
	Path string `json:"path" validate:"required,maxbytes"`
}

// Validate validates the CorpusLoadRequest fields.
func (r *CorpusLoadRequest) Validate() error {
	return resolveValidate.Struct(r)
}

// =============================================================================
// Helpers
// =============================================================================

// NowUnixMilli returns the current UTC time in Unix milliseconds.
func NowUnixMilli() int64 {
	return time.Now().UTC().UnixMilli()
}
