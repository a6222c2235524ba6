// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianBridge/services/datatypes"
	"github.com/AleutianAI/AleutianBridge/services/llm"
)

// =============================================================================
// Oracle - LLM Relevance Verdicts
// =============================================================================

// Oracle answers one question: of these candidate bridge values, which are
// most likely to lead to the target entity type?
//
// # Description
//
// The intrinsic ranker only sees value shape and catalog priority. An oracle
// sees meaning: it can tell that a session token is a better pivot toward an
// ip_address than an email is. The engine treats every oracle as advisory;
// a returned subset boosts scores, an error changes nothing.
//
// Implementations must be safe for concurrent use.
type Oracle interface {
	// Rank returns the subset of candidate values the oracle prefers for
	// reaching targetType. Returned strings must be candidate values
	// verbatim; anything else is discarded by the caller.
	Rank(ctx context.Context, candidates []Candidate, targetType, hint string) ([]string, error)
}

// =============================================================================
// OracleConfig
// =============================================================================

// OracleConfig configures the LLM-backed oracle.
type OracleConfig struct {
	// Model is the model to use for relevance verdicts.
	// Default: "ministral-3:3b"
	Model string `json:"model"`

	// Timeout is the maximum time for one verdict call. The search keeps
	// its own budget; a slow oracle must never eat it.
	// Default: 5s
	Timeout time.Duration `json:"timeout"`

	// Temperature controls randomness. Lower = more deterministic.
	// Default: 0.1
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the response length. A verdict is a short JSON
	// array, so the cap is small.
	// Default: 256
	MaxTokens int `json:"max_tokens"`

	// NumCtx is the context window size.
	// Default: 4096
	NumCtx int `json:"num_ctx"`

	// KeepAlive controls how long the model stays in VRAM.
	// Default: "24h"
	KeepAlive string `json:"keep_alive"`

	// MaxRequestsPerSecond throttles verdict calls across all concurrent
	// searches. Zero disables throttling.
	// Default: 2
	MaxRequestsPerSecond float64 `json:"max_requests_per_second"`

	// Burst is the throttle burst size.
	// Default: 2
	Burst int `json:"burst"`
}

// DefaultOracleConfig returns sensible defaults.
//
// # Outputs
//
//   - OracleConfig: Default configuration.
func DefaultOracleConfig() OracleConfig {
	return OracleConfig{
		Model:                "ministral-3:3b",
		Timeout:              5 * time.Second,
		Temperature:          0.1,
		MaxTokens:            256,
		NumCtx:               4096,
		KeepAlive:            "24h",
		MaxRequestsPerSecond: 2,
		Burst:                2,
	}
}

// =============================================================================
// LLMOracle
// =============================================================================

// LLMOracle implements Oracle on top of a chat-capable model.
//
// # Description
//
// One verdict call sends the candidate list, the target type, and the
// optional hint to the model and asks for a strict-JSON subset of preferred
// values. Identical in-flight requests are collapsed through singleflight,
// repeated requests are served from an optional verdict cache, and all
// calls share one rate limiter. Every model reply is validated against the
// candidate list; invented values are dropped and counted.
//
// # Thread Safety
//
// LLMOracle is safe for concurrent use.
type LLMOracle struct {
	chatClient llm.ChatClient
	config     OracleConfig
	cache      VerdictCacheStore
	logger     *slog.Logger
	limiter    *rate.Limiter
	group      singleflight.Group
}

// OracleOption configures an LLMOracle.
type OracleOption func(*LLMOracle)

// WithVerdictCache attaches a verdict cache. Cache failures are logged and
// treated as misses.
func WithVerdictCache(store VerdictCacheStore) OracleOption {
	return func(o *LLMOracle) {
		o.cache = store
	}
}

// WithOracleLogger sets the logger.
func WithOracleLogger(logger *slog.Logger) OracleOption {
	return func(o *LLMOracle) {
		o.logger = logger
	}
}

// NewLLMOracle creates an LLM-backed relevance oracle.
//
// # Inputs
//
//   - chatClient: Client for sending verdict queries. Must not be nil.
//   - config: Oracle configuration.
//   - opts: Optional cache and logger.
//
// # Outputs
//
//   - *LLMOracle: Configured oracle.
//   - error: Non-nil if chatClient is nil.
func NewLLMOracle(chatClient llm.ChatClient, config OracleConfig, opts ...OracleOption) (*LLMOracle, error) {
	if chatClient == nil {
		return nil, fmt.Errorf("chatClient must not be nil")
	}

	o := &LLMOracle{
		chatClient: chatClient,
		config:     config,
		logger:     slog.Default(),
	}
	if config.MaxRequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(config.MaxRequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Rank asks the model which candidates are the best pivots toward targetType.
//
// # Description
//
// Checks the verdict cache, then collapses identical concurrent requests
// and calls the model with the oracle timeout applied. The reply is parsed
// as strict JSON and filtered against the candidate list, so the returned
// values are always a verbatim subset of the input. Errors are returned to
// the caller, which falls back to intrinsic order.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - candidates: Candidates to judge, best-first. Must not be empty.
//   - targetType: The entity type the search is trying to reach.
//   - hint: Optional free-text context from the caller.
//
// # Outputs
//
//   - []string: Preferred candidate values, possibly empty.
//   - error: Non-nil on throttle, transport, timeout, or parse failure.
//
// # Thread Safety
//
// Safe for concurrent use.
func (o *LLMOracle) Rank(ctx context.Context, candidates []Candidate, targetType, hint string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to rank")
	}

	ctx, span := rankTracer.Start(ctx, "LLMOracle.Rank")
	defer span.End()

	span.SetAttributes(
		attribute.String("oracle.model", o.config.Model),
		attribute.String("oracle.target_type", targetType),
		attribute.Int("oracle.candidates", len(candidates)),
	)

	key := VerdictKey(candidates, targetType, hint, o.config.Model)

	if o.cache != nil {
		verdict, ok, err := o.cache.Load(ctx, key)
		if err != nil {
			o.logger.Warn("verdict cache load failed",
				slog.String("key", shortHash(key)),
				slog.String("error", err.Error()),
			)
			verdictCacheTotal.WithLabelValues("error").Inc()
		} else if ok {
			verdictCacheTotal.WithLabelValues("hit").Inc()
			RecordOracleTotal(o.config.Model, "cache_hit")
			span.SetAttributes(attribute.Bool("oracle.cache_hit", true))
			return verdict, nil
		} else {
			verdictCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	// Concurrent searches over the same frontier produce identical verdict
	// requests; only one reaches the model.
	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.rankUncached(ctx, span, key, candidates, targetType, hint)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// rankUncached performs the actual model call for one verdict.
func (o *LLMOracle) rankUncached(
	ctx context.Context,
	span trace.Span,
	key string,
	candidates []Candidate,
	targetType, hint string,
) ([]string, error) {
	startTime := time.Now()

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			RecordOracleTotal(o.config.Model, "error")
			return nil, fmt.Errorf("oracle throttle wait failed: %w", err)
		}
	}

	// Apply the oracle timeout. The parent ctx carries the search budget;
	// Save below must outlive this deadline, so it uses the parent.
	callCtx := ctx
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	messages := []datatypes.Message{
		{Role: "system", Content: oracleSystemPrompt},
		{Role: "user", Content: buildVerdictPrompt(candidates, targetType, hint)},
	}

	opts := llm.ChatOptions{
		Temperature: o.config.Temperature,
		MaxTokens:   o.config.MaxTokens,
		NumCtx:      o.config.NumCtx,
		KeepAlive:   o.config.KeepAlive,
		Model:       o.config.Model,
	}

	response, err := o.chatClient.Chat(callCtx, messages, opts)
	if err != nil {
		duration := time.Since(startTime)
		if callCtx.Err() == context.DeadlineExceeded {
			span.SetStatus(codes.Error, "timeout")
			RecordOracleLatency(o.config.Model, "timeout", duration.Seconds())
			RecordOracleTotal(o.config.Model, "timeout")
			return nil, fmt.Errorf("oracle verdict timed out: %w", err)
		}
		span.SetStatus(codes.Error, "chat failed")
		RecordOracleLatency(o.config.Model, "error", duration.Seconds())
		RecordOracleTotal(o.config.Model, "error")
		return nil, fmt.Errorf("oracle verdict chat failed: %w", err)
	}

	preferred, err := parseVerdict(response)
	if err != nil {
		duration := time.Since(startTime)
		span.SetStatus(codes.Error, "parse failed")
		RecordOracleLatency(o.config.Model, "parse_error", duration.Seconds())
		RecordOracleTotal(o.config.Model, "parse_error")
		return nil, fmt.Errorf("oracle verdict parse failed: %w", err)
	}

	verdict := o.filterHallucinations(preferred, candidates)

	duration := time.Since(startTime)
	RecordOracleLatency(o.config.Model, "success", duration.Seconds())
	RecordOracleTotal(o.config.Model, "success")

	o.logger.Debug("oracle verdict",
		slog.String("target_type", targetType),
		slog.Int("candidates", len(candidates)),
		slog.Int("preferred", len(verdict)),
		slog.Duration("duration", duration),
	)

	if o.cache != nil {
		if err := o.cache.Save(ctx, key, verdict); err != nil {
			o.logger.Warn("verdict cache save failed",
				slog.String("key", shortHash(key)),
				slog.String("error", err.Error()),
			)
		}
	}

	return verdict, nil
}

// filterHallucinations keeps only replies that name a real candidate value.
//
// Small models wrap values in backticks or quotes, and occasionally invent
// values wholesale. Cosmetic wrapping is stripped; invented values are
// dropped and counted.
func (o *LLMOracle) filterHallucinations(preferred []string, candidates []Candidate) []string {
	valid := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		valid[c.Value] = true
	}

	seen := make(map[string]bool, len(preferred))
	verdict := make([]string, 0, len(preferred))
	for _, raw := range preferred {
		value := strings.TrimSpace(raw)
		value = strings.Trim(value, "`*\"'")
		value = strings.TrimSpace(value)

		if !valid[value] {
			oracleHallucinationsTotal.Inc()
			o.logger.Debug("oracle hallucinated a value, dropping",
				slog.String("value", llm.SafeLogString(truncate(raw, 80))),
			)
			continue
		}
		if seen[value] {
			continue
		}
		seen[value] = true
		verdict = append(verdict, value)
	}
	return verdict
}

// =============================================================================
// Prompt Construction
// =============================================================================

const oracleSystemPrompt = `You are a relevance judge for an entity-relationship search over log and event records.

The search pivots from one entity value to another through values that co-occur
in the same records. You are given the target entity type and a list of
candidate pivot values with their entity types. Select the candidates most
likely to appear in records that also contain a value of the target type.

Rules:
- Prefer specific, high-entropy identifiers (session tokens, device ids,
  transaction ids) over broad attributes shared by many entities.
- Prefer candidate types that plausibly co-occur with the target type in the
  same system (a session co-occurs with an ip_address; a country rarely does).
- Select at most half of the candidates. Selecting none is a valid answer.
- Use candidate values EXACTLY as given. Never invent, correct, or reformat
  a value.

Respond with ONLY a JSON object of the form {"preferred": ["value1", "value2"]}.
Do not include any explanation or markdown formatting.`

// buildVerdictPrompt constructs the per-request user prompt.
func buildVerdictPrompt(candidates []Candidate, targetType, hint string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Target entity type: %s\n", targetType))
	if hint != "" {
		sb.WriteString(fmt.Sprintf("Context hint: %s\n", hint))
	}
	sb.WriteString("\nCandidates:\n")
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("  - %s (%s)\n", c.Value, c.EntityType))
	}
	sb.WriteString("\nPreferred subset:")

	return sb.String()
}

// parseVerdict extracts the preferred-values array from the model response.
func parseVerdict(response string) ([]string, error) {
	response = strings.TrimSpace(response)

	if len(response) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}

	// Clean up markdown code blocks
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	// Find JSON in response
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return nil, fmt.Errorf("no JSON object found in response: %s", truncate(response, 100))
	}

	jsonStr := response[startIdx : endIdx+1]

	var verdict struct {
		Preferred []string `json:"preferred"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w, response: %s", err, truncate(jsonStr, 100))
	}

	return verdict.Preferred, nil
}
