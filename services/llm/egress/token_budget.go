// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// =============================================================================
// Daily Token Budget
// =============================================================================

// TokenBudget caps the tokens sent to cloud providers per UTC day.
//
// Description:
//
//	The guard checks CanSpend before each cloud call and Records the
//	estimated spend after it. The consumed counter resets when the UTC
//	day changes. A limit of 0 means unlimited.
//
//	Counters are lock-free. The day rollover uses compare-and-swap; a
//	Record racing the reset can be cleared with the old window, which
//	only loosens the budget by one call at the boundary.
//
// Thread Safety: Safe for concurrent use.
type TokenBudget struct {
	limit    int64
	consumed atomic.Int64
	day      atomic.Int64 // UTC days since epoch for the current window
}

// NewTokenBudget creates a budget with the given daily token limit.
//
// Inputs:
//   - limit: Maximum tokens per UTC day. 0 (or negative) means unlimited.
//
// Outputs:
//   - *TokenBudget: Fresh budget with nothing consumed.
func NewTokenBudget(limit int64) *TokenBudget {
	b := &TokenBudget{limit: limit}
	b.day.Store(currentDay())
	return b
}

// CanSpend checks whether the estimated token count fits today's budget.
//
// Inputs:
//   - estimated: Token estimate for the upcoming call.
//
// Outputs:
//   - bool: True if the spend fits (always true when unlimited).
//   - int64: Tokens remaining today. -1 when unlimited.
func (b *TokenBudget) CanSpend(estimated int) (bool, int64) {
	if b.limit <= 0 {
		return true, -1
	}
	b.rollover()

	remaining := b.limit - b.consumed.Load()
	if remaining < 0 {
		remaining = 0
	}
	return int64(estimated) <= remaining, remaining
}

// Record adds actual (or estimated) token usage to today's window.
//
// Inputs:
//   - tokens: Tokens consumed by the completed call.
func (b *TokenBudget) Record(tokens int) {
	if b.limit <= 0 || tokens <= 0 {
		return
	}
	b.rollover()
	b.consumed.Add(int64(tokens))
}

// Remaining returns the tokens left today. -1 when unlimited, clamped
// to 0 when overspent.
func (b *TokenBudget) Remaining() int64 {
	if b.limit <= 0 {
		return -1
	}
	b.rollover()

	remaining := b.limit - b.consumed.Load()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Summary returns a one-line human-readable budget state.
func (b *TokenBudget) Summary() string {
	if b.limit <= 0 {
		return fmt.Sprintf("tokens used today: %d (no daily limit)", b.consumed.Load())
	}
	return fmt.Sprintf("tokens used today: %d/%d (%d remaining)",
		b.consumed.Load(), b.limit, b.Remaining())
}

// rollover resets the consumed counter when the UTC day has changed.
func (b *TokenBudget) rollover() {
	today := currentDay()
	prev := b.day.Load()
	if prev != today && b.day.CompareAndSwap(prev, today) {
		b.consumed.Store(0)
	}
}

// currentDay returns the number of whole UTC days since the Unix epoch.
func currentDay() int64 {
	return time.Now().UTC().Unix() / 86400
}

// =============================================================================
// Per-Provider Call Metrics
// =============================================================================

// ProviderMetrics accumulates per-provider call statistics for
// end-of-run summaries. Prometheus metrics cover live observation; this
// type exists so the guard can log a compact total when the service
// shuts down.
//
// Thread Safety: Safe for concurrent use (all counters are atomic).
type ProviderMetrics struct {
	provider string

	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	totalCalls   atomic.Int64
	totalErrors  atomic.Int64
	totalLatency atomic.Int64 // milliseconds
	lastCall     atomic.Int64 // Unix milliseconds
}

// NewProviderMetrics creates a metrics accumulator for one provider.
func NewProviderMetrics(provider string) *ProviderMetrics {
	return &ProviderMetrics{provider: provider}
}

// RecordCall records a completed call's token counts and latency.
func (m *ProviderMetrics) RecordCall(inputTokens, outputTokens int, duration time.Duration) {
	m.inputTokens.Add(int64(inputTokens))
	m.outputTokens.Add(int64(outputTokens))
	m.totalCalls.Add(1)
	m.totalLatency.Add(duration.Milliseconds())
	m.lastCall.Store(time.Now().UnixMilli())
}

// RecordError increments the error counter.
func (m *ProviderMetrics) RecordError() {
	m.totalErrors.Add(1)
}

// Calls returns the number of calls recorded so far.
func (m *ProviderMetrics) Calls() int64 {
	return m.totalCalls.Load()
}

// LogSummary writes the accumulated totals through the given logger.
func (m *ProviderMetrics) LogSummary(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	calls := m.totalCalls.Load()
	var avgLatency int64
	if calls > 0 {
		avgLatency = m.totalLatency.Load() / calls
	}
	logger.Info("egress provider summary",
		slog.String("provider", m.provider),
		slog.Int64("calls", calls),
		slog.Int64("errors", m.totalErrors.Load()),
		slog.Int64("input_tokens", m.inputTokens.Load()),
		slog.Int64("output_tokens", m.outputTokens.Load()),
		slog.Int64("avg_latency_ms", avgLatency),
	)
}
