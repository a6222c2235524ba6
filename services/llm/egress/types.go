// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package egress provides data-egress controls for oracle LLM calls.
//
// Description:
//
//	The relevance oracle sends candidate bridge values to an LLM. When the
//	backing provider is local (Ollama) no data leaves the host and no
//	control is needed. When the provider is a cloud API, every call is an
//	egress event: this package wraps the oracle's llm.ChatClient in a
//	decorator that runs pre-flight checks (policy, rate limit, token
//	budget) before the call and writes an audit trail after it.
//
//	Check failures are fail-closed: the call is blocked and a sentinel
//	error is returned. Audit failures are fail-open: a call is never
//	blocked because its audit record could not be written.
//
// Thread Safety: All types in this package are safe for concurrent use
// unless documented otherwise.
package egress

import (
	"errors"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// LocalProvider is the provider name that bypasses all egress checks.
// Ollama runs on the host; its traffic never leaves the environment.
const LocalProvider = "ollama"

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrProviderDisabled indicates the global egress kill switch is off.
	ErrProviderDisabled = errors.New("egress disabled by kill switch")

	// ErrProviderDenied indicates the provider failed allowlist/denylist policy.
	ErrProviderDenied = errors.New("provider denied by egress policy")

	// ErrNoConsent indicates the operator has not consented to this provider.
	ErrNoConsent = errors.New("no operator consent for provider")

	// ErrRateLimited indicates the provider's per-minute call limit is spent.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrTokenBudgetExhausted indicates the daily token budget is spent.
	ErrTokenBudgetExhausted = errors.New("daily token budget exhausted")
)

// =============================================================================
// Egress Decision
// =============================================================================

// EgressDecision records the outcome of one egress attempt for auditing.
//
// Description:
//
//	One decision is created per Chat call through the guard, whether the
//	call was allowed or blocked. The auditor serializes it as a JSON line.
//
// Thread Safety: NOT safe for concurrent use. Each decision is owned by
// a single call.
type EgressDecision struct {
	// RequestID is a UUID tying the before/after/blocked audit events of
	// one call together.
	RequestID string `json:"request_id"`

	// Provider is the cloud provider name (e.g. "openai").
	Provider string `json:"provider"`

	// Model is the model the call targets.
	Model string `json:"model"`

	// ContentHash is the SHA256 hex digest of the outbound payload.
	// Empty when hashing is disabled or the call was blocked before the
	// payload was inspected.
	ContentHash string `json:"content_hash,omitempty"`

	// Allowed is true when all pre-flight checks passed.
	Allowed bool `json:"allowed"`

	// BlockedBy names the check that blocked the call
	// (kill_switch, policy, consent, rate_limit, budget). Empty if allowed.
	BlockedBy string `json:"blocked_by,omitempty"`

	// BlockReason is the human-readable explanation for the block.
	BlockReason string `json:"block_reason,omitempty"`

	// EstimatedTokens is the pre-call input token estimate.
	EstimatedTokens int `json:"estimated_tokens,omitempty"`

	// Timestamp is when the decision was made, Unix milliseconds UTC.
	Timestamp int64 `json:"timestamp"`

	// DurationMs is how long the decision (and call, if allowed) took.
	DurationMs int64 `json:"duration_ms"`
}

// NewEgressDecision creates a decision stamped with the current time.
func NewEgressDecision(requestID, provider, model string) *EgressDecision {
	return &EgressDecision{
		RequestID: requestID,
		Provider:  provider,
		Model:     model,
		Timestamp: time.Now().UnixMilli(),
	}
}

// =============================================================================
// Payload Serialization
// =============================================================================

// serializeChatMessages flattens chat messages for hashing and token
// estimation. Returns an empty non-nil slice for empty message lists so
// downstream hashing always receives valid input.
func serializeChatMessages(messages []datatypes.Message) []byte {
	if len(messages) == 0 {
		return []byte{}
	}

	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Content)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}
