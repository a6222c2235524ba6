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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianBridge/services/datatypes"
	"github.com/AleutianAI/AleutianBridge/services/llm"
)

// =============================================================================
// Guard (shared components)
// =============================================================================

// Guard holds the shared egress components and wraps ChatClients.
//
// Description:
//
//	One Guard is built at startup from EgressConfig; Wrap decorates each
//	cloud-backed oracle client with it. Policy, rate limiter, budget,
//	and auditor are shared across all wrapped clients so limits apply
//	service-wide rather than per client.
//
// Thread Safety: Safe for concurrent use.
type Guard struct {
	policy      *EgressPolicy
	rateLimiter *RateLimiter
	budget      *TokenBudget
	auditor     *EgressAuditor
	logger      *slog.Logger
}

// NewGuard builds a guard from egress configuration.
//
// Description:
//
//	When cfg.AuditPath is set, audit events go to that file as JSONL; if
//	the file cannot be opened the guard logs a warning and falls back to
//	the service logger rather than failing (the audit trail degrades,
//	the service does not).
//
// Inputs:
//   - cfg: Loaded egress configuration. Nil loads from the environment.
//   - logger: Service logger. Nil falls back to slog.Default().
//
// Outputs:
//   - *Guard: Ready-to-use guard.
func NewGuard(cfg *EgressConfig, logger *slog.Logger) *Guard {
	if cfg == nil {
		cfg = LoadEgressConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "egress"))

	auditor := NewEgressAuditor(logger, cfg.AuditEnabled, cfg.AuditHashContent)
	if cfg.AuditPath != "" {
		fileAuditor, err := NewFileAuditor(cfg.AuditPath, cfg.AuditEnabled, cfg.AuditHashContent)
		if err != nil {
			logger.Warn("audit file unavailable, audit events go to the service logger",
				slog.String("path", cfg.AuditPath),
				slog.String("error", err.Error()))
		} else {
			auditor = fileAuditor
		}
	}

	return &Guard{
		policy:      NewEgressPolicy(cfg),
		rateLimiter: NewRateLimiter(cfg.RateLimitsPerMin),
		budget:      NewTokenBudget(cfg.DailyTokenBudget),
		auditor:     auditor,
		logger:      logger,
	}
}

// Wrap decorates a ChatClient with egress checks.
//
// Inputs:
//   - inner: The raw client to wrap. Must not be nil.
//   - provider: The provider name (e.g. "openai").
//   - model: The model name, recorded in audit events.
//
// Outputs:
//   - llm.ChatClient: The guarded client, or inner unchanged when the
//     provider is local.
func (g *Guard) Wrap(inner llm.ChatClient, provider, model string) llm.ChatClient {
	if provider == LocalProvider {
		return inner
	}

	return &GuardedChatClient{
		inner:       inner,
		policy:      g.policy,
		rateLimiter: g.rateLimiter,
		budget:      g.budget,
		auditor:     g.auditor,
		metrics:     NewProviderMetrics(provider),
		provider:    provider,
		model:       model,
	}
}

// Policy returns the shared policy for runtime kill switch access.
func (g *Guard) Policy() *EgressPolicy {
	return g.policy
}

// Budget returns the shared daily token budget for status reporting.
func (g *Guard) Budget() *TokenBudget {
	return g.budget
}

// Close releases the audit file, if one is open.
func (g *Guard) Close() error {
	return g.auditor.Close()
}

// =============================================================================
// Guarded ChatClient
// =============================================================================

// GuardedChatClient wraps an llm.ChatClient with egress checks.
//
// Description:
//
//	Implements llm.ChatClient by delegating Chat() to the inner client
//	after pre-flight checks pass, in order: policy (kill switch,
//	allow/deny lists, consent), rate limit, token budget. A failed check
//	blocks the call and returns the matching sentinel error; the inner
//	client is never invoked. Allowed calls are audited before and after.
//
//	Chat responses carry no token counts, so budget and metrics run on
//	estimates (1 token per 4 bytes).
//
// Thread Safety: Safe for concurrent use.
type GuardedChatClient struct {
	inner       llm.ChatClient
	policy      *EgressPolicy
	rateLimiter *RateLimiter
	budget      *TokenBudget
	auditor     *EgressAuditor
	metrics     *ProviderMetrics
	provider    string
	model       string
}

// Chat sends a chat request after passing all egress checks.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - messages: The conversation messages.
//   - opts: Chat options, passed through to the inner client.
//
// Outputs:
//   - string: The assistant's response text.
//   - error: Wraps a sentinel (ErrProviderDisabled, ErrProviderDenied,
//     ErrNoConsent, ErrRateLimited, ErrTokenBudgetExhausted) when a
//     pre-flight check blocks the call; otherwise the inner client's
//     error, unwrapped.
func (g *GuardedChatClient) Chat(ctx context.Context, messages []datatypes.Message, opts llm.ChatOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer("aleutian.bridge.egress").Start(ctx, "egress.GuardedChatClient.Chat",
		oteltrace.WithAttributes(
			attribute.String("provider", g.provider),
			attribute.String("model", g.model),
		),
	)
	defer span.End()

	requestID := uuid.New().String()
	decision := NewEgressDecision(requestID, g.provider, g.model)
	start := time.Now()

	// Serialize messages once for hashing and token estimation.
	serialized := serializeChatMessages(messages)

	if blocked, blockedBy, reason := g.preFlight(serialized, decision); blocked {
		decision.DurationMs = time.Since(start).Milliseconds()
		g.auditor.LogBlocked(ctx, decision, serialized)
		RecordEgressBlocked(g.provider, blockedBy)
		span.SetAttributes(attribute.String("blocked_by", blockedBy))
		span.SetStatus(codes.Error, reason)
		return "", fmt.Errorf("%s: %w", reason, sentinelForBlocker(blockedBy))
	}

	decision.Allowed = true
	g.auditor.LogBefore(ctx, decision, serialized)

	resp, err := g.inner.Chat(ctx, messages, opts)

	callDuration := time.Since(start)
	estimatedOutputTokens := len(resp) / 4
	g.budget.Record(decision.EstimatedTokens + estimatedOutputTokens)
	g.metrics.RecordCall(decision.EstimatedTokens, estimatedOutputTokens, callDuration)

	RecordEgressAllowed(g.provider, decision.EstimatedTokens, estimatedOutputTokens, callDuration.Seconds())

	g.auditor.LogAfter(ctx, requestID, g.provider, g.model,
		decision.EstimatedTokens, estimatedOutputTokens, callDuration.Milliseconds(), err)

	if err != nil {
		g.metrics.RecordError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// preFlight runs the pre-flight checks in order.
// Returns (blocked, blockerName, reason); blocked=false means all passed.
func (g *GuardedChatClient) preFlight(serialized []byte, decision *EgressDecision) (bool, string, string) {
	if allowed, blockedBy, reason := g.policy.Allow(g.provider); !allowed {
		decision.BlockedBy = blockedBy
		decision.BlockReason = reason
		return true, blockedBy, reason
	}

	// Content hash for audit, computed once the policy admits the call.
	decision.ContentHash = HashContent(serialized)

	if allowed, retryAfter := g.rateLimiter.Allow(g.provider); !allowed {
		reason := fmt.Sprintf("rate limit exceeded for %q, retry after %v", g.provider, retryAfter.Round(time.Millisecond))
		decision.BlockedBy = "rate_limit"
		decision.BlockReason = reason
		return true, "rate_limit", reason
	}

	// Token estimate: 1 token per 4 bytes, floored so trivial payloads
	// still count against the budget.
	estimatedTokens := len(serialized) / 4
	if estimatedTokens < 100 {
		estimatedTokens = 100
	}
	decision.EstimatedTokens = estimatedTokens

	if ok, remaining := g.budget.CanSpend(estimatedTokens); !ok {
		reason := fmt.Sprintf("daily token budget exhausted, %d tokens remaining, need %d", remaining, estimatedTokens)
		decision.BlockedBy = "budget"
		decision.BlockReason = reason
		return true, "budget", reason
	}

	return false, "", ""
}

// sentinelForBlocker maps a blocker name to its sentinel error.
func sentinelForBlocker(blockedBy string) error {
	switch blockedBy {
	case "kill_switch":
		return ErrProviderDisabled
	case "policy":
		return ErrProviderDenied
	case "consent":
		return ErrNoConsent
	case "rate_limit":
		return ErrRateLimited
	case "budget":
		return ErrTokenBudgetExhausted
	default:
		return ErrProviderDisabled
	}
}
