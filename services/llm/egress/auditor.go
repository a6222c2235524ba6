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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianBridge/services/llm"
)

// previewLimit caps the redacted payload preview length in audit events.
const previewLimit = 120

// EgressAuditor writes the egress audit trail.
//
// Description:
//
//	Emits one structured event per guard decision: egress_before when a
//	call is allowed, egress_after when it completes, egress_blocked when
//	a pre-flight check denies it. Events carry the request UUID, a
//	SHA256 content hash (optional), and a redacted payload preview; raw
//	payload content never appears in audit output.
//
//	Backed by slog: with NewFileAuditor the handler is a JSON handler
//	over an append-only file, making the audit trail a JSONL stream.
//	Write failures never block or fail the guarded call.
//
// Thread Safety: Safe for concurrent use (slog handlers are
// concurrent-safe).
type EgressAuditor struct {
	logger      *slog.Logger
	enabled     bool
	hashContent bool
	closer      io.Closer
}

// NewEgressAuditor creates an auditor over an existing logger.
//
// Inputs:
//   - logger: Destination for audit events. Nil falls back to
//     slog.Default().
//   - enabled: When false, all Log* methods are no-ops.
//   - hashContent: When true, events include the payload's SHA256 hash.
//
// Outputs:
//   - *EgressAuditor: Configured auditor.
func NewEgressAuditor(logger *slog.Logger, enabled, hashContent bool) *EgressAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &EgressAuditor{
		logger:      logger,
		enabled:     enabled,
		hashContent: hashContent,
	}
}

// NewFileAuditor creates an auditor that appends JSONL events to a file.
//
// Inputs:
//   - path: Audit log file. Created 0600 if absent, appended otherwise.
//   - enabled: When false, all Log* methods are no-ops.
//   - hashContent: When true, events include the payload's SHA256 hash.
//
// Outputs:
//   - *EgressAuditor: Auditor writing to the file. Call Close when done.
//   - error: Non-nil if the file cannot be opened.
func NewFileAuditor(path string, enabled, hashContent bool) (*EgressAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %q: %w", path, err)
	}
	a := NewEgressAuditor(slog.New(slog.NewJSONHandler(f, nil)), enabled, hashContent)
	a.closer = f
	return a, nil
}

// Close releases the audit file, if this auditor owns one.
func (a *EgressAuditor) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// LogBefore records that a call passed all pre-flight checks and is
// about to go out.
//
// Inputs:
//   - ctx: Context carrying the active trace span, if any.
//   - decision: The allowed decision for this call.
//   - payload: The serialized outbound payload, for the redacted preview.
func (a *EgressAuditor) LogBefore(ctx context.Context, decision *EgressDecision, payload []byte) {
	if !a.enabled {
		return
	}

	attrs := []any{
		slog.String("event", "egress_before"),
		slog.String("request_id", decision.RequestID),
		slog.String("provider", decision.Provider),
		slog.String("model", decision.Model),
		slog.Int("estimated_tokens", decision.EstimatedTokens),
		slog.String("content_preview", previewPayload(payload)),
	}
	if a.hashContent && decision.ContentHash != "" {
		attrs = append(attrs, slog.String("content_hash", decision.ContentHash))
	}

	a.loggerWithTrace(ctx).Info("egress audit", attrs...)
}

// LogAfter records the outcome of a completed (allowed) call.
//
// Inputs:
//   - ctx: Context carrying the active trace span, if any.
//   - requestID: The UUID from the matching egress_before event.
//   - provider, model: Call destination.
//   - inputTokens, outputTokens: Token counts (estimates for chat calls).
//   - durationMs: End-to-end call duration.
//   - callErr: The provider error, if the call failed.
func (a *EgressAuditor) LogAfter(ctx context.Context, requestID, provider, model string,
	inputTokens, outputTokens int, durationMs int64, callErr error) {
	if !a.enabled {
		return
	}

	status := "success"
	if callErr != nil {
		status = "error"
	}

	attrs := []any{
		slog.String("event", "egress_after"),
		slog.String("request_id", requestID),
		slog.String("provider", provider),
		slog.String("model", model),
		slog.String("status", status),
		slog.Int("input_tokens", inputTokens),
		slog.Int("output_tokens", outputTokens),
		slog.Int64("duration_ms", durationMs),
	}
	if callErr != nil {
		attrs = append(attrs, slog.String("error", callErr.Error()))
	}

	a.loggerWithTrace(ctx).Info("egress audit", attrs...)
}

// LogBlocked records a call denied by a pre-flight check.
//
// Inputs:
//   - ctx: Context carrying the active trace span, if any.
//   - decision: The blocked decision, including blocker and reason.
//   - payload: The serialized outbound payload, for the redacted preview.
func (a *EgressAuditor) LogBlocked(ctx context.Context, decision *EgressDecision, payload []byte) {
	if !a.enabled {
		return
	}

	attrs := []any{
		slog.String("event", "egress_blocked"),
		slog.String("request_id", decision.RequestID),
		slog.String("provider", decision.Provider),
		slog.String("model", decision.Model),
		slog.String("blocked_by", decision.BlockedBy),
		slog.String("reason", decision.BlockReason),
		slog.String("content_preview", previewPayload(payload)),
	}
	if a.hashContent && decision.ContentHash != "" {
		attrs = append(attrs, slog.String("content_hash", decision.ContentHash))
	}

	a.loggerWithTrace(ctx).Warn("egress audit", attrs...)
}

// loggerWithTrace attaches trace and span IDs when the context carries
// a valid span, so audit events correlate with traces.
func (a *EgressAuditor) loggerWithTrace(ctx context.Context) *slog.Logger {
	span := trace.SpanContextFromContext(ctx)
	if !span.IsValid() {
		return a.logger
	}
	return a.logger.With(
		slog.String("trace_id", span.TraceID().String()),
		slog.String("span_id", span.SpanID().String()),
	)
}

// HashContent returns the SHA256 hex digest of content, or "" for
// empty input.
func HashContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// previewPayload produces a short, redacted view of an outbound payload
// for audit events. Known secret formats are replaced with placeholders
// before truncation.
func previewPayload(payload []byte) string {
	s := llm.SafeLogString(string(payload))
	if len(s) > previewLimit {
		return s[:previewLimit] + "..."
	}
	return s
}
