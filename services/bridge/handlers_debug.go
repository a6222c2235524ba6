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

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// debugSampleLimit caps records returned by the corpus debug endpoint.
const debugSampleLimit = 100

// HandleDebugConfig handles GET /v1/bridge/debug/config.
//
// Description:
//
//	Returns the effective service configuration: default search budget,
//	loader limits, and which optional subsystems are wired. Used for QA
//	to verify a deployment matches its intended flags.
//
// Response:
//
//	200 OK: DebugConfigResponse
//
// Thread Safety: This method is safe for concurrent use. Read-only.
func (h *Handlers) HandleDebugConfig(c *gin.Context) {
	cfg := h.svc.config
	c.JSON(http.StatusOK, DebugConfigResponse{
		CorpusName:             cfg.CorpusName,
		MaxIterations:          cfg.Limits.MaxIterations,
		MaxBridgesPerIteration: cfg.Limits.MaxBridgesPerIteration,
		MaxTotalSearches:       cfg.Limits.MaxTotalSearches,
		TimeoutMs:              cfg.Limits.Timeout.Milliseconds(),
		MaxLineBytes:           cfg.MaxLineBytes,
		SuggestLimit:           cfg.SuggestLimit,
		OracleConfigured:       h.svc.OracleConfigured(),
		Suggesters:             len(h.svc.suggesters),
		SinkConfigured:         h.svc.sink != nil,
	})
}

// HandleDebugCorpus handles GET /v1/bridge/debug/corpus.
//
// Description:
//
//	Returns a window of raw corpus records for eyeballing what the
//	scanner actually sees. Capped at debugSampleLimit records per call.
//
// Query Parameters:
//
//	offset: Starting record index, default 0 (optional)
//	limit: Records to return, default 10, max 100 (optional)
//
// Response:
//
//	200 OK: DebugCorpusResponse
//
// Thread Safety: This method is safe for concurrent use. Read-only.
func (h *Handlers) HandleDebugCorpus(c *gin.Context) {
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > debugSampleLimit {
		limit = debugSampleLimit
	}

	records := h.svc.Store().All().Records()
	resp := DebugCorpusResponse{
		Total:   len(records),
		Offset:  offset,
		Records: make([]DebugRecord, 0, limit),
	}
	for i := offset; i < len(records) && len(resp.Records) < limit; i++ {
		rec := records[i]
		resp.Records = append(resp.Records, DebugRecord{
			Source: rec.Source,
			Line:   rec.Line,
			Raw:    rec.Raw,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// HandleDebugCatalogExport handles GET /v1/bridge/debug/catalog/export.
//
// Description:
//
//	Exports the active catalog summaries as a JSON download. Sets
//	Content-Disposition so the body lands in a file, and streams the
//	encoder straight to the response writer.
//
// Response:
//
//	200 OK: CatalogResponse (JSON stream with Content-Disposition: attachment)
//
// Thread Safety: This method is safe for concurrent use. Read-only.
func (h *Handlers) HandleDebugCatalogExport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDebugCatalogExport")

	cat := h.svc.Catalog()
	resp := CatalogResponse{
		SchemaVersion: cat.SchemaVersion,
		Entities:      h.svc.CatalogSummaries(),
		Aliases:       cat.Aliases,
	}

	logger.Info("exporting catalog",
		slog.String("schema_version", resp.SchemaVersion),
		slog.Int("entity_types", len(resp.Entities)),
	)

	c.Header("Content-Disposition", "attachment; filename=bridge_catalog.json")
	c.Header("Content-Type", "application/json")

	encoder := json.NewEncoder(c.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(resp); err != nil {
		logger.Error("failed to encode catalog", slog.Any("error", err))
		// Can't write an error response since the body already started
	}
}
