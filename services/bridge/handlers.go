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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// Handlers contains the HTTP handlers for the bridge service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// HandleHealth handles GET /v1/bridge/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	cat := h.svc.Catalog()
	c.JSON(http.StatusOK, HealthResponse{
		Status:           "ok",
		Version:          ServiceVersion,
		Records:          h.svc.Store().Len(),
		CatalogTypes:     len(cat.Types()),
		OracleConfigured: h.svc.OracleConfigured(),
		UptimeSeconds:    int64(h.svc.Uptime().Seconds()),
	})
}

// HandleLoadCorpus handles POST /v1/bridge/corpus.
//
// Description:
//
//	Loads records from a local file, a directory, or a gs:// URI into
//	the corpus store. Records append; reloading a path duplicates it.
//
// Request Body:
//
//	datatypes.CorpusLoadRequest
//
// Response:
//
//	200 OK: CorpusLoadResponse
//	400 Bad Request: Validation error or unreadable path
func (h *Handlers) HandleLoadCorpus(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoadCorpus")

	var req datatypes.CorpusLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_FAILED",
		})
		return
	}

	stats, err := h.svc.LoadCorpus(c.Request.Context(), req.Path)
	if err != nil {
		status := http.StatusInternalServerError
		code := "CORPUS_LOAD_FAILED"
		if errors.Is(err, corpus.ErrScan) {
			status = http.StatusBadRequest
		}
		logger.Error("corpus load failed", "path", req.Path, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("corpus loaded",
		slog.String("path", req.Path),
		slog.Int("files", stats.Files),
		slog.Int("records", stats.Records),
	)

	c.JSON(http.StatusOK, CorpusLoadResponse{
		Path:          req.Path,
		Files:         stats.Files,
		RecordsLoaded: stats.Records,
		SkippedLines:  stats.SkippedLines,
		TotalRecords:  h.svc.Store().Len(),
	})
}

// HandleCorpusStats handles GET /v1/bridge/corpus/stats.
//
// Response:
//
//	200 OK: CorpusStatsResponse
func (h *Handlers) HandleCorpusStats(c *gin.Context) {
	stats := h.svc.Store().Stats()
	c.JSON(http.StatusOK, CorpusStatsResponse{
		Records: stats.Records,
		Sources: stats.Sources,
		Bytes:   stats.Bytes,
	})
}

// HandleCatalog handles GET /v1/bridge/catalog.
//
// Description:
//
//	Returns the active catalog: entity types in ranking order with their
//	patterns, priorities, and related types, plus the alias map. Under a
//	hot-reloading catalog the response reflects the file as of the last
//	successful reload.
//
// Response:
//
//	200 OK: CatalogResponse
func (h *Handlers) HandleCatalog(c *gin.Context) {
	cat := h.svc.Catalog()
	c.JSON(http.StatusOK, CatalogResponse{
		SchemaVersion: cat.SchemaVersion,
		Entities:      h.svc.CatalogSummaries(),
		Aliases:       cat.Aliases,
	})
}

// HandleResolve handles POST /v1/bridge/resolve.
//
// Description:
//
//	Runs one bounded bridge search from source_value toward target_type.
//	A miss (exhausted or timed out) is a 200 with found=false; the only
//	4xx outcomes are malformed requests and target types the catalog
//	does not define.
//
// Request Body:
//
//	datatypes.ResolveRequest
//
// Response:
//
//	200 OK: datatypes.ResolveResponse
//	400 Bad Request: Validation error or unknown target type
//	500 Internal Server Error: Corpus scan failure
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolve")

	var req datatypes.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		logger.Warn("validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_FAILED",
		})
		return
	}

	logger.Info("resolve requested",
		slog.String("target_type", req.TargetType),
		slog.Bool("use_oracle", req.UseOracle),
	)

	resp, err := h.svc.Resolve(c.Request.Context(), req, nil)
	if err != nil {
		if errors.Is(err, ErrUnknownTargetType) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "UNKNOWN_TARGET_TYPE",
			})
			return
		}
		logger.Error("resolve failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "RESOLVE_FAILED",
		})
		return
	}

	logger.Info("resolve completed",
		slog.String("search_id", resp.SearchID),
		slog.String("state", resp.State),
		slog.Bool("found", resp.Found),
		slog.Int("iterations", resp.Iterations),
		slog.Int64("elapsed_ms", resp.ElapsedMs),
	)

	c.JSON(http.StatusOK, resp)
}
