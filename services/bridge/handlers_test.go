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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// setupTestRouter builds a Gin engine with the bridge routes registered.
func setupTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, _ := http.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, router *gin.Engine, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req, _ := http.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
	}
	return w
}

func TestHandleHealth(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc, `evt=a {"account_id":"acct-1"}`)
	router := setupTestRouter(svc)

	var resp HealthResponse
	w := getJSON(t, router, "/v1/bridge/health", &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Records != 1 {
		t.Errorf("records = %d, want 1", resp.Records)
	}
	if resp.CatalogTypes != 3 {
		t.Errorf("catalog types = %d, want 3", resp.CatalogTypes)
	}
	if resp.OracleConfigured {
		t.Error("oracle reported configured on a bare service")
	}
}

func TestHandleLoadCorpus(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	path := filepath.Join(t.TempDir(), "events.log")
	if err := os.WriteFile(path, []byte("evt=a {\"account_id\":\"acct-1\"}\n"), 0o600); err != nil {
		t.Fatalf("writing corpus file: %v", err)
	}

	w := postJSON(t, router, "/v1/bridge/corpus", datatypes.CorpusLoadRequest{Path: path})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp CorpusLoadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.RecordsLoaded != 1 || resp.TotalRecords != 1 {
		t.Errorf("loaded=%d total=%d, want 1/1", resp.RecordsLoaded, resp.TotalRecords)
	}

	// Corpus loads append; the same path loads again.
	w = postJSON(t, router, "/v1/bridge/corpus", datatypes.CorpusLoadRequest{Path: path})
	if w.Code != http.StatusOK {
		t.Fatalf("second load status = %d, want 200", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.TotalRecords != 2 {
		t.Errorf("total after reload = %d, want 2", resp.TotalRecords)
	}
}

func TestHandleLoadCorpusBadRequests(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	// Missing path field fails validation.
	w := postJSON(t, router, "/v1/bridge/corpus", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", w.Code)
	}

	// Unreadable path is a client error, not a server fault.
	w = postJSON(t, router, "/v1/bridge/corpus", datatypes.CorpusLoadRequest{
		Path: filepath.Join(t.TempDir(), "missing.log"),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d, want 400: %s", w.Code, w.Body.String())
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if errResp.Code != "CORPUS_LOAD_FAILED" {
		t.Errorf("code = %q, want CORPUS_LOAD_FAILED", errResp.Code)
	}
}

func TestHandleCorpusStats(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc,
		`evt=a {"account_id":"acct-1"}`,
		`evt=b {"order_id":"ord-1"}`,
	)
	router := setupTestRouter(svc)

	var resp CorpusStatsResponse
	w := getJSON(t, router, "/v1/bridge/corpus/stats", &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp.Records != 2 {
		t.Errorf("records = %d, want 2", resp.Records)
	}
	if resp.Sources != 1 {
		t.Errorf("sources = %d, want 1", resp.Sources)
	}
	if resp.Bytes == 0 {
		t.Error("bytes = 0, want the raw text size")
	}
}

func TestHandleCatalog(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	var resp CatalogResponse
	w := getJSON(t, router, "/v1/bridge/catalog", &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp.SchemaVersion != "v1.0.0" {
		t.Errorf("schema version = %q, want v1.0.0", resp.SchemaVersion)
	}
	if len(resp.Entities) != 3 || resp.Entities[0].EntityType != "session_id" {
		t.Errorf("entities = %v, want 3 in priority order", resp.Entities)
	}
	if resp.Aliases["user"] != "account_id" {
		t.Errorf("aliases = %v, want user -> account_id", resp.Aliases)
	}
}

func TestHandleResolveFound(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc,
		`evt=a {"account_id":"acct-9","session_id":"sess-1"}`,
		`evt=b {"session_id":"sess-1","order_id":"ord-1"}`,
	)
	router := setupTestRouter(svc)

	w := postJSON(t, router, "/v1/bridge/resolve", datatypes.ResolveRequest{
		SourceValue: "acct-9",
		SourceType:  "account_id",
		TargetType:  "order_id",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp datatypes.ResolveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Found {
		t.Fatalf("found = false, body: %s", w.Body.String())
	}
	if resp.RequestID == "" || resp.SearchID == "" {
		t.Error("request and search IDs must be populated")
	}
	if len(resp.Path) != 3 {
		t.Errorf("path = %v, want source, bridge, target", resp.Path)
	}
	if len(resp.BridgesUsed) == 0 || !strings.HasPrefix(resp.BridgesUsed[0], "session_id:") {
		t.Errorf("bridges_used = %v, want a session_id bridge", resp.BridgesUsed)
	}
	if resp.State != "FOUND" {
		t.Errorf("state = %q, want FOUND", resp.State)
	}
}

func TestHandleResolveMissIs200(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc, `evt=a {"account_id":"acct-9"}`)
	router := setupTestRouter(svc)

	w := postJSON(t, router, "/v1/bridge/resolve", datatypes.ResolveRequest{
		SourceValue: "acct-9",
		TargetType:  "order_id",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a miss: %s", w.Code, w.Body.String())
	}

	var resp datatypes.ResolveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Found {
		t.Error("found = true for an unreachable target")
	}
	if resp.State != "EXHAUSTED" {
		t.Errorf("state = %q, want EXHAUSTED", resp.State)
	}
	if resp.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 on a miss", resp.Confidence)
	}
}

func TestHandleResolveBadRequests(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	cases := []struct {
		name     string
		body     any
		wantCode string
	}{
		{
			name:     "malformed json",
			body:     "{not json",
			wantCode: "INVALID_REQUEST",
		},
		{
			name:     "missing source value",
			body:     datatypes.ResolveRequest{TargetType: "order_id"},
			wantCode: "VALIDATION_FAILED",
		},
		{
			name:     "oversized source value",
			body:     datatypes.ResolveRequest{SourceValue: strings.Repeat("x", datatypes.MaxValueBytes+1), TargetType: "order_id"},
			wantCode: "VALIDATION_FAILED",
		},
		{
			name:     "iteration override above cap",
			body:     datatypes.ResolveRequest{SourceValue: "v", TargetType: "order_id", MaxIterations: datatypes.MaxRequestIterations + 1},
			wantCode: "VALIDATION_FAILED",
		},
		{
			name:     "unknown target type",
			body:     datatypes.ResolveRequest{SourceValue: "acct-9", TargetType: "launch_code"},
			wantCode: "UNKNOWN_TARGET_TYPE",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var w *httptest.ResponseRecorder
			if raw, ok := tc.body.(string); ok {
				req, _ := http.NewRequest("POST", "/v1/bridge/resolve", strings.NewReader(raw))
				req.Header.Set("Content-Type", "application/json")
				w = httptest.NewRecorder()
				router.ServeHTTP(w, req)
			} else {
				w = postJSON(t, router, "/v1/bridge/resolve", tc.body)
			}

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tc.wantCode)
			}
		})
	}
}

func TestHandleResolveEchoesRequestID(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc, `evt=a {"account_id":"acct-9","order_id":"ord-1"}`)
	router := setupTestRouter(svc)

	w := postJSON(t, router, "/v1/bridge/resolve", datatypes.ResolveRequest{
		RequestID:   "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		SourceValue: "acct-9",
		TargetType:  "order_id",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp datatypes.ResolveResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.RequestID != "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d" {
		t.Errorf("request_id = %q, want the caller's", resp.RequestID)
	}
}
