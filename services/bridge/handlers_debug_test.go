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
	"net/http"
	"strings"
	"testing"
)

func TestHandleDebugConfig(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	var resp DebugConfigResponse
	w := getJSON(t, router, "/v1/bridge/debug/config", &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp.MaxIterations != 5 || resp.MaxBridgesPerIteration != 3 || resp.MaxTotalSearches != 20 {
		t.Errorf("budget = %d/%d/%d, want the 5/3/20 defaults",
			resp.MaxIterations, resp.MaxBridgesPerIteration, resp.MaxTotalSearches)
	}
	if resp.TimeoutMs != 30000 {
		t.Errorf("timeout = %d, want 30000", resp.TimeoutMs)
	}
	if resp.OracleConfigured || resp.SinkConfigured || resp.Suggesters != 0 {
		t.Error("bare service must report no optional subsystems")
	}
}

func TestHandleDebugCorpusWindow(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc,
		`evt=a {"account_id":"acct-1"}`,
		`evt=b {"account_id":"acct-2"}`,
		`evt=c {"account_id":"acct-3"}`,
	)
	router := setupTestRouter(svc)

	var resp DebugCorpusResponse
	w := getJSON(t, router, "/v1/bridge/debug/corpus?offset=1&limit=1", &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if len(resp.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(resp.Records))
	}
	rec := resp.Records[0]
	if rec.Line != 2 || !strings.Contains(rec.Raw, "acct-2") {
		t.Errorf("record = %+v, want line 2 (acct-2)", rec)
	}

	// Out-of-range offsets return an empty window, not an error.
	w = getJSON(t, router, "/v1/bridge/debug/corpus?offset=99", &resp)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(resp.Records) != 0 {
		t.Errorf("records = %d, want 0 past the end", len(resp.Records))
	}
}

func TestHandleDebugCatalogExport(t *testing.T) {
	svc := newTestService(t)
	router := setupTestRouter(svc)

	w := getJSON(t, router, "/v1/bridge/debug/catalog/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want an attachment", cd)
	}

	var resp CatalogResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Entities) != 3 {
		t.Errorf("entities = %d, want 3", len(resp.Entities))
	}
}
