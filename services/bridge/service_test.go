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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/AleutianAI/AleutianBridge/services/bridge/suggest"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

const serviceTestCatalog = `
schema_version: "v1.0.0"
aliases:
  user: account_id
entities:
  account_id:
    patterns: ["account*"]
    priority: 8
  session_id:
    patterns: ["*session*"]
    priority: 9
  order_id:
    patterns: ["order*"]
    priority: 7
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load(context.Background(), []byte(serviceTestCatalog))
	if err != nil {
		t.Fatalf("catalog.Load failed: %v", err)
	}
	return cat
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	svc, err := NewService(NewStaticCatalog(testCatalog(t)), DefaultServiceConfig(), opts...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func loadLines(t *testing.T, svc *Service, lines ...string) {
	t.Helper()
	records := make([]*corpus.Record, 0, len(lines))
	for i, line := range lines {
		records = append(records, corpus.NewRecord(line, "test.log", i+1))
	}
	svc.Store().AddBatch(records)
}

// stubSuggester returns fixed suggestions and records whether it ran.
type stubSuggester struct {
	out    []datatypes.Suggestion
	err    error
	called bool
}

func (s *stubSuggester) Suggest(_ context.Context, _ corpus.View, _ suggest.Query) ([]datatypes.Suggestion, error) {
	s.called = true
	return s.out, s.err
}

func TestNewServiceRequiresCatalogSource(t *testing.T) {
	if _, err := NewService(nil, DefaultServiceConfig()); err == nil {
		t.Fatal("expected an error for a nil catalog source")
	}
}

func TestLoadCorpusFile(t *testing.T) {
	svc := newTestService(t)

	path := filepath.Join(t.TempDir(), "events.log")
	content := "evt=a {\"account_id\":\"acct-1\"}\n\nevt=b {\"order_id\":\"ord-1\"}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing corpus file: %v", err)
	}

	stats, err := svc.LoadCorpus(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadCorpus failed: %v", err)
	}
	if stats.Records != 2 {
		t.Errorf("records = %d, want 2", stats.Records)
	}
	if stats.SkippedLines != 1 {
		t.Errorf("skipped = %d, want 1", stats.SkippedLines)
	}
	if got := svc.Store().Len(); got != 2 {
		t.Errorf("store size = %d, want 2", got)
	}
}

func TestLoadCorpusDirectory(t *testing.T) {
	svc := newTestService(t)

	dir := t.TempDir()
	files := map[string]string{
		"a.log":      "evt=a {\"account_id\":\"acct-1\"}\n",
		"b.jsonl":    "{\"order_id\":\"ord-1\"}\n{\"order_id\":\"ord-2\"}\n",
		"notes.yaml": "ignored: true\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	stats, err := svc.LoadCorpus(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadCorpus failed: %v", err)
	}
	if stats.Files != 2 {
		t.Errorf("files = %d, want 2 (yaml must be skipped)", stats.Files)
	}
	if stats.Records != 3 {
		t.Errorf("records = %d, want 3", stats.Records)
	}
}

func TestLoadCorpusMissingPath(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.LoadCorpus(context.Background(), filepath.Join(t.TempDir(), "no-such-file.log"))
	if err == nil {
		t.Fatal("expected an error for a missing path")
	}
	if !errors.Is(err, corpus.ErrScan) {
		t.Errorf("error %v does not wrap corpus.ErrScan", err)
	}
}

func TestResolveDirectHit(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc,
		`evt=a {"account_id":"acct-9","order_id":"ord-1"}`,
	)

	req := datatypes.ResolveRequest{
		RequestID:   "11111111-2222-4333-8444-555555555555",
		SourceValue: "acct-9",
		SourceType:  "account_id",
		TargetType:  "order_id",
	}
	resp, err := svc.Resolve(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !resp.Found {
		t.Fatal("direct co-occurrence not found")
	}
	if resp.RequestID != req.RequestID {
		t.Errorf("request_id = %q, want %q", resp.RequestID, req.RequestID)
	}
	if resp.State != "FOUND" {
		t.Errorf("state = %q, want FOUND", resp.State)
	}
	if resp.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", resp.Confidence)
	}
	if len(resp.Path) != 2 || resp.Path[1].Value != "ord-1" {
		t.Errorf("path = %v, want source then ord-1", resp.Path)
	}
	if len(resp.Suggestions) != 0 {
		t.Errorf("suggestions = %v, want none on a hit", resp.Suggestions)
	}
}

func TestResolveAliasedTargetType(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc,
		`evt=a {"order_id":"ord-7","account_id":"acct-1"}`,
	)

	// "user" aliases account_id in the test catalog.
	req := datatypes.ResolveRequest{SourceValue: "ord-7", TargetType: "user"}
	resp, err := svc.Resolve(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !resp.Found {
		t.Fatal("aliased target type did not resolve")
	}
	if got := resp.Path[len(resp.Path)-1].EntityType; got != "account_id" {
		t.Errorf("target hop type = %q, want canonical account_id", got)
	}
}

func TestResolveUnknownTargetType(t *testing.T) {
	svc := newTestService(t)

	req := datatypes.ResolveRequest{SourceValue: "acct-9", TargetType: "launch_code"}
	_, err := svc.Resolve(context.Background(), req, nil)
	if !errors.Is(err, ErrUnknownTargetType) {
		t.Fatalf("error = %v, want ErrUnknownTargetType", err)
	}
}

func TestResolveAttachesSuggestionsOnExhausted(t *testing.T) {
	sg := &stubSuggester{out: []datatypes.Suggestion{
		{Value: "sess-1", EntityType: "session_id", Score: 0.9, Source: "bm25"},
	}}
	svc := newTestService(t, WithSuggesters(sg))
	loadLines(t, svc,
		`evt=a {"account_id":"acct-9","session_id":"sess-1"}`,
	)

	// No order ever co-occurs, so the search exhausts.
	req := datatypes.ResolveRequest{SourceValue: "acct-9", TargetType: "order_id"}
	resp, err := svc.Resolve(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if resp.Found {
		t.Fatal("expected an exhausted search")
	}
	if resp.State != "EXHAUSTED" {
		t.Errorf("state = %q, want EXHAUSTED", resp.State)
	}
	if !sg.called {
		t.Error("suggester was not consulted")
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].Value != "sess-1" {
		t.Errorf("suggestions = %v, want the stub suggestion", resp.Suggestions)
	}
}

func TestResolveSuggesterFailureIsNotFatal(t *testing.T) {
	failing := &stubSuggester{err: errors.New("index offline")}
	backup := &stubSuggester{out: []datatypes.Suggestion{{Value: "sess-1", Score: 0.5}}}
	svc := newTestService(t, WithSuggesters(failing, backup))
	loadLines(t, svc, `evt=a {"account_id":"acct-9"}`)

	req := datatypes.ResolveRequest{SourceValue: "acct-9", TargetType: "order_id"}
	resp, err := svc.Resolve(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !failing.called || !backup.called {
		t.Error("both suggesters should have been tried")
	}
	if len(resp.Suggestions) != 1 {
		t.Errorf("suggestions = %v, want the backup's", resp.Suggestions)
	}
}

func TestResolveLimitOverrides(t *testing.T) {
	svc := newTestService(t)
	loadLines(t, svc,
		`evt=a {"account_id":"acct-9","session_id":"sess-1"}`,
		`evt=b {"session_id":"sess-1","order_id":"ord-1"}`,
	)

	// One iteration is only enough for the direct check; the two-hop
	// chain must stay unfound.
	req := datatypes.ResolveRequest{
		SourceValue:   "acct-9",
		TargetType:    "order_id",
		MaxIterations: 1,
	}
	resp, err := svc.Resolve(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resp.Found {
		t.Fatal("found despite a one-iteration budget")
	}
	if resp.Iterations > 1 {
		t.Errorf("iterations = %d, want at most 1", resp.Iterations)
	}

	// With the default budget the same chain resolves.
	req.MaxIterations = 0
	resp, err = svc.Resolve(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !resp.Found {
		t.Fatal("two-hop chain not found under the default budget")
	}
	if len(resp.BridgesUsed) == 0 {
		t.Error("bridges_used is empty for a bridged path")
	}
}

func TestCatalogSummariesOrder(t *testing.T) {
	svc := newTestService(t)

	summaries := svc.CatalogSummaries()
	if len(summaries) != 3 {
		t.Fatalf("summaries = %d, want 3", len(summaries))
	}
	want := []string{"session_id", "account_id", "order_id"}
	for i, s := range summaries {
		if s.EntityType != want[i] {
			t.Fatalf("summaries[%d] = %q, want %q (priority order)", i, s.EntityType, want[i])
		}
	}
	if summaries[0].Priority != 9 {
		t.Errorf("session_id priority = %d, want 9", summaries[0].Priority)
	}
}

func TestCatalogSourceHotSwap(t *testing.T) {
	// A swappable source stands in for the fsnotify watcher: the service
	// must pick up the new catalog on the next call, not hold the old one.
	first := testCatalog(t)
	second, err := catalog.Load(context.Background(), []byte(`
schema_version: "v1.0.0"
entities:
  device_id:
    patterns: ["device*"]
    priority: 5
`))
	if err != nil {
		t.Fatalf("catalog.Load failed: %v", err)
	}

	src := &swapSource{cat: first}
	svc, err := NewService(src, DefaultServiceConfig())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	if got := len(svc.CatalogSummaries()); got != 3 {
		t.Fatalf("summaries before swap = %d, want 3", got)
	}

	src.cat = second
	summaries := svc.CatalogSummaries()
	if len(summaries) != 1 || summaries[0].EntityType != "device_id" {
		t.Errorf("summaries after swap = %v, want only device_id", summaries)
	}

	// The old catalog's types are now unknown.
	_, err = svc.Resolve(context.Background(), datatypes.ResolveRequest{
		SourceValue: "x", TargetType: "order_id",
	}, nil)
	if !errors.Is(err, ErrUnknownTargetType) {
		t.Errorf("error = %v, want ErrUnknownTargetType after swap", err)
	}
}

type swapSource struct {
	cat *catalog.Catalog
}

func (s *swapSource) Current() *catalog.Catalog {
	return s.cat
}
