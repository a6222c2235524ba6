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
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/AleutianAI/AleutianBridge/services/bridge/extract"
)

const rankTestCatalog = `
schema_version: "v1.0.0"
entities:
  username:
    patterns: ["username", "user*"]
    priority: 8
  email:
    patterns: ["email", "*_email"]
    priority: 9
  session_id:
    patterns: ["session_id", "*session*"]
    priority: 8
  ip_address:
    patterns: ["ip", "client_ip", "ip_address"]
    priority: 7
  device_id:
    patterns: ["device*"]
    priority: 6
`

func rankTestExtraction(t *testing.T, lines ...string) (*catalog.Catalog, *extract.Extraction) {
	t.Helper()
	cat, err := catalog.Load(context.Background(), []byte(rankTestCatalog))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	records := make([]*corpus.Record, 0, len(lines))
	for i, line := range lines {
		records = append(records, corpus.NewRecord(line, "test.log", i+1))
	}
	ex := extract.New(cat, nil).Extract(context.Background(), records)
	return cat, ex
}

// stubOracle records its inputs and returns a fixed verdict.
type stubOracle struct {
	preferred []string
	err       error

	calls         int
	gotCandidates []Candidate
	gotTarget     string
	gotHint       string
}

func (s *stubOracle) Rank(ctx context.Context, candidates []Candidate, targetType, hint string) ([]string, error) {
	s.calls++
	s.gotCandidates = append([]Candidate(nil), candidates...)
	s.gotTarget = targetType
	s.gotHint = hint
	if s.err != nil {
		return nil, s.err
	}
	return s.preferred, nil
}

func TestScoreValue(t *testing.T) {
	tests := []struct {
		name     string
		priority int
		value    string
		want     int
	}{
		{"short no digit", 7, "short", 7},
		{"six chars", 7, "longer", 8},
		{"ten chars boundary", 7, "abcdefghij", 8},
		{"eleven chars", 7, "abcdefghijk", 10},
		{"short with digit", 7, "abc1", 8},
		{"medium with digit", 7, "abcdef1", 9},
		{"long with digit", 7, "12345678901", 11},
		{"zero priority", 0, "ab", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreValue(tt.priority, tt.value); got != tt.want {
				t.Errorf("ScoreValue(%d, %q) = %d, want %d", tt.priority, tt.value, got, tt.want)
			}
		})
	}
}

func TestIsSentinel(t *testing.T) {
	for _, value := range []string{"unknown", "Unknown", "UNKNOWN", "null", "NULL", "", "n/a", "N/A"} {
		if !IsSentinel(value) {
			t.Errorf("IsSentinel(%q) = false, want true", value)
		}
	}
	// Matching is exact after lowercasing: no trimming, no substrings.
	for _, value := range []string{"known", "0", "null ", " n/a", "na", "none", "unknown2"} {
		if IsSentinel(value) {
			t.Errorf("IsSentinel(%q) = true, want false", value)
		}
	}
}

func TestRank_SentinelsExcluded(t *testing.T) {
	cat, ex := rankTestExtraction(t,
		`r1 {"username": "unknown", "email": "N/A", "ip": "10.0.0.1"}`,
	)

	got := New(cat).Rank(context.Background(), ex, "device_id", "")

	if len(got) != 1 {
		t.Fatalf("candidates = %+v, want exactly the ip", got)
	}
	if got[0].EntityType != "ip_address" || got[0].Value != "10.0.0.1" {
		t.Errorf("candidate = %+v, want ip_address/10.0.0.1", got[0])
	}
}

func TestRank_TargetTypeNeverCandidate(t *testing.T) {
	cat, ex := rankTestExtraction(t,
		`r1 {"username": "jsmith", "email": "jsmith@example.com"}`,
	)

	got := New(cat).Rank(context.Background(), ex, "email", "")

	for _, c := range got {
		if c.EntityType == "email" {
			t.Errorf("target-typed candidate leaked into frontier: %+v", c)
		}
	}
	if len(got) != 1 || got[0].EntityType != "username" {
		t.Errorf("candidates = %+v, want only the username", got)
	}
}

func TestRank_OrderingAndScores(t *testing.T) {
	cat, ex := rankTestExtraction(t,
		`r1 {"username": "bob", "email": "jsmith@example.com"}`,
		`r2 {"session_id": "sess-12345678", "ip": "10.0.0.9"}`,
	)

	got := New(cat).Rank(context.Background(), ex, "device_id", "")

	// email:    9 + 3 (len 18)            = 12
	// session:  8 + 3 (len 13) + 1 digit  = 12, after email (catalog order)
	// ip:       7 + 1 (len 8)  + 1 digit  = 9
	// username: 8                         = 8
	want := []Candidate{
		{EntityType: "email", Value: "jsmith@example.com", Score: 12},
		{EntityType: "session_id", Value: "sess-12345678", Score: 12},
		{EntityType: "ip_address", Value: "10.0.0.9", Score: 9},
		{EntityType: "username", Value: "bob", Score: 8},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rank = %+v, want %+v", got, want)
	}
}

func TestRank_DeterministicWithoutOracle(t *testing.T) {
	cat, ex := rankTestExtraction(t,
		`r1 {"username": "alice", "email": "a@example.com", "session_id": "s-001"}`,
		`r2 {"username": "bob", "ip": "192.168.1.4"}`,
	)
	r := New(cat)

	first := r.Rank(context.Background(), ex, "device_id", "")
	for i := 0; i < 5; i++ {
		again := r.Rank(context.Background(), ex, "device_id", "")
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("pass %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestRank_OracleBoost(t *testing.T) {
	cat, ex := rankTestExtraction(t,
		`r1 {"username": "bob", "email": "jsmith@example.com"}`,
		`r2 {"session_id": "sess-12345678", "ip": "10.0.0.9"}`,
	)
	oracle := &stubOracle{preferred: []string{"10.0.0.9"}}

	got := New(cat, WithOracle(oracle)).Rank(context.Background(), ex, "device_id", "the hint")

	if oracle.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", oracle.calls)
	}
	if oracle.gotTarget != "device_id" || oracle.gotHint != "the hint" {
		t.Errorf("oracle saw target=%q hint=%q", oracle.gotTarget, oracle.gotHint)
	}

	// The boosted ip jumps to the front; everything else keeps intrinsic order.
	want := []Candidate{
		{EntityType: "ip_address", Value: "10.0.0.9", Score: 19},
		{EntityType: "email", Value: "jsmith@example.com", Score: 12},
		{EntityType: "session_id", Value: "sess-12345678", Score: 12},
		{EntityType: "username", Value: "bob", Score: 8},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rank = %+v, want %+v", got, want)
	}
}

func TestRank_OracleBoostKeepsTieOrder(t *testing.T) {
	cat, ex := rankTestExtraction(t,
		`r1 {"username": "bob", "email": "jsmith@example.com"}`,
		`r2 {"session_id": "sess-12345678", "ip": "10.0.0.9"}`,
	)
	oracle := &stubOracle{preferred: []string{"sess-12345678", "jsmith@example.com"}}

	got := New(cat, WithOracle(oracle)).Rank(context.Background(), ex, "device_id", "")

	// Both tied candidates get +10; the re-sort is stable so email stays
	// ahead of session.
	want := []Candidate{
		{EntityType: "email", Value: "jsmith@example.com", Score: 22},
		{EntityType: "session_id", Value: "sess-12345678", Score: 22},
		{EntityType: "ip_address", Value: "10.0.0.9", Score: 9},
		{EntityType: "username", Value: "bob", Score: 8},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rank = %+v, want %+v", got, want)
	}
}

func TestRank_OracleFailureFallsBack(t *testing.T) {
	cat, ex := rankTestExtraction(t,
		`r1 {"username": "bob", "email": "jsmith@example.com", "ip": "10.0.0.9"}`,
	)

	intrinsic := New(cat).Rank(context.Background(), ex, "device_id", "")

	oracle := &stubOracle{err: errors.New("model unreachable")}
	got := New(cat, WithOracle(oracle)).Rank(context.Background(), ex, "device_id", "")

	if oracle.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", oracle.calls)
	}
	if !reflect.DeepEqual(got, intrinsic) {
		t.Errorf("failed oracle changed the ranking: %+v vs %+v", got, intrinsic)
	}
}

func TestRank_OracleWindowLimit(t *testing.T) {
	lines := make([]string, 0, 12)
	for i := 1; i <= 12; i++ {
		lines = append(lines, fmt.Sprintf(`r%d {"username": "user-val-%02d"}`, i, i))
	}
	cat, ex := rankTestExtraction(t, lines...)
	oracle := &stubOracle{preferred: []string{"user-val-12"}}

	got := New(cat, WithOracle(oracle)).Rank(context.Background(), ex, "device_id", "")

	if len(oracle.gotCandidates) != OracleCandidateLimit {
		t.Fatalf("oracle saw %d candidates, want %d", len(oracle.gotCandidates), OracleCandidateLimit)
	}
	if oracle.gotCandidates[0].Value != "user-val-01" {
		t.Errorf("oracle window starts at %q, want user-val-01", oracle.gotCandidates[0].Value)
	}

	// user-val-12 sits outside the consulted window; preferring it must not
	// boost anything.
	for _, c := range got {
		if c.Value == "user-val-12" && c.Score != ScoreValue(8, "user-val-12") {
			t.Errorf("out-of-window candidate was boosted: %+v", c)
		}
	}
	if got[0].Value != "user-val-01" {
		t.Errorf("order changed without an in-window boost: first = %q", got[0].Value)
	}
}

func TestRank_EmptyExtraction(t *testing.T) {
	cat, ex := rankTestExtraction(t)
	oracle := &stubOracle{preferred: []string{"anything"}}

	got := New(cat, WithOracle(oracle)).Rank(context.Background(), ex, "device_id", "")

	if len(got) != 0 {
		t.Errorf("candidates = %+v, want none", got)
	}
	if oracle.calls != 0 {
		t.Errorf("oracle consulted with no candidates: calls = %d", oracle.calls)
	}
}
