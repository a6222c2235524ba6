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
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/datatypes"
	"github.com/AleutianAI/AleutianBridge/services/llm"
)

// stubChatClient returns a canned reply and records what it was asked.
type stubChatClient struct {
	mu          sync.Mutex
	reply       string
	err         error
	delay       time.Duration
	calls       int
	gotMessages []datatypes.Message
	gotOpts     llm.ChatOptions
}

func (c *stubChatClient) Chat(ctx context.Context, messages []datatypes.Message, opts llm.ChatOptions) (string, error) {
	c.mu.Lock()
	c.calls++
	c.gotMessages = messages
	c.gotOpts = opts
	delay := c.delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.reply, c.err
}

func (c *stubChatClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// failingVerdictStore errors on every operation.
type failingVerdictStore struct{}

func (failingVerdictStore) Load(ctx context.Context, key string) ([]string, bool, error) {
	return nil, false, errors.New("store down")
}

func (failingVerdictStore) Save(ctx context.Context, key string, preferred []string) error {
	return errors.New("store down")
}

func oracleTestConfig() OracleConfig {
	cfg := DefaultOracleConfig()
	cfg.Model = "test-model"
	cfg.Timeout = 2 * time.Second
	cfg.MaxRequestsPerSecond = 0 // no throttling in tests
	return cfg
}

func oracleTestCandidates() []Candidate {
	return []Candidate{
		{EntityType: "session_id", Value: "abc-123", Score: 12},
		{EntityType: "username", Value: "jsmith", Score: 9},
		{EntityType: "ip_address", Value: "xyz-999", Score: 8},
	}
}

func TestNewLLMOracle_NilClient(t *testing.T) {
	if _, err := NewLLMOracle(nil, oracleTestConfig()); err == nil {
		t.Fatal("expected error for nil chat client")
	}
}

func TestLLMOracle_Rank_Success(t *testing.T) {
	client := &stubChatClient{reply: `{"preferred": ["abc-123"]}`}
	oracle, err := NewLLMOracle(client, oracleTestConfig())
	if err != nil {
		t.Fatalf("NewLLMOracle failed: %v", err)
	}

	got, err := oracle.Rank(context.Background(), oracleTestCandidates(), "device_id", "")
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"abc-123"}) {
		t.Errorf("verdict = %v, want [abc-123]", got)
	}

	if len(client.gotMessages) != 2 {
		t.Fatalf("messages = %d, want system + user", len(client.gotMessages))
	}
	if client.gotMessages[0].Role != "system" || client.gotMessages[1].Role != "user" {
		t.Errorf("roles = %s/%s", client.gotMessages[0].Role, client.gotMessages[1].Role)
	}
	if client.gotOpts.Model != "test-model" {
		t.Errorf("model = %q, want test-model", client.gotOpts.Model)
	}
}

func TestLLMOracle_Rank_MarkdownFences(t *testing.T) {
	client := &stubChatClient{reply: "```json\n{\"preferred\": [\"abc-123\", \"xyz-999\"]}\n```"}
	oracle, _ := NewLLMOracle(client, oracleTestConfig())

	got, err := oracle.Rank(context.Background(), oracleTestCandidates(), "device_id", "")
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"abc-123", "xyz-999"}) {
		t.Errorf("verdict = %v, want [abc-123 xyz-999]", got)
	}
}

func TestLLMOracle_Rank_ProseWrappedJSON(t *testing.T) {
	client := &stubChatClient{
		reply: `Sure! Based on co-occurrence, here is my answer: {"preferred": ["jsmith"]} — hope that helps.`,
	}
	oracle, _ := NewLLMOracle(client, oracleTestConfig())

	got, err := oracle.Rank(context.Background(), oracleTestCandidates(), "device_id", "")
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"jsmith"}) {
		t.Errorf("verdict = %v, want [jsmith]", got)
	}
}

func TestLLMOracle_Rank_HallucinationsDropped(t *testing.T) {
	// Backticks and quotes are cosmetic and stripped; an invented value and a
	// "corrected" value are hallucinations and dropped.
	client := &stubChatClient{
		reply: `{"preferred": ["` + "`abc-123`" + `", "invented-value", "\"xyz-999\"", "jsmith@typo", "abc-123"]}`,
	}
	oracle, _ := NewLLMOracle(client, oracleTestConfig())

	got, err := oracle.Rank(context.Background(), oracleTestCandidates(), "device_id", "")
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"abc-123", "xyz-999"}) {
		t.Errorf("verdict = %v, want [abc-123 xyz-999]", got)
	}
}

func TestLLMOracle_Rank_ParseError(t *testing.T) {
	client := &stubChatClient{reply: "I cannot rank these candidates."}
	oracle, _ := NewLLMOracle(client, oracleTestConfig())

	_, err := oracle.Rank(context.Background(), oracleTestCandidates(), "device_id", "")
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("err = %v, want parse failure", err)
	}
}

func TestLLMOracle_Rank_EmptyCandidates(t *testing.T) {
	client := &stubChatClient{reply: `{"preferred": []}`}
	oracle, _ := NewLLMOracle(client, oracleTestConfig())

	if _, err := oracle.Rank(context.Background(), nil, "device_id", ""); err == nil {
		t.Fatal("expected error for empty candidate list")
	}
	if client.callCount() != 0 {
		t.Errorf("model called with no candidates: calls = %d", client.callCount())
	}
}

func TestLLMOracle_Rank_Timeout(t *testing.T) {
	client := &stubChatClient{reply: `{"preferred": []}`, delay: 500 * time.Millisecond}
	cfg := oracleTestConfig()
	cfg.Timeout = 50 * time.Millisecond
	oracle, _ := NewLLMOracle(client, cfg)

	start := time.Now()
	_, err := oracle.Rank(context.Background(), oracleTestCandidates(), "device_id", "")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("timeout did not cut the call short: elapsed = %v", elapsed)
	}
}

func TestLLMOracle_Rank_CacheHit(t *testing.T) {
	client := &stubChatClient{reply: `{"preferred": ["abc-123"]}`}
	oracle, _ := NewLLMOracle(client, oracleTestConfig(),
		WithVerdictCache(NewMemoryVerdictCacheStore(time.Minute)),
	)
	candidates := oracleTestCandidates()

	first, err := oracle.Rank(context.Background(), candidates, "device_id", "h")
	if err != nil {
		t.Fatalf("first Rank failed: %v", err)
	}
	second, err := oracle.Rank(context.Background(), candidates, "device_id", "h")
	if err != nil {
		t.Fatalf("second Rank failed: %v", err)
	}

	if client.callCount() != 1 {
		t.Errorf("model calls = %d, want 1 (second served from cache)", client.callCount())
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached verdict differs: %v vs %v", second, first)
	}
}

func TestLLMOracle_Rank_EmptyVerdictCached(t *testing.T) {
	// "No preference" costs a model round-trip too; it must be cached, not
	// treated as a miss.
	client := &stubChatClient{reply: `{"preferred": []}`}
	oracle, _ := NewLLMOracle(client, oracleTestConfig(),
		WithVerdictCache(NewMemoryVerdictCacheStore(time.Minute)),
	)
	candidates := oracleTestCandidates()

	for i := 0; i < 3; i++ {
		got, err := oracle.Rank(context.Background(), candidates, "device_id", "")
		if err != nil {
			t.Fatalf("Rank %d failed: %v", i, err)
		}
		if len(got) != 0 {
			t.Fatalf("Rank %d verdict = %v, want empty", i, got)
		}
	}
	if client.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", client.callCount())
	}
}

func TestLLMOracle_Rank_CacheFailureFallsThrough(t *testing.T) {
	client := &stubChatClient{reply: `{"preferred": ["abc-123"]}`}
	oracle, _ := NewLLMOracle(client, oracleTestConfig(),
		WithVerdictCache(failingVerdictStore{}),
	)

	got, err := oracle.Rank(context.Background(), oracleTestCandidates(), "device_id", "")
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"abc-123"}) {
		t.Errorf("verdict = %v, want [abc-123]", got)
	}
	if client.callCount() != 1 {
		t.Errorf("model calls = %d, want 1", client.callCount())
	}
}

func TestLLMOracle_Rank_Singleflight(t *testing.T) {
	client := &stubChatClient{reply: `{"preferred": ["abc-123"]}`, delay: 100 * time.Millisecond}
	oracle, _ := NewLLMOracle(client, oracleTestConfig())
	candidates := oracleTestCandidates()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := oracle.Rank(context.Background(), candidates, "device_id", "")
			if err != nil {
				t.Errorf("Rank failed: %v", err)
				return
			}
			if !reflect.DeepEqual(got, []string{"abc-123"}) {
				t.Errorf("verdict = %v, want [abc-123]", got)
			}
		}()
	}
	wg.Wait()

	if client.callCount() != 1 {
		t.Errorf("model calls = %d, want 1 (identical requests collapse)", client.callCount())
	}
}

func TestBuildVerdictPrompt(t *testing.T) {
	prompt := buildVerdictPrompt(oracleTestCandidates(), "device_id", "ATO investigation")

	for _, want := range []string{
		"Target entity type: device_id",
		"Context hint: ATO investigation",
		"  - abc-123 (session_id)",
		"  - jsmith (username)",
		"  - xyz-999 (ip_address)",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	noHint := buildVerdictPrompt(oracleTestCandidates(), "device_id", "")
	if strings.Contains(noHint, "Context hint") {
		t.Errorf("empty hint still rendered a hint line:\n%s", noHint)
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"plain", `{"preferred": ["a", "b"]}`, []string{"a", "b"}, false},
		{"fenced", "```json\n{\"preferred\": [\"a\"]}\n```", []string{"a"}, false},
		{"bare fence", "```\n{\"preferred\": []}\n```", []string{}, false},
		{"surrounding prose", `Answer: {"preferred": ["a"]} done`, []string{"a"}, false},
		{"empty response", "", nil, true},
		{"no json", "none of these", nil, true},
		{"malformed json", `{"preferred": ["a"`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("preferred = %v, want %v", got, tt.want)
			}
		})
	}
}
