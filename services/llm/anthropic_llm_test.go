// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// newAnthropicTestClient builds a client pointed at a mock server. The
// insecure memory opt-in keeps key sealing working on hosts with a low
// mlock limit.
func newAnthropicTestClient(t *testing.T, apiKey, baseURL string) *AnthropicClient {
	t.Helper()
	t.Setenv(insecureMemoryEnv, "true")
	client, err := NewAnthropicClientWithConfig(apiKey, "claude-test", baseURL)
	if err != nil {
		t.Fatalf("building test client: %v", err)
	}
	return client
}

// anthropicOKResponse builds a minimal successful response with one text block.
func anthropicOKResponse(text string) anthropicResponse {
	return anthropicResponse{
		ID:   "msg-123",
		Type: "message",
		Role: "assistant",
		Content: []anthropicContent{
			{Type: "text", Text: text},
		},
	}
}

func TestNewAnthropicClient_MissingAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicClient()
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "anthropic:") {
		t.Errorf("error should include 'anthropic:' prefix, got: %s", err.Error())
	}
}

func TestNewAnthropicClient_DefaultModel(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("CLAUDE_MODEL", "")
	t.Setenv(insecureMemoryEnv, "true")

	client, err := NewAnthropicClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != "claude-3-5-sonnet-20240620" {
		t.Errorf("model = %q, want default", client.model)
	}
}

func TestAnthropicClient_Chat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify auth headers
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q, want %q", r.Header.Get("x-api-key"), "test-key")
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q, want %q", r.Header.Get("anthropic-version"), anthropicAPIVersion)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.Model != "claude-test" {
			t.Errorf("model = %q, want %q", req.Model, "claude-test")
		}
		if len(req.Messages) == 0 {
			t.Error("expected at least one message")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicOKResponse("Hello from Claude!"))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{
		{Role: "user", Content: "Hello"},
	}

	result, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Hello from Claude!" {
		t.Errorf("result = %q, want %q", result, "Hello from Claude!")
	}
}

func TestAnthropicClient_Chat_SystemPromptExtracted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if len(req.System) == 0 {
			t.Error("expected system blocks to be set")
		} else if req.System[0].Text != "You are helpful." {
			t.Errorf("system text = %q, want %q", req.System[0].Text, "You are helpful.")
		}
		// System message should NOT appear in messages
		for _, msg := range req.Messages {
			if msg.Role == "system" {
				t.Error("system message should not be in messages array")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicOKResponse("OK"))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "Hello"},
	}

	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnthropicClient_Chat_LongSystemPromptHasCacheControl(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if len(req.System) == 0 {
			t.Error("expected system blocks")
		} else if req.System[0].CacheControl == nil {
			t.Error("long system prompt should have cache_control set")
		} else if req.System[0].CacheControl.Type != "ephemeral" {
			t.Errorf("cache_control.Type = %q, want %q", req.System[0].CacheControl.Type, "ephemeral")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicOKResponse("OK"))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	longSystem := strings.Repeat("a", 1025) // > 1024 threshold
	messages := []datatypes.Message{
		{Role: "system", Content: longSystem},
		{Role: "user", Content: "Hi"},
	}

	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnthropicClient_Chat_ShortSystemPromptNoCacheControl(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if len(req.System) == 0 {
			t.Error("expected system blocks")
		} else if req.System[0].CacheControl != nil {
			t.Error("short system prompt should not have cache_control")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicOKResponse("OK"))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{
		{Role: "system", Content: "Short."},
		{Role: "user", Content: "Hi"},
	}

	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnthropicClient_Chat_MaxTokensDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// max_tokens is mandatory for this API; the client must always send one
		if req.MaxTokens != 4096 {
			t.Errorf("MaxTokens = %d, want default 4096", req.MaxTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicOKResponse("OK"))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnthropicClient_Chat_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.Model != "claude-override" {
			t.Errorf("model = %q, want %q (should be overridden)", req.Model, "claude-override")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicOKResponse("OK"))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	params := GenerationParams{ModelOverride: "claude-override"}
	_, err := client.Chat(context.Background(), messages, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnthropicClient_Chat_UnknownRoleMappedToUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		for _, msg := range req.Messages {
			if msg.Content == "unknown role content" && msg.Role != "user" {
				t.Errorf("unknown role should be mapped to 'user', got %q", msg.Role)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicOKResponse("OK"))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{
		{Role: "user", Content: "normal message"},
		{Role: "tool_result", Content: "unknown role content"},
	}

	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnthropicClient_Chat_ErrorWrappingPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "bad-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	errMsg := err.Error()
	if !strings.Contains(errMsg, "anthropic:") {
		t.Errorf("error should include 'anthropic:' prefix, got: %s", errMsg)
	}
}

func TestAnthropicClient_Chat_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := anthropicResponse{
			ID:      "msg-123",
			Type:    "message",
			Role:    "assistant",
			Content: []anthropicContent{},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
	if !strings.Contains(err.Error(), "anthropic:") {
		t.Errorf("error should include 'anthropic:' prefix, got: %s", err.Error())
	}
}

func TestAnthropicClient_Chat_MultipleTextBlocksJoined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := anthropicResponse{
			ID:   "msg-123",
			Type: "message",
			Role: "assistant",
			Content: []anthropicContent{
				{Type: "text", Text: "part one "},
				{Type: "text", Text: "part two"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	result, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "part one part two" {
		t.Errorf("result = %q, want joined text blocks", result)
	}
}

func TestAnthropicClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicOKResponse("generated"))
	}))
	defer server.Close()

	client := newAnthropicTestClient(t, "test-key", server.URL)

	result, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "generated" {
		t.Errorf("result = %q, want %q", result, "generated")
	}
}
