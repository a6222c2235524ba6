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

// newGeminiTestClient builds a client pointed at a mock server. The insecure
// memory opt-in keeps key sealing working on hosts with a low mlock limit.
func newGeminiTestClient(t *testing.T, apiKey, baseURL string) *GeminiClient {
	t.Helper()
	t.Setenv(insecureMemoryEnv, "true")
	client, err := NewGeminiClientWithConfig(apiKey, "gemini-1.5-flash", baseURL)
	if err != nil {
		t.Fatalf("building test client: %v", err)
	}
	return client
}

func TestNewGeminiClient_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewGeminiClient()
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "gemini:") {
		t.Errorf("error should include 'gemini:' prefix, got: %s", err.Error())
	}
}

func TestNewGeminiClient_DefaultModel(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_MODEL", "")
	t.Setenv(insecureMemoryEnv, "true")

	client, err := NewGeminiClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != "gemini-1.5-flash" {
		t.Errorf("model = %q, want %q", client.model, "gemini-1.5-flash")
	}
}

func TestNewGeminiClient_CustomModel(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-pro")
	t.Setenv(insecureMemoryEnv, "true")

	client, err := NewGeminiClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.model != "gemini-1.5-pro" {
		t.Errorf("model = %q, want %q", client.model, "gemini-1.5-pro")
	}
}

func TestGeminiClient_Chat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if len(req.Contents) == 0 {
			t.Error("expected at least one content block")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Role: "model",
						Parts: []geminiPart{
							{Text: "Hello, I am Gemini!"},
						},
					},
					FinishReason: "STOP",
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{
		{Role: "user", Content: "Hello"},
	}

	result, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Hello, I am Gemini!" {
		t.Errorf("result = %q, want %q", result, "Hello, I am Gemini!")
	}
}

func TestGeminiClient_Chat_WithSystemPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Verify system instruction was extracted
		if req.SystemInstruction == nil {
			t.Error("expected system instruction to be set")
		} else if len(req.SystemInstruction.Parts) == 0 {
			t.Error("expected system instruction parts")
		} else if req.SystemInstruction.Parts[0].Text != "You are helpful." {
			t.Errorf("system text = %q, want %q", req.SystemInstruction.Parts[0].Text, "You are helpful.")
		}

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content: geminiContent{
						Parts: []geminiPart{{Text: "OK"}},
					},
					FinishReason: "STOP",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "Hi"},
	}

	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGeminiClient_Chat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"code": 500, "message": "internal error", "status": "INTERNAL"}}`))
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestGeminiClient_Chat_EmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{
			Candidates: []geminiCandidate{},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestGeminiClient_Chat_WithParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.GenerationConfig == nil {
			t.Error("expected generation config")
		} else {
			if req.GenerationConfig.Temperature == nil || *req.GenerationConfig.Temperature != 0.5 {
				t.Error("expected temperature 0.5")
			}
			if req.GenerationConfig.MaxOutputTokens == nil || *req.GenerationConfig.MaxOutputTokens != 100 {
				t.Error("expected max tokens 100")
			}
		}

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content:      geminiContent{Parts: []geminiPart{{Text: "response"}}},
					FinishReason: "STOP",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-key", server.URL)

	temp := float32(0.5)
	maxTokens := 100
	params := GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGeminiClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content:      geminiContent{Parts: []geminiPart{{Text: "generated"}}},
					FinishReason: "STOP",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-key", server.URL)

	result, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "generated" {
		t.Errorf("result = %q, want %q", result, "generated")
	}
}

func TestGeminiClient_Chat_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The model is part of the URL path for this API
		if !strings.Contains(r.URL.Path, "gemini-1.5-pro") {
			t.Errorf("URL path = %q, want override model in path", r.URL.Path)
		}

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content:      geminiContent{Parts: []geminiPart{{Text: "OK"}}},
					FinishReason: "STOP",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	params := GenerationParams{ModelOverride: "gemini-1.5-pro"}
	_, err := client.Chat(context.Background(), messages, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGeminiClient_Chat_APIKeyInHeaderNotURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify API key is in header, NOT in URL query parameter
		headerKey := r.Header.Get("x-goog-api-key")
		if headerKey != "test-api-key-12345" {
			t.Errorf("x-goog-api-key header = %q, want %q", headerKey, "test-api-key-12345")
		}

		// A key in the query string would leak through request logs
		queryKey := r.URL.Query().Get("key")
		if queryKey != "" {
			t.Errorf("API key found in URL query parameter: %q", queryKey)
		}

		resp := geminiResponse{
			Candidates: []geminiCandidate{
				{
					Content:      geminiContent{Parts: []geminiPart{{Text: "OK"}}},
					FinishReason: "STOP",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-api-key-12345", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGeminiClient_Chat_ErrorIncludesProviderPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"code": 401, "message": "invalid key", "status": "UNAUTHENTICATED"}}`))
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "bad-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	errMsg := err.Error()
	if !strings.Contains(errMsg, "gemini:") {
		t.Errorf("error message should include 'gemini:' prefix, got: %s", errMsg)
	}
}

func TestGeminiClient_Chat_ErrorBodyRedacted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Return error body containing a secret
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "forbidden for key=AIzaSyAbcDefGhiJklMnoPqrStUvWxYz0123456789extra"}`))
	}))
	defer server.Close()

	client := newGeminiTestClient(t, "test-key", server.URL)

	messages := []datatypes.Message{{Role: "user", Content: "Hi"}}
	_, err := client.Chat(context.Background(), messages, GenerationParams{})
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	errMsg := err.Error()
	if strings.Contains(errMsg, "AIzaSy") {
		t.Errorf("error message should not contain raw API key, got: %s", errMsg)
	}
}

func TestGeminiClient_BuildRequest_RoleMapping(t *testing.T) {
	client := &GeminiClient{model: "gemini-1.5-flash"}

	messages := []datatypes.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "bye"},
	}

	req := client.buildRequest(messages, GenerationParams{})

	// System should be in systemInstruction
	if req.SystemInstruction == nil {
		t.Fatal("expected systemInstruction")
	}
	if req.SystemInstruction.Parts[0].Text != "sys" {
		t.Errorf("system text = %q, want %q", req.SystemInstruction.Parts[0].Text, "sys")
	}

	// Should have 3 contents (user, assistant=model, user)
	if len(req.Contents) != 3 {
		t.Fatalf("contents len = %d, want 3", len(req.Contents))
	}
	if req.Contents[0].Role != "user" {
		t.Errorf("contents[0].Role = %q, want %q", req.Contents[0].Role, "user")
	}
	if req.Contents[1].Role != "model" {
		t.Errorf("contents[1].Role = %q, want %q (assistant maps to model)", req.Contents[1].Role, "model")
	}
	if req.Contents[2].Role != "user" {
		t.Errorf("contents[2].Role = %q, want %q", req.Contents[2].Role, "user")
	}
}
