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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// =============================================================================
// Ollama Wire Types
// =============================================================================

const defaultOllamaBaseURL = "http://localhost:11434"

// defaultOllamaModel is the fallback oracle model: small enough to answer a
// ranking question in well under the oracle timeout on CPU-only hosts.
const defaultOllamaModel = "ministral-3:3b"

type ollamaRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	NumCtx      *int     `json:"num_ctx,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OllamaClient implements LLMClient against a local Ollama server using raw
// net/http.
//
// Description:
//
//	Uses the Ollama /api/chat endpoint with stream=false. This is the
//	default oracle backend: local-first, no API key, no egress guard
//	needed.
//
// Thread Safety: OllamaClient is safe for concurrent use.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaClient creates an OllamaClient from environment variables.
//
// Description:
//
//	Reads OLLAMA_BASE_URL and OLLAMA_MODEL from the environment, falling
//	back to http://localhost:11434 and the default oracle model.
//
// Outputs:
//   - *OllamaClient: The configured client. Construction never fails; a
//     missing server surfaces as an error on the first call.
func NewOllamaClient() *OllamaClient {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = defaultOllamaModel
		slog.Warn("OLLAMA_MODEL not set, using default", slog.String("model", model))
	}
	slog.Info("Initializing Ollama client",
		slog.String("base_url", baseURL),
		slog.String("model", model),
	)
	return NewOllamaClientWithConfig(baseURL, model)
}

// NewOllamaClientWithConfig creates an OllamaClient with explicit
// configuration. Useful for testing with httptest servers.
func NewOllamaClientWithConfig(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

// Model returns the model name this client sends requests to.
func (c *OllamaClient) Model() string {
	return c.model
}

// Generate implements the LLMClient interface.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	systemRoleContent := os.Getenv("SYSTEM_ROLE_PROMPT_PERSONA")
	if systemRoleContent == "" {
		systemRoleContent = "You are a helpful assistant."
	}
	messages := []datatypes.Message{
		{Role: "system", Content: systemRoleContent},
		{Role: "user", Content: prompt},
	}
	return c.Chat(ctx, messages, params)
}

// Chat implements LLMClient.Chat using the Ollama chat API.
//
// Description:
//
//	Converts datatypes.Message to Ollama wire format and sends a
//	non-streaming chat request. Unknown roles are mapped to "user" with a
//	warning, matching the other clients.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history.
//   - params: Generation parameters. NumCtx and KeepAlive are honored.
//
// Outputs:
//   - string: The assistant's response text.
//   - error: Non-nil if the request fails.
//
// Thread Safety: This method is safe for concurrent use.
func (c *OllamaClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	model := c.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	slog.Debug("Chat via Ollama", slog.String("model", model), slog.Int("messages", len(messages)))

	wireMessages := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system", "user", "assistant":
		default:
			slog.Warn("Ollama: unknown message role, mapping to user",
				slog.String("unknown_role", role),
				slog.String("model", model),
			)
			role = "user"
		}
		wireMessages = append(wireMessages, ollamaMessage{Role: role, Content: msg.Content})
	}

	opts := &ollamaOptions{}
	hasOpts := false
	if params.Temperature != nil {
		opts.Temperature = params.Temperature
		hasOpts = true
	}
	if params.MaxTokens != nil {
		opts.NumPredict = params.MaxTokens
		hasOpts = true
	}
	if params.NumCtx != nil {
		opts.NumCtx = params.NumCtx
		hasOpts = true
	}
	if params.TopP != nil {
		opts.TopP = params.TopP
		hasOpts = true
	}
	if len(params.Stop) > 0 {
		opts.Stop = params.Stop
		hasOpts = true
	}

	reqPayload := ollamaRequest{
		Model:     model,
		Messages:  wireMessages,
		Stream:    false,
		KeepAlive: params.KeepAlive,
	}
	if hasOpts {
		reqPayload.Options = opts
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("ollama: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("ollama: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("ollama: parsing response JSON: %w", err)
	}

	if apiResp.Error != "" {
		return "", fmt.Errorf("ollama: API error: %s", SafeLogString(apiResp.Error))
	}

	slog.Debug("Received Ollama chat response",
		slog.String("done_reason", apiResp.DoneReason),
		slog.Int("response_len", len(apiResp.Message.Content)),
	)

	return apiResp.Message.Content, nil
}
