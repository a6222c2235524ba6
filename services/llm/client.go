// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides LLM backend clients for the bridge relevance oracle.
// Ollama is the default local-first backend; OpenAI, Anthropic, and Gemini
// are available for deployments that accept cloud egress (see the egress
// subpackage for the guard that wraps cloud calls, and Secret for how API
// keys are held in memory).
//
// Thread Safety:
//
//	All clients in this package are safe for concurrent use.
package llm

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianBridge/services/datatypes"
)

// =============================================================================
// Client Interfaces
// =============================================================================

// LLMClient is the full provider interface implemented by each backend.
//
// Thread Safety: Implementations must be safe for concurrent use.
type LLMClient interface {
	// Generate sends a single prompt with the default system persona and
	// returns the response text.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat sends a multi-turn conversation and returns the assistant's
	// response text.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}

// GenerationParams holds provider-agnostic generation parameters.
//
// Description:
//
//	Pointer fields distinguish "unset, use the provider default" from an
//	explicit zero. NumCtx and KeepAlive are Ollama-specific and ignored by
//	cloud providers.
type GenerationParams struct {
	Temperature   *float32
	MaxTokens     *int
	TopP          *float32
	Stop          []string
	NumCtx        *int
	KeepAlive     string
	ModelOverride string
}

// ChatClient is the minimal interface consumed by the relevance oracle.
//
// Description:
//
//	The oracle only needs simple chat (no tool calls, no streaming). This
//	narrow interface keeps the oracle testable with a function stub and
//	makes adapters trivial for any provider.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends messages and returns the assistant's response text.
	Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error)
}

// ChatOptions holds per-request options for a ChatClient call.
type ChatOptions struct {
	// Temperature controls randomness. The zero value is an explicit
	// "most deterministic" setting, which is what the oracle wants.
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int

	// KeepAlive controls model VRAM lifetime (Ollama-specific).
	KeepAlive string

	// NumCtx sets the context window size (Ollama-specific).
	NumCtx int

	// Model selects the model for this request. When empty, the adapter's
	// default model is used.
	Model string
}

// =============================================================================
// ChatClient Adapter
// =============================================================================

// ClientChatAdapter exposes any LLMClient through the minimal ChatClient
// interface.
//
// Thread Safety: Safe for concurrent use.
type ClientChatAdapter struct {
	client       LLMClient
	defaultModel string
}

// NewChatAdapter wraps an LLMClient as a ChatClient.
//
// Inputs:
//
//	client - Backend client. Must not be nil.
//	defaultModel - Fallback model when ChatOptions.Model is empty. May be
//	empty if the caller always sets a model in ChatOptions.
func NewChatAdapter(client LLMClient, defaultModel string) *ClientChatAdapter {
	return &ClientChatAdapter{client: client, defaultModel: defaultModel}
}

// Chat implements ChatClient by mapping ChatOptions to GenerationParams.
func (a *ClientChatAdapter) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("llm client is nil")
	}

	model := opts.Model
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		return "", fmt.Errorf("model must be set in ChatOptions or at adapter construction")
	}

	temp := float32(opts.Temperature)
	params := GenerationParams{
		Temperature:   &temp,
		KeepAlive:     opts.KeepAlive,
		ModelOverride: model,
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		params.MaxTokens = &maxTokens
	}
	if opts.NumCtx > 0 {
		numCtx := opts.NumCtx
		params.NumCtx = &numCtx
	}

	return a.client.Chat(ctx, messages, params)
}
