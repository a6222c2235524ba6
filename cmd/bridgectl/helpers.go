// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
	"github.com/AleutianAI/AleutianBridge/services/bridge/suggest"
	"github.com/AleutianAI/AleutianBridge/services/llm"
	"github.com/AleutianAI/AleutianBridge/services/llm/egress"
	"github.com/mattn/go-isatty"
)

// isInteractive reports whether both ends of the session are terminals.
// Piped input or redirected output falls back to plain text behavior.
func isInteractive() bool {
	stdinTTY := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	return stdinTTY && stdoutTTY
}

// buildCatalog compiles the effective catalog: the embedded default, or the
// --catalog file merged over it.
func buildCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if catalogPath == "" {
		return catalog.Get(ctx)
	}
	return catalog.LoadFile(ctx, catalogPath)
}

// oracleProviderName returns the configured oracle provider, defaulting to
// local Ollama.
func oracleProviderName() string {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("BRIDGE_ORACLE_PROVIDER")))
	if provider == "" {
		return egress.LocalProvider
	}
	return provider
}

// cliOracle wires the relevance oracle for one-shot CLI use.
//
// Verdicts are cached in memory only: a short-lived process gains nothing
// from BadgerDB and must not contend for the server's cache directory lock.
func cliOracle(logger *slog.Logger) (rank.Oracle, error) {
	provider := oracleProviderName()

	var (
		client llm.LLMClient
		model  string
	)
	switch provider {
	case egress.LocalProvider:
		c := llm.NewOllamaClient()
		client, model = c, c.Model()
	case "openai":
		c, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, err
		}
		client, model = c, c.Model()
	case "anthropic":
		c, err := llm.NewAnthropicClient()
		if err != nil {
			return nil, err
		}
		client, model = c, c.Model()
	case "gemini":
		c, err := llm.NewGeminiClient()
		if err != nil {
			return nil, err
		}
		client, model = c, c.Model()
	default:
		return nil, fmt.Errorf("unknown oracle provider %q (BRIDGE_ORACLE_PROVIDER)", provider)
	}

	chat := llm.ChatClient(llm.NewChatAdapter(client, model))
	if provider != egress.LocalProvider {
		if secure, limitKB := llm.IsSecureMemoryAvailable(); !secure {
			logger.Warn("Secure memory unavailable for API key storage",
				slog.Int64("mlock_limit_kb", limitKB),
			)
		}
		guard := egress.NewGuard(egress.LoadEgressConfig(), logger)
		chat = guard.Wrap(chat, provider, model)
	}

	cfg := rank.DefaultOracleConfig()
	cfg.Model = model

	return rank.NewLLMOracle(chat, cfg,
		rank.WithVerdictCache(rank.NewMemoryVerdictCacheStore(0)),
		rank.WithOracleLogger(logger),
	)
}

// cliSuggesters builds the near-miss suggester chain: Weaviate hybrid search
// first when WEAVIATE_URL points somewhere reachable, BM25 always.
func cliSuggesters(ctx context.Context, cat *catalog.Catalog, logger *slog.Logger) ([]suggest.Suggester, *suggest.WeaviateSuggester) {
	bm25 := suggest.NewBM25(cat, logger)

	wcfg, ok := suggest.WeaviateConfigFromEnv()
	if !ok {
		return []suggest.Suggester{bm25}, nil
	}
	weav, err := suggest.NewWeaviate(wcfg, cat, bm25, logger)
	if err != nil {
		slog.Warn("Weaviate unavailable, suggestions use BM25 only",
			slog.String("error", err.Error()))
		return []suggest.Suggester{bm25}, nil
	}
	if err := weav.EnsureSchema(ctx); err != nil {
		slog.Warn("Weaviate schema setup failed, suggestions use BM25 only",
			slog.String("error", err.Error()))
		return []suggest.Suggester{bm25}, nil
	}
	return []suggest.Suggester{weav, bm25}, weav
}
