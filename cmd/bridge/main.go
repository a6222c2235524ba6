// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bridge starts the Aleutian Bridge API server.
//
// Aleutian Bridge resolves indirect entity relationships across
// semi-structured text corpora:
//   - Bounded multi-hop frontier search (iteration, breadth, and search budgets)
//   - Compiled entity catalog with aliases and hot reload
//   - Optional LLM relevance oracle (local-first, fail-open)
//   - Near-miss suggestions when a search exhausts
//
// Usage:
//
//	go run ./cmd/bridge
//	go run ./cmd/bridge -port 9090 -corpus ./logs -catalog ./catalog.yaml
//
// With the relevance oracle (requires Ollama):
//
//	OLLAMA_BASE_URL=http://localhost:11434 go run ./cmd/bridge -with-oracle
//
// With a cloud oracle (requires explicit consent):
//
//	BRIDGE_ORACLE_PROVIDER=openai OPENAI_API_KEY=sk-... \
//	  BRIDGE_CONSENT_OPENAI=true go run ./cmd/bridge -with-oracle
//
// With near-miss suggestions:
//
//	go run ./cmd/bridge -with-suggest
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/bridge/health
//
//	# Load a corpus directory
//	curl -X POST http://localhost:8080/v1/bridge/corpus \
//	  -H "Content-Type: application/json" \
//	  -d '{"path": "/var/log/app"}'
//
//	# Resolve a relationship
//	curl -X POST http://localhost:8080/v1/bridge/resolve \
//	  -H "Content-Type: application/json" \
//	  -d '{"source_value": "alice@example.com", "target_type": "account_id"}'
//
//	# Inspect the compiled catalog
//	curl http://localhost:8080/v1/bridge/catalog | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge"
	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
	badgerstore "github.com/AleutianAI/AleutianBridge/services/bridge/storage/badger"
	"github.com/AleutianAI/AleutianBridge/services/bridge/suggest"
	"github.com/AleutianAI/AleutianBridge/services/bridge/telemetry"
	"github.com/AleutianAI/AleutianBridge/services/llm"
	"github.com/AleutianAI/AleutianBridge/services/llm/egress"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	corpusPath := flag.String("corpus", "", "Corpus file, directory, or gs:// URI to load at startup")
	catalogPath := flag.String("catalog", "", "External catalog YAML (watched for changes)")
	withOracle := flag.Bool("with-oracle", false, "Enable the LLM relevance oracle")
	withSuggest := flag.Bool("with-suggest", false, "Enable near-miss suggestions on exhausted searches")
	flag.Parse()

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation: trace context flows from incoming HTTP
	// headers through all handlers and into the search engine spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx := context.Background()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		slog.Warn("Telemetry init failed, continuing without exporters",
			slog.String("error", err.Error()))
		telemetryShutdown = func(context.Context) error { return nil }
	}

	// Catalog: embedded default, or an external file with hot reload.
	catalogs, watcher, err := setupCatalogSource(ctx, *catalogPath)
	if err != nil {
		slog.Error("Failed to load catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Verdict cache BadgerDB. Service-global, in ~/.aleutian/cache/bridge/.
	// Graceful degradation: if unavailable, oracle verdicts are cached in memory.
	var verdictDB *badgerstore.DB
	if *withOracle {
		verdictDB = openVerdictDB()
	}

	opts := []bridge.ServiceOption{}

	oracleStatus := "DISABLED (start with -with-oracle)"
	if *withOracle {
		oracle, oerr := setupOracle(verdictDB, slog.Default())
		if oerr != nil {
			slog.Warn("Oracle unavailable, searches use intrinsic ranking only",
				slog.String("error", oerr.Error()))
			oracleStatus = "DEGRADED (intrinsic ranking only)"
		} else {
			opts = append(opts, bridge.WithOracle(oracle))
			oracleStatus = fmt.Sprintf("ENABLED (%s)", oracleProvider())
		}
	}

	suggestStatus := "DISABLED (start with -with-suggest)"
	var weav *suggest.WeaviateSuggester
	if *withSuggest {
		var suggesters []suggest.Suggester
		suggesters, weav = setupSuggesters(ctx, catalogs.Current(), slog.Default())
		opts = append(opts, bridge.WithSuggesters(suggesters...))
		suggestStatus = "ENABLED (BM25)"
		if weav != nil {
			suggestStatus = "ENABLED (Weaviate hybrid + BM25 fallback)"
		}
	}

	// Search telemetry sink, enabled by INFLUXDB_URL.
	var sink *telemetry.InfluxSink
	if sinkCfg, ok := telemetry.InfluxConfigFromEnv(); ok {
		sink = telemetry.NewInfluxSink(sinkCfg, slog.Default())
		opts = append(opts, bridge.WithSink(sink))
	}

	svc, err := bridge.NewService(catalogs, bridge.DefaultServiceConfig(), opts...)
	if err != nil {
		slog.Error("Failed to create bridge service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Corpus preload. An operator who asked for a corpus gets a hard failure,
	// not a silently empty server.
	if *corpusPath != "" {
		stats, lerr := svc.LoadCorpus(ctx, *corpusPath)
		if lerr != nil {
			slog.Error("Failed to load corpus",
				slog.String("path", *corpusPath),
				slog.String("error", lerr.Error()))
			os.Exit(1)
		}
		slog.Info("Corpus preloaded",
			slog.String("path", *corpusPath),
			slog.Int("files", stats.Files),
			slog.Int("records", stats.Records),
			slog.Int("skipped_lines", stats.SkippedLines),
		)
		if weav != nil {
			if indexed, ierr := weav.Index(ctx, svc.Store().All()); ierr != nil {
				slog.Warn("Weaviate indexing failed, hybrid suggestions degrade to BM25",
					slog.String("error", ierr.Error()))
			} else {
				slog.Info("Corpus indexed into Weaviate", slog.Int("chunks", indexed))
			}
		}
	}

	handlers := bridge.NewHandlers(svc)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-bridge"))
	if *debug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	// Register routes under /v1/bridge
	v1 := router.Group("/v1")
	bridge.RegisterRoutes(v1, handlers)

	// Print startup banner
	printBanner(*port, svc.Store().Len(), len(catalogs.Current().Types()), oracleStatus, suggestStatus)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Bridge server")
		if watcher != nil {
			watcher.Stop()
		}
		if sink != nil {
			sink.Close()
		}
		if verdictDB != nil {
			if err := verdictDB.Close(); err != nil {
				slog.Warn("Failed to close verdict cache BadgerDB", slog.String("error", err.Error()))
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
		llm.PurgeSecrets()
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Aleutian Bridge server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupCatalogSource builds the catalog source for the service.
//
// Description:
//
//	Without -catalog the embedded default catalog is compiled once and
//	served for the process lifetime. With -catalog the external file is
//	loaded strictly (a broken file at startup is fatal) and then watched
//	for changes; a broken rewrite later keeps the old catalog.
//
// Outputs:
//   - bridge.CatalogSource: What the service reads catalogs from.
//   - *catalog.Watcher: Non-nil only in watch mode, for shutdown.
//   - error: Non-nil if the initial catalog cannot be compiled.
func setupCatalogSource(ctx context.Context, path string) (bridge.CatalogSource, *catalog.Watcher, error) {
	if path == "" {
		cat, err := catalog.Get(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("compiling embedded catalog: %w", err)
		}
		return bridge.NewStaticCatalog(cat), nil, nil
	}

	w, err := catalog.NewWatcher(ctx, path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("loading catalog %s: %w", path, err)
	}
	if err := w.Start(ctx); err != nil {
		// The initial load succeeded; serve that catalog without reloads.
		slog.Warn("Catalog hot reload unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return w, w, nil
}

// openVerdictDB opens the oracle verdict cache, degrading to nil (callers
// fall back to the in-memory cache) when no directory is usable.
func openVerdictDB() *badgerstore.DB {
	cacheDir := os.Getenv("BRIDGE_CACHE_DIR")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cacheDir = filepath.Join(home, ".aleutian", "cache", "bridge")
		}
	}
	if cacheDir == "" {
		return nil
	}

	cfg := badgerstore.DefaultConfig()
	cfg.Path = cacheDir
	db, err := badgerstore.OpenDB(cfg)
	if err != nil {
		slog.Warn("Verdict cache BadgerDB unavailable, verdicts cached in memory only",
			slog.String("path", cacheDir),
			slog.String("error", err.Error()),
		)
		return nil
	}
	slog.Info("Verdict cache BadgerDB opened", slog.String("path", cacheDir))
	return db
}

// oracleProvider returns the configured oracle provider name, defaulting to
// the local Ollama provider.
func oracleProvider() string {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("BRIDGE_ORACLE_PROVIDER")))
	if provider == "" {
		return egress.LocalProvider
	}
	return provider
}

// setupOracle wires the relevance oracle for the configured provider.
//
// Description:
//
//	Builds the provider client from environment variables, adapts it to the
//	chat interface, and wraps cloud providers in the egress guard (consent,
//	rate limits, token budget, audit). The verdict cache uses BadgerDB when
//	available and an in-memory store otherwise.
//
// Inputs:
//   - db: Verdict cache database. Nil selects the in-memory cache.
//   - logger: Structured logger for oracle and egress events.
//
// Outputs:
//   - rank.Oracle: The ready oracle.
//   - error: Non-nil if the provider client cannot be constructed. Callers
//     degrade to intrinsic ranking.
func setupOracle(db *badgerstore.DB, logger *slog.Logger) (rank.Oracle, error) {
	provider := oracleProvider()

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

	cacheOpt := rank.WithVerdictCache(rank.NewMemoryVerdictCacheStore(0))
	if db != nil {
		cacheOpt = rank.WithVerdictCache(rank.NewBadgerVerdictCacheStore(db, 0, logger))
	}

	return rank.NewLLMOracle(chat, cfg, cacheOpt, rank.WithOracleLogger(logger))
}

// setupSuggesters builds the near-miss suggester chain: Weaviate hybrid
// search first when WEAVIATE_URL is configured and reachable, BM25 always.
//
// The Weaviate suggester is also returned separately so main can index the
// corpus after preload. Suggesters bind the catalog current at startup;
// suggestions are advisory, so a later catalog reload does not rebuild them.
func setupSuggesters(ctx context.Context, cat *catalog.Catalog, logger *slog.Logger) ([]suggest.Suggester, *suggest.WeaviateSuggester) {
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

// printBanner prints the startup banner with runtime configuration.
func printBanner(port, records, catalogTypes int, oracleStatus, suggestStatus string) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     ALEUTIAN BRIDGE SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Bounded multi-hop entity relationship resolution.                ║
║  Corpus:   %-8d records                                       ║
║  Catalog:  %-8d entity types                                  ║
║  Oracle:   %-50s ║
║  Suggest:  %-50s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/bridge/health             │  ║
║  │                                                             │  ║
║  │ # Load a corpus                                             │  ║
║  │ curl -X POST http://localhost:%d/v1/bridge/corpus \   │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"path": "/var/log/app"}'                             │  ║
║  │                                                             │  ║
║  │ # Resolve a relationship                                    │  ║
║  │ curl -X POST http://localhost:%d/v1/bridge/resolve \  │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"source_value": "alice@example.com",                 │  ║
║  │        "target_type": "account_id"}'                        │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Core: /health, /corpus, /corpus/stats, /catalog             ║
║  ├── Resolve: POST /resolve, GET /resolve/ws (live events)       ║
║  ├── Debug: /debug/config, /debug/corpus, /debug/catalog/export  ║
║  └── Metrics: GET /metrics (Prometheus)                          ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, records, catalogTypes, oracleStatus, suggestStatus, port, port, port)
}
