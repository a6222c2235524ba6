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
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianBridge/services/bridge"
	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/suggest"
	"github.com/AleutianAI/AleutianBridge/services/bridge/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// runServeCommand starts the Bridge API for local development. Same routes
// as the bridge binary, but verdicts cache in memory and no exporters are
// configured.
func runServeCommand(_ *cobra.Command, _ []string) {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx := context.Background()
	logger := slog.Default()

	var (
		catalogs bridge.CatalogSource
		watcher  *catalog.Watcher
	)
	if catalogPath == "" {
		cat, err := catalog.Get(ctx)
		if err != nil {
			log.Fatalf("Failed to compile embedded catalog: %v", err)
		}
		catalogs = bridge.NewStaticCatalog(cat)
	} else {
		w, err := catalog.NewWatcher(ctx, catalogPath, nil)
		if err != nil {
			log.Fatalf("Failed to load catalog %s: %v", catalogPath, err)
		}
		if err := w.Start(ctx); err != nil {
			slog.Warn("Catalog hot reload unavailable", slog.String("error", err.Error()))
		}
		catalogs, watcher = w, w
	}

	opts := []bridge.ServiceOption{bridge.WithServiceLogger(logger)}
	if serveOracle {
		oracle, err := cliOracle(logger)
		if err != nil {
			slog.Warn("Oracle unavailable, searches use intrinsic ranking only",
				slog.String("error", err.Error()))
		} else {
			opts = append(opts, bridge.WithOracle(oracle))
		}
	}
	var weav *suggest.WeaviateSuggester
	if serveSuggest {
		var suggesters []suggest.Suggester
		suggesters, weav = cliSuggesters(ctx, catalogs.Current(), logger)
		opts = append(opts, bridge.WithSuggesters(suggesters...))
	}

	svc, err := bridge.NewService(catalogs, bridge.DefaultServiceConfig(), opts...)
	if err != nil {
		log.Fatalf("Failed to create bridge service: %v", err)
	}

	if corpusPath != "" {
		stats, lerr := svc.LoadCorpus(ctx, corpusPath)
		if lerr != nil {
			log.Fatalf("Failed to load corpus %s: %v", corpusPath, lerr)
		}
		slog.Info("Corpus preloaded",
			slog.String("path", corpusPath),
			slog.Int("records", stats.Records),
			slog.Int("skipped_lines", stats.SkippedLines),
		)
		if weav != nil {
			if _, ierr := weav.Index(ctx, svc.Store().All()); ierr != nil {
				slog.Warn("Weaviate indexing failed, hybrid suggestions degrade to BM25",
					slog.String("error", ierr.Error()))
			}
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-bridge"))
	if serveDebug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	bridge.RegisterRoutes(v1, bridge.NewHandlers(svc))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down bridge dev server")
		if watcher != nil {
			watcher.Stop()
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", servePort)
	fmt.Println(styles.Success.Render("⚓ ") + styles.Title.Render("Bridge API listening on "+addr) +
		styles.Muted.Render("  (dev server; use the bridge binary for deployments)"))
	if err := router.Run(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func runVersionCommand(_ *cobra.Command, _ []string) {
	fmt.Printf("bridgectl %s\n", bridge.ServiceVersion)
}
