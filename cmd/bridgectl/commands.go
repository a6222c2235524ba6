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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	corpusPath    string
	catalogPath   string
	fromValue     string
	fromType      string
	targetType    string
	oracleHint    string
	maxIterations int
	maxBridges    int
	maxSearches   int
	timeoutMs     int
	useOracle     bool
	noSuggest     bool
	plainOutput   bool
	jsonOutput    bool

	servePort    int
	serveDebug   bool
	serveOracle  bool
	serveSuggest bool

	rootCmd = &cobra.Command{
		Use:   "bridgectl",
		Short: "A cli to resolve entity relationships through the Aleutian Bridge engine",
		Long: `Bridgectl runs bounded multi-hop searches over semi-structured text
				corpora, connecting an identifier you have to an identifier you need
				through the bridge values they share.`,
	}

	// --- Resolve ---
	resolveCmd = &cobra.Command{
		Use:   "resolve",
		Short: "Resolve an indirect entity relationship across a corpus",
		Long: `Resolve loads a corpus, then walks from the source value toward the
				target entity type through shared bridge identifiers. Missing
				--from/--target values are collected with an interactive form when
				the terminal allows it.`,
		Run: runResolveCommand, // Defined in cmd_resolve.go
	}

	// --- Catalog ---
	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate entity catalogs",
	}
	catalogValidateCmd = &cobra.Command{
		Use:   "validate [catalog.yaml]",
		Short: "Compile an external catalog file and report what it defines",
		Args:  cobra.ExactArgs(1),
		Run:   runCatalogValidate, // Defined in cmd_catalog.go
	}
	catalogShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the compiled catalog (embedded default or --catalog file)",
		Run:   runCatalogShow, // Defined in cmd_catalog.go
	}

	// --- Corpus ---
	corpusCmd = &cobra.Command{
		Use:   "corpus",
		Short: "Corpus utilities",
	}
	corpusStatsCmd = &cobra.Command{
		Use:   "stats [path]",
		Short: "Scan a corpus file, directory, or gs:// URI and print statistics",
		Args:  cobra.ExactArgs(1),
		Run:   runCorpusStats, // Defined in cmd_corpus.go
	}

	// --- Serve ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start a development Bridge API server",
		Long: `Serve starts the Bridge HTTP API with the same routes as the bridge
				binary. Oracle verdicts are cached in memory only; run the bridge
				binary for deployments that need the persistent verdict cache and
				search telemetry.`,
		Run: runServeCommand, // Defined in cmd_serve.go
	}

	// --- Version ---
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the bridgectl version",
		Run:   runVersionCommand, // Defined in cmd_serve.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVar(&corpusPath, "corpus", "", "Corpus file, directory, or gs:// URI (required)")
	resolveCmd.Flags().StringVar(&catalogPath, "catalog", "", "External catalog YAML merged over the embedded default")
	resolveCmd.Flags().StringVar(&fromValue, "from", "", "Source identifier value you already have")
	resolveCmd.Flags().StringVar(&fromType, "from-type", "", "Entity type of the source value (detected when omitted)")
	resolveCmd.Flags().StringVar(&targetType, "target", "", "Entity type you want to reach")
	resolveCmd.Flags().StringVar(&oracleHint, "hint", "", "Domain hint passed to the relevance oracle")
	resolveCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Search iteration budget (0 = server default)")
	resolveCmd.Flags().IntVar(&maxBridges, "max-bridges", 0, "Bridge candidates per iteration (0 = server default)")
	resolveCmd.Flags().IntVar(&maxSearches, "max-searches", 0, "Total corpus search budget (0 = server default)")
	resolveCmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "Wall-clock budget in milliseconds (0 = server default)")
	resolveCmd.Flags().BoolVar(&useOracle, "oracle", false, "Rank bridge candidates with the LLM relevance oracle")
	resolveCmd.Flags().BoolVar(&noSuggest, "no-suggest", false, "Skip near-miss suggestions on exhausted searches")
	resolveCmd.Flags().BoolVar(&plainOutput, "plain", false, "Print plain event lines instead of the live view")
	resolveCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON on stdout")

	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	catalogShowCmd.Flags().StringVar(&catalogPath, "catalog", "", "External catalog YAML merged over the embedded default")

	rootCmd.AddCommand(corpusCmd)
	corpusCmd.AddCommand(corpusStatsCmd)

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().StringVar(&corpusPath, "corpus", "", "Corpus to load at startup")
	serveCmd.Flags().StringVar(&catalogPath, "catalog", "", "External catalog YAML (watched for changes)")
	serveCmd.Flags().BoolVar(&serveOracle, "with-oracle", false, "Enable the LLM relevance oracle")
	serveCmd.Flags().BoolVar(&serveSuggest, "with-suggest", false, "Enable near-miss suggestions")

	rootCmd.AddCommand(versionCmd)
}
