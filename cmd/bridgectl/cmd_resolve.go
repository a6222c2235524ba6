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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianBridge/services/bridge"
	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/suggest"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
	"github.com/AleutianAI/AleutianBridge/services/llm/egress"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func runResolveCommand(_ *cobra.Command, args []string) {
	if len(args) > 0 {
		fmt.Printf("Warning: Unexpected arguments ignored: %v\n", args)
		fmt.Println("Use 'bridgectl resolve --help' to see available flags.")
	}
	if corpusPath == "" {
		log.Fatalf("--corpus is required (a file, directory, or gs:// URI)")
	}

	ctx := context.Background()

	cat, err := buildCatalog(ctx)
	if err != nil {
		log.Fatalf("Failed to compile catalog: %v", err)
	}

	// Collect missing query parameters with a form when the terminal allows
	// it; scripted runs must pass everything as flags.
	if fromValue == "" || targetType == "" {
		if !isInteractive() {
			log.Fatalf("--from and --target are required when not running interactively")
		}
		if err := promptForQuery(cat); err != nil {
			if err == huh.ErrUserAborted {
				fmt.Println("Aborted.")
				os.Exit(1)
			}
			log.Fatalf("Form failed: %v", err)
		}
	}

	oracleEnabled := useOracle
	if useOracle && !confirmOracleConsent() {
		oracleEnabled = false
	}

	tuiMode := isInteractive() && !plainOutput && !jsonOutput

	// The live view owns the terminal; service logs would tear it. Progress
	// events carry the same information.
	logger := slog.Default()
	if tuiMode {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := []bridge.ServiceOption{bridge.WithServiceLogger(logger)}
	if oracleEnabled {
		oracle, oerr := cliOracle(logger)
		if oerr != nil {
			fmt.Fprintf(os.Stderr, "oracle unavailable (%v), using intrinsic ranking\n", oerr)
			oracleEnabled = false
		} else {
			opts = append(opts, bridge.WithOracle(oracle))
		}
	}
	var weav *suggest.WeaviateSuggester
	if !noSuggest {
		var suggesters []suggest.Suggester
		suggesters, weav = cliSuggesters(ctx, cat, logger)
		opts = append(opts, bridge.WithSuggesters(suggesters...))
	}

	svc, err := bridge.NewService(bridge.NewStaticCatalog(cat), bridge.DefaultServiceConfig(), opts...)
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}

	stats, err := svc.LoadCorpus(ctx, corpusPath)
	if err != nil {
		log.Fatalf("Failed to load corpus %s: %v", corpusPath, err)
	}
	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "loaded %d records from %d files (%d lines skipped)\n",
			stats.Records, stats.Files, stats.SkippedLines)
	}
	if weav != nil {
		if _, ierr := weav.Index(ctx, svc.Store().All()); ierr != nil {
			fmt.Fprintf(os.Stderr, "weaviate indexing failed (%v), suggestions degrade to BM25\n", ierr)
		}
	}

	req := datatypes.ResolveRequest{
		SourceValue:            fromValue,
		SourceType:             fromType,
		TargetType:             targetType,
		OracleHint:             oracleHint,
		UseOracle:              oracleEnabled,
		MaxIterations:          maxIterations,
		MaxBridgesPerIteration: maxBridges,
		MaxTotalSearches:       maxSearches,
		TimeoutMs:              int64(timeoutMs),
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		log.Fatalf("Invalid request: %v", err)
	}

	var resp datatypes.ResolveResponse
	if tuiMode {
		resp, err = runResolveTUI(ctx, svc, req)
	} else {
		resp, err = runResolvePlain(ctx, svc, req, jsonOutput)
	}
	if err != nil {
		log.Fatalf("Resolve failed: %v", err)
	}

	switch {
	case jsonOutput:
		out, merr := json.MarshalIndent(resp, "", "  ")
		if merr != nil {
			log.Fatalf("Failed to encode result: %v", merr)
		}
		fmt.Println(string(out))
	case tuiMode:
		printResultStyled(resp)
	default:
		printResultPlain(resp)
	}
}

// promptForQuery fills the missing --from/--target values interactively.
// Flags that were provided keep their values; the form only asks for gaps.
func promptForQuery(cat *catalog.Catalog) error {
	var fields []huh.Field
	if fromValue == "" {
		fields = append(fields, huh.NewInput().
			Title("Source value").
			Description("The identifier you already have").
			Placeholder("alice@example.com").
			Value(&fromValue).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("source value is required")
				}
				return nil
			}))
	}
	if targetType == "" {
		types := cat.Types()
		options := make([]huh.Option[string], 0, len(types))
		for _, t := range types {
			options = append(options, huh.NewOption(t, t))
		}
		fields = append(fields, huh.NewSelect[string]().
			Title("Target entity type").
			Description("The identifier type you want to reach").
			Options(options...).
			Value(&targetType))
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

// confirmOracleConsent gates cloud oracle use behind explicit operator
// consent. Local Ollama never needs consent. A standing grant comes from
// BRIDGE_CONSENT_<PROVIDER>=true; otherwise an interactive session is asked
// once, and a non-interactive one stays local.
func confirmOracleConsent() bool {
	provider := oracleProviderName()
	if provider == egress.LocalProvider {
		return true
	}
	envKey := "BRIDGE_CONSENT_" + strings.ToUpper(provider)
	if strings.EqualFold(os.Getenv(envKey), "true") {
		return true
	}
	if !isInteractive() {
		fmt.Fprintf(os.Stderr, "cloud oracle %q needs consent: set %s=true or run interactively; continuing without the oracle\n",
			provider, envKey)
		return false
	}

	var consent bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Send candidate snippets to %s?", provider)).
			Description("Ranked candidate values and entity types leave this machine. Egress rate limits, the token budget, and audit logging still apply.").
			Affirmative("Yes, allow").
			Negative("No, stay local").
			Value(&consent),
	)).Run()
	if err != nil || !consent {
		fmt.Fprintln(os.Stderr, "continuing without the oracle")
		return false
	}

	// The egress guard reads consent from the environment; thread the
	// interactive grant through the same path the server honors.
	os.Setenv(envKey, "true")
	return true
}
