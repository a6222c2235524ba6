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
	"os"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianBridge/services/bridge"
	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/spf13/cobra"
)

func runCatalogValidate(_ *cobra.Command, args []string) {
	path := args[0]

	// LoadFile merges the file over the embedded default, which is exactly
	// what the server will do with it.
	cat, err := catalog.LoadFile(context.Background(), path)
	if err != nil {
		fmt.Println(styles.Error.Render("✗ ") + err.Error())
		os.Exit(1)
	}
	fmt.Println(styles.Success.Render("✓ ") + fmt.Sprintf(
		"%s compiles: %d entity types, %d aliases (schema %s)",
		path, len(cat.Types()), len(cat.Aliases), cat.SchemaVersion))
}

func runCatalogShow(_ *cobra.Command, _ []string) {
	ctx := context.Background()
	cat, err := buildCatalog(ctx)
	if err != nil {
		log.Fatalf("Failed to compile catalog: %v", err)
	}
	svc, err := bridge.NewService(bridge.NewStaticCatalog(cat), bridge.DefaultServiceConfig())
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}
	printCatalogTable(cat, svc.CatalogSummaries())
}

// printCatalogTable renders the compiled catalog as an aligned table with
// aliases listed underneath.
func printCatalogTable(cat *catalog.Catalog, summaries []bridge.CatalogSummary) {
	fmt.Println(styles.Title.Render("Catalog "+cat.SchemaVersion) +
		styles.Muted.Render(fmt.Sprintf("  %d entity types · %d aliases", len(summaries), len(cat.Aliases))))
	fmt.Println()

	typeWidth := len("TYPE")
	for _, s := range summaries {
		if len(s.EntityType) > typeWidth {
			typeWidth = len(s.EntityType)
		}
	}

	header := fmt.Sprintf("%-*s  %8s  %-32s %s", typeWidth, "TYPE", "PRIORITY", "PATTERNS", "RELATED")
	fmt.Println(styles.Subtitle.Render(header))
	for _, s := range summaries {
		fmt.Printf("%-*s  %8d  %-32s %s\n",
			typeWidth, s.EntityType,
			s.Priority,
			strings.Join(s.Patterns, ", "),
			strings.Join(s.RelatedTypes, ", "))
	}

	if len(cat.Aliases) > 0 {
		fmt.Println()
		fmt.Println(styles.Subtitle.Render("ALIASES"))
		names := make([]string, 0, len(cat.Aliases))
		for alias := range cat.Aliases {
			names = append(names, alias)
		}
		sort.Strings(names)
		for _, alias := range names {
			fmt.Printf("%-*s  → %s\n", typeWidth, alias, cat.Aliases[alias])
		}
	}
}
