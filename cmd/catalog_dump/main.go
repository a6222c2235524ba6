// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// catalog_dump inspects the compiled entity catalog.
//
// The catalog drives field-name matching and candidate scoring for bridge
// searches. This tool compiles it exactly the way the service does and
// prints a human-readable summary: entity types in ranking order, their
// patterns and related types, and the alias map. With --field and --value
// it adds a scoring preview showing which types a field name maps to and
// the intrinsic score a candidate value would carry.
//
// Usage:
//
//	catalog_dump [--catalog /path/to/catalog.yaml]
//	catalog_dump --field user_session --value sess-9f2e41a7
//
// If --catalog is not given, reads BRIDGE_CATALOG from the environment,
// falling back to the embedded default catalog.
//
// Exit codes:
//
//	0 — success
//	1 — error compiling the catalog
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianBridge/services/bridge/catalog"
	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
)

func main() {
	catalogFlag := flag.String("catalog", "", "Path to a catalog YAML file (overrides BRIDGE_CATALOG env var)")
	fieldFlag := flag.String("field", "", "Field name to preview pattern matching for")
	valueFlag := flag.String("value", "", "Candidate value to preview scoring for")
	flag.Parse()

	ctx := context.Background()

	catalogPath := *catalogFlag
	if catalogPath == "" {
		catalogPath = os.Getenv("BRIDGE_CATALOG")
	}

	var (
		cat *catalog.Catalog
		err error
	)
	if catalogPath == "" {
		fmt.Println("Catalog source: embedded default")
		cat, err = catalog.Get(ctx)
	} else {
		fmt.Printf("Catalog source: %s (merged over embedded default)\n", catalogPath)
		cat, err = catalog.LoadFile(ctx, catalogPath)
	}
	if err != nil {
		fatalf("compile catalog: %v", err)
	}

	types := cat.Types()
	// Ranking order: priority descending, name ascending on ties. The same
	// order candidates of equal score would drain from the frontier.
	sort.SliceStable(types, func(i, j int) bool {
		pi, pj := cat.Priority(types[i]), cat.Priority(types[j])
		if pi != pj {
			return pi > pj
		}
		return types[i] < types[j]
	})

	fmt.Printf("\nSchema %s: %d entity type%s, %d alias%s\n",
		cat.SchemaVersion,
		len(types), plural(len(types), "", "s"),
		len(cat.Aliases), plural(len(cat.Aliases), "", "es"))
	fmt.Println(strings.Repeat("─", 80))

	nameWidth := len("Type")
	for _, t := range types {
		if len(t) > nameWidth {
			nameWidth = len(t)
		}
	}

	fmt.Printf("\n%-*s  %8s  %-28s %s\n", nameWidth, "Type", "Priority", "Patterns", "Related")
	fmt.Printf("%s  %s  %s  %s\n",
		strings.Repeat("─", nameWidth),
		strings.Repeat("─", 8),
		strings.Repeat("─", 28),
		strings.Repeat("─", 28),
	)
	for _, t := range types {
		spec, _ := cat.Spec(t)
		fmt.Printf("%-*s  %8d  %-28s %s\n",
			nameWidth, t,
			spec.Priority,
			strings.Join(spec.Patterns, ", "),
			strings.Join(spec.RelatedTypes, ", "))
	}

	if len(cat.Aliases) > 0 {
		aliases := make([]string, 0, len(cat.Aliases))
		for a := range cat.Aliases {
			aliases = append(aliases, a)
		}
		sort.Strings(aliases)

		fmt.Println("\nAliases:")
		for _, a := range aliases {
			fmt.Printf("    %-*s → %s\n", nameWidth, a, cat.Aliases[a])
		}
	}

	if *fieldFlag != "" {
		printFieldPreview(cat, *fieldFlag)
	}
	if *valueFlag != "" {
		printScorePreview(cat, types, *fieldFlag, *valueFlag)
	}
}

// printFieldPreview shows which entity types a record field name maps to.
func printFieldPreview(cat *catalog.Catalog, field string) {
	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	matched := cat.MatchingTypes(field)
	if len(matched) == 0 {
		fmt.Printf("Field %q matches no entity type. Values under it are invisible to the extractor.\n", field)
		return
	}
	fmt.Printf("Field %q maps to: %s\n", field, strings.Join(matched, ", "))
}

// printScorePreview shows the intrinsic score a value would carry as a
// bridge candidate of each relevant type.
func printScorePreview(cat *catalog.Catalog, allTypes []string, field, value string) {
	fmt.Printf("\nScoring preview for value %q:\n", value)

	if rank.IsSentinel(value) {
		fmt.Println("    Sentinel value — excluded from ranking entirely.")
		return
	}

	// Scope the preview to the field's types when a field was given;
	// otherwise show the value against every type.
	types := allTypes
	if field != "" {
		if matched := cat.MatchingTypes(field); len(matched) > 0 {
			types = matched
		}
	}

	nameWidth := len("Type")
	for _, t := range types {
		if len(t) > nameWidth {
			nameWidth = len(t)
		}
	}

	fmt.Printf("\n    %-*s  %8s  %5s\n", nameWidth, "Type", "Priority", "Score")
	fmt.Printf("    %s  %s  %s\n",
		strings.Repeat("─", nameWidth),
		strings.Repeat("─", 8),
		strings.Repeat("─", 5),
	)
	for _, t := range types {
		priority := cat.Priority(t)
		fmt.Printf("    %-*s  %8d  %5d\n", nameWidth, t, priority, rank.ScoreValue(priority, value))
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "catalog_dump: "+format+"\n", args...)
	os.Exit(1)
}
