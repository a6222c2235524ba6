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

	"github.com/AleutianAI/AleutianBridge/services/bridge/corpus"
	"github.com/spf13/cobra"
)

// runCorpusStats scans a corpus the same way the server would and prints
// what a search over it has to work with. Deliberately catalog-free: a
// broken catalog should never block corpus inspection.
func runCorpusStats(_ *cobra.Command, args []string) {
	path := args[0]
	ctx := context.Background()

	store := corpus.NewStore()
	loader := corpus.NewLoader(store)

	var (
		loaded corpus.LoadStats
		err    error
	)
	switch {
	case corpus.IsGCSURI(path):
		loaded, err = loader.LoadGCS(ctx, path)
	default:
		info, serr := os.Stat(path)
		if serr != nil {
			log.Fatalf("Failed to read %s: %v", path, serr)
		}
		if info.IsDir() {
			loaded, err = loader.LoadDir(ctx, path)
		} else {
			loaded, err = loader.LoadFile(ctx, path)
		}
	}
	if err != nil {
		log.Fatalf("Failed to load corpus %s: %v", path, err)
	}

	stats := store.Stats()
	fmt.Println(styles.Title.Render("Corpus " + path))
	fmt.Printf("  files:         %d\n", loaded.Files)
	fmt.Printf("  records:       %d\n", stats.Records)
	fmt.Printf("  skipped lines: %d\n", loaded.SkippedLines)
	fmt.Printf("  sources:       %d\n", stats.Sources)
	fmt.Printf("  bytes:         %s\n", formatBytes(stats.Bytes))
}

// formatBytes renders a byte count in the largest sensible unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
