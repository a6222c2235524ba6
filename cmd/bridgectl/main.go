// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bridgectl is the operator CLI for Aleutian Bridge.
//
// It resolves indirect entity relationships across local corpora without a
// running server, inspects and validates entity catalogs, and can start a
// development API server.
//
// Usage:
//
//	# Resolve with a live search view (interactive terminals)
//	bridgectl resolve --corpus ./logs --from alice@example.com --target account_id
//
//	# Let the form ask for the missing pieces
//	bridgectl resolve --corpus gs://bucket/prod-logs
//
//	# Scripting: plain events on stderr, JSON result on stdout
//	bridgectl resolve --corpus ./logs --from alice@example.com \
//	  --target account_id --json | jq .found
//
//	# Catalogs and corpora
//	bridgectl catalog show
//	bridgectl catalog validate ./catalog.yaml
//	bridgectl corpus stats ./logs
//
//	# Development server (use the bridge binary for deployments)
//	bridgectl serve --port 8080 --corpus ./logs
package main

import (
	"log"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
