// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"os"
	"strconv"
	"strings"
)

// cloudProviders lists every provider the egress guard knows about.
// Ollama is absent: local traffic is never guarded.
var cloudProviders = []string{"openai", "anthropic", "gemini"}

// EgressConfig holds all configuration for the egress guard.
//
// Description:
//
//	Loaded from environment variables at startup via LoadEgressConfig().
//	All fields have safe defaults: egress enabled, audit enabled, no
//	token budget, 60 calls per minute per cloud provider, consent
//	withheld until explicitly granted.
//
// Thread Safety: EgressConfig is a value type. Safe to copy and share
// after loading.
type EgressConfig struct {
	// Enabled is the global kill switch. When false, all cloud egress is
	// blocked.
	// Env: BRIDGE_EGRESS_ENABLED (default: "true")
	Enabled bool

	// LocalOnly blocks all cloud providers regardless of consent,
	// allowing only Ollama.
	// Env: BRIDGE_LOCAL_ONLY (default: "false")
	LocalOnly bool

	// Allowlist is a set of explicitly allowed provider names. Empty
	// means all providers are allowed.
	// Env: BRIDGE_EGRESS_ALLOWLIST (comma-separated, default: "")
	Allowlist map[string]bool

	// Denylist is a set of explicitly denied provider names. The
	// denylist takes precedence over the allowlist.
	// Env: BRIDGE_EGRESS_DENYLIST (comma-separated, default: "")
	Denylist map[string]bool

	// ProviderConsent maps provider names to operator consent. A cloud
	// provider without consent is blocked.
	// Env: BRIDGE_CONSENT_OPENAI (default: "false")
	ProviderConsent map[string]bool

	// DailyTokenBudget caps the tokens sent to cloud providers per UTC
	// day. 0 means unlimited.
	// Env: BRIDGE_EGRESS_DAILY_TOKENS (default: 0)
	DailyTokenBudget int64

	// RateLimitsPerMin maps provider names to per-minute call limits.
	// Env: BRIDGE_RATE_OPENAI_PER_MIN (default: 60)
	RateLimitsPerMin map[string]int

	// AuditEnabled controls whether egress audit events are written.
	// Env: BRIDGE_AUDIT_ENABLED (default: "true")
	AuditEnabled bool

	// AuditHashContent controls whether the outbound payload is
	// SHA256-hashed into audit events.
	// Env: BRIDGE_AUDIT_HASH_CONTENT (default: "true")
	AuditHashContent bool

	// AuditPath is a file to append JSONL audit events to. Empty means
	// audit events go to the service logger instead.
	// Env: BRIDGE_AUDIT_PATH (default: "")
	AuditPath string
}

// LoadEgressConfig reads egress configuration from environment variables.
//
// Description:
//
//	Reads all BRIDGE_EGRESS_*, BRIDGE_LOCAL_ONLY, BRIDGE_CONSENT_*,
//	BRIDGE_RATE_*, and BRIDGE_AUDIT_* environment variables. Malformed
//	values fall back to their defaults rather than failing.
//
// Outputs:
//   - *EgressConfig: Fully populated configuration.
func LoadEgressConfig() *EgressConfig {
	cfg := &EgressConfig{
		Enabled:          envBool("BRIDGE_EGRESS_ENABLED", true),
		LocalOnly:        envBool("BRIDGE_LOCAL_ONLY", false),
		Allowlist:        envSet("BRIDGE_EGRESS_ALLOWLIST"),
		Denylist:         envSet("BRIDGE_EGRESS_DENYLIST"),
		DailyTokenBudget: envInt64("BRIDGE_EGRESS_DAILY_TOKENS", 0),
		AuditEnabled:     envBool("BRIDGE_AUDIT_ENABLED", true),
		AuditHashContent: envBool("BRIDGE_AUDIT_HASH_CONTENT", true),
		AuditPath:        os.Getenv("BRIDGE_AUDIT_PATH"),
		ProviderConsent:  make(map[string]bool),
		RateLimitsPerMin: make(map[string]int),
	}

	for _, p := range cloudProviders {
		cfg.ProviderConsent[p] = envBool("BRIDGE_CONSENT_"+strings.ToUpper(p), false)
		cfg.RateLimitsPerMin[p] = envInt("BRIDGE_RATE_"+strings.ToUpper(p)+"_PER_MIN", 60)
	}

	return cfg
}

// envBool reads a boolean environment variable with a default value.
func envBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// envInt reads an integer environment variable with a default value.
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// envInt64 reads an int64 environment variable with a default value.
func envInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

// envSet reads a comma-separated environment variable into a set.
// Returns an empty map (not nil) if the variable is unset.
func envSet(key string) map[string]bool {
	result := make(map[string]bool)
	val := os.Getenv(key)
	if val == "" {
		return result
	}
	for _, item := range strings.Split(val, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			result[trimmed] = true
		}
	}
	return result
}
