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
	"strings"
	"testing"
)

// permissiveConfig returns a config that lets openai through every gate.
func permissiveConfig() *EgressConfig {
	return &EgressConfig{
		Enabled:          true,
		ProviderConsent:  map[string]bool{"openai": true},
		RateLimitsPerMin: map[string]int{"openai": 60},
		AuditEnabled:     false,
	}
}

func TestEgressPolicy_LocalProviderAlwaysAllowed(t *testing.T) {
	cfg := permissiveConfig()
	cfg.Enabled = false
	cfg.LocalOnly = true
	cfg.Denylist = map[string]bool{"ollama": true}
	policy := NewEgressPolicy(cfg)

	allowed, blockedBy, reason := policy.Allow("ollama")
	if !allowed {
		t.Fatalf("local provider blocked by %q: %s", blockedBy, reason)
	}
}

func TestEgressPolicy_KillSwitch(t *testing.T) {
	cfg := permissiveConfig()
	cfg.Enabled = false
	policy := NewEgressPolicy(cfg)

	allowed, blockedBy, reason := policy.Allow("openai")
	if allowed {
		t.Fatal("kill switch should block cloud providers")
	}
	if blockedBy != "kill_switch" {
		t.Errorf("blockedBy = %q, want kill_switch", blockedBy)
	}
	if !strings.Contains(reason, "kill switch") {
		t.Errorf("reason should mention the kill switch: %q", reason)
	}
}

func TestEgressPolicy_DenylistBeatsAllowlistAndConsent(t *testing.T) {
	cfg := permissiveConfig()
	cfg.Allowlist = map[string]bool{"openai": true}
	cfg.Denylist = map[string]bool{"openai": true}
	policy := NewEgressPolicy(cfg)

	allowed, blockedBy, _ := policy.Allow("openai")
	if allowed {
		t.Fatal("denylisted provider should be blocked")
	}
	if blockedBy != "policy" {
		t.Errorf("blockedBy = %q, want policy", blockedBy)
	}
}

func TestEgressPolicy_AllowlistExcludes(t *testing.T) {
	cfg := permissiveConfig()
	cfg.Allowlist = map[string]bool{"someother": true}
	policy := NewEgressPolicy(cfg)

	allowed, blockedBy, reason := policy.Allow("openai")
	if allowed {
		t.Fatal("provider outside a non-empty allowlist should be blocked")
	}
	if blockedBy != "policy" {
		t.Errorf("blockedBy = %q, want policy", blockedBy)
	}
	if !strings.Contains(reason, "allowlist") {
		t.Errorf("reason should mention the allowlist: %q", reason)
	}
}

func TestEgressPolicy_EmptyAllowlistAllowsAll(t *testing.T) {
	policy := NewEgressPolicy(permissiveConfig())

	allowed, blockedBy, reason := policy.Allow("openai")
	if !allowed {
		t.Fatalf("blocked by %q: %s", blockedBy, reason)
	}
}

func TestEgressPolicy_LocalOnlyBlocksCloud(t *testing.T) {
	cfg := permissiveConfig()
	cfg.LocalOnly = true
	policy := NewEgressPolicy(cfg)

	allowed, blockedBy, reason := policy.Allow("openai")
	if allowed {
		t.Fatal("local-only mode should block cloud providers")
	}
	if blockedBy != "consent" {
		t.Errorf("blockedBy = %q, want consent", blockedBy)
	}
	if !strings.Contains(reason, "BRIDGE_LOCAL_ONLY") {
		t.Errorf("reason should point at the env variable: %q", reason)
	}
}

func TestEgressPolicy_MissingConsent(t *testing.T) {
	cfg := permissiveConfig()
	cfg.ProviderConsent = map[string]bool{}
	policy := NewEgressPolicy(cfg)

	allowed, blockedBy, reason := policy.Allow("openai")
	if allowed {
		t.Fatal("provider without consent should be blocked")
	}
	if blockedBy != "consent" {
		t.Errorf("blockedBy = %q, want consent", blockedBy)
	}
	if !strings.Contains(reason, "BRIDGE_CONSENT_OPENAI") {
		t.Errorf("reason should name the consent variable: %q", reason)
	}
}

func TestEgressPolicy_SetEnabledRuntimeToggle(t *testing.T) {
	policy := NewEgressPolicy(permissiveConfig())

	if !policy.Enabled() {
		t.Fatal("policy should start enabled")
	}

	policy.SetEnabled(false)
	if policy.Enabled() {
		t.Error("SetEnabled(false) should flip the switch")
	}
	if allowed, blockedBy, _ := policy.Allow("openai"); allowed || blockedBy != "kill_switch" {
		t.Errorf("runtime disable should block: allowed=%v blockedBy=%q", allowed, blockedBy)
	}

	policy.SetEnabled(true)
	if allowed, _, reason := policy.Allow("openai"); !allowed {
		t.Errorf("re-enable should allow again: %s", reason)
	}
}

func TestEgressPolicy_DefensiveCopies(t *testing.T) {
	cfg := permissiveConfig()
	policy := NewEgressPolicy(cfg)

	// Mutating the source maps after construction must not affect the policy.
	cfg.ProviderConsent["openai"] = false
	cfg.Denylist = map[string]bool{"openai": true}

	allowed, blockedBy, reason := policy.Allow("openai")
	if !allowed {
		t.Fatalf("policy should use its own copies: blocked by %q: %s", blockedBy, reason)
	}
}
