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
	"fmt"
	"strings"
	"sync"
	"time"
)

// EgressPolicy decides whether a provider may receive egress traffic.
//
// Description:
//
//	Combines the kill switch, allowlist/denylist rules, local-only mode,
//	and per-provider operator consent into a single check. The local
//	provider always passes: it generates no egress.
//
//	The kill switch is the only mutable part; it can be flipped at
//	runtime (e.g. from a debug endpoint) without restarting the service.
//	Everything else is read-only after construction.
//
// Thread Safety: Safe for concurrent use via sync.RWMutex.
type EgressPolicy struct {
	mu         sync.RWMutex
	enabled    bool
	disabledAt int64 // Unix milliseconds UTC when the kill switch went off

	localOnly bool
	allowlist map[string]bool
	denylist  map[string]bool
	consent   map[string]bool
}

// NewEgressPolicy builds a policy from egress configuration.
//
// Inputs:
//   - cfg: Loaded egress configuration. Must not be nil.
//
// Outputs:
//   - *EgressPolicy: Configured policy with defensive copies of all sets.
func NewEgressPolicy(cfg *EgressConfig) *EgressPolicy {
	p := &EgressPolicy{
		enabled:   cfg.Enabled,
		localOnly: cfg.LocalOnly,
		allowlist: copySet(cfg.Allowlist),
		denylist:  copySet(cfg.Denylist),
		consent:   copySet(cfg.ProviderConsent),
	}
	if !cfg.Enabled {
		p.disabledAt = time.Now().UnixMilli()
	}
	return p
}

// Allow checks whether a provider passes every policy gate.
//
// Description:
//
//	Resolution order:
//	  1. The local provider always passes.
//	  2. Kill switch: when off, everything else is blocked.
//	  3. Denylist: an explicit deny wins over everything below.
//	  4. Allowlist: when non-empty, the provider must be in it.
//	  5. Local-only mode: blocks all cloud providers.
//	  6. Consent: the operator must have granted it for this provider.
//
// Inputs:
//   - provider: The provider name (e.g. "openai", "ollama").
//
// Outputs:
//   - bool: True if egress is allowed.
//   - string: The gate that blocked it (kill_switch, policy, consent).
//     Empty if allowed.
//   - string: Human-readable reason. Empty if allowed.
func (p *EgressPolicy) Allow(provider string) (bool, string, string) {
	if provider == LocalProvider {
		return true, "", ""
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.enabled {
		return false, "kill_switch", fmt.Sprintf("egress kill switch activated at %s",
			time.UnixMilli(p.disabledAt).UTC().Format(time.RFC3339))
	}

	// Denylist takes precedence over the allowlist
	if p.denylist[provider] {
		return false, "policy", fmt.Sprintf("provider %q is in the denylist", provider)
	}

	if len(p.allowlist) > 0 && !p.allowlist[provider] {
		return false, "policy", fmt.Sprintf("provider %q is not in the allowlist", provider)
	}

	if p.localOnly {
		return false, "consent",
			"local-only mode is active (set BRIDGE_LOCAL_ONLY=false to allow cloud egress)"
	}

	if !p.consent[provider] {
		return false, "consent", fmt.Sprintf("provider %q requires operator consent (set BRIDGE_CONSENT_%s=true)",
			provider, strings.ToUpper(provider))
	}

	return true, "", ""
}

// SetEnabled flips the kill switch at runtime.
//
// Inputs:
//   - enabled: New state. Records the disable timestamp when turned off.
func (p *EgressPolicy) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled && !enabled {
		p.disabledAt = time.Now().UnixMilli()
	}
	p.enabled = enabled
}

// Enabled reports the current kill switch state.
func (p *EgressPolicy) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// copySet returns an independent copy of a string set. A nil input
// yields an empty map, never nil.
func copySet(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
