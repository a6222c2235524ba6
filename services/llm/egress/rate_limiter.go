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
	"sync"
	"time"
)

// rateWindow is the sliding window over which per-provider call limits
// are enforced.
const rateWindow = time.Minute

// RateLimiter enforces per-provider sliding-window call limits.
//
// Description:
//
//	Tracks the timestamps of recent calls per provider and denies a call
//	when the window already holds the configured limit. The window
//	slides: timestamps older than one minute are pruned on each check.
//	The local provider is never limited. Providers with no configured
//	limit (or a limit <= 0) are never limited either.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	windows map[string][]time.Time
}

// NewRateLimiter creates a rate limiter from per-provider limits.
//
// Inputs:
//   - limitsPerMin: Calls allowed per minute per provider. The map is
//     copied; later mutation by the caller has no effect.
//
// Outputs:
//   - *RateLimiter: Configured limiter.
func NewRateLimiter(limitsPerMin map[string]int) *RateLimiter {
	limits := make(map[string]int, len(limitsPerMin))
	for k, v := range limitsPerMin {
		limits[k] = v
	}
	return &RateLimiter{
		limits:  limits,
		windows: make(map[string][]time.Time),
	}
}

// Allow checks whether a call to the provider fits the current window,
// recording it if so.
//
// Inputs:
//   - provider: The provider name.
//
// Outputs:
//   - bool: True if the call is allowed.
//   - time.Duration: How long to wait before retrying when denied.
//     Zero when allowed.
func (r *RateLimiter) Allow(provider string) (bool, time.Duration) {
	if provider == LocalProvider {
		return true, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limit, ok := r.limits[provider]
	if !ok || limit <= 0 {
		return true, 0
	}

	now := time.Now()
	window := r.windows[provider]

	// Slide the window: drop timestamps older than rateWindow.
	kept := window[:0]
	for _, ts := range window {
		if now.Sub(ts) < rateWindow {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		r.windows[provider] = kept
		retryAfter := kept[0].Add(rateWindow).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	r.windows[provider] = append(kept, now)
	return true, 0
}
