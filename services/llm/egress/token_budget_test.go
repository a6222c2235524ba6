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
	"sync"
	"testing"
	"time"
)

func TestTokenBudget_UnlimitedWhenZero(t *testing.T) {
	budget := NewTokenBudget(0)

	ok, remaining := budget.CanSpend(1_000_000)
	if !ok {
		t.Error("zero limit should mean unlimited")
	}
	if remaining != -1 {
		t.Errorf("remaining = %d, want -1 for unlimited", remaining)
	}
	if budget.Remaining() != -1 {
		t.Errorf("Remaining() = %d, want -1 for unlimited", budget.Remaining())
	}
}

func TestTokenBudget_WithinLimit(t *testing.T) {
	budget := NewTokenBudget(1000)

	ok, remaining := budget.CanSpend(500)
	if !ok {
		t.Error("500 of 1000 should be allowed")
	}
	if remaining != 1000 {
		t.Errorf("remaining = %d, want 1000 before anything is recorded", remaining)
	}
}

func TestTokenBudget_RecordDepletes(t *testing.T) {
	budget := NewTokenBudget(1000)

	budget.Record(700)

	if got := budget.Remaining(); got != 300 {
		t.Errorf("Remaining() = %d, want 300", got)
	}
	if ok, _ := budget.CanSpend(300); !ok {
		t.Error("exactly the remaining amount should be allowed")
	}
	if ok, _ := budget.CanSpend(301); ok {
		t.Error("one over the remaining amount should be denied")
	}
}

func TestTokenBudget_ExhaustedClampsToZero(t *testing.T) {
	budget := NewTokenBudget(100)

	budget.Record(250)

	if got := budget.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0 when overspent", got)
	}
	ok, remaining := budget.CanSpend(1)
	if ok {
		t.Error("overspent budget should deny everything")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
}

func TestTokenBudget_RecordIgnoredWhenUnlimited(t *testing.T) {
	budget := NewTokenBudget(0)

	budget.Record(5000)

	if ok, _ := budget.CanSpend(1_000_000); !ok {
		t.Error("unlimited budget should never deplete")
	}
}

func TestTokenBudget_Summary(t *testing.T) {
	limited := NewTokenBudget(1000)
	limited.Record(400)
	if s := limited.Summary(); !strings.Contains(s, "400/1000") || !strings.Contains(s, "600 remaining") {
		t.Errorf("unexpected summary: %q", s)
	}

	unlimited := NewTokenBudget(0)
	if s := unlimited.Summary(); !strings.Contains(s, "no daily limit") {
		t.Errorf("unexpected summary: %q", s)
	}
}

func TestTokenBudget_ConcurrentRecords(t *testing.T) {
	budget := NewTokenBudget(100_000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				budget.Record(10)
			}
		}()
	}
	wg.Wait()

	if got := budget.Remaining(); got != 90_000 {
		t.Errorf("Remaining() = %d, want 90000 after 10x100x10 tokens", got)
	}
}

func TestProviderMetrics_RecordsCallsAndErrors(t *testing.T) {
	m := NewProviderMetrics("openai")

	m.RecordCall(100, 50, 200*time.Millisecond)
	m.RecordCall(200, 80, 100*time.Millisecond)
	m.RecordError()

	if m.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", m.Calls())
	}
	if m.totalErrors.Load() != 1 {
		t.Errorf("errors = %d, want 1", m.totalErrors.Load())
	}
	if m.inputTokens.Load() != 300 {
		t.Errorf("input tokens = %d, want 300", m.inputTokens.Load())
	}
	if m.outputTokens.Load() != 130 {
		t.Errorf("output tokens = %d, want 130", m.outputTokens.Load())
	}
	if m.lastCall.Load() == 0 {
		t.Error("last call timestamp should be set")
	}
}
