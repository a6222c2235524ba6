// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"time"

	"github.com/AleutianAI/AleutianBridge/services/bridge/rank"
)

// =============================================================================
// Progress Events
// =============================================================================

// EventKind names the kind of progress event a resolve call emits.
type EventKind string

const (
	// EventState marks a state machine transition.
	EventState EventKind = "state"

	// EventIteration marks the start of an expansion iteration.
	EventIteration EventKind = "iteration"

	// EventCandidate marks a bridge candidate being searched.
	EventCandidate EventKind = "candidate"

	// EventStaged reports how many new candidates an expansion staged.
	EventStaged EventKind = "staged"

	// EventOracle reports a relevance oracle consultation outcome.
	EventOracle EventKind = "oracle"

	// EventResult marks the final result of the search.
	EventResult EventKind = "result"
)

// Event is a single progress notification from a running resolve call.
// Fields other than Kind and SearchID are populated per kind.
type Event struct {
	Kind      EventKind       `json:"kind"`
	SearchID  string          `json:"search_id"`
	State     State           `json:"state,omitempty"`
	Iteration int             `json:"iteration,omitempty"`
	Candidate *rank.Candidate `json:"candidate,omitempty"`
	Staged    int             `json:"staged,omitempty"`
	Message   string          `json:"message,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// ProgressFunc receives progress events during a resolve call. Callbacks
// run synchronously on the search goroutine; a slow callback slows the
// search but can never change its outcome.
type ProgressFunc func(Event)

// emitter stamps events with the search identity before forwarding them.
// A nil ProgressFunc makes every emit a no-op.
type emitter struct {
	fn       ProgressFunc
	searchID string
	start    time.Time
}

func newEmitter(fn ProgressFunc, searchID string) *emitter {
	return &emitter{fn: fn, searchID: searchID, start: time.Now()}
}

func (e *emitter) emit(ev Event) {
	if e.fn == nil {
		return
	}
	ev.SearchID = e.searchID
	ev.ElapsedMs = time.Since(e.start).Milliseconds()
	e.fn(ev)
}

func (e *emitter) state(s State) {
	e.emit(Event{Kind: EventState, State: s})
}

func (e *emitter) iteration(n int) {
	e.emit(Event{Kind: EventIteration, Iteration: n})
}

func (e *emitter) candidate(iteration int, c rank.Candidate) {
	e.emit(Event{Kind: EventCandidate, Iteration: iteration, Candidate: &c})
}

func (e *emitter) staged(iteration, count int) {
	e.emit(Event{Kind: EventStaged, Iteration: iteration, Staged: count})
}

func (e *emitter) oracle(msg string) {
	e.emit(Event{Kind: EventOracle, Message: msg})
}

func (e *emitter) result(s State, msg string) {
	e.emit(Event{Kind: EventResult, State: s, Message: msg})
}
