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
	"os"
	"strings"

	"github.com/AleutianAI/AleutianBridge/services/bridge"
	"github.com/AleutianAI/AleutianBridge/services/bridge/engine"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// resolveEventMsg carries one engine progress event into the UI loop.
type resolveEventMsg engine.Event

// resolveDoneMsg carries the terminal outcome of the search.
type resolveDoneMsg struct {
	resp datatypes.ResolveResponse
	err  error
}

// eventLogTail is how many recent event lines the live view keeps on screen.
const eventLogTail = 12

// resolveModel is the bubbletea model for a running search: a header, a
// spinner with the current state, and a scrolling tail of progress events.
type resolveModel struct {
	spin      spinner.Model
	header    string
	state     engine.State
	iteration int
	elapsedMs int64
	lines     []string
	msgs      chan tea.Msg
	cancel    context.CancelFunc
	cancelled bool
	done      bool
	resp      datatypes.ResolveResponse
	err       error
}

func newResolveModel(header string, cancel context.CancelFunc, msgs chan tea.Msg) resolveModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Subtitle
	return resolveModel{
		spin:   sp,
		header: header,
		state:  engine.StateInit,
		msgs:   msgs,
		cancel: cancel,
	}
}

func (m resolveModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForSearchMsg(m.msgs))
}

// waitForSearchMsg blocks for the next search message. Re-armed after every
// delivery so the channel always has a reader until the done message lands.
func waitForSearchMsg(msgs chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-msgs }
}

// Update handles input and search events for the bubbletea model.
func (m resolveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			// Cancel the search and wait for its terminal message rather
			// than abandoning the goroutine mid-flight.
			if !m.cancelled {
				m.cancelled = true
				m.cancel()
			}
		}
		return m, nil

	case resolveEventMsg:
		ev := engine.Event(msg)
		if ev.State != "" {
			m.state = ev.State
		}
		if ev.Iteration > 0 {
			m.iteration = ev.Iteration
		}
		m.elapsedMs = ev.ElapsedMs
		m.lines = append(m.lines, renderEventLine(ev))
		if len(m.lines) > eventLogTail {
			m.lines = m.lines[len(m.lines)-eventLogTail:]
		}
		return m, waitForSearchMsg(m.msgs)

	case resolveDoneMsg:
		m.done = true
		m.resp = msg.resp
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the live search state.
func (m resolveModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(styles.Title.Render(m.header) + "\n")
	status := fmt.Sprintf("iteration %d · %dms", m.iteration, m.elapsedMs)
	if m.cancelled {
		status = "cancelling…"
	}
	b.WriteString(fmt.Sprintf("%s %s %s\n", m.spin.View(),
		styles.Subtitle.Render(string(m.state)), styles.Muted.Render(status)))
	for _, line := range m.lines {
		b.WriteString(styles.Muted.Render("  "+line) + "\n")
	}
	return b.String()
}

// runResolveTUI executes the search under a live terminal view fed by
// progress events. The view writes to stderr so stdout stays clean for the
// final result.
func runResolveTUI(ctx context.Context, svc *bridge.Service, req datatypes.ResolveRequest) (datatypes.ResolveResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan tea.Msg, 64)
	go func() {
		resp, err := svc.Resolve(ctx, req, func(ev engine.Event) {
			// Never stall the search on a busy UI; a dropped event only
			// costs a display line.
			select {
			case msgs <- resolveEventMsg(ev):
			default:
			}
		})
		msgs <- resolveDoneMsg{resp: resp, err: err}
	}()

	header := fmt.Sprintf("%s → %s", truncateValue(req.SourceValue), req.TargetType)
	p := tea.NewProgram(newResolveModel(header, cancel, msgs), tea.WithOutput(os.Stderr))
	final, err := p.Run()
	if err != nil {
		return datatypes.ResolveResponse{}, err
	}

	m, ok := final.(resolveModel)
	if !ok {
		return datatypes.ResolveResponse{}, fmt.Errorf("unexpected model type from bubbletea: %T", final)
	}
	if m.err != nil {
		return datatypes.ResolveResponse{}, m.err
	}
	return m.resp, nil
}

// runResolvePlain executes the search with plain event lines on stderr.
// quiet suppresses the event stream for machine-readable runs.
func runResolvePlain(ctx context.Context, svc *bridge.Service, req datatypes.ResolveRequest, quiet bool) (datatypes.ResolveResponse, error) {
	var progress engine.ProgressFunc
	if !quiet {
		progress = func(ev engine.Event) {
			fmt.Fprintln(os.Stderr, renderEventLine(ev))
		}
	}
	return svc.Resolve(ctx, req, progress)
}
