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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianBridge/services/bridge/engine"
	"github.com/AleutianAI/AleutianBridge/services/datatypes"
	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	colorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	colorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	colorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	colorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders
	colorWarning     = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	colorError       = lipgloss.Color("#E74C3C") // Red for errors
)

// styles provides pre-configured lipgloss styles for bridgectl output.
var styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(colorTealPrimary),
	Muted:     lipgloss.NewStyle().Foreground(colorSlate),
	Success:   lipgloss.NewStyle().Foreground(colorTealBright),
	Warning:   lipgloss.NewStyle().Foreground(colorWarning),
	Error:     lipgloss.NewStyle().Foreground(colorError),
	Highlight: lipgloss.NewStyle().Foreground(colorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorTealDeep).
		Padding(0, 1),
}

// maxDisplayValue bounds identifier values in terminal output. Full values
// stay available through --json.
const maxDisplayValue = 48

// truncateValue shortens long identifier values for display.
func truncateValue(v string) string {
	runes := []rune(v)
	if len(runes) <= maxDisplayValue {
		return v
	}
	return string(runes[:maxDisplayValue-1]) + "…"
}

// renderEventLine formats one search progress event as a plain text line.
// Used verbatim in --plain mode and muted inside the live view.
func renderEventLine(ev engine.Event) string {
	switch ev.Kind {
	case engine.EventState:
		return fmt.Sprintf("[%5dms] state %s", ev.ElapsedMs, ev.State)
	case engine.EventIteration:
		return fmt.Sprintf("[%5dms] iteration %d", ev.ElapsedMs, ev.Iteration)
	case engine.EventCandidate:
		if ev.Candidate == nil {
			return fmt.Sprintf("[%5dms] searching", ev.ElapsedMs)
		}
		return fmt.Sprintf("[%5dms] searching %s:%s (score %d)",
			ev.ElapsedMs, ev.Candidate.EntityType, truncateValue(ev.Candidate.Value), ev.Candidate.Score)
	case engine.EventStaged:
		return fmt.Sprintf("[%5dms] staged %d bridge candidates", ev.ElapsedMs, ev.Staged)
	case engine.EventOracle:
		return fmt.Sprintf("[%5dms] oracle: %s", ev.ElapsedMs, ev.Message)
	case engine.EventResult:
		return fmt.Sprintf("[%5dms] %s", ev.ElapsedMs, ev.Message)
	}
	return fmt.Sprintf("[%5dms] %s", ev.ElapsedMs, ev.Kind)
}

// renderPathPlain formats the hop chain without styling:
//
//	alice@example.com (username) → sess-9f2e41a7 (session_id) → acct-00173 (account_id)
func renderPathPlain(path []datatypes.PathHop) string {
	parts := make([]string, 0, len(path))
	for _, hop := range path {
		parts = append(parts, fmt.Sprintf("%s (%s)", truncateValue(hop.Value), hop.EntityType))
	}
	return strings.Join(parts, " → ")
}

// renderPathStyled formats the hop chain with highlighted values and muted
// entity types.
func renderPathStyled(path []datatypes.PathHop) string {
	parts := make([]string, 0, len(path))
	for _, hop := range path {
		parts = append(parts,
			styles.Highlight.Render(truncateValue(hop.Value))+
				styles.Muted.Render(" ("+hop.EntityType+")"))
	}
	return strings.Join(parts, styles.Muted.Render(" → "))
}

// confidenceLabel buckets a confidence score into the band shown to users.
func confidenceLabel(c float64) string {
	switch {
	case c >= 0.8:
		return "high"
	case c >= 0.5:
		return "medium"
	case c > 0:
		return "low"
	default:
		return "none"
	}
}

// renderConfidence formats a confidence score with band-appropriate color.
func renderConfidence(c float64) string {
	text := fmt.Sprintf("%.2f (%s)", c, confidenceLabel(c))
	switch {
	case c >= 0.8:
		return styles.Success.Render(text)
	case c >= 0.5:
		return styles.Warning.Render(text)
	default:
		return styles.Muted.Render(text)
	}
}

// summaryLine formats the budget accounting common to every outcome.
func summaryLine(resp datatypes.ResolveResponse) string {
	return fmt.Sprintf("%d iterations · %d searches · %d records scanned · %dms",
		resp.Iterations, resp.TotalSearches, resp.RecordsScanned, resp.ElapsedMs)
}

// printResultPlain writes the outcome as unstyled text for pipes and CI.
func printResultPlain(resp datatypes.ResolveResponse) {
	if resp.Found {
		fmt.Printf("FOUND %s\n", strings.Join(resp.TargetValues, ", "))
		fmt.Printf("path: %s\n", renderPathPlain(resp.Path))
		fmt.Printf("confidence: %.2f (%s)\n", resp.Confidence, confidenceLabel(resp.Confidence))
	} else {
		fmt.Printf("%s: no %s reachable from %s\n", resp.State, targetType, truncateValue(fromValue))
		for i, s := range resp.Suggestions {
			if i == 0 {
				fmt.Println("near misses:")
			}
			fmt.Printf("  %d. %s (%s, score %.2f, %s)\n", i+1, truncateValue(s.Value), s.EntityType, s.Score, s.Source)
		}
	}
	fmt.Println(summaryLine(resp))
}

// printResultStyled writes the outcome with lipgloss styling for terminals.
func printResultStyled(resp datatypes.ResolveResponse) {
	var b strings.Builder

	if resp.Found {
		b.WriteString(styles.Success.Render("✓ ") + styles.Title.Render("Resolved "+targetType))
		b.WriteString("\n\n")
		for _, v := range resp.TargetValues {
			b.WriteString("  " + styles.Highlight.Render(v) + "\n")
		}
		b.WriteString("\n")
		b.WriteString("  " + renderPathStyled(resp.Path) + "\n\n")
		b.WriteString("  Confidence: " + renderConfidence(resp.Confidence) + "\n")
	} else {
		icon := styles.Warning.Render("⚠ ")
		if resp.State == string(engine.StateTimedOut) {
			icon = styles.Error.Render("✗ ")
		}
		b.WriteString(icon + styles.Title.Render(resp.State))
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("  No %s reachable from %s within budget.\n",
			styles.Subtitle.Render(targetType), styles.Highlight.Render(truncateValue(fromValue))))
		if len(resp.Suggestions) > 0 {
			b.WriteString("\n  " + styles.Subtitle.Render("Near misses you might pivot through:") + "\n")
			for i, s := range resp.Suggestions {
				b.WriteString(fmt.Sprintf("  %d. %s %s\n", i+1,
					styles.Highlight.Render(truncateValue(s.Value)),
					styles.Muted.Render(fmt.Sprintf("(%s, score %.2f, %s)", s.EntityType, s.Score, s.Source))))
			}
		}
	}
	b.WriteString("  " + styles.Muted.Render(summaryLine(resp)))

	fmt.Println(styles.Box.Render(b.String()))
}
