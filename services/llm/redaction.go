// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
)

// redactionPattern pairs a compiled regex with a replacement label.
//
// Description:
//
//	Each pattern identifies a class of sensitive string (API key, token,
//	password, personal identifier) and provides a labeled replacement so
//	the log reader knows what was redacted without seeing the value.
//
// Thread Safety: Immutable after construction.
type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// redactionPatterns is the ordered list of patterns to redact.
//
// IMPORTANT: Order matters. More specific patterns (sk-ant-api03-) must
// appear BEFORE less specific ones (sk-) so a long key is not partially
// redacted by the shorter prefix pattern.
//
// Thread Safety: Initialized once; all access is read-only.
var redactionPatterns = []redactionPattern{
	// Anthropic API key. Must precede the OpenAI pattern: both start "sk-".
	{
		Pattern:     regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:anthropic_key]",
	},
	// OpenAI API key. 20+ chars after "sk-" avoids matching strings like "sk-test".
	{
		Pattern:     regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		Replacement: "[REDACTED:openai_key]",
	},
	// Google API key.
	{
		Pattern:     regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`),
		Replacement: "[REDACTED:google_key]",
	},
	// Bearer token in Authorization header values.
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	// API key in URL query parameter.
	{
		Pattern:     regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`),
		Replacement: "key=[REDACTED]",
	},
	// Password in connection strings or config.
	{
		Pattern:     regexp.MustCompile(`password=[^\s&]{3,}`),
		Replacement: "password=[REDACTED]",
	},
	// Database connection strings with credentials.
	{
		Pattern:     regexp.MustCompile(`(postgres|mysql|mongodb)://[^\s]+@`),
		Replacement: "${1}://[REDACTED]@",
	},
	// Email addresses. Corpus values routinely carry user identifiers;
	// oracle prompts and replies must not leak them into logs verbatim.
	{
		Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		Replacement: "[REDACTED:email]",
	},
}

// SafeLogString redacts known sensitive patterns from a string before logging.
//
// Description:
//
//	Iterates a predefined set of regexes matching common API key formats,
//	bearer tokens, passwords, connection strings, and email addresses.
//	Each match is replaced with a labeled placeholder (e.g.
//	[REDACTED:openai_key]) so the log reader knows what class of value was
//	present without seeing it.
//
//	Oracle code calls this on every candidate value, prompt fragment, and
//	model reply it logs. Full values only ever appear in the request body
//	sent to the provider, never in log output.
//
// Inputs:
//   - s: The string to redact. Empty string is valid and returned as-is.
//
// Outputs:
//   - string: The input with all matched patterns replaced. Unchanged when
//     nothing matches.
//
// Limitations:
//   - Pattern-based only: values that match no known format pass through.
//   - Single-line regexes; a value spanning lines is not matched.
//
// Thread Safety: Safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}
