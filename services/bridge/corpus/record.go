// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// Record
// =============================================================================

// maxPayloadProbes bounds how many '{' positions parsePayload tries before
// giving up. Real log lines carry their JSON object within the first few
// brace positions; probing every brace of a pathological line is O(n²).
const maxPayloadProbes = 8

// Field is one named scalar from a record's structured payload.
type Field struct {
	// Name is the payload field name as it appears in the JSON object.
	Name string

	// Value is the field value in canonical string form: strings as-is,
	// numbers in their original decimal notation, bools as "true"/"false",
	// JSON null as "null".
	Value string
}

// Record is one corpus entry: a raw text line with an embedded structured
// payload.
//
// Description:
//
//	The payload is the first well-formed JSON object found in the raw text;
//	a line that is entirely a JSON object is the degenerate case. Only
//	top-level scalar members become payload fields; nested objects and
//	arrays are ignored. The payload is parsed on first access and the
//	result is cached.
//
//	Ancillary record metadata (Source, Line) is never part of the payload
//	and never participates in field extraction.
//
// Thread Safety: Safe for concurrent use. Records must not be mutated
// after being added to a Store.
type Record struct {
	// Raw is the full record text.
	Raw string

	// Source identifies where the record was loaded from (file path,
	// object name, or a caller-chosen label).
	Source string

	// Line is the 1-based line number within Source, or 0 if unknown.
	Line int

	// rawLower backs case-insensitive substring scans. Scans are the hot
	// path (every hop rescans its view), so the lowering happens once.
	rawLower string

	payloadOnce sync.Once
	fields      []Field
	payloadErr  error
}

// NewRecord creates a Record from raw text.
func NewRecord(raw, source string, line int) *Record {
	return &Record{
		Raw:      raw,
		Source:   source,
		Line:     line,
		rawLower: strings.ToLower(raw),
	}
}

// ContainsFold reports whether the record's raw text contains the needle,
// case-insensitively. The needle must already be lowercased.
func (r *Record) ContainsFold(needleLower string) bool {
	return strings.Contains(r.rawLower, needleLower)
}

// Payload returns the record's structured payload fields, sorted by field
// name.
//
// Description:
//
//	Parses the embedded JSON object on first call and caches the result.
//	The sorted ordering makes every downstream iteration deterministic
//	regardless of map ordering in the JSON decoder.
//
// Outputs:
//
//	[]Field - Sorted payload fields. Nil when the record has no
//	          well-formed payload.
//	error - Non-nil when no payload could be parsed. Callers that treat
//	        unparsable payloads as skippable should count and continue.
//
// Thread Safety: Safe for concurrent use.
func (r *Record) Payload() ([]Field, error) {
	r.payloadOnce.Do(func() {
		r.fields, r.payloadErr = parsePayload(r.Raw)
	})
	return r.fields, r.payloadErr
}

// parsePayload locates and decodes the first well-formed JSON object in raw.
func parsePayload(raw string) ([]Field, error) {
	probes := 0
	for i := strings.IndexByte(raw, '{'); i >= 0 && probes < maxPayloadProbes; i = nextBrace(raw, i) {
		probes++

		dec := json.NewDecoder(strings.NewReader(raw[i:]))
		dec.UseNumber()

		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			continue
		}

		return scalarFields(obj), nil
	}

	return nil, fmt.Errorf("no well-formed JSON object in record")
}

// nextBrace returns the index of the next '{' after position i, or -1.
func nextBrace(raw string, i int) int {
	rest := strings.IndexByte(raw[i+1:], '{')
	if rest < 0 {
		return -1
	}
	return i + 1 + rest
}

// scalarFields converts the top-level scalar members of a decoded JSON
// object into sorted Fields. Nested objects and arrays are dropped.
func scalarFields(obj map[string]any) []Field {
	fields := make([]Field, 0, len(obj))
	for name, value := range obj {
		switch v := value.(type) {
		case string:
			fields = append(fields, Field{Name: name, Value: v})
		case json.Number:
			fields = append(fields, Field{Name: name, Value: v.String()})
		case bool:
			fields = append(fields, Field{Name: name, Value: strconv.FormatBool(v)})
		case nil:
			fields = append(fields, Field{Name: name, Value: "null"})
		default:
			// Nested object or array: not a scalar, skip.
		}
	}

	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Name < fields[j].Name
	})
	return fields
}
