// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Catalog
// =============================================================================

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// =============================================================================
// OTel Tracer
// =============================================================================

var catalogTracer = otel.Tracer("aleutian.bridge.catalog")

// =============================================================================
// Limits and Errors
// =============================================================================

const (
	// MaxYAMLFileSize is the maximum accepted catalog file size in bytes.
	// Catalogs are hand-maintained; anything beyond 1MB is a mistake.
	MaxYAMLFileSize = 1 << 20

	// SchemaMajor is the only catalog schema major version this build reads.
	SchemaMajor = "v1"
)

// ErrConfig marks a catalog that failed validation. Configuration problems
// are fatal at load time, before any query runs.
var ErrConfig = errors.New("invalid catalog configuration")

// =============================================================================
// Catalog Types
// =============================================================================

// EntitySpec describes one entity type: which payload field names carry its
// values, which types it commonly co-occurs with, and its ranking priority.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type EntitySpec struct {
	// Patterns are case-insensitive field-name match rules. '*' is a
	// multi-character wildcard; a pattern without '*' is an exact match.
	Patterns []string `yaml:"patterns"`

	// RelatedTypes lists entity types that commonly co-occur with this one.
	// Every entry must name a type defined in the catalog.
	RelatedTypes []string `yaml:"related_types"`

	// Priority seeds the ranker's base score for candidates of this type.
	Priority int `yaml:"priority"`
}

// Catalog is the compiled field pattern catalog.
//
// Description:
//
//	Holds the entity type definitions plus pre-compiled pattern matchers and
//	a deterministic type ordering. All lookups on a loaded Catalog are
//	read-only.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type Catalog struct {
	// SchemaVersion is the catalog format version (semver, major v1).
	SchemaVersion string `yaml:"schema_version"`

	// Aliases maps alternate type names to canonical entity type names.
	Aliases map[string]string `yaml:"aliases"`

	// Entities maps entity type name to its specification.
	Entities map[string]EntitySpec `yaml:"entities"`

	// order holds entity type names sorted lexicographically. All catalog
	// iteration uses this order so results never depend on map ordering.
	order []string

	// compiled holds the pre-compiled field-name matchers per entity type.
	compiled map[string][]fieldPattern
}

// =============================================================================
// Compiled Field Patterns
// =============================================================================

// matchKind selects the comparison strategy for a compiled pattern.
type matchKind int

const (
	matchExact matchKind = iota
	matchPrefix
	matchSuffix
	matchContains
	matchRegex
)

// fieldPattern holds a lowercased pattern alongside its match strategy.
// Patterns with a single leading/trailing '*' use fast string comparisons;
// anything with an interior '*' falls back to a compiled regex.
type fieldPattern struct {
	kind matchKind
	text string
	re   *regexp.Regexp
}

// compileFieldPattern turns one catalog pattern into a fieldPattern.
func compileFieldPattern(pattern string) (fieldPattern, error) {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" || p == "*" {
		return fieldPattern{}, fmt.Errorf("pattern must not be empty or bare wildcard")
	}

	leading := strings.HasPrefix(p, "*")
	trailing := strings.HasSuffix(p, "*")
	inner := strings.Trim(p, "*")

	switch {
	case !strings.Contains(inner, "*") && leading && trailing:
		return fieldPattern{kind: matchContains, text: inner}, nil
	case !strings.Contains(inner, "*") && leading:
		return fieldPattern{kind: matchSuffix, text: inner}, nil
	case !strings.Contains(inner, "*") && trailing:
		return fieldPattern{kind: matchPrefix, text: inner}, nil
	case !strings.Contains(p, "*"):
		return fieldPattern{kind: matchExact, text: p}, nil
	default:
		// Interior wildcard: translate to an anchored regex.
		parts := strings.Split(p, "*")
		for i, part := range parts {
			parts[i] = regexp.QuoteMeta(part)
		}
		re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
		if err != nil {
			return fieldPattern{}, fmt.Errorf("compiling pattern %q: %w", pattern, err)
		}
		return fieldPattern{kind: matchRegex, text: p, re: re}, nil
	}
}

// matches reports whether the compiled pattern matches a lowercased field name.
func (fp fieldPattern) matches(fieldLower string) bool {
	switch fp.kind {
	case matchExact:
		return fieldLower == fp.text
	case matchPrefix:
		return strings.HasPrefix(fieldLower, fp.text)
	case matchSuffix:
		return strings.HasSuffix(fieldLower, fp.text)
	case matchContains:
		return strings.Contains(fieldLower, fp.text)
	case matchRegex:
		return fp.re.MatchString(fieldLower)
	default:
		return false
	}
}

// =============================================================================
// Singleton Catalog
// =============================================================================

var (
	catalogMu      sync.RWMutex
	catalogOnce    sync.Once
	cachedCatalog  *Catalog
	catalogLoadErr error
)

// Get returns the cached default catalog.
//
// Description:
//
//	Loads the embedded default catalog on first call and caches it for
//	subsequent calls. Uses sync.Once for thread-safe initialization.
//	Deployments with a custom catalog file should use LoadFile instead and
//	hold their own reference (see Watcher for hot reload).
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*Catalog - The loaded catalog. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func Get(ctx context.Context) (*Catalog, error) {
	if ctx == nil {
		return nil, fmt.Errorf("catalog.Get: ctx must not be nil")
	}

	catalogMu.RLock()
	if cachedCatalog != nil || catalogLoadErr != nil {
		cat, err := cachedCatalog, catalogLoadErr
		catalogMu.RUnlock()
		return cat, err
	}
	catalogMu.RUnlock()

	catalogMu.Lock()
	defer catalogMu.Unlock()

	if cachedCatalog != nil || catalogLoadErr != nil {
		return cachedCatalog, catalogLoadErr
	}

	catalogOnce.Do(func() {
		cachedCatalog, catalogLoadErr = Load(ctx, defaultCatalogYAML)
	})

	return cachedCatalog, catalogLoadErr
}

// Reset clears the cached catalog for testing.
//
// Thread Safety: Safe for concurrent use.
func Reset() {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	cachedCatalog = nil
	catalogLoadErr = nil
	catalogOnce = sync.Once{}
}

// =============================================================================
// Loading
// =============================================================================

// Load parses, validates, and compiles a catalog from YAML bytes.
//
// Description:
//
//	Parses the YAML, checks the schema version, validates every entity
//	definition (non-empty patterns, non-negative priority, related_types
//	referencing defined types, alias targets existing), and pre-compiles
//	the field-name matchers.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*Catalog - The compiled catalog.
//	error - Wraps ErrConfig if parsing or validation fails.
func Load(ctx context.Context, data []byte) (*Catalog, error) {
	_, span := catalogTracer.Start(ctx, "catalog.Load")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty YAML data", ErrConfig)
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: YAML data exceeds maximum size (%d > %d)", ErrConfig, len(data), MaxYAMLFileSize)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("%w: parsing YAML: %v", ErrConfig, err)
	}

	if cat.Aliases == nil {
		cat.Aliases = make(map[string]string)
	}

	if err := validateCatalog(&cat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if err := cat.compile(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	span.SetAttributes(
		attribute.String("schema_version", cat.SchemaVersion),
		attribute.Int("entity_types", len(cat.Entities)),
		attribute.Int("aliases", len(cat.Aliases)),
	)

	slog.Info("field pattern catalog loaded",
		slog.String("schema_version", cat.SchemaVersion),
		slog.Int("entity_types", len(cat.Entities)),
		slog.Int("aliases", len(cat.Aliases)),
	)

	return &cat, nil
}

// LoadFile reads a catalog YAML file and merges it over the embedded default.
//
// Description:
//
//	Entity types defined in the file replace same-named defaults; new types
//	are added. Aliases merge the same way. The schema version of the file
//	governs the merged result.
//
// Inputs:
//
//	ctx - Context for tracing.
//	path - Path to the external catalog YAML file.
//
// Outputs:
//
//	*Catalog - The merged, compiled catalog.
//	error - Wraps ErrConfig on read, parse, or validation failure.
func LoadFile(ctx context.Context, path string) (*Catalog, error) {
	ctx, span := catalogTracer.Start(ctx, "catalog.LoadFile")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}

	var overlay Catalog
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: %s exceeds maximum size (%d > %d)", ErrConfig, path, len(data), MaxYAMLFileSize)
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}

	var base Catalog
	if err := yaml.Unmarshal(defaultCatalogYAML, &base); err != nil {
		return nil, fmt.Errorf("%w: parsing embedded default: %v", ErrConfig, err)
	}

	merged := Catalog{
		SchemaVersion: overlay.SchemaVersion,
		Aliases:       base.Aliases,
		Entities:      base.Entities,
	}
	if merged.SchemaVersion == "" {
		merged.SchemaVersion = base.SchemaVersion
	}
	if merged.Aliases == nil {
		merged.Aliases = make(map[string]string)
	}
	for alias, target := range overlay.Aliases {
		merged.Aliases[alias] = target
	}
	if merged.Entities == nil {
		merged.Entities = make(map[string]EntitySpec)
	}
	for name, spec := range overlay.Entities {
		merged.Entities[name] = spec
	}

	if err := validateCatalog(&merged); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}
	if err := merged.compile(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
	}

	slog.Info("external catalog merged over default",
		slog.String("path", path),
		slog.Int("entity_types", len(merged.Entities)),
	)

	return &merged, nil
}

// validateCatalog checks the catalog definition for consistency.
func validateCatalog(cat *Catalog) error {
	if len(cat.Entities) == 0 {
		return fmt.Errorf("catalog defines no entity types")
	}

	if !semver.IsValid(cat.SchemaVersion) {
		return fmt.Errorf("schema_version %q is not a valid semver", cat.SchemaVersion)
	}
	if semver.Major(cat.SchemaVersion) != SchemaMajor {
		return fmt.Errorf("schema_version %q: unsupported major version (want %s)", cat.SchemaVersion, SchemaMajor)
	}

	// Sort names so validation errors are deterministic.
	names := make([]string, 0, len(cat.Entities))
	for name := range cat.Entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		spec := cat.Entities[name]
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("entity[%d]: type name must not be empty", i)
		}
		if len(spec.Patterns) == 0 {
			return fmt.Errorf("entity[%d] (%s): patterns must not be empty", i, name)
		}
		if spec.Priority < 0 {
			return fmt.Errorf("entity[%d] (%s): priority must not be negative, got %d", i, name, spec.Priority)
		}
		for _, rel := range spec.RelatedTypes {
			if _, ok := cat.Entities[rel]; !ok {
				return fmt.Errorf("entity[%d] (%s): related_type %q is not a defined entity type", i, name, rel)
			}
		}
	}

	aliases := make([]string, 0, len(cat.Aliases))
	for alias := range cat.Aliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for i, alias := range aliases {
		target := cat.Aliases[alias]
		if _, ok := cat.Entities[target]; !ok {
			return fmt.Errorf("alias[%d] (%s): target %q is not a defined entity type", i, alias, target)
		}
		if _, clash := cat.Entities[alias]; clash {
			return fmt.Errorf("alias[%d] (%s): shadows a defined entity type", i, alias)
		}
	}

	return nil
}

// compile builds the deterministic type ordering and the field-name matchers.
func (c *Catalog) compile() error {
	c.order = make([]string, 0, len(c.Entities))
	for name := range c.Entities {
		c.order = append(c.order, name)
	}
	sort.Strings(c.order)

	c.compiled = make(map[string][]fieldPattern, len(c.Entities))
	for _, name := range c.order {
		spec := c.Entities[name]
		patterns := make([]fieldPattern, 0, len(spec.Patterns))
		for j, raw := range spec.Patterns {
			fp, err := compileFieldPattern(raw)
			if err != nil {
				return fmt.Errorf("entity %s pattern[%d]: %v", name, j, err)
			}
			patterns = append(patterns, fp)
		}
		c.compiled[name] = patterns
	}

	return nil
}

// =============================================================================
// Lookups
// =============================================================================

// Types returns all entity type names in the catalog's deterministic order.
//
// Thread Safety: Safe for concurrent use. The returned slice is a copy.
func (c *Catalog) Types() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Has reports whether the catalog defines the given entity type.
// Aliases are not resolved; use Resolve first for user-supplied names.
func (c *Catalog) Has(entityType string) bool {
	_, ok := c.Entities[entityType]
	return ok
}

// Spec returns the specification for an entity type.
func (c *Catalog) Spec(entityType string) (EntitySpec, bool) {
	spec, ok := c.Entities[entityType]
	return spec, ok
}

// Priority returns the ranking priority for an entity type, or 0 for
// types the catalog does not define.
func (c *Catalog) Priority(entityType string) int {
	return c.Entities[entityType].Priority
}

// Resolve maps a possibly-aliased type name to its canonical entity type.
//
// Description:
//
//	Lowercases the input, follows one level of alias indirection, and
//	reports whether the result is a defined entity type. "login" resolves
//	to "username"; unknown names return ok=false.
//
// Inputs:
//
//	name - User-supplied entity type name or alias.
//
// Outputs:
//
//	string - The canonical entity type name (meaningful only when ok).
//	bool - True if the name resolves to a defined type.
func (c *Catalog) Resolve(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if target, ok := c.Aliases[n]; ok {
		n = target
	}
	_, ok := c.Entities[n]
	return n, ok
}

// MatchingTypes returns the entity types whose patterns match a payload
// field name, in the catalog's deterministic order.
//
// Description:
//
//	A field name can match more than one type ("client_ip" matches both an
//	exact "client_ip" pattern and a "*_ip" suffix pattern on the same type,
//	and could match patterns on different types). The extractor attributes
//	the field's value to every matching type.
//
// Inputs:
//
//	fieldName - Payload field name (any case).
//
// Outputs:
//
//	[]string - Matching entity type names. Nil when nothing matches.
//
// Thread Safety: Safe for concurrent use.
func (c *Catalog) MatchingTypes(fieldName string) []string {
	fieldLower := strings.ToLower(fieldName)

	var matched []string
	for _, name := range c.order {
		for _, fp := range c.compiled[name] {
			if fp.matches(fieldLower) {
				matched = append(matched, name)
				break
			}
		}
	}
	return matched
}

// Related returns the related_types list for an entity type, or nil.
func (c *Catalog) Related(entityType string) []string {
	spec, ok := c.Entities[entityType]
	if !ok || len(spec.RelatedTypes) == 0 {
		return nil
	}
	out := make([]string, len(spec.RelatedTypes))
	copy(out, spec.RelatedTypes)
	return out
}
