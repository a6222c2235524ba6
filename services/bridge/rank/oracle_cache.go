// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

// =============================================================================
// VerdictCacheStore — Oracle Verdict Persistence
// =============================================================================
//
// An oracle verdict costs one model round-trip (hundreds of milliseconds on a
// local model, plus money on a cloud one) but is a pure function of the
// candidate window, the target type, the hint, and the model. Searches over a
// stable corpus produce the same windows again and again, so verdicts are
// cached in BadgerDB between calls and between service restarts.
//
// Design choices:
//
//	1. Verdict key: SHA256(sorted candidates + target type + hint + model).
//	   Candidates are sorted before hashing so discovery-order jitter between
//	   otherwise identical windows still hits the same entry. Any change to
//	   the window, the target, the hint, or the model produces a different
//	   hash; no explicit invalidation API is needed.
//
//	2. BadgerDB native TTL: 7-day expiry is enforced by BadgerDB's GC, not by
//	   application code. Expired keys return ErrKeyNotFound, which the store
//	   treats as a cache miss.
//
//	3. Empty verdicts are cached too: "none of these candidates is preferred"
//	   is a real answer the model spent a round-trip on. Presence is therefore
//	   reported by a separate bool, not by a nil slice.
//
// Storage layout:
//
//	bridge/oracle/v1/{verdictKey}  →  gob-encoded verdictEntry
//	                                   TTL: 7 days

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/AleutianBridge/services/bridge/storage/badger"
)

// verdictCacheDefaultTTL is the default lifetime of a cached verdict. A week
// outlives most corpus reloads without keeping stale judgments forever.
const verdictCacheDefaultTTL = 7 * 24 * time.Hour

// verdictCacheKeyPrefix is prepended to the verdict key to form the BadgerDB
// key. Versioned (v1) to allow future format changes without collision.
const verdictCacheKeyPrefix = "bridge/oracle/v1/"

// verdictCacheMaxEntries bounds the in-memory store.
const verdictCacheMaxEntries = 4096

// errVerdictMiss is a sentinel used internally to distinguish "key not found"
// (a normal cache miss) from a genuine storage error in Load.
var errVerdictMiss = errors.New("verdict cache miss")

// =============================================================================
// VerdictCacheStore Interface
// =============================================================================

// VerdictCacheStore persists oracle verdicts between calls.
//
// # Description
//
// The store is keyed by verdict key (see VerdictKey). Load reports presence
// through its bool: an empty preferred slice with ok=true is a cached "no
// preference" verdict, not a miss.
//
// The oracle checks for a nil VerdictCacheStore and skips caching entirely,
// which is the correct behavior for tests.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type VerdictCacheStore interface {
	// Load retrieves a cached verdict for the given key.
	//
	// Returns (nil, false, nil) on cache miss (key absent or TTL expired).
	// Returns (nil, false, error) on storage failure.
	// Returns (preferred, true, nil) on cache hit; preferred may be empty.
	Load(ctx context.Context, key string) ([]string, bool, error)

	// Save persists a verdict for the given key. The store applies its TTL
	// automatically.
	//
	// Returns non-nil error only on storage failure. The caller logs the
	// error as a warning and continues — a lost cache entry just means one
	// extra model call later.
	Save(ctx context.Context, key string, preferred []string) error
}

// =============================================================================
// Verdict Key
// =============================================================================

// VerdictKey computes a deterministic SHA256 key for one oracle request.
//
// # Description
//
// The key captures every input that determines the verdict:
//   - Candidate values and their entity types (sorted; scores excluded,
//     they do not change what the model is asked)
//   - Target entity type
//   - Hint text
//   - Model name
//
// # Outputs
//
//   - string: Lowercase hex-encoded SHA256 digest (64 characters).
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func VerdictKey(candidates []Candidate, targetType, hint, model string) string {
	// Sort by (type, value) for determinism regardless of discovery order.
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].EntityType != sorted[j].EntityType {
			return sorted[i].EntityType < sorted[j].EntityType
		}
		return sorted[i].Value < sorted[j].Value
	})

	h := sha256.New()
	for _, c := range sorted {
		// Tab-delimited fields; newline terminates each candidate entry.
		fmt.Fprintf(h, "%s\t%s\n", c.EntityType, c.Value)
	}
	fmt.Fprintf(h, "target=%s\n", targetType)
	fmt.Fprintf(h, "hint=%s\n", hint)
	fmt.Fprintf(h, "model=%s\n", model)

	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// BadgerVerdictCacheStore
// =============================================================================

// verdictEntry is the gob-encoded storage record for one verdict.
type verdictEntry struct {
	Preferred []string
}

// BadgerVerdictCacheStore implements VerdictCacheStore backed by a BadgerDB
// instance. The DB is expected to be a service-global singleton opened at
// startup, shared with the other resolver-local stores.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerVerdictCacheStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerVerdictCacheStore creates a BadgerVerdictCacheStore backed by the
// given DB instance.
//
// # Description
//
// The DB must be opened by the caller (typically in main) and must not be
// closed before the store is done being used. The caller owns the DB
// lifecycle.
//
// # Inputs
//
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - ttl: Lifetime for each cached verdict. Pass 0 to use the default (7 days).
//   - logger: Logger for cache hit/miss diagnostics. May be nil.
//
// # Outputs
//
//   - *BadgerVerdictCacheStore: Ready-to-use store. Never nil.
func NewBadgerVerdictCacheStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerVerdictCacheStore {
	if db == nil {
		panic("NewBadgerVerdictCacheStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = verdictCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerVerdictCacheStore{db: db, ttl: ttl, logger: logger}
}

// Load retrieves a cached verdict.
//
// # Thread Safety
//
// Safe for concurrent use.
func (s *BadgerVerdictCacheStore) Load(ctx context.Context, key string) ([]string, bool, error) {
	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(verdictCacheKey(key))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errVerdictMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errVerdictMiss) {
		s.logger.Debug("verdict cache: miss", slog.String("key", shortHash(key)))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("verdict cache load: %w", err)
	}

	entry, err := gobDecodeVerdict(raw)
	if err != nil {
		return nil, false, fmt.Errorf("verdict cache decode: %w", err)
	}

	s.logger.Debug("verdict cache: hit",
		slog.String("key", shortHash(key)),
		slog.Int("preferred", len(entry.Preferred)),
	)
	return entry.Preferred, true, nil
}

// Save persists a verdict with the configured TTL.
//
// # Thread Safety
//
// Safe for concurrent use.
func (s *BadgerVerdictCacheStore) Save(ctx context.Context, key string, preferred []string) error {
	raw, err := gobEncodeVerdict(verdictEntry{Preferred: preferred})
	if err != nil {
		return fmt.Errorf("verdict cache encode: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(verdictCacheKey(key), raw).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("verdict cache save: %w", err)
	}

	s.logger.Debug("verdict cache: saved",
		slog.String("key", shortHash(key)),
		slog.Int("preferred", len(preferred)),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// =============================================================================
// MemoryVerdictCacheStore
// =============================================================================

// MemoryVerdictCacheStore implements VerdictCacheStore in process memory.
// Used when no cache directory is configured; verdicts survive across
// searches but not across restarts.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryVerdictCacheStore struct {
	mu      sync.RWMutex
	entries map[string]memoryVerdict
	ttl     time.Duration

	// clock is replaceable in tests; nil means time.Now.
	clock func() time.Time
}

type memoryVerdict struct {
	preferred []string
	expiresAt time.Time
}

// NewMemoryVerdictCacheStore creates an in-memory verdict cache.
//
// # Inputs
//
//   - ttl: Lifetime for each cached verdict. Pass 0 to use the default (7 days).
func NewMemoryVerdictCacheStore(ttl time.Duration) *MemoryVerdictCacheStore {
	if ttl <= 0 {
		ttl = verdictCacheDefaultTTL
	}
	return &MemoryVerdictCacheStore{
		entries: make(map[string]memoryVerdict),
		ttl:     ttl,
	}
}

func (s *MemoryVerdictCacheStore) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

// Load retrieves a cached verdict. Expired entries are removed lazily.
func (s *MemoryVerdictCacheStore) Load(ctx context.Context, key string) ([]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	preferred := make([]string, len(entry.preferred))
	copy(preferred, entry.preferred)
	return preferred, true, nil
}

// Save persists a verdict. When the store is full, expired entries are
// evicted first; if it is still full the verdict is dropped.
func (s *MemoryVerdictCacheStore) Save(ctx context.Context, key string, preferred []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]string, len(preferred))
	copy(stored, preferred)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= verdictCacheMaxEntries {
		now := s.now()
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
			}
		}
		if len(s.entries) >= verdictCacheMaxEntries {
			return nil
		}
	}

	s.entries[key] = memoryVerdict{
		preferred: stored,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// verdictCacheKey builds the BadgerDB key for the given verdict key.
func verdictCacheKey(key string) []byte {
	return []byte(verdictCacheKeyPrefix + key)
}

// shortHash returns the first 8 characters of a hash for log display.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}

// gobEncodeVerdict serializes a verdictEntry using encoding/gob.
func gobEncodeVerdict(entry verdictEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// gobDecodeVerdict deserializes a verdictEntry from gob-encoded bytes.
func gobDecodeVerdict(data []byte) (verdictEntry, error) {
	var entry verdictEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		return verdictEntry{}, fmt.Errorf("gob decode: %w", err)
	}
	return entry, nil
}
