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
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Loader
// =============================================================================

// Default loader limits.
const (
	// DefaultMaxLineBytes is the largest record line the loader accepts.
	// Longer lines are truncated to this size rather than dropped.
	DefaultMaxLineBytes = 1 << 20

	// loadDirConcurrency bounds parallel file parsing in LoadDir.
	loadDirConcurrency = 4
)

// corpusExtensions are the file extensions LoadDir treats as corpus files.
var corpusExtensions = map[string]bool{
	".log":   true,
	".txt":   true,
	".jsonl": true,
}

// LoadStats summarizes one load operation.
type LoadStats struct {
	// Files is the number of sources read.
	Files int

	// Records is the number of records appended to the store.
	Records int

	// SkippedLines counts blank lines that were dropped.
	SkippedLines int
}

// Loader reads line-oriented corpus files into a Store.
//
// Description:
//
//	One non-empty line becomes one record. The loader does not parse
//	payloads; that happens lazily on first access per record, so loading
//	a large corpus stays I/O-bound.
//
// Thread Safety: Safe for concurrent use.
type Loader struct {
	store        *Store
	maxLineBytes int
	logger       *slog.Logger
}

// LoaderOption is a functional option for configuring a Loader.
type LoaderOption func(*Loader)

// WithMaxLineBytes sets the maximum accepted line length.
func WithMaxLineBytes(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxLineBytes = n
		}
	}
}

// WithLoaderLogger sets the logger used for load diagnostics.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader that appends into the given store.
func NewLoader(store *Store, opts ...LoaderOption) *Loader {
	l := &Loader{
		store:        store,
		maxLineBytes: DefaultMaxLineBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadReader reads records from r, labeling them with the given source.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	source - Label recorded on each record (file path, object name).
//	r - Line-oriented text stream.
//
// Outputs:
//
//	LoadStats - Counts for this stream (Files is always 1).
//	error - Wraps ErrScan on read failure or cancellation.
func (l *Loader) LoadReader(ctx context.Context, source string, r io.Reader) (LoadStats, error) {
	stats := LoadStats{Files: 1}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), l.maxLineBytes)

	var batch []*Record
	line := 0
	for scanner.Scan() {
		line++
		if line%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return stats, fmt.Errorf("%w: loading %s: %v", ErrScan, source, err)
			}
		}

		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			stats.SkippedLines++
			continue
		}

		batch = append(batch, NewRecord(text, source, line))
		stats.Records++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("%w: reading %s: %v", ErrScan, source, err)
	}

	l.store.AddBatch(batch)
	return stats, nil
}

// LoadFile reads one corpus file into the store.
//
// Outputs:
//
//	LoadStats - Counts for this file.
//	error - Wraps ErrScan if the file is unreadable.
func (l *Loader) LoadFile(ctx context.Context, path string) (LoadStats, error) {
	ctx, span := corpusTracer.Start(ctx, "corpus.LoadFile")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, fmt.Errorf("%w: opening %s: %v", ErrScan, path, err)
	}
	defer f.Close()

	stats, err := l.LoadReader(ctx, path, f)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}

	l.logger.Info("corpus file loaded",
		slog.String("path", path),
		slog.Int("records", stats.Records),
	)
	return stats, nil
}

// LoadDir reads every corpus file under dir into the store.
//
// Description:
//
//	Walks the directory for .log/.txt/.jsonl files, parses them in
//	parallel, and appends the results in sorted filename order so the
//	final record order is deterministic regardless of goroutine timing.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	dir - Directory to walk.
//
// Outputs:
//
//	LoadStats - Aggregate counts across all files.
//	error - Wraps ErrScan if the walk or any file read fails.
func (l *Loader) LoadDir(ctx context.Context, dir string) (LoadStats, error) {
	ctx, span := corpusTracer.Start(ctx, "corpus.LoadDir")
	defer span.End()
	span.SetAttributes(attribute.String("dir", dir))
	start := time.Now()

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if corpusExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return LoadStats{}, fmt.Errorf("%w: walking %s: %v", ErrScan, dir, err)
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		l.logger.Warn("no corpus files found", slog.String("dir", dir))
		return LoadStats{}, nil
	}

	// Parse in parallel but append in filename order: each goroutine fills
	// its own slot, and a single pass afterwards commits the batches.
	type fileResult struct {
		batch []*Record
		stats LoadStats
	}
	results := make([]fileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, loadDirConcurrency)

	for i, path := range paths {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("%w: opening %s: %v", ErrScan, path, err)
			}
			defer f.Close()

			// Parse into a private store so batches commit in order below.
			local := NewStore()
			sub := NewLoader(local, WithMaxLineBytes(l.maxLineBytes), WithLoaderLogger(l.logger))
			stats, err := sub.LoadReader(gctx, path, f)
			if err != nil {
				return err
			}
			results[i] = fileResult{batch: local.snapshot(), stats: stats}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return LoadStats{}, err
	}

	var total LoadStats
	for _, res := range results {
		l.store.AddBatch(res.batch)
		total.Files += res.stats.Files
		total.Records += res.stats.Records
		total.SkippedLines += res.stats.SkippedLines
	}

	span.SetAttributes(
		attribute.Int("files", total.Files),
		attribute.Int("records", total.Records),
	)

	l.logger.Info("corpus directory loaded",
		slog.String("dir", dir),
		slog.Int("files", total.Files),
		slog.Int("records", total.Records),
		slog.Duration("elapsed", time.Since(start)),
	)

	return total, nil
}
