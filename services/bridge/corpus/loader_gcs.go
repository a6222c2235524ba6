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
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// =============================================================================
// GCS Corpus Loading
// =============================================================================

// gcsCredentialsEnv names the env var holding a service account key path.
// When unset, the client falls back to application default credentials.
const gcsCredentialsEnv = "BRIDGE_GCS_CREDENTIALS"

// IsGCSURI reports whether the path is a gs://bucket/prefix corpus URI.
func IsGCSURI(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// parseGCSURI splits gs://bucket/prefix into its parts.
func parseGCSURI(uri string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(uri, "gs://")
	if rest == uri || rest == "" {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in URI: %q", uri)
	}
	return bucket, prefix, nil
}

// LoadGCS reads every corpus object under a gs://bucket/prefix URI into
// the store.
//
// Description:
//
//	Lists objects with the given prefix (GCS listing order is already
//	lexicographic by name, so record order is deterministic) and streams
//	each matching .log/.txt/.jsonl object through LoadReader. Credentials
//	come from BRIDGE_GCS_CREDENTIALS when set, otherwise application
//	default credentials.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	uri - gs://bucket/prefix URI.
//
// Outputs:
//
//	LoadStats - Aggregate counts across all objects.
//	error - Wraps ErrScan on client, listing, or read failure.
//
// Thread Safety: Safe for concurrent use.
func (l *Loader) LoadGCS(ctx context.Context, uri string) (LoadStats, error) {
	ctx, span := corpusTracer.Start(ctx, "corpus.LoadGCS")
	defer span.End()
	span.SetAttributes(attribute.String("uri", uri))

	bucket, prefix, err := parseGCSURI(uri)
	if err != nil {
		return LoadStats{}, fmt.Errorf("%w: %v", ErrScan, err)
	}

	var clientOpts []option.ClientOption
	if keyPath := os.Getenv(gcsCredentialsEnv); keyPath != "" {
		if _, err := os.Stat(keyPath); err != nil {
			return LoadStats{}, fmt.Errorf("%w: service account key not found at %s", ErrScan, keyPath)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(keyPath))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return LoadStats{}, fmt.Errorf("%w: creating GCS client: %v", ErrScan, err)
	}
	defer client.Close()

	var total LoadStats
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return total, fmt.Errorf("%w: listing gs://%s/%s: %v", ErrScan, bucket, prefix, err)
		}
		if !corpusExtensions[strings.ToLower(objectExt(attrs.Name))] {
			continue
		}

		stats, err := l.loadGCSObject(ctx, client, bucket, attrs.Name)
		if err != nil {
			return total, err
		}
		total.Files += stats.Files
		total.Records += stats.Records
		total.SkippedLines += stats.SkippedLines
	}

	span.SetAttributes(
		attribute.Int("files", total.Files),
		attribute.Int("records", total.Records),
	)

	l.logger.Info("corpus loaded from GCS",
		slog.String("uri", uri),
		slog.Int("files", total.Files),
		slog.Int("records", total.Records),
	)

	return total, nil
}

// loadGCSObject streams one object through LoadReader.
func (l *Loader) loadGCSObject(ctx context.Context, client *storage.Client, bucket, name string) (LoadStats, error) {
	reader, err := client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return LoadStats{}, fmt.Errorf("%w: opening gs://%s/%s: %v", ErrScan, bucket, name, err)
	}
	defer reader.Close()

	return l.LoadReader(ctx, "gs://"+bucket+"/"+name, reader)
}

// objectExt returns the extension of a GCS object name.
func objectExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
