// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// influxWriteTimeout bounds a single point write so a slow or unreachable
// InfluxDB never stalls the caller for long.
const influxWriteTimeout = 5 * time.Second

// InfluxConfig holds connection settings for the search analytics sink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxConfigFromEnv reads sink settings from the environment.
//
// Description:
//
//	Reads INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, and INFLUXDB_BUCKET.
//	The sink is opt-in: when INFLUXDB_URL is unset the second return value
//	is false and no sink should be constructed.
//
// Outputs:
//
//	InfluxConfig - Populated config (zero value when disabled).
//	bool - True when INFLUXDB_URL is set.
func InfluxConfigFromEnv() (InfluxConfig, bool) {
	url := getEnvOr("INFLUXDB_URL", "")
	if url == "" {
		return InfluxConfig{}, false
	}
	return InfluxConfig{
		URL:    url,
		Token:  getEnvOr("INFLUXDB_TOKEN", ""),
		Org:    getEnvOr("INFLUXDB_ORG", "aleutian"),
		Bucket: getEnvOr("INFLUXDB_BUCKET", "bridge"),
	}, true
}

// SearchRecord is one completed resolve call, flattened for time-series
// analysis (success rates, iteration depth, and scan cost over time).
type SearchRecord struct {
	// Outcome is the terminal search state (FOUND, EXHAUSTED, TIMED_OUT).
	Outcome string

	// Corpus labels the corpus the search ran against.
	Corpus string

	// Oracle is true when LLM re-ranking was active for this search.
	Oracle bool

	Iterations     int
	Searches       int
	RecordsScanned int
	Confidence     float64
	Duration       time.Duration
}

// InfluxSink writes per-search analytics points to InfluxDB.
//
// The sink is strictly best-effort: write failures are logged and never
// surfaced to resolve callers.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	logger *slog.Logger
}

// NewInfluxSink creates a sink from connection settings.
//
// Inputs:
//
//	cfg - Connection settings, typically from InfluxConfigFromEnv.
//	logger - Structured logger for write failures. Must not be nil.
//
// Outputs:
//
//	*InfluxSink - Ready to accept records. Close releases the connection.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger: logger,
	}
}

// newInfluxSinkWithWriter builds a sink around an injected write API.
// Test seam.
func newInfluxSinkWithWriter(write api.WriteAPIBlocking, logger *slog.Logger) *InfluxSink {
	return &InfluxSink{write: write, logger: logger}
}

// Record writes one search record as a bridge_search point.
//
// Description:
//
//	Blocks for at most influxWriteTimeout. Errors are logged at Warn and
//	swallowed; callers on a request path should invoke Record from a
//	goroutine.
//
// Thread Safety: Safe for concurrent use.
func (s *InfluxSink) Record(rec SearchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
	defer cancel()

	oracle := "off"
	if rec.Oracle {
		oracle = "on"
	}

	p := influxdb2.NewPoint(
		"bridge_search",
		map[string]string{
			"outcome": rec.Outcome,
			"corpus":  rec.Corpus,
			"oracle":  oracle,
		},
		map[string]interface{}{
			"iterations":      rec.Iterations,
			"searches":        rec.Searches,
			"records_scanned": rec.RecordsScanned,
			"confidence":      rec.Confidence,
			"duration_ms":     rec.Duration.Milliseconds(),
		},
		time.Now(),
	)

	if err := s.write.WritePoint(ctx, p); err != nil {
		s.logger.Warn("influx write failed", "error", err, "outcome", rec.Outcome)
	}
}

// Close releases the underlying InfluxDB client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
