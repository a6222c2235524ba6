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

import "testing"

func TestEstimateConfidence(t *testing.T) {
	tests := []struct {
		name             string
		pathLen          int
		firstBridgeScore int
		iterations       int
		want             float64
	}{
		{"direct hit", 2, 0, 1, 1.0},
		{"one strong bridge", 3, 9, 2, 0.9},
		{"one boosted bridge", 3, 19, 2, 0.9},
		{"one weak bridge", 3, 8, 2, 0.8},
		{"two bridges", 4, 15, 3, 0.7},
		{"two weak bridges still 0.7", 4, 1, 3, 0.7},
		{"long path within three iterations", 5, 15, 3, 0.5},
		{"long path after many iterations", 5, 15, 4, 0.6},
		{"very long path default", 6, 2, 3, 0.5},
		{"very long path late", 7, 2, 6, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateConfidence(tt.pathLen, tt.firstBridgeScore, tt.iterations)
			if got != tt.want {
				t.Errorf("EstimateConfidence(%d, %d, %d) = %v, want %v",
					tt.pathLen, tt.firstBridgeScore, tt.iterations, got, tt.want)
			}
		})
	}
}
