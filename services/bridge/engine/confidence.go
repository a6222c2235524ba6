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

// EstimateConfidence maps a successful path to a confidence score.
//
// Description:
//
//	An explicit heuristic table, not a model. Shorter paths are firmer
//	evidence: a direct co-occurrence is certain, one strong bridge is
//	nearly so, and anything that took most of the budget to find is
//	treated as a weak link.
//
// Inputs:
//
//	pathLen - Number of hops including source and target.
//	firstBridgeScore - The first bridge's score after any oracle boost.
//	  Ignored unless pathLen is 3.
//	iterations - Iterations the search consumed.
//
// Outputs:
//
//	float64 - Confidence in [0.5, 1.0].
func EstimateConfidence(pathLen, firstBridgeScore, iterations int) float64 {
	switch pathLen {
	case 2:
		return 1.0
	case 3:
		if firstBridgeScore >= 9 {
			return 0.9
		}
		return 0.8
	case 4:
		return 0.7
	}
	if iterations > 3 {
		return 0.6
	}
	return 0.5
}
