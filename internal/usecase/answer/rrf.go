package answer

import "sort"

// DefaultRRFK is the Reciprocal Rank Fusion constant (standard value from
// Cormack et al. 2009).
const DefaultRRFK = 60

// fuseRRF merges two ordered fragment-id rankings via Reciprocal Rank Fusion.
// score(d) = sum of 1/(rrfK + rank_i(d)) over the rankings d appears in,
// with ranks 1-indexed. The union is returned ordered by fused score
// descending; equal scores break ties by fragment id ascending so the result
// is deterministic.
func fuseRRF(lexIDs, vecIDs []string, rrfK float64) []string {
	scores := make(map[string]float64, len(lexIDs)+len(vecIDs))
	for rank, id := range lexIDs {
		scores[id] += 1.0 / (rrfK + float64(rank+1))
	}
	for rank, id := range vecIDs {
		scores[id] += 1.0 / (rrfK + float64(rank+1))
	}

	fused := make([]string, 0, len(scores))
	for id := range scores {
		fused = append(fused, id)
	}

	sort.Slice(fused, func(a, b int) bool {
		if scores[fused[a]] != scores[fused[b]] {
			return scores[fused[a]] > scores[fused[b]]
		}
		return fused[a] < fused[b]
	})
	return fused
}
