package hsg

import (
	"math"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// diversify re-ranks scored candidates by maximal marginal relevance over
// each candidate's fused MeanVec. Gated off by default
// (cfg.DiversifyEnabled): the hybrid score ordering is the baseline and
// this is an optional enrichment pass only.
func diversify(candidates []scoredCandidate, query []float32, limit int, lambda float64) []scoredCandidate {
	if limit >= len(candidates) {
		out := make([]scoredCandidate, len(candidates))
		copy(out, candidates)
		return out
	}
	lambda = model.Clamp(lambda, 0, 1)

	remaining := make([]scoredCandidate, len(candidates))
	copy(remaining, candidates)
	selected := make([]scoredCandidate, 0, limit)

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			relevance := cand.score
			if relevance == 0 && len(cand.memory.MeanVec) > 0 {
				relevance = model.CosineSimilarity(query, cand.memory.MeanVec)
			}
			var maxSim float64
			for _, sel := range selected {
				if sim := model.CosineSimilarity(cand.memory.MeanVec, sel.memory.MeanVec); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*relevance - (1-lambda)*maxSim
			if lambda == 0 {
				score = -maxSim
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}
