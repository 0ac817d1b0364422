package dynamics

import (
	"math"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// ScoreWeights controls the contribution of each hybrid-scoring component
// during retrieval.
type ScoreWeights struct {
	Similarity   float64
	Overlap      float64
	Waypoint     float64
	Recency      float64
	Tag          float64
	KeywordBoost float64
}

// DefaultScoreWeights returns the standard weight bundle.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Similarity:   1.0,
		Overlap:      0.5,
		Waypoint:     0.3,
		Recency:      0.2,
		Tag:          0.4,
		KeywordBoost: 0.5,
	}
}

// SimilarityBoostTau shapes BoostedSimilarity's saturation curve.
const SimilarityBoostTau = 3.0

// BoostedSimilarity lifts a raw cosine similarity through 1-exp(-tau*s)
// before it enters the hybrid sum, so mid-range similarities separate more
// sharply than the raw cosine would.
func BoostedSimilarity(s float64) float64 {
	return 1 - math.Exp(-SimilarityBoostTau*s)
}

// sectorRelationships is the cross-sector penalty table applied when a
// candidate's primary sector differs from the query's primary and isn't
// among its additional sectors. Unlike ResonanceMatrix it has no diagonal:
// the penalty only ever applies across sectors.
var sectorRelationships = map[string]map[string]float64{
	"episodic":   {"reflective": 0.8, "semantic": 0.6, "procedural": 0.6, "emotional": 0.7},
	"semantic":   {"procedural": 0.8, "episodic": 0.6, "reflective": 0.7, "emotional": 0.4},
	"procedural": {"semantic": 0.8, "episodic": 0.6, "reflective": 0.6, "emotional": 0.3},
	"emotional":  {"episodic": 0.7, "reflective": 0.6, "semantic": 0.4, "procedural": 0.3},
	"reflective": {"episodic": 0.8, "semantic": 0.7, "procedural": 0.6, "emotional": 0.6},
}

// defaultSectorPenalty applies when a pair is missing from the table.
const defaultSectorPenalty = 0.3

// SectorRelationships returns the cross-sector penalty table, keyed
// [query sector][memory sector].
func SectorRelationships() map[string]map[string]float64 {
	return sectorRelationships
}

// SectorPenalty looks up the penalty for a (query sector, memory sector)
// pair, defaulting to 0.3 for unknown pairings.
func SectorPenalty(querySector, memSector string) float64 {
	if row, ok := sectorRelationships[querySector]; ok {
		if v, ok := row[memSector]; ok {
			return v
		}
	}
	return defaultSectorPenalty
}

// dimensionBias holds each sector's fusion weight as (primary, other):
// the multiplier used when that sector is the query's primary versus when
// it merely contributes a secondary vector.
var dimensionBias = map[string][2]float64{
	"semantic":   {1.2, 0.8},
	"emotional":  {1.5, 0.6},
	"procedural": {1.3, 0.7},
	"episodic":   {1.4, 0.7},
	"reflective": {1.1, 0.5},
}

// DimensionWeights builds per-sector multipliers for multi-vector fusion:
// each sector carries its own primary/secondary bias pair rather than one
// flat number, since e.g. an emotional query leans much harder on the
// emotional vector than a reflective query does on its own.
func DimensionWeights(primary string) map[string]float64 {
	out := make(map[string]float64, len(dimensionBias))
	for _, s := range model.AllSectors {
		bias, ok := dimensionBias[string(s)]
		if !ok {
			bias = [2]float64{1.2, 0.5}
		}
		if string(s) == primary {
			out[string(s)] = bias[0]
		} else {
			out[string(s)] = bias[1]
		}
	}
	return out
}

// Sigmoid is the logistic function used to squash the weighted hybrid-score
// sum into (0, 1).
func Sigmoid(x float64) float64 {
	if x >= 0 {
		z := math.Exp(-x)
		return 1 / (1 + z)
	}
	z := math.Exp(x)
	return z / (1 + z)
}
