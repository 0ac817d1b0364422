// Package dynamics holds the small numeric primitives shared by the
// ingest and query pipelines: the sector resonance matrix, spreading
// activation over the waypoint graph, and the scoring weight bundle.
package dynamics

import "github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"

// ResonanceMatrix gives the 5x5 sector-interdependence multiplier applied
// during hybrid scoring. Diagonal entries are 1.0 (a sector always fully
// resonates with itself); off-diagonal entries model which sectors tend to
// co-occur: semantic pairs strongly with reflective, emotional with
// reflective and semantic, while procedural stands mostly alone.
var ResonanceMatrix = map[model.Sector]map[model.Sector]float64{
	model.SectorEpisodic: {
		model.SectorEpisodic:   1.0,
		model.SectorSemantic:   0.7,
		model.SectorProcedural: 0.3,
		model.SectorEmotional:  0.6,
		model.SectorReflective: 0.6,
	},
	model.SectorSemantic: {
		model.SectorEpisodic:   0.7,
		model.SectorSemantic:   1.0,
		model.SectorProcedural: 0.4,
		model.SectorEmotional:  0.7,
		model.SectorReflective: 0.8,
	},
	model.SectorProcedural: {
		model.SectorEpisodic:   0.3,
		model.SectorSemantic:   0.4,
		model.SectorProcedural: 1.0,
		model.SectorEmotional:  0.5,
		model.SectorReflective: 0.2,
	},
	model.SectorEmotional: {
		model.SectorEpisodic:   0.6,
		model.SectorSemantic:   0.7,
		model.SectorProcedural: 0.5,
		model.SectorEmotional:  1.0,
		model.SectorReflective: 0.8,
	},
	model.SectorReflective: {
		model.SectorEpisodic:   0.6,
		model.SectorSemantic:   0.8,
		model.SectorProcedural: 0.2,
		model.SectorEmotional:  0.8,
		model.SectorReflective: 1.0,
	},
}

// Resonance returns the cross-sector multiplier between a (memory sector,
// query sector) pair. Unknown sectors fall back to the semantic row, the
// same default the classifier uses.
func Resonance(memSector, querySector model.Sector) float64 {
	row, ok := ResonanceMatrix[memSector]
	if !ok {
		row = ResonanceMatrix[model.SectorSemantic]
	}
	v, ok := row[querySector]
	if !ok {
		v = row[model.SectorSemantic]
	}
	return v
}
