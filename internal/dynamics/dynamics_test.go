package dynamics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

func TestResonanceDiagonalIsOne(t *testing.T) {
	for _, s := range model.AllSectors {
		require.Equal(t, 1.0, Resonance(s, s))
	}
}

func TestResonanceUnknownSectorFallsBackToSemanticRow(t *testing.T) {
	require.Equal(t, Resonance(model.SectorSemantic, model.SectorEpisodic), Resonance(model.Sector("unknown"), model.SectorEpisodic))
}

func TestResonanceMatrixIsSymmetric(t *testing.T) {
	for _, a := range model.AllSectors {
		for _, b := range model.AllSectors {
			require.Equal(t, Resonance(a, b), Resonance(b, a), "%s<->%s", a, b)
		}
	}
}

func TestSectorPenaltyStaysInRange(t *testing.T) {
	for from, row := range SectorRelationships() {
		for to, v := range row {
			require.GreaterOrEqual(t, v, 0.3, "%s->%s", from, to)
			require.LessOrEqual(t, v, 0.8, "%s->%s", from, to)
		}
	}
	require.InDelta(t, 0.3, SectorPenalty("semantic", "unknown"), 1e-9, "unknown pairs take the floor")
}

func TestDimensionWeightsBiasPrimary(t *testing.T) {
	w := DimensionWeights("episodic")
	require.InDelta(t, 1.4, w["episodic"], 1e-9)
	require.InDelta(t, 0.8, w["semantic"], 1e-9)
	require.InDelta(t, 0.6, w["emotional"], 1e-9)

	// Each sector carries its own primary-side bias.
	require.InDelta(t, 1.5, DimensionWeights("emotional")["emotional"], 1e-9)
}

func TestBoostedSimilaritySaturates(t *testing.T) {
	require.Zero(t, BoostedSimilarity(0))
	require.Greater(t, BoostedSimilarity(0.5), 0.5, "mid-range similarities are lifted")
	require.Less(t, BoostedSimilarity(1), 1.0)
	require.Greater(t, BoostedSimilarity(1), BoostedSimilarity(0.5))
}

func TestSigmoidBounds(t *testing.T) {
	require.InDelta(t, 0.5, Sigmoid(0), 1e-9)
	require.Greater(t, Sigmoid(10), 0.999)
	require.Less(t, Sigmoid(-10), 0.001)
}

func TestSpreadDecaysWeightPerHop(t *testing.T) {
	// a -> b -> c chain with full-weight edges: b lands at 0.8, c at 0.64.
	graph := map[string][]Edge{
		"a": {{Dst: "b", Weight: 1.0}},
		"b": {{Dst: "c", Weight: 1.0}},
	}
	fetch := func(ids []string) (map[string][]Edge, error) {
		out := map[string][]Edge{}
		for _, id := range ids {
			out[id] = graph[id]
		}
		return out, nil
	}

	activated, err := Spread(map[string]float64{"a": 1.0}, DefaultSpreadOptions(), fetch)
	require.NoError(t, err)

	byID := map[string]Activated{}
	for _, a := range activated {
		byID[a.ID] = a
	}
	require.InDelta(t, 1.0, byID["a"].Weight, 1e-9)
	require.InDelta(t, 0.8, byID["b"].Weight, 1e-9)
	require.InDelta(t, 0.64, byID["c"].Weight, 1e-9)
	require.Equal(t, []string{"a", "b", "c"}, byID["c"].Path)
}

func TestSpreadStopsBelowMinWeight(t *testing.T) {
	// Weak edges fall below the 0.1 cutoff after one hop.
	graph := map[string][]Edge{
		"a": {{Dst: "b", Weight: 0.05}},
	}
	fetch := func(ids []string) (map[string][]Edge, error) {
		out := map[string][]Edge{}
		for _, id := range ids {
			out[id] = graph[id]
		}
		return out, nil
	}

	activated, err := Spread(map[string]float64{"a": 1.0}, DefaultSpreadOptions(), fetch)
	require.NoError(t, err)
	require.Len(t, activated, 1, "the weak neighbor must not activate")
}

func TestSpreadHonorsMaxExpanded(t *testing.T) {
	// A star of 100 neighbors capped at 10 activated nodes total.
	edges := make([]Edge, 100)
	for i := range edges {
		edges[i] = Edge{Dst: string(rune('A' + i)), Weight: 1.0}
	}
	fetch := func(ids []string) (map[string][]Edge, error) {
		out := map[string][]Edge{}
		for _, id := range ids {
			if id == "hub" {
				out[id] = edges
			}
		}
		return out, nil
	}

	opts := DefaultSpreadOptions()
	opts.MaxExpanded = 10
	activated, err := Spread(map[string]float64{"hub": 1.0}, opts, fetch)
	require.NoError(t, err)
	require.LessOrEqual(t, len(activated), 10)
}
