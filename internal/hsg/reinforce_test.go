package hsg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

func seedPair(t *testing.T, e *Engine, weight float64) (*model.Memory, *model.Memory) {
	t.Helper()
	ctx := context.Background()
	now := e.clk()
	mk := func(id string) *model.Memory {
		m := &model.Memory{
			ID: id, UserID: "u1", Content: "content " + id,
			SimHash: model.ComputeSimHash(id), Primary: model.SectorSemantic,
			Salience: 0.5, Version: 1, CreatedAt: now, UpdatedAt: now, LastSeenAt: now,
		}
		require.NoError(t, e.store.UpsertMemory(ctx, m))
		return m
	}
	a, b := mk("wp-a"), mk("wp-b")
	require.NoError(t, e.store.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: b.ID, UserID: "u1", Weight: weight}))
	return a, b
}

func TestReinforceTraceBumpsEdgeAndPropagatesSalience(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a, b := seedPair(t, e, 0.5)

	scored := []scoredCandidate{{memory: a, score: 0.8}}
	paths := map[string][]string{a.ID: {a.ID, b.ID}}
	e.reinforceTrace(ctx, "u1", scored, paths)

	// Traversed edge accumulates waypoint_boost on top of its old weight.
	neighbors, err := e.store.GetNeighborsBatch(ctx, []string{a.ID}, "u1")
	require.NoError(t, err)
	require.Len(t, neighbors[a.ID], 1)
	boosted := neighbors[a.ID][0].Weight
	require.InDelta(t, 0.5+e.cfg.Reinforcement.WaypointBoost, boosted, 1e-9)

	// The retrieved memory's salience rose by trace_boost*(1-s).
	gotA, err := e.store.GetMemory(ctx, a.ID, "u1")
	require.NoError(t, err)
	require.InDelta(t, 0.5+0.18*0.5, gotA.Salience, 1e-9)
	require.Greater(t, gotA.FeedbackScore, 0.0, "feedback EMA must persist")

	// The neighbor got the associative share: factor * edge_weight * new_salience.
	gotB, err := e.store.GetMemory(ctx, b.ID, "u1")
	require.NoError(t, err)
	require.Greater(t, gotB.Salience, 0.5)
	require.LessOrEqual(t, gotB.Salience, 1.0)
}

func TestReinforceTraceKeepsWeightsInUnitRange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a, _ := seedPair(t, e, 0.99)

	scored := []scoredCandidate{{memory: a, score: 1.0}}
	paths := map[string][]string{a.ID: {a.ID, "wp-b"}}
	for i := 0; i < 20; i++ {
		m, err := e.store.GetMemory(ctx, a.ID, "u1")
		require.NoError(t, err)
		e.reinforceTrace(ctx, "u1", []scoredCandidate{{memory: m, score: scored[0].score}}, paths)
	}

	neighbors, err := e.store.GetNeighborsBatch(ctx, []string{a.ID}, "u1")
	require.NoError(t, err)
	require.LessOrEqual(t, neighbors[a.ID][0].Weight, e.cfg.Reinforcement.MaxWaypointWeight)

	m, err := e.store.GetMemory(ctx, a.ID, "u1")
	require.NoError(t, err)
	require.LessOrEqual(t, m.Salience, 1.0)
}

func TestCoactivationStrengthensEdgeMonotonically(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a, b := seedPair(t, e, 0.5)

	e.bufferCoactivation("u1", []string{a.ID, b.ID}, e.clk())

	neighbors, err := e.store.GetNeighborsBatch(ctx, []string{a.ID, b.ID}, "u1")
	require.NoError(t, err)

	// w <- min(1, w + eta*(1-w)*temporal_factor) with a fresh pair: the
	// existing forward edge rises above 0.5, the new reverse edge appears.
	require.Len(t, neighbors[a.ID], 1)
	require.Greater(t, neighbors[a.ID][0].Weight, 0.5)
	require.Less(t, neighbors[a.ID][0].Weight, 0.56)
	require.Len(t, neighbors[b.ID], 1)
	require.Greater(t, neighbors[b.ID][0].Weight, 0.0)
}

func TestCoactivationTemporalFactorFadesOldPairs(t *testing.T) {
	e := newTestEngine(t)
	a, b := seedPair(t, e, 0.0)

	// A pair observed three hours ago contributes exp(-3) of a fresh one.
	stale := e.clk().Add(-3 * time.Hour)
	e.bufferCoactivation("u1", []string{a.ID, b.ID}, stale)

	neighbors, err := e.store.GetNeighborsBatch(context.Background(), []string{a.ID}, "u1")
	require.NoError(t, err)
	require.Len(t, neighbors[a.ID], 1)
	require.Less(t, neighbors[a.ID][0].Weight, 0.01)
	require.Greater(t, neighbors[a.ID][0].Weight, 0.0)
}
