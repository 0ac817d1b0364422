package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

func seedMemory(t *testing.T, s *MemStore, id, userID string, sector model.Sector, salience float64) *model.Memory {
	t.Helper()
	now := time.Now().UTC()
	m := &model.Memory{
		ID: id, UserID: userID, Content: "content of " + id,
		SimHash: model.ComputeSimHash("content of " + id),
		Primary: sector, Salience: salience, Version: 1,
		CreatedAt: now, UpdatedAt: now, LastSeenAt: now,
		MeanVec: []float32{1, 0, 0}, MeanDim: 3,
	}
	require.NoError(t, s.UpsertMemory(context.Background(), m))
	return m
}

func TestGetMemoryEnforcesUserFilter(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	seedMemory(t, s, "m1", "u1", model.SectorSemantic, 0.5)

	got, err := s.GetMemory(ctx, "m1", "u1")
	require.NoError(t, err)
	require.NotNil(t, got)

	other, err := s.GetMemory(ctx, "m1", "u2")
	require.NoError(t, err)
	require.Nil(t, other, "a different user must not see the row")

	unfiltered, err := s.GetMemory(ctx, "m1", "")
	require.NoError(t, err)
	require.NotNil(t, unfiltered, "empty user filter disables the ownership check")
}

func TestGetBySimHashReturnsOnlyMatchingUser(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	m := seedMemory(t, s, "m1", "u1", model.SectorSemantic, 0.5)
	seedMemory(t, s, "m2", "u2", model.SectorSemantic, 0.5)

	rows, err := s.GetBySimHash(ctx, "u1", m.SimHash)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "m1", rows[0].ID)
}

func TestBatchUpdateSalience(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	seedMemory(t, s, "m1", "u1", model.SectorSemantic, 0.5)
	seedMemory(t, s, "m2", "u1", model.SectorSemantic, 0.9)

	now := time.Now().UnixMilli()
	err := s.BatchUpdateSalience(ctx, []SalienceUpdate{
		{ID: "m1", UserID: "u1", Salience: 0.2, UpdatedAt: now, LastSeenAt: now},
		{ID: "m2", UserID: "u1", Salience: 0.7, UpdatedAt: now, LastSeenAt: now},
	})
	require.NoError(t, err)

	m1, _ := s.GetMemory(ctx, "m1", "u1")
	m2, _ := s.GetMemory(ctx, "m2", "u1")
	require.InDelta(t, 0.2, m1.Salience, 1e-9)
	require.InDelta(t, 0.7, m2.Salience, 1e-9)
}

func TestDeleteMemoryCascadesWaypoints(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	seedMemory(t, s, "m1", "u1", model.SectorSemantic, 0.5)
	seedMemory(t, s, "m2", "u1", model.SectorSemantic, 0.5)

	require.NoError(t, s.UpsertWaypoint(ctx, model.Waypoint{SrcID: "m1", DstID: "m2", UserID: "u1", Weight: 0.5}))
	require.NoError(t, s.UpsertWaypoint(ctx, model.Waypoint{SrcID: "m2", DstID: "m1", UserID: "u1", Weight: 0.5}))

	require.NoError(t, s.DeleteMemory(ctx, "m1", "u1"))

	gone, err := s.GetMemory(ctx, "m1", "u1")
	require.NoError(t, err)
	require.Nil(t, gone)

	neighbors, err := s.GetNeighborsBatch(ctx, []string{"m1", "m2"}, "u1")
	require.NoError(t, err)
	require.Empty(t, neighbors["m1"], "edges out of the deleted memory must be gone")
	require.Empty(t, neighbors["m2"], "edges into the deleted memory must be gone")
}

func TestPruneWaypointsDropsWeakEdges(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	seedMemory(t, s, "m1", "u1", model.SectorSemantic, 0.5)
	seedMemory(t, s, "m2", "u1", model.SectorSemantic, 0.5)

	require.NoError(t, s.UpsertWaypoints(ctx, []model.Waypoint{
		{SrcID: "m1", DstID: "m2", UserID: "u1", Weight: 0.05},
		{SrcID: "m2", DstID: "m1", UserID: "u1", Weight: 0.9},
	}))

	pruned, err := s.PruneWaypoints(ctx, "u1", 0.1)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	neighbors, err := s.GetNeighborsBatch(ctx, []string{"m2"}, "u1")
	require.NoError(t, err)
	require.Len(t, neighbors["m2"], 1)
}

func TestDeleteAllForUserLeavesOtherUsersIntact(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	seedMemory(t, s, "m1", "u1", model.SectorSemantic, 0.5)
	seedMemory(t, s, "m2", "u1", model.SectorEpisodic, 0.5)
	seedMemory(t, s, "m3", "u2", model.SectorSemantic, 0.5)

	n, err := s.DeleteAllForUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	users, err := s.ListActiveUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, users)
}

func TestSegmentStats(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	m1 := seedMemory(t, s, "m1", "u1", model.SectorSemantic, 0.5)
	m1.Segment = 2
	require.NoError(t, s.UpsertMemory(ctx, m1))
	seedMemory(t, s, "m2", "u1", model.SectorSemantic, 0.5)

	count, maxSeg, err := s.SegmentStats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, 2, maxSeg)
}

func TestListBySectorPaginates(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		seedMemory(t, s, id, "u1", model.SectorEpisodic, 0.5)
	}
	seedMemory(t, s, "d", "u1", model.SectorSemantic, 0.5)

	page, err := s.ListBySector(ctx, "u1", model.SectorEpisodic, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := s.ListBySector(ctx, "u1", model.SectorEpisodic, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}

func TestClassifierModelRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	missing, err := s.GetClassifierModel(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, missing)

	cm := &model.ClassifierModel{
		UserID:  "u1",
		Weights: map[model.Sector][]float64{model.SectorSemantic: {0.1, 0.2}},
		Biases:  map[model.Sector]float64{model.SectorSemantic: 0.05},
		Version: 3,
	}
	require.NoError(t, s.PutClassifierModel(ctx, cm))

	got, err := s.GetClassifierModel(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, got.Version)
	require.InDelta(t, 0.2, got.Weights[model.SectorSemantic][1], 1e-9)
}

func TestDeleteOrphanWaypoints(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	seedMemory(t, s, "m1", "u1", model.SectorSemantic, 0.5)
	require.NoError(t, s.UpsertWaypoint(ctx, model.Waypoint{SrcID: "m1", DstID: "ghost", UserID: "u1", Weight: 0.5}))

	_, waypoints, err := s.DeleteOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, waypoints)
}

func TestEmbedLogStatusTransition(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.AppendEmbedLog(ctx, model.EmbedLog{ID: "e1", Model: "synthetic", Status: model.EmbedPending, UserID: "u1"}))
	require.NoError(t, s.UpdateEmbedLogStatus(ctx, "e1", model.EmbedCompleted, ""))
}
