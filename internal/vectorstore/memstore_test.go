package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

func TestSearchOrdersByCosineSimilarity(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.StoreVector(ctx, model.NewVector("exact", "semantic", "u1", []float32{1, 0, 0})))
	require.NoError(t, s.StoreVector(ctx, model.NewVector("close", "semantic", "u1", []float32{0.9, 0.1, 0})))
	require.NoError(t, s.StoreVector(ctx, model.NewVector("far", "semantic", "u1", []float32{0, 0, 1})))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, "semantic", 3, Filters{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	require.Equal(t, "exact", hits[0].ID)
	require.Equal(t, "close", hits[1].ID)
	require.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchScopesToUserAndSector(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.StoreVector(ctx, model.NewVector("mine", "episodic", "u1", []float32{1, 0})))
	require.NoError(t, s.StoreVector(ctx, model.NewVector("theirs", "episodic", "u2", []float32{1, 0})))
	require.NoError(t, s.StoreVector(ctx, model.NewVector("other-sector", "semantic", "u1", []float32{1, 0})))

	hits, err := s.Search(ctx, []float32{1, 0}, "episodic", 10, Filters{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "mine", hits[0].ID)
}

func TestSearchSaturatesGracefully(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.StoreVector(ctx, model.NewVector("only", "semantic", "u1", []float32{1, 0})))

	// k far larger than the row count returns what exists, not an error.
	hits, err := s.Search(ctx, []float32{1, 0}, "semantic", 500, Filters{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestSearchExcludesIDs(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.StoreVector(ctx, model.NewVector("a", "semantic", "u1", []float32{1, 0})))
	require.NoError(t, s.StoreVector(ctx, model.NewVector("b", "semantic", "u1", []float32{1, 0})))

	hits, err := s.Search(ctx, []float32{1, 0}, "semantic", 10, Filters{UserID: "u1", ExcludeIDs: map[string]bool{"a": true}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "b", hits[0].ID)
}

func TestGetVectorsGroupsBySector(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.StoreVectors(ctx, []model.Vector{
		model.NewVector("m1", "episodic", "u1", []float32{1, 0}),
		model.NewVector("m1", "emotional", "u1", []float32{0, 1}),
		model.NewVector("m2", "episodic", "u1", []float32{1, 1}),
	}))

	vecs, err := s.GetVectorsByID(ctx, "m1", "u1")
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	byID, err := s.GetVectorsByIDs(ctx, []string{"m1", "m2"}, "u1")
	require.NoError(t, err)
	require.Len(t, byID["m1"], 2)
	require.Len(t, byID["m2"], 1)

	one, err := s.GetVector(ctx, "m1", "emotional", "u1")
	require.NoError(t, err)
	require.NotNil(t, one)
	require.Equal(t, 2, one.Dim)
}

func TestDeleteVectorsBySectorAndAll(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.StoreVector(ctx, model.NewVector("m1", "episodic", "u1", []float32{1, 0})))
	require.NoError(t, s.StoreVector(ctx, model.NewVector("m1", "episodic_cold", "u1", []float32{1})))

	require.NoError(t, s.DeleteVectors(ctx, "m1", "episodic"))
	remaining, err := s.GetVectorsByID(ctx, "m1", "u1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "episodic_cold", remaining[0].Sector)

	require.NoError(t, s.DeleteVectors(ctx, "m1", ""))
	remaining, err = s.GetVectorsByID(ctx, "m1", "u1")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestStoreVectorUpsertsByCompositeKey(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.StoreVector(ctx, model.NewVector("m1", "semantic", "u1", []float32{1, 0})))
	require.NoError(t, s.StoreVector(ctx, model.NewVector("m1", "semantic", "u1", []float32{0, 1})))

	vecs, err := s.GetVectorsByID(ctx, "m1", "u1")
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Equal(t, []float32{0, 1}, vecs[0].Values)
}
