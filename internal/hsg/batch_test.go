package hsg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreBatchIngestsAndDeduplicates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// Pre-existing memory: the matching batch item must dedup against it.
	first, err := e.Store(ctx, "u1", "weekly standup notes from the platform team", nil, nil)
	require.NoError(t, err)

	results, errsOut := e.StoreBatch(ctx, []BatchItem{
		{UserID: "u1", Content: "weekly standup notes from the platform team"},
		{UserID: "u1", Content: "I visited the museum yesterday with friends"},
		{UserID: "u1", Content: ""},
		{UserID: "u1", Content: "how to configure the deployment pipeline, step 1, run the installer"},
	})
	require.Len(t, results, 4)

	require.NoError(t, errsOut[0])
	require.True(t, results[0].Deduplicated)
	require.Equal(t, first.Memory.ID, results[0].Memory.ID)

	require.NoError(t, errsOut[1])
	require.False(t, results[1].Deduplicated)
	require.NotEmpty(t, results[1].Memory.MeanVec)

	require.Error(t, errsOut[2], "empty content is a validation error")
	require.Nil(t, results[2])

	require.NoError(t, errsOut[3])
	require.Equal(t, "procedural", string(results[3].Memory.Primary))
}

func TestStoreBatchKeepsUsersSeparate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	results, errsOut := e.StoreBatch(ctx, []BatchItem{
		{UserID: "u1", Content: "shared planning document for the quarter"},
		{UserID: "u2", Content: "shared planning document for the quarter"},
	})
	require.NoError(t, errsOut[0])
	require.NoError(t, errsOut[1])
	// Identical content under different users never dedups cross-user.
	require.False(t, results[0].Deduplicated)
	require.False(t, results[1].Deduplicated)
	require.NotEqual(t, results[0].Memory.ID, results[1].Memory.ID)
	require.Equal(t, "u1", results[0].Memory.UserID)
	require.Equal(t, "u2", results[1].Memory.UserID)
}
