package reflect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/crypto"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
)

func newTestReflector(t *testing.T, store persistence.Store) *Reflector {
	t.Helper()
	box, err := crypto.NewBox(false, "", nil)
	require.NoError(t, err)
	cfg := config.Default()
	// The default minimum-memory gate (20) would skip these small fixtures.
	cfg.ReflectMin = 2
	return New(store, box, clock.Real(), cfg, nil, nil)
}

func seedEmotional(t *testing.T, store persistence.Store, id string, vec []float32, salience float64) {
	t.Helper()
	now := time.Now().UTC()
	m := &model.Memory{
		ID: id, UserID: "u1",
		Content: "I feel so excited about AI and what it can do (" + id + ")",
		SimHash: model.ComputeSimHash(id),
		Primary: model.SectorEmotional,
		Salience: salience, Version: 1,
		CreatedAt: now, UpdatedAt: now, LastSeenAt: now,
		MeanVec: vec, MeanDim: len(vec),
	}
	require.NoError(t, store.UpsertMemory(context.Background(), m))
}

// TestReflectionConsolidatesNearDuplicateCluster:
// five near-identical emotional memories produce exactly one reflective
// memory tagged reflect:auto, and every source gets consolidated=true plus
// a ~10% salience boost.
func TestReflectionConsolidatesNearDuplicateCluster(t *testing.T) {
	store := persistence.NewMemStore()
	r := newTestReflector(t, store)
	ctx := context.Background()

	// Near-identical vectors so the 0.85 cosine threshold groups them.
	base := []float32{0.9, 0.1, 0.05}
	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		seedEmotional(t, store, id, base, 0.5)
	}

	clusters, err := r.Run(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, clusters)

	reflective, err := store.ListBySector(ctx, "u1", model.SectorReflective, 10, 0)
	require.NoError(t, err)
	require.Len(t, reflective, 1)
	require.Contains(t, reflective[0].Tags, "reflect:auto")
	require.Equal(t, "auto_reflect", reflective[0].Metadata["type"])
	// Cluster salience: 0.6*(5/10) + 0.3*~1 (all fresh) + 0.1*1 (emotional).
	require.InDelta(t, 0.7, reflective[0].Salience, 0.01)

	sources, err := store.ListBySector(ctx, "u1", model.SectorEmotional, 10, 0)
	require.NoError(t, err)
	require.Len(t, sources, 5)
	for _, m := range sources {
		require.Equal(t, true, m.Metadata["consolidated"], "source %s must be marked consolidated", m.ID)
		require.InDelta(t, 0.55, m.Salience, 1e-6, "source %s salience should rise by 10%%", m.ID)
	}
}

func TestReflectionSkipsAlreadyConsolidatedSources(t *testing.T) {
	store := persistence.NewMemStore()
	r := newTestReflector(t, store)
	ctx := context.Background()

	base := []float32{0.9, 0.1, 0.05}
	for _, id := range []string{"e1", "e2", "e3"} {
		seedEmotional(t, store, id, base, 0.5)
	}

	first, err := r.Run(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, first)

	// A second pass finds nothing new: the sources are consolidated and the
	// reflective sector is excluded from clustering.
	second, err := r.Run(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, second)
}

func TestReflectionRequiresMinimumClusterSize(t *testing.T) {
	store := persistence.NewMemStore()
	r := newTestReflector(t, store)
	ctx := context.Background()

	seedEmotional(t, store, "lonely", []float32{1, 0, 0}, 0.5)

	clusters, err := r.Run(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, clusters, "a single memory never forms a cluster")
}

func TestHeuristicSummarizerJoinsAndTruncates(t *testing.T) {
	var cluster []*model.Memory
	for i := 0; i < 50; i++ {
		cluster = append(cluster, &model.Memory{
			Primary: model.SectorSemantic,
			Content: "a moderately long sentence about recurring topics",
		})
	}
	out, err := HeuristicSummarizer{}.Summarize(context.Background(), cluster)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "50 semantic pattern: "), "got %q", out)
	require.LessOrEqual(t, len(out), summaryByteLimit)
}
