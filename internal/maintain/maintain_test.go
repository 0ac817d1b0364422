package maintain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/metrics"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
)

func seedTrainingMemories(t *testing.T, store persistence.Store, userID string, n int, sector model.Sector, vec []float32) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		m := &model.Memory{
			ID: string(sector) + "-" + string(rune('a'+i)), UserID: userID,
			Content: "sample", SimHash: model.ComputeSimHash(string(sector) + string(rune('a'+i))),
			Primary: sector, Salience: 0.5, Version: 1,
			CreatedAt: now, UpdatedAt: now, LastSeenAt: now,
			MeanVec: vec, MeanDim: len(vec),
		}
		require.NoError(t, store.UpsertMemory(context.Background(), m))
	}
}

func TestRunCycleTrainsClassifier(t *testing.T) {
	store := persistence.NewMemStore()
	cfg := config.Default()
	cfg.AutoReflect = false
	m := &metrics.Metrics{}

	// Two separable sectors with 8 samples each clears the 10-sample gate.
	seedTrainingMemories(t, store, "u1", 8, model.SectorSemantic, []float32{1, 0, 0, 0})
	seedTrainingMemories(t, store, "u1", 8, model.SectorEmotional, []float32{0, 0, 0, 1})

	o := New(store, nil, nil, clock.Real(), cfg, m, nil)
	require.NoError(t, o.RunCycle(context.Background()))

	cm, err := store.GetClassifierModel(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, cm, "a classifier model must be persisted after retraining")
	require.NotEmpty(t, cm.Weights)

	snap := m.Snapshot()
	require.Equal(t, int64(1), snap.ClassifierRetrains)
}

func TestRunCycleSkipsUsersWithTooFewSamples(t *testing.T) {
	store := persistence.NewMemStore()
	cfg := config.Default()
	cfg.AutoReflect = false

	seedTrainingMemories(t, store, "u1", 3, model.SectorSemantic, []float32{1, 0})

	o := New(store, nil, nil, clock.Real(), cfg, &metrics.Metrics{}, nil)
	require.NoError(t, o.RunCycle(context.Background()))

	cm, err := store.GetClassifierModel(context.Background(), "u1")
	require.NoError(t, err)
	require.Nil(t, cm, "fewer than 10 samples must not produce a model")
}

type recordingInvalidator struct{ users []string }

func (r *recordingInvalidator) InvalidateClassifierCache(userID string) {
	r.users = append(r.users, userID)
}

func TestRetrainingInvalidatesClassifierCache(t *testing.T) {
	store := persistence.NewMemStore()
	cfg := config.Default()
	cfg.AutoReflect = false

	seedTrainingMemories(t, store, "u1", 12, model.SectorProcedural, []float32{0, 1, 0})

	inv := &recordingInvalidator{}
	o := New(store, nil, nil, clock.Real(), cfg, &metrics.Metrics{}, inv)
	require.NoError(t, o.RunCycle(context.Background()))
	require.Equal(t, []string{"u1"}, inv.users)
}
