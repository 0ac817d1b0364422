package decay

import (
	"context"
	"testing"
	"time"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/vectorstore"
)

func TestSelectTierClassification(t *testing.T) {
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	hot := &model.Memory{LastSeenAt: now.Add(-1 * time.Hour), Salience: 0.8}
	if SelectTier(now, hot) != TierHot {
		t.Fatalf("expected recent high-salience memory to be HOT")
	}
	cold := &model.Memory{LastSeenAt: now.Add(-60 * 24 * time.Hour), Salience: 0.1}
	if SelectTier(now, cold) != TierCold {
		t.Fatalf("expected old low-salience memory to be COLD")
	}
	warm := &model.Memory{LastSeenAt: now.Add(-10 * 24 * time.Hour), Salience: 0.5}
	if SelectTier(now, warm) != TierWarm {
		t.Fatalf("expected mid-age mid-salience memory to be WARM")
	}
}

func TestApplySalienceDecayStaysInUnitRange(t *testing.T) {
	newSalience, factor := ApplySalienceDecay(0.5, 0.1, 60)
	if newSalience < 0 || newSalience > 1 {
		t.Fatalf("expected decayed salience in [0,1], got %f", newSalience)
	}
	if factor < 0 {
		t.Fatalf("expected non-negative decay factor, got %f", factor)
	}
}

func TestCompressedDimRespectsBounds(t *testing.T) {
	dim := CompressedDim(256, 0.1, 16, 512)
	if dim < 16 || dim > 256 {
		t.Fatalf("expected compressed dim within [16,256], got %d", dim)
	}
}

// TestDecayColdStoresHeavilyAgedMemory: a memory
// untouched for 60 days loses its main-sector vector, gains a <=64-dim
// `<sector>_cold` vector, and gets a generated summary.
func TestDecayColdStoresHeavilyAgedMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	store := persistence.NewMemStore()
	vectors := vectorstore.NewMemStore()
	clk := clock.Real()

	now := clk()
	mem := &model.Memory{
		ID:          "mem-1",
		UserID:      "u1",
		Primary:     model.SectorEpisodic,
		Content:     "an old episodic memory about a trip",
		SimHash:     model.ComputeSimHash("an old episodic memory about a trip"),
		Salience:    0.4,
		DecayLambda: 0.08,
		Version:     1,
		CreatedAt:   now.Add(-60 * 24 * time.Hour),
		UpdatedAt:   now.Add(-60 * 24 * time.Hour),
		LastSeenAt:  now.Add(-60 * 24 * time.Hour),
		MeanDim:     256,
		MeanVec:     make([]float32, 256),
	}
	for i := range mem.MeanVec {
		mem.MeanVec[i] = float32(i%7) / 7.0
	}
	if err := store.UpsertMemory(ctx, mem); err != nil {
		t.Fatalf("upsert memory: %v", err)
	}
	if err := vectors.StoreVector(ctx, model.NewVector(mem.ID, string(mem.Primary), mem.UserID, mem.MeanVec)); err != nil {
		t.Fatalf("store vector: %v", err)
	}

	// Force a ratio of 1.0 so the single fixture row is always sampled.
	cfg.DecayRatio = 1.0
	var active int32
	engine := NewEngine(store, vectors, clk, cfg, &active)

	processed, compressed, fingerprinted, err := engine.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run decay: %v", err)
	}
	if processed == 0 {
		t.Fatalf("expected at least one processed row")
	}
	if compressed == 0 && fingerprinted == 0 {
		t.Fatalf("expected a 60-day-stale low-salience memory to be compressed or fingerprinted")
	}

	mainVec, err := vectors.GetVector(ctx, mem.ID, string(mem.Primary), mem.UserID)
	if err != nil {
		t.Fatalf("get main sector vector: %v", err)
	}
	if mainVec != nil {
		t.Fatalf("expected main-sector vector to be removed after heavy decay")
	}

	coldVec, err := vectors.GetVector(ctx, mem.ID, model.ColdSector(mem.Primary), mem.UserID)
	if err != nil {
		t.Fatalf("get cold sector vector: %v", err)
	}
	if coldVec == nil {
		t.Fatalf("expected a cold-store vector after heavy decay")
	}
	if len(coldVec.Values) > 64 {
		t.Fatalf("expected cold vector dim <= 64, got %d", len(coldVec.Values))
	}

	if fingerprinted > 0 {
		persisted, err := store.GetMemory(ctx, mem.ID, mem.UserID)
		if err != nil {
			t.Fatalf("get memory after decay: %v", err)
		}
		if persisted.GeneratedSummary == "" {
			t.Fatalf("expected generated_summary to be persisted non-empty after fingerprinting")
		}
	}
}
