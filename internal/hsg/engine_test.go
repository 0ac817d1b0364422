package hsg

import (
	"context"
	"testing"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/crypto"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/embedding"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/vectorstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.VecDim = 64
	store := persistence.NewMemStore()
	vectors := vectorstore.NewMemStore()
	embedder := embedding.NewSyntheticEmbedder(cfg.VecDim)
	box, err := crypto.NewBox(false, "", nil)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return New(store, vectors, embedder, box, clock.Real(), cfg)
}

// TestDeduplicationLaw: adding the same content
// twice for the same user yields exactly one row and boosts salience.
func TestDeduplicationLaw(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Store(ctx, "u1", "Paris trip in March", nil, nil)
	if err != nil {
		t.Fatalf("first store: %v", err)
	}
	if first.Deduplicated {
		t.Fatalf("expected first insert not to be marked deduplicated")
	}
	initialSalience := first.Memory.Salience

	second, err := e.Store(ctx, "u1", "Paris trip in March", nil, nil)
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if !second.Deduplicated {
		t.Fatalf("expected second store to report deduplicated=true")
	}
	if second.Memory.ID != first.Memory.ID {
		t.Fatalf("expected same memory id on dedup, got %s != %s", second.Memory.ID, first.Memory.ID)
	}
	if second.Memory.Salience <= initialSalience {
		t.Fatalf("expected dedup to boost salience above %f, got %f", initialSalience, second.Memory.Salience)
	}

	rows, err := e.PersistenceStore().GetBySimHash(ctx, "u1", first.Memory.SimHash)
	if err != nil {
		t.Fatalf("get by simhash: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one stored row, got %d", len(rows))
	}
}

// TestSearchRanksMostRelevantMemoryHighly checks hybrid-score ordering.
func TestSearchRanksMostRelevantMemoryHighly(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Store(ctx, "u1", "I went to Paris last week for a travel trip, visiting the Eiffel Tower", nil, nil); err != nil {
		t.Fatalf("store travel memory: %v", err)
	}
	if _, err := e.Store(ctx, "u1", "I feel so excited and thrilled about the new year", nil, nil); err != nil {
		t.Fatalf("store excitement memory: %v", err)
	}
	if _, err := e.Store(ctx, "u1", "Remember to water the plants every morning routine", nil, nil); err != nil {
		t.Fatalf("store routine memory: %v", err)
	}

	results, err := e.Search(ctx, "u1", "Paris travel experience", 5, SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one search result")
	}

	foundInTopTwo := false
	limit := len(results)
	if limit > 2 {
		limit = 2
	}
	for i := 0; i < limit; i++ {
		if results[i].Score <= 0 {
			t.Fatalf("expected positive score for result %d, got %f", i, results[i].Score)
		}
		if results[i].Trace == nil {
			t.Fatalf("expected a recall trace on result %d", i)
		}
		if len(results[i].Path) == 0 && results[i].Trace.Metrics["sim_adj"] <= 0 {
			t.Fatalf("expected a non-empty path or trace.metrics[sim_adj] > 0 on result %d", i)
		}
		if results[i].Trace.Justification == "" {
			t.Fatalf("expected a human-readable justification on result %d", i)
		}
		if containsAnyToken(results[i].Memory.Content, []string{"paris", "travel"}) {
			foundInTopTwo = true
		}
	}
	if !foundInTopTwo {
		t.Fatalf("expected the travel memory in the top-2 results, got %+v", results)
	}
}

// TestSearchScopesResultsToRequestedUser checks the per-query user
// ownership invariant.
func TestSearchScopesResultsToRequestedUser(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Store(ctx, "u1", "shared topic alpha beta gamma", nil, nil); err != nil {
		t.Fatalf("store u1: %v", err)
	}
	if _, err := e.Store(ctx, "u2", "shared topic alpha beta gamma", nil, nil); err != nil {
		t.Fatalf("store u2: %v", err)
	}

	results, err := e.Search(ctx, "u1", "shared topic alpha beta gamma", 10, SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.Memory.UserID != "u1" {
			t.Fatalf("expected only u1's memories, got a result owned by %s", r.Memory.UserID)
		}
	}
}
