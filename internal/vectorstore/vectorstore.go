// Package vectorstore implements the (memory_id, sector) -> vector
// contract: embedded (blob + cosine scan, optionally sqlite-vec
// accelerated), external (pgvector), and in-memory implementations.
package vectorstore

import (
	"context"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// Filters narrows a search to a user scope and optional metadata predicates.
// Metadata predicates are pushed down only by backends that can translate
// them into an index-assisted scan; others apply them
// post-fetch via the IDs the scan returns.
type Filters struct {
	UserID      string
	MinSalience float64
	AfterMS     int64
	BeforeMS    int64
	ExcludeIDs  map[string]bool
}

// Hit is one search result: a memory id and its cosine similarity score.
type Hit struct {
	ID    string
	Score float64
}

// VectorStore is the composite-keyed vector contract.
type VectorStore interface {
	StoreVector(ctx context.Context, v model.Vector) error
	StoreVectors(ctx context.Context, vs []model.Vector) error

	GetVectorsByID(ctx context.Context, id, userID string) ([]model.Vector, error)
	GetVectorsByIDs(ctx context.Context, ids []string, userID string) (map[string][]model.Vector, error)
	GetVector(ctx context.Context, id, sector, userID string) (*model.Vector, error)

	DeleteVectors(ctx context.Context, id string, sector string) error

	// Search returns up to k hits for sector, ordered by descending cosine
	// similarity. Implementations saturate gracefully: fewer than k rows is
	// a valid, non-error result.
	Search(ctx context.Context, queryVec []float32, sector string, k int, filters Filters) ([]Hit, error)

	Disconnect(ctx context.Context) error
}
