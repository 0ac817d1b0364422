package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// MemStore is a full-scan in-process VectorStore: a mutex-guarded map
// with sort-then-slice search.
type MemStore struct {
	mu   sync.RWMutex
	rows map[string]model.Vector // key: id|sector|userID
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]model.Vector)}
}

func vecKey(id, sector, userID string) string { return id + "|" + sector + "|" + userID }

func (s *MemStore) StoreVector(_ context.Context, v model.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := v
	cp.Values = append([]float32(nil), v.Values...)
	cp.Dim = len(cp.Values)
	s.rows[vecKey(v.MemoryID, v.Sector, v.UserID)] = cp
	return nil
}

func (s *MemStore) StoreVectors(ctx context.Context, vs []model.Vector) error {
	for _, v := range vs {
		if err := s.StoreVector(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) GetVectorsByID(_ context.Context, id, userID string) ([]model.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Vector
	for _, v := range s.rows {
		if v.MemoryID == id && (userID == "" || v.UserID == userID) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *MemStore) GetVectorsByIDs(_ context.Context, ids []string, userID string) (map[string][]model.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string][]model.Vector)
	for _, v := range s.rows {
		if want[v.MemoryID] && (userID == "" || v.UserID == userID) {
			out[v.MemoryID] = append(out[v.MemoryID], v)
		}
	}
	return out, nil
}

func (s *MemStore) GetVector(_ context.Context, id, sector, userID string) (*model.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[vecKey(id, sector, userID)]
	if !ok {
		return nil, nil
	}
	cp := v
	return &cp, nil
}

func (s *MemStore) DeleteVectors(_ context.Context, id string, sector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.rows {
		if v.MemoryID != id {
			continue
		}
		if sector != "" && v.Sector != sector {
			continue
		}
		delete(s.rows, k)
	}
	return nil
}

func (s *MemStore) Search(_ context.Context, queryVec []float32, sector string, k int, filters Filters) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []Hit
	for _, v := range s.rows {
		if v.Sector != sector {
			continue
		}
		if filters.UserID != "" && v.UserID != filters.UserID {
			continue
		}
		if filters.ExcludeIDs != nil && filters.ExcludeIDs[v.MemoryID] {
			continue
		}
		hits = append(hits, Hit{ID: v.MemoryID, Score: model.CosineSimilarity(queryVec, v.Values)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemStore) Disconnect(_ context.Context) error { return nil }
