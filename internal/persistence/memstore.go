package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// MemStore is an in-process implementation of Store, used for tests and the
// lightweight single-process deployment mode.
type MemStore struct {
	mu sync.RWMutex

	memories   map[string]*model.Memory
	waypoints  map[string]model.Waypoint // key: src|dst|user
	classifier map[string]*model.ClassifierModel
	profiles   map[string]*model.UserProfile
	embedLogs  map[string]*model.EmbedLog
	statEvents []model.StatEvent
	maintLogs  []model.MaintLog
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		memories:   make(map[string]*model.Memory),
		waypoints:  make(map[string]model.Waypoint),
		classifier: make(map[string]*model.ClassifierModel),
		profiles:   make(map[string]*model.UserProfile),
		embedLogs:  make(map[string]*model.EmbedLog),
	}
}

func waypointKey(src, dst, user string) string { return src + "|" + dst + "|" + user }

func cloneMemory(m *model.Memory) *model.Memory {
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Metadata = model.CloneMetadata(m.Metadata)
	cp.MeanVec = append([]float32(nil), m.MeanVec...)
	cp.CompressedVec = append([]float32(nil), m.CompressedVec...)
	return &cp
}

func (s *MemStore) UpsertMemory(_ context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = cloneMemory(m)
	return nil
}

func (s *MemStore) ownedOK(m *model.Memory, userID string) bool {
	return userID == "" || m.UserID == "" || m.UserID == userID
}

func (s *MemStore) UpdateSeen(_ context.Context, id, userID string, lastSeenAt int64, salience float64, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || !s.ownedOK(m, userID) {
		return nil
	}
	m.LastSeenAt = msToTime(lastSeenAt)
	m.Salience = model.Clamp(salience, 0, 1)
	m.UpdatedAt = msToTime(updatedAt)
	return nil
}

func (s *MemStore) UpdateContent(_ context.Context, id, userID, content string, primary model.Sector, version int, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || !s.ownedOK(m, userID) {
		return nil
	}
	m.Content = content
	m.Primary = primary
	m.Version = version
	m.UpdatedAt = msToTime(updatedAt)
	return nil
}

func (s *MemStore) BatchUpdateSalience(_ context.Context, updates []SalienceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		m, ok := s.memories[u.ID]
		if !ok || !s.ownedOK(m, u.UserID) {
			continue
		}
		m.Salience = model.Clamp(u.Salience, 0, 1)
		m.UpdatedAt = msToTime(u.UpdatedAt)
		if u.LastSeenAt > 0 {
			m.LastSeenAt = msToTime(u.LastSeenAt)
		}
		if u.FeedbackScore >= 0 {
			m.FeedbackScore = model.Clamp(u.FeedbackScore, 0, 1)
		}
	}
	return nil
}

func (s *MemStore) GetMemory(_ context.Context, id, userID string) (*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok || !s.ownedOK(m, userID) {
		return nil, nil
	}
	return cloneMemory(m), nil
}

func (s *MemStore) GetBySimHash(_ context.Context, userID, simhash string) ([]*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Memory
	for _, m := range s.memories {
		if m.SimHash == simhash && s.ownedOK(m, userID) {
			out = append(out, cloneMemory(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Salience > out[j].Salience })
	return out, nil
}

func (s *MemStore) GetByIDs(_ context.Context, ids []string, userID string) ([]*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Memory
	for _, id := range ids {
		if m, ok := s.memories[id]; ok && s.ownedOK(m, userID) {
			out = append(out, cloneMemory(m))
		}
	}
	return out, nil
}

func (s *MemStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*model.Memory
	for _, m := range s.memories {
		if userID == "" || m.UserID == userID {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, offset, limit), nil
}

func (s *MemStore) ListBySector(_ context.Context, userID string, sector model.Sector, limit, offset int) ([]*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*model.Memory
	for _, m := range s.memories {
		if (userID == "" || m.UserID == userID) && m.Primary == sector {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, offset, limit), nil
}

func paginate(all []*model.Memory, offset, limit int) []*model.Memory {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*model.Memory, end-offset)
	for i := offset; i < end; i++ {
		out[i-offset] = cloneMemory(all[i])
	}
	return out
}

func (s *MemStore) ListActiveUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, m := range s.memories {
		if !seen[m.UserID] {
			seen[m.UserID] = true
			out = append(out, m.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) SegmentStats(_ context.Context, userID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count, maxSeg := 0, 0
	for _, m := range s.memories {
		if m.UserID == userID {
			count++
			if m.Segment > maxSeg {
				maxSeg = m.Segment
			}
		}
	}
	return count, maxSeg, nil
}

func (s *MemStore) UpsertWaypoint(_ context.Context, w model.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ClampWeight()
	s.waypoints[waypointKey(w.SrcID, w.DstID, w.UserID)] = w
	return nil
}

func (s *MemStore) UpsertWaypoints(ctx context.Context, ws []model.Waypoint) error {
	for _, w := range ws {
		if err := s.UpsertWaypoint(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) GetNeighborsBatch(_ context.Context, srcIDs []string, userID string) (map[string][]model.Waypoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(srcIDs))
	for _, id := range srcIDs {
		want[id] = true
	}
	out := make(map[string][]model.Waypoint)
	for _, w := range s.waypoints {
		if w.UserID == userID && want[w.SrcID] {
			out[w.SrcID] = append(out[w.SrcID], w)
		}
	}
	return out, nil
}

func (s *MemStore) DeleteWaypointsByEndpoint(_ context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, w := range s.waypoints {
		if w.SrcID == memoryID || w.DstID == memoryID {
			delete(s.waypoints, k)
		}
	}
	return nil
}

func (s *MemStore) PruneWaypoints(_ context.Context, userID string, minWeight float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, w := range s.waypoints {
		if w.UserID == userID && w.Weight < minWeight {
			delete(s.waypoints, k)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DeleteMemory(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || !s.ownedOK(m, userID) {
		return nil
	}
	delete(s.memories, id)
	for k, w := range s.waypoints {
		if w.SrcID == id || w.DstID == id {
			delete(s.waypoints, k)
		}
	}
	return nil
}

func (s *MemStore) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.memories {
		if m.UserID == userID {
			delete(s.memories, id)
			n++
		}
	}
	for k, w := range s.waypoints {
		if w.UserID == userID {
			delete(s.waypoints, k)
		}
	}
	return n, nil
}

func (s *MemStore) GetClassifierModel(_ context.Context, userID string) (*model.ClassifierModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cm, ok := s.classifier[userID]
	if !ok {
		return nil, nil
	}
	cp := *cm
	return &cp, nil
}

func (s *MemStore) PutClassifierModel(_ context.Context, cm *model.ClassifierModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cm
	s.classifier[cm.UserID] = &cp
	return nil
}

func (s *MemStore) IterateTrainingSamples(_ context.Context, userID string, limit int, fn func([]float32, model.Sector) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.memories {
		if m.UserID != userID || len(m.MeanVec) == 0 {
			continue
		}
		if limit > 0 && n >= limit {
			break
		}
		n++
		if !fn(m.MeanVec, m.Primary) {
			break
		}
	}
	return nil
}

func (s *MemStore) GetUserProfile(_ context.Context, userID string) (*model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) PutUserProfile(_ context.Context, p *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserID] = &cp
	return nil
}

func (s *MemStore) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for u := range s.profiles {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) AppendEmbedLog(_ context.Context, e model.EmbedLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := e
	s.embedLogs[e.ID] = &cp
	return nil
}

func (s *MemStore) UpdateEmbedLogStatus(_ context.Context, id string, status model.EmbedLogStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.embedLogs[id]; ok {
		e.Status = status
		e.Err = errMsg
	}
	return nil
}

func (s *MemStore) AppendStatEvent(_ context.Context, e model.StatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statEvents = append(s.statEvents, e)
	return nil
}

func (s *MemStore) AppendMaintLog(_ context.Context, m model.MaintLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintLogs = append(s.maintLogs, m)
	return nil
}

func (s *MemStore) DeleteStatsOlderThan(_ context.Context, days int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := nowMillis() - int64(days)*86400_000
	kept := s.statEvents[:0]
	n := 0
	for _, e := range s.statEvents {
		if e.TS < cutoff {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.statEvents = kept
	return n, nil
}

func (s *MemStore) DeleteOrphans(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wp := 0
	for k, w := range s.waypoints {
		_, srcOK := s.memories[w.SrcID]
		_, dstOK := s.memories[w.DstID]
		if !srcOK || !dstOK {
			delete(s.waypoints, k)
			wp++
		}
	}
	return 0, wp, nil
}

func (s *MemStore) Optimize(_ context.Context) error { return nil }

func (s *MemStore) Disconnect(_ context.Context) error { return nil }
