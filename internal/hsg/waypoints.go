package hsg

import (
	"context"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// semanticGravityScanRows and interMemoryScanRows bound the recent-history
// scans waypoint formation runs on every ingest.
const (
	semanticGravityScanRows = 250
	interMemorySimThreshold = 0.85
	interMemoryScanRows     = 100
	interMemoryEdgeWeight   = 0.5
)

// formWaypoints creates m's semantic-gravity edge (from its best-matching
// predecessor, or a self-loop if none qualifies) and any inter-memory edges
// to recent same-sector vectors above the cosine threshold. Failures are logged, never propagated: waypoint formation is
// best-effort relative to the memory insert that already succeeded.
func (e *Engine) formWaypoints(ctx context.Context, m *model.Memory) {
	// Semantic gravity considers the user's recent memories across every
	// sector; the most similar mean vector becomes the predecessor edge.
	recent, err := e.store.ListByUser(ctx, m.UserID, semanticGravityScanRows, 0)
	if err != nil {
		e.logger.Warnw("waypoint scan failed", "memory_id", m.ID, "err", err)
		return
	}

	now := e.clk().UnixMilli()
	var best *model.Memory
	var bestSim float64
	for _, cand := range recent {
		if cand.ID == m.ID || len(cand.MeanVec) == 0 {
			continue
		}
		sim := model.CosineSimilarity(cand.MeanVec, m.MeanVec)
		if sim > bestSim {
			bestSim = sim
			best = cand
		}
	}

	var edges []model.Waypoint
	if best != nil && bestSim > 0 {
		edges = append(edges, model.Waypoint{SrcID: best.ID, DstID: m.ID, UserID: m.UserID, Weight: bestSim, CreatedAt: now, UpdatedAt: now})
	} else {
		// No qualifying predecessor: a self-loop keeps every memory reachable
		// from the waypoint graph.
		edges = append(edges, model.Waypoint{SrcID: m.ID, DstID: m.ID, UserID: m.UserID, Weight: 1.0, CreatedAt: now, UpdatedAt: now})
	}

	// Inter-memory edges pair m bidirectionally with recent same-sector
	// memories above the cosine threshold.
	sameSector, err := e.store.ListBySector(ctx, m.UserID, m.Primary, interMemoryScanRows, 0)
	if err != nil {
		e.logger.Warnw("inter-memory scan failed", "memory_id", m.ID, "err", err)
		sameSector = nil
	}
	for _, cand := range sameSector {
		if cand.ID == m.ID || len(cand.MeanVec) == 0 {
			continue
		}
		sim := model.CosineSimilarity(cand.MeanVec, m.MeanVec)
		if sim < interMemorySimThreshold {
			continue
		}
		edges = append(edges,
			model.Waypoint{SrcID: m.ID, DstID: cand.ID, UserID: m.UserID, Weight: interMemoryEdgeWeight, CreatedAt: now, UpdatedAt: now},
			model.Waypoint{SrcID: cand.ID, DstID: m.ID, UserID: m.UserID, Weight: interMemoryEdgeWeight, CreatedAt: now, UpdatedAt: now},
		)
	}

	if err := e.store.UpsertWaypoints(ctx, edges); err != nil {
		e.logger.Warnw("waypoint upsert failed", "memory_id", m.ID, "err", err)
		return
	}
	e.metrics.AddWaypointsCreated(len(edges))
}
