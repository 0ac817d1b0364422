package hsg

import "github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"

// IngestResult is the outcome of a single Store call.
type IngestResult struct {
	Memory        *model.Memory
	Deduplicated  bool
}

// SearchFilters narrows a query: sector restriction, user scope,
// salience/time bounds, tag/metadata predicates, and a debug flag that
// populates SearchResult.Debug.
type SearchFilters struct {
	Sectors     []model.Sector
	UserID      string
	MinSalience float64
	StartTimeMS int64
	EndTimeMS   int64
	Tags        []string
	Metadata    map[string]any
	Debug       bool
}

// Trace explains why a memory was recalled: a human-readable justification,
// the raw scoring metrics behind it (keys sim_adj, tok_ov, recency,
// waypoint, tag, penalty), and the waypoint path that reached it.
type Trace struct {
	Justification string
	Metrics       map[string]float64
	Path          []string
}

// SearchResult is one ranked candidate returned from Search, carrying the
// final hybrid score, the waypoint expansion path (if any), a recall Trace,
// and, when Debug was requested, the same metrics exposed directly.
type SearchResult struct {
	Memory   *model.Memory
	Score    float64
	Path     []string
	Waypoint float64
	Trace    *Trace
	Debug    map[string]float64
}

func sectorStrings(sectors []model.Sector) []string {
	out := make([]string, len(sectors))
	for i, s := range sectors {
		out[i] = string(s)
	}
	return out
}

func containsSector(list []model.Sector, s model.Sector) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
