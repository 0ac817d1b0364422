package hsg

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/classifier"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/dynamics"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/vectorstore"
)

// searchEscalationCap bounds how far the per-sector candidate fetch
// multiplier may grow before giving up on reaching k results.
const (
	searchEscalationCap  = 60
	searchTopAvgWindow   = 8
	waypointExpansionGate = 0.55
	recencyLambdaPerHour  = 0.05
	coactivationTau       = time.Hour
)

var temporalMarkerRe = regexp.MustCompile(`(?i)\b(yesterday|today|last (week|month|year)|recently|earlier|before|ago)\b`)

// scoredCandidate is one hybrid-scored retrieval candidate, carried through
// top-k selection and z-score normalization before becoming a SearchResult.
type scoredCandidate struct {
	memory *model.Memory
	score  float64
	path   []string
	wp     float64
	trace  *Trace
	debug  map[string]float64
}

// Search runs the full hybrid retrieval pipeline: classification,
// multi-sector embedding, escalating per-sector candidate search, optional
// waypoint BFS expansion, hybrid scoring, trace reinforcement and
// co-activation buffering.
func (e *Engine) Search(ctx context.Context, userID, queryText string, k int, filters SearchFilters) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	filters.UserID = userID

	e.incActive()
	defer e.decActive()

	now := e.clk()
	key := cacheKey(queryText, k, filters)
	if cached, ok := e.queryCache.get(key, now); ok {
		return cached, nil
	}

	base := classifier.Classify(queryText, filters.Metadata)
	querySectors := sectorSet(base.Primary, base.Additional)
	if len(filters.Sectors) > 0 {
		querySectors = intersectSectors(querySectors, filters.Sectors)
		if len(querySectors) == 0 {
			querySectors = filters.Sectors
		}
	}
	if temporalMarkerRe.MatchString(queryText) {
		// Informational only: a temporal subsystem would be consulted here
		// to surface supporting facts, without blocking retrieval.
		e.logger.Debugw("temporal marker detected in query", "query", queryText)
	}

	queryVectors, err := e.embedSectorsParallel(ctx, userID, queryText, querySectors)
	if err != nil {
		return nil, errs.Wrap(err, "embed query sectors")
	}
	queryMean := fusedMeanVector(queryVectors, querySectors)
	refined := e.refineWithLearned(ctx, userID, base, float32To64(queryMean), classifier.QueryConfidenceThreshold)
	primarySector := refined.Primary

	dimWeights := dynamics.DimensionWeights(string(primarySector))

	storeFilters := vectorstore.Filters{UserID: userID, MinSalience: filters.MinSalience, AfterMS: filters.StartTimeMS, BeforeMS: filters.EndTimeMS}
	hitScores := make(map[string]float64)
	for _, sector := range querySectors {
		vec, ok := queryVectors[sector]
		if !ok {
			continue
		}
		hits, err := e.searchSectorEscalating(ctx, vec, string(sector), k, storeFilters)
		if err != nil {
			e.logger.Warnw("sector search failed", "sector", sector, "err", err)
			continue
		}
		for _, h := range hits {
			if existing, ok := hitScores[h.ID]; !ok || h.Score > existing {
				hitScores[h.ID] = h.Score
			}
		}
	}
	if len(hitScores) == 0 {
		result := []SearchResult{}
		e.queryCache.put(key, result, now)
		return result, nil
	}

	avgTop := averageTopScores(hitScores, searchTopAvgWindow)
	effectiveK := computeEffectiveK(k, avgTop)

	candidateIDs := make([]string, 0, len(hitScores))
	for id := range hitScores {
		candidateIDs = append(candidateIDs, id)
	}

	waypointWeights := make(map[string]float64)
	waypointPaths := make(map[string][]string)
	if avgTop < waypointExpansionGate {
		seeds := make(map[string]float64, len(candidateIDs))
		for _, id := range candidateIDs {
			seeds[id] = hitScores[id]
		}
		activated, err := dynamics.Spread(seeds, dynamics.DefaultSpreadOptions(), e.neighborFetcher(ctx, userID))
		if err != nil {
			e.logger.Warnw("waypoint spread failed", "err", err)
		}
		for _, a := range activated {
			if _, seen := hitScores[a.ID]; !seen {
				candidateIDs = append(candidateIDs, a.ID)
			}
			waypointWeights[a.ID] = a.Weight
			waypointPaths[a.ID] = a.Path
		}
	}

	memories, err := e.store.GetByIDs(ctx, candidateIDs, userID)
	if err != nil {
		return nil, errs.Wrap(err, "bulk fetch candidate memories")
	}
	vectorsByID, err := e.vectors.GetVectorsByIDs(ctx, candidateIDs, userID)
	if err != nil {
		e.logger.Warnw("bulk fetch candidate vectors failed", "err", err)
	}

	memByID := make(map[string]*model.Memory, len(memories))
	for _, m := range memories {
		if !passesFilters(m, filters) {
			continue
		}
		memByID[m.ID] = m
	}

	queryTokens := model.CanonicalTokens(queryText)

	var scored []scoredCandidate
	coldHits := make(map[string]model.Sector)

	for _, id := range candidateIDs {
		m, ok := memByID[id]
		if !ok {
			continue
		}
		content, derr := e.box.Decrypt(m.Content)
		if derr != nil {
			e.logger.Warnw("decrypt candidate content failed", "memory_id", id, "err", derr)
			content = ""
		}

		// Multi-vector fusion: dimension-weighted cosine, normalized by the
		// total weight of the sectors that actually had vectors.
		sectorVecs := vectorsByID[id]
		var fusionSum, weightSum float64
		for _, sv := range sectorVecs {
			baseSector := model.BaseSector(sv.Sector)
			if model.IsColdSector(sv.Sector) {
				coldHits[id] = baseSector
			}
			qv, ok := queryVectors[baseSector]
			if !ok {
				continue
			}
			w := dimWeights[string(baseSector)]
			if w == 0 {
				w = 0.5
			}
			fusionSum += w * model.CosineSimilarity(qv, sv.Values)
			weightSum += w
		}
		fusion := 0.0
		if weightSum > 0 {
			fusion = fusionSum / weightSum
		}

		// Cross-sector resonance over the fused similarity; the best raw
		// per-sector hit wins when it beats the resonated fusion.
		sim := fusion * dynamics.Resonance(m.Primary, primarySector)
		if raw, ok := hitScores[id]; ok && raw > sim {
			sim = raw
		}

		// Cross-sector penalty when the memory sits outside the query's
		// whole sector set.
		penalty := 1.0
		if m.Primary != primarySector && !containsSector(refined.Additional, m.Primary) {
			penalty = dynamics.SectorPenalty(string(primarySector), string(m.Primary))
		}
		simAdj := sim * penalty

		overlap := tokenOverlap(queryTokens, model.CanonicalTokens(content))
		recency := math.Exp(-recencyLambdaPerHour * now.Sub(m.LastSeenAt).Hours())
		tagMatch := tagMatchScore(m.Tags, queryTokens)
		wpWeight := waypointWeights[id]

		sw := e.cfg.Scoring
		raw := sw.Similarity*dynamics.BoostedSimilarity(simAdj) +
			sw.Overlap*overlap +
			sw.Waypoint*wpWeight +
			sw.Recency*recency +
			sw.Tag*tagMatch +
			sw.KeywordBoost*overlap
		score := dynamics.Sigmoid(raw)

		path := waypointPaths[id]
		if len(path) == 0 {
			path = []string{id}
		}
		metrics := map[string]float64{
			"sim_adj":  simAdj,
			"tok_ov":   overlap,
			"recency":  recency,
			"waypoint": wpWeight,
			"tag":      tagMatch,
			"penalty":  penalty,
		}
		trace := &Trace{
			Justification: generateTrace(metrics, m.Primary),
			Metrics:       metrics,
			Path:          path,
		}
		debug := map[string]float64(nil)
		if filters.Debug {
			debug = metrics
		}
		scored = append(scored, scoredCandidate{memory: m, score: score, path: path, wp: wpWeight, trace: trace, debug: debug})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > effectiveK {
		scored = scored[:effectiveK]
	}
	normalizeZScore(scored)
	if e.cfg.DiversifyEnabled {
		scored = diversify(scored, queryMean, k, e.cfg.DiversifyLambda)
	} else if len(scored) > k {
		scored = scored[:k]
	}

	results := make([]SearchResult, 0, len(scored))
	reinforceIDs := make([]string, 0, len(scored))
	for _, c := range scored {
		content, _ := e.box.Decrypt(c.memory.Content)
		c.memory.Content = content
		results = append(results, SearchResult{Memory: c.memory, Score: c.score, Path: c.path, Waypoint: c.wp, Trace: c.trace, Debug: c.debug})
		reinforceIDs = append(reinforceIDs, c.memory.ID)
	}

	e.reinforceTrace(ctx, userID, scored, waypointPaths)
	e.bufferCoactivation(userID, reinforceIDs, now)
	e.regenerateColdHits(ctx, coldHits, memByID)

	e.queryCache.put(key, results, now)
	e.metrics.AddRetrieved(len(results))
	return results, nil
}

// searchSectorEscalating calls vectors.Search for sector, doubling the
// requested k (starting at 4*k) up to searchEscalationCap*k whenever the
// store returns fewer than k hits but may have more to give.
func (e *Engine) searchSectorEscalating(ctx context.Context, vec []float32, sector string, k int, filters vectorstore.Filters) ([]vectorstore.Hit, error) {
	multiplier := 4
	var hits []vectorstore.Hit
	for {
		fetchK := k * multiplier
		var err error
		hits, err = e.vectors.Search(ctx, vec, sector, fetchK, filters)
		if err != nil {
			return nil, err
		}
		// Fewer hits than requested means the store has nothing more to give.
		if len(hits) >= k || len(hits) < fetchK || multiplier >= searchEscalationCap {
			return hits, nil
		}
		multiplier *= 2
		if multiplier > searchEscalationCap {
			multiplier = searchEscalationCap
		}
	}
}

func (e *Engine) neighborFetcher(ctx context.Context, userID string) dynamics.NeighborFetcher {
	return func(ids []string) (map[string][]dynamics.Edge, error) {
		neighbors, err := e.store.GetNeighborsBatch(ctx, ids, userID)
		if err != nil {
			return nil, err
		}
		out := make(map[string][]dynamics.Edge, len(neighbors))
		for src, ws := range neighbors {
			edges := make([]dynamics.Edge, 0, len(ws))
			for _, w := range ws {
				edges = append(edges, dynamics.Edge{Dst: w.DstID, Weight: w.Weight})
			}
			out[src] = edges
		}
		return out, nil
	}
}

func intersectSectors(a, b []model.Sector) []model.Sector {
	set := make(map[model.Sector]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []model.Sector
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

func passesFilters(m *model.Memory, f SearchFilters) bool {
	if f.MinSalience > 0 && m.Salience < f.MinSalience {
		return false
	}
	if f.StartTimeMS > 0 && m.CreatedAt.UnixMilli() < f.StartTimeMS {
		return false
	}
	if f.EndTimeMS > 0 && m.CreatedAt.UnixMilli() > f.EndTimeMS {
		return false
	}
	if len(f.Sectors) > 0 && !containsSector(f.Sectors, m.Primary) {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(m.Tags, f.Tags) {
		return false
	}
	return true
}

func hasAnyTag(tags, want []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

func averageTopScores(scores map[string]float64, window int) float64 {
	vals := make([]float64, 0, len(scores))
	for _, v := range scores {
		vals = append(vals, v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	if len(vals) > window {
		vals = vals[:window]
	}
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// computeEffectiveK widens the pre-truncation candidate pool when the query
// is weakly matched (low avg_top), so waypoint-expanded and resonance-boosted
// candidates get a fair chance to outrank the raw top hits.
func computeEffectiveK(k int, avgTop float64) int {
	if avgTop >= waypointExpansionGate {
		return k
	}
	expansion := int(math.Ceil((waypointExpansionGate - avgTop) * float64(k) * 2))
	effective := k + expansion
	if max := k * 3; effective > max {
		effective = max
	}
	return effective
}

// tokenOverlap is the share of the query's canonical token set also present
// in the memory's token set.
func tokenOverlap(queryTokens, memTokens []string) float64 {
	qset := tokenSet(queryTokens)
	if len(qset) == 0 {
		return 0
	}
	mset := tokenSet(memTokens)
	inter := 0
	for t := range qset {
		if mset[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(qset))
}

// tagMatchScore rewards tags found in the query token set: 2 per exact
// match, 1 per substring match either way, normalized to [0, 1].
func tagMatchScore(tags []string, queryTokens []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	qset := tokenSet(queryTokens)
	matches := 0
	for _, tag := range tags {
		tl := strings.ToLower(tag)
		if qset[tl] {
			matches += 2
			continue
		}
		for tok := range qset {
			if strings.Contains(tl, tok) || strings.Contains(tok, tl) {
				matches++
			}
		}
	}
	score := float64(matches) / float64(len(tags)*2)
	if score > 1 {
		score = 1
	}
	return score
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// generateTrace renders a human-readable justification for why a memory was
// recalled, from the same metrics exposed on Trace.Metrics.
func generateTrace(metrics map[string]float64, primary model.Sector) string {
	just := fmt.Sprintf("Recalled via %s resonance", primary)
	if metrics["sim_adj"] > 0.6 {
		just += fmt.Sprintf(" (high semantic similarity: %.2f)", metrics["sim_adj"])
	} else if metrics["tok_ov"] > 0.4 {
		just += fmt.Sprintf(" (strong keyword overlap: %.2f)", metrics["tok_ov"])
	}
	if metrics["waypoint"] > 0.2 {
		just += fmt.Sprintf(", linked via associative waypoint (%.2f)", metrics["waypoint"])
	}
	if metrics["recency"] > 0.8 {
		just += ", reinforced by recent interaction"
	} else if metrics["recency"] < 0.2 {
		just += ", retrieved from long-term memory"
	}
	if metrics["tag"] > 0.5 {
		just += " (matched user tags)"
	}
	return just
}

func containsAnyToken(content string, tokens []string) bool {
	contentTokens := model.CanonicalTokens(content)
	set := make(map[string]bool, len(contentTokens))
	for _, t := range contentTokens {
		set[t] = true
	}
	for _, t := range tokens {
		if set[t] {
			return true
		}
	}
	return false
}

func normalizeZScore(scored []scoredCandidate) {
	if len(scored) < 2 {
		return
	}
	var mean float64
	for _, s := range scored {
		mean += s.score
	}
	mean /= float64(len(scored))
	var variance float64
	for _, s := range scored {
		d := s.score - mean
		variance += d * d
	}
	variance /= float64(len(scored))
	stddev := math.Sqrt(variance)
	if stddev < 1e-9 {
		return
	}
	for i := range scored {
		z := (scored[i].score - mean) / stddev
		scored[i].score = dynamics.Sigmoid(z)
	}
}

// reinforceTrace bumps each returned memory's salience and feedback score
// (EMA against the result's final score), propagates associative
// reinforcement to its waypoint neighbors, and bumps each traversed BFS
// edge by waypoint_boost. Edge updates read the current
// weight first so repeated retrievals accumulate instead of overwrite.
func (e *Engine) reinforceTrace(ctx context.Context, userID string, scored []scoredCandidate, paths map[string][]string) {
	if len(scored) == 0 {
		return
	}
	now := e.clk()
	rw := e.cfg.Reinforcement

	topIDs := make([]string, 0, len(scored))
	newSalience := make(map[string]float64, len(scored))
	updates := make([]persistence.SalienceUpdate, 0, len(scored))
	for _, c := range scored {
		m := c.memory
		ns := model.Clamp(m.Salience+rw.TraceBoost*(1-m.Salience), 0, 1)
		feedback := model.Clamp(0.9*m.FeedbackScore+0.1*c.score, 0, 1)
		topIDs = append(topIDs, m.ID)
		newSalience[m.ID] = ns
		updates = append(updates, persistence.SalienceUpdate{
			ID: m.ID, UserID: userID, Salience: ns,
			UpdatedAt: now.UnixMilli(), LastSeenAt: now.UnixMilli(),
			FeedbackScore: feedback,
		})
		m.FeedbackScore = feedback
	}

	// One batched neighbor fetch covers both the associative propagation
	// sources and every src along a traversal path.
	srcSet := map[string]bool{}
	for _, id := range topIDs {
		srcSet[id] = true
	}
	for _, id := range topIDs {
		path := paths[id]
		for i := 0; i+1 < len(path); i++ {
			srcSet[path[i]] = true
		}
	}
	srcIDs := make([]string, 0, len(srcSet))
	for id := range srcSet {
		srcIDs = append(srcIDs, id)
	}
	neighbors, err := e.store.GetNeighborsBatch(ctx, srcIDs, userID)
	if err != nil {
		e.logger.Warnw("trace reinforcement neighbor fetch failed", "err", err)
		neighbors = nil
	}
	edgeWeight := func(src, dst string) float64 {
		for _, w := range neighbors[src] {
			if w.DstID == dst {
				return w.Weight
			}
		}
		return 0
	}

	// Associative reinforcement: pr = factor * edge_weight * new_salience,
	// applied to each neighbor's salience (capped at 1).
	propagation := map[string]float64{}
	for _, id := range topIDs {
		ns := newSalience[id]
		for _, w := range neighbors[id] {
			if _, isTop := newSalience[w.DstID]; isTop || w.DstID == id {
				continue
			}
			pr := rw.AssociativeFactor * w.Weight * ns
			if pr > propagation[w.DstID] {
				propagation[w.DstID] = pr
			}
		}
	}
	if len(propagation) > 0 {
		nids := make([]string, 0, len(propagation))
		for id := range propagation {
			nids = append(nids, id)
		}
		if rows, err := e.store.GetByIDs(ctx, nids, userID); err != nil {
			e.logger.Warnw("trace reinforcement neighbor load failed", "err", err)
		} else {
			for _, n := range rows {
				updates = append(updates, persistence.SalienceUpdate{
					ID: n.ID, UserID: userID,
					Salience:      model.Clamp(n.Salience+propagation[n.ID], 0, 1),
					UpdatedAt:     now.UnixMilli(),
					FeedbackScore: -1,
				})
			}
		}
	}

	var edgeBumps []model.Waypoint
	for _, id := range topIDs {
		path := paths[id]
		for i := 0; i+1 < len(path); i++ {
			src, dst := path[i], path[i+1]
			edgeBumps = append(edgeBumps, model.Waypoint{
				SrcID: src, DstID: dst, UserID: userID,
				Weight:    math.Min(rw.MaxWaypointWeight, edgeWeight(src, dst)+rw.WaypointBoost),
				CreatedAt: now.UnixMilli(), UpdatedAt: now.UnixMilli(),
			})
		}
	}

	if err := e.store.BatchUpdateSalience(ctx, updates); err != nil {
		e.logger.Warnw("trace reinforcement salience update failed", "err", err)
	}
	if len(edgeBumps) > 0 {
		if err := e.store.UpsertWaypoints(ctx, edgeBumps); err != nil {
			e.logger.Warnw("trace reinforcement waypoint bump failed", "err", err)
		}
	}
}

// bufferCoactivation records every pairwise co-activation among this query's
// results and drains up to one batch (the buffer's batch size) through to
// the waypoint graph on every call while pairs are pending.
func (e *Engine) bufferCoactivation(userID string, ids []string, now time.Time) {
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			e.coact.push(coactPair{UserID: userID, A: ids[i], B: ids[j], AtMS: now.UnixMilli()})
		}
	}
	batch := e.coact.drainBatch()
	if len(batch) == 0 {
		return
	}
	ctx := context.Background()
	now2 := e.clk()
	eta := e.cfg.Reinforcement.CoactivationEta

	// The update w <- min(1, w + eta*(1-w)*temporal_factor) needs the
	// current weight, so read each batch's edges first, grouped per user.
	byUser := map[string][]coactPair{}
	for _, p := range batch {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}
	var edges []model.Waypoint
	for uid, pairs := range byUser {
		srcSet := map[string]bool{}
		for _, p := range pairs {
			srcSet[p.A] = true
			srcSet[p.B] = true
		}
		srcs := make([]string, 0, len(srcSet))
		for id := range srcSet {
			srcs = append(srcs, id)
		}
		neighbors, err := e.store.GetNeighborsBatch(ctx, srcs, uid)
		if err != nil {
			e.logger.Warnw("co-activation neighbor fetch failed", "user_id", uid, "err", err)
			continue
		}
		current := func(src, dst string) float64 {
			for _, w := range neighbors[src] {
				if w.DstID == dst {
					return w.Weight
				}
			}
			return 0
		}
		for _, p := range pairs {
			deltaT := time.Duration(now2.UnixMilli()-p.AtMS) * time.Millisecond
			factor := math.Exp(-deltaT.Hours() / coactivationTau.Hours())
			bump := func(src, dst string) model.Waypoint {
				w := current(src, dst)
				return model.Waypoint{
					SrcID: src, DstID: dst, UserID: uid,
					Weight:    math.Min(1, w+eta*(1-w)*factor),
					CreatedAt: now2.UnixMilli(), UpdatedAt: now2.UnixMilli(),
				}
			}
			edges = append(edges, bump(p.A, p.B), bump(p.B, p.A))
		}
	}
	if len(edges) > 0 {
		if err := e.store.UpsertWaypoints(ctx, edges); err != nil {
			e.logger.Warnw("co-activation drain failed", "err", err)
		}
	}
}

// regenerateColdHits restores any cold/compressed vector hit to full
// resolution via the decay engine's on-query-hit path.
func (e *Engine) regenerateColdHits(ctx context.Context, coldHits map[string]model.Sector, memByID map[string]*model.Memory) {
	if e.decay == nil {
		return
	}
	for id, sector := range coldHits {
		m, ok := memByID[id]
		if !ok {
			continue
		}
		plain, derr := e.box.Decrypt(m.Content)
		if derr != nil {
			e.logger.Warnw("decrypt for cold regeneration failed", "memory_id", id, "err", derr)
			continue
		}
		reembed := func(string) ([]float32, error) {
			return e.embedder.Embed(ctx, plain, string(sector))
		}
		if err := e.decay.OnQueryHit(ctx, m, sector, reembed); err != nil {
			e.logger.Warnw("cold vector regeneration failed", "memory_id", id, "err", err)
		}
	}
}
