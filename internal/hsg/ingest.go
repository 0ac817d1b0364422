package hsg

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/classifier"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// dedupSalienceBoost and dedupHammingThreshold control near-duplicate
// detection and the salience reward a repeated memory earns.
const (
	dedupSalienceBoost   = 0.15
	dedupHammingThreshold = 3
	meanVectorBeta        = 2.0
	meanVectorEpsilon     = 1e-8
)

// Store ingests one piece of content for userID. tags and metadata may
// be nil. A deduplicated result is a normal success, not an error.
func (e *Engine) Store(ctx context.Context, userID, content string, tags []string, metadata map[string]any) (*IngestResult, error) {
	if content == "" {
		return nil, errs.Validationf("content must not be empty")
	}
	simhash := model.ComputeSimHash(content)

	if dup, err := e.findDuplicate(ctx, userID, simhash); err != nil {
		return nil, errs.Wrap(err, "dedup lookup")
	} else if dup != nil {
		return e.applyDedup(ctx, dup)
	}

	base := classifier.Classify(content, metadata)
	allSectors := sectorSet(base.Primary, base.Additional)

	_ = chunkContent(content) // reserved for future per-chunk indexing

	vectors, err := e.embedSectorsParallel(ctx, userID, content, allSectors)
	if err != nil {
		return nil, errs.Wrap(err, "embed sectors")
	}

	return e.finishIngest(ctx, userID, content, tags, metadata, simhash, base, allSectors, vectors)
}

// finishIngest runs the tail of the ingest pipeline once the sector
// vectors exist:
// learned refinement, fused mean, segment selection, essence extraction,
// encryption, row insert, vector writes, waypoint formation and the async
// summary refresh. Shared by Store and StoreBatch.
func (e *Engine) finishIngest(ctx context.Context, userID, content string, tags []string, metadata map[string]any,
	simhash string, base classifier.Result, allSectors []model.Sector, vectors map[model.Sector][]float32) (*IngestResult, error) {
	prelimMean := preliminaryMean(vectors, allSectors)
	refined := e.refineWithLearned(ctx, userID, base, float32To64(prelimMean), classifier.IngestConfidenceThreshold)
	if refined.Primary != base.Primary && !containsSector(allSectors, refined.Primary) {
		vec, err := e.embedder.Embed(ctx, content, string(refined.Primary))
		if err != nil {
			e.logger.Warnw("embed refined primary sector failed", "sector", refined.Primary, "err", err)
		} else {
			vectors[refined.Primary] = vec
			allSectors = append(allSectors, refined.Primary)
		}
	}

	meanVec := fusedMeanVector(vectors, allSectors)

	segment, err := e.nextSegment(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(err, "segment selection")
	}

	storedContent := content
	if e.cfg.UseSummaryOnly && len(content) > e.cfg.SummaryMaxLength {
		storedContent = essence(content, e.cfg.SummaryMaxLength)
	}

	encrypted, err := e.box.Encrypt(storedContent)
	if err != nil {
		return nil, errs.Wrap(err, "encrypt content")
	}

	now := e.clk()
	id := uuid.NewString()
	salience := model.Clamp(0.4+0.1*float64(len(refined.Additional)), 0, 1)
	lambda := e.cfg.DecaySectorLambdas[string(refined.Primary)]

	m := &model.Memory{
		ID:          id,
		UserID:      userID,
		Segment:     segment,
		Content:     encrypted,
		SimHash:     simhash,
		Primary:     refined.Primary,
		Tags:        tags,
		Metadata:    model.CloneMetadata(metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
		LastSeenAt:  now,
		Salience:    salience,
		DecayLambda: lambda,
		Version:     1,
		MeanDim:     len(meanVec),
		MeanVec:     meanVec,
	}
	m.SetAdditionalSectors(refined.Additional)

	if e.cfg.Tier == "smart" && len(meanVec) > 128 {
		m.CompressedVec = meanPool(meanVec, 128)
	}

	if err := e.store.UpsertMemory(ctx, m); err != nil {
		return nil, errs.Wrap(err, "upsert memory")
	}
	e.metrics.IncStored()

	vectorRows := make([]model.Vector, 0, len(vectors))
	for sector, vec := range vectors {
		vectorRows = append(vectorRows, model.NewVector(id, string(sector), userID, vec))
	}
	if err := e.vectors.StoreVectors(ctx, vectorRows); err != nil {
		e.logger.Warnw("store sector vectors failed", "memory_id", id, "err", err)
	}

	// Waypoint formation and summary refresh are best-effort: every step
	// after the memory insert logs failures instead of propagating them.
	e.formWaypoints(ctx, m)
	go e.refreshUserSummaryAsync(userID)

	return &IngestResult{Memory: m}, nil
}

func (e *Engine) findDuplicate(ctx context.Context, userID, simhash string) (*model.Memory, error) {
	candidates, err := e.store.GetBySimHash(ctx, userID, simhash)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Salience > candidates[j].Salience })
	best := candidates[0]
	dist, err := model.HammingDistanceHex(best.SimHash, simhash)
	if err != nil || dist > dedupHammingThreshold {
		return nil, nil
	}
	return best, nil
}

func (e *Engine) applyDedup(ctx context.Context, existing *model.Memory) (*IngestResult, error) {
	now := e.clk()
	newSalience := model.Clamp(existing.Salience+dedupSalienceBoost, 0, 1)
	if err := e.store.UpdateSeen(ctx, existing.ID, existing.UserID, now.UnixMilli(), newSalience, now.UnixMilli()); err != nil {
		return nil, errs.Wrap(err, "bump dedup salience")
	}
	existing.Salience = newSalience
	existing.LastSeenAt = now
	existing.UpdatedAt = now
	e.metrics.IncDeduplicated()
	return &IngestResult{Memory: existing, Deduplicated: true}, nil
}

// embedSectorsParallel embeds content once per sector, fanning out with a
// WaitGroup and logging one
// pending->completed/failed embed-log row for the whole call.
func (e *Engine) embedSectorsParallel(ctx context.Context, userID, content string, sectors []model.Sector) (map[model.Sector][]float32, error) {
	logID := uuid.NewString()
	_ = e.store.AppendEmbedLog(ctx, model.EmbedLog{ID: logID, Model: e.embedder.Name(), Status: model.EmbedPending, TS: e.clk().UnixMilli(), UserID: userID})

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		out     = make(map[model.Sector][]float32, len(sectors))
		firstErr error
	)
	for _, sector := range sectors {
		sector := sector
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := e.embedder.Embed(ctx, content, string(sector))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			out[sector] = vec
		}()
	}
	wg.Wait()

	if firstErr != nil && len(out) == 0 {
		_ = e.store.UpdateEmbedLogStatus(ctx, logID, model.EmbedFailed, firstErr.Error())
		return nil, firstErr
	}
	_ = e.store.UpdateEmbedLogStatus(ctx, logID, model.EmbedCompleted, "")
	return out, nil
}

// preliminaryMean equal-weights every embedded sector, giving the learned
// classifier something to evaluate before the final softmax-weighted mean
// is known.
func preliminaryMean(vectors map[model.Sector][]float32, sectors []model.Sector) []float32 {
	var dim int
	for _, s := range sectors {
		if v, ok := vectors[s]; ok {
			dim = len(v)
			break
		}
	}
	if dim == 0 {
		return nil
	}
	sum := make([]float64, dim)
	n := 0
	for _, s := range sectors {
		v, ok := vectors[s]
		if !ok || len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i, x := range sum {
		out[i] = float32(x / float64(n))
	}
	return out
}

// fusedMeanVector computes the softmax-weighted (beta=2.0) mean across
// sectors' vectors, L2-normalized with epsilon=1e-8. Each sector
// contributes exp(beta*w)/sum(exp(beta*w)) of its vector, where w is the
// sector's static importance weight.
func fusedMeanVector(vectors map[model.Sector][]float32, sectors []model.Sector) []float32 {
	var dim int
	weights := make(map[model.Sector]float64, len(sectors))
	for _, s := range sectors {
		v, ok := vectors[s]
		if !ok {
			continue
		}
		if dim == 0 {
			dim = len(v)
		}
		weights[s] = model.SectorWeight(s)
	}
	if dim == 0 {
		return nil
	}

	var denom float64
	softmax := make(map[model.Sector]float64, len(weights))
	for s, w := range weights {
		e := math.Exp(meanVectorBeta * w)
		softmax[s] = e
		denom += e
	}
	if denom == 0 {
		denom = 1
	}

	sum := make([]float64, dim)
	for s, e := range softmax {
		v := vectors[s]
		if len(v) != dim {
			continue
		}
		contribution := e / denom
		for i, x := range v {
			sum[i] += contribution * float64(x)
		}
	}
	out := make([]float32, dim)
	for i, x := range sum {
		out[i] = float32(x)
	}
	return model.L2Normalize(out, meanVectorEpsilon)
}

func (e *Engine) nextSegment(ctx context.Context, userID string) (int, error) {
	count, maxSegment, err := e.store.SegmentStats(ctx, userID)
	if err != nil {
		return 0, err
	}
	segSize := e.cfg.SegSize
	if segSize <= 0 {
		segSize = 5000
	}
	if count >= segSize {
		return maxSegment + 1, nil
	}
	return maxSegment, nil
}

func sectorSet(primary model.Sector, additional []model.Sector) []model.Sector {
	out := []model.Sector{primary}
	seen := map[model.Sector]bool{primary: true}
	for _, s := range additional {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func float32To64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func meanPool(v []float32, targetDim int) []float32 {
	if targetDim <= 0 || targetDim >= len(v) {
		return append([]float32(nil), v...)
	}
	out := make([]float32, targetDim)
	bucket := float64(len(v)) / float64(targetDim)
	for i := 0; i < targetDim; i++ {
		start := int(float64(i) * bucket)
		end := int(float64(i+1) * bucket)
		if end <= start {
			end = start + 1
		}
		if end > len(v) {
			end = len(v)
		}
		var sum float32
		count := 0
		for j := start; j < end; j++ {
			sum += v[j]
			count++
		}
		if count > 0 {
			out[i] = sum / float32(count)
		}
	}
	return out
}
