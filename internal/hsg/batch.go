package hsg

import (
	"context"

	"github.com/google/uuid"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/classifier"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// BatchItem is one entry of a StoreBatch call.
type BatchItem struct {
	UserID   string
	Content  string
	Tags     []string
	Metadata map[string]any
}

// StoreBatch ingests items in batch shape: one
// dedup pass over the whole batch before any embedding, then one
// sector-grouped EmbedBatch call per sector, then the per-item tail of the
// ingest pipeline. A single item's failure does not abort the rest: its
// slot holds a nil result and the error is returned alongside.
func (e *Engine) StoreBatch(ctx context.Context, items []BatchItem) ([]*IngestResult, []error) {
	results := make([]*IngestResult, len(items))
	errsOut := make([]error, len(items))

	type pendingItem struct {
		idx     int
		simhash string
		base    classifier.Result
		sectors []model.Sector
	}
	var pending []pendingItem

	// Single dedup pass before embedding. Two
	// identical new items in one batch both insert; the next decay cycle
	// may merge them, the same race tolerance as concurrent single ingests.
	for i, item := range items {
		if item.Content == "" {
			errsOut[i] = errs.Validationf("content must not be empty")
			continue
		}
		simhash := model.ComputeSimHash(item.Content)
		dup, err := e.findDuplicate(ctx, item.UserID, simhash)
		if err != nil {
			errsOut[i] = errs.Wrap(err, "dedup lookup")
			continue
		}
		if dup != nil {
			results[i], errsOut[i] = e.applyDedup(ctx, dup)
			continue
		}
		base := classifier.Classify(item.Content, item.Metadata)
		pending = append(pending, pendingItem{
			idx: i, simhash: simhash, base: base,
			sectors: sectorSet(base.Primary, base.Additional),
		})
	}
	if len(pending) == 0 {
		return results, errsOut
	}

	// One sector-grouped batch embedding per sector, logged as a single pending->completed/failed embed-log row.
	logID := uuid.NewString()
	_ = e.store.AppendEmbedLog(ctx, model.EmbedLog{
		ID: logID, Model: e.embedder.Name(), Status: model.EmbedPending, TS: e.clk().UnixMilli(),
	})
	vectors := make([]map[model.Sector][]float32, len(pending))
	for pi := range vectors {
		vectors[pi] = make(map[model.Sector][]float32, len(pending[pi].sectors))
	}
	bySector := map[model.Sector][]int{}
	for pi, p := range pending {
		for _, s := range p.sectors {
			bySector[s] = append(bySector[s], pi)
		}
	}
	var embedErr error
	for sector, idxs := range bySector {
		texts := make([]string, len(idxs))
		for j, pi := range idxs {
			texts[j] = items[pending[pi].idx].Content
		}
		vecs, err := e.embedder.EmbedBatch(ctx, texts, string(sector))
		if err != nil || len(vecs) != len(texts) {
			if err == nil {
				err = errs.Validationf("embed batch returned %d vectors for %d texts", len(vecs), len(texts))
			}
			if embedErr == nil {
				embedErr = err
			}
			e.logger.Warnw("batch sector embedding failed", "sector", sector, "err", err)
			continue
		}
		for j, pi := range idxs {
			vectors[pi][sector] = vecs[j]
		}
	}
	if embedErr != nil {
		_ = e.store.UpdateEmbedLogStatus(ctx, logID, model.EmbedFailed, embedErr.Error())
	} else {
		_ = e.store.UpdateEmbedLogStatus(ctx, logID, model.EmbedCompleted, "")
	}

	for pi, p := range pending {
		item := items[p.idx]
		if len(vectors[pi]) == 0 {
			if embedErr != nil {
				errsOut[p.idx] = errs.Wrap(embedErr, "embed sectors")
			} else {
				errsOut[p.idx] = errs.Validationf("no sector vectors produced")
			}
			continue
		}
		results[p.idx], errsOut[p.idx] = e.finishIngest(ctx, item.UserID, item.Content,
			item.Tags, item.Metadata, p.simhash, p.base, p.sectors, vectors[pi])
	}
	return results, errsOut
}
