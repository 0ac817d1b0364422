package hsg

import (
	"context"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/classifier"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// getClassifierModel returns userID's learned classifier, using a 60s
// in-memory cache to avoid a store round-trip on every ingest or
// query. A nil return means no learned model exists yet for this user.
func (e *Engine) getClassifierModel(ctx context.Context, userID string) *model.ClassifierModel {
	e.mu.Lock()
	entry, ok := e.classifierCache[userID]
	e.mu.Unlock()
	if ok && e.clk().Sub(entry.fetchedAt) < classifierCacheTTL {
		return entry.model
	}

	cm, err := e.store.GetClassifierModel(ctx, userID)
	if err != nil {
		e.logger.Warnw("load classifier model failed", "user_id", userID, "err", err)
		cm = nil
	}
	e.mu.Lock()
	e.classifierCache[userID] = cachedClassifier{model: cm, fetchedAt: e.clk()}
	e.mu.Unlock()
	return cm
}

// invalidateClassifierCache drops userID's cached model, used by the
// maintenance retrain loop right after persisting a new version.
func (e *Engine) invalidateClassifierCache(userID string) {
	e.mu.Lock()
	delete(e.classifierCache, userID)
	e.mu.Unlock()
}

// InvalidateClassifierCache is the exported form of invalidateClassifierCache,
// satisfying maintain.ClassifierCacheInvalidator so the maintenance
// orchestrator can evict a user's cached model right after retraining it.
func (e *Engine) InvalidateClassifierCache(userID string) {
	e.invalidateClassifierCache(userID)
}

// refineWithLearned applies the learned-classifier override to
// base if a model exists and its confidence exceeds threshold, returning the
// possibly-updated result.
func (e *Engine) refineWithLearned(ctx context.Context, userID string, base classifier.Result, meanVec []float64, threshold float64) classifier.Result {
	cm := e.getClassifierModel(ctx, userID)
	if cm == nil || len(meanVec) == 0 {
		return base
	}
	learned := classifier.Predict(cm, meanVec)
	return classifier.Refine(base, learned, threshold)
}
