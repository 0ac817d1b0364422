// Package maintain orchestrates the periodic background jobs: salience
// decay, reflection, per-user classifier retraining, orphan cleanup,
// storage optimization and stats retention.
//
// Retraining fans out across a bounded worker pool via a buffered-channel
// semaphore.
package maintain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/classifier"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/decay"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/metrics"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/reflect"
)

// maxConcurrentRetrains bounds how many per-user classifier trainings may
// run at once.
const (
	maxConcurrentRetrains  = 3
	retrainSampleLimit     = 2000
	defaultStatsRetention  = 30
)

// ClassifierCacheInvalidator lets the maintenance orchestrator evict a
// user's cached classifier model right after a new version is persisted,
// without importing the hsg package (which would create an import cycle:
// hsg already depends on decay).
type ClassifierCacheInvalidator interface {
	InvalidateClassifierCache(userID string)
}

// Orchestrator runs one maintenance cycle across decay, reflection,
// classifier retraining and storage cleanup.
type Orchestrator struct {
	store      persistence.Store
	decay      *decay.Engine
	reflector  *reflect.Reflector
	clk        clock.Clock
	cfg        config.Config
	metrics    *metrics.Metrics
	invalidate ClassifierCacheInvalidator
}

// New builds an Orchestrator. invalidate may be nil if no query engine's
// classifier cache needs eviction (e.g. a maintenance-only process).
func New(store persistence.Store, decayEngine *decay.Engine, reflector *reflect.Reflector, clk clock.Clock, cfg config.Config, m *metrics.Metrics, invalidate ClassifierCacheInvalidator) *Orchestrator {
	if clk == nil {
		clk = clock.Real()
	}
	if m == nil {
		m = &metrics.Metrics{}
	}
	return &Orchestrator{store: store, decay: decayEngine, reflector: reflector, clk: clk, cfg: cfg, metrics: m, invalidate: invalidate}
}

// RunCycle executes one full maintenance pass: decay, reflection (if
// cfg.AutoReflect), classifier retraining, orphan cleanup, storage
// optimization and stats retention, logging one MaintLog row per step.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if err := o.runDecay(ctx); err != nil {
		return err
	}
	if o.cfg.AutoReflect {
		if err := o.runReflection(ctx); err != nil {
			return err
		}
	}
	if err := o.runRetraining(ctx); err != nil {
		return err
	}
	if err := o.runOrphanCleanup(ctx); err != nil {
		return err
	}
	if err := o.runOptimize(ctx); err != nil {
		return err
	}
	return o.runStatsRetention(ctx)
}

func (o *Orchestrator) logStep(ctx context.Context, step, detail, errMsg string, start time.Time) {
	_ = o.store.AppendMaintLog(ctx, model.MaintLog{
		ID: uuid.NewString(), Step: step, Detail: detail, Err: errMsg,
		TS: o.clk().UnixMilli(), Duration: time.Since(start).Milliseconds(),
	})
}

func (o *Orchestrator) runDecay(ctx context.Context) error {
	start := o.clk()
	if o.decay == nil {
		return nil
	}
	processed, compressed, fingerprinted, err := o.decay.RunOnce(ctx)
	if err != nil {
		o.logStep(ctx, "decay", "", err.Error(), start)
		return errs.Wrap(err, "decay cycle")
	}
	o.metrics.AddDecay(processed, compressed, fingerprinted)
	o.logStep(ctx, "decay", fmtDecayDetail(processed, compressed, fingerprinted), "", start)
	return nil
}

func (o *Orchestrator) runReflection(ctx context.Context) error {
	start := o.clk()
	if o.reflector == nil {
		return nil
	}
	users, err := o.store.ListActiveUsers(ctx)
	if err != nil {
		o.logStep(ctx, "reflect", "", err.Error(), start)
		return errs.Wrap(err, "list active users for reflection")
	}
	total := 0
	for _, userID := range users {
		n, err := o.reflector.Run(ctx, userID)
		if err != nil {
			o.logStep(ctx, "reflect", userID, err.Error(), start)
			continue
		}
		total += n
	}
	o.logStep(ctx, "reflect", itoa(total)+" clusters", "", start)
	return nil
}

// runRetraining fans classifier retraining out across active users, bounded
// to maxConcurrentRetrains concurrent trainings via a buffered-channel
// semaphore.
func (o *Orchestrator) runRetraining(ctx context.Context) error {
	start := o.clk()
	users, err := o.store.ListActiveUsers(ctx)
	if err != nil {
		o.logStep(ctx, "retrain", "", err.Error(), start)
		return errs.Wrap(err, "list active users for retraining")
	}

	sem := make(chan struct{}, maxConcurrentRetrains)
	var wg sync.WaitGroup
	for _, userID := range users {
		userID := userID
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.retrainOne(ctx, userID); err != nil {
				o.logStep(ctx, "retrain", userID, err.Error(), start)
			}
		}()
	}
	wg.Wait()
	o.logStep(ctx, "retrain", itoa(len(users))+" users considered", "", start)
	return nil
}

func (o *Orchestrator) retrainOne(ctx context.Context, userID string) error {
	var samples []classifier.TrainingSample
	var dim int
	err := o.store.IterateTrainingSamples(ctx, userID, retrainSampleLimit, func(meanVec []float32, primary model.Sector) bool {
		if len(meanVec) == 0 {
			return true
		}
		if dim == 0 {
			dim = len(meanVec)
		}
		if len(meanVec) != dim {
			return true
		}
		vec64 := make([]float64, len(meanVec))
		for i, x := range meanVec {
			vec64[i] = float64(x)
		}
		samples = append(samples, classifier.TrainingSample{MeanVec: vec64, Sector: primary})
		return true
	})
	if err != nil {
		return errs.Wrap(err, "iterate training samples")
	}
	if len(samples) < 10 {
		return nil
	}

	prior, err := o.store.GetClassifierModel(ctx, userID)
	if err != nil {
		prior = nil
	}
	trained := classifier.TrainLinear(prior, samples, dim, int64(len(samples)))
	trained.UserID = userID
	trained.UpdatedAt = o.clk().UnixMilli()
	if err := o.store.PutClassifierModel(ctx, trained); err != nil {
		return errs.Wrap(err, "persist trained classifier")
	}
	o.metrics.IncClassifierRetrain()
	if o.invalidate != nil {
		o.invalidate.InvalidateClassifierCache(userID)
	}
	return nil
}

func (o *Orchestrator) runOrphanCleanup(ctx context.Context) error {
	start := o.clk()
	vectors, waypoints, err := o.store.DeleteOrphans(ctx)
	if err != nil {
		o.logStep(ctx, "orphan_cleanup", "", err.Error(), start)
		return errs.Wrap(err, "delete orphans")
	}
	o.metrics.AddOrphansDeleted(vectors + waypoints)
	o.logStep(ctx, "orphan_cleanup", itoa(vectors)+" vectors, "+itoa(waypoints)+" waypoints", "", start)
	return nil
}

func (o *Orchestrator) runOptimize(ctx context.Context) error {
	start := o.clk()
	if err := o.store.Optimize(ctx); err != nil {
		o.logStep(ctx, "optimize", "", err.Error(), start)
		return errs.Wrap(err, "optimize storage")
	}
	o.logStep(ctx, "optimize", "", "", start)
	return nil
}

func (o *Orchestrator) runStatsRetention(ctx context.Context) error {
	start := o.clk()
	days := o.cfg.StatsRetentionDays
	if days <= 0 {
		days = defaultStatsRetention
	}
	deleted, err := o.store.DeleteStatsOlderThan(ctx, days)
	if err != nil {
		o.logStep(ctx, "stats_retention", "", err.Error(), start)
		return errs.Wrap(err, "delete old stats")
	}
	o.logStep(ctx, "stats_retention", itoa(deleted)+" rows", "", start)
	return nil
}

func fmtDecayDetail(processed, compressed, fingerprinted int) string {
	return itoa(processed) + " processed, " + itoa(compressed) + " compressed, " + itoa(fingerprinted) + " fingerprinted"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
