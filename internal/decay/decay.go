// Package decay implements the background salience-decay loop: tier
// selection, sector lambda-decay, vector compression to the cold store, and
// query-time regeneration of compressed vectors.
package decay

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/vectorstore"
)

// Tier classifies a memory's recency/activity for decay-rate purposes.
type Tier int

const (
	TierWarm Tier = iota
	TierHot
	TierCold
)

const hotRecencyThreshold = 6 * 24 * time.Hour

// SelectTier picks HOT/WARM/COLD from age and salience: HOT when recent
// (<6 days) and highly salient or heavily co-activated, WARM when recent or
// still moderately salient, COLD otherwise. Coactivation count is
// approximated by the memory's feedback score, which accumulates with
// repeated retrieval.
func SelectTier(now time.Time, m *model.Memory) Tier {
	recent := now.Sub(m.LastSeenAt) < hotRecencyThreshold
	high := m.Salience > 0.7 || m.FeedbackScore > 0.5
	if recent && high {
		return TierHot
	}
	if recent || m.Salience > 0.4 {
		return TierWarm
	}
	return TierCold
}

// EffectiveLambda multiplies the memory's own decay_lambda (or the sector
// default) by 0.5 for HOT and 1.5 for COLD.
func EffectiveLambda(m *model.Memory, sectorLambdas config.DecaySectorLambdas, tier Tier) float64 {
	lambda := m.DecayLambda
	if lambda <= 0 {
		lambda = sectorLambdas[string(m.Primary)]
	}
	if lambda <= 0 {
		lambda = 0.05
	}
	switch tier {
	case TierHot:
		return lambda * 0.5
	case TierCold:
		return lambda * 1.5
	default:
		return lambda
	}
}

// decayAlpha is the floor term in the salience decay formula.
const decayAlpha = 0.1

// ApplySalienceDecay computes the new salience:
// salience' = salience*exp(-lambda*days/(salience+0.1)) + alpha*(1-exp(-lambda*days)),
// clamped to [0, 1]. It also returns the decay factor f = salience'/max(salience, epsilon)
// used to decide compression.
func ApplySalienceDecay(salience, lambda, days float64) (newSalience, factor float64) {
	if days < 0 {
		days = 0
	}
	decayed := salience*math.Exp(-lambda*days/(salience+0.1)) + decayAlpha*(1-math.Exp(-lambda*days))
	if decayed < 0 {
		decayed = 0
	}
	if decayed > 1 {
		decayed = 1
	}
	base := salience
	if base < 1e-6 {
		base = 1e-6
	}
	return decayed, decayed / base
}

// CompressedDim computes the target dimension for vector compression:
// max(min_dim, min(max_dim, floor(|v|*f))).
func CompressedDim(srcDim int, f float64, minDim, maxDim int) int {
	target := int(math.Floor(float64(srcDim) * f))
	if target < minDim {
		target = minDim
	}
	if target > maxDim {
		target = maxDim
	}
	if target > srcDim {
		target = srcDim
	}
	return target
}

// CompressMeanPool bucket-mean-pools v down to targetDim: each output bucket averages an equal-sized
// contiguous run of input values.
func CompressMeanPool(v []float32, targetDim int) []float32 {
	if targetDim <= 0 || targetDim >= len(v) {
		return append([]float32(nil), v...)
	}
	out := make([]float32, targetDim)
	bucket := float64(len(v)) / float64(targetDim)
	for i := 0; i < targetDim; i++ {
		start := int(math.Floor(float64(i) * bucket))
		end := int(math.Floor(float64(i+1) * bucket))
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

// Fingerprint derives a deterministic 32-float hash-vector from
// id+summary, used once a memory decays past the cold threshold and no
// longer merits even a compressed vector.
func Fingerprint(id, summary string) []float32 {
	const dim = 32
	out := make([]float32, dim)
	seed := id + "|" + summary
	h := uint32(2166136261)
	for i := 0; i < len(seed); i++ {
		h ^= uint32(seed[i])
		h *= 16777619
		out[i%dim] += float32(int32(h)%1000) / 1000.0
	}
	return model.L2Normalize(out, 1e-9)
}

// Engine runs the periodic decay loop over one persistence backend and one
// vector store per sector family.
type Engine struct {
	store   persistence.Store
	vectors vectorstore.VectorStore
	clock   clock.Clock
	cfg     config.Config

	activeQueries *int32
	lastRun       time.Time
	cooldown      time.Duration
}

// NewEngine builds a decay Engine. activeQueries must be the same counter
// the query pipeline increments/decrements, so decay can defer while
// queries are in flight.
func NewEngine(store persistence.Store, vectors vectorstore.VectorStore, c clock.Clock, cfg config.Config, activeQueries *int32) *Engine {
	return &Engine{store: store, vectors: vectors, clock: c, cfg: cfg, activeQueries: activeQueries, cooldown: 60 * time.Second}
}

// ShouldRun reports whether a decay pass may start now: not within cooldown
// of the last run, and no active queries in flight.
func (e *Engine) ShouldRun() bool {
	if e.activeQueries != nil && *e.activeQueries > 0 {
		return false
	}
	if !e.lastRun.IsZero() && e.clock().Sub(e.lastRun) < e.cooldown {
		return false
	}
	return true
}

// RunOnce samples decayRatio of each active user's rows per sector, applies
// the decay formula, compresses or fingerprints low-factor vectors, and
// commits salience updates in one batch per user and sector.
func (e *Engine) RunOnce(ctx context.Context) (processed int, compressed int, fingerprinted int, err error) {
	if !e.ShouldRun() {
		return 0, 0, 0, nil
	}
	e.lastRun = e.clock()

	users, err := e.store.ListActiveUsers(ctx)
	if err != nil {
		return 0, 0, 0, errs.Wrap(err, "list active users for decay")
	}

	now := e.clock()
	for _, userID := range users {
		for _, sector := range model.AllSectors {
			mems, err := e.store.ListBySector(ctx, userID, sector, 100000, 0)
			if err != nil {
				return processed, compressed, fingerprinted, errs.Wrap(err, "list by sector for decay")
			}
			sample := sampleRows(mems, e.cfg.DecayRatio)
			if len(sample) == 0 {
				continue
			}
			updates := make([]persistence.SalienceUpdate, 0, len(sample))
			for _, m := range sample {
				tier := SelectTier(now, m)
				lambda := EffectiveLambda(m, e.cfg.DecaySectorLambdas, tier)
				days := now.Sub(m.LastSeenAt).Hours() / 24
				newSalience, factor := ApplySalienceDecay(m.Salience, lambda, days)

				if factor < 0.7 && len(m.MeanVec) > 0 {
					e.compressVector(ctx, m, factor)
					compressed++
				}
				if factor < math.Max(0.3, e.cfg.DecayColdThreshold) {
					e.fingerprintMemory(ctx, m)
					fingerprinted++
				}

				updates = append(updates, persistence.SalienceUpdate{
					ID:            m.ID,
					UserID:        userID,
					Salience:      newSalience,
					UpdatedAt:     now.UnixMilli(),
					LastSeenAt:    m.LastSeenAt.UnixMilli(),
					FeedbackScore: -1,
				})
				processed++
			}
			if err := e.store.BatchUpdateSalience(ctx, updates); err != nil {
				return processed, compressed, fingerprinted, errs.Wrap(err, "batch update salience")
			}
		}
	}
	return processed, compressed, fingerprinted, nil
}

func (e *Engine) compressVector(ctx context.Context, m *model.Memory, factor float64) {
	target := CompressedDim(len(m.MeanVec), factor, e.cfg.MinVectorDim, e.cfg.MaxVectorDim)
	if target >= len(m.MeanVec) {
		return
	}
	compressed := CompressMeanPool(m.MeanVec, target)
	coldSector := model.ColdSector(m.Primary)
	_ = e.vectors.StoreVector(ctx, model.NewVector(m.ID, coldSector, m.UserID, compressed))
	_ = e.vectors.DeleteVectors(ctx, m.ID, string(m.Primary))
}

func (e *Engine) fingerprintMemory(ctx context.Context, m *model.Memory) {
	summary := m.GeneratedSummary
	if summary == "" {
		summary = topKeywords(m.Content, 3)
	}
	fp := Fingerprint(m.ID, summary)
	coldSector := model.ColdSector(m.Primary)
	_ = e.vectors.StoreVector(ctx, model.NewVector(m.ID, coldSector, m.UserID, fp))
	m.GeneratedSummary = topKeywords(m.Content, 3)
	_ = e.store.UpsertMemory(ctx, m)
}

// OnQueryHit regenerates a compressed/cold vector hit during retrieval:
// if the vector has <= 64 dims and reembed is supplied,
// restores the full vector to the main sector, deletes the cold copy, and
// boosts salience by 0.5.
func (e *Engine) OnQueryHit(ctx context.Context, m *model.Memory, sector model.Sector, reembed func(content string) ([]float32, error)) error {
	vec, err := e.vectors.GetVector(ctx, m.ID, string(model.ColdSector(sector)), m.UserID)
	if err != nil || vec == nil || len(vec.Values) > 64 || reembed == nil {
		return err
	}
	full, err := reembed(m.Content)
	if err != nil {
		return errs.Wrap(err, "regenerate compressed vector")
	}
	if err := e.vectors.StoreVector(ctx, model.NewVector(m.ID, string(sector), m.UserID, full)); err != nil {
		return errs.Wrap(err, "restore main sector vector")
	}
	_ = e.vectors.DeleteVectors(ctx, m.ID, model.ColdSector(sector))

	newSalience := m.Salience + 0.5
	if newSalience > 1 {
		newSalience = 1
	}
	now := e.clock()
	return e.store.UpdateSeen(ctx, m.ID, m.UserID, now.UnixMilli(), newSalience, now.UnixMilli())
}

func sampleRows(rows []*model.Memory, ratio float64) []*model.Memory {
	if ratio <= 0 || len(rows) == 0 {
		return nil
	}
	if ratio >= 1 {
		return rows
	}
	sorted := append([]*model.Memory(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	n := int(math.Ceil(float64(len(sorted)) * ratio))
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func topKeywords(content string, n int) string {
	tokens := model.CanonicalTokens(content)
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
