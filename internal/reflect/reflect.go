package reflect

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/crypto"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/metrics"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
)

// clusterThreshold and minClusterSize implement the near-duplicate
// clustering: 0.85 cosine/Jaccard similarity, minimum two members.
const (
	clusterThreshold = 0.85
	minClusterSize   = 2
	autoTag          = "reflect:auto"
)

// Reflector synthesizes reflective memories from clusters of near-duplicate
// memories in one user's episodic/semantic/procedural/emotional sectors.
type Reflector struct {
	store      persistence.Store
	box        *crypto.Box
	clk        clock.Clock
	cfg        config.Config
	metrics    *metrics.Metrics
	summarizer Summarizer
}

// New builds a Reflector. A nil summarizer defaults to HeuristicSummarizer.
func New(store persistence.Store, box *crypto.Box, clk clock.Clock, cfg config.Config, m *metrics.Metrics, summarizer Summarizer) *Reflector {
	if clk == nil {
		clk = clock.Real()
	}
	if m == nil {
		m = &metrics.Metrics{}
	}
	if summarizer == nil {
		summarizer = HeuristicSummarizer{}
	}
	return &Reflector{store: store, box: box, clk: clk, cfg: cfg, metrics: m, summarizer: summarizer}
}

// reflectableSectors excludes the reflective sector itself: a reflection
// pass never clusters its own synthesized output.
var reflectableSectors = []model.Sector{model.SectorEpisodic, model.SectorSemantic, model.SectorProcedural, model.SectorEmotional}

// Run clusters userID's memories per sector and synthesizes one reflective
// memory per qualifying cluster, returning how many clusters were
// consolidated. A user with fewer than cfg.ReflectMin memories in the scan
// window is skipped entirely: there is not enough material to find a
// pattern in yet.
func (r *Reflector) Run(ctx context.Context, userID string) (int, error) {
	limit := r.cfg.ReflectLimit
	if limit <= 0 {
		limit = 500
	}
	minMems := r.cfg.ReflectMin
	if minMems <= 0 {
		minMems = 20
	}
	all, err := r.store.ListByUser(ctx, userID, limit, 0)
	if err != nil {
		return 0, errs.Wrap(err, "list memories for reflection")
	}
	if len(all) < minMems {
		return 0, nil
	}

	bySector := make(map[model.Sector][]*model.Memory, len(reflectableSectors))
	for _, m := range all {
		bySector[m.Primary] = append(bySector[m.Primary], m)
	}

	total := 0
	for _, sector := range reflectableSectors {
		clusters := clusterMemories(bySector[sector], r.box, clusterThreshold, minClusterSize)
		for _, cluster := range clusters {
			if err := r.consolidate(ctx, userID, sector, cluster); err != nil {
				return total, err
			}
			total++
		}
	}
	r.metrics.AddReflectionClusters(total)
	return total, nil
}

// clusterSalience scores a cluster for its synthesized reflection:
// population share, recency of the members (12h half-life-ish window) and
// an emotional factor, weighted 0.6/0.3/0.1.
func clusterSalience(now int64, cluster []*model.Memory) float64 {
	population := float64(len(cluster)) / 10.0

	var recencySum float64
	for _, m := range cluster {
		recencySum += math.Exp(-float64(now-m.CreatedAt.UnixMilli()) / 43_200_000.0)
	}
	recency := recencySum / float64(len(cluster))

	emotional := 0.0
	if cluster[0].Primary == model.SectorEmotional {
		emotional = 1.0
	} else {
		for _, m := range cluster {
			if containsSector(m.AdditionalSectors(), model.SectorEmotional) {
				emotional = 0.5
				break
			}
		}
	}
	return math.Min(1, 0.6*population+0.3*recency+0.1*emotional)
}

func containsSector(list []model.Sector, s model.Sector) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *Reflector) consolidate(ctx context.Context, userID string, sector model.Sector, cluster []*model.Memory) error {
	now := r.clk()

	decrypted := make([]*model.Memory, len(cluster))
	for i, m := range cluster {
		clone := *m
		if plain, err := r.box.Decrypt(m.Content); err == nil {
			clone.Content = plain
		}
		decrypted[i] = &clone
	}

	summary, err := r.summarizer.Summarize(ctx, decrypted)
	if err != nil {
		return errs.Wrap(err, "summarize cluster")
	}
	encrypted, err := r.box.Encrypt(summary)
	if err != nil {
		return errs.Wrap(err, "encrypt reflective summary")
	}

	meanVec := averageVectors(cluster)
	sources := make([]string, len(cluster))
	for i, m := range cluster {
		sources[i] = m.ID
	}

	reflective := &model.Memory{
		ID:      uuid.NewString(),
		UserID:  userID,
		Content: encrypted,
		SimHash: model.ComputeSimHash(summary),
		Primary: model.SectorReflective,
		Tags:    []string{autoTag},
		Metadata: map[string]any{
			"type":          "auto_reflect",
			"sources":       sources,
			"freq":          len(cluster),
			"source_sector": string(sector),
			"at":            now.UnixMilli(),
		},
		CreatedAt:   now,
		UpdatedAt:   now,
		LastSeenAt:  now,
		Salience:    clusterSalience(now.UnixMilli(), cluster),
		DecayLambda: r.cfg.DecaySectorLambdas[string(model.SectorReflective)],
		Version:     1,
		MeanDim:     len(meanVec),
		MeanVec:     meanVec,
	}
	if err := r.store.UpsertMemory(ctx, reflective); err != nil {
		return errs.Wrap(err, "upsert reflective memory")
	}

	for _, m := range cluster {
		if m.Metadata == nil {
			m.Metadata = map[string]any{}
		}
		m.Metadata["consolidated"] = true
		m.Metadata["consolidated_into"] = reflective.ID
		m.Salience = model.Clamp(m.Salience*1.1, 0, 1)
		m.UpdatedAt = now
		if err := r.store.UpsertMemory(ctx, m); err != nil {
			return errs.Wrap(err, "mark source consolidated")
		}
	}
	return nil
}

func averageVectors(cluster []*model.Memory) []float32 {
	var dim int
	for _, m := range cluster {
		if len(m.MeanVec) > 0 {
			dim = len(m.MeanVec)
			break
		}
	}
	if dim == 0 {
		return nil
	}
	sum := make([]float64, dim)
	n := 0
	for _, m := range cluster {
		if len(m.MeanVec) != dim {
			continue
		}
		for i, x := range m.MeanVec {
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
	return model.L2Normalize(out, 1e-8)
}

// clusterMemories greedily groups mems whose similarity to a cluster's seed
// meets threshold, using cosine over MeanVec when both sides have one, or a
// token-Jaccard fallback over decrypted content otherwise.
// Clusters smaller than minSize are dropped.
func clusterMemories(mems []*model.Memory, box *crypto.Box, threshold float64, minSize int) [][]*model.Memory {
	tokens := make([][]string, len(mems))
	for i, m := range mems {
		plain, err := box.Decrypt(m.Content)
		if err != nil {
			continue
		}
		tokens[i] = model.CanonicalTokens(plain)
	}

	used := make([]bool, len(mems))
	var clusters [][]*model.Memory
	for i, seed := range mems {
		if used[i] || isConsolidated(seed) {
			continue
		}
		cluster := []*model.Memory{seed}
		used[i] = true
		for j := i + 1; j < len(mems); j++ {
			if used[j] || isConsolidated(mems[j]) {
				continue
			}
			if similarity(seed, mems[j], tokens[i], tokens[j]) >= threshold {
				cluster = append(cluster, mems[j])
				used[j] = true
			}
		}
		if len(cluster) >= minSize {
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

func isConsolidated(m *model.Memory) bool {
	return m.Metadata != nil && m.Metadata["consolidated"] == true
}

func similarity(a, b *model.Memory, tokensA, tokensB []string) float64 {
	if len(a.MeanVec) > 0 && len(b.MeanVec) > 0 {
		return model.CosineSimilarity(a.MeanVec, b.MeanVec)
	}
	return jaccardTokens(tokensA, tokensB)
}

func jaccardTokens(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, x := range a {
		setA[x] = true
	}
	inter, union := 0, len(setA)
	seenB := make(map[string]bool, len(b))
	for _, x := range b {
		if seenB[x] {
			continue
		}
		seenB[x] = true
		if setA[x] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
