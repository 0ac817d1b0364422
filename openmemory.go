// Package openmemory is the top-level public API of the Hierarchical
// Semantic Graph memory engine: add, add_batch,
// get, update, search, reinforce, delete, delete_all, history, list_users,
// stats and rotate_key, wiring together the persistence, vector store,
// embedding, encryption and HSG engine layers behind one Client.
//
// The constructor resolves backend choice from configuration rather than
// forcing callers to wire sub-packages themselves.
package openmemory

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/classifier"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/crypto"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/decay"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/embedding"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/hsg"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/maintain"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/metrics"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/reflect"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/vectorstore"
)

// Client is the assembled engine: one persistence backend, one vector
// store, one embedding chain, one encryption box, the HSG ingest/query
// engine, the decay engine, the reflector and the maintenance orchestrator.
type Client struct {
	store     persistence.Store
	vectors   vectorstore.VectorStore
	engine    *hsg.Engine
	decay     *decay.Engine
	reflector *reflect.Reflector
	maint     *maintain.Orchestrator
	metrics   *metrics.Metrics
	clk       clock.Clock
	cfg       config.Config
}

// New resolves cfg.DBURL into a persistence/vector-store backend pair,
// assembles the embedding failover chain from cfg.EmbedKind/EmbeddingFallback,
// and wires the HSG engine, decay engine, reflector and maintenance
// orchestrator around them.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	store, vectors, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	box, err := crypto.NewBox(cfg.EncryptionEnabled, cfg.EncryptionKey, cfg.EncryptionSecondary)
	if err != nil {
		return nil, errs.Wrap(err, "build encryption box")
	}

	chain := buildEmbeddingChain(ctx, cfg)
	clk := clock.Real()
	m := &metrics.Metrics{}
	logger := zap.NewNop().Sugar()

	engine := hsg.New(store, vectors, chain, box, clk, cfg).WithMetrics(m).WithLogger(logger)
	decayEngine := decay.NewEngine(store, vectors, clk, cfg, engine.ActiveQueries())
	engine.WithDecay(decayEngine)

	var summarizer reflect.Summarizer
	if chain != nil {
		summarizer = reflect.ChatSummarizer{Chat: chain}
	}
	reflector := reflect.New(store, box, clk, cfg, m, summarizer)
	orchestrator := maintain.New(store, decayEngine, reflector, clk, cfg, m, engine)

	return &Client{
		store: store, vectors: vectors, engine: engine, decay: decayEngine,
		reflector: reflector, maint: orchestrator, metrics: m, clk: clk, cfg: cfg,
	}, nil
}

func openBackend(ctx context.Context, cfg config.Config) (persistence.Store, vectorstore.VectorStore, error) {
	if strings.HasPrefix(cfg.DBURL, "postgres://") || strings.HasPrefix(cfg.DBURL, "postgresql://") {
		pgStore, err := persistence.NewPostgresStore(ctx, cfg.DBURL, cfg.PGSchema, cfg.PGTable)
		if err != nil {
			return nil, nil, errs.Wrap(err, "open postgres store")
		}
		vecs, err := vectorstore.NewPostgresStore(ctx, pgStore.Pool(), pgStore.Table())
		if err != nil {
			return nil, nil, errs.Wrap(err, "open postgres vector store")
		}
		return pgStore, vecs, nil
	}

	path := strings.TrimPrefix(cfg.DBURL, "file:")
	sqliteStore, err := persistence.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, errs.Wrap(err, "open sqlite store")
	}
	vecs, err := vectorstore.NewEmbeddedStore(sqliteStore.DB())
	if err != nil {
		return nil, nil, errs.Wrap(err, "open embedded vector store")
	}
	return sqliteStore, vecs, nil
}

// buildEmbeddingChain wires cfg.EmbedKind as the primary provider, each
// cfg.EmbeddingFallback entry as a secondary, and a synthetic embedder as
// the mandatory last resort. Every remote adapter is wrapped in
// a circuit breaker (5 failures / 30s reset).
func buildEmbeddingChain(ctx context.Context, cfg config.Config) *embedding.Chain {
	clk := clock.Real()
	resolve := func(kind config.EmbedKind) embedding.Embedder {
		switch kind {
		case config.EmbedOpenAI:
			return guard(clk, embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIModel))
		case config.EmbedGemini:
			e, err := embedding.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiModel)
			if err != nil {
				return nil
			}
			return guard(clk, e)
		case config.EmbedOllama:
			e, err := embedding.NewOllamaEmbedder(cfg.OllamaHost, cfg.OllamaModel, cfg.OllamaModel)
			if err != nil {
				return nil
			}
			return guard(clk, e)
		case config.EmbedAWS:
			return guard(clk, embedding.NewBedrockEmbedder(cfg.AWSRegion, "", "", "", cfg.AWSBedrockModel))
		case config.EmbedFastEmbed:
			e, err := embedding.NewFastEmbedder("")
			if err != nil {
				return nil
			}
			return e
		case config.EmbedSynthetic:
			return embedding.NewSyntheticEmbedder(cfg.VecDim)
		default:
			return nil
		}
	}

	primary := resolve(cfg.EmbedKind)
	var secondaries []embedding.Embedder
	for _, kind := range cfg.EmbeddingFallback {
		if kind == cfg.EmbedKind {
			continue
		}
		if e := resolve(kind); e != nil {
			secondaries = append(secondaries, e)
		}
	}
	synthetic := embedding.NewSyntheticEmbedder(cfg.VecDim)
	return embedding.NewChain(primary, secondaries, synthetic)
}

func guard(clk clock.Clock, inner embedding.Embedder) embedding.Embedder {
	if inner == nil {
		return nil
	}
	breaker := embedding.NewCircuitBreaker(clk, 5, 30*time.Second)
	return embedding.NewGuarded(inner, breaker)
}

// MemoryItem is the decrypted, caller-facing view of a stored memory:
// Memory.Content is returned in plaintext regardless of whether
// encryption-at-rest is enabled.
type MemoryItem struct {
	*model.Memory
}

func decryptedCopy(box *crypto.Box, m *model.Memory) (*model.Memory, error) {
	if m == nil {
		return nil, nil
	}
	clone := *m
	plain, err := box.Decrypt(m.Content)
	if err != nil {
		return nil, errs.Wrap(err, "decrypt memory content")
	}
	clone.Content = plain
	return &clone, nil
}

// Add ingests one memory.
func (c *Client) Add(ctx context.Context, userID, content string, tags []string, metadata map[string]any) (*MemoryItem, error) {
	res, err := c.engine.Store(ctx, userID, content, tags, metadata)
	if err != nil {
		return nil, err
	}
	m, err := decryptedCopy(c.engine.Box(), res.Memory)
	if err != nil {
		return nil, err
	}
	return &MemoryItem{m}, nil
}

// BatchItem is one entry of an AddBatch call.
type BatchItem struct {
	UserID   string
	Content  string
	Tags     []string
	Metadata map[string]any
}

// AddBatch ingests items independently: one slot's
// failure does not abort the rest.
func (c *Client) AddBatch(ctx context.Context, items []BatchItem) ([]*MemoryItem, []error) {
	hsgItems := make([]hsg.BatchItem, len(items))
	for i, it := range items {
		hsgItems[i] = hsg.BatchItem{UserID: it.UserID, Content: it.Content, Tags: it.Tags, Metadata: it.Metadata}
	}
	results, errsOut := c.engine.StoreBatch(ctx, hsgItems)
	out := make([]*MemoryItem, len(results))
	for i, res := range results {
		if res == nil {
			continue
		}
		m, err := decryptedCopy(c.engine.Box(), res.Memory)
		if err != nil {
			errsOut[i] = err
			continue
		}
		out[i] = &MemoryItem{m}
	}
	return out, errsOut
}

// Get fetches one memory by id, enforcing ownership when userID is set.
// A missing or foreign row surfaces as ErrNotFound so callers always get
// a typed error instead of a silent nil.
func (c *Client) Get(ctx context.Context, id, userID string) (*MemoryItem, error) {
	m, err := c.store.GetMemory(ctx, id, userID)
	if err != nil {
		return nil, errs.Wrap(err, "get memory")
	}
	if m == nil {
		return nil, errs.NotFoundf("memory %s", id)
	}
	dec, err := decryptedCopy(c.engine.Box(), m)
	if err != nil {
		return nil, err
	}
	return &MemoryItem{dec}, nil
}

// Update rewrites a memory's content, tags and/or metadata in place,
// preserving its id, sector history and waypoints. A
// changed content re-embeds the primary sector vector and recomputes the
// simhash fingerprint used for dedup; tags/metadata-only updates skip
// re-embedding entirely.
func (c *Client) Update(ctx context.Context, id, userID string, content *string, tags []string, metadata map[string]any) (*MemoryItem, error) {
	existing, err := c.store.GetMemory(ctx, id, userID)
	if err != nil {
		return nil, errs.Wrap(err, "get memory for update")
	}
	if existing == nil {
		return nil, errs.NotFoundf("memory %s", id)
	}

	now := c.clk()
	box := c.engine.Box()

	if content != nil {
		plain := *content
		vec, err := c.engine.Embedder().Embed(ctx, plain, string(existing.Primary))
		if err != nil {
			return nil, errs.Wrap(err, "re-embed updated content")
		}
		vec = model.L2Normalize(vec, 1e-8)
		encrypted, err := box.Encrypt(plain)
		if err != nil {
			return nil, errs.Wrap(err, "encrypt updated content")
		}
		existing.Content = encrypted
		existing.SimHash = model.ComputeSimHash(plain)
		existing.MeanVec = vec
		existing.MeanDim = len(vec)
		existing.Version++
		if err := c.engine.Vectors().StoreVector(ctx, model.NewVector(existing.ID, string(existing.Primary), existing.UserID, vec)); err != nil {
			return nil, errs.Wrap(err, "store updated vector")
		}
	}
	if tags != nil {
		existing.Tags = tags
	}
	if metadata != nil {
		existing.Metadata = model.CloneMetadata(metadata)
	}
	existing.UpdatedAt = now
	existing.LastSeenAt = now

	if err := c.store.UpsertMemory(ctx, existing); err != nil {
		return nil, errs.Wrap(err, "persist updated memory")
	}
	dec, err := decryptedCopy(box, existing)
	if err != nil {
		return nil, err
	}
	return &MemoryItem{dec}, nil
}

// Search runs the HSG hybrid retrieval pipeline.
func (c *Client) Search(ctx context.Context, userID, query string, k int, filters hsg.SearchFilters) ([]hsg.SearchResult, error) {
	return c.engine.Search(ctx, userID, query, k, filters)
}

// Reinforce nudges a memory's salience directly, outside the normal
// query-trace reinforcement path, and propagates a smaller associative
// share (0.18 * edge_weight * new_salience) to its immediate waypoint
// neighbors.
func (c *Client) Reinforce(ctx context.Context, id, userID string, boost float64) error {
	m, err := c.store.GetMemory(ctx, id, userID)
	if err != nil {
		return errs.Wrap(err, "get memory for reinforce")
	}
	if m == nil {
		return errs.NotFoundf("memory %s", id)
	}
	now := c.clk()
	salience := model.Clamp(m.Salience+boost, 0, 1)
	updates := []persistence.SalienceUpdate{{
		ID: id, UserID: userID, Salience: salience, UpdatedAt: now.UnixMilli(), LastSeenAt: now.UnixMilli(),
		FeedbackScore: -1,
	}}

	neighbors, err := c.store.GetNeighborsBatch(ctx, []string{id}, m.UserID)
	if err != nil {
		return errs.Wrap(err, "fetch neighbors for reinforce")
	}
	if edges := neighbors[id]; len(edges) > 0 {
		ids := make([]string, 0, len(edges))
		prByID := make(map[string]float64, len(edges))
		for _, w := range edges {
			if w.DstID == id {
				continue
			}
			ids = append(ids, w.DstID)
			prByID[w.DstID] = c.cfg.Reinforcement.AssociativeFactor * w.Weight * salience
		}
		if len(ids) > 0 {
			rows, err := c.store.GetByIDs(ctx, ids, m.UserID)
			if err != nil {
				return errs.Wrap(err, "fetch linked memories for reinforce")
			}
			for _, n := range rows {
				updates = append(updates, persistence.SalienceUpdate{
					ID: n.ID, UserID: m.UserID,
					Salience:      model.Clamp(n.Salience+prByID[n.ID], 0, 1),
					UpdatedAt:     now.UnixMilli(),
					FeedbackScore: -1,
				})
			}
		}
	}
	return c.store.BatchUpdateSalience(ctx, updates)
}

// Delete removes one memory and its vectors/waypoints.
func (c *Client) Delete(ctx context.Context, id, userID string) error {
	return c.store.DeleteMemory(ctx, id, userID)
}

// DeleteAll removes every memory owned by userID.
func (c *Client) DeleteAll(ctx context.Context, userID string) (int, error) {
	return c.store.DeleteAllForUser(ctx, userID)
}

// History lists userID's memories most recently created first.
func (c *Client) History(ctx context.Context, userID string, limit, offset int) ([]*MemoryItem, error) {
	mems, err := c.store.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, errs.Wrap(err, "list history")
	}
	out := make([]*MemoryItem, 0, len(mems))
	for _, m := range mems {
		dec, err := decryptedCopy(c.engine.Box(), m)
		if err != nil {
			return nil, err
		}
		out = append(out, &MemoryItem{dec})
	}
	return out, nil
}

// ListUsers enumerates every user with at least one stored memory. This reads distinct owners from the memory rows rather than
// the profile table: profiles are written by a best-effort async refresh
// and may lag behind (or outlive) the memories themselves.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	return c.store.ListActiveUsers(ctx)
}

// Stats is the stats() response: process-wide counters plus,
// when userID is non-empty, that user's segment count.
type Stats struct {
	metrics.Snapshot
	UserID        string
	MemoryCount   int
	MaxSegment    int
	CoactPending  int
}

// Stats reports engine-wide counters, optionally scoped to one user's
// memory/segment count.
func (c *Client) Stats(ctx context.Context, userID string) (Stats, error) {
	s := Stats{Snapshot: c.metrics.Snapshot(), UserID: userID}
	if userID != "" {
		count, maxSeg, err := c.store.SegmentStats(ctx, userID)
		if err != nil {
			return s, errs.Wrap(err, "segment stats")
		}
		s.MemoryCount = count
		s.MaxSegment = maxSeg
	}
	return s, nil
}

// RotateKeyResult reports the outcome of a rotate_key call.
type RotateKeyResult struct {
	Success      bool
	RotatedCount int
}

// rotateKeyScanLimit bounds how many rows are paged per ListByUser call
// while rewriting envelopes under the new primary key.
const rotateKeyScanLimit = 500

// RotateKey re-encrypts every matching memory's content under a new primary
// key, pushing the old primary key into the secondary (decrypt-only) key
// list so in-flight reads during rotation still succeed. userID empty rotates every user's memories.
func (c *Client) RotateKey(ctx context.Context, userID, newPassphrase string) (RotateKeyResult, error) {
	oldBox := c.engine.Box()
	rotated, err := oldBox.WithRotatedPrimary(newPassphrase)
	if err != nil {
		return RotateKeyResult{}, errs.Wrap(err, "rotate primary key")
	}

	users := []string{userID}
	if userID == "" {
		all, err := c.store.ListActiveUsers(ctx)
		if err != nil {
			return RotateKeyResult{}, errs.Wrap(err, "list users for rotation")
		}
		users = all
	}

	rotatedCount := 0
	now := c.clk()
	for _, u := range users {
		offset := 0
		for {
			mems, err := c.store.ListByUser(ctx, u, rotateKeyScanLimit, offset)
			if err != nil {
				return RotateKeyResult{}, errs.Wrap(err, "list memories for rotation")
			}
			if len(mems) == 0 {
				break
			}
			for _, m := range mems {
				reencrypted, err := rotated.ReEncrypt(m.Content)
				if err != nil {
					return RotateKeyResult{}, errs.Wrap(err, "re-encrypt memory content")
				}
				if err := c.store.UpdateContent(ctx, m.ID, m.UserID, reencrypted, m.Primary, m.Version, now.UnixMilli()); err != nil {
					return RotateKeyResult{}, errs.Wrap(err, "persist rotated content")
				}
				rotatedCount++
			}
			if len(mems) < rotateKeyScanLimit {
				break
			}
			offset += rotateKeyScanLimit
		}
	}

	c.engine.SetBox(rotated)
	return RotateKeyResult{Success: true, RotatedCount: rotatedCount}, nil
}

// RunMaintenance executes one full maintenance cycle: decay, reflection,
// classifier retraining, orphan cleanup, storage optimization and stats
// retention. Intended to be called on cfg.MaintenanceInterval.
func (c *Client) RunMaintenance(ctx context.Context) error {
	return c.maint.RunCycle(ctx)
}

// TrainClassifier fits userID's learned sector classifier from its stored
// training samples, independent of the maintenance cycle's
// bounded-concurrency retraining sweep — useful right after a burst of
// manually-corrected classifications.
func (c *Client) TrainClassifier(ctx context.Context, userID string, minSamples int) error {
	if minSamples <= 0 {
		minSamples = 10
	}
	var samples []classifier.TrainingSample
	var dim int
	err := c.store.IterateTrainingSamples(ctx, userID, 2000, func(meanVec []float32, primary model.Sector) bool {
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
	if len(samples) < minSamples {
		return nil
	}
	prior, _ := c.store.GetClassifierModel(ctx, userID)
	trained := classifier.TrainLinear(prior, samples, dim, int64(len(samples)))
	trained.UserID = userID
	trained.UpdatedAt = c.clk().UnixMilli()
	if err := c.store.PutClassifierModel(ctx, trained); err != nil {
		return errs.Wrap(err, "persist trained classifier")
	}
	c.engine.InvalidateClassifierCache(userID)
	return nil
}

// Close releases the vector store and persistence backend connections.
func (c *Client) Close(ctx context.Context) error {
	if err := c.vectors.Disconnect(ctx); err != nil {
		return err
	}
	return c.store.Disconnect(ctx)
}
