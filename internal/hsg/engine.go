// Package hsg implements the Hierarchical Semantic Graph engine's ingest
// and query pipelines: classification, multi-sector
// embedding, waypoint formation, multi-sector candidate search, waypoint
// BFS expansion, hybrid scoring, trace reinforcement and co-activation.
package hsg

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/clock"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/config"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/crypto"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/decay"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/embedding"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/metrics"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/persistence"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/vectorstore"
)

// Engine coordinates ingest and retrieval over one persistence backend, one
// vector store, one embedder chain and one encryption box.
type Engine struct {
	store    persistence.Store
	vectors  vectorstore.VectorStore
	embedder embedding.Embedder
	box      *crypto.Box
	clk      clock.Clock
	cfg      config.Config
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	decay    *decay.Engine

	activeQueries int32

	mu              sync.Mutex
	classifierCache map[string]cachedClassifier
	queryCache      *queryCache
	coact           *coactBuffer
}

// cachedClassifier is a 60s in-memory TTL cache entry for a user's learned
// classifier model.
type cachedClassifier struct {
	model     *model.ClassifierModel
	fetchedAt time.Time
}

const classifierCacheTTL = 60 * time.Second

// New builds an Engine with a fresh Metrics set (replace it via WithMetrics)
// and no decay engine; until WithDecay attaches one, query-time cold-vector
// regeneration is disabled.
func New(store persistence.Store, vectors vectorstore.VectorStore, embedder embedding.Embedder, box *crypto.Box, clk clock.Clock, cfg config.Config) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		store:           store,
		vectors:         vectors,
		embedder:        embedder,
		box:             box,
		clk:             clk,
		cfg:             cfg,
		logger:          zap.NewNop().Sugar(),
		metrics:         &metrics.Metrics{},
		classifierCache: make(map[string]cachedClassifier),
		queryCache:      newQueryCache(1000, 60*time.Second),
		coact:           newCoactBuffer(50),
	}
}

// WithLogger overrides the default no-op logger.
func (e *Engine) WithLogger(l *zap.SugaredLogger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

// WithMetrics overrides the default metrics set, letting callers share one
// Metrics instance across hsg, decay, reflect and maintain.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	if m != nil {
		e.metrics = m
	}
	return e
}

// WithDecay attaches the decay engine used for query-time regeneration of
// cold/compressed vectors.
func (e *Engine) WithDecay(d *decay.Engine) *Engine {
	e.decay = d
	return e
}

// Metrics returns the engine's counter set.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// SetBox swaps the encryption box used for future Store/Search calls. Used
// by the top-level rotate_key operation once every persisted row has been
// re-encrypted under the new primary key.
func (e *Engine) SetBox(b *crypto.Box) {
	e.mu.Lock()
	e.box = b
	e.mu.Unlock()
}

// PersistenceStore exposes the underlying persistence.Store so the
// top-level API can perform operations (get/update/delete/history/
// list_users/rotate_key) that the HSG pipeline itself doesn't need.
func (e *Engine) PersistenceStore() persistence.Store { return e.store }

// Box exposes the current encryption box for content decrypt/encrypt needs
// outside the ingest/query pipelines (e.g. get/update/rotate_key).
func (e *Engine) Box() *crypto.Box { return e.box }

// Embedder exposes the configured embedder chain for callers outside the
// ingest/query pipelines that still need to re-embed content (e.g. update).
func (e *Engine) Embedder() embedding.Embedder { return e.embedder }

// Vectors exposes the vector store for callers that need to write a single
// sector's vector directly (e.g. update).
func (e *Engine) Vectors() vectorstore.VectorStore { return e.vectors }

// Config returns the engine's configuration snapshot.
func (e *Engine) Config() config.Config { return e.cfg }

// Clock returns the engine's injected clock.
func (e *Engine) Clock() clock.Clock { return e.clk }

// ActiveQueries exposes the live query counter so a decay.Engine constructed
// alongside this one can defer while queries are in flight.
func (e *Engine) ActiveQueries() *int32 { return &e.activeQueries }

func (e *Engine) incActive() { atomic.AddInt32(&e.activeQueries, 1) }
func (e *Engine) decActive() { atomic.AddInt32(&e.activeQueries, -1) }
