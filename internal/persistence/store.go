// Package persistence defines the transactional row store contract and
// its embedded (sqlite) and external (postgres) implementations.
package persistence

import (
	"context"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// SalienceUpdate is one row of a batched salience update.
type SalienceUpdate struct {
	ID         string
	UserID     string
	Salience   float64
	UpdatedAt  int64
	LastSeenAt int64
	// FeedbackScore is the new retrieval-feedback EMA. A negative value
	// leaves the stored feedback_score unchanged (decay and manual
	// reinforcement touch salience only).
	FeedbackScore float64
}

// Store is the persistence contract. Every mutating memory-scoped call
// accepts an optional userID filter; ownership/auth enforcement happens in
// higher layers.
type Store interface {
	UpsertMemory(ctx context.Context, m *model.Memory) error
	UpdateSeen(ctx context.Context, id, userID string, lastSeenAt int64, salience float64, updatedAt int64) error
	UpdateContent(ctx context.Context, id, userID, content string, primary model.Sector, version int, updatedAt int64) error
	BatchUpdateSalience(ctx context.Context, updates []SalienceUpdate) error

	GetMemory(ctx context.Context, id, userID string) (*model.Memory, error)
	GetBySimHash(ctx context.Context, userID, simhash string) ([]*model.Memory, error)
	GetByIDs(ctx context.Context, ids []string, userID string) ([]*model.Memory, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Memory, error)
	ListBySector(ctx context.Context, userID string, sector model.Sector, limit, offset int) ([]*model.Memory, error)
	ListActiveUsers(ctx context.Context) ([]string, error)
	SegmentStats(ctx context.Context, userID string) (count int, maxSegment int, err error)

	UpsertWaypoint(ctx context.Context, w model.Waypoint) error
	UpsertWaypoints(ctx context.Context, ws []model.Waypoint) error
	GetNeighborsBatch(ctx context.Context, srcIDs []string, userID string) (map[string][]model.Waypoint, error)
	DeleteWaypointsByEndpoint(ctx context.Context, memoryID string) error
	PruneWaypoints(ctx context.Context, userID string, minWeight float64) (int, error)

	// DeleteMemory removes the memory row (when userID is empty or owns it)
	// and, only when a row was removed, the waypoints referencing it as src
	// or dst and, in backends that also hold vectors, its vectors. The SQL
	// backends do this in one transaction.
	DeleteMemory(ctx context.Context, id, userID string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)

	GetClassifierModel(ctx context.Context, userID string) (*model.ClassifierModel, error)
	PutClassifierModel(ctx context.Context, cm *model.ClassifierModel) error
	IterateTrainingSamples(ctx context.Context, userID string, limit int, fn func(meanVec []float32, primary model.Sector) bool) error

	GetUserProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	PutUserProfile(ctx context.Context, p *model.UserProfile) error
	ListUsers(ctx context.Context) ([]string, error)

	AppendEmbedLog(ctx context.Context, e model.EmbedLog) error
	UpdateEmbedLogStatus(ctx context.Context, id string, status model.EmbedLogStatus, errMsg string) error
	AppendStatEvent(ctx context.Context, e model.StatEvent) error
	AppendMaintLog(ctx context.Context, m model.MaintLog) error
	DeleteStatsOlderThan(ctx context.Context, days int) (int, error)

	DeleteOrphans(ctx context.Context) (vectors int, waypoints int, err error)
	Optimize(ctx context.Context) error

	Disconnect(ctx context.Context) error
}
