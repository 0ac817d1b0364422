package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// SQLiteStore is the embedded backend: a single modernc.org/sqlite file
// with an initSchema() that runs one CREATE-TABLE-IF-NOT-EXISTS script.
// Writes are serialized behind a mutex since sqlite allows only one writer.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if absent) a sqlite database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(err, "open sqlite database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one connection keeps pragmas/locks consistent
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection so vectorstore.NewEmbeddedStore can
// share one file and one lock domain with this store.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) initSchema() error {
	schema := `
	PRAGMA journal_mode=WAL;
	PRAGMA busy_timeout=5000;
	PRAGMA foreign_keys=ON;

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		segment INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		simhash TEXT NOT NULL DEFAULT '',
		primary_sector TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		salience REAL NOT NULL DEFAULT 1.0,
		decay_lambda REAL NOT NULL DEFAULT 0.0,
		version INTEGER NOT NULL DEFAULT 1,
		mean_dim INTEGER NOT NULL DEFAULT 0,
		mean_vec BLOB,
		compressed_vec BLOB,
		feedback_score REAL NOT NULL DEFAULT 0.0,
		generated_summary TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
	CREATE INDEX IF NOT EXISTS idx_memories_user_sector ON memories(user_id, primary_sector);
	CREATE INDEX IF NOT EXISTS idx_memories_user_simhash ON memories(user_id, simhash);
	CREATE INDEX IF NOT EXISTS idx_memories_user_segment ON memories(user_id, segment);

	CREATE TABLE IF NOT EXISTS waypoints (
		src_id TEXT NOT NULL,
		dst_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 0.0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (src_id, dst_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_waypoints_user_src ON waypoints(user_id, src_id);
	CREATE INDEX IF NOT EXISTS idx_waypoints_user_dst ON waypoints(user_id, dst_id);

	CREATE TABLE IF NOT EXISTS classifier_models (
		user_id TEXT PRIMARY KEY,
		weights TEXT NOT NULL DEFAULT '{}',
		biases TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		summary TEXT NOT NULL DEFAULT '',
		reflection_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS embed_logs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		ts INTEGER NOT NULL,
		err TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS stat_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		count INTEGER NOT NULL DEFAULT 0,
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stat_events_ts ON stat_events(ts);

	CREATE TABLE IF NOT EXISTS maint_logs (
		id TEXT PRIMARY KEY,
		step TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		err TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT NOT NULL,
		sector TEXT NOT NULL,
		user_id TEXT NOT NULL,
		dim INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (id, sector, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_user_sector ON vectors(user_id, sector);

	CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errs.Wrap(err, "create sqlite schema")
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO _migrations (version, applied_at) VALUES (1, ?)`, time.Now().UnixMilli())
	if err != nil {
		return errs.Wrap(err, "record schema migration")
	}
	return nil
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalJSON[T any](raw string, out *T) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), out)
}

func (s *SQLiteStore) UpsertMemory(ctx context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, segment, content, simhash, primary_sector, tags, metadata,
			created_at, updated_at, last_seen_at, salience, decay_lambda, version, mean_dim, mean_vec,
			compressed_vec, feedback_score, generated_summary)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, segment=excluded.segment, content=excluded.content,
			simhash=excluded.simhash, primary_sector=excluded.primary_sector, tags=excluded.tags,
			metadata=excluded.metadata, updated_at=excluded.updated_at, last_seen_at=excluded.last_seen_at,
			salience=excluded.salience, decay_lambda=excluded.decay_lambda, version=excluded.version,
			mean_dim=excluded.mean_dim, mean_vec=excluded.mean_vec, compressed_vec=excluded.compressed_vec,
			feedback_score=excluded.feedback_score, generated_summary=excluded.generated_summary
	`,
		m.ID, m.UserID, m.Segment, m.Content, m.SimHash, string(m.Primary),
		marshalJSON(m.Tags), model.EncodeMetadata(m.Metadata),
		m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli(), m.LastSeenAt.UnixMilli(),
		m.Salience, m.DecayLambda, m.Version, m.MeanDim,
		model.EncodeVector(m.MeanVec), model.EncodeVector(m.CompressedVec),
		m.FeedbackScore, m.GeneratedSummary,
	)
	if err != nil {
		return errs.Wrap(err, "upsert memory")
	}
	return nil
}

func (s *SQLiteStore) UpdateSeen(ctx context.Context, id, userID string, lastSeenAt int64, salience float64, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET last_seen_at=?, salience=?, updated_at=?
		WHERE id=? AND (?='' OR user_id=?)
	`, lastSeenAt, salience, updatedAt, id, userID, userID)
	if err != nil {
		return errs.Wrap(err, "update seen")
	}
	return nil
}

func (s *SQLiteStore) UpdateContent(ctx context.Context, id, userID, content string, primary model.Sector, version int, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET content=?, primary_sector=?, version=?, updated_at=?
		WHERE id=? AND (?='' OR user_id=?)
	`, content, string(primary), version, updatedAt, id, userID, userID)
	if err != nil {
		return errs.Wrap(err, "update content")
	}
	return nil
}

func (s *SQLiteStore) BatchUpdateSalience(ctx context.Context, updates []SalienceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, "begin batch salience tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE memories SET salience=?, updated_at=?,
			last_seen_at=CASE WHEN ?>0 THEN ? ELSE last_seen_at END,
			feedback_score=CASE WHEN ?>=0 THEN ? ELSE feedback_score END
		WHERE id=? AND (?='' OR user_id=?)
	`)
	if err != nil {
		return errs.Wrap(err, "prepare batch salience")
	}
	defer stmt.Close()
	for _, u := range updates {
		if _, err = stmt.ExecContext(ctx, u.Salience, u.UpdatedAt, u.LastSeenAt, u.LastSeenAt,
			u.FeedbackScore, u.FeedbackScore, u.ID, u.UserID, u.UserID); err != nil {
			return errs.Wrap(err, "batch salience update")
		}
	}
	if err = tx.Commit(); err != nil {
		return errs.Wrap(err, "commit batch salience tx")
	}
	return nil
}

type memoryRow struct {
	id, userID, content, simhash, primarySector, tags, metadata, summary string
	segment, version, meanDim                                            int
	createdAt, updatedAt, lastSeenAt                                     int64
	salience, decayLambda, feedbackScore                                 float64
	meanVec, compressedVec                                               []byte
}

func scanMemory(scan func(dest ...any) error) (*model.Memory, error) {
	var r memoryRow
	if err := scan(&r.id, &r.userID, &r.segment, &r.content, &r.simhash, &r.primarySector, &r.tags,
		&r.metadata, &r.createdAt, &r.updatedAt, &r.lastSeenAt, &r.salience, &r.decayLambda, &r.version,
		&r.meanDim, &r.meanVec, &r.compressedVec, &r.feedbackScore, &r.summary); err != nil {
		return nil, err
	}
	var tags []string
	unmarshalJSON(r.tags, &tags)
	m := &model.Memory{
		ID: r.id, UserID: r.userID, Segment: r.segment, Content: r.content, SimHash: r.simhash,
		Primary: model.Sector(r.primarySector), Tags: tags, Metadata: model.DecodeMetadata(r.metadata),
		CreatedAt: msToTime(r.createdAt), UpdatedAt: msToTime(r.updatedAt), LastSeenAt: msToTime(r.lastSeenAt),
		Salience: r.salience, DecayLambda: r.decayLambda, Version: r.version, MeanDim: r.meanDim,
		MeanVec: model.DecodeVector(r.meanVec), CompressedVec: model.DecodeVector(r.compressedVec),
		FeedbackScore: r.feedbackScore, GeneratedSummary: r.summary,
	}
	return m, nil
}

const memoryColumns = `id, user_id, segment, content, simhash, primary_sector, tags, metadata,
	created_at, updated_at, last_seen_at, salience, decay_lambda, version, mean_dim, mean_vec,
	compressed_vec, feedback_score, generated_summary`

func (s *SQLiteStore) GetMemory(ctx context.Context, id, userID string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id=? AND (?='' OR user_id=?)`, id, userID, userID)
	m, err := scanMemory(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "get memory")
	}
	return m, nil
}

func (s *SQLiteStore) GetBySimHash(ctx context.Context, userID, simhash string) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE user_id=? AND simhash=? ORDER BY salience DESC`, userID, simhash)
	if err != nil {
		return nil, errs.Wrap(err, "query by simhash")
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func (s *SQLiteStore) GetByIDs(ctx context.Context, ids []string, userID string) ([]*model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := buildInClause(ids)
	args = append(args, userID, userID)
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE id IN (` + placeholders + `) AND (?='' OR user_id=?)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(err, "query by ids")
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func buildInClause(ids []string) (string, []any) {
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	return string(placeholders), args
}

func scanMemoryRows(rows *sql.Rows) ([]*model.Memory, error) {
	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, errs.Wrap(err, "scan memory row")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE user_id=? ORDER BY created_at DESC LIMIT ? OFFSET ?`, userID, normLimit(limit), offset)
	if err != nil {
		return nil, errs.Wrap(err, "list by user")
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func (s *SQLiteStore) ListBySector(ctx context.Context, userID string, sector model.Sector, limit, offset int) ([]*model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE user_id=? AND primary_sector=? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, string(sector), normLimit(limit), offset)
	if err != nil {
		return nil, errs.Wrap(err, "list by sector")
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func normLimit(limit int) int {
	if limit <= 0 {
		return 1_000_000
	}
	return limit
}

func (s *SQLiteStore) ListActiveUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM memories ORDER BY user_id`)
	if err != nil {
		return nil, errs.Wrap(err, "list active users")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SegmentStats(ctx context.Context, userID string) (int, int, error) {
	var count, maxSeg sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(segment) FROM memories WHERE user_id=?`, userID).Scan(&count, &maxSeg)
	if err != nil {
		return 0, 0, errs.Wrap(err, "segment stats")
	}
	return int(count.Int64), int(maxSeg.Int64), nil
}

func (s *SQLiteStore) UpsertWaypoint(ctx context.Context, w model.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertWaypointLocked(ctx, s.db, w)
}

func (s *SQLiteStore) upsertWaypointLocked(ctx context.Context, execer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, w model.Waypoint) error {
	w.ClampWeight()
	_, err := execer.ExecContext(ctx, `
		INSERT INTO waypoints (src_id, dst_id, user_id, weight, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(src_id, dst_id, user_id) DO UPDATE SET weight=excluded.weight, updated_at=excluded.updated_at
	`, w.SrcID, w.DstID, w.UserID, w.Weight, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return errs.Wrap(err, "upsert waypoint")
	}
	return nil
}

func (s *SQLiteStore) UpsertWaypoints(ctx context.Context, ws []model.Waypoint) error {
	if len(ws) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, "begin waypoints tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, w := range ws {
		if err = s.upsertWaypointLocked(ctx, tx, w); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return errs.Wrap(err, "commit waypoints tx")
	}
	return nil
}

func (s *SQLiteStore) GetNeighborsBatch(ctx context.Context, srcIDs []string, userID string) (map[string][]model.Waypoint, error) {
	if len(srcIDs) == 0 {
		return nil, nil
	}
	placeholders, args := buildInClause(srcIDs)
	args = append(args, userID)
	query := `SELECT src_id, dst_id, user_id, weight, created_at, updated_at FROM waypoints WHERE src_id IN (` + placeholders + `) AND user_id=?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(err, "get neighbors batch")
	}
	defer rows.Close()
	out := make(map[string][]model.Waypoint)
	for rows.Next() {
		var w model.Waypoint
		if err := rows.Scan(&w.SrcID, &w.DstID, &w.UserID, &w.Weight, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out[w.SrcID] = append(out[w.SrcID], w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteWaypointsByEndpoint(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM waypoints WHERE src_id=? OR dst_id=?`, memoryID, memoryID)
	if err != nil {
		return errs.Wrap(err, "delete waypoints by endpoint")
	}
	return nil
}

func (s *SQLiteStore) PruneWaypoints(ctx context.Context, userID string, minWeight float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM waypoints WHERE user_id=? AND weight<?`, userID, minWeight)
	if err != nil {
		return 0, errs.Wrap(err, "prune waypoints")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteMemory cascades the memory row, its vectors and any waypoint
// referencing it, in one transaction.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, "begin delete memory tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id=? AND (?='' OR user_id=?)`, id, userID, userID)
	if err != nil {
		return errs.Wrap(err, "delete memory row")
	}
	// Cascade only when the row was actually owned and deleted, so a
	// non-owner's call cannot strip another user's edges or vectors.
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM waypoints WHERE src_id=? OR dst_id=?`, id, id); err != nil {
			return errs.Wrap(err, "delete waypoints for memory")
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM vectors WHERE id=?`, id); err != nil {
			return errs.Wrap(err, "delete vectors for memory")
		}
	}
	if err = tx.Commit(); err != nil {
		return errs.Wrap(err, "commit delete memory tx")
	}
	return nil
}

func (s *SQLiteStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Wrap(err, "begin delete all tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM waypoints WHERE user_id=?`, userID); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM vectors WHERE user_id=?`, userID); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE user_id=?`, userID)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, errs.Wrap(err, "commit delete all tx")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) GetClassifierModel(ctx context.Context, userID string) (*model.ClassifierModel, error) {
	var weightsRaw, biasesRaw string
	cm := &model.ClassifierModel{UserID: userID}
	err := s.db.QueryRowContext(ctx, `SELECT weights, biases, version, updated_at FROM classifier_models WHERE user_id=?`, userID).
		Scan(&weightsRaw, &biasesRaw, &cm.Version, &cm.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "get classifier model")
	}
	unmarshalJSON(weightsRaw, &cm.Weights)
	unmarshalJSON(biasesRaw, &cm.Biases)
	return cm, nil
}

func (s *SQLiteStore) PutClassifierModel(ctx context.Context, cm *model.ClassifierModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classifier_models (user_id, weights, biases, version, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET weights=excluded.weights, biases=excluded.biases,
			version=excluded.version, updated_at=excluded.updated_at
	`, cm.UserID, marshalJSON(cm.Weights), marshalJSON(cm.Biases), cm.Version, cm.UpdatedAt)
	if err != nil {
		return errs.Wrap(err, "put classifier model")
	}
	return nil
}

func (s *SQLiteStore) IterateTrainingSamples(ctx context.Context, userID string, limit int, fn func([]float32, model.Sector) bool) error {
	rows, err := s.db.QueryContext(ctx, `SELECT mean_vec, primary_sector FROM memories WHERE user_id=? AND mean_vec IS NOT NULL LIMIT ?`, userID, normLimit(limit))
	if err != nil {
		return errs.Wrap(err, "iterate training samples")
	}
	defer rows.Close()
	for rows.Next() {
		var vecBytes []byte
		var sector string
		if err := rows.Scan(&vecBytes, &sector); err != nil {
			return err
		}
		if !fn(model.DecodeVector(vecBytes), model.Sector(sector)) {
			break
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) GetUserProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	p := &model.UserProfile{UserID: userID}
	var metaRaw string
	err := s.db.QueryRowContext(ctx, `SELECT summary, reflection_count, created_at, updated_at, metadata FROM user_profiles WHERE user_id=?`, userID).
		Scan(&p.Summary, &p.ReflectionCount, &p.CreatedAt, &p.UpdatedAt, &metaRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "get user profile")
	}
	p.Metadata = model.DecodeMetadata(metaRaw)
	return p, nil
}

func (s *SQLiteStore) PutUserProfile(ctx context.Context, p *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, summary, reflection_count, created_at, updated_at, metadata)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET summary=excluded.summary, reflection_count=excluded.reflection_count,
			updated_at=excluded.updated_at, metadata=excluded.metadata
	`, p.UserID, p.Summary, p.ReflectionCount, p.CreatedAt, p.UpdatedAt, model.EncodeMetadata(p.Metadata))
	if err != nil {
		return errs.Wrap(err, "put user profile")
	}
	return nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_profiles ORDER BY user_id`)
	if err != nil {
		return nil, errs.Wrap(err, "list users")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendEmbedLog(ctx context.Context, e model.EmbedLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO embed_logs (id, model, status, ts, err, user_id) VALUES (?,?,?,?,?,?)`,
		e.ID, e.Model, string(e.Status), e.TS, e.Err, e.UserID)
	if err != nil {
		return errs.Wrap(err, "append embed log")
	}
	return nil
}

func (s *SQLiteStore) UpdateEmbedLogStatus(ctx context.Context, id string, status model.EmbedLogStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE embed_logs SET status=?, err=? WHERE id=?`, string(status), errMsg, id)
	if err != nil {
		return errs.Wrap(err, "update embed log status")
	}
	return nil
}

func (s *SQLiteStore) AppendStatEvent(ctx context.Context, e model.StatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO stat_events (id, kind, user_id, count, ts) VALUES (?,?,?,?,?)`,
		e.ID, e.Kind, e.UserID, e.Count, e.TS)
	if err != nil {
		return errs.Wrap(err, "append stat event")
	}
	return nil
}

func (s *SQLiteStore) AppendMaintLog(ctx context.Context, m model.MaintLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO maint_logs (id, step, user_id, detail, err, ts, duration) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.Step, m.UserID, m.Detail, m.Err, m.TS, m.Duration)
	if err != nil {
		return errs.Wrap(err, "append maint log")
	}
	return nil
}

func (s *SQLiteStore) DeleteStatsOlderThan(ctx context.Context, days int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -days).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM stat_events WHERE ts<?`, cutoff)
	if err != nil {
		return 0, errs.Wrap(err, "delete old stats")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeleteOrphans(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM waypoints
		WHERE src_id NOT IN (SELECT id FROM memories) OR dst_id NOT IN (SELECT id FROM memories)
	`)
	if err != nil {
		return 0, 0, errs.Wrap(err, "delete orphan waypoints")
	}
	nw, _ := res.RowsAffected()
	res, err = s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id NOT IN (SELECT id FROM memories)`)
	if err != nil {
		return 0, int(nw), errs.Wrap(err, "delete orphan vectors")
	}
	nv, _ := res.RowsAffected()
	return int(nv), int(nw), nil
}

func (s *SQLiteStore) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return errs.Wrap(err, "analyze sqlite")
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return errs.Wrap(err, "vacuum sqlite")
	}
	return nil
}

func (s *SQLiteStore) Disconnect(ctx context.Context) error {
	return s.db.Close()
}
