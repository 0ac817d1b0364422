package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// PostgresStore is the external backend: a pgxpool.Pool, a schema-on-boot
// createSchema step, and transactional multi-statement writes for the
// waypoint graph.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

// NewPostgresStore connects to Postgres, ensures pgvector + the schema exist,
// and returns a ready Store.
func NewPostgresStore(ctx context.Context, connStr, schema, table string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errs.Wrap(err, "connect to postgres")
	}
	if schema == "" {
		schema = "public"
	}
	if table == "" {
		table = "openmemory"
	}
	s := &PostgresStore{pool: pool, schema: schema, table: table}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Pool exposes the underlying pgx pool so callers can share one connection
// pool between the persistence and vectorstore backends.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Table returns the configured table prefix, shared with vectorstore.NewPostgresStore.
func (s *PostgresStore) Table() string { return s.table }

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS ` + s.table + `_vectors (
	id TEXT NOT NULL,
	sector TEXT NOT NULL,
	user_id TEXT NOT NULL,
	dim INT NOT NULL,
	embedding vector NOT NULL,
	PRIMARY KEY (id, sector, user_id)
);

CREATE TABLE IF NOT EXISTS ` + s.table + `_memories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	segment INT NOT NULL DEFAULT 0,
	content TEXT NOT NULL,
	simhash TEXT NOT NULL DEFAULT '',
	primary_sector TEXT NOT NULL,
	tags JSONB NOT NULL DEFAULT '[]',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	last_seen_at BIGINT NOT NULL,
	salience DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	decay_lambda DOUBLE PRECISION NOT NULL DEFAULT 0.0,
	version INT NOT NULL DEFAULT 1,
	mean_dim INT NOT NULL DEFAULT 0,
	mean_vec vector,
	compressed_vec vector,
	feedback_score DOUBLE PRECISION NOT NULL DEFAULT 0.0,
	generated_summary TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_` + s.table + `_mem_user ON ` + s.table + `_memories (user_id);
CREATE INDEX IF NOT EXISTS idx_` + s.table + `_mem_user_sector ON ` + s.table + `_memories (user_id, primary_sector);
CREATE INDEX IF NOT EXISTS idx_` + s.table + `_mem_user_simhash ON ` + s.table + `_memories (user_id, simhash);
CREATE INDEX IF NOT EXISTS idx_` + s.table + `_mem_vec ON ` + s.table + `_memories USING ivfflat (mean_vec vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS ` + s.table + `_waypoints (
	src_id TEXT NOT NULL,
	dst_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 0.0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (src_id, dst_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_` + s.table + `_wp_user_src ON ` + s.table + `_waypoints (user_id, src_id);
CREATE INDEX IF NOT EXISTS idx_` + s.table + `_wp_user_dst ON ` + s.table + `_waypoints (user_id, dst_id);

CREATE TABLE IF NOT EXISTS ` + s.table + `_classifiers (
	user_id TEXT PRIMARY KEY,
	weights JSONB NOT NULL DEFAULT '{}',
	biases JSONB NOT NULL DEFAULT '{}',
	version INT NOT NULL DEFAULT 0,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS ` + s.table + `_profiles (
	user_id TEXT PRIMARY KEY,
	summary TEXT NOT NULL DEFAULT '',
	reflection_count INT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS ` + s.table + `_embed_logs (
	id TEXT PRIMARY KEY,
	model TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	ts BIGINT NOT NULL,
	err TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ` + s.table + `_stat_events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	count INT NOT NULL DEFAULT 0,
	ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_` + s.table + `_stats_ts ON ` + s.table + `_stat_events (ts);

CREATE TABLE IF NOT EXISTS ` + s.table + `_maint_logs (
	id TEXT PRIMARY KEY,
	step TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	err TEXT NOT NULL DEFAULT '',
	ts BIGINT NOT NULL,
	duration BIGINT NOT NULL DEFAULT 0
);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errs.Wrap(err, "execute postgres schema")
	}
	return nil
}

func vecLiteral(v []float32) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (s *PostgresStore) UpsertMemory(ctx context.Context, m *model.Memory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+`_memories (id, user_id, segment, content, simhash, primary_sector, tags,
			metadata, created_at, updated_at, last_seen_at, salience, decay_lambda, version, mean_dim,
			mean_vec, compressed_vec, feedback_score, generated_summary)
		VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8::jsonb,$9,$10,$11,$12,$13,$14,$15,$16::vector,$17::vector,$18,$19)
		ON CONFLICT (id) DO UPDATE SET
			user_id=EXCLUDED.user_id, segment=EXCLUDED.segment, content=EXCLUDED.content,
			simhash=EXCLUDED.simhash, primary_sector=EXCLUDED.primary_sector, tags=EXCLUDED.tags,
			metadata=EXCLUDED.metadata, updated_at=EXCLUDED.updated_at, last_seen_at=EXCLUDED.last_seen_at,
			salience=EXCLUDED.salience, decay_lambda=EXCLUDED.decay_lambda, version=EXCLUDED.version,
			mean_dim=EXCLUDED.mean_dim, mean_vec=EXCLUDED.mean_vec, compressed_vec=EXCLUDED.compressed_vec,
			feedback_score=EXCLUDED.feedback_score, generated_summary=EXCLUDED.generated_summary
	`, m.ID, m.UserID, m.Segment, m.Content, m.SimHash, string(m.Primary), marshalJSON(m.Tags),
		model.EncodeMetadata(m.Metadata), m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli(), m.LastSeenAt.UnixMilli(),
		m.Salience, m.DecayLambda, m.Version, m.MeanDim, vecLiteral(m.MeanVec), vecLiteral(m.CompressedVec),
		m.FeedbackScore, m.GeneratedSummary)
	if err != nil {
		return errs.Wrap(err, "upsert memory")
	}
	return nil
}

func (s *PostgresStore) UpdateSeen(ctx context.Context, id, userID string, lastSeenAt int64, salience float64, updatedAt int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`_memories SET last_seen_at=$1, salience=$2, updated_at=$3
		WHERE id=$4 AND ($5='' OR user_id=$5)
	`, lastSeenAt, salience, updatedAt, id, userID)
	if err != nil {
		return errs.Wrap(err, "update seen")
	}
	return nil
}

func (s *PostgresStore) UpdateContent(ctx context.Context, id, userID, content string, primary model.Sector, version int, updatedAt int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`_memories SET content=$1, primary_sector=$2, version=$3, updated_at=$4
		WHERE id=$5 AND ($6='' OR user_id=$6)
	`, content, string(primary), version, updatedAt, id, userID)
	if err != nil {
		return errs.Wrap(err, "update content")
	}
	return nil
}

// BatchUpdateSalience uses one multi-row UPDATE...FROM (UNNEST ...) statement,
// the pgx idiom for "batched executemany", instead of a query loop.
func (s *PostgresStore) BatchUpdateSalience(ctx context.Context, updates []SalienceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	users := make([]string, len(updates))
	saliences := make([]float64, len(updates))
	updatedAts := make([]int64, len(updates))
	lastSeens := make([]int64, len(updates))
	feedbacks := make([]float64, len(updates))
	for i, u := range updates {
		ids[i], users[i], saliences[i], updatedAts[i], lastSeens[i], feedbacks[i] =
			u.ID, u.UserID, u.Salience, u.UpdatedAt, u.LastSeenAt, u.FeedbackScore
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`_memories AS m SET
			salience = u.salience,
			updated_at = u.updated_at,
			last_seen_at = CASE WHEN u.last_seen_at > 0 THEN u.last_seen_at ELSE m.last_seen_at END,
			feedback_score = CASE WHEN u.feedback_score >= 0 THEN u.feedback_score ELSE m.feedback_score END
		FROM (
			SELECT UNNEST($1::text[]) AS id, UNNEST($2::text[]) AS user_id, UNNEST($3::double precision[]) AS salience,
			       UNNEST($4::bigint[]) AS updated_at, UNNEST($5::bigint[]) AS last_seen_at,
			       UNNEST($6::double precision[]) AS feedback_score
		) AS u
		WHERE m.id = u.id AND (u.user_id = '' OR m.user_id = u.user_id)
	`, ids, users, saliences, updatedAts, lastSeens, feedbacks)
	if err != nil {
		return errs.Wrap(err, "batch update salience")
	}
	return nil
}

const pgMemoryColumns = `id, user_id, segment, content, simhash, primary_sector, tags::text, metadata::text,
	created_at, updated_at, last_seen_at, salience, decay_lambda, version, mean_dim, mean_vec::text,
	compressed_vec::text, feedback_score, generated_summary`

func scanPGMemory(scan func(dest ...any) error) (*model.Memory, error) {
	var (
		id, userID, content, simhash, primarySector, tagsRaw, metaRaw, summary string
		segment, version, meanDim                                              int
		createdAt, updatedAt, lastSeenAt                                       int64
		salience, decayLambda, feedbackScore                                   float64
		meanVecRaw, compressedVecRaw                                           *string
	)
	if err := scan(&id, &userID, &segment, &content, &simhash, &primarySector, &tagsRaw, &metaRaw,
		&createdAt, &updatedAt, &lastSeenAt, &salience, &decayLambda, &version, &meanDim,
		&meanVecRaw, &compressedVecRaw, &feedbackScore, &summary); err != nil {
		return nil, err
	}
	var tags []string
	unmarshalJSON(tagsRaw, &tags)
	return &model.Memory{
		ID: id, UserID: userID, Segment: segment, Content: content, SimHash: simhash,
		Primary: model.Sector(primarySector), Tags: tags, Metadata: model.DecodeMetadata(metaRaw),
		CreatedAt: msToTime(createdAt), UpdatedAt: msToTime(updatedAt), LastSeenAt: msToTime(lastSeenAt),
		Salience: salience, DecayLambda: decayLambda, Version: version, MeanDim: meanDim,
		MeanVec: parsePGVector(meanVecRaw), CompressedVec: parsePGVector(compressedVecRaw),
		FeedbackScore: feedbackScore, GeneratedSummary: summary,
	}, nil
}

func parsePGVector(raw *string) []float32 {
	if raw == nil || *raw == "" {
		return nil
	}
	var floats []float64
	if err := json.Unmarshal([]byte(*raw), &floats); err != nil {
		return nil
	}
	out := make([]float32, len(floats))
	for i, f := range floats {
		out[i] = float32(f)
	}
	return out
}

func (s *PostgresStore) GetMemory(ctx context.Context, id, userID string) (*model.Memory, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgMemoryColumns+` FROM `+s.table+`_memories WHERE id=$1 AND ($2='' OR user_id=$2)`, id, userID)
	m, err := scanPGMemory(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "get memory")
	}
	return m, nil
}

func (s *PostgresStore) GetBySimHash(ctx context.Context, userID, simhash string) ([]*model.Memory, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgMemoryColumns+` FROM `+s.table+`_memories WHERE user_id=$1 AND simhash=$2 ORDER BY salience DESC`, userID, simhash)
	if err != nil {
		return nil, errs.Wrap(err, "query by simhash")
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func (s *PostgresStore) GetByIDs(ctx context.Context, ids []string, userID string) ([]*model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+pgMemoryColumns+` FROM `+s.table+`_memories WHERE id = ANY($1) AND ($2='' OR user_id=$2)`, ids, userID)
	if err != nil {
		return nil, errs.Wrap(err, "query by ids")
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func scanPGMemoryRows(rows pgx.Rows) ([]*model.Memory, error) {
	var out []*model.Memory
	for rows.Next() {
		m, err := scanPGMemory(rows.Scan)
		if err != nil {
			return nil, errs.Wrap(err, "scan memory row")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Memory, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgMemoryColumns+` FROM `+s.table+`_memories WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, normLimit(limit), offset)
	if err != nil {
		return nil, errs.Wrap(err, "list by user")
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func (s *PostgresStore) ListBySector(ctx context.Context, userID string, sector model.Sector, limit, offset int) ([]*model.Memory, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgMemoryColumns+` FROM `+s.table+`_memories WHERE user_id=$1 AND primary_sector=$2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		userID, string(sector), normLimit(limit), offset)
	if err != nil {
		return nil, errs.Wrap(err, "list by sector")
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func (s *PostgresStore) ListActiveUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM `+s.table+`_memories ORDER BY user_id`)
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

func (s *PostgresStore) SegmentStats(ctx context.Context, userID string) (int, int, error) {
	var count, maxSeg int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(MAX(segment),0) FROM `+s.table+`_memories WHERE user_id=$1`, userID).Scan(&count, &maxSeg)
	if err != nil {
		return 0, 0, errs.Wrap(err, "segment stats")
	}
	return count, maxSeg, nil
}

func (s *PostgresStore) upsertWaypointTx(ctx context.Context, exec interface {
	Exec(context.Context, string, ...any) (pgx.CommandTag, error)
}, w model.Waypoint) error {
	w.ClampWeight()
	_, err := exec.Exec(ctx, `
		INSERT INTO `+s.table+`_waypoints (src_id, dst_id, user_id, weight, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (src_id, dst_id, user_id) DO UPDATE SET weight=EXCLUDED.weight, updated_at=EXCLUDED.updated_at
	`, w.SrcID, w.DstID, w.UserID, w.Weight, w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *PostgresStore) UpsertWaypoint(ctx context.Context, w model.Waypoint) error {
	if err := s.upsertWaypointTx(ctx, s.pool, w); err != nil {
		return errs.Wrap(err, "upsert waypoint")
	}
	return nil
}

// UpsertWaypoints writes a batch of edges in one transaction.
func (s *PostgresStore) UpsertWaypoints(ctx context.Context, ws []model.Waypoint) error {
	if len(ws) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errs.Wrap(err, "begin waypoints tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	for _, w := range ws {
		if err = s.upsertWaypointTx(ctx, tx, w); err != nil {
			return errs.Wrap(err, "upsert waypoint in tx")
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return errs.Wrap(err, "commit waypoints tx")
	}
	return nil
}

func (s *PostgresStore) GetNeighborsBatch(ctx context.Context, srcIDs []string, userID string) (map[string][]model.Waypoint, error) {
	if len(srcIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT src_id, dst_id, user_id, weight, created_at, updated_at FROM `+s.table+`_waypoints WHERE src_id = ANY($1) AND user_id=$2`,
		srcIDs, userID)
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

func (s *PostgresStore) DeleteWaypointsByEndpoint(ctx context.Context, memoryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+`_waypoints WHERE src_id=$1 OR dst_id=$1`, memoryID)
	if err != nil {
		return errs.Wrap(err, "delete waypoints by endpoint")
	}
	return nil
}

func (s *PostgresStore) PruneWaypoints(ctx context.Context, userID string, minWeight float64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+`_waypoints WHERE user_id=$1 AND weight<$2`, userID, minWeight)
	if err != nil {
		return 0, errs.Wrap(err, "prune waypoints")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteMemory(ctx context.Context, id, userID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errs.Wrap(err, "begin delete memory tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	tag, err := tx.Exec(ctx, `DELETE FROM `+s.table+`_memories WHERE id=$1 AND ($2='' OR user_id=$2)`, id, userID)
	if err != nil {
		return errs.Wrap(err, "delete memory row")
	}
	// Cascade only when the row was actually owned and deleted, so a
	// non-owner's call cannot strip another user's edges or vectors.
	if tag.RowsAffected() > 0 {
		if _, err = tx.Exec(ctx, `DELETE FROM `+s.table+`_waypoints WHERE src_id=$1 OR dst_id=$1`, id); err != nil {
			return errs.Wrap(err, "delete waypoints for memory")
		}
		if _, err = tx.Exec(ctx, `DELETE FROM `+s.table+`_vectors WHERE id=$1`, id); err != nil {
			return errs.Wrap(err, "delete vectors for memory")
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return errs.Wrap(err, "commit delete memory tx")
	}
	return nil
}

func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errs.Wrap(err, "begin delete all tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, `DELETE FROM `+s.table+`_waypoints WHERE user_id=$1`, userID); err != nil {
		return 0, err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM `+s.table+`_vectors WHERE user_id=$1`, userID); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM `+s.table+`_memories WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, errs.Wrap(err, "commit delete all tx")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetClassifierModel(ctx context.Context, userID string) (*model.ClassifierModel, error) {
	var weightsRaw, biasesRaw string
	cm := &model.ClassifierModel{UserID: userID}
	err := s.pool.QueryRow(ctx, `SELECT weights::text, biases::text, version, updated_at FROM `+s.table+`_classifiers WHERE user_id=$1`, userID).
		Scan(&weightsRaw, &biasesRaw, &cm.Version, &cm.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "get classifier model")
	}
	unmarshalJSON(weightsRaw, &cm.Weights)
	unmarshalJSON(biasesRaw, &cm.Biases)
	return cm, nil
}

func (s *PostgresStore) PutClassifierModel(ctx context.Context, cm *model.ClassifierModel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+`_classifiers (user_id, weights, biases, version, updated_at)
		VALUES ($1,$2::jsonb,$3::jsonb,$4,$5)
		ON CONFLICT (user_id) DO UPDATE SET weights=EXCLUDED.weights, biases=EXCLUDED.biases,
			version=EXCLUDED.version, updated_at=EXCLUDED.updated_at
	`, cm.UserID, marshalJSON(cm.Weights), marshalJSON(cm.Biases), cm.Version, cm.UpdatedAt)
	if err != nil {
		return errs.Wrap(err, "put classifier model")
	}
	return nil
}

func (s *PostgresStore) IterateTrainingSamples(ctx context.Context, userID string, limit int, fn func([]float32, model.Sector) bool) error {
	rows, err := s.pool.Query(ctx, `SELECT mean_vec::text, primary_sector FROM `+s.table+`_memories WHERE user_id=$1 AND mean_vec IS NOT NULL LIMIT $2`,
		userID, normLimit(limit))
	if err != nil {
		return errs.Wrap(err, "iterate training samples")
	}
	defer rows.Close()
	for rows.Next() {
		var vecRaw *string
		var sector string
		if err := rows.Scan(&vecRaw, &sector); err != nil {
			return err
		}
		if !fn(parsePGVector(vecRaw), model.Sector(sector)) {
			break
		}
	}
	return rows.Err()
}

func (s *PostgresStore) GetUserProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	p := &model.UserProfile{UserID: userID}
	var metaRaw string
	err := s.pool.QueryRow(ctx, `SELECT summary, reflection_count, created_at, updated_at, metadata::text FROM `+s.table+`_profiles WHERE user_id=$1`, userID).
		Scan(&p.Summary, &p.ReflectionCount, &p.CreatedAt, &p.UpdatedAt, &metaRaw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "get user profile")
	}
	p.Metadata = model.DecodeMetadata(metaRaw)
	return p, nil
}

func (s *PostgresStore) PutUserProfile(ctx context.Context, p *model.UserProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+`_profiles (user_id, summary, reflection_count, created_at, updated_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb)
		ON CONFLICT (user_id) DO UPDATE SET summary=EXCLUDED.summary, reflection_count=EXCLUDED.reflection_count,
			updated_at=EXCLUDED.updated_at, metadata=EXCLUDED.metadata
	`, p.UserID, p.Summary, p.ReflectionCount, p.CreatedAt, p.UpdatedAt, model.EncodeMetadata(p.Metadata))
	if err != nil {
		return errs.Wrap(err, "put user profile")
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM `+s.table+`_profiles ORDER BY user_id`)
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

func (s *PostgresStore) AppendEmbedLog(ctx context.Context, e model.EmbedLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO `+s.table+`_embed_logs (id, model, status, ts, err, user_id) VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.Model, string(e.Status), e.TS, e.Err, e.UserID)
	if err != nil {
		return errs.Wrap(err, "append embed log")
	}
	return nil
}

func (s *PostgresStore) UpdateEmbedLogStatus(ctx context.Context, id string, status model.EmbedLogStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx, `UPDATE `+s.table+`_embed_logs SET status=$1, err=$2 WHERE id=$3`, string(status), errMsg, id)
	if err != nil {
		return errs.Wrap(err, "update embed log status")
	}
	return nil
}

func (s *PostgresStore) AppendStatEvent(ctx context.Context, e model.StatEvent) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO `+s.table+`_stat_events (id, kind, user_id, count, ts) VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.Kind, e.UserID, e.Count, e.TS)
	if err != nil {
		return errs.Wrap(err, "append stat event")
	}
	return nil
}

func (s *PostgresStore) AppendMaintLog(ctx context.Context, m model.MaintLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO `+s.table+`_maint_logs (id, step, user_id, detail, err, ts, duration) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.Step, m.UserID, m.Detail, m.Err, m.TS, m.Duration)
	if err != nil {
		return errs.Wrap(err, "append maint log")
	}
	return nil
}

func (s *PostgresStore) DeleteStatsOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).UnixMilli()
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+`_stat_events WHERE ts<$1`, cutoff)
	if err != nil {
		return 0, errs.Wrap(err, "delete old stats")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteOrphans(ctx context.Context) (int, int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table+`_waypoints w
		WHERE NOT EXISTS (SELECT 1 FROM `+s.table+`_memories m WHERE m.id = w.src_id)
		   OR NOT EXISTS (SELECT 1 FROM `+s.table+`_memories m WHERE m.id = w.dst_id)
	`)
	if err != nil {
		return 0, 0, errs.Wrap(err, "delete orphan waypoints")
	}
	waypoints := int(tag.RowsAffected())
	tag, err = s.pool.Exec(ctx, `
		DELETE FROM `+s.table+`_vectors v
		WHERE NOT EXISTS (SELECT 1 FROM `+s.table+`_memories m WHERE m.id = v.id)
	`)
	if err != nil {
		return 0, waypoints, errs.Wrap(err, "delete orphan vectors")
	}
	return int(tag.RowsAffected()), waypoints, nil
}

func (s *PostgresStore) Optimize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `ANALYZE `+s.table+`_memories`); err != nil {
		return errs.Wrap(err, "analyze postgres")
	}
	if _, err := s.pool.Exec(ctx, `VACUUM `+s.table+`_memories`); err != nil {
		return errs.Wrap(err, "vacuum postgres")
	}
	return nil
}

func (s *PostgresStore) Disconnect(ctx context.Context) error {
	s.pool.Close()
	return nil
}
