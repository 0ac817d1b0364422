package vectorstore

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// PostgresStore delegates to pgvector's `<=>` cosine-distance operator
// (`ORDER BY embedding <=> $1::vector`) over the composite
// (id, sector, user_id) key.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore wraps an existing pool and ensures the vectors table
// exists. table is the shared table prefix used by persistence.PostgresStore.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, table string) (*PostgresStore, error) {
	if table == "" {
		table = "openmemory"
	}
	s := &PostgresStore{pool: pool, table: table}
	schema := `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS ` + table + `_vectors (
	id TEXT NOT NULL,
	sector TEXT NOT NULL,
	user_id TEXT NOT NULL,
	dim INT NOT NULL,
	embedding vector NOT NULL,
	PRIMARY KEY (id, sector, user_id)
);
CREATE INDEX IF NOT EXISTS idx_` + table + `_vec_user_sector ON ` + table + `_vectors (user_id, sector);
CREATE INDEX IF NOT EXISTS idx_` + table + `_vec_ann ON ` + table + `_vectors USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, errs.Wrap(err, "create vectors schema")
	}
	return s, nil
}

func (s *PostgresStore) StoreVector(ctx context.Context, v model.Vector) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+`_vectors (id, sector, user_id, dim, embedding)
		VALUES ($1,$2,$3,$4,$5::vector)
		ON CONFLICT (id, sector, user_id) DO UPDATE SET dim=EXCLUDED.dim, embedding=EXCLUDED.embedding
	`, v.MemoryID, v.Sector, v.UserID, len(v.Values), vecLiteral(v.Values))
	if err != nil {
		return errs.Wrap(err, "store vector")
	}
	return nil
}

func (s *PostgresStore) StoreVectors(ctx context.Context, vs []model.Vector) error {
	if len(vs) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errs.Wrap(err, "begin store vectors tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	for _, v := range vs {
		if _, err = tx.Exec(ctx, `
			INSERT INTO `+s.table+`_vectors (id, sector, user_id, dim, embedding)
			VALUES ($1,$2,$3,$4,$5::vector)
			ON CONFLICT (id, sector, user_id) DO UPDATE SET dim=EXCLUDED.dim, embedding=EXCLUDED.embedding
		`, v.MemoryID, v.Sector, v.UserID, len(v.Values), vecLiteral(v.Values)); err != nil {
			return errs.Wrap(err, "store vector in batch")
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return errs.Wrap(err, "commit store vectors tx")
	}
	return nil
}

func vecLiteral(v []float32) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func parseVecLiteral(raw string) []float32 {
	var floats []float64
	if err := json.Unmarshal([]byte(raw), &floats); err != nil {
		return nil
	}
	out := make([]float32, len(floats))
	for i, f := range floats {
		out[i] = float32(f)
	}
	return out
}

func (s *PostgresStore) GetVectorsByID(ctx context.Context, id, userID string) ([]model.Vector, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, sector, user_id, dim, embedding::text FROM `+s.table+`_vectors WHERE id=$1 AND ($2='' OR user_id=$2)`, id, userID)
	if err != nil {
		return nil, errs.Wrap(err, "get vectors by id")
	}
	defer rows.Close()
	return scanPGVectorRows(rows)
}

func (s *PostgresStore) GetVectorsByIDs(ctx context.Context, ids []string, userID string) (map[string][]model.Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, sector, user_id, dim, embedding::text FROM `+s.table+`_vectors WHERE id = ANY($1) AND ($2='' OR user_id=$2)`, ids, userID)
	if err != nil {
		return nil, errs.Wrap(err, "get vectors by ids")
	}
	defer rows.Close()
	vs, err := scanPGVectorRows(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.Vector)
	for _, v := range vs {
		out[v.MemoryID] = append(out[v.MemoryID], v)
	}
	return out, nil
}

func (s *PostgresStore) GetVector(ctx context.Context, id, sector, userID string) (*model.Vector, error) {
	var v model.Vector
	var embText string
	err := s.pool.QueryRow(ctx, `SELECT id, sector, user_id, dim, embedding::text FROM `+s.table+`_vectors WHERE id=$1 AND sector=$2 AND ($3='' OR user_id=$3)`, id, sector, userID).
		Scan(&v.MemoryID, &v.Sector, &v.UserID, &v.Dim, &embText)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "get vector")
	}
	v.Values = parseVecLiteral(embText)
	return &v, nil
}

func scanPGVectorRows(rows pgx.Rows) ([]model.Vector, error) {
	var out []model.Vector
	for rows.Next() {
		var v model.Vector
		var embText string
		if err := rows.Scan(&v.MemoryID, &v.Sector, &v.UserID, &v.Dim, &embText); err != nil {
			return nil, err
		}
		v.Values = parseVecLiteral(embText)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteVectors(ctx context.Context, id string, sector string) error {
	var err error
	if sector == "" {
		_, err = s.pool.Exec(ctx, `DELETE FROM `+s.table+`_vectors WHERE id=$1`, id)
	} else {
		_, err = s.pool.Exec(ctx, `DELETE FROM `+s.table+`_vectors WHERE id=$1 AND sector=$2`, id, sector)
	}
	if err != nil {
		return errs.Wrap(err, "delete vectors")
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVec []float32, sector string, k int, filters Filters) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, 1 - (embedding <=> $1::vector) AS score
		FROM `+s.table+`_vectors
		WHERE sector=$2 AND ($3='' OR user_id=$3)
		ORDER BY embedding <=> $1::vector
		LIMIT $4
	`, vecLiteral(queryVec), sector, filters.UserID, k)
	if err != nil {
		return nil, errs.Wrap(err, "search vectors")
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, err
		}
		if filters.ExcludeIDs != nil && filters.ExcludeIDs[h.ID] {
			continue
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PostgresStore) Disconnect(ctx context.Context) error {
	s.pool.Close()
	return nil
}
