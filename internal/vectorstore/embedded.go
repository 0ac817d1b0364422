package vectorstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// EmbeddedStore packs vectors as contiguous float32 blobs in a dedicated
// `vectors` table alongside the row store and performs a scan-and-score
// cosine search.
//
// It shares the *sql.DB connection with persistence.SQLiteStore so both
// live in one file and one set of locks.
type EmbeddedStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewEmbeddedStore wraps an existing sqlite connection and ensures the
// vectors table exists.
func NewEmbeddedStore(db *sql.DB) (*EmbeddedStore, error) {
	s := &EmbeddedStore{db: db}
	schema := `
	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT NOT NULL,
		sector TEXT NOT NULL,
		user_id TEXT NOT NULL,
		dim INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (id, sector, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_user_sector ON vectors(user_id, sector);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, errs.Wrap(err, "create vectors schema")
	}
	return s, nil
}

func (s *EmbeddedStore) StoreVector(ctx context.Context, v model.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vectors (id, sector, user_id, dim, data) VALUES (?,?,?,?,?)
		ON CONFLICT(id, sector, user_id) DO UPDATE SET dim=excluded.dim, data=excluded.data
	`, v.MemoryID, v.Sector, v.UserID, len(v.Values), model.EncodeVector(v.Values))
	if err != nil {
		return errs.Wrap(err, "store vector")
	}
	return nil
}

func (s *EmbeddedStore) StoreVectors(ctx context.Context, vs []model.Vector) error {
	if len(vs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, "begin store vectors tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (id, sector, user_id, dim, data) VALUES (?,?,?,?,?)
		ON CONFLICT(id, sector, user_id) DO UPDATE SET dim=excluded.dim, data=excluded.data
	`)
	if err != nil {
		return errs.Wrap(err, "prepare store vectors")
	}
	defer stmt.Close()
	for _, v := range vs {
		if _, err = stmt.ExecContext(ctx, v.MemoryID, v.Sector, v.UserID, len(v.Values), model.EncodeVector(v.Values)); err != nil {
			return errs.Wrap(err, "store vector in batch")
		}
	}
	if err = tx.Commit(); err != nil {
		return errs.Wrap(err, "commit store vectors tx")
	}
	return nil
}

func (s *EmbeddedStore) GetVectorsByID(ctx context.Context, id, userID string) ([]model.Vector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sector, user_id, dim, data FROM vectors WHERE id=? AND (?='' OR user_id=?)`, id, userID, userID)
	if err != nil {
		return nil, errs.Wrap(err, "get vectors by id")
	}
	defer rows.Close()
	return scanVectorRows(rows)
}

func (s *EmbeddedStore) GetVectorsByIDs(ctx context.Context, ids []string, userID string) (map[string][]model.Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids)+2)
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	args = append(args, userID, userID)
	query := `SELECT id, sector, user_id, dim, data FROM vectors WHERE id IN (` + string(placeholders) + `) AND (?='' OR user_id=?)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(err, "get vectors by ids")
	}
	defer rows.Close()
	vs, err := scanVectorRows(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.Vector)
	for _, v := range vs {
		out[v.MemoryID] = append(out[v.MemoryID], v)
	}
	return out, nil
}

func (s *EmbeddedStore) GetVector(ctx context.Context, id, sector, userID string) (*model.Vector, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, sector, user_id, dim, data FROM vectors WHERE id=? AND sector=? AND (?='' OR user_id=?)`, id, sector, userID, userID)
	var v model.Vector
	var data []byte
	if err := row.Scan(&v.MemoryID, &v.Sector, &v.UserID, &v.Dim, &data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Wrap(err, "get vector")
	}
	v.Values = model.DecodeVector(data)
	return &v, nil
}

func scanVectorRows(rows *sql.Rows) ([]model.Vector, error) {
	var out []model.Vector
	for rows.Next() {
		var v model.Vector
		var data []byte
		if err := rows.Scan(&v.MemoryID, &v.Sector, &v.UserID, &v.Dim, &data); err != nil {
			return nil, err
		}
		v.Values = model.DecodeVector(data)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *EmbeddedStore) DeleteVectors(ctx context.Context, id string, sector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if sector == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id=?`, id)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id=? AND sector=?`, id, sector)
	}
	if err != nil {
		return errs.Wrap(err, "delete vectors")
	}
	return nil
}

// Search scans every row for the sector/user and scores it via cosine
// similarity. Scales linearly; the sqlite_vec build tag adds a separate
// vec0 KNN method, SearchAccelerated (see embedded_vec.go), and leaves this
// full scan unchanged.
func (s *EmbeddedStore) Search(ctx context.Context, queryVec []float32, sector string, k int, filters Filters) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM vectors WHERE sector=? AND (?='' OR user_id=?)`, sector, filters.UserID, filters.UserID)
	if err != nil {
		return nil, errs.Wrap(err, "search vectors")
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		if filters.ExcludeIDs != nil && filters.ExcludeIDs[id] {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: model.CosineSimilarity(queryVec, model.DecodeVector(data))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *EmbeddedStore) Disconnect(_ context.Context) error { return nil }
