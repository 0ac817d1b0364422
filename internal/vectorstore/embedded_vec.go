//go:build sqlite_vec && cgo

package vectorstore

import (
	"context"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// Register sqlite-vec as an auto-loadable extension.
func init() {
	vec.Auto()
}

// ensureVecIndex mirrors the vectors table as a vec0 virtual table so
// SearchAccelerated can use the extension's ANN index instead of the full
// scan in embedded.go. Built only under the sqlite_vec+cgo tag; the pure-Go scan
// remains correct and is the default.
func (s *EmbeddedStore) ensureVecIndex(ctx context.Context, dim int) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE VIRTUAL TABLE IF NOT EXISTS vectors_vec USING vec0(
			id TEXT PARTITION KEY,
			sector TEXT PARTITION KEY,
			user_id TEXT PARTITION KEY,
			embedding float[`+itoa(dim)+`]
		)
	`)
	if err != nil {
		return errs.Wrap(err, "create vec0 index")
	}
	return nil
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

// SearchAccelerated runs a KNN query against the vec0 index instead of the
// blob-scan in Search, when the sqlite_vec extension is loaded.
func (s *EmbeddedStore) SearchAccelerated(ctx context.Context, queryVec []float32, sector string, k int, filters Filters) ([]Hit, error) {
	if err := s.ensureVecIndex(ctx, len(queryVec)); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, distance FROM vectors_vec
		WHERE sector = ? AND (? = '' OR user_id = ?) AND embedding MATCH ?
		ORDER BY distance LIMIT ?
	`, sector, filters.UserID, filters.UserID, model.EncodeVector(queryVec), k)
	if err != nil {
		return nil, errs.Wrap(err, "vec0 knn search")
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: id, Score: 1 - distance})
	}
	return hits, rows.Err()
}
