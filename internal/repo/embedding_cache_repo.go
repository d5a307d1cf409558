package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/xxxsen/recall/internal/model"
)

// EmbeddingCacheRepo persists provider answers across restarts. Rows are
// shared by every owner since the key is the text itself.
type EmbeddingCacheRepo struct {
	db *DB
}

func NewEmbeddingCacheRepo(d *DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: d}
}

func (r *EmbeddingCacheRepo) Lookup(ctx context.Context, modelName, task, contentHash string) ([]float32, bool, error) {
	vec := &vectorValue{dialect: r.db.dialect}
	err := r.db.conn.QueryRowContext(ctx,
		r.db.rebind(`SELECT embedding FROM embedding_cache WHERE model_name = ? AND task_type = ? AND content_hash = ?`),
		modelName, task, contentHash,
	).Scan(vec)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return vec.vec, len(vec.vec) > 0, nil
}

// Put stores item, refreshing the vector and age of an existing row.
func (r *EmbeddingCacheRepo) Put(ctx context.Context, item *model.CachedEmbedding) error {
	if len(item.Vector) == 0 {
		return nil
	}
	enc, err := r.db.encodeVector(item.Vector)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model_name, task_type, content_hash)
		DO UPDATE SET embedding = excluded.embedding, ctime = excluded.ctime
	`), item.Model, item.Task, item.ContentHash, enc, item.CreatedAt)
	return err
}

// Purge drops rows created before cutoff (unix seconds).
func (r *EmbeddingCacheRepo) Purge(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx, r.db.rebind(`DELETE FROM embedding_cache WHERE ctime < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
