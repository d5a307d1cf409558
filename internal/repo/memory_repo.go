package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/recall/internal/model"
	"github.com/xxxsen/recall/internal/pkg/dbutil"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
)

const memoryItemColumns = "id, thread_id, role, content, token_count, created_at"

type MemoryRepo struct {
	db     *DB
	vector *vectorTable
}

func NewMemoryRepo(d *DB) *MemoryRepo {
	return &MemoryRepo{
		db: d,
		vector: &vectorTable{
			db:      d,
			table:   "memory_records",
			columns: memoryItemColumns,
			scan:    scanMemoryItem,
		},
	}
}

func scanMemoryItem(row rowScanner, extra ...interface{}) (model.Item, error) {
	var item model.Item
	dest := append([]interface{}{&item.ID, &item.SourceID, &item.Role, &item.Content, &item.TokenCount, &item.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return item, err
	}
	item.Kind = "memory"
	return item, nil
}

func (r *MemoryRepo) Create(ctx context.Context, rec *model.MemoryRecord) error {
	return createMemory(ctx, r.db, r.db.conn, rec)
}

// CreateWithChunks inserts rec and its chunks in one transaction.
func (r *MemoryRepo) CreateWithChunks(ctx context.Context, rec *model.MemoryRecord, chunks []*model.Chunk) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := createMemory(ctx, r.db, tx, rec); err != nil {
			return err
		}
		for _, c := range chunks {
			c.ParentID = rec.ID
			c.ParentKind = model.ChunkParentMemory
		}
		return replaceChunks(ctx, r.db, tx, rec.OwnerID, rec.ID, chunks)
	})
}

func createMemory(ctx context.Context, d *DB, ex execer, rec *model.MemoryRecord) error {
	emb, err := d.encodeVector(rec.Embedding)
	if err != nil {
		return err
	}
	query := d.rebind(`INSERT INTO memory_records
		(id, owner_id, thread_id, thread_title, role, content, search_text, embedding, token_count, chunked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = ex.ExecContext(ctx, query,
		rec.ID,
		rec.OwnerID,
		rec.ThreadID,
		rec.ThreadTitle,
		rec.Role,
		rec.Content,
		NormalizeSearchText(rec.Content),
		emb,
		rec.TokenCount,
		rec.Chunked,
		rec.CreatedAt,
	)
	if dbutil.IsConflict(err) {
		return fmt.Errorf("memory record %s: %w", rec.ID, appErr.ErrConflict)
	}
	return err
}

func (r *MemoryRepo) ListThread(ctx context.Context, ownerID, threadID string) ([]*model.MemoryRecord, error) {
	where := map[string]interface{}{
		"owner_id":  ownerID,
		"thread_id": threadID,
		"_orderby":  "created_at asc, id asc",
	}
	sqlStr, args, err := builder.BuildSelect("memory_records", where, []string{"id", "owner_id", "thread_id", "thread_title", "role", "content", "embedding", "token_count", "chunked", "created_at"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.finalize(sqlStr, args)
	rows, err := r.db.conn.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*model.MemoryRecord
	for rows.Next() {
		rec := &model.MemoryRecord{}
		emb := &vectorValue{dialect: r.db.dialect}
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.ThreadID, &rec.ThreadTitle, &rec.Role, &rec.Content, emb, &rec.TokenCount, &rec.Chunked, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Embedding = emb.vec
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *MemoryRepo) RenameThread(ctx context.Context, ownerID, threadID, title string) error {
	where := map[string]interface{}{"owner_id": ownerID, "thread_id": threadID}
	sqlStr, args, err := builder.BuildUpdate("memory_records", where, map[string]interface{}{"thread_title": title})
	if err != nil {
		return err
	}
	sqlStr, args = r.db.finalize(sqlStr, args)
	res, err := r.db.conn.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// DeleteThread removes a thread's records together with the chunks they own.
func (r *MemoryRepo) DeleteThread(ctx context.Context, ownerID, threadID string) (int64, error) {
	var affected int64
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		chunkQuery := r.db.rebind(`DELETE FROM chunks WHERE owner_id = ? AND parent_id IN
			(SELECT id FROM memory_records WHERE owner_id = ? AND thread_id = ?)`)
		if _, err := tx.ExecContext(ctx, chunkQuery, ownerID, ownerID, threadID); err != nil {
			return err
		}
		sqlStr, args, err := builder.BuildDelete("memory_records", map[string]interface{}{"owner_id": ownerID, "thread_id": threadID})
		if err != nil {
			return err
		}
		sqlStr, args = r.db.finalize(sqlStr, args)
		res, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (r *MemoryRepo) Nearest(ctx context.Context, ownerID string, q []float32, k int) ([]model.Match, error) {
	return r.vector.nearest(ctx, ownerID, q, k)
}

func (r *MemoryRepo) Recent(ctx context.Context, ownerID string, k int) ([]model.Match, error) {
	return r.vector.recent(ctx, ownerID, k)
}

func (r *MemoryRepo) KeywordMatch(ctx context.Context, ownerID, query string, k int) ([]model.Match, error) {
	return r.vector.keywordMatch(ctx, ownerID, query, k)
}
