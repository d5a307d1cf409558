package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/recall/internal/model"
)

const chunkItemColumns = "id, parent_id, kind, content, token_count, start_line, end_line, created_at"

type ChunkRepo struct {
	db     *DB
	vector *vectorTable
}

func NewChunkRepo(d *DB) *ChunkRepo {
	return &ChunkRepo{
		db: d,
		vector: &vectorTable{
			db:      d,
			table:   "chunks",
			columns: chunkItemColumns,
			scope:   "parent_kind = '" + model.ChunkParentSource + "'",
			scan:    scanChunkItem,
		},
	}
}

func scanChunkItem(row rowScanner, extra ...interface{}) (model.Item, error) {
	var item model.Item
	dest := append([]interface{}{&item.ID, &item.SourceID, &item.Kind, &item.Content, &item.TokenCount, &item.StartLine, &item.EndLine, &item.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return item, err
	}
	return item, nil
}

// Nearest, Recent and KeywordMatch only see chunks of ingested sources.

// Replace swaps every chunk of parentID for chunks in one transaction.
func (r *ChunkRepo) Replace(ctx context.Context, ownerID, parentID string, chunks []*model.Chunk) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		return replaceChunks(ctx, r.db, tx, ownerID, parentID, chunks)
	})
}

func replaceChunks(ctx context.Context, d *DB, ex execer, ownerID, parentID string, chunks []*model.Chunk) error {
	sqlDelete, deleteArgs := d.finalize("DELETE FROM chunks WHERE owner_id=? AND parent_id=?", []interface{}{ownerID, parentID})
	if _, err := ex.ExecContext(ctx, sqlDelete, deleteArgs...); err != nil {
		return err
	}
	insert := d.rebind(`INSERT INTO chunks
		(id, owner_id, parent_id, parent_kind, position, content, search_text, embedding, kind, token_count, start_line, end_line, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, c := range chunks {
		emb, err := d.encodeVector(c.Embedding)
		if err != nil {
			return err
		}
		if _, err := ex.ExecContext(ctx, insert,
			c.ID,
			ownerID,
			parentID,
			c.ParentKind,
			c.Index,
			c.Content,
			NormalizeSearchText(c.Content),
			emb,
			c.Kind,
			c.TokenCount,
			c.StartLine,
			c.EndLine,
			c.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *ChunkRepo) DeleteByParent(ctx context.Context, ownerID, parentID string) error {
	sqlStr, args, err := builder.BuildDelete("chunks", map[string]interface{}{"owner_id": ownerID, "parent_id": parentID})
	if err != nil {
		return err
	}
	sqlStr, args = r.db.finalize(sqlStr, args)
	_, err = r.db.conn.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ChunkRepo) ListByParent(ctx context.Context, ownerID, parentID string) ([]*model.Chunk, error) {
	where := map[string]interface{}{
		"owner_id":  ownerID,
		"parent_id": parentID,
		"_orderby":  "position asc",
	}
	sqlStr, args, err := builder.BuildSelect("chunks", where, []string{"id", "owner_id", "parent_id", "parent_kind", "position", "content", "embedding", "kind", "token_count", "start_line", "end_line", "created_at"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.finalize(sqlStr, args)
	rows, err := r.db.conn.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []*model.Chunk
	for rows.Next() {
		c := &model.Chunk{}
		emb := &vectorValue{dialect: r.db.dialect}
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ParentID, &c.ParentKind, &c.Index, &c.Content, emb, &c.Kind, &c.TokenCount, &c.StartLine, &c.EndLine, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Embedding = emb.vec
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepo) Nearest(ctx context.Context, ownerID string, q []float32, k int) ([]model.Match, error) {
	return r.vector.nearest(ctx, ownerID, q, k)
}

func (r *ChunkRepo) Recent(ctx context.Context, ownerID string, k int) ([]model.Match, error) {
	return r.vector.recent(ctx, ownerID, k)
}

func (r *ChunkRepo) KeywordMatch(ctx context.Context, ownerID, query string, k int) ([]model.Match, error) {
	return r.vector.keywordMatch(ctx, ownerID, query, k)
}
