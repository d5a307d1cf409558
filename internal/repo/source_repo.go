package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
)

var sourceColumns = []string{"id", "owner_id", "external_id", "name", "language", "content_hash", "archive_key", "chunk_count", "mtime"}

type SourceRepo struct {
	db *DB
}

func NewSourceRepo(d *DB) *SourceRepo {
	return &SourceRepo{db: d}
}

func scanSource(row rowScanner) (*model.Source, error) {
	src := &model.Source{}
	if err := row.Scan(&src.ID, &src.OwnerID, &src.ExternalID, &src.Name, &src.Language, &src.ContentHash, &src.ArchiveKey, &src.ChunkCount, &src.Mtime); err != nil {
		return nil, err
	}
	return src, nil
}

func (r *SourceRepo) Get(ctx context.Context, ownerID, id string) (*model.Source, error) {
	sqlStr, args, err := builder.BuildSelect("sources", map[string]interface{}{"owner_id": ownerID, "id": id}, sourceColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.finalize(sqlStr, args)
	src, err := scanSource(r.db.conn.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.NotFoundf("source %s", id)
		}
		return nil, err
	}
	return src, nil
}

func (r *SourceRepo) GetByExternalID(ctx context.Context, ownerID, externalID string) (*model.Source, error) {
	sqlStr, args, err := builder.BuildSelect("sources", map[string]interface{}{"owner_id": ownerID, "external_id": externalID}, sourceColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.finalize(sqlStr, args)
	src, err := scanSource(r.db.conn.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.NotFoundf("source with external id %s", externalID)
		}
		return nil, err
	}
	return src, nil
}

// Upsert stores src keyed by (owner_id, external_id) and returns the id
// of the stored row, which differs from src.ID when the source existed.
func (r *SourceRepo) Upsert(ctx context.Context, src *model.Source) (string, error) {
	return upsertSource(ctx, r.db, r.db.conn, src)
}

// SaveWithChunks upserts src and replaces its chunks in one transaction, so
// a failed chunk write leaves the previous content hash in place.
func (r *SourceRepo) SaveWithChunks(ctx context.Context, src *model.Source, chunks []*model.Chunk) (string, error) {
	var id string
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = upsertSource(ctx, r.db, tx, src)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			c.ParentID = id
			c.ParentKind = model.ChunkParentSource
		}
		return replaceChunks(ctx, r.db, tx, src.OwnerID, id, chunks)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func upsertSource(ctx context.Context, d *DB, ex execer, src *model.Source) (string, error) {
	query := d.rebind(`INSERT INTO sources
		(id, owner_id, external_id, name, language, content_hash, archive_key, chunk_count, mtime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, external_id) DO UPDATE SET
			name = excluded.name,
			language = excluded.language,
			content_hash = excluded.content_hash,
			archive_key = excluded.archive_key,
			chunk_count = excluded.chunk_count,
			mtime = excluded.mtime
		RETURNING id`)
	var id string
	err := ex.QueryRowContext(ctx, query,
		src.ID,
		src.OwnerID,
		src.ExternalID,
		src.Name,
		src.Language,
		src.ContentHash,
		src.ArchiveKey,
		src.ChunkCount,
		src.Mtime,
	).Scan(&id)
	return id, err
}

func (r *SourceRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Source, error) {
	sqlStr, args, err := builder.BuildSelect("sources", map[string]interface{}{"owner_id": ownerID, "_orderby": "mtime desc"}, sourceColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.finalize(sqlStr, args)
	rows, err := r.db.conn.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// Delete removes the source row and its chunks.
func (r *SourceRepo) Delete(ctx context.Context, ownerID, sourceID string) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		sqlStr, args := r.db.finalize("DELETE FROM chunks WHERE owner_id=? AND parent_id=?", []interface{}{ownerID, sourceID})
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
		sqlStr, args = r.db.finalize("DELETE FROM sources WHERE owner_id=? AND id=?", []interface{}{ownerID, sourceID})
		res, err := tx.ExecContext(ctx, sqlStr, args...)
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
	})
}
