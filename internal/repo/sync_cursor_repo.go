package repo

import (
	"context"
	"database/sql"
)

type SyncCursorRepo struct {
	db *DB
}

func NewSyncCursorRepo(d *DB) *SyncCursorRepo {
	return &SyncCursorRepo{db: d}
}

// Get returns the last sync time of ownerID, 0 when it never synced.
func (r *SyncCursorRepo) Get(ctx context.Context, ownerID string) (int64, error) {
	query := r.db.rebind(`SELECT last_sync_at FROM sync_cursors WHERE owner_id = ?`)
	var ts int64
	if err := r.db.conn.QueryRowContext(ctx, query, ownerID).Scan(&ts); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return ts, nil
}

// Advance moves the cursor forward to ts; it never moves backwards.
func (r *SyncCursorRepo) Advance(ctx context.Context, ownerID string, ts int64) error {
	query := r.db.rebind(`INSERT INTO sync_cursors (owner_id, last_sync_at) VALUES (?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET last_sync_at = ` + r.db.dialect.Greatest() + `(sync_cursors.last_sync_at, excluded.last_sync_at)`)
	_, err := r.db.conn.ExecContext(ctx, query, ownerID, ts)
	return err
}
