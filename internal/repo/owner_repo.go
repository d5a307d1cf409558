package repo

import (
	"context"
	"database/sql"
)

var ownerTables = []string{"chunks", "memory_records", "sources", "candidates", "sync_cursors"}

type OwnerRepo struct {
	db *DB
}

func NewOwnerRepo(d *DB) *OwnerRepo {
	return &OwnerRepo{db: d}
}

// DeleteAll removes every row owned by ownerID in a single transaction.
func (r *OwnerRepo) DeleteAll(ctx context.Context, ownerID string) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range ownerTables {
			query := r.db.rebind(`DELETE FROM ` + table + ` WHERE owner_id = ?`)
			if _, err := tx.ExecContext(ctx, query, ownerID); err != nil {
				return err
			}
		}
		return nil
	})
}
