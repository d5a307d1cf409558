package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
)

var candidateColumnList = []string{"id", "owner_id", "external_id", "subject", "body", "embedding", "similarity_score", "likely",
	"status", "analysis", "error", "received_at", "last_seen_at", "analyzed_at"}

var candidateColumns = strings.Join(candidateColumnList, ", ")

type CandidateRepo struct {
	db *DB
}

func NewCandidateRepo(d *DB) *CandidateRepo {
	return &CandidateRepo{db: d}
}

func (r *CandidateRepo) scan(row rowScanner) (*model.CandidateRecord, error) {
	c := &model.CandidateRecord{}
	emb := &vectorValue{dialect: r.db.dialect}
	var analysis string
	if err := row.Scan(&c.ID, &c.OwnerID, &c.ExternalID, &c.Subject, &c.Body, emb, &c.SimilarityScore, &c.Likely,
		&c.Status, &analysis, &c.Error, &c.ReceivedAt, &c.LastSeenAt, &c.AnalyzedAt); err != nil {
		return nil, err
	}
	c.Embedding = emb.vec
	if analysis != "" {
		c.Analysis = &model.AnalysisResult{}
		if err := json.Unmarshal([]byte(analysis), c.Analysis); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (r *CandidateRepo) scanAll(rows *sql.Rows) ([]*model.CandidateRecord, error) {
	defer rows.Close()
	list := []*model.CandidateRecord{}
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// Upsert inserts c or refreshes the row with the same (owner_id, external_id).
// Status, analysis and received_at of an existing row are left untouched.
// It returns the stored id and whether a new row was created.
func (r *CandidateRepo) Upsert(ctx context.Context, c *model.CandidateRecord) (string, bool, error) {
	emb, err := r.db.encodeVector(c.Embedding)
	if err != nil {
		return "", false, err
	}
	query := r.db.rebind(`INSERT INTO candidates
		(id, owner_id, external_id, subject, body, embedding, similarity_score, likely, status, analysis, error, received_at, last_seen_at, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?, 0)
		ON CONFLICT (owner_id, external_id) DO UPDATE SET
			subject = excluded.subject,
			body = excluded.body,
			embedding = COALESCE(excluded.embedding, candidates.embedding),
			similarity_score = excluded.similarity_score,
			likely = excluded.likely,
			last_seen_at = excluded.last_seen_at
		RETURNING id`)
	var id string
	err = r.db.conn.QueryRowContext(ctx, query,
		c.ID,
		c.OwnerID,
		c.ExternalID,
		c.Subject,
		c.Body,
		emb,
		c.SimilarityScore,
		c.Likely,
		model.CandidateStatusPending,
		c.ReceivedAt,
		c.LastSeenAt,
	).Scan(&id)
	if err != nil {
		return "", false, err
	}
	return id, id == c.ID, nil
}

func (r *CandidateRepo) Get(ctx context.Context, ownerID, id string) (*model.CandidateRecord, error) {
	query := r.db.rebind(`SELECT ` + candidateColumns + ` FROM candidates WHERE owner_id = ? AND id = ?`)
	c, err := r.scan(r.db.conn.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.NotFoundf("candidate %s", id)
		}
		return nil, err
	}
	return c, nil
}

// ListPending returns the not yet analyzed candidates among ids, most
// similar first.
func (r *CandidateRepo) ListPending(ctx context.Context, ownerID string, ids []string) ([]*model.CandidateRecord, error) {
	if len(ids) == 0 {
		return []*model.CandidateRecord{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+candidateColumns+` FROM candidates
		WHERE owner_id = ? AND status != ? AND id IN (?)
		ORDER BY similarity_score DESC, received_at ASC`, ownerID, model.CandidateStatusAnalyzed, ids)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *CandidateRepo) List(ctx context.Context, ownerID, status string, offset, limit int) ([]*model.CandidateRecord, error) {
	where := map[string]interface{}{
		"owner_id": ownerID,
		"_orderby": "similarity_score desc",
	}
	if status != "" {
		where["status"] = status
	}
	if limit > 0 {
		where["_limit"] = []uint{uint(offset), uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect("candidates", where, candidateColumnList)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.db.finalize(sqlStr, args)
	rows, err := r.db.conn.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *CandidateRepo) CountByStatus(ctx context.Context, ownerID string) (map[string]int, error) {
	query := r.db.rebind(`SELECT status, COUNT(*) FROM candidates WHERE owner_id = ? GROUP BY status`)
	rows, err := r.db.conn.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *CandidateRepo) MarkAnalyzing(ctx context.Context, ownerID, id string) error {
	query := r.db.rebind(`UPDATE candidates SET status = ?, error = '' WHERE owner_id = ? AND id = ? AND status != ?`)
	_, err := r.db.conn.ExecContext(ctx, query, model.CandidateStatusAnalyzing, ownerID, id, model.CandidateStatusAnalyzed)
	return err
}

// MarkAnalyzed stores the analysis once; a row already analyzed is not
// overwritten and ErrConflict is returned.
func (r *CandidateRepo) MarkAnalyzed(ctx context.Context, ownerID, id string, analysis *model.AnalysisResult, now int64) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	query := r.db.rebind(`UPDATE candidates SET status = ?, analysis = ?, analyzed_at = ?, error = ''
		WHERE owner_id = ? AND id = ? AND status != ?`)
	res, err := r.db.conn.ExecContext(ctx, query, model.CandidateStatusAnalyzed, string(raw), now, ownerID, id, model.CandidateStatusAnalyzed)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrConflict
	}
	return nil
}

func (r *CandidateRepo) MarkFailed(ctx context.Context, ownerID, id, reason string) error {
	query := r.db.rebind(`UPDATE candidates SET status = ?, error = ? WHERE owner_id = ? AND id = ? AND status != ?`)
	_, err := r.db.conn.ExecContext(ctx, query, model.CandidateStatusFailed, reason, ownerID, id, model.CandidateStatusAnalyzed)
	return err
}

// ResetAnalyzing returns rows stuck in analyzing (after a crash) to pending.
func (r *CandidateRepo) ResetAnalyzing(ctx context.Context) (int64, error) {
	query := r.db.rebind(`UPDATE candidates SET status = ? WHERE status = ?`)
	res, err := r.db.conn.ExecContext(ctx, query, model.CandidateStatusPending, model.CandidateStatusAnalyzing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRetryable groups likely candidates left pending or failed by owner.
func (r *CandidateRepo) ListRetryable(ctx context.Context, limit int) (map[string][]string, error) {
	query := r.db.rebind(`SELECT owner_id, id FROM candidates
		WHERE likely = ? AND status IN (?, ?)
		ORDER BY last_seen_at DESC LIMIT ?`)
	rows, err := r.db.conn.QueryContext(ctx, query, true, model.CandidateStatusPending, model.CandidateStatusFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var ownerID, id string
		if err := rows.Scan(&ownerID, &id); err != nil {
			return nil, err
		}
		out[ownerID] = append(out[ownerID], id)
	}
	return out, rows.Err()
}
