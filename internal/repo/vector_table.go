package repo

import (
	"context"
	"sort"

	"github.com/xxxsen/recall/internal/db"
	"github.com/xxxsen/recall/internal/model"
	"github.com/xxxsen/recall/internal/pkg/vecmath"
)

const keywordScore = 0.1

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// vectorTable implements nearest, recent and keyword lookups over a table
// with owner_id, search_text, embedding and created_at columns. A non-empty
// scope is ANDed into every lookup.
type vectorTable struct {
	db      *DB
	table   string
	columns string
	scope   string
	scan    func(row rowScanner, extra ...interface{}) (model.Item, error)
}

func (t *vectorTable) where(cond string) string {
	if t.scope == "" {
		return ` WHERE ` + cond
	}
	return ` WHERE ` + cond + ` AND ` + t.scope
}

func (t *vectorTable) nearest(ctx context.Context, ownerID string, q []float32, k int) ([]model.Match, error) {
	if k <= 0 || len(q) == 0 {
		return []model.Match{}, nil
	}
	if t.db.dialect == db.DialectPostgres {
		return t.nearestSQL(ctx, ownerID, q, k)
	}
	return t.nearestScan(ctx, ownerID, q, k)
}

func (t *vectorTable) nearestSQL(ctx context.Context, ownerID string, q []float32, k int) ([]model.Match, error) {
	vec, err := t.db.encodeVector(q)
	if err != nil {
		return nil, err
	}
	// vector_dims keeps rows written by an older embedding model out of <=>,
	// which rejects operands of different dimensions.
	query := t.db.rebind(`SELECT ` + t.columns + `, embedding <=> ? AS distance FROM ` + t.table +
		t.where(`owner_id = ? AND embedding IS NOT NULL AND vector_dims(embedding) = ?`) +
		` ORDER BY distance ASC, created_at DESC LIMIT ?`)
	rows, err := t.db.conn.QueryContext(ctx, query, vec, ownerID, len(q), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches := make([]model.Match, 0, k)
	for rows.Next() {
		var distance float64
		item, err := t.scan(rows, &distance)
		if err != nil {
			return nil, err
		}
		item.Score = 1 - distance
		item.Origin = model.OriginSemantic
		matches = append(matches, model.Match{Item: item, Distance: distance})
	}
	return matches, rows.Err()
}

func (t *vectorTable) nearestScan(ctx context.Context, ownerID string, q []float32, k int) ([]model.Match, error) {
	query := `SELECT ` + t.columns + `, embedding FROM ` + t.table + t.where(`owner_id = ? AND embedding IS NOT NULL`)
	rows, err := t.db.conn.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []model.Match
	for rows.Next() {
		emb := &vectorValue{dialect: t.db.dialect}
		item, err := t.scan(rows, emb)
		if err != nil {
			return nil, err
		}
		if len(emb.vec) != len(q) {
			continue
		}
		sim := vecmath.Cosine(q, emb.vec)
		item.Score = sim
		item.Origin = model.OriginSemantic
		matches = append(matches, model.Match{Item: item, Distance: 1 - sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Item.CreatedAt > matches[j].Item.CreatedAt
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	if matches == nil {
		matches = []model.Match{}
	}
	return matches, nil
}

func (t *vectorTable) recent(ctx context.Context, ownerID string, k int) ([]model.Match, error) {
	if k <= 0 {
		return []model.Match{}, nil
	}
	query := t.db.rebind(`SELECT ` + t.columns + ` FROM ` + t.table + t.where(`owner_id = ?`) + ` ORDER BY created_at DESC LIMIT ?`)
	return t.collect(ctx, query, model.OriginRecent, 0, ownerID, k)
}

func (t *vectorTable) keywordMatch(ctx context.Context, ownerID, text string, k int) ([]model.Match, error) {
	if k <= 0 || NormalizeSearchText(text) == "" {
		return []model.Match{}, nil
	}
	query := t.db.rebind(`SELECT ` + t.columns + ` FROM ` + t.table +
		t.where(`owner_id = ? AND search_text LIKE ? ESCAPE '\'`) + ` ORDER BY created_at DESC LIMIT ?`)
	return t.collect(ctx, query, model.OriginKeyword, keywordScore, ownerID, likePattern(text), k)
}

func (t *vectorTable) collect(ctx context.Context, query, origin string, score float64, args ...interface{}) ([]model.Match, error) {
	rows, err := t.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches := []model.Match{}
	for rows.Next() {
		item, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		item.Score = score
		item.Origin = origin
		matches = append(matches, model.Match{Item: item, Distance: 1 - score})
	}
	return matches, rows.Err()
}
