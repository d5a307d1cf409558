package repo

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/recall/internal/db"
	"github.com/xxxsen/recall/internal/model"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewDB(conn, db.DialectPostgres), mock
}

func TestPostgresNearestUsesDistanceOperator(t *testing.T) {
	d, mock := newMockDB(t)
	r := NewChunkRepo(d)

	rows := sqlmock.NewRows([]string{"id", "parent_id", "kind", "content", "token_count", "start_line", "end_line", "created_at", "distance"}).
		AddRow("c1", "s1", model.ChunkKindParagraph, "alpha", 3, 0, 0, int64(20), 0.1).
		AddRow("c2", "s1", model.ChunkKindParagraph, "beta", 2, 0, 0, int64(10), 0.4)
	mock.ExpectQuery(regexp.QuoteMeta("embedding <=> $1 AS distance FROM chunks WHERE owner_id = $2 AND embedding IS NOT NULL AND vector_dims(embedding) = $3 AND parent_kind = 'source' ORDER BY distance ASC, created_at DESC LIMIT $4")).
		WithArgs(sqlmock.AnyArg(), "o1", 2, 2).
		WillReturnRows(rows)

	matches, err := r.Nearest(context.Background(), "o1", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "c1", matches[0].Item.ID)
	require.InDelta(t, 0.9, matches[0].Item.Score, 1e-9)
	require.Equal(t, model.OriginSemantic, matches[0].Item.Origin)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCandidateUpsertReportsExisting(t *testing.T) {
	d, mock := newMockDB(t)
	r := NewCandidateRepo(d)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (owner_id, external_id) DO UPDATE SET")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing"))

	id, created, err := r.Upsert(context.Background(), &model.CandidateRecord{ID: "fresh", OwnerID: "o1", ExternalID: "e1", Embedding: []float32{1, 2}})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "existing", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCursorUsesGreatest(t *testing.T) {
	d, mock := newMockDB(t)
	r := NewSyncCursorRepo(d)

	mock.ExpectExec(regexp.QuoteMeta("GREATEST(sync_cursors.last_sync_at, excluded.last_sync_at)")).
		WithArgs("o1", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, r.Advance(context.Background(), "o1", 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListUsesLimitOffset(t *testing.T) {
	d, mock := newMockDB(t)
	r := NewCandidateRepo(d)

	mock.ExpectQuery(`LIMIT \$\d+ OFFSET \$\d+`).
		WillReturnRows(sqlmock.NewRows(candidateColumnList))
	list, err := r.List(context.Background(), "o1", model.CandidateStatusPending, 20, 10)
	require.NoError(t, err)
	require.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}
