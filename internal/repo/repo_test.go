package repo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/recall/internal/config"
	"github.com/xxxsen/recall/internal/db"
	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	conn, dialect, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "recall.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.ApplyMigrations(conn, dialect))
	return NewDB(conn, dialect)
}

func TestMemoryRepoNearestRecentKeyword(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	r := NewMemoryRepo(d)

	records := []*model.MemoryRecord{
		{ID: "m1", OwnerID: "o1", ThreadID: "t1", Role: model.RoleUser, Content: "I like Green Tea", Embedding: []float32{1, 0}, TokenCount: 4, CreatedAt: 100},
		{ID: "m2", OwnerID: "o1", ThreadID: "t1", Role: model.RoleAssistant, Content: "noted", Embedding: []float32{0, 1}, TokenCount: 2, CreatedAt: 200},
		{ID: "m3", OwnerID: "o1", ThreadID: "t2", Role: model.RoleUser, Content: "same direction", Embedding: []float32{2, 0}, TokenCount: 3, CreatedAt: 300},
		{ID: "m4", OwnerID: "o1", ThreadID: "t2", Role: model.RoleUser, Content: "no vector", TokenCount: 3, CreatedAt: 400},
		{ID: "m5", OwnerID: "o2", ThreadID: "t9", Role: model.RoleUser, Content: "other owner green tea", Embedding: []float32{1, 0}, TokenCount: 3, CreatedAt: 500},
	}
	for _, rec := range records {
		require.NoError(t, r.Create(ctx, rec))
	}

	matches, err := r.Nearest(ctx, "o1", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	// m1 and m3 tie on distance; the newer one comes first.
	require.Equal(t, "m3", matches[0].Item.ID)
	require.Equal(t, "m1", matches[1].Item.ID)
	require.InDelta(t, 0, matches[0].Distance, 1e-6)
	require.InDelta(t, 1, matches[0].Similarity(), 1e-6)

	recent, err := r.Recent(ctx, "o1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "m4", recent[0].Item.ID)
	require.Equal(t, "m3", recent[1].Item.ID)

	kw, err := r.KeywordMatch(ctx, "o1", "  GREEN   tea ", 10)
	require.NoError(t, err)
	require.Len(t, kw, 1)
	require.Equal(t, "m1", kw[0].Item.ID)
	require.Equal(t, 0.1, kw[0].Item.Score)

	empty, err := r.Nearest(ctx, "nobody", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Len(t, empty, 0)
}

func TestMemoryRepoThreadOps(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	r := NewMemoryRepo(d)
	chunks := NewChunkRepo(d)

	require.NoError(t, r.Create(ctx, &model.MemoryRecord{ID: "m1", OwnerID: "o1", ThreadID: "t1", Role: model.RoleUser, Content: "a", CreatedAt: 1}))
	require.NoError(t, r.Create(ctx, &model.MemoryRecord{ID: "m2", OwnerID: "o1", ThreadID: "t1", Role: model.RoleAssistant, Content: "b", CreatedAt: 2, Chunked: true}))
	require.NoError(t, chunks.Replace(ctx, "o1", "m2", []*model.Chunk{{ID: "c1", Content: "b", Kind: model.ChunkKindParagraph, CreatedAt: 2}}))
	require.ErrorIs(t, r.Create(ctx, &model.MemoryRecord{ID: "m1", OwnerID: "o1", ThreadID: "t1", Role: model.RoleUser, Content: "dup", CreatedAt: 3}), appErr.ErrConflict)

	require.NoError(t, r.RenameThread(ctx, "o1", "t1", "Breakfast"))
	require.ErrorIs(t, r.RenameThread(ctx, "o1", "missing", "x"), appErr.ErrNotFound)

	list, err := r.ListThread(ctx, "o1", "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "m1", list[0].ID)
	require.Equal(t, "Breakfast", list[1].ThreadTitle)
	require.True(t, list[1].Chunked)

	n, err := r.DeleteThread(ctx, "o1", "t1")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	left, err := chunks.ListByParent(ctx, "o1", "m2")
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestChunkRepoReplace(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	r := NewChunkRepo(d)

	first := []*model.Chunk{
		{ID: "a1", Index: 0, Content: "alpha", Kind: model.ChunkKindParagraph, Embedding: []float32{1, 0}, TokenCount: 2, CreatedAt: 10},
		{ID: "a2", Index: 1, Content: "beta", Kind: model.ChunkKindParagraph, Embedding: []float32{0, 1}, TokenCount: 1, CreatedAt: 10},
	}
	require.NoError(t, r.Replace(ctx, "o1", "src1", first))
	second := []*model.Chunk{
		{ID: "b1", Index: 0, ParentKind: model.ChunkParentSource, Content: "gamma", Kind: model.ChunkKindCodeNode, Embedding: []float32{1, 1}, TokenCount: 2, StartLine: 3, EndLine: 9, CreatedAt: 20},
	}
	require.NoError(t, r.Replace(ctx, "o1", "src1", second))

	list, err := r.ListByParent(ctx, "o1", "src1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "b1", list[0].ID)
	require.Equal(t, []float32{1, 1}, list[0].Embedding)
	require.Equal(t, 3, list[0].StartLine)

	// a failing insert keeps the previous chunks
	dup := []*model.Chunk{
		{ID: "c1", Content: "x", Kind: model.ChunkKindParagraph, CreatedAt: 30},
		{ID: "c1", Content: "y", Kind: model.ChunkKindParagraph, CreatedAt: 30},
	}
	require.Error(t, r.Replace(ctx, "o1", "src1", dup))
	list, err = r.ListByParent(ctx, "o1", "src1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "b1", list[0].ID)

	matches, err := r.Nearest(ctx, "o1", []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "src1", matches[0].Item.SourceID)
	require.Equal(t, model.ChunkKindCodeNode, matches[0].Item.Kind)
}

func TestCandidateUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	r := NewCandidateRepo(d)

	id, created, err := r.Upsert(ctx, &model.CandidateRecord{ID: "c-1", OwnerID: "o1", ExternalID: "e1", Subject: "first", Body: "b", Embedding: []float32{1, 0}, SimilarityScore: 0.7, Likely: true, ReceivedAt: 1, LastSeenAt: 1})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "c-1", id)

	require.NoError(t, r.MarkAnalyzing(ctx, "o1", id))
	require.NoError(t, r.MarkAnalyzed(ctx, "o1", id, &model.AnalysisResult{Category: "work", ActionItems: []string{}}, 5))

	id2, created, err := r.Upsert(ctx, &model.CandidateRecord{ID: "c-2", OwnerID: "o1", ExternalID: "e1", Subject: "second", Body: "b2", SimilarityScore: 0.4, ReceivedAt: 2, LastSeenAt: 2})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "c-1", id2)

	list, err := r.List(ctx, "o1", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	require.Equal(t, "second", got.Subject)
	require.Equal(t, int64(1), got.ReceivedAt)
	require.Equal(t, int64(2), got.LastSeenAt)
	require.Equal(t, []float32{1, 0}, got.Embedding)
	require.True(t, got.Analyzed())
	require.NotNil(t, got.Analysis)
	require.Equal(t, "work", got.Analysis.Category)

	require.ErrorIs(t, r.MarkAnalyzed(ctx, "o1", id, &model.AnalysisResult{Category: "other"}, 9), appErr.ErrConflict)
	require.NoError(t, r.MarkFailed(ctx, "o1", id, "late failure"))
	again, err := r.Get(ctx, "o1", id)
	require.NoError(t, err)
	require.Equal(t, model.CandidateStatusAnalyzed, again.Status)
	require.Equal(t, "work", again.Analysis.Category)
}

func TestCandidateListPendingAndRetryable(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	r := NewCandidateRepo(d)

	seed := []*model.CandidateRecord{
		{ID: "c1", OwnerID: "o1", ExternalID: "e1", SimilarityScore: 0.3, Likely: true, ReceivedAt: 1, LastSeenAt: 1},
		{ID: "c2", OwnerID: "o1", ExternalID: "e2", SimilarityScore: 0.9, Likely: true, ReceivedAt: 1, LastSeenAt: 1},
		{ID: "c3", OwnerID: "o1", ExternalID: "e3", SimilarityScore: 0.6, Likely: false, ReceivedAt: 1, LastSeenAt: 1},
	}
	for _, c := range seed {
		_, _, err := r.Upsert(ctx, c)
		require.NoError(t, err)
	}
	require.NoError(t, r.MarkAnalyzed(ctx, "o1", "c3", &model.AnalysisResult{}, 2))

	pending, err := r.ListPending(ctx, "o1", []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "c2", pending[0].ID)
	require.Equal(t, "c1", pending[1].ID)

	none, err := r.ListPending(ctx, "o1", nil)
	require.NoError(t, err)
	require.Empty(t, none)

	require.NoError(t, r.MarkAnalyzing(ctx, "o1", "c1"))
	require.NoError(t, r.MarkFailed(ctx, "o1", "c2", "timeout"))
	retry, err := r.ListRetryable(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, retry["o1"])

	n, err := r.ResetAnalyzing(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	counts, err := r.CountByStatus(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.CandidateStatusPending])
	require.Equal(t, 1, counts[model.CandidateStatusFailed])
	require.Equal(t, 1, counts[model.CandidateStatusAnalyzed])
}

func TestSyncCursorMonotonic(t *testing.T) {
	ctx := context.Background()
	r := NewSyncCursorRepo(newTestDB(t))

	ts, err := r.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, int64(0), ts)

	require.NoError(t, r.Advance(ctx, "o1", 100))
	require.NoError(t, r.Advance(ctx, "o1", 50))
	ts, err = r.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, int64(100), ts)

	require.NoError(t, r.Advance(ctx, "o1", 150))
	ts, err = r.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, int64(150), ts)
}

func TestSourceRepoUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	r := NewSourceRepo(d)
	chunks := NewChunkRepo(d)

	_, err := r.GetByExternalID(ctx, "o1", "readme")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	id, err := r.Upsert(ctx, &model.Source{ID: "s1", OwnerID: "o1", ExternalID: "readme", Name: "README.md", Language: "markdown", ContentHash: "h1", ChunkCount: 2, Mtime: 1})
	require.NoError(t, err)
	require.Equal(t, "s1", id)
	id, err = r.Upsert(ctx, &model.Source{ID: "s2", OwnerID: "o1", ExternalID: "readme", Name: "README.md", Language: "markdown", ContentHash: "h2", ChunkCount: 3, Mtime: 2})
	require.NoError(t, err)
	require.Equal(t, "s1", id)

	src, err := r.GetByExternalID(ctx, "o1", "readme")
	require.NoError(t, err)
	require.Equal(t, "h2", src.ContentHash)
	require.Equal(t, 3, src.ChunkCount)
	byID, err := r.Get(ctx, "o1", "s1")
	require.NoError(t, err)
	require.Equal(t, "readme", byID.ExternalID)
	_, err = r.Get(ctx, "o2", "s1")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, chunks.Replace(ctx, "o1", "s1", []*model.Chunk{{ID: "k1", Content: "x", Kind: model.ChunkKindParagraph}}))
	require.NoError(t, r.Delete(ctx, "o1", "s1"))
	left, err := chunks.ListByParent(ctx, "o1", "s1")
	require.NoError(t, err)
	require.Empty(t, left)
	require.ErrorIs(t, r.Delete(ctx, "o1", "s1"), appErr.ErrNotFound)
}

func TestSourceRepoSaveWithChunksRollsBack(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	r := NewSourceRepo(d)
	chunks := NewChunkRepo(d)

	src := &model.Source{ID: "s1", OwnerID: "o1", ExternalID: "readme", ContentHash: "h1", ChunkCount: 1, Mtime: 1}
	id, err := r.SaveWithChunks(ctx, src, []*model.Chunk{{ID: "k1", Content: "tea", Kind: model.ChunkKindParagraph, Embedding: []float32{1, 0}, CreatedAt: 1}})
	require.NoError(t, err)
	require.Equal(t, "s1", id)

	_, err = d.Conn().Exec(`CREATE TRIGGER fail_chunks BEFORE INSERT ON chunks BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)
	next := &model.Source{ID: "s2", OwnerID: "o1", ExternalID: "readme", ContentHash: "h2", ChunkCount: 1, Mtime: 2}
	_, err = r.SaveWithChunks(ctx, next, []*model.Chunk{{ID: "k2", Content: "coffee", Kind: model.ChunkKindParagraph, CreatedAt: 2}})
	require.Error(t, err)

	stored, err := r.Get(ctx, "o1", "s1")
	require.NoError(t, err)
	require.Equal(t, "h1", stored.ContentHash)
	list, err := chunks.ListByParent(ctx, "o1", "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "k1", list[0].ID)
	require.Equal(t, model.ChunkParentSource, list[0].ParentKind)
}

func TestChunkSearchSkipsMemoryChunks(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	memories := NewMemoryRepo(d)
	sources := NewSourceRepo(d)
	chunks := NewChunkRepo(d)

	rec := &model.MemoryRecord{ID: "m1", OwnerID: "o1", ThreadID: "t", Role: model.RoleUser, Content: "green tea notes", Chunked: true, CreatedAt: 1}
	require.NoError(t, memories.CreateWithChunks(ctx, rec, []*model.Chunk{{ID: "mc1", Content: "green tea notes", Kind: model.ChunkKindParagraph, Embedding: []float32{1, 0}, CreatedAt: 1}}))
	_, err := sources.SaveWithChunks(ctx, &model.Source{ID: "s1", OwnerID: "o1", ExternalID: "doc", ContentHash: "h", ChunkCount: 1, Mtime: 1},
		[]*model.Chunk{{ID: "sc1", Content: "green tea guide", Kind: model.ChunkKindParagraph, Embedding: []float32{1, 0}, CreatedAt: 2}})
	require.NoError(t, err)

	near, err := chunks.Nearest(ctx, "o1", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, near, 1)
	require.Equal(t, "sc1", near[0].Item.ID)
	kw, err := chunks.KeywordMatch(ctx, "o1", "tea", 5)
	require.NoError(t, err)
	require.Len(t, kw, 1)
	require.Equal(t, "sc1", kw[0].Item.ID)
	recent, err := chunks.Recent(ctx, "o1", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	stored, err := chunks.ListByParent(ctx, "o1", "m1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, model.ChunkParentMemory, stored[0].ParentKind)
}

func TestMemoryRepoCreateWithChunksRollsBack(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	r := NewMemoryRepo(d)

	dup := []*model.Chunk{
		{ID: "c1", Content: "x", Kind: model.ChunkKindParagraph, CreatedAt: 1},
		{ID: "c1", Content: "y", Kind: model.ChunkKindParagraph, CreatedAt: 1},
	}
	rec := &model.MemoryRecord{ID: "m1", OwnerID: "o1", ThreadID: "t", Role: model.RoleUser, Content: "x y", Chunked: true, CreatedAt: 1}
	require.Error(t, r.CreateWithChunks(ctx, rec, dup))
	list, err := r.ListThread(ctx, "o1", "t")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestOwnerRepoDeleteAll(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	memories := NewMemoryRepo(d)
	candidates := NewCandidateRepo(d)
	cursors := NewSyncCursorRepo(d)

	require.NoError(t, memories.Create(ctx, &model.MemoryRecord{ID: "m1", OwnerID: "o1", ThreadID: "t", Role: model.RoleUser, Content: "x", CreatedAt: 1}))
	require.NoError(t, memories.Create(ctx, &model.MemoryRecord{ID: "m2", OwnerID: "o2", ThreadID: "t", Role: model.RoleUser, Content: "y", CreatedAt: 1}))
	_, _, err := candidates.Upsert(ctx, &model.CandidateRecord{ID: "c1", OwnerID: "o1", ExternalID: "e1", ReceivedAt: 1, LastSeenAt: 1})
	require.NoError(t, err)
	require.NoError(t, cursors.Advance(ctx, "o1", 10))

	require.NoError(t, NewOwnerRepo(d).DeleteAll(ctx, "o1"))

	recent, err := memories.Recent(ctx, "o1", 10)
	require.NoError(t, err)
	require.Empty(t, recent)
	recent, err = memories.Recent(ctx, "o2", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	list, err := candidates.List(ctx, "o1", "", 0, 0)
	require.NoError(t, err)
	require.Empty(t, list)
	ts, err := cursors.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, int64(0), ts)
}

func TestEmbeddingCacheRepo(t *testing.T) {
	ctx := context.Background()
	r := NewEmbeddingCacheRepo(newTestDB(t))

	_, ok, err := r.Lookup(ctx, "m", "RETRIEVAL_DOCUMENT", "h")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Put(ctx, &model.CachedEmbedding{Model: "m", Task: "RETRIEVAL_DOCUMENT", ContentHash: "empty"}))
	require.NoError(t, r.Put(ctx, &model.CachedEmbedding{Model: "m", Task: "RETRIEVAL_DOCUMENT", ContentHash: "h", Vector: []float32{0.5, 0.25}, CreatedAt: 10}))
	emb, ok, err := r.Lookup(ctx, "m", "RETRIEVAL_DOCUMENT", "h")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{0.5, 0.25}, emb)
	_, ok, err = r.Lookup(ctx, "m", "RETRIEVAL_DOCUMENT", "empty")
	require.NoError(t, err)
	require.False(t, ok)

	n, err := r.Purge(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestNormalizeSearchText(t *testing.T) {
	require.Equal(t, "hello big world", NormalizeSearchText("  Hello\n\tBIG   world "))
	require.Equal(t, `%50\% off%`, likePattern("50% OFF"))
}
