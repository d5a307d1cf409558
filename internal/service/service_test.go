package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/chunker"
	"github.com/xxxsen/recall/internal/config"
	"github.com/xxxsen/recall/internal/db"
	"github.com/xxxsen/recall/internal/enrich"
	"github.com/xxxsen/recall/internal/filestore"
	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/prefilter"
	"github.com/xxxsen/recall/internal/repo"
	"github.com/xxxsen/recall/internal/retrieval"
)

// topicEmbedder places text on three axes: tea, invoices and everything else.
type topicEmbedder struct{}

func (topicEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "fail-embed") {
		return nil, ai.ErrUnavailable
	}
	return []float32{
		float32(strings.Count(lower, "tea")),
		float32(strings.Count(lower, "invoice")),
		0.1,
	}, nil
}

func (topicEmbedder) ModelName() string {
	return "topic"
}

type okAnalyzer struct{}

func (okAnalyzer) Analyze(ctx context.Context, system string, user string) (ai.ParseResult, error) {
	if strings.Contains(user, "broken") {
		return ai.ParseResult{}, errors.New("llm exploded")
	}
	return ai.ParseAnalysis(`Sure! {"category":"finance","priority":"urgent","summary":"pay it","actionItems":["pay"],"isRelevant":true}`), nil
}

type testEnv struct {
	db       *repo.DB
	chunker  *chunker.Chunker
	files    filestore.Store
	memory   *MemoryService
	ingest   *IngestService
	triage   *TriageService
	owner    *OwnerService
	sched    *enrich.Scheduler
	sources  *repo.SourceRepo
	chunks   *repo.ChunkRepo
	cands    *repo.CandidateRepo
	memories *repo.MemoryRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, dialect, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "recall.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.ApplyMigrations(conn, dialect))
	d := repo.NewDB(conn, dialect)

	files, err := filestore.New(config.FileStoreConfig{Type: "local", Dir: t.TempDir()})
	require.NoError(t, err)

	env := &testEnv{
		db:       d,
		chunker:  chunker.New(chunker.CharCounter{CharsPerToken: 4}, 0),
		files:    files,
		sources:  repo.NewSourceRepo(d),
		chunks:   repo.NewChunkRepo(d),
		cands:    repo.NewCandidateRepo(d),
		memories: repo.NewMemoryRepo(d),
	}
	defaults := retrieval.Options{SemanticLimit: 5, RecentLimit: 5, Limit: 10, TokenBudget: 200, MinSimilarity: 0.5}
	env.memory = NewMemoryService(env.memories, env.chunker, topicEmbedder{}, defaults, 16)
	env.ingest = NewIngestService(env.sources, env.chunks, env.chunker, topicEmbedder{}, files, defaults, 16)
	env.sched = enrich.NewScheduler(env.cands, okAnalyzer{}, nil, enrich.Options{})
	t.Cleanup(func() { _ = env.sched.Shutdown(context.Background()) })
	classifier := prefilter.New(topicEmbedder{}, prefilter.Options{MinLikely: 1})
	env.triage = NewTriageService(env.cands, repo.NewSyncCursorRepo(d), classifier, env.sched, "invoice")
	env.owner = NewOwnerService(repo.NewOwnerRepo(d), env.sources, files, env.sched)
	return env
}

func waitTask(t *testing.T, s *enrich.Scheduler, ownerID string) {
	t.Helper()
	task, ok := s.Task(ownerID)
	require.True(t, ok)
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("enrichment did not finish")
	}
}

func TestMemoryRememberAndRecall(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: "system", Content: "x"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleUser, Content: "   "})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	short, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", ThreadTitle: "drinks", Role: model.RoleUser, Content: "I like tea"})
	require.NoError(t, err)
	require.False(t, short.Chunked)
	require.NotEmpty(t, short.Embedding)

	long := strings.Repeat("green tea is lovely in the morning ", 6)
	rec, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleAssistant, Content: long})
	require.NoError(t, err)
	require.True(t, rec.Chunked)
	require.NotEmpty(t, rec.Embedding)
	chunks, err := env.chunks.ListByParent(ctx, "o1", rec.ID)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, c.TokenCount, 16)
	}

	failed, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t2", Role: model.RoleUser, Content: "fail-embed please"})
	require.NoError(t, err)
	require.Empty(t, failed.Embedding)

	items, err := env.memory.Recall(ctx, "o1", "tea", retrieval.Options{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i := 1; i < len(items); i++ {
		require.LessOrEqual(t, items[i-1].CreatedAt, items[i].CreatedAt)
	}

	items, err = env.memory.Recall(ctx, "nobody", "tea", retrieval.Options{})
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

func TestMemoryThreads(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)
	long := strings.Repeat("word ", 40)
	rec, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleAssistant, Content: long})
	require.NoError(t, err)

	require.NoError(t, env.memory.RenameThread(ctx, "o1", "t1", "greetings"))
	require.ErrorIs(t, env.memory.RenameThread(ctx, "o1", "missing", "x"), appErr.ErrNotFound)
	require.ErrorIs(t, env.memory.RenameThread(ctx, "o1", "t1", " "), appErr.ErrInvalid)

	list, err := env.memory.ListThread(ctx, "o1", "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "greetings", list[0].ThreadTitle)
	require.Equal(t, "hello", list[0].Content)

	n, err := env.memory.DeleteThread(ctx, "o1", "t1")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	left, err := env.chunks.ListByParent(ctx, "o1", rec.ID)
	require.NoError(t, err)
	require.Empty(t, left)
	list, err = env.memory.ListThread(ctx, "o1", "t1")
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestIngestSkipsUnchangedAndReindexes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	units := []model.RawUnit{
		{ExternalID: "notes", Title: "notes.txt", Content: "Tea notes.\n\nOolong tea is partly oxidised."},
		{ExternalID: "main", Title: "main.go", Content: "package main\n\nfunc main() {}\n\nfunc helper() int { return 1 }\n"},
		{ExternalID: "", Content: "no id"},
		{ExternalID: "blank", Content: "  "},
	}
	res, err := env.ingest.Ingest(ctx, "o1", units)
	require.NoError(t, err)
	require.Equal(t, 2, res.Stored)
	require.Equal(t, 2, res.Skipped)

	res, err = env.ingest.Ingest(ctx, "o1", units[:2])
	require.NoError(t, err)
	require.Equal(t, 0, res.Stored)
	require.Equal(t, 2, res.Skipped)

	src, err := env.sources.GetByExternalID(ctx, "o1", "main")
	require.NoError(t, err)
	require.Equal(t, chunker.LanguageGo, src.Language)
	require.Equal(t, "o1/"+src.ID, src.ArchiveKey)
	chunks, err := env.chunks.ListByParent(ctx, "o1", src.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, model.ChunkKindCodeNode, chunks[0].Kind)

	res, err = env.ingest.Ingest(ctx, "o1", []model.RawUnit{{ExternalID: "notes", Title: "notes.txt", Content: "Only invoices now."}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)
	notes, err := env.sources.GetByExternalID(ctx, "o1", "notes")
	require.NoError(t, err)
	require.Equal(t, res.Sources[0], notes.ID)
	require.Equal(t, 1, notes.ChunkCount)

	items, err := env.ingest.Search(ctx, "o1", "invoice", retrieval.Options{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Only invoices now.", items[0].Content)
	require.Equal(t, notes.ID, items[0].SourceID)

	require.NoError(t, env.chunks.DeleteByParent(ctx, "o1", notes.ID))
	reindexed, err := env.ingest.Reindex(ctx, "o1", notes.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reindexed.ChunkCount)
	chunks, err = env.chunks.ListByParent(ctx, "o1", notes.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	require.NoError(t, env.ingest.DeleteSource(ctx, "o1", notes.ID))
	_, err = env.files.Open(ctx, notes.ArchiveKey)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.ErrorIs(t, env.ingest.DeleteSource(ctx, "o1", notes.ID), appErr.ErrNotFound)

	sources, err := env.ingest.ListSources(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, sources, 1)
}

func failChunkInserts(t *testing.T, env *testEnv) func() {
	t.Helper()
	_, err := env.db.Conn().Exec(`CREATE TRIGGER fail_chunks BEFORE INSERT ON chunks BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)
	return func() {
		_, err := env.db.Conn().Exec(`DROP TRIGGER fail_chunks`)
		require.NoError(t, err)
	}
}

func TestIngestSplitsLongMarkdownParagraphs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	para := strings.TrimSpace(strings.Repeat("green tea leaves ", 56))
	content := para + "\n\n" + para + "\n\n" + para + "\n"
	res, err := env.ingest.Ingest(ctx, "o1", []model.RawUnit{{ExternalID: "notes", Title: "notes.md", Content: content}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)

	src, err := env.sources.Get(ctx, "o1", res.Sources[0])
	require.NoError(t, err)
	require.Equal(t, chunker.LanguageMarkdown, src.Language)
	chunks, err := env.chunks.ListByParent(ctx, "o1", src.ID)
	require.NoError(t, err)
	require.Equal(t, src.ChunkCount, len(chunks))
	require.Greater(t, len(chunks), 3)
	for _, c := range chunks {
		if len(strings.Fields(c.Content)) > 1 {
			require.LessOrEqual(t, c.TokenCount, 16)
		}
		require.NotEmpty(t, c.Embedding)
	}

	items, err := env.ingest.Search(ctx, "o1", "tea", retrieval.Options{TokenBudget: 200})
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, it := range items {
		require.Equal(t, src.ID, it.SourceID)
	}
}

func TestIngestKeepsHashWhenChunkWriteFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := "tea notes"
	_, err := env.ingest.Ingest(ctx, "o1", []model.RawUnit{{ExternalID: "doc", Title: "doc.txt", Content: first}})
	require.NoError(t, err)

	restore := failChunkInserts(t, env)
	_, err = env.ingest.Ingest(ctx, "o1", []model.RawUnit{{ExternalID: "doc", Title: "doc.txt", Content: "tea and invoice notes"}})
	require.Error(t, err)
	_, err = env.ingest.Ingest(ctx, "o1", []model.RawUnit{{ExternalID: "fresh", Title: "fresh.txt", Content: "new tea"}})
	require.Error(t, err)
	src, err := env.sources.GetByExternalID(ctx, "o1", "doc")
	require.NoError(t, err)
	require.Equal(t, contentHash(first), src.ContentHash)
	_, err = env.ingest.Reindex(ctx, "o1", src.ID)
	require.Error(t, err)
	chunks, err := env.chunks.ListByParent(ctx, "o1", src.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	_, err = env.sources.GetByExternalID(ctx, "o1", "fresh")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	restore()

	res, err := env.ingest.Ingest(ctx, "o1", []model.RawUnit{{ExternalID: "doc", Title: "doc.txt", Content: "tea and invoice notes"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Stored)
	src, err = env.sources.GetByExternalID(ctx, "o1", "doc")
	require.NoError(t, err)
	chunks, err = env.chunks.ListByParent(ctx, "o1", src.ID)
	require.NoError(t, err)
	require.Len(t, chunks, src.ChunkCount)
	require.Equal(t, "tea and invoice notes", chunks[0].Content)
}

func TestRememberRollsBackWhenChunkWriteFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	restore := failChunkInserts(t, env)
	long := strings.Repeat("green tea is lovely in the morning ", 6)
	_, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleUser, Content: long})
	require.Error(t, err)
	list, err := env.memories.ListThread(ctx, "o1", "t1")
	require.NoError(t, err)
	require.Empty(t, list)

	// short turns carry no chunks
	_, err = env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleUser, Content: "tea"})
	require.NoError(t, err)
	restore()

	_, err = env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleAssistant, Content: long})
	require.NoError(t, err)
	list, err = env.memories.ListThread(ctx, "o1", "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestDocumentSearchSkipsMemoryChunks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	long := strings.Repeat("green tea is lovely in the morning ", 6)
	rec, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleUser, Content: long})
	require.NoError(t, err)
	require.True(t, rec.Chunked)

	items, err := env.ingest.Search(ctx, "o1", "tea", retrieval.Options{})
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = env.ingest.Ingest(ctx, "o1", []model.RawUnit{{ExternalID: "guide", Title: "guide.txt", Content: "brewing tea"}})
	require.NoError(t, err)
	items, err = env.ingest.Search(ctx, "o1", "tea", retrieval.Options{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "brewing tea", items[0].Content)
}

func TestSyncAndEnrich(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.triage.SyncAndEnrich(ctx, "o1", []model.RawCandidate{
		{ExternalID: "e1", Subject: "X", Body: "invoice attached", Timestamp: 100},
		{ExternalID: "e2", Subject: "lunch", Body: "tea at noon?", Timestamp: 200},
		{ExternalID: "e3", Subject: "broken invoice", Body: "invoice invoice", Timestamp: 300},
		{ExternalID: "", Subject: "no id"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, res.Preliminary, 3)
	require.Equal(t, 2, res.Likely)
	require.Equal(t, 1, res.Unlikely)
	require.Equal(t, 3, res.New)
	require.NotEmpty(t, res.TaskID)
	require.False(t, res.Degraded)
	waitTask(t, env.sched, "o1")

	e1, err := env.cands.Get(ctx, "o1", res.Preliminary[indexOf(res.Preliminary, "e1")].ID)
	require.NoError(t, err)
	require.Equal(t, model.CandidateStatusAnalyzed, e1.Status)
	require.Equal(t, "finance", e1.Analysis.Category)
	e3 := res.Preliminary[indexOf(res.Preliminary, "e3")]
	e3, err = env.cands.Get(ctx, "o1", e3.ID)
	require.NoError(t, err)
	require.Equal(t, model.CandidateStatusFailed, e3.Status)
	require.Contains(t, e3.Error, "llm exploded")

	st, err := env.triage.Status(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, int64(300), st.LastSyncAt)
	require.Equal(t, 1, st.Counts[model.CandidateStatusAnalyzed])
	require.Equal(t, 1, st.Counts[model.CandidateStatusFailed])
	require.Equal(t, 1, st.Counts[model.CandidateStatusPending])
	require.NotNil(t, st.Task)
	require.Equal(t, enrich.TaskFinished, st.Task.State)

	// re-sync: e1 stays analyzed, only the subject changes
	res, err = env.triage.SyncAndEnrich(ctx, "o1", []model.RawCandidate{
		{ExternalID: "e1", Subject: "X2", Body: "invoice attached", Timestamp: 100},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.New)
	require.Len(t, res.Preliminary, 1)
	require.Equal(t, "X2", res.Preliminary[0].Subject)
	require.Equal(t, model.CandidateStatusAnalyzed, res.Preliminary[0].Status)
	require.Equal(t, e1.ID, res.Preliminary[0].ID)
	require.Empty(t, res.TaskID)

	list, err := env.triage.ListCandidates(ctx, "o1", "", 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	_, err = env.triage.ListCandidates(ctx, "o1", "bogus", 0, 10)
	require.ErrorIs(t, err, appErr.ErrInvalid)

	owners, err := env.triage.RetryPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, owners)
	waitTask(t, env.sched, "o1")
}

func indexOf(list []*model.CandidateRecord, externalID string) int {
	for i, c := range list {
		if c.ExternalID == externalID {
			return i
		}
	}
	return -1
}

func TestSyncDegradesWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	res, err := env.triage.SyncAndEnrich(ctx, "o1", []model.RawCandidate{
		{ExternalID: "e1", Subject: "fail-embed", Body: "x"},
		{ExternalID: "e2", Subject: "hello", Body: "y"},
	})
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Equal(t, 2, res.Likely)
	require.Len(t, res.Preliminary, 2)
	waitTask(t, env.sched, "o1")
}

func TestDeleteOwnerData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.memory.Remember(ctx, "o1", RememberInput{ThreadID: "t1", Role: model.RoleUser, Content: "tea"})
	require.NoError(t, err)
	res, err := env.ingest.Ingest(ctx, "o1", []model.RawUnit{{ExternalID: "d", Title: "d.md", Content: "# Tea\n\nbody"}})
	require.NoError(t, err)
	src, err := env.sources.Get(ctx, "o1", res.Sources[0])
	require.NoError(t, err)
	_, err = env.memory.Remember(ctx, "o2", RememberInput{ThreadID: "t1", Role: model.RoleUser, Content: "tea"})
	require.NoError(t, err)

	require.NoError(t, env.owner.DeleteOwnerData(ctx, "o1"))

	items, err := env.memory.Recall(ctx, "o1", "tea", retrieval.Options{})
	require.NoError(t, err)
	require.Empty(t, items)
	items, err = env.memory.Recall(ctx, "o2", "tea", retrieval.Options{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	_, err = env.files.Open(ctx, src.ArchiveKey)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}
