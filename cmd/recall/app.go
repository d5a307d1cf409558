package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/chunker"
	"github.com/xxxsen/recall/internal/config"
	"github.com/xxxsen/recall/internal/db"
	"github.com/xxxsen/recall/internal/embedcache"
	"github.com/xxxsen/recall/internal/enrich"
	"github.com/xxxsen/recall/internal/event"
	"github.com/xxxsen/recall/internal/filestore"
	"github.com/xxxsen/recall/internal/prefilter"
	"github.com/xxxsen/recall/internal/repo"
	"github.com/xxxsen/recall/internal/retrieval"
	"github.com/xxxsen/recall/internal/service"
	"github.com/xxxsen/recall/internal/tracing"
)

// app holds everything built from one config. close tears it down in
// reverse order of construction.
type app struct {
	cfg        *config.Config
	conn       *sql.DB
	hub        *event.Hub
	redis      *event.RedisSink
	cacheRepo  *repo.EmbeddingCacheRepo
	candidates *repo.CandidateRepo
	scheduler  *enrich.Scheduler
	memory     *service.MemoryService
	ingest     *service.IngestService
	triage     *service.TriageService
	owner      *service.OwnerService
	shutdownFn func(context.Context) error
}

func openDB(cfg *config.Config) (*sql.DB, db.Dialect, error) {
	conn, dialect, err := db.Open(cfg.Database)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn, dialect); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("migrations: %w", err)
	}
	return conn, dialect, nil
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logutil.GetLogger(ctx)
	conn, dialect, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, conn: conn}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.shutdownFn = shutdown

	d := repo.NewDB(conn, dialect)
	a.cacheRepo = repo.NewEmbeddingCacheRepo(d)
	a.candidates = repo.NewCandidateRepo(d)
	memories := repo.NewMemoryRepo(d)
	chunks := repo.NewChunkRepo(d)
	sources := repo.NewSourceRepo(d)

	embedder, generator, err := ai.Build(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("init ai provider: %w", err)
	}
	if cfg.EmbedCache.DBEnabled {
		embedder = embedcache.WithStore(embedder, a.cacheRepo)
	}
	embedder = embedcache.WithLRU(embedder, cfg.EmbedCache.LRUSize, time.Duration(cfg.EmbedCache.LRUTTLSeconds)*time.Second)

	counter, err := chunker.NewCounter(cfg.Chunk)
	if err != nil {
		return nil, fmt.Errorf("init token counter: %w", err)
	}
	ch := chunker.New(counter, cfg.Chunk.LineWindow)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}

	a.hub = event.NewHub(cfg.Events.Buffer)
	sinks := event.Multi{a.hub}
	if cfg.Events.Redis.Addr != "" {
		a.redis = event.NewRedisSink(cfg.Events.Redis.Addr, cfg.Events.Redis.Password, cfg.Events.Redis.DB, cfg.Events.Redis.ChannelPrefix)
		if err := a.redis.Ping(ctx); err != nil {
			logger.Warn("redis event sink unreachable, events stay in-process", zap.Error(err))
		}
		sinks = append(sinks, a.redis)
	}

	if generator == nil {
		logger.Warn("no analyze model configured, enrichment passes will fail")
	}
	analyzer := ai.NewAnalyzer(generator, time.Duration(cfg.AI.AnalyzeTimeout)*time.Second, cfg.AI.MaxInputChars)
	a.scheduler = enrich.NewScheduler(a.candidates, analyzer, sinks, enrich.Options{
		SystemPrompt:  cfg.Triage.SystemPrompt,
		RatePerMinute: cfg.Triage.RatePerMinute,
	})

	defaults := retrieval.Options{
		SemanticLimit: cfg.Retrieval.SemanticLimit,
		RecentLimit:   cfg.Retrieval.RecentLimit,
		Limit:         cfg.Retrieval.Limit,
		TokenBudget:   cfg.Retrieval.TokenBudget,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
	}
	classifier := prefilter.New(embedder, prefilter.Options{
		Threshold:   cfg.Triage.Threshold,
		MinLikely:   cfg.Triage.MinLikely,
		Concurrency: cfg.Triage.EmbedConcurrency,
	})
	a.memory = service.NewMemoryService(memories, ch, embedder, defaults, cfg.Chunk.Budget)
	a.ingest = service.NewIngestService(sources, chunks, ch, embedder, store, defaults, cfg.Chunk.Budget)
	a.triage = service.NewTriageService(a.candidates, repo.NewSyncCursorRepo(d), classifier, a.scheduler, cfg.Triage.ReferenceText)
	a.owner = service.NewOwnerService(repo.NewOwnerRepo(d), sources, store, a.scheduler)
	ok = true
	return a, nil
}

func (a *app) close(ctx context.Context) {
	logger := logutil.GetLogger(ctx)
	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(ctx); err != nil {
			logger.Warn("enrichment shutdown incomplete", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.shutdownFn != nil {
		if err := a.shutdownFn(ctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
}
