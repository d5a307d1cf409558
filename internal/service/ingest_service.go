package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/chunker"
	"github.com/xxxsen/recall/internal/filestore"
	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/repo"
	"github.com/xxxsen/recall/internal/retrieval"
)

type IngestService struct {
	sources   *repo.SourceRepo
	chunker   *chunker.Chunker
	embedder  ai.IEmbedder
	files     filestore.Store
	retriever *retrieval.Retriever
	budget    int
	search    int
	now       func() time.Time
}

const defaultSearchBudget = 2000

func NewIngestService(sources *repo.SourceRepo, chunks *repo.ChunkRepo, ch *chunker.Chunker, embedder ai.IEmbedder, files filestore.Store, defaults retrieval.Options, budget int) *IngestService {
	return &IngestService{
		sources:   sources,
		chunker:   ch,
		embedder:  embedder,
		files:     files,
		retriever: retrieval.New(embedder, chunks, defaults),
		budget:    budget,
		search:    defaults.TokenBudget,
		now:       time.Now,
	}
}

type IngestResult struct {
	Stored  int      `json:"stored"`
	Skipped int      `json:"skipped"`
	Sources []string `json:"sources"`
}

// Ingest chunks, embeds and stores each unit under its external id. Units
// without an id or content, and units whose content did not change since
// the last ingest, are skipped.
func (s *IngestService) Ingest(ctx context.Context, ownerID string, units []model.RawUnit) (*IngestResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("owner_id", ownerID))
	res := &IngestResult{Sources: []string{}}
	for _, unit := range units {
		if strings.TrimSpace(unit.ExternalID) == "" || strings.TrimSpace(unit.Content) == "" {
			res.Skipped++
			continue
		}
		id, stored, err := s.ingestOne(ctx, ownerID, unit)
		if err != nil {
			logger.Error("ingest unit failed", zap.String("external_id", unit.ExternalID), zap.Error(err))
			return res, fmt.Errorf("ingest %s: %w", unit.ExternalID, err)
		}
		if !stored {
			res.Skipped++
			continue
		}
		res.Stored++
		res.Sources = append(res.Sources, id)
	}
	logger.Info("ingest finished", zap.Int("stored", res.Stored), zap.Int("skipped", res.Skipped))
	return res, nil
}

func (s *IngestService) ingestOne(ctx context.Context, ownerID string, unit model.RawUnit) (string, bool, error) {
	hash := contentHash(unit.Content)
	src, err := s.sources.GetByExternalID(ctx, ownerID, unit.ExternalID)
	switch {
	case err == nil:
		if src.ContentHash == hash {
			return src.ID, false, nil
		}
	case appErr.IsNotFound(err):
		src = &model.Source{ID: newID(), OwnerID: ownerID, ExternalID: unit.ExternalID}
	default:
		return "", false, err
	}
	src.Name = unit.Title
	src.Language = chunker.LanguageForName(unit.Title)
	src.ContentHash = hash
	src.Mtime = unit.Timestamp
	if src.Mtime <= 0 {
		src.Mtime = s.now().UnixMilli()
	}
	if s.files != nil {
		key := archiveKey(ownerID, src.ID)
		if err := s.files.Save(ctx, key, strings.NewReader(unit.Content), int64(len(unit.Content))); err != nil {
			logutil.GetLogger(ctx).Warn("archive raw content failed", zap.String("source_id", src.ID), zap.Error(err))
		} else {
			src.ArchiveKey = key
		}
	}
	chunks := s.buildChunks(ctx, ownerID, src, unit.Content)
	src.ChunkCount = len(chunks)
	id, err := s.sources.SaveWithChunks(ctx, src, chunks)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *IngestService) buildChunks(ctx context.Context, ownerID string, src *model.Source, content string) []*model.Chunk {
	var chunks []*model.Chunk
	if src.Language != "" {
		chunks = s.chunker.ChunkStructured(ctx, content, src.Language, s.budget)
	} else {
		chunks = s.chunker.Chunk(content, s.budget)
	}
	now := s.now().UnixMilli()
	for _, c := range chunks {
		c.ID = newID()
		c.OwnerID = ownerID
		c.ParentID = src.ID
		c.ParentKind = model.ChunkParentSource
		c.CreatedAt = now
	}
	embedded := embedChunks(ctx, s.embedder, chunks)
	logutil.GetLogger(ctx).Debug("source chunked",
		zap.String("source_id", src.ID),
		zap.String("language", src.Language),
		zap.Int("chunks", len(chunks)),
		zap.Int("embedded", embedded),
	)
	return chunks
}

// Reindex rebuilds the chunks of a source from its archived original.
func (s *IngestService) Reindex(ctx context.Context, ownerID, sourceID string) (*model.Source, error) {
	src, err := s.sources.Get(ctx, ownerID, sourceID)
	if err != nil {
		return nil, err
	}
	if s.files == nil || src.ArchiveKey == "" {
		return nil, appErr.Invalidf("source %s has no archived original", sourceID)
	}
	rc, err := s.files.Open(ctx, src.ArchiveKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	chunks := s.buildChunks(ctx, ownerID, src, string(raw))
	src.ChunkCount = len(chunks)
	src.ContentHash = contentHash(string(raw))
	if _, err := s.sources.SaveWithChunks(ctx, src, chunks); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *IngestService) DeleteSource(ctx context.Context, ownerID, sourceID string) error {
	src, err := s.sources.Get(ctx, ownerID, sourceID)
	if err != nil {
		return err
	}
	if err := s.sources.Delete(ctx, ownerID, sourceID); err != nil {
		return err
	}
	if s.files != nil && src.ArchiveKey != "" {
		if err := s.files.Delete(ctx, src.ArchiveKey); err != nil {
			logutil.GetLogger(ctx).Warn("delete archived original failed", zap.String("source_id", sourceID), zap.Error(err))
		}
	}
	return nil
}

func (s *IngestService) ListSources(ctx context.Context, ownerID string) ([]*model.Source, error) {
	sources, err := s.sources.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if sources == nil {
		sources = []*model.Source{}
	}
	return sources, nil
}

// Search runs a budgeted retrieval over stored chunks.
func (s *IngestService) Search(ctx context.Context, ownerID, query string, opts retrieval.Options) ([]model.Item, error) {
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = s.search
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = defaultSearchBudget
	}
	return s.retriever.Retrieve(ctx, ownerID, query, opts)
}

func archiveKey(ownerID, sourceID string) string {
	return ownerID + "/" + sourceID
}
