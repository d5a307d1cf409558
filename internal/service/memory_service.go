package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/chunker"
	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/pkg/vecmath"
	"github.com/xxxsen/recall/internal/repo"
	"github.com/xxxsen/recall/internal/retrieval"
)

type MemoryService struct {
	memories  *repo.MemoryRepo
	chunker   *chunker.Chunker
	embedder  ai.IEmbedder
	retriever *retrieval.Retriever
	budget    int
	now       func() time.Time
}

func NewMemoryService(memories *repo.MemoryRepo, ch *chunker.Chunker, embedder ai.IEmbedder, defaults retrieval.Options, budget int) *MemoryService {
	return &MemoryService{
		memories:  memories,
		chunker:   ch,
		embedder:  embedder,
		retriever: retrieval.New(embedder, memories, defaults),
		budget:    budget,
		now:       time.Now,
	}
}

type RememberInput struct {
	ThreadID    string `json:"thread_id"`
	ThreadTitle string `json:"thread_title"`
	Role        string `json:"role"`
	Content     string `json:"content"`
}

// Remember stores one conversational turn. A turn larger than the chunk
// budget is split into chunks and its own vector is the mean of theirs.
// Embedding failures are logged and the turn is stored without a vector.
func (s *MemoryService) Remember(ctx context.Context, ownerID string, in RememberInput) (*model.MemoryRecord, error) {
	if strings.TrimSpace(in.ThreadID) == "" || !model.IsValidRole(in.Role) || strings.TrimSpace(in.Content) == "" {
		return nil, appErr.ErrInvalid
	}
	logger := logutil.GetLogger(ctx).With(zap.String("owner_id", ownerID), zap.String("thread_id", in.ThreadID))
	now := s.now().UnixMilli()
	rec := &model.MemoryRecord{
		ID:          newID(),
		OwnerID:     ownerID,
		ThreadID:    in.ThreadID,
		ThreadTitle: in.ThreadTitle,
		Role:        in.Role,
		Content:     in.Content,
		TokenCount:  s.chunker.Counter().Count(in.Content),
		CreatedAt:   now,
	}
	var chunks []*model.Chunk
	if rec.TokenCount > s.budget {
		chunks = s.chunker.Chunk(in.Content, s.budget)
		for _, c := range chunks {
			c.ID = newID()
			c.OwnerID = ownerID
			c.ParentID = rec.ID
			c.ParentKind = model.ChunkParentMemory
			c.CreatedAt = now
		}
		embedChunks(ctx, s.embedder, chunks)
		vecs := make([][]float32, 0, len(chunks))
		for _, c := range chunks {
			if len(c.Embedding) > 0 {
				vecs = append(vecs, c.Embedding)
			}
		}
		rec.Embedding = vecmath.Mean(vecs)
		rec.Chunked = true
	} else if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, in.Content, ai.TaskRetrievalDocument)
		if err != nil {
			logger.Warn("embed memory failed, storing without vector", zap.Error(err))
		} else {
			rec.Embedding = vec
		}
	}
	if err := s.memories.CreateWithChunks(ctx, rec, chunks); err != nil {
		logger.Error("failed to store memory", zap.Int("chunks", len(chunks)), zap.Error(err))
		return nil, fmt.Errorf("store memory: %w", err)
	}
	logger.Debug("memory stored", zap.String("memory_id", rec.ID), zap.Int("chunks", len(chunks)))
	return rec, nil
}

// Recall returns the turns relevant to query, oldest first.
func (s *MemoryService) Recall(ctx context.Context, ownerID, query string, opts retrieval.Options) ([]model.Item, error) {
	return s.retriever.Retrieve(ctx, ownerID, query, opts)
}

func (s *MemoryService) ListThread(ctx context.Context, ownerID, threadID string) ([]*model.MemoryRecord, error) {
	records, err := s.memories.ListThread(ctx, ownerID, threadID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*model.MemoryRecord{}
	}
	return records, nil
}

func (s *MemoryService) RenameThread(ctx context.Context, ownerID, threadID, title string) error {
	title = strings.TrimSpace(title)
	if threadID == "" || title == "" {
		return appErr.ErrInvalid
	}
	return s.memories.RenameThread(ctx, ownerID, threadID, title)
}

func (s *MemoryService) DeleteThread(ctx context.Context, ownerID, threadID string) (int64, error) {
	if threadID == "" {
		return 0, appErr.ErrInvalid
	}
	return s.memories.DeleteThread(ctx, ownerID, threadID)
}
