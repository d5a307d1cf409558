package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/model"
)

// Store is the persistent side of the cache; repo.EmbeddingCacheRepo implements it.
type Store interface {
	Lookup(ctx context.Context, modelName, task, contentHash string) ([]float32, bool, error)
	Put(ctx context.Context, item *model.CachedEmbedding) error
}

// WithStore consults store before calling next and saves what next returns.
// Store failures only cost a provider call.
func WithStore(next ai.IEmbedder, store Store) ai.IEmbedder {
	if next == nil || store == nil {
		return next
	}
	return &storeEmbedder{next: next, store: store, now: time.Now}
}

type storeEmbedder struct {
	next  ai.IEmbedder
	store Store
	now   func() time.Time
}

func (s *storeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	key := NewKey(s.next.ModelName(), taskType, text)
	vec, ok, err := s.store.Lookup(ctx, key.Model, key.Task, key.Hash)
	switch {
	case err != nil:
		logger.Warn("embedding cache lookup failed", zap.String("model", key.Model), zap.Error(err))
	case ok:
		logger.Debug("embedding cache hit", zap.String("layer", "store"), zap.String("task_type", taskType))
		return vec, nil
	}
	vec, err = s.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	item := &model.CachedEmbedding{
		Model:       key.Model,
		Task:        key.Task,
		ContentHash: key.Hash,
		Vector:      vec,
		CreatedAt:   s.now().Unix(),
	}
	if err := s.store.Put(ctx, item); err != nil {
		logger.Warn("save embedding to cache failed", zap.String("model", key.Model), zap.Error(err))
	}
	return vec, nil
}

func (s *storeEmbedder) ModelName() string {
	return s.next.ModelName()
}
