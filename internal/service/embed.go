package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/model"
)

const defaultEmbedConcurrency = 4

// embedChunks fills in chunk embeddings with bounded concurrency. A chunk
// whose embedding fails keeps a nil embedding and stays reachable through
// recency and keyword lookups. It returns how many chunks got a vector.
func embedChunks(ctx context.Context, embedder ai.IEmbedder, chunks []*model.Chunk) int {
	if embedder == nil || len(chunks) == 0 {
		return 0
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultEmbedConcurrency)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, c.Content, ai.TaskRetrievalDocument)
			if err != nil {
				logutil.GetLogger(gctx).Warn("embed chunk failed, storing without vector",
					zap.Int("index", c.Index), zap.Error(err))
				return nil
			}
			c.Embedding = vec
			return nil
		})
	}
	_ = g.Wait()
	ok := 0
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			ok++
		}
	}
	return ok
}
