package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/recall/internal/ai"
)

// flightTimeout bounds a shared provider call, which outlives the caller
// that started it.
const flightTimeout = time.Minute

// WithLRU keeps recent vectors in memory. Concurrent requests for the same
// key share one provider call. A zero size or ttl disables the layer.
func WithLRU(next ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next   ai.IEmbedder
	cache  *expirable.LRU[string, []float32]
	flight singleflight.Group
}

func (l *lruEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := NewKey(l.next.ModelName(), taskType, text).String()
	if vec, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit", zap.String("layer", "lru"), zap.String("task_type", taskType))
		return cloneVector(vec), nil
	}
	ch := l.flight.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		vec, err := l.next.Embed(fctx, text, taskType)
		if err != nil {
			return nil, err
		}
		l.cache.Add(key, cloneVector(vec))
		return vec, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		vec := res.Val.([]float32)
		if res.Shared {
			return cloneVector(vec), nil
		}
		return vec, nil
	}
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}
