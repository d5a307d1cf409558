package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultCacheMaxAgeDays = 30

type CachePruner interface {
	Purge(ctx context.Context, cutoff int64) (int64, error)
}

// CachePruneJob removes persisted embeddings older than the configured age.
type CachePruneJob struct {
	cache      CachePruner
	maxAgeDays int
	now        func() time.Time
}

func NewCachePruneJob(cache CachePruner, maxAgeDays int) *CachePruneJob {
	if maxAgeDays <= 0 {
		maxAgeDays = defaultCacheMaxAgeDays
	}
	return &CachePruneJob{cache: cache, maxAgeDays: maxAgeDays, now: time.Now}
}

func (j *CachePruneJob) Name() string {
	return "embedding_cache_prune"
}

func (j *CachePruneJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return nil
	}
	cutoff := j.now().AddDate(0, 0, -j.maxAgeDays).Unix()
	removed, err := j.cache.Purge(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("embedding cache pruned", zap.Int64("removed", removed), zap.Int("max_age_days", j.maxAgeDays))
	return nil
}
