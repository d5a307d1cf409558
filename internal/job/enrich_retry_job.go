package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultRetryBatch = 200

type Retrier interface {
	RetryPending(ctx context.Context, limit int) (int, error)
}

// EnrichRetryJob restarts enrichment for likely candidates that earlier
// passes left pending or failed.
type EnrichRetryJob struct {
	retrier Retrier
	limit   int
}

func NewEnrichRetryJob(retrier Retrier, limit int) *EnrichRetryJob {
	if limit <= 0 {
		limit = defaultRetryBatch
	}
	return &EnrichRetryJob{retrier: retrier, limit: limit}
}

func (j *EnrichRetryJob) Name() string {
	return "enrich_retry"
}

func (j *EnrichRetryJob) Run(ctx context.Context) error {
	if j.retrier == nil {
		return nil
	}
	owners, err := j.retrier.RetryPending(ctx, j.limit)
	if err != nil {
		return err
	}
	if owners > 0 {
		logutil.GetLogger(ctx).Info("enrichment retried", zap.Int("owners", owners))
	}
	return nil
}
