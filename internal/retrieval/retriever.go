package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/model"
)

const defaultMinSimilarity = 0.5

// Searcher is a vector table scoped by owner; repo.MemoryRepo and
// repo.ChunkRepo implement it.
type Searcher interface {
	Nearest(ctx context.Context, ownerID string, q []float32, k int) ([]model.Match, error)
	Recent(ctx context.Context, ownerID string, k int) ([]model.Match, error)
	KeywordMatch(ctx context.Context, ownerID, query string, k int) ([]model.Match, error)
}

// Options tunes one retrieval. A positive TokenBudget selects budgeted
// mode; zero selects conversational mode (semantic plus recency).
type Options struct {
	SemanticLimit int
	RecentLimit   int
	TokenBudget   int
	Limit         int
	MinSimilarity float64
}

func (o Options) withDefaults(d Options) Options {
	if o.SemanticLimit <= 0 {
		o.SemanticLimit = d.SemanticLimit
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = d.RecentLimit
	}
	if o.Limit <= 0 {
		o.Limit = d.Limit
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = d.MinSimilarity
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = defaultMinSimilarity
	}
	return o
}

type Retriever struct {
	embedder ai.IEmbedder
	searcher Searcher
	defaults Options
}

func New(embedder ai.IEmbedder, searcher Searcher, defaults Options) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher, defaults: defaults}
}

// Retrieve returns what is relevant to query for ownerID. An owner without
// data gets an empty, non-nil slice.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, query string, opts Options) ([]model.Item, error) {
	opts = opts.withDefaults(r.defaults)
	if opts.TokenBudget > 0 {
		return r.budgeted(ctx, ownerID, query, opts)
	}
	return r.conversational(ctx, ownerID, query, opts)
}

func (r *Retriever) embedQuery(ctx context.Context, query string) []float32 {
	if strings.TrimSpace(query) == "" || r.embedder == nil {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		logutil.GetLogger(ctx).Warn("embed query failed, degrading retrieval", zap.Error(err))
		return nil
	}
	return vec
}

func (r *Retriever) conversational(ctx context.Context, ownerID, query string, opts Options) ([]model.Item, error) {
	qvec := r.embedQuery(ctx, query)
	var semantic, recent []model.Match
	g, gctx := errgroup.WithContext(ctx)
	if qvec != nil {
		g.Go(func() error {
			var err error
			semantic, err = r.searcher.Nearest(gctx, ownerID, qvec, opts.SemanticLimit)
			return err
		})
	}
	g.Go(func() error {
		var err error
		recent, err = r.searcher.Recent(gctx, ownerID, opts.RecentLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]model.Item, 0, len(recent)+len(semantic))
	seen := make(map[string]struct{}, cap(out))
	for _, group := range [][]model.Match{recent, semantic} {
		for _, m := range group {
			if _, ok := seen[m.Item.Content]; ok {
				continue
			}
			seen[m.Item.Content] = struct{}{}
			out = append(out, m.Item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	logutil.GetLogger(ctx).Debug("conversational retrieval",
		zap.String("owner_id", ownerID),
		zap.Int("semantic", len(semantic)),
		zap.Int("recent", len(recent)),
		zap.Int("merged", len(out)),
	)
	return out, nil
}

func (r *Retriever) budgeted(ctx context.Context, ownerID, query string, opts Options) ([]model.Item, error) {
	k := opts.Limit * 3
	if opts.SemanticLimit > k {
		k = opts.SemanticLimit
	}
	var candidates []model.Item
	if qvec := r.embedQuery(ctx, query); qvec != nil {
		matches, err := r.searcher.Nearest(ctx, ownerID, qvec, k)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if m.Similarity() >= opts.MinSimilarity {
				candidates = append(candidates, m.Item)
			}
		}
	}
	if len(candidates) == 0 {
		matches, err := r.searcher.KeywordMatch(ctx, ownerID, query, k)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			candidates = append(candidates, m.Item)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].CreatedAt > candidates[j].CreatedAt
	})
	out := SelectWithinBudget(candidates, opts.TokenBudget, opts.Limit)
	logutil.GetLogger(ctx).Debug("budgeted retrieval",
		zap.String("owner_id", ownerID),
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(out)),
	)
	return out, nil
}

// SelectWithinBudget walks items in order and keeps each one that still
// fits the token budget, skipping those that do not, until limit is reached.
func SelectWithinBudget(items []model.Item, budget, limit int) []model.Item {
	out := make([]model.Item, 0)
	used := 0
	for _, item := range items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if used+item.TokenCount > budget {
			continue
		}
		used += item.TokenCount
		out = append(out, item)
	}
	return out
}
