package prefilter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/pkg/vecmath"
)

const (
	DefaultThreshold   = 0.52
	DefaultMinLikely   = 3
	DefaultConcurrency = 4
)

type Item struct {
	Key  string
	Text string
}

type Scored struct {
	Item      Item
	Embedding []float32
	Score     float64
}

// Result splits the classified items. Unlikely items are kept with their
// scores. Degraded is set when embedding failed and every item was passed
// through as likely.
type Result struct {
	Likely   []Scored
	Unlikely []Scored
	Degraded bool
}

type Options struct {
	Threshold   float64
	MinLikely   int
	Concurrency int
}

type Classifier struct {
	embedder ai.IEmbedder
	opts     Options

	mu        sync.Mutex
	reference map[string][]float32
}

func New(embedder ai.IEmbedder, opts Options) *Classifier {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MinLikely <= 0 {
		opts.MinLikely = DefaultMinLikely
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Classifier{
		embedder:  embedder,
		opts:      opts,
		reference: make(map[string][]float32),
	}
}

func (c *Classifier) referenceVector(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	vec, ok := c.reference[text]
	c.mu.Unlock()
	if ok {
		return vec, nil
	}
	vec, err := c.embedder.Embed(ctx, text, ai.TaskSemanticSimilarity)
	if err != nil {
		return nil, fmt.Errorf("embed reference: %w", err)
	}
	c.mu.Lock()
	c.reference[text] = vec
	c.mu.Unlock()
	return vec, nil
}

// Classify scores items against referenceText. Items above the threshold
// are likely, and the top scored min(MinLikely, len(items)) items are
// always likely. Any embedding failure makes every item likely.
func (c *Classifier) Classify(ctx context.Context, items []Item, referenceText string) Result {
	if len(items) == 0 {
		return Result{Likely: []Scored{}, Unlikely: []Scored{}}
	}
	scored, err := c.score(ctx, items, referenceText)
	if err != nil {
		logutil.GetLogger(ctx).Warn("prefilter degraded, passing all items through",
			zap.Int("items", len(items)), zap.Error(err))
		all := make([]Scored, 0, len(items))
		for _, item := range items {
			all = append(all, Scored{Item: item})
		}
		return Result{Likely: all, Unlikely: []Scored{}, Degraded: true}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	floor := c.opts.MinLikely
	if floor > len(scored) {
		floor = len(scored)
	}
	above := 0
	for _, s := range scored {
		if s.Score > c.opts.Threshold {
			above++
		}
	}
	cut := above
	if cut < floor {
		cut = floor
	}
	res := Result{
		Likely:   append([]Scored{}, scored[:cut]...),
		Unlikely: append([]Scored{}, scored[cut:]...),
	}
	logutil.GetLogger(ctx).Debug("prefilter classified",
		zap.Int("items", len(items)),
		zap.Int("above_threshold", above),
		zap.Int("likely", len(res.Likely)),
	)
	return res
}

func (c *Classifier) score(ctx context.Context, items []Item, referenceText string) ([]Scored, error) {
	if strings.TrimSpace(referenceText) == "" {
		return nil, fmt.Errorf("reference text is empty")
	}
	ref, err := c.referenceVector(ctx, referenceText)
	if err != nil {
		return nil, err
	}
	out := make([]Scored, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			vec, err := c.embedder.Embed(gctx, item.Text, ai.TaskSemanticSimilarity)
			if err != nil {
				return fmt.Errorf("embed item %s: %w", item.Key, err)
			}
			out[i] = Scored{Item: item, Embedding: vec, Score: vecmath.Cosine(ref, vec)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
