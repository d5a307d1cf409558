package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// unavailableCooldown is how long an entry that answered ErrUnavailable is
// passed over while later entries are tried.
const unavailableCooldown = 30 * time.Second

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type chainLink[T any] struct {
	name      string
	impl      T
	downUntil atomic.Int64
}

// chain tries its links in order until one succeeds. Links cooling down
// after an outage are tried last.
type chain[T any] struct {
	kind  string
	links []*chainLink[T]
	now   func() time.Time
}

func newChain[T any](kind string) *chain[T] {
	return &chain[T]{kind: kind, now: time.Now}
}

func (c *chain[T]) add(name string, impl T) {
	c.links = append(c.links, &chainLink[T]{name: name, impl: impl})
}

func (c *chain[T]) ordered() []*chainLink[T] {
	now := c.now().UnixNano()
	ready := make([]*chainLink[T], 0, len(c.links))
	var cooling []*chainLink[T]
	for _, l := range c.links {
		if l.downUntil.Load() > now {
			cooling = append(cooling, l)
			continue
		}
		ready = append(ready, l)
	}
	return append(ready, cooling...)
}

func (c *chain[T]) call(ctx context.Context, fn func(T) error) error {
	if len(c.links) == 0 {
		return fmt.Errorf("%w: %s not configured", ErrUnavailable, c.kind)
	}
	var lastErr error
	for _, l := range c.ordered() {
		err := fn(l.impl)
		if err == nil {
			l.downUntil.Store(0)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, ErrUnavailable) {
			l.downUntil.Store(c.now().Add(unavailableCooldown).UnixNano())
		}
		logutil.GetLogger(ctx).Warn(c.kind+" failed, trying next", zap.String("name", l.name), zap.Error(err))
	}
	return lastErr
}

type groupGenerator struct {
	chain *chain[IGenerator]
}

func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	c := newChain[IGenerator]("generator")
	for _, item := range items {
		if item.Generator != nil {
			c.add(item.Name, item.Generator)
		}
	}
	if len(c.links) == 0 {
		return nil
	}
	return &groupGenerator{chain: c}
}

func (g *groupGenerator) Generate(ctx context.Context, system string, prompt string) (string, error) {
	var out string
	err := g.chain.call(ctx, func(gen IGenerator) error {
		res, err := gen.Generate(ctx, system, prompt)
		out = res
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

type groupEmbedder struct {
	chain *chain[IEmbedder]
}

func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	c := newChain[IEmbedder]("embedder")
	for _, item := range items {
		if item.Embedder != nil {
			c.add(item.Name, item.Embedder)
		}
	}
	if len(c.links) == 0 {
		return nil
	}
	return &groupEmbedder{chain: c}
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var out []float32
	err := g.chain.call(ctx, func(e IEmbedder) error {
		vec, err := e.Embed(ctx, text, taskType)
		out = vec
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ModelName joins the entry names so cached vectors are keyed by the
// whole chain, not by whichever entry answered.
func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.chain.links))
	for _, l := range g.chain.links {
		if l.name != "" {
			names = append(names, l.name)
		}
	}
	return strings.Join(names, "|")
}
