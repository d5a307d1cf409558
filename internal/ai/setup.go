package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/recall/internal/config"
)

// Build wires the configured providers into a fallback embedder and a
// fallback generator. The generator is nil when no analyze entries exist.
func Build(cfg config.AIConfig) (IEmbedder, IGenerator, error) {
	providers := make(map[string]config.AIProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, nil, fmt.Errorf("ai provider name is required")
		}
		providers[name] = p
	}
	opts := EmbedderOptions{
		Dimension: cfg.Dimension,
		Timeout:   time.Duration(cfg.EmbedTimeout) * time.Second,
	}
	embedEntries := make([]EmbedderEntry, 0, len(cfg.Embed.Entries))
	for _, entry := range cfg.Embed.Entries {
		p, ok := providers[entry.Provider]
		if !ok {
			return nil, nil, fmt.Errorf("embed entry references unknown provider: %s", entry.Provider)
		}
		ep, err := NewEmbedProvider(p.Type, p.Data)
		if err != nil {
			return nil, nil, err
		}
		embedEntries = append(embedEntries, EmbedderEntry{
			Name:     entry.Provider + ":" + entry.Model,
			Embedder: NewEmbedder(ep, entry.Model, opts),
		})
	}
	genEntries := make([]GeneratorEntry, 0, len(cfg.Analyze.Entries))
	for _, entry := range cfg.Analyze.Entries {
		p, ok := providers[entry.Provider]
		if !ok {
			return nil, nil, fmt.Errorf("analyze entry references unknown provider: %s", entry.Provider)
		}
		gp, err := NewProvider(p.Type, p.Data)
		if err != nil {
			return nil, nil, err
		}
		genEntries = append(genEntries, GeneratorEntry{
			Name:      entry.Provider + ":" + entry.Model,
			Generator: NewGenerator(gp, entry.Model),
		})
	}
	var embedder IEmbedder
	if len(embedEntries) == 1 {
		embedder = embedEntries[0].Embedder
	} else {
		embedder = NewGroupEmbedder(embedEntries)
	}
	return embedder, NewGroupGenerator(genEntries), nil
}
