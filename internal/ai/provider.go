package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnavailable       = errors.New("ai provider unavailable")
	ErrMalformedResponse = errors.New("ai provider returned malformed response")
)

const (
	TaskRetrievalQuery     = "RETRIEVAL_QUERY"
	TaskRetrievalDocument  = "RETRIEVAL_DOCUMENT"
	TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"
	maxErrorBodyBytes      = 4096
)

type IAIProvider interface {
	Name() string
	Generate(ctx context.Context, model string, system string, prompt string) (string, error)
}

type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

type IGenerator interface {
	Generate(ctx context.Context, system string, prompt string) (string, error)
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type generator struct {
	provider IAIProvider
	model    string
}

func NewGenerator(p IAIProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, system string, prompt string) (string, error) {
	res, err := g.provider.Generate(ctx, g.model, system, prompt)
	if err != nil {
		return "", classify(err)
	}
	return res, nil
}

type EmbedderOptions struct {
	// Dimension is the fixed vector size of the deployment; 0 skips the check.
	Dimension int
	Timeout   time.Duration
}

type embedder struct {
	provider IEmbedProvider
	model    string
	opts     EmbedderOptions
}

func NewEmbedder(p IEmbedProvider, model string, opts EmbedderOptions) IEmbedder {
	return &embedder{provider: p, model: model, opts: opts}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	vec, err := e.provider.Embed(ctx, e.model, text, taskType)
	if err != nil {
		return nil, classify(err)
	}
	if err := CheckEmbedding(vec, e.opts.Dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *embedder) ModelName() string {
	return e.model
}

// CheckEmbedding rejects vectors that must never reach the store: empty,
// all-zero, non-finite or of the wrong dimension.
func CheckEmbedding(vec []float32, dimension int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding", ErrMalformedResponse)
	}
	if dimension > 0 && len(vec) != dimension {
		return fmt.Errorf("%w: embedding dimension %d, want %d", ErrMalformedResponse, len(vec), dimension)
	}
	zero := true
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: embedding has non-finite value", ErrMalformedResponse)
		}
		if v != 0 {
			zero = false
		}
	}
	if zero {
		return fmt.Errorf("%w: zero embedding", ErrMalformedResponse)
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrMalformedResponse) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

type AIProviderFactory func(args interface{}) (IAIProvider, error)
type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)

var (
	registry      = map[string]AIProviderFactory{}
	embedRegistry = map[string]EmbedProviderFactory{}
)

func Register(name string, factory AIProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	embedRegistry[key] = factory
}

func NewProvider(name string, args interface{}) (IAIProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai provider type is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai provider type is required")
	}
	factory := embedRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embed provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	var data []byte
	switch v := args.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("encode ai provider config: %w", err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}

// postJSON sends in as a JSON body and decodes the response into out.
// Transport errors and non-2xx replies are ErrUnavailable, undecodable
// bodies are ErrMalformedResponse.
func postJSON(ctx context.Context, endpoint string, headers map[string]string, in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}
