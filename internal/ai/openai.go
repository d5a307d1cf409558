package ai

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// compatConfig covers openai and every endpoint that speaks its schema.
// The openrouter attribution headers are sent only when set.
type compatConfig struct {
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	HTTPReferer string `json:"http_referer"`
	XTitle      string `json:"x_title"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMsg `json:"message"`
	} `json:"choices"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func chatMessages(system, prompt string) []chatMsg {
	msgs := make([]chatMsg, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: system})
	}
	return append(msgs, chatMsg{Role: "user", Content: prompt})
}

type compatProvider struct {
	name    string
	apiKey  string
	baseURL string
	extra   map[string]string
}

func (p *compatProvider) Name() string {
	return p.name
}

func (p *compatProvider) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + p.apiKey}
	for k, v := range p.extra {
		if v != "" {
			h[k] = v
		}
	}
	return h
}

func (p *compatProvider) url(path string) string {
	return strings.TrimRight(p.baseURL, "/") + path
}

// Generate runs at temperature 0; analysis output is parsed, not read.
func (p *compatProvider) Generate(ctx context.Context, model string, system string, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	req := chatRequest{Model: model, Messages: chatMessages(system, prompt)}
	var out chatResponse
	if err := postJSON(ctx, p.url("/chat/completions"), p.headers(), req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: %s response has no choices", ErrMalformedResponse, p.name)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Embed ignores taskType; the openai schema has no notion of it.
func (p *compatProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	req := embeddingsRequest{Model: model, Input: []string{text}}
	var out embeddingsResponse
	if err := postJSON(ctx, p.url("/embeddings"), p.headers(), req, &out); err != nil {
		return nil, err
	}
	for _, item := range out.Data {
		if item.Index == 0 {
			return item.Embedding, nil
		}
	}
	return nil, fmt.Errorf("%w: %s response has no embeddings", ErrMalformedResponse, p.name)
}

func newCompatProvider(name, defaultBaseURL string, args interface{}) (*compatProvider, error) {
	cfg := &compatConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &compatProvider{
		name:    name,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		extra: map[string]string{
			"HTTP-Referer": strings.TrimSpace(cfg.HTTPReferer),
			"X-Title":      strings.TrimSpace(cfg.XTitle),
		},
	}, nil
}

func init() {
	Register("openai", func(args interface{}) (IAIProvider, error) {
		return newCompatProvider("openai", defaultOpenAIBaseURL, args)
	})
	RegisterEmbed("openai", func(args interface{}) (IEmbedProvider, error) {
		return newCompatProvider("openai", defaultOpenAIBaseURL, args)
	})
	Register("openrouter", func(args interface{}) (IAIProvider, error) {
		return newCompatProvider("openrouter", defaultOpenRouterBaseURL, args)
	})
	RegisterEmbed("openrouter", func(args interface{}) (IEmbedProvider, error) {
		return newCompatProvider("openrouter", defaultOpenRouterBaseURL, args)
	})
}
