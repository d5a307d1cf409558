package chunker

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/xxxsen/recall/internal/config"
)

// TokenCounter must be monotonic: appending text never lowers the count.
type TokenCounter interface {
	Count(text string) int
}

// CharCounter approximates tokens as ceil(runes / CharsPerToken).
type CharCounter struct {
	CharsPerToken int
}

func (c CharCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	per := c.CharsPerToken
	if per <= 0 {
		per = 4
	}
	return (n + per - 1) / per
}

type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

func NewCounter(cfg config.ChunkConfig) (TokenCounter, error) {
	switch cfg.Counter {
	case "", "chars":
		return CharCounter{CharsPerToken: cfg.CharsPerToken}, nil
	case "tiktoken":
		return NewTiktokenCounter(cfg.Encoding)
	default:
		return nil, fmt.Errorf("unsupported token counter: %s", cfg.Counter)
	}
}
