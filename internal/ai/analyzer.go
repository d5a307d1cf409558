package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/titanous/json5"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/model"
)

const (
	defaultAnalyzeTimeout = 20 * time.Minute
	fallbackSummaryRunes  = 280
)

type ParseKind int

const (
	ParseParsed ParseKind = iota
	ParseFallback
)

// ParseResult is what came back from the analysis call: either a decoded
// analysis or the raw text that could not be decoded.
type ParseResult struct {
	Kind     ParseKind
	Analysis model.AnalysisResult
	Raw      string
}

// Result always yields a usable analysis.
func (r ParseResult) Result() *model.AnalysisResult {
	var res model.AnalysisResult
	if r.Kind == ParseParsed {
		res = r.Analysis
	} else {
		res.Summary = truncateRunes(strings.TrimSpace(r.Raw), fallbackSummaryRunes)
	}
	if strings.TrimSpace(res.Category) == "" {
		res.Category = "unknown"
	}
	switch strings.ToLower(strings.TrimSpace(res.Priority)) {
	case "low", "normal", "high", "urgent":
		res.Priority = strings.ToLower(strings.TrimSpace(res.Priority))
	default:
		res.Priority = "normal"
	}
	switch strings.ToLower(strings.TrimSpace(res.Sentiment)) {
	case "positive", "neutral", "negative":
		res.Sentiment = strings.ToLower(strings.TrimSpace(res.Sentiment))
	default:
		res.Sentiment = "neutral"
	}
	items := make([]string, 0, len(res.ActionItems))
	for _, item := range res.ActionItems {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	res.ActionItems = items
	return &res
}

type Analyzer struct {
	generator     IGenerator
	timeout       time.Duration
	maxInputChars int
}

func NewAnalyzer(generator IGenerator, timeout time.Duration, maxInputChars int) *Analyzer {
	if timeout <= 0 {
		timeout = defaultAnalyzeTimeout
	}
	return &Analyzer{generator: generator, timeout: timeout, maxInputChars: maxInputChars}
}

// Analyze runs one analysis call under the analyzer deadline. A reply that
// cannot be decoded is not an error; it comes back as a fallback result.
func (a *Analyzer) Analyze(ctx context.Context, system string, user string) (ParseResult, error) {
	if a.generator == nil {
		return ParseResult{}, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if a.maxInputChars > 0 {
		user = truncateRunes(user, a.maxInputChars)
	}
	raw, err := a.generator.Generate(ctx, system, user)
	if err != nil {
		return ParseResult{}, classify(err)
	}
	res := ParseAnalysis(raw)
	if res.Kind == ParseFallback {
		logutil.GetLogger(ctx).Warn("analysis reply is not json, using fallback", zap.Int("raw_len", len(raw)))
	}
	return res, nil
}

func ParseAnalysis(raw string) ParseResult {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		return ParseResult{Kind: ParseFallback, Raw: raw}
	}
	var res model.AnalysisResult
	if err := json.Unmarshal([]byte(obj), &res); err == nil {
		return ParseResult{Kind: ParseParsed, Analysis: res, Raw: raw}
	}
	if err := json5.Unmarshal([]byte(obj), &res); err == nil {
		return ParseResult{Kind: ParseParsed, Analysis: res, Raw: raw}
	}
	return ParseResult{Kind: ParseFallback, Raw: raw}
}

// ExtractJSONObject returns the first balanced {...} in s. Braces inside
// string literals are ignored.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		var quote byte
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == quote:
					inString = false
				}
				continue
			}
			switch c {
			case '"', '\'':
				inString = true
				quote = c
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
