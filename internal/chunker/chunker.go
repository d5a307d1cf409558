package chunker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/model"
)

const defaultLineWindow = 50

// ErrParse is returned by structured chunkers that cannot handle a source.
// Chunker recovers from it by falling back to line windows.
var ErrParse = errors.New("chunker: parse failure")

// Node is one top-level unit of a parsed source.
type Node struct {
	Content   string
	StartLine int
	EndLine   int
}

// StructuredChunker splits source code of one language along its syntax tree.
type StructuredChunker interface {
	Chunk(source string) ([]Node, error)
}

type Chunker struct {
	counter    TokenCounter
	lineWindow int
	structured map[string]StructuredChunker
}

func New(counter TokenCounter, lineWindow int) *Chunker {
	if counter == nil {
		counter = CharCounter{}
	}
	if lineWindow <= 0 {
		lineWindow = defaultLineWindow
	}
	c := &Chunker{
		counter:    counter,
		lineWindow: lineWindow,
		structured: make(map[string]StructuredChunker),
	}
	c.Register(LanguageGo, goChunker{})
	c.Register(LanguageJavaScript, jsChunker{})
	c.Register(LanguageMarkdown, markdownChunker{})
	return c
}

func (c *Chunker) Register(language string, sc StructuredChunker) {
	c.structured[language] = sc
}

func (c *Chunker) Counter() TokenCounter {
	return c.counter
}

var paragraphSep = regexp.MustCompile(`\n[ \t\r]*\n`)

// Chunk splits prose into pieces of at most budget tokens. Paragraphs that
// fit are kept whole, larger ones are packed line by line and lines that are
// still too large are packed word by word. A single word is never split.
func (c *Chunker) Chunk(text string, budget int) []*model.Chunk {
	out := make([]*model.Chunk, 0)
	if budget <= 0 {
		budget = 1
	}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	for _, para := range paragraphSep.Split(normalized, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if c.counter.Count(para) <= budget {
			out = c.appendChunk(out, para, model.ChunkKindParagraph)
			continue
		}
		out = c.packLines(out, strings.Split(para, "\n"), budget)
	}
	return out
}

func (c *Chunker) packLines(out []*model.Chunk, lines []string, budget int) []*model.Chunk {
	var buf string
	flush := func() {
		if buf != "" {
			out = c.appendChunk(out, buf, model.ChunkKindTextBlock)
			buf = ""
		}
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if c.counter.Count(line) > budget {
			flush()
			out = c.packWords(out, strings.Fields(line), budget)
			continue
		}
		candidate := line
		if buf != "" {
			candidate = buf + "\n" + line
		}
		if c.counter.Count(candidate) > budget {
			flush()
			buf = line
			continue
		}
		buf = candidate
	}
	flush()
	return out
}

func (c *Chunker) packWords(out []*model.Chunk, words []string, budget int) []*model.Chunk {
	var buf string
	for _, word := range words {
		candidate := word
		if buf != "" {
			candidate = buf + " " + word
		}
		if c.counter.Count(candidate) > budget && buf != "" {
			out = c.appendChunk(out, buf, model.ChunkKindSentence)
			buf = word
			continue
		}
		buf = candidate
	}
	if buf != "" {
		out = c.appendChunk(out, buf, model.ChunkKindSentence)
	}
	return out
}

func (c *Chunker) appendChunk(out []*model.Chunk, content, kind string) []*model.Chunk {
	return append(out, &model.Chunk{
		Index:      len(out),
		Content:    content,
		Kind:       kind,
		TokenCount: c.counter.Count(content),
	})
}

// ChunkStructured emits one chunk per top-level declaration of source. When
// the language has no structured chunker, the parse fails or yields nothing,
// the source is cut into fixed line windows instead. Declarations and windows
// larger than budget are re-packed line by line; budget <= 0 keeps them whole.
func (c *Chunker) ChunkStructured(ctx context.Context, source, language string, budget int) []*model.Chunk {
	if strings.TrimSpace(source) == "" {
		return []*model.Chunk{}
	}
	if sc, ok := c.structured[language]; ok {
		nodes, err := parseSafely(sc, source)
		switch {
		case err != nil:
			logutil.GetLogger(ctx).Warn("structured chunking failed, using line windows",
				zap.String("language", language), zap.Error(err))
		case len(nodes) == 0:
			logutil.GetLogger(ctx).Debug("no top-level nodes, using line windows", zap.String("language", language))
		default:
			out := make([]*model.Chunk, 0, len(nodes))
			for _, n := range nodes {
				out = c.appendRange(out, n.Content, model.ChunkKindCodeNode, n.StartLine, n.EndLine, budget)
			}
			return out
		}
	}
	return c.lineWindows(source, budget)
}

// appendRange appends content spanning lines start..end as one chunk, or as
// several when it exceeds budget.
func (c *Chunker) appendRange(out []*model.Chunk, content, kind string, start, end, budget int) []*model.Chunk {
	if budget > 0 && c.counter.Count(content) > budget {
		return c.packRange(out, content, start, kind, budget)
	}
	out = c.appendChunk(out, content, kind)
	out[len(out)-1].StartLine = start
	out[len(out)-1].EndLine = end
	return out
}

// packRange packs the lines of content, the first of which is firstLine,
// into chunks of at most budget tokens. Indentation is kept; a line that is
// too large on its own is packed word by word.
func (c *Chunker) packRange(out []*model.Chunk, content string, firstLine int, kind string, budget int) []*model.Chunk {
	var (
		buf        []string
		start, end int
	)
	flush := func() {
		text := strings.Trim(strings.Join(buf, "\n"), "\n")
		if strings.TrimSpace(text) != "" {
			out = c.appendRange(out, text, kind, start, end, 0)
		}
		buf = buf[:0]
	}
	for i, line := range strings.Split(content, "\n") {
		lineNo := firstLine + i
		line = strings.TrimRight(line, " \t\r")
		if line == "" && len(buf) == 0 {
			continue
		}
		if c.counter.Count(line) > budget {
			flush()
			for _, piece := range c.packWords(nil, strings.Fields(line), budget) {
				out = c.appendRange(out, piece.Content, model.ChunkKindSentence, lineNo, lineNo, 0)
			}
			continue
		}
		if len(buf) > 0 && c.counter.Count(strings.Join(buf, "\n")+"\n"+line) > budget {
			flush()
			if line == "" {
				continue
			}
		}
		if len(buf) == 0 {
			start = lineNo
		}
		buf = append(buf, line)
		if line != "" {
			end = lineNo
		}
	}
	flush()
	return out
}

func parseSafely(sc StructuredChunker, source string) (nodes []Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			nodes = nil
			err = fmt.Errorf("%w: %v", ErrParse, r)
		}
	}()
	nodes, err = sc.Chunk(source)
	if err != nil && !errors.Is(err, ErrParse) {
		err = fmt.Errorf("%w: %w", ErrParse, err)
	}
	return nodes, err
}

func (c *Chunker) lineWindows(source string, budget int) []*model.Chunk {
	lines := splitLines(source)
	out := make([]*model.Chunk, 0, len(lines)/c.lineWindow+1)
	for start := 0; start < len(lines); start += c.lineWindow {
		end := start + c.lineWindow
		if end > len(lines) {
			end = len(lines)
		}
		content := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = c.appendRange(out, content, model.ChunkKindTextBlock, start+1, end, budget)
	}
	return out
}

func splitLines(source string) []string {
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineOf returns the 1-based line containing byte offset off.
func lineOf(source string, off int) int {
	if off > len(source) {
		off = len(source)
	}
	if off < 0 {
		off = 0
	}
	return strings.Count(source[:off], "\n") + 1
}
