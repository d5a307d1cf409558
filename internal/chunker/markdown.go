package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type markdownChunker struct{}

// Chunk cuts a document into sections at its top-level H1/H2 headings.
// Text before the first heading forms its own section.
func (markdownChunker) Chunk(source string) ([]Node, error) {
	src := []byte(source)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var starts []int
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Level > 2 || heading.Lines().Len() == 0 {
			continue
		}
		starts = append(starts, lineOf(source, heading.Lines().At(0).Start))
	}
	if len(starts) == 0 {
		return nil, nil
	}
	lines := splitLines(source)
	if starts[0] > 1 {
		starts = append([]int{1}, starts...)
	}
	nodes := make([]Node, 0, len(starts))
	for i, startLine := range starts {
		endLine := len(lines)
		if i+1 < len(starts) {
			endLine = starts[i+1] - 1
		}
		for endLine > startLine && strings.TrimSpace(lines[endLine-1]) == "" {
			endLine--
		}
		if startLine > endLine || startLine > len(lines) {
			continue
		}
		content := strings.TrimSpace(strings.Join(lines[startLine-1:endLine], "\n"))
		if content == "" {
			continue
		}
		nodes = append(nodes, Node{
			Content:   content,
			StartLine: startLine,
			EndLine:   endLine,
		})
	}
	return nodes, nil
}
