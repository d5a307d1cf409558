package chunker

import (
	"strings"

	"github.com/dop251/goja/parser"
)

type jsChunker struct{}

// goja positions are 1-based byte offsets when parsed without a file set.
func (jsChunker) Chunk(source string) ([]Node, error) {
	program, err := parser.ParseFile(nil, "", source, 0)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(program.Body))
	for _, stmt := range program.Body {
		start := int(stmt.Idx0()) - 1
		end := int(stmt.Idx1()) - 1
		if start < 0 {
			start = 0
		}
		if end > len(source) {
			end = len(source)
		}
		if start >= end {
			continue
		}
		raw := source[start:end]
		content := strings.TrimSpace(raw)
		if content == "" || content == ";" {
			continue
		}
		lead := len(raw) - len(strings.TrimLeft(raw, " \t\r\n"))
		nodes = append(nodes, Node{
			Content:   content,
			StartLine: lineOf(source, start+lead),
			EndLine:   lineOf(source, start+lead+len(content)-1),
		})
	}
	return nodes, nil
}
