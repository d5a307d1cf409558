package chunker

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

type goChunker struct{}

func (goChunker) Chunk(source string) ([]Node, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", source, parser.ParseComments)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(file.Decls))
	for _, decl := range file.Decls {
		start := decl.Pos()
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Doc != nil {
				start = d.Doc.Pos()
			}
		case *ast.GenDecl:
			if d.Doc != nil {
				start = d.Doc.Pos()
			}
		}
		from := fset.Position(start)
		to := fset.Position(decl.End())
		if from.Offset < 0 || to.Offset > len(source) || from.Offset >= to.Offset {
			continue
		}
		content := strings.TrimSpace(source[from.Offset:to.Offset])
		if content == "" {
			continue
		}
		nodes = append(nodes, Node{
			Content:   content,
			StartLine: from.Line,
			EndLine:   to.Line,
		})
	}
	return nodes, nil
}
