package extract

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New().Parser()

// extractMarkdown renders Markdown to plain text: markup is dropped, link and
// emphasis text is kept, and each block ends with a blank line.
func extractMarkdown(content []byte) (string, error) {
	source, err := extractPlain(content)
	if err != nil {
		return "", err
	}
	src := []byte(source)
	doc := markdownParser.Parse(text.NewReader(src))

	var b strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteString("\n")
				return ast.WalkSkipChildren, nil
			}
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
			b.WriteString("\n\n")
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", errorf("Markdown", "%v", err)
	}
	return strings.TrimSpace(b.String()), nil
}
