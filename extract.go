package weft

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/mlade/weft/internal/langs"
	"github.com/mlade/weft/internal/model"
)

// parseSource parses one file with the language's grammar.
func parseSource(ctx context.Context, lang *langs.Language, src []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	p.SetLanguage(lang.Grammar)
	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	return tree, nil
}

// extractEntities runs the language's entity query and assembles the protos
// in document order, parents before children. Kinds come from @tag.<kind>
// captures on the entity node, names from @name, doc comments from @doc.
func extractEntities(lang *langs.Language, root *sitter.Node, src []byte) []model.EntityProto {
	type raw struct {
		kind model.EntityKind
		name string
		span model.Span
		doc  *model.Span
	}
	var found []raw
	seen := make(map[model.Span]bool)

	qc := sitter.NewQueryCursor()
	qc.Exec(lang.Entities, root)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, src)
		var r raw
		for _, c := range m.Captures {
			capName := lang.Entities.CaptureNameForId(c.Index)
			switch {
			case strings.HasPrefix(capName, "tag."):
				r.kind = model.EntityKind(strings.TrimPrefix(capName, "tag."))
				r.span = spanOf(c.Node)
			case capName == "name":
				r.name = c.Node.Content(src)
			case capName == "doc":
				sp := spanOf(c.Node)
				r.doc = &sp
			}
		}
		if r.kind == "" || r.name == "" || seen[r.span] {
			continue
		}
		seen[r.span] = true
		found = append(found, r)
	}

	// Document order with enclosing entities first, so parent assignment is
	// a single stack pass.
	sort.Slice(found, func(i, j int) bool {
		if found[i].span.StartByte != found[j].span.StartByte {
			return found[i].span.StartByte < found[j].span.StartByte
		}
		return found[i].span.EndByte > found[j].span.EndByte
	})

	protos := make([]model.EntityProto, 0, len(found))
	var stack []int // indices of open ancestors
	for _, r := range found {
		for len(stack) > 0 && !protos[stack[len(stack)-1]].Span.Contains(r.span) {
			stack = stack[:len(stack)-1]
		}
		parent := -1
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}
		protos = append(protos, model.EntityProto{
			Parent:      parent,
			Name:        r.name,
			Kind:        r.kind,
			Span:        r.span,
			Doc:         r.doc,
			ContentHash: hashRange(src, r.span),
		})
		stack = append(stack, len(protos)-1)
	}
	return protos
}

func hashRange(src []byte, sp model.Span) string {
	start, end := int(sp.StartByte), int(sp.EndByte)
	if start > len(src) {
		start = len(src)
	}
	if end > len(src) {
		end = len(src)
	}
	return fmt.Sprintf("%x", sha1.Sum(src[start:end]))
}

func spanOf(n *sitter.Node) model.Span {
	return model.Span{
		StartByte: n.StartByte(),
		EndByte:   n.EndByte(),
		StartRow:  n.StartPoint().Row,
		StartCol:  n.StartPoint().Column,
		EndRow:    n.EndPoint().Row,
		EndCol:    n.EndPoint().Column,
	}
}
