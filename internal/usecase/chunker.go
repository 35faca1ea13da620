package usecase

import (
	"sort"
	"strings"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/adapter"
)

// Chunker packs parsed elements into token-bounded chunks. Every element with
// text lands in exactly one chunk, and indices run 0..N-1 over the whole document.
type Chunker struct {
	tokens adapter.TokenCounter
}

func NewChunker(tokens adapter.TokenCounter) *Chunker {
	return &Chunker{tokens: tokens}
}

type chunkBuf struct {
	parts   []string
	tokens  int
	typ     model.ElementType
	page    int
	section string
}

func (c *Chunker) Chunk(documentID, tenant string, elements []model.Element, maxTokens int) ([]model.Chunk, error) {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	els := append([]model.Element(nil), elements...)
	sort.SliceStable(els, func(i, j int) bool { return els[i].Position < els[j].Position })

	var out []model.Chunk
	var cur *chunkBuf
	emit := func(b *chunkBuf) {
		if b == nil || len(b.parts) == 0 {
			return
		}
		content := strings.Join(b.parts, "\n\n")
		out = append(out, model.Chunk{
			DocumentID:  documentID,
			Tenant:      tenant,
			Index:       len(out),
			Content:     content,
			ContentHash: model.HashContent(content),
			ElementType: b.typ,
			PageNumber:  b.page,
			Section:     b.section,
		})
	}
	flush := func() {
		emit(cur)
		cur = nil
	}

	for _, el := range els {
		text := strings.TrimSpace(el.Text)
		if text == "" {
			continue
		}
		section := model.JoinSection(el.Section)
		typ := el.Type
		if typ == model.ElementHeading {
			typ = model.ElementText
		}

		if el.Type.Standalone() {
			flush()
			emit(&chunkBuf{parts: []string{text}, typ: el.Type, page: el.Page, section: section})
			continue
		}
		if el.Type == model.ElementHeading || (cur != nil && (cur.section != section || cur.typ != typ)) {
			flush()
		}

		for _, piece := range c.split(text, maxTokens) {
			n := c.tokens.Count(piece)
			if cur != nil && cur.tokens+n > maxTokens {
				flush()
			}
			if cur == nil {
				cur = &chunkBuf{typ: typ, page: el.Page, section: section}
			}
			cur.parts = append(cur.parts, piece)
			cur.tokens += n
		}
	}
	flush()

	if len(out) == 0 {
		return nil, domain.Structural("chunk document", domain.ErrNoContent)
	}
	return out, nil
}

// split breaks text that alone exceeds maxTokens at word boundaries.
func (c *Chunker) split(text string, maxTokens int) []string {
	if c.tokens.Count(text) <= maxTokens {
		return []string{text}
	}
	var pieces []string
	var words []string
	budget := 0
	for _, w := range strings.Fields(text) {
		n := c.tokens.Count(w)
		if n == 0 {
			n = 1
		}
		if budget+n > maxTokens && len(words) > 0 {
			pieces = append(pieces, strings.Join(words, " "))
			words, budget = nil, 0
		}
		words = append(words, w)
		budget += n
	}
	if len(words) > 0 {
		pieces = append(pieces, strings.Join(words, " "))
	}
	return pieces
}
