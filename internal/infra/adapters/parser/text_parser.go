package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
	"doc-ingest/internal/domain/ports/adapter"
)

var _ adapter.Parser = (*TextParser)(nil)

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	captionRe = regexp.MustCompile(`(?i)^(figure|fig\.|table)\s+\d+[.:]`)
	figureRe  = regexp.MustCompile(`^!\[[^\]]*\]\([^)]*\)`)
	tableSep  = regexp.MustCompile(`^\|?\s*:?-{3,}`)
)

// TextParser handles plain text and markdown. A form feed starts a new page,
// '#' headings open sections, '|' rows form tables, image links are figures and
// everything under a "References" heading is typed reference.
type TextParser struct{}

func NewTextParser() *TextParser { return &TextParser{} }

var supported = map[string]bool{
	"":                true,
	"text/plain":      true,
	"text/markdown":   true,
	"text/x-markdown": true,
}

func (p *TextParser) Parse(ctx context.Context, doc *model.Document) ([]model.Element, error) {
	ct := strings.TrimSpace(strings.SplitN(doc.ContentType, ";", 2)[0])
	if !supported[ct] {
		return nil, domain.Structural("parse", fmt.Errorf("unsupported content type %q", doc.ContentType))
	}
	if !utf8.Valid(doc.Source) {
		return nil, domain.Structural("parse", fmt.Errorf("document %s is not valid UTF-8", doc.ID))
	}

	st := &parseState{page: 1}
	text := strings.ReplaceAll(string(doc.Source), "\r\n", "\n")
	for pi, page := range strings.Split(text, "\f") {
		if err := ctx.Err(); err != nil {
			return nil, domain.Transient("parse", err)
		}
		st.flush()
		st.page = pi + 1
		for _, line := range strings.Split(page, "\n") {
			st.line(line)
		}
	}
	st.flush()
	return st.out, nil
}

type parseState struct {
	out      []model.Element
	page     int
	section  []string
	levels   []int
	refLevel int // heading level of an open References section, 0 when none
	para     []string
	table    []string
}

func (s *parseState) emit(t model.ElementType, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if s.refLevel > 0 && t == model.ElementText {
		t = model.ElementReference
	}
	s.out = append(s.out, model.Element{
		Type:     t,
		Text:     text,
		Page:     s.page,
		Section:  append([]string(nil), s.section...),
		Position: len(s.out),
	})
}

func (s *parseState) flush() {
	if len(s.para) > 0 {
		s.emit(model.ElementText, strings.Join(s.para, " "))
		s.para = nil
	}
	if len(s.table) > 0 {
		s.emit(model.ElementTable, strings.Join(s.table, "\n"))
		s.table = nil
	}
}

func (s *parseState) line(raw string) {
	line := strings.TrimSpace(raw)
	switch {
	case line == "":
		s.flush()
	case strings.HasPrefix(line, "|"):
		if len(s.para) > 0 {
			s.emit(model.ElementText, strings.Join(s.para, " "))
			s.para = nil
		}
		if !tableSep.MatchString(line) {
			s.table = append(s.table, line)
		}
	case headingRe.MatchString(line):
		s.flush()
		m := headingRe.FindStringSubmatch(line)
		s.heading(len(m[1]), m[2])
	case figureRe.MatchString(line):
		s.flush()
		s.emit(model.ElementFigure, line)
	case captionRe.MatchString(line):
		s.flush()
		s.emit(model.ElementCaption, line)
	default:
		if len(s.table) > 0 {
			s.flush()
		}
		s.para = append(s.para, line)
	}
}

func (s *parseState) heading(level int, title string) {
	for len(s.levels) > 0 && s.levels[len(s.levels)-1] >= level {
		s.levels = s.levels[:len(s.levels)-1]
		s.section = s.section[:len(s.section)-1]
	}
	if s.refLevel > 0 && level <= s.refLevel {
		s.refLevel = 0
	}
	s.levels = append(s.levels, level)
	s.section = append(s.section, title)
	if isReferencesTitle(title) {
		s.refLevel = level
	}
	s.out = append(s.out, model.Element{
		Type:     model.ElementHeading,
		Text:     title,
		Page:     s.page,
		Section:  append([]string(nil), s.section...),
		Position: len(s.out),
	})
}

func isReferencesTitle(title string) bool {
	switch strings.ToLower(strings.TrimSpace(title)) {
	case "references", "bibliography", "works cited", "sources":
		return true
	}
	return false
}
