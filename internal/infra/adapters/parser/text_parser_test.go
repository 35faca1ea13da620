package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
)

const sample = `# Intro
First paragraph line one
line two.

## Data
| name | value |
| --- | --- |
| a | 1 |
| b | 2 |
Table 1: values by name

![chart](chart.png)
` + "\f" + `# References
[1] Knuth, The Art of Computer Programming.

[2] Lamport, Time, Clocks.
`

func parse(t *testing.T, src string) []model.Element {
	t.Helper()
	doc := &model.Document{ID: "d1", Tenant: "acme", ContentType: "text/markdown", Source: []byte(src)}
	els, err := NewTextParser().Parse(context.Background(), doc)
	require.NoError(t, err)
	return els
}

func TestTextParser(t *testing.T) {
	els := parse(t, sample)

	var types []model.ElementType
	for _, e := range els {
		types = append(types, e.Type)
	}
	assert.Equal(t, []model.ElementType{
		model.ElementHeading,   // Intro
		model.ElementText,      // paragraph
		model.ElementHeading,   // Data
		model.ElementTable,     // rows
		model.ElementCaption,   // Table 1
		model.ElementFigure,    // image
		model.ElementHeading,   // References
		model.ElementReference, // [1]
		model.ElementReference, // [2]
	}, types)

	assert.Equal(t, "First paragraph line one line two.", els[1].Text)
	assert.Equal(t, []string{"Intro", "Data"}, els[3].Section)
	assert.Equal(t, "| name | value |\n| a | 1 |\n| b | 2 |", els[3].Text)
	assert.Equal(t, 1, els[5].Page)
	assert.Equal(t, 2, els[7].Page)
	assert.Equal(t, []string{"References"}, els[7].Section)

	for i, e := range els {
		assert.Equal(t, i, e.Position)
	}
}

func TestTextParserSectionNesting(t *testing.T) {
	els := parse(t, "# A\n## B\ntext b\n# C\ntext c\n")
	require.Len(t, els, 5)
	assert.Equal(t, []string{"A", "B"}, els[2].Section)
	assert.Equal(t, []string{"C"}, els[4].Section)
}

func TestTextParserReferencesEndAtNextSection(t *testing.T) {
	els := parse(t, "# References\n[1] a\n\n# Appendix\nbody\n")
	require.Len(t, els, 4)
	assert.Equal(t, model.ElementReference, els[1].Type)
	assert.Equal(t, model.ElementText, els[3].Type)
}

func TestTextParserRejectsUnsupportedInput(t *testing.T) {
	p := NewTextParser()
	_, err := p.Parse(context.Background(), &model.Document{ID: "d", ContentType: "application/pdf", Source: []byte("%PDF")})
	assert.Equal(t, domain.KindStructural, domain.KindOf(err))

	_, err = p.Parse(context.Background(), &model.Document{ID: "d", ContentType: "text/plain", Source: []byte{0xff, 0xfe, 0x00}})
	assert.Equal(t, domain.KindStructural, domain.KindOf(err))
}

func TestTextParserEmpty(t *testing.T) {
	assert.Empty(t, parse(t, "\n\n  \n"))
}
