package tokenizer

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"doc-ingest/internal/domain/ports/adapter"
)

const DefaultEncoding = "cl100k_base"

var (
	_ adapter.TokenCounter = (*Tiktoken)(nil)
	_ adapter.TokenCounter = WordCounter{}
)

type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// WordCounter approximates tokens as whitespace-separated words.
type WordCounter struct{}

func (WordCounter) Count(text string) int { return len(strings.Fields(text)) }

// New loads the BPE ranks for encoding. Loading may need network access the
// first time; when it fails the word counter is used instead.
func New(encoding string, logger *zerolog.Logger) adapter.TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn().Err(err).Str("encoding", encoding).Msg("tiktoken unavailable; falling back to word counts")
		return WordCounter{}
	}
	return &Tiktoken{enc: enc}
}
