package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type ElementType string

const (
	ElementText      ElementType = "text"
	ElementHeading   ElementType = "heading"
	ElementTable     ElementType = "table"
	ElementFigure    ElementType = "figure"
	ElementCaption   ElementType = "caption"
	ElementReference ElementType = "reference"
)

// Standalone reports whether the element is never merged with its neighbours.
func (t ElementType) Standalone() bool {
	return t == ElementTable || t == ElementFigure
}

// Element is one structured unit returned by the parser.
type Element struct {
	Type     ElementType
	Text     string
	Page     int
	Section  []string
	Position int
}

type Chunk struct {
	DocumentID  string
	Index       int
	Content     string
	ContentHash string
	Tenant      string
	ElementType ElementType
	PageNumber  int
	Section     string
	Vector      []float32
}

// chunkNamespace scopes UUIDv5 chunk identities; it must never change.
var chunkNamespace = uuid.MustParse("6f1c2e0a-3b7d-5c1e-9a44-1d2f3e4a5b6c")

// ChunkObjectID derives the storage identity of a chunk from its logical coordinates.
func ChunkObjectID(tenant, documentID string, index int) string {
	name := tenant + "/" + documentID + "/" + strconv.Itoa(index)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// ObjectID is the chunk's deterministic storage identity.
func (c *Chunk) ObjectID() string {
	return ChunkObjectID(c.Tenant, c.DocumentID, c.Index)
}

func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func JoinSection(path []string) string {
	return strings.Join(path, " > ")
}
