package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"doc-ingest/internal/domain"
	"doc-ingest/internal/domain/model"
)

// JobConfig is the typed view of a job's config column. Zero values mean
// "use the worker default".
type JobConfig struct {
	ChunkTokens    int   `json:"chunk_tokens,omitempty"`
	EmbedBatchSize int   `json:"embed_batch_size,omitempty"`
	Pages          []int `json:"pages,omitempty"`
}

const embedConfigSchema = `{
  "type": "object",
  "properties": {
    "chunk_tokens":     {"type": "integer", "minimum": 16, "maximum": 8192},
    "embed_batch_size": {"type": "integer", "minimum": 1, "maximum": 2048}
  },
  "additionalProperties": false
}`

const extractTablesSchema = `{
  "type": "object",
  "properties": {
    "pages": {"type": "array", "items": {"type": "integer", "minimum": 1}, "uniqueItems": true}
  },
  "additionalProperties": false
}`

var configSchemaSources = map[model.JobType]string{
	model.JobTypeEmbedDocument:   embedConfigSchema,
	model.JobTypeReembedDocument: embedConfigSchema,
	model.JobTypeExtractTables:   extractTablesSchema,
}

// ConfigValidator checks a job's config against the schema for its type.
type ConfigValidator struct {
	schemas map[model.JobType]*jsonschema.Schema
}

func NewConfigValidator() (*ConfigValidator, error) {
	v := &ConfigValidator{schemas: map[model.JobType]*jsonschema.Schema{}}
	for jt, src := range configSchemaSources {
		name := fmt.Sprintf("%s.json", jt)
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader([]byte(src))); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[jt] = sch
	}
	return v, nil
}

func (v *ConfigValidator) Validate(jt model.JobType, raw json.RawMessage) error {
	sch, ok := v.schemas[jt]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownJobType, jt)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidJobConfig, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidJobConfig, err)
	}
	return nil
}

// ParseJobConfig decodes an already validated config.
func ParseJobConfig(raw json.RawMessage) (JobConfig, error) {
	var c JobConfig
	if len(bytes.TrimSpace(raw)) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%w: %v", domain.ErrInvalidJobConfig, err)
	}
	return c, nil
}
