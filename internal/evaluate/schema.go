package evaluate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed metadata_eval.schema.json
var metadataEvalSchemaJSON string

//go:embed content_eval.schema.json
var contentEvalSchemaJSON string

// MetadataEvaluation is the structured output of the cheap first-stage
// evaluation, made from URL, title, and domain alone.
type MetadataEvaluation struct {
	IsRelevant              bool     `json:"isRelevant"`
	Confidence              float64  `json:"confidence"`
	Reasoning               string   `json:"reasoning"`
	SuggestedTopicDomains   []string `json:"suggestedTopicDomains,omitempty"`
	PreliminaryDocumentType string   `json:"preliminaryDocumentType,omitempty"`
}

// ContentEvaluation is the structured output of the second-stage evaluation,
// made from the fetched document text.
type ContentEvaluation struct {
	IsHighQuality  bool     `json:"isHighQuality"`
	Confidence     float64  `json:"confidence"`
	DocumentType   string   `json:"documentType"`
	TopicDomains   []string `json:"topicDomains"`
	AuthorityLevel string   `json:"authorityLevel"`
	Priority       string   `json:"priority"`
	Description    string   `json:"description"`
	KeyTopics      []string `json:"keyTopics,omitempty"`
	NGBID          *string  `json:"ngbId,omitempty"`
}

var (
	metadataOnce      sync.Once
	metadataSchema    *jsonschema.Schema
	metadataSchemaErr error

	contentOnce      sync.Once
	contentSchema    *jsonschema.Schema
	contentSchemaErr error
)

// ParseMetadataEvaluation validates a model response against the metadata
// schema. A response that fails decoding or validation yields the
// conservative default (not relevant, confidence 0) with ok=false; parse
// problems never propagate as errors.
func ParseMetadataEvaluation(response string) (MetadataEvaluation, bool) {
	fallback := MetadataEvaluation{
		IsRelevant: false,
		Confidence: 0,
		Reasoning:  "response failed schema validation",
	}

	schema, err := loadMetadataSchema()
	if err != nil {
		return fallback, false
	}

	value, err := decodeStrictJSON([]byte(stripCodeFence(response)))
	if err != nil {
		return fallback, false
	}
	if err := schema.Validate(value); err != nil {
		return fallback, false
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fallback, false
	}
	var eval MetadataEvaluation
	if err := json.Unmarshal(normalized, &eval); err != nil {
		return fallback, false
	}
	return eval, true
}

// ParseContentEvaluation validates a model response against the content
// schema, with the same conservative-default contract as
// ParseMetadataEvaluation.
func ParseContentEvaluation(response string) (ContentEvaluation, bool) {
	fallback := ContentEvaluation{
		IsHighQuality:  false,
		Confidence:     0,
		AuthorityLevel: "unknown",
		Priority:       "low",
	}

	schema, err := loadContentSchema()
	if err != nil {
		return fallback, false
	}

	value, err := decodeStrictJSON([]byte(stripCodeFence(response)))
	if err != nil {
		return fallback, false
	}
	if err := schema.Validate(value); err != nil {
		return fallback, false
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fallback, false
	}
	var eval ContentEvaluation
	if err := json.Unmarshal(normalized, &eval); err != nil {
		return fallback, false
	}
	return eval, true
}

func loadMetadataSchema() (*jsonschema.Schema, error) {
	metadataOnce.Do(func() {
		metadataSchema, metadataSchemaErr = compileSchema("metadata_eval.schema.json", metadataEvalSchemaJSON)
	})
	return metadataSchema, metadataSchemaErr
}

func loadContentSchema() (*jsonschema.Schema, error) {
	contentOnce.Do(func() {
		contentSchema, contentSchemaErr = compileSchema("content_eval.schema.json", contentEvalSchemaJSON)
	})
	return contentSchema, contentSchemaErr
}

func compileSchema(name, source string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("response is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("response contains trailing content")
	}
	return value, nil
}

// stripCodeFence unwraps a ```json fenced block when the model ignores the
// json-only instruction.
func stripCodeFence(response string) string {
	trimmed := strings.TrimSpace(response)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
