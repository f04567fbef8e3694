// Package memory is the two-tier memory layer: a cache for hot reads and
// a vector store for durable similarity search. All writes flow through
// the Manager so deduplication and cache invalidation stay consistent.
package memory

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/agentflow/agentflow/internal/errkind"
)

// MaxContentBytes is the per-record content ceiling.
// MaxMetadataValueBytes caps each metadata field's encoded value.
const (
	MaxContentBytes       = 64 << 10
	MaxMetadataValueBytes = 64 << 10
)

// Collection names known to the platform
const (
	CollectionInvoices     = "invoices"
	CollectionSocialPosts  = "social_posts"
	CollectionAdReports    = "ad_reports"
	CollectionAgentContext = "agent_context"
)

// Collection describes a named memory collection and its metadata contract
type Collection struct {
	Name           string
	Description    string
	Dimensions     int
	metadataSchema *gojsonschema.Schema
}

// ValidateMetadata checks metadata against the collection's schema and
// rejects fields whose encoded value exceeds MaxMetadataValueBytes
func (c *Collection) ValidateMetadata(metadata map[string]interface{}) error {
	for field, value := range metadata {
		encoded, err := json.Marshal(value)
		if err != nil {
			return errkind.Wrap(errkind.SchemaViolation, "memory.ValidateMetadata", err)
		}
		if len(encoded) > MaxMetadataValueBytes {
			return errkind.Newf(errkind.SchemaViolation, "memory.ValidateMetadata",
				"metadata field %s for collection %s exceeds %d bytes", field, c.Name, MaxMetadataValueBytes)
		}
	}
	if c.metadataSchema == nil {
		return nil
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	result, err := c.metadataSchema.Validate(gojsonschema.NewGoLoader(metadata))
	if err != nil {
		return errkind.Wrap(errkind.Internal, "memory.ValidateMetadata", err)
	}
	if !result.Valid() {
		msg := ""
		for i, e := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += e.String()
		}
		return errkind.Newf(errkind.SchemaViolation, "memory.ValidateMetadata",
			"metadata for collection %s: %s", c.Name, msg)
	}
	return nil
}

// Registry holds the known collections
type Registry struct {
	collections map[string]*Collection
}

// NewRegistry builds the registry with the four platform collections
func NewRegistry() (*Registry, error) {
	r := &Registry{collections: make(map[string]*Collection)}

	specs := []struct {
		name, description string
		schema            string
	}{
		{
			name:        CollectionInvoices,
			description: "Supplier invoices and their match outcomes",
			schema: `{
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"vendor": {"type": "string"},
					"amount": {"type": "number", "minimum": 0},
					"invoice_date": {"type": "string"},
					"currency": {"type": "string"},
					"matched": {"type": "boolean"},
					"match_status": {"type": "string", "enum": ["auto_match", "human_review", "no_match"]},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["vendor", "amount"]
			}`,
		},
		{
			name:        CollectionSocialPosts,
			description: "Published and candidate social captions",
			schema: `{
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"platform": {"type": "string", "enum": ["facebook", "instagram"]},
					"language": {"type": "string"},
					"brand": {"type": "string"},
					"quality_score": {"type": "number", "minimum": 0, "maximum": 1},
					"published": {"type": "boolean"}
				},
				"required": ["platform"]
			}`,
		},
		{
			name:        CollectionAdReports,
			description: "Daily advertising performance summaries",
			schema: `{
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"platform": {"type": "string"},
					"report_date": {"type": "string"},
					"spend": {"type": "number", "minimum": 0},
					"impressions": {"type": "integer", "minimum": 0},
					"clicks": {"type": "integer", "minimum": 0}
				},
				"required": ["platform", "report_date"]
			}`,
		},
		{
			name:        CollectionAgentContext,
			description: "Long-lived agent working context keyed by session",
			schema: `{
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"session_id": {"type": "string"},
					"agent_name": {"type": "string"},
					"context_type": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"transaction_id": {"type": "string"},
					"topic": {"type": "string"}
				},
				"required": ["session_id"]
			}`,
		},
	}

	for _, spec := range specs {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(spec.schema))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", spec.name, err)
		}
		r.collections[spec.name] = &Collection{
			Name:           spec.name,
			Description:    spec.description,
			Dimensions:     1536,
			metadataSchema: schema,
		}
	}
	return r, nil
}

// Get returns a collection by name
func (r *Registry) Get(name string) (*Collection, error) {
	c, ok := r.collections[name]
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "memory.Registry.Get", "unknown collection %s", name)
	}
	return c, nil
}

// Names returns all collection names in stable order
func (r *Registry) Names() []string {
	return []string{CollectionInvoices, CollectionSocialPosts, CollectionAdReports, CollectionAgentContext}
}
