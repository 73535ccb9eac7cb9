package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record represents one row in the target entity store. Fields live in a
// dynamic property map keyed by column name.
type Record struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewRecord creates a record with a fresh identity.
func NewRecord(entityType string, properties map[string]any) Record {
	now := time.Now()
	return Record{
		ID:         uuid.New(),
		EntityType: entityType,
		Properties: copyProperties(properties),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WithProperties returns a copy of the record carrying the merged property
// map.
func (r Record) WithProperties(properties map[string]any) Record {
	merged := copyProperties(r.Properties)
	for k, v := range properties {
		merged[k] = v
	}
	r.Properties = merged
	r.UpdatedAt = time.Now()
	return r
}

// PropertiesJSON returns the property map for JSONB storage.
func (r Record) PropertiesJSON() (json.RawMessage, error) {
	if r.Properties == nil {
		return json.Marshal(map[string]any{})
	}
	return json.Marshal(r.Properties)
}

// PropertiesFromJSON decodes a property map stored as JSONB.
func PropertiesFromJSON(raw json.RawMessage) (map[string]any, error) {
	var properties map[string]any
	err := json.Unmarshal(raw, &properties)
	return properties, err
}

func copyProperties(properties map[string]any) map[string]any {
	copied := make(map[string]any, len(properties))
	for k, v := range properties {
		copied[k] = v
	}
	return copied
}
