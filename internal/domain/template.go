package domain

import (
	"encoding/json"
	"strings"
)

// ColumnType is the declared type of a template column.
type ColumnType string

const (
	ColumnTypeString   ColumnType = "string"
	ColumnTypeInt      ColumnType = "int"
	ColumnTypeFloat    ColumnType = "float"
	ColumnTypeDecimal  ColumnType = "decimal"
	ColumnTypeBool     ColumnType = "bool"
	ColumnTypeDate     ColumnType = "date"
	ColumnTypeDatetime ColumnType = "datetime"
	ColumnTypeRelation ColumnType = "relation"
)

// ColumnRule declares how one template column is parsed and validated.
type ColumnRule struct {
	Name          string     `json:"name"`
	Type          ColumnType `json:"type"`
	Required      bool       `json:"required"`
	Nullable      bool       `json:"nullable"`
	Default       *string    `json:"default,omitempty"`
	AllowedValues []string   `json:"allowedValues,omitempty"`
	PrimaryKey    bool       `json:"primaryKey,omitempty"`
	// RelationType names the target entity type for relation columns.
	RelationType string `json:"relationType,omitempty"`
}

// AliasName returns the foreign-key alias header accepted for relation
// columns, e.g. "supplier_id" for a relation column named "supplier".
func (c ColumnRule) AliasName() string {
	if c.Type != ColumnTypeRelation {
		return ""
	}
	if strings.HasSuffix(c.Name, "_id") {
		return ""
	}
	return c.Name + "_id"
}

// TemplateDescriptor pins the column rules, matching-key configuration and
// upload limits an import batch is governed by. It is produced by the
// template resolver and treated as opaque configuration by the pipeline.
type TemplateDescriptor struct {
	TemplateID        string       `json:"template_id"`
	Version           string       `json:"version"`
	EntityType        string       `json:"entity_type"`
	MatchingKeyFields []string     `json:"matching_key_fields"`
	Columns           []ColumnRule `json:"columns"`
	AcceptedFormats   []FileFormat `json:"accepted_formats"`
	MaxRows           int          `json:"max_rows"`
	MaxFileSizeBytes  int64        `json:"max_file_size_bytes"`
	DownloadURL       string       `json:"download_url,omitempty"`
}

// Column looks up a rule by header name, also accepting the foreign-key
// alias of relation columns. The second return reports whether the header
// matched the alias rather than the declared name.
func (d TemplateDescriptor) Column(name string) (ColumnRule, bool, bool) {
	for _, col := range d.Columns {
		if col.Name == name {
			return col, true, false
		}
	}
	for _, col := range d.Columns {
		if alias := col.AliasName(); alias != "" && alias == name {
			return col, true, true
		}
	}
	return ColumnRule{}, false, false
}

// RequiredColumns returns the rules a payload must satisfy, in declaration
// order.
func (d TemplateDescriptor) RequiredColumns() []ColumnRule {
	required := make([]ColumnRule, 0, len(d.Columns))
	for _, col := range d.Columns {
		if col.Required {
			required = append(required, col)
		}
	}
	return required
}

// AcceptsFormat reports whether the template allows the upload format.
func (d TemplateDescriptor) AcceptsFormat(format FileFormat) bool {
	if len(d.AcceptedFormats) == 0 {
		return true
	}
	for _, accepted := range d.AcceptedFormats {
		if accepted == format {
			return true
		}
	}
	return false
}

// ColumnsJSON returns the column rules for JSONB storage.
func (d TemplateDescriptor) ColumnsJSON() (json.RawMessage, error) {
	return json.Marshal(d.Columns)
}

// ColumnsFromJSON decodes column rules stored as JSONB.
func ColumnsFromJSON(raw json.RawMessage) ([]ColumnRule, error) {
	var columns []ColumnRule
	err := json.Unmarshal(raw, &columns)
	return columns, err
}
