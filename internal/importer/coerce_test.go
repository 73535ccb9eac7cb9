package importer

import (
	"testing"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
)

func testDescriptor() domain.TemplateDescriptor {
	defaultQty := "10"
	return domain.TemplateDescriptor{
		TemplateID:        "wagon-import",
		Version:           "3",
		EntityType:        "wagon",
		MatchingKeyFields: []string{"fleet", "number"},
		Columns: []domain.ColumnRule{
			{Name: "fleet", Type: domain.ColumnTypeString, Required: true},
			{Name: "number", Type: domain.ColumnTypeInt, Required: true},
			{Name: "capacity", Type: domain.ColumnTypeFloat, Nullable: true},
			{Name: "quantity", Type: domain.ColumnTypeInt, Default: &defaultQty},
			{Name: "in_service", Type: domain.ColumnTypeBool, Nullable: true},
			{Name: "commissioned", Type: domain.ColumnTypeDate, Nullable: true},
			{Name: "depot", Type: domain.ColumnTypeRelation, RelationType: "depot", Nullable: true},
			{Name: "grade", Type: domain.ColumnTypeString, AllowedValues: []string{"A", "B"}, Nullable: true},
		},
	}
}

func TestNormalizeRowCoercesDeclaredTypes(t *testing.T) {
	depotID := uuid.New()
	normalized, issues := normalizeRow(testDescriptor(), map[string]string{
		"fleet":        "north",
		"number":       "42",
		"capacity":     "12.5",
		"in_service":   "yes",
		"commissioned": "2024/03/01",
		"depot":        depotID.String(),
	})

	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
	if normalized["number"] != int64(42) {
		t.Fatalf("expected int64 42, got %#v", normalized["number"])
	}
	if normalized["capacity"] != 12.5 {
		t.Fatalf("expected float 12.5, got %#v", normalized["capacity"])
	}
	if normalized["in_service"] != true {
		t.Fatalf("expected yes to coerce to true, got %#v", normalized["in_service"])
	}
	if normalized["commissioned"] != "2024-03-01" {
		t.Fatalf("dates must normalize to ISO, got %#v", normalized["commissioned"])
	}
	if normalized["depot"] != depotID.String() {
		t.Fatalf("expected depot id passthrough, got %#v", normalized["depot"])
	}
	if normalized["quantity"] != int64(10) {
		t.Fatalf("expected declared default, got %#v", normalized["quantity"])
	}
}

func TestNormalizeRowMissingRequiredAndBadValues(t *testing.T) {
	normalized, issues := normalizeRow(testDescriptor(), map[string]string{
		"fleet":  "",
		"number": "not-a-number",
	})

	codes := map[string]domain.IssueCode{}
	for _, issue := range issues {
		codes[issue.FieldPath] = issue.Code
	}
	if codes["fleet"] != domain.IssueCodeMissingRequiredColumn {
		t.Fatalf("expected MISSING_REQUIRED_COLUMN for fleet, got %+v", issues)
	}
	if codes["number"] != domain.IssueCodeInvalidFieldValue {
		t.Fatalf("expected INVALID_FIELD_VALUE for number, got %+v", issues)
	}
	if _, ok := normalized["number"]; ok {
		t.Fatalf("uncoercible values must not appear in normalized output")
	}
}

func TestNormalizeRowZeroValueFallbackWarns(t *testing.T) {
	descriptor := domain.TemplateDescriptor{
		Columns: []domain.ColumnRule{
			{Name: "notes", Type: domain.ColumnTypeString},
		},
	}
	normalized, issues := normalizeRow(descriptor, map[string]string{"notes": ""})

	if normalized["notes"] != "" {
		t.Fatalf("expected zero value for empty non-nullable string, got %#v", normalized["notes"])
	}
	if len(issues) != 1 || issues[0].Severity != domain.IssueSeverityWarning {
		t.Fatalf("zero fallback must raise a warning, got %+v", issues)
	}
}

func TestNormalizeRowAcceptsRelationAlias(t *testing.T) {
	depotID := uuid.New()
	normalized, issues := normalizeRow(testDescriptor(), map[string]string{
		"fleet":    "north",
		"number":   "7",
		"depot_id": depotID.String(),
	})

	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
	if normalized["depot"] != depotID.String() {
		t.Fatalf("alias header must feed the relation column, got %#v", normalized)
	}
	if _, ok := normalized["depot_id"]; ok {
		t.Fatalf("alias header must not leak as a passthrough value")
	}
}

func TestNormalizeRowPassesUnknownColumnsThrough(t *testing.T) {
	normalized, issues := normalizeRow(testDescriptor(), map[string]string{
		"fleet":  "north",
		"number": "7",
		"extra":  "kept",
	})
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
	if normalized["extra"] != "kept" {
		t.Fatalf("unknown columns must pass through raw, got %#v", normalized["extra"])
	}
}
