// Package validator checks normalized row values against template column
// rules. Validators are stateless; every function takes its full input
// explicitly.
package validator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
)

// Finding is one validation result for a field.
type Finding struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Result aggregates findings for one row.
type Result struct {
	IsValid  bool      `json:"is_valid"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

// ColumnValidator validates coerced values against column rules. Coercion
// already owns requiredness and type conversion; this validator guards the
// normalized output: value/type agreement and allowed-value membership.
type ColumnValidator struct{}

// NewColumnValidator creates a validator.
func NewColumnValidator() *ColumnValidator {
	return &ColumnValidator{}
}

// ValidateValues checks each normalized value that has a matching column
// rule. Values without a rule pass through untouched.
func (v *ColumnValidator) ValidateValues(values map[string]any, columns []domain.ColumnRule) Result {
	result := Result{
		IsValid:  true,
		Errors:   []Finding{},
		Warnings: []Finding{},
	}

	for _, col := range columns {
		value, exists := values[col.Name]
		if !exists || value == nil {
			continue
		}

		if err := validateValueType(col, value); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, Finding{
				Field:   col.Name,
				Message: err.Error(),
				Value:   value,
			})
			continue
		}

		if err := validateAllowedValues(col, value); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, Finding{
				Field:   col.Name,
				Message: err.Error(),
				Value:   value,
			})
		}
	}

	return result
}

func validateValueType(col domain.ColumnRule, value any) error {
	switch col.Type {
	case domain.ColumnTypeString, domain.ColumnTypeDecimal:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string, got %T", col.Name, value)
		}
	case domain.ColumnTypeInt:
		if !isInteger(value) {
			return fmt.Errorf("field %q must be an integer, got %T", col.Name, value)
		}
	case domain.ColumnTypeFloat:
		if !isNumeric(value) {
			return fmt.Errorf("field %q must be a number, got %T", col.Name, value)
		}
	case domain.ColumnTypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean, got %T", col.Name, value)
		}
	case domain.ColumnTypeDate:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a date string, got %T", col.Name, value)
		}
		if _, err := time.Parse("2006-01-02", str); err != nil {
			return fmt.Errorf("field %q must be a date (YYYY-MM-DD): %v", col.Name, err)
		}
	case domain.ColumnTypeDatetime:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a timestamp string, got %T", col.Name, value)
		}
		if _, err := time.Parse(time.RFC3339, str); err != nil {
			return fmt.Errorf("field %q must be a timestamp (RFC3339): %v", col.Name, err)
		}
	case domain.ColumnTypeRelation:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a record id string, got %T", col.Name, value)
		}
		if _, err := uuid.Parse(str); err != nil {
			return fmt.Errorf("field %q must be a valid record id: %v", col.Name, err)
		}
	}
	return nil
}

func validateAllowedValues(col domain.ColumnRule, value any) error {
	if len(col.AllowedValues) == 0 {
		return nil
	}
	rendered := renderValue(value)
	for _, allowed := range col.AllowedValues {
		if rendered == allowed {
			return nil
		}
	}
	return fmt.Errorf("field %q value %q is not one of the allowed values", col.Name, rendered)
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == float64(int64(v))
	default:
		return false
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func renderValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
