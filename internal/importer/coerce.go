package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
)

var (
	dateLayouts = []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02/01/2006",
	}

	datetimeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.000000",
		"2006-01-02",
	}
)

// fieldIssue is a per-field finding produced while normalizing one row. The
// caller decides which pipeline stage it belongs to.
type fieldIssue struct {
	FieldPath    string
	Code         domain.IssueCode
	Severity     domain.IssueSeverity
	Message      string
	SuggestedFix string
}

// normalizeRow coerces one row of raw cell values against the template
// columns. Recognized columns are typed per their declared type; unrecognized
// columns pass through unchanged for forward compatibility. Findings are
// returned alongside the normalized map; the row is never rejected wholesale.
func normalizeRow(descriptor domain.TemplateDescriptor, values map[string]string) (map[string]any, []fieldIssue) {
	normalized := make(map[string]any, len(values))
	var issues []fieldIssue

	consumed := make(map[string]bool, len(values))
	for _, col := range descriptor.Columns {
		raw, header, present := lookupValue(values, col)
		if present {
			consumed[header] = true
		}

		if strings.TrimSpace(raw) == "" {
			if col.Required {
				issues = append(issues, fieldIssue{
					FieldPath:    col.Name,
					Code:         domain.IssueCodeMissingRequiredColumn,
					Severity:     domain.IssueSeverityError,
					Message:      fmt.Sprintf("required column %q has no value", col.Name),
					SuggestedFix: fmt.Sprintf("provide a value for %q", col.Name),
				})
				continue
			}
			if col.Nullable {
				continue
			}
			fallback, issue := emptyValueFallback(col)
			if issue != nil {
				issues = append(issues, *issue)
				// A WARNING still carries a usable fallback value; only an
				// ERROR leaves the column unset.
				if issue.Severity == domain.IssueSeverityError {
					continue
				}
			}
			if fallback != nil {
				normalized[col.Name] = fallback
			}
			continue
		}

		value, err := coerceValue(col, raw)
		if err != nil {
			issues = append(issues, fieldIssue{
				FieldPath:    col.Name,
				Code:         domain.IssueCodeInvalidFieldValue,
				Severity:     domain.IssueSeverityError,
				Message:      err.Error(),
				SuggestedFix: fmt.Sprintf("provide a valid %s value", col.Type),
			})
			continue
		}
		normalized[col.Name] = value
	}

	// Unrecognized columns pass through untouched.
	for header, raw := range values {
		if consumed[header] {
			continue
		}
		if _, known, _ := descriptor.Column(header); known {
			continue
		}
		normalized[header] = raw
	}

	return normalized, issues
}

// lookupValue fetches the raw cell for a column, accepting the foreign-key
// alias header of relation columns before declaring the value absent.
func lookupValue(values map[string]string, col domain.ColumnRule) (string, string, bool) {
	if raw, ok := values[col.Name]; ok {
		return raw, col.Name, true
	}
	if alias := col.AliasName(); alias != "" {
		if raw, ok := values[alias]; ok {
			return raw, alias, true
		}
	}
	return "", "", false
}

// emptyValueFallback resolves a non-nullable column with no raw value: the
// declared default wins, then the type's zero value. A column with neither is
// an error because a new record cannot be created without a usable value.
func emptyValueFallback(col domain.ColumnRule) (any, *fieldIssue) {
	if col.Default != nil {
		value, err := coerceValue(col, *col.Default)
		if err != nil {
			return nil, &fieldIssue{
				FieldPath: col.Name,
				Code:      domain.IssueCodeInvalidFieldValue,
				Severity:  domain.IssueSeverityError,
				Message:   fmt.Sprintf("declared default for %q is invalid: %v", col.Name, err),
			}
		}
		return value, nil
	}

	zero, ok := zeroValue(col.Type)
	if !ok {
		return nil, &fieldIssue{
			FieldPath:    col.Name,
			Code:         domain.IssueCodeInvalidFieldValue,
			Severity:     domain.IssueSeverityError,
			Message:      fmt.Sprintf("column %q forbids null and has no usable default", col.Name),
			SuggestedFix: fmt.Sprintf("provide a value for %q", col.Name),
		}
	}
	return zero, &fieldIssue{
		FieldPath: col.Name,
		Code:      domain.IssueCodeInvalidFieldValue,
		Severity:  domain.IssueSeverityWarning,
		Message:   fmt.Sprintf("column %q is empty, zero value applied", col.Name),
	}
}

func zeroValue(columnType domain.ColumnType) (any, bool) {
	switch columnType {
	case domain.ColumnTypeString:
		return "", true
	case domain.ColumnTypeInt:
		return int64(0), true
	case domain.ColumnTypeFloat:
		return float64(0), true
	case domain.ColumnTypeDecimal:
		return "0", true
	case domain.ColumnTypeBool:
		return false, true
	default:
		// Dates and relation ids have no meaningful zero.
		return nil, false
	}
}

func coerceValue(col domain.ColumnRule, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch col.Type {
	case domain.ColumnTypeString:
		return raw, nil
	case domain.ColumnTypeInt:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		// Allow float representations that convert losslessly to int.
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to int", raw)
	case domain.ColumnTypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to float", raw)
		}
		return f, nil
	case domain.ColumnTypeDecimal:
		// Decimals stay strings to avoid binary float drift; validate only.
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("unable to coerce %q to decimal", raw)
		}
		return raw, nil
	case domain.ColumnTypeBool:
		value := strings.ToLower(raw)
		switch value {
		case "1", "yes", "y":
			return true, nil
		case "0", "no", "n":
			return false, nil
		}
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to bool", raw)
		}
		return boolVal, nil
	case domain.ColumnTypeDate:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.Format("2006-01-02"), nil
			}
		}
		return nil, fmt.Errorf("unable to coerce %q to date", raw)
	case domain.ColumnTypeDatetime:
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("unable to coerce %q to datetime", raw)
	case domain.ColumnTypeRelation:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to a record id", raw)
		}
		return id.String(), nil
	default:
		// Unknown declared types keep the raw value, best effort.
		return raw, nil
	}
}

// formatKeyPart renders one normalized value for matching-key concatenation.
func formatKeyPart(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}
