package importer

import (
	"context"
	"fmt"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"
	"github.com/raillogistic/bulkimport/pkg/validator"

	"github.com/google/uuid"
)

// DatasetValidator re-validates staged rows after edits. The full pass
// replaces the coercion and VALIDATE stage issues for the whole batch and
// detects duplicate matching keys; the incremental pass replaces coercion
// issues for the given rows only and leaves batch status untouched.
type DatasetValidator struct {
	batches repository.BatchRepository
	rows    repository.RowRepository
	issues  repository.IssueRepository
	records repository.RecordRepository
	checker *validator.ColumnValidator
}

// NewDatasetValidator creates a validator over the given repositories.
func NewDatasetValidator(batches repository.BatchRepository, rows repository.RowRepository, issues repository.IssueRepository, records repository.RecordRepository) *DatasetValidator {
	return &DatasetValidator{
		batches: batches,
		rows:    rows,
		issues:  issues,
		records: records,
		checker: validator.NewColumnValidator(),
	}
}

// Validate reruns coercion, key resolution and batch-level checks. Passing
// no row numbers validates the full dataset.
func (v *DatasetValidator) Validate(ctx context.Context, batch domain.ImportBatch, descriptor domain.TemplateDescriptor, rowNumbers []int) ([]domain.ImportIssue, error) {
	full := len(rowNumbers) == 0

	var (
		rows []domain.ImportRow
		err  error
	)
	if full {
		rows, err = v.rows.ListByBatch(ctx, batch.ID)
	} else {
		rows, err = v.rows.ListByNumbers(ctx, batch.ID, rowNumbers)
	}
	if err != nil {
		return nil, err
	}

	issues := []domain.ImportIssue{}
	for i := range rows {
		row := &rows[i]

		normalized, fieldIssues := normalizeRow(descriptor, row.EditedValues)
		row.NormalizedValues = normalized

		// Edits can change key fields, so the CREATE/UPDATE target is
		// re-resolved from scratch.
		matchingKey, action, targetID, resolveErr := resolveRowTarget(ctx, v.records, descriptor, normalized)
		if resolveErr != nil {
			return nil, fmt.Errorf("failed to resolve target for row %d: %w", row.RowNumber, resolveErr)
		}
		row.MatchingKey = matchingKey
		row.Action = action
		row.TargetRecordID = targetID

		for _, finding := range fieldIssues {
			issue := domain.NewRowIssue(batch.ID, row.RowNumber, finding.FieldPath, finding.Code, finding.Severity, domain.IssueStageEdit, finding.Message)
			if finding.SuggestedFix != "" {
				issue = issue.WithSuggestedFix(finding.SuggestedFix)
			}
			issues = append(issues, issue)
		}

		if full {
			result := v.checker.ValidateValues(normalized, descriptor.Columns)
			for _, finding := range result.Errors {
				issues = append(issues, domain.NewRowIssue(batch.ID, row.RowNumber, finding.Field,
					domain.IssueCodeInvalidFieldValue, domain.IssueSeverityError, domain.IssueStageValidate, finding.Message))
			}
			for _, finding := range result.Warnings {
				issues = append(issues, domain.NewRowIssue(batch.ID, row.RowNumber, finding.Field,
					domain.IssueCodeInvalidFieldValue, domain.IssueSeverityWarning, domain.IssueStageValidate, finding.Message))
			}
		}
	}

	if full {
		issues = append(issues, duplicateKeyIssues(batch.ID, rows)...)
	}

	// Re-coercion subsumes the PARSE findings of the rows it re-examined, so
	// those are replaced too; otherwise an edited row could never recover.
	if full {
		err = v.issues.ReplaceStages(ctx, batch.ID,
			[]domain.IssueStage{domain.IssueStageParse, domain.IssueStageEdit, domain.IssueStageValidate}, issues)
	} else {
		err = v.issues.ReplaceStagesForRows(ctx, batch.ID,
			[]domain.IssueStage{domain.IssueStageParse, domain.IssueStageEdit}, rowNumbers, issues)
	}
	if err != nil {
		return nil, err
	}

	errorCounts, err := v.issues.ErrorCountsByRow(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		row := &rows[i]
		row.IssueCount = errorCounts[row.RowNumber]
		if row.IssueCount > 0 {
			row.Status = domain.RowStatusInvalid
		} else {
			row.Status = domain.RowStatusValid
		}
		if updateErr := v.rows.Update(ctx, *row); updateErr != nil {
			return nil, updateErr
		}
	}

	counters, err := v.rows.Counters(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if err := v.batches.UpdateCounters(ctx, batch.ID, counters); err != nil {
		return nil, err
	}

	if full {
		status := domain.BatchStatusValidated
		if counters.InvalidRows > 0 {
			status = domain.BatchStatusValidationFailed
		}
		if err := v.batches.UpdateStatus(ctx, batch.ID, status); err != nil {
			return nil, err
		}
	}

	return issues, nil
}

// duplicateKeyIssues flags every row that shares a non-null matching key
// with another row of the same batch. The collision is batch-internal,
// independent of what exists in the target store.
func duplicateKeyIssues(batchID uuid.UUID, rows []domain.ImportRow) []domain.ImportIssue {
	byKey := make(map[string][]int)
	for _, row := range rows {
		if row.MatchingKey == nil || *row.MatchingKey == "" {
			continue
		}
		byKey[*row.MatchingKey] = append(byKey[*row.MatchingKey], row.RowNumber)
	}

	var issues []domain.ImportIssue
	for key, numbers := range byKey {
		if len(numbers) < 2 {
			continue
		}
		for _, number := range numbers {
			issues = append(issues, domain.NewRowIssue(batchID, number, "",
				domain.IssueCodeDuplicateMatchingKey, domain.IssueSeverityError, domain.IssueStageValidate,
				fmt.Sprintf("matching key %q appears on %d rows in this file", key, len(numbers))))
		}
	}
	return issues
}
