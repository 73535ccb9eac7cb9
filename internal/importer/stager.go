package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"

	"github.com/google/uuid"
)

// matchingKeySeparator joins normalized key parts in field declaration order.
const matchingKeySeparator = "|"

var allIssueStages = []domain.IssueStage{
	domain.IssueStageParse,
	domain.IssueStageEdit,
	domain.IssueStageValidate,
	domain.IssueStageSimulate,
	domain.IssueStageCommit,
}

// RowStager turns parsed rows into staged import rows: values are coerced
// per the template, matching keys computed, and CREATE-vs-UPDATE resolved
// against the target store. Staging fully replaces prior rows and issues, so
// re-staging the same payload is idempotent.
type RowStager struct {
	batches repository.BatchRepository
	rows    repository.RowRepository
	issues  repository.IssueRepository
	records repository.RecordRepository
}

// NewRowStager creates a stager over the given repositories.
func NewRowStager(batches repository.BatchRepository, rows repository.RowRepository, issues repository.IssueRepository, records repository.RecordRepository) *RowStager {
	return &RowStager{batches: batches, rows: rows, issues: issues, records: records}
}

// Stage consumes the parsed file and writes one staged row per source row.
// Per-row data problems become PARSE-stage issues; only infrastructure
// failures return an error.
func (s *RowStager) Stage(ctx context.Context, batch domain.ImportBatch, parsed ParsedFile, descriptor domain.TemplateDescriptor) ([]domain.ImportIssue, error) {
	staged := make([]domain.ImportRow, 0, len(parsed.Rows))
	issues := []domain.ImportIssue{}

	for _, source := range parsed.Rows {
		row := domain.NewImportRow(batch.ID, source.Number, source.Values)

		normalized, fieldIssues := normalizeRow(descriptor, row.EditedValues)
		row.NormalizedValues = normalized

		matchingKey, action, targetID, err := resolveRowTarget(ctx, s.records, descriptor, normalized)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve target for row %d: %w", source.Number, err)
		}
		row.MatchingKey = matchingKey
		row.Action = action
		row.TargetRecordID = targetID

		errorCount := 0
		for _, finding := range fieldIssues {
			issue := domain.NewRowIssue(batch.ID, source.Number, finding.FieldPath, finding.Code, finding.Severity, domain.IssueStageParse, finding.Message)
			if finding.SuggestedFix != "" {
				issue = issue.WithSuggestedFix(finding.SuggestedFix)
			}
			issues = append(issues, issue)
			if finding.Severity == domain.IssueSeverityError {
				errorCount++
			}
		}

		row.IssueCount = errorCount
		if errorCount > 0 {
			row.Status = domain.RowStatusInvalid
		}
		staged = append(staged, row)
	}

	if err := s.rows.ReplaceForBatch(ctx, batch.ID, staged); err != nil {
		return nil, err
	}
	if err := s.issues.ReplaceStages(ctx, batch.ID, allIssueStages, issues); err != nil {
		return nil, err
	}

	counters, err := s.rows.Counters(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if err := s.batches.UpdateCounters(ctx, batch.ID, counters); err != nil {
		return nil, err
	}

	status := domain.BatchStatusParsed
	if len(staged) > 0 {
		status = domain.BatchStatusReviewing
	}
	if err := s.batches.UpdateStatus(ctx, batch.ID, status); err != nil {
		return nil, err
	}

	return issues, nil
}

// resolveRowTarget computes the matching key and decides CREATE vs UPDATE.
// A key is only formed when every configured key field is present and
// non-empty; otherwise the row is forced to CREATE. A well-formed key that
// matches no target record also stages as CREATE (upsert-by-absence).
func resolveRowTarget(ctx context.Context, records repository.RecordRepository, descriptor domain.TemplateDescriptor, normalized map[string]any) (*string, domain.RowAction, *uuid.UUID, error) {
	if len(descriptor.MatchingKeyFields) == 0 {
		return nil, domain.RowActionCreate, nil, nil
	}

	parts := make([]string, 0, len(descriptor.MatchingKeyFields))
	lookup := make(map[string]any, len(descriptor.MatchingKeyFields))
	for _, field := range descriptor.MatchingKeyFields {
		value, ok := normalized[field]
		if !ok {
			return nil, domain.RowActionCreate, nil, nil
		}
		part := formatKeyPart(value)
		if strings.TrimSpace(part) == "" {
			return nil, domain.RowActionCreate, nil, nil
		}
		parts = append(parts, part)
		lookup[field] = value
	}

	key := strings.Join(parts, matchingKeySeparator)

	record, found, err := records.FindByProperties(ctx, descriptor.EntityType, lookup)
	if err != nil {
		return nil, domain.RowActionCreate, nil, err
	}
	if !found {
		return &key, domain.RowActionCreate, nil, nil
	}
	recordID := record.ID
	return &key, domain.RowActionUpdate, &recordID, nil
}
