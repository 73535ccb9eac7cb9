package repository

import (
	"context"
	"fmt"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type issueRepository struct {
	db querier
}

// NewIssueRepository creates a pgx-backed issue repository.
func NewIssueRepository(db querier) IssueRepository {
	return &issueRepository{db: db}
}

func (r *issueRepository) WithTx(tx pgx.Tx) IssueRepository {
	return &issueRepository{db: tx}
}

func (r *issueRepository) Insert(ctx context.Context, issues []domain.ImportIssue) error {
	for _, issue := range issues {
		_, err := r.db.Exec(ctx,
			`INSERT INTO import_issues (id, batch_id, row_number, field_path, code, severity, message, suggested_fix, stage, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			issue.ID, issue.BatchID, issue.RowNumber, issue.FieldPath,
			issue.Code, issue.Severity, issue.Message, issue.SuggestedFix,
			issue.Stage, issue.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
	}
	return nil
}

func (r *issueRepository) ReplaceStages(ctx context.Context, batchID uuid.UUID, stages []domain.IssueStage, issues []domain.ImportIssue) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM import_issues WHERE batch_id = $1 AND stage = ANY($2)`,
		batchID, stageStrings(stages),
	)
	if err != nil {
		return fmt.Errorf("failed to clear stage issues: %w", err)
	}
	return r.Insert(ctx, issues)
}

func (r *issueRepository) ReplaceStagesForRows(ctx context.Context, batchID uuid.UUID, stages []domain.IssueStage, rowNumbers []int, issues []domain.ImportIssue) error {
	if len(rowNumbers) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`DELETE FROM import_issues
		 WHERE batch_id = $1 AND stage = ANY($2) AND row_number = ANY($3)`,
		batchID, stageStrings(stages), rowNumbers,
	)
	if err != nil {
		return fmt.Errorf("failed to clear row issues: %w", err)
	}
	return r.Insert(ctx, issues)
}

func (r *issueRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportIssue, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, batch_id, row_number, field_path, code, severity, message, suggested_fix, stage, created_at
		 FROM import_issues
		 WHERE batch_id = $1
		 ORDER BY row_number NULLS FIRST, created_at`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	issues := []domain.ImportIssue{}
	for rows.Next() {
		var (
			issue        domain.ImportIssue
			rowNumber    pgtype.Int4
			fieldPath    pgtype.Text
			suggestedFix pgtype.Text
		)
		if scanErr := rows.Scan(
			&issue.ID, &issue.BatchID, &rowNumber, &fieldPath, &issue.Code,
			&issue.Severity, &issue.Message, &suggestedFix, &issue.Stage, &issue.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", scanErr)
		}
		if rowNumber.Valid {
			value := int(rowNumber.Int32)
			issue.RowNumber = &value
		}
		if fieldPath.Valid {
			issue.FieldPath = &fieldPath.String
		}
		if suggestedFix.Valid {
			issue.SuggestedFix = &suggestedFix.String
		}
		issues = append(issues, issue)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", rowsErr)
	}
	return issues, nil
}

func (r *issueRepository) DeleteStage(ctx context.Context, batchID uuid.UUID, stage domain.IssueStage) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM import_issues WHERE batch_id = $1 AND stage = $2`,
		batchID, stage,
	)
	if err != nil {
		return fmt.Errorf("failed to delete stage issues: %w", err)
	}
	return nil
}

func (r *issueRepository) CountBySeverity(ctx context.Context, batchID uuid.UUID) (int, int, error) {
	var errorCount, warningCount int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE severity = $2),
		        COUNT(*) FILTER (WHERE severity = $3)
		 FROM import_issues WHERE batch_id = $1`,
		batchID, domain.IssueSeverityError, domain.IssueSeverityWarning,
	).Scan(&errorCount, &warningCount)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return errorCount, warningCount, nil
}

func (r *issueRepository) ErrorCountsByRow(ctx context.Context, batchID uuid.UUID) (map[int]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT row_number, COUNT(*)
		 FROM import_issues
		 WHERE batch_id = $1 AND severity = $2 AND row_number IS NOT NULL
		 GROUP BY row_number`,
		batchID, domain.IssueSeverityError,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count row issues: %w", err)
	}
	defer rows.Close()

	counts := map[int]int{}
	for rows.Next() {
		var rowNumber, count int
		if scanErr := rows.Scan(&rowNumber, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan row issue count: %w", scanErr)
		}
		counts[rowNumber] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate row issue counts: %w", rowsErr)
	}
	return counts, nil
}

func stageStrings(stages []domain.IssueStage) []string {
	values := make([]string, len(stages))
	for i, stage := range stages {
		values[i] = string(stage)
	}
	return values
}
