package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"

	"github.com/google/uuid"
)

// ErrorReporter writes the downloadable CSV report of a batch's issues. The
// file is written to a temp path and renamed into place so readers never see
// a half-written report.
type ErrorReporter struct {
	batches repository.BatchRepository
	issues  repository.IssueRepository
	dir     string
}

// NewErrorReporter creates a reporter writing under dir. An empty dir falls
// back to a bulkimport-reports folder in the system temp directory.
func NewErrorReporter(batches repository.BatchRepository, issues repository.IssueRepository, dir string) *ErrorReporter {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "bulkimport-reports")
	}
	return &ErrorReporter{batches: batches, issues: issues, dir: dir}
}

// Generate writes the report for the batch and records its path. Issues come
// out ordered by row number with batch-level findings first.
func (r *ErrorReporter) Generate(ctx context.Context, batchID uuid.UUID) (string, error) {
	issues, err := r.issues.ListByBatch(ctx, batchID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, "report-*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	writer := csv.NewWriter(tmp)
	header := []string{"rowNumber", "fieldPath", "code", "severity", "stage", "message", "suggestedFix"}
	if err := writer.Write(header); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write report header: %w", err)
	}
	for _, issue := range issues {
		if err := writer.Write(reportLine(issue)); err != nil {
			_ = tmp.Close()
			return "", fmt.Errorf("failed to write report line: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to flush report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}

	finalPath := filepath.Join(r.dir, fmt.Sprintf("batch-%s-errors.csv", batchID))
	if err := os.Rename(tmpName, finalPath); err != nil {
		return "", fmt.Errorf("failed to finalize report file: %w", err)
	}

	if err := r.batches.SetErrorReportPath(ctx, batchID, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

func reportLine(issue domain.ImportIssue) []string {
	rowNumber := ""
	if issue.RowNumber != nil {
		rowNumber = strconv.Itoa(*issue.RowNumber)
	}
	fieldPath := ""
	if issue.FieldPath != nil {
		fieldPath = *issue.FieldPath
	}
	suggestedFix := ""
	if issue.SuggestedFix != nil {
		suggestedFix = *issue.SuggestedFix
	}
	return []string{
		rowNumber,
		fieldPath,
		string(issue.Code),
		string(issue.Severity),
		string(issue.Stage),
		issue.Message,
		suggestedFix,
	}
}
