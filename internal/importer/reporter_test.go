package importer

import (
	"context"
	"encoding/csv"
	"os"
	"testing"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
)

func TestErrorReporterWritesOrderedCSV(t *testing.T) {
	store := newMemoryStore()
	batch := domain.NewImportBatch("wagon", "wagon-import", "3", uuid.New(), "wagons.csv", domain.FileFormatCSV)
	store.batches[batch.ID] = batch
	store.issues = []domain.ImportIssue{
		domain.NewRowIssue(batch.ID, 4, "number", domain.IssueCodeInvalidFieldValue,
			domain.IssueSeverityError, domain.IssueStageValidate, "unable to coerce"),
		domain.NewBatchIssue(batch.ID, domain.IssueCodeRowLimitExceeded,
			domain.IssueSeverityError, domain.IssueStageParse, "too many rows"),
		domain.NewRowIssue(batch.ID, 2, "fleet", domain.IssueCodeMissingRequiredColumn,
			domain.IssueSeverityError, domain.IssueStageParse, "required column has no value").WithSuggestedFix("provide a value"),
	}

	reporter := NewErrorReporter(&stubBatchRepo{store: store}, &stubIssueRepo{store: store}, t.TempDir())
	path, err := reporter.Generate(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("generate returned error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	defer f.Close()

	lines, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("report is not valid csv: %v", err)
	}
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 issues, got %d lines", len(lines))
	}
	if lines[0][0] != "rowNumber" || lines[0][6] != "suggestedFix" {
		t.Fatalf("unexpected header: %v", lines[0])
	}
	// Batch-level issues come first, then rows in ascending order.
	if lines[1][0] != "" || lines[2][0] != "2" || lines[3][0] != "4" {
		t.Fatalf("unexpected ordering: %v %v %v", lines[1], lines[2], lines[3])
	}
	if lines[2][6] != "provide a value" {
		t.Fatalf("suggested fix missing: %v", lines[2])
	}

	updated := store.batches[batch.ID]
	if updated.ErrorReportPath == nil || *updated.ErrorReportPath != path {
		t.Fatalf("report path must be recorded on the batch")
	}
}
