package importer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"
	"github.com/raillogistic/bulkimport/internal/template"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Transactor runs a function inside one database transaction. db.Connection
// implements it; tests substitute an in-memory fake.
type Transactor interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Service is the import pipeline facade. Every stage operation runs inside a
// single transaction so a failing stage leaves the batch exactly as the
// previous stage left it.
type Service struct {
	tx        Transactor
	batches   repository.BatchRepository
	rows      repository.RowRepository
	issues    repository.IssueRepository
	snapshots repository.SnapshotRepository
	records   repository.RecordRepository
	templates template.Resolver
	parser    *FileParser
	reporter  *ErrorReporter
}

// NewService wires the pipeline. reportDir is where error report CSVs are
// written; empty means the system temp directory.
func NewService(tx Transactor, batches repository.BatchRepository, rows repository.RowRepository, issues repository.IssueRepository, snapshots repository.SnapshotRepository, records repository.RecordRepository, templates template.Resolver, reportDir string) *Service {
	return &Service{
		tx:        tx,
		batches:   batches,
		rows:      rows,
		issues:    issues,
		snapshots: snapshots,
		records:   records,
		templates: templates,
		parser:    NewFileParser(),
		reporter:  NewErrorReporter(batches, issues, reportDir),
	}
}

// CreateBatchInput carries one upload request.
type CreateBatchInput struct {
	EntityType string
	// TemplateID and TemplateVersion are the client's declared template. When
	// set they must match the current catalog version exactly.
	TemplateID      string
	TemplateVersion string
	UploaderID      uuid.UUID
	FileName        string
	Format          domain.FileFormat
	Payload         []byte
}

// BatchDetail is the full read model of one batch.
type BatchDetail struct {
	Batch    domain.ImportBatch         `json:"batch"`
	Rows     []domain.ImportRow         `json:"rows"`
	Issues   []domain.ImportIssue       `json:"issues"`
	Snapshot *domain.SimulationSnapshot `json:"snapshot,omitempty"`
}

// CreateBatch ingests an upload: the batch record is created first so even a
// structurally broken file leaves an auditable FAILED batch with its issue.
func (s *Service) CreateBatch(ctx context.Context, input CreateBatchInput) (domain.ImportBatch, []domain.ImportIssue, error) {
	descriptor, err := s.templates.Resolve(ctx, input.EntityType)
	if err != nil {
		return domain.ImportBatch{}, nil, err
	}

	batch := domain.NewImportBatch(input.EntityType, descriptor.TemplateID, descriptor.Version, input.UploaderID, input.FileName, input.Format)
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		created, createErr := s.batches.WithTx(tx).Create(ctx, batch)
		if createErr != nil {
			return createErr
		}
		batch = created
		return nil
	})
	if err != nil {
		return domain.ImportBatch{}, nil, err
	}

	if input.TemplateID != "" && (input.TemplateID != descriptor.TemplateID || input.TemplateVersion != descriptor.Version) {
		cause := NewServiceError(domain.IssueCodeTemplateVersionMismatch,
			fmt.Sprintf("uploaded against template %s version %s, current is %s version %s",
				input.TemplateID, input.TemplateVersion, descriptor.TemplateID, descriptor.Version))
		return s.failBatch(ctx, batch, cause)
	}
	if !descriptor.AcceptsFormat(input.Format) {
		cause := NewServiceError(domain.IssueCodeInvalidFileFormat,
			fmt.Sprintf("template %s does not accept %s uploads", descriptor.TemplateID, input.Format))
		return s.failBatch(ctx, batch, cause)
	}

	parsed, err := s.parser.Parse(input.Payload, input.Format, descriptor.MaxRows, descriptor.MaxFileSizeBytes)
	if err != nil {
		return s.failBatch(ctx, batch, err)
	}

	var issues []domain.ImportIssue
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		stager := NewRowStager(s.batches.WithTx(tx), s.rows.WithTx(tx), s.issues.WithTx(tx), s.records.WithTx(tx))
		staged, stageErr := stager.Stage(ctx, batch, parsed, descriptor)
		if stageErr != nil {
			return stageErr
		}
		issues = staged
		return nil
	})
	if err != nil {
		return s.failBatch(ctx, batch, err)
	}

	batch, err = s.batches.GetByID(ctx, batch.ID)
	if err != nil {
		return domain.ImportBatch{}, nil, err
	}
	s.refreshReport(ctx, batch.ID)

	log.Printf("[importer] staged batch %s: %d rows, %d issues", batch.ID, batch.TotalRows, len(issues))
	return batch, issues, nil
}

// GetBatch returns the batch with its rows, issues and latest snapshot.
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (BatchDetail, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	rows, err := s.rows.ListByBatch(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	issues, err := s.issues.ListByBatch(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	detail := BatchDetail{Batch: batch, Rows: rows, Issues: issues}
	snapshot, found, err := s.snapshots.Latest(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	if found {
		detail.Snapshot = &snapshot
	}
	return detail, nil
}

// ListBatches returns a page of batches plus the unpaged total.
func (s *Service) ListBatches(ctx context.Context, filter domain.BatchFilter, limit, offset int) ([]domain.ImportBatch, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.batches.List(ctx, filter, limit, offset)
}

// PatchRows applies reviewer edits and incrementally revalidates the touched
// rows. Unknown row numbers are ignored; the returned slice names the rows
// that were actually patched.
func (s *Service) PatchRows(ctx context.Context, id uuid.UUID, edits []RowEdit) ([]int, []domain.ImportIssue, error) {
	batch, err := s.reviewableBatch(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	descriptor, err := s.templates.ResolveVersion(ctx, batch.TemplateID, batch.TemplateVersion)
	if err != nil {
		return nil, nil, err
	}

	var (
		patched []int
		issues  []domain.ImportIssue
	)
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		patcher := NewRowPatcher(s.batches.WithTx(tx), s.rows.WithTx(tx))
		applied, patchErr := patcher.Apply(ctx, batch, edits)
		if patchErr != nil {
			return patchErr
		}
		patched = applied
		if len(patched) == 0 {
			return nil
		}
		validator := NewDatasetValidator(s.batches.WithTx(tx), s.rows.WithTx(tx), s.issues.WithTx(tx), s.records.WithTx(tx))
		found, validateErr := validator.Validate(ctx, batch, descriptor, patched)
		if validateErr != nil {
			return validateErr
		}
		issues = found
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.refreshReport(ctx, batch.ID)
	return patched, issues, nil
}

// Validate runs the full validation pass over the batch.
func (s *Service) Validate(ctx context.Context, id uuid.UUID) (domain.ImportBatch, []domain.ImportIssue, error) {
	batch, err := s.reviewableBatch(ctx, id)
	if err != nil {
		return domain.ImportBatch{}, nil, err
	}
	descriptor, err := s.templates.ResolveVersion(ctx, batch.TemplateID, batch.TemplateVersion)
	if err != nil {
		return domain.ImportBatch{}, nil, err
	}

	var issues []domain.ImportIssue
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		validator := NewDatasetValidator(s.batches.WithTx(tx), s.rows.WithTx(tx), s.issues.WithTx(tx), s.records.WithTx(tx))
		found, validateErr := validator.Validate(ctx, batch, descriptor, nil)
		if validateErr != nil {
			return validateErr
		}
		issues = found
		return nil
	})
	if err != nil {
		return domain.ImportBatch{}, nil, err
	}

	batch, err = s.batches.GetByID(ctx, id)
	if err != nil {
		return domain.ImportBatch{}, nil, err
	}
	s.refreshReport(ctx, batch.ID)

	log.Printf("[importer] validated batch %s: status=%s invalid=%d", batch.ID, batch.Status, batch.InvalidRows)
	return batch, issues, nil
}

// Simulate dry-runs the commit and persists the verdict snapshot. The dry
// run reads the batch as the last staging or validation pass left it and
// never rewrites rows or issues.
func (s *Service) Simulate(ctx context.Context, id uuid.UUID) (domain.SimulationSnapshot, error) {
	batch, err := s.reviewableBatch(ctx, id)
	if err != nil {
		return domain.SimulationSnapshot{}, err
	}

	var snapshot domain.SimulationSnapshot
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		engine := NewSimulationEngine(s.batches.WithTx(tx), s.rows.WithTx(tx), s.issues.WithTx(tx), s.snapshots.WithTx(tx))
		result, simErr := engine.Simulate(ctx, batch)
		if simErr != nil {
			return simErr
		}
		snapshot = result
		return nil
	})
	if err != nil {
		return domain.SimulationSnapshot{}, err
	}

	s.refreshReport(ctx, batch.ID)
	log.Printf("[importer] simulated batch %s: canCommit=%v create=%d update=%d errors=%d",
		batch.ID, snapshot.CanCommit, snapshot.WouldCreate, snapshot.WouldUpdate, snapshot.BlockingErrors)
	return snapshot, nil
}

// Commit applies the batch to the target store in one transaction. Guard
// failures (no passing snapshot, edits after the snapshot) leave the batch
// untouched; a row failure during apply rolls everything back and marks the
// batch FAILED with a COMMIT-stage issue.
func (s *Service) Commit(ctx context.Context, id uuid.UUID) (CommitSummary, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return CommitSummary{}, err
	}
	if batch.Status.IsTerminal() {
		return CommitSummary{}, ErrBatchTerminal
	}
	descriptor, err := s.templates.ResolveVersion(ctx, batch.TemplateID, batch.TemplateVersion)
	if err != nil {
		return CommitSummary{}, err
	}

	var summary CommitSummary
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		engine := NewCommitEngine(s.batches.WithTx(tx), s.rows.WithTx(tx), s.issues.WithTx(tx), s.snapshots.WithTx(tx), s.records.WithTx(tx))
		result, commitErr := engine.Commit(ctx, batch, descriptor)
		if commitErr != nil {
			return commitErr
		}
		summary = result
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSimulationRequired) || errors.Is(err, ErrStaleSimulation) {
			return CommitSummary{}, err
		}
		s.recordCommitFailure(ctx, batch.ID, err)
		return CommitSummary{}, err
	}

	log.Printf("[importer] committed batch %s: %d rows (%d created, %d updated)",
		batch.ID, summary.Committed, summary.Created, summary.Updated)
	return summary, nil
}

// Cancel abandons a non-terminal batch. Staged rows stay readable for audit.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return domain.ImportBatch{}, err
	}
	if batch.Status.IsTerminal() {
		return domain.ImportBatch{}, ErrBatchTerminal
	}
	if err := s.batches.UpdateStatus(ctx, id, domain.BatchStatusCancelled); err != nil {
		return domain.ImportBatch{}, err
	}
	return s.batches.GetByID(ctx, id)
}

// Delete removes a batch and its staged data. Committed batches are part of
// the audit trail and cannot be deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if batch.Status == domain.BatchStatusCommitted {
		return ErrBatchTerminal
	}
	return s.batches.Delete(ctx, id)
}

// ReportPath returns the error report location, generating the file on
// demand when no report has been written yet.
func (s *Service) ReportPath(ctx context.Context, id uuid.UUID) (string, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if batch.ErrorReportPath != nil && *batch.ErrorReportPath != "" {
		return *batch.ErrorReportPath, nil
	}
	return s.reporter.Generate(ctx, id)
}

// reviewableBatch loads the batch and rejects states where staged rows no
// longer exist or may no longer change.
func (s *Service) reviewableBatch(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return domain.ImportBatch{}, err
	}
	if batch.Status.IsTerminal() {
		return domain.ImportBatch{}, ErrBatchTerminal
	}
	switch batch.Status {
	case domain.BatchStatusUploaded, domain.BatchStatusFailed:
		return domain.ImportBatch{}, fmt.Errorf("batch %s has no reviewable rows in status %s", id, batch.Status)
	}
	return batch, nil
}

// failBatch marks the batch FAILED and records the structural cause as a
// batch-level PARSE issue. The original error is returned to the caller.
func (s *Service) failBatch(ctx context.Context, batch domain.ImportBatch, cause error) (domain.ImportBatch, []domain.ImportIssue, error) {
	code := domain.IssueCodeUnknownError
	message := cause.Error()
	if serviceErr, ok := AsServiceError(cause); ok {
		code = serviceErr.Code
		message = serviceErr.Message
	}
	issue := domain.NewBatchIssue(batch.ID, code, domain.IssueSeverityError, domain.IssueStageParse, message)

	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if updateErr := s.batches.WithTx(tx).UpdateStatus(ctx, batch.ID, domain.BatchStatusFailed); updateErr != nil {
			return updateErr
		}
		return s.issues.WithTx(tx).Insert(ctx, []domain.ImportIssue{issue})
	})
	if err != nil {
		log.Printf("[importer] failed to record failure for batch %s: %v", batch.ID, err)
	}

	batch.Status = domain.BatchStatusFailed
	log.Printf("[importer] batch %s failed during ingestion: %s", batch.ID, message)
	return batch, []domain.ImportIssue{issue}, cause
}

// recordCommitFailure runs after the commit transaction rolled back, so it
// writes through the pool rather than the aborted transaction.
func (s *Service) recordCommitFailure(ctx context.Context, batchID uuid.UUID, cause error) {
	var issue domain.ImportIssue
	if serviceErr, ok := AsServiceError(cause); ok {
		if serviceErr.RowNumber != nil {
			issue = domain.NewRowIssue(batchID, *serviceErr.RowNumber, serviceErr.FieldPath,
				serviceErr.Code, domain.IssueSeverityError, domain.IssueStageCommit, serviceErr.Message)
		} else {
			issue = domain.NewBatchIssue(batchID, serviceErr.Code, domain.IssueSeverityError, domain.IssueStageCommit, serviceErr.Message)
		}
	} else {
		issue = domain.NewBatchIssue(batchID, domain.IssueCodeUnknownError, domain.IssueSeverityError, domain.IssueStageCommit, cause.Error())
	}

	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if updateErr := s.batches.WithTx(tx).UpdateStatus(ctx, batchID, domain.BatchStatusFailed); updateErr != nil {
			return updateErr
		}
		return s.issues.WithTx(tx).Insert(ctx, []domain.ImportIssue{issue})
	})
	if err != nil {
		log.Printf("[importer] failed to record commit failure for batch %s: %v", batchID, err)
		return
	}

	if _, reportErr := s.reporter.Generate(ctx, batchID); reportErr != nil {
		log.Printf("[importer] failed to regenerate error report for batch %s: %v", batchID, reportErr)
	}
	log.Printf("[importer] commit of batch %s rolled back: %v", batchID, cause)
}

// refreshReport regenerates the error report whenever blocking issues exist.
// Report generation is best effort and never fails the stage that ran.
func (s *Service) refreshReport(ctx context.Context, batchID uuid.UUID) {
	errorCount, _, err := s.issues.CountBySeverity(ctx, batchID)
	if err != nil {
		log.Printf("[importer] failed to count issues for batch %s: %v", batchID, err)
		return
	}
	if errorCount == 0 {
		return
	}
	if _, err := s.reporter.Generate(ctx, batchID); err != nil {
		log.Printf("[importer] failed to write error report for batch %s: %v", batchID, err)
	}
}
