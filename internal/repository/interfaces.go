package repository

import (
	"context"
	"errors"
	"time"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// BatchRepository defines CRUD and counter operations over import batches.
type BatchRepository interface {
	WithTx(tx pgx.Tx) BatchRepository
	Create(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error)
	List(ctx context.Context, filter domain.BatchFilter, limit, offset int) ([]domain.ImportBatch, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BatchStatus) error
	UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.BatchCounters) error
	MarkCommitted(ctx context.Context, id uuid.UUID, committedRows int, at time.Time) error
	SetErrorReportPath(ctx context.Context, id uuid.UUID, path string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RowRepository defines operations over staged import rows.
type RowRepository interface {
	WithTx(tx pgx.Tx) RowRepository
	ReplaceForBatch(ctx context.Context, batchID uuid.UUID, rows []domain.ImportRow) error
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportRow, error)
	ListByNumbers(ctx context.Context, batchID uuid.UUID, rowNumbers []int) ([]domain.ImportRow, error)
	// GetForUpdate locks the row for the remainder of the surrounding
	// transaction. Callers must be running inside WithTx.
	GetForUpdate(ctx context.Context, batchID uuid.UUID, rowNumber int) (domain.ImportRow, error)
	Update(ctx context.Context, row domain.ImportRow) error
	MarkCommitted(ctx context.Context, batchID uuid.UUID, rowNumbers []int) error
	LastEditedAt(ctx context.Context, batchID uuid.UUID) (time.Time, error)
	Counters(ctx context.Context, batchID uuid.UUID) (domain.BatchCounters, error)
}

// IssueRepository stores stage-scoped findings. Replacement semantics: the
// issues of a stage are deleted and recreated whenever the stage reruns.
type IssueRepository interface {
	WithTx(tx pgx.Tx) IssueRepository
	Insert(ctx context.Context, issues []domain.ImportIssue) error
	ReplaceStages(ctx context.Context, batchID uuid.UUID, stages []domain.IssueStage, issues []domain.ImportIssue) error
	ReplaceStagesForRows(ctx context.Context, batchID uuid.UUID, stages []domain.IssueStage, rowNumbers []int, issues []domain.ImportIssue) error
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportIssue, error)
	DeleteStage(ctx context.Context, batchID uuid.UUID, stage domain.IssueStage) error
	CountBySeverity(ctx context.Context, batchID uuid.UUID) (errorCount int, warningCount int, err error)
	ErrorCountsByRow(ctx context.Context, batchID uuid.UUID) (map[int]int, error)
}

// SnapshotRepository stores append-only simulation snapshots.
type SnapshotRepository interface {
	WithTx(tx pgx.Tx) SnapshotRepository
	Insert(ctx context.Context, snapshot domain.SimulationSnapshot) (domain.SimulationSnapshot, error)
	Latest(ctx context.Context, batchID uuid.UUID) (domain.SimulationSnapshot, bool, error)
}

// RecordRepository is the pipeline's view of the target entity store.
type RecordRepository interface {
	WithTx(tx pgx.Tx) RecordRepository
	GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error)
	// FindByProperties resolves at most one record whose properties contain
	// the given field values. The boolean reports whether a match exists.
	FindByProperties(ctx context.Context, entityType string, properties map[string]any) (domain.Record, bool, error)
	Insert(ctx context.Context, record domain.Record) (domain.Record, error)
	Update(ctx context.Context, record domain.Record) (domain.Record, error)
	CountByType(ctx context.Context, entityType string) (int64, error)
}

// TemplateRepository stores versioned template descriptors for the catalog
// resolver.
type TemplateRepository interface {
	Current(ctx context.Context, entityType string) (domain.TemplateDescriptor, error)
	Get(ctx context.Context, templateID, version string) (domain.TemplateDescriptor, error)
	Save(ctx context.Context, descriptor domain.TemplateDescriptor) error
}
