package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memoryStore holds all pipeline state for stub repositories. The stub
// transactor snapshots it before each transaction and restores it on error,
// mirroring a database rollback.
type memoryStore struct {
	batches   map[uuid.UUID]domain.ImportBatch
	rows      map[uuid.UUID][]domain.ImportRow
	issues    []domain.ImportIssue
	snapshots []domain.SimulationSnapshot
	records   []domain.Record

	failRecordInsert bool
	failRecordUpdate bool

	// snapshotClock overrides the timestamp the snapshot stub stamps on
	// insert, mirroring the store-side executed_at assignment.
	snapshotClock func() time.Time
}

func (s *memoryStore) snapshotTime() time.Time {
	if s.snapshotClock != nil {
		return s.snapshotClock()
	}
	return time.Now()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		batches: map[uuid.UUID]domain.ImportBatch{},
		rows:    map[uuid.UUID][]domain.ImportRow{},
	}
}

func (s *memoryStore) clone() *memoryStore {
	copied := newMemoryStore()
	for id, batch := range s.batches {
		copied.batches[id] = batch
	}
	for id, rows := range s.rows {
		copied.rows[id] = append([]domain.ImportRow(nil), rows...)
	}
	copied.issues = append([]domain.ImportIssue(nil), s.issues...)
	copied.snapshots = append([]domain.SimulationSnapshot(nil), s.snapshots...)
	copied.records = append([]domain.Record(nil), s.records...)
	copied.failRecordInsert = s.failRecordInsert
	copied.failRecordUpdate = s.failRecordUpdate
	copied.snapshotClock = s.snapshotClock
	return copied
}

type stubTransactor struct {
	store *memoryStore
}

func (t *stubTransactor) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	saved := t.store.clone()
	if err := fn(nil); err != nil {
		*t.store = *saved
		return err
	}
	return nil
}

// stubBatchRepo

type stubBatchRepo struct{ store *memoryStore }

func (r *stubBatchRepo) WithTx(tx pgx.Tx) repository.BatchRepository { return r }

func (r *stubBatchRepo) Create(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error) {
	r.store.batches[batch.ID] = batch
	return batch, nil
}

func (r *stubBatchRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	batch, ok := r.store.batches[id]
	if !ok {
		return domain.ImportBatch{}, fmt.Errorf("batch %s: %w", id, repository.ErrNotFound)
	}
	return batch, nil
}

func (r *stubBatchRepo) List(ctx context.Context, filter domain.BatchFilter, limit, offset int) ([]domain.ImportBatch, int, error) {
	matched := []domain.ImportBatch{}
	for _, batch := range r.store.batches {
		if filter.EntityType != "" && batch.EntityType != filter.EntityType {
			continue
		}
		if filter.UploaderID != nil && batch.UploaderID != *filter.UploaderID {
			continue
		}
		if len(filter.Statuses) > 0 {
			found := false
			for _, status := range filter.Statuses {
				if batch.Status == status {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		matched = append(matched, batch)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if offset >= len(matched) {
		return []domain.ImportBatch{}, total, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (r *stubBatchRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BatchStatus) error {
	batch, ok := r.store.batches[id]
	if !ok {
		return repository.ErrNotFound
	}
	batch.Status = status
	batch.UpdatedAt = time.Now()
	r.store.batches[id] = batch
	return nil
}

func (r *stubBatchRepo) UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.BatchCounters) error {
	batch, ok := r.store.batches[id]
	if !ok {
		return repository.ErrNotFound
	}
	batch.TotalRows = counters.TotalRows
	batch.ValidRows = counters.ValidRows
	batch.InvalidRows = counters.InvalidRows
	batch.CreateRows = counters.CreateRows
	batch.UpdateRows = counters.UpdateRows
	r.store.batches[id] = batch
	return nil
}

func (r *stubBatchRepo) MarkCommitted(ctx context.Context, id uuid.UUID, committedRows int, at time.Time) error {
	batch, ok := r.store.batches[id]
	if !ok {
		return repository.ErrNotFound
	}
	batch.Status = domain.BatchStatusCommitted
	batch.CommittedRows = committedRows
	batch.SubmittedAt = &at
	batch.CommittedAt = &at
	r.store.batches[id] = batch
	return nil
}

func (r *stubBatchRepo) SetErrorReportPath(ctx context.Context, id uuid.UUID, path string) error {
	batch, ok := r.store.batches[id]
	if !ok {
		return repository.ErrNotFound
	}
	batch.ErrorReportPath = &path
	r.store.batches[id] = batch
	return nil
}

func (r *stubBatchRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.store.batches[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.store.batches, id)
	delete(r.store.rows, id)
	return nil
}

// stubRowRepo

type stubRowRepo struct{ store *memoryStore }

func (r *stubRowRepo) WithTx(tx pgx.Tx) repository.RowRepository { return r }

func (r *stubRowRepo) ReplaceForBatch(ctx context.Context, batchID uuid.UUID, rows []domain.ImportRow) error {
	r.store.rows[batchID] = append([]domain.ImportRow(nil), rows...)
	return nil
}

func (r *stubRowRepo) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportRow, error) {
	rows := append([]domain.ImportRow(nil), r.store.rows[batchID]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowNumber < rows[j].RowNumber })
	return rows, nil
}

func (r *stubRowRepo) ListByNumbers(ctx context.Context, batchID uuid.UUID, rowNumbers []int) ([]domain.ImportRow, error) {
	wanted := map[int]bool{}
	for _, number := range rowNumbers {
		wanted[number] = true
	}
	rows := []domain.ImportRow{}
	for _, row := range r.store.rows[batchID] {
		if wanted[row.RowNumber] {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowNumber < rows[j].RowNumber })
	return rows, nil
}

func (r *stubRowRepo) GetForUpdate(ctx context.Context, batchID uuid.UUID, rowNumber int) (domain.ImportRow, error) {
	for _, row := range r.store.rows[batchID] {
		if row.RowNumber == rowNumber {
			return row, nil
		}
	}
	return domain.ImportRow{}, fmt.Errorf("row %d: %w", rowNumber, repository.ErrNotFound)
}

func (r *stubRowRepo) Update(ctx context.Context, row domain.ImportRow) error {
	rows := r.store.rows[row.BatchID]
	for i := range rows {
		if rows[i].RowNumber == row.RowNumber {
			row.UpdatedAt = time.Now()
			rows[i] = row
			return nil
		}
	}
	return fmt.Errorf("row %d: %w", row.RowNumber, repository.ErrNotFound)
}

func (r *stubRowRepo) MarkCommitted(ctx context.Context, batchID uuid.UUID, rowNumbers []int) error {
	wanted := map[int]bool{}
	for _, number := range rowNumbers {
		wanted[number] = true
	}
	rows := r.store.rows[batchID]
	for i := range rows {
		if wanted[rows[i].RowNumber] {
			rows[i].Status = domain.RowStatusCommitted
			rows[i].UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *stubRowRepo) LastEditedAt(ctx context.Context, batchID uuid.UUID) (time.Time, error) {
	var latest time.Time
	for _, row := range r.store.rows[batchID] {
		if row.UpdatedAt.After(latest) {
			latest = row.UpdatedAt
		}
	}
	return latest, nil
}

func (r *stubRowRepo) Counters(ctx context.Context, batchID uuid.UUID) (domain.BatchCounters, error) {
	counters := domain.BatchCounters{}
	for _, row := range r.store.rows[batchID] {
		counters.TotalRows++
		if row.Status == domain.RowStatusInvalid {
			counters.InvalidRows++
			continue
		}
		counters.ValidRows++
		switch row.Action {
		case domain.RowActionCreate:
			counters.CreateRows++
		case domain.RowActionUpdate:
			counters.UpdateRows++
		}
	}
	return counters, nil
}

// stubIssueRepo

type stubIssueRepo struct{ store *memoryStore }

func (r *stubIssueRepo) WithTx(tx pgx.Tx) repository.IssueRepository { return r }

func (r *stubIssueRepo) Insert(ctx context.Context, issues []domain.ImportIssue) error {
	r.store.issues = append(r.store.issues, issues...)
	return nil
}

func (r *stubIssueRepo) ReplaceStages(ctx context.Context, batchID uuid.UUID, stages []domain.IssueStage, issues []domain.ImportIssue) error {
	staged := map[domain.IssueStage]bool{}
	for _, stage := range stages {
		staged[stage] = true
	}
	kept := []domain.ImportIssue{}
	for _, issue := range r.store.issues {
		if issue.BatchID == batchID && staged[issue.Stage] {
			continue
		}
		kept = append(kept, issue)
	}
	r.store.issues = append(kept, issues...)
	return nil
}

func (r *stubIssueRepo) ReplaceStagesForRows(ctx context.Context, batchID uuid.UUID, stages []domain.IssueStage, rowNumbers []int, issues []domain.ImportIssue) error {
	staged := map[domain.IssueStage]bool{}
	for _, stage := range stages {
		staged[stage] = true
	}
	wanted := map[int]bool{}
	for _, number := range rowNumbers {
		wanted[number] = true
	}
	kept := []domain.ImportIssue{}
	for _, issue := range r.store.issues {
		if issue.BatchID == batchID && staged[issue.Stage] && issue.RowNumber != nil && wanted[*issue.RowNumber] {
			continue
		}
		kept = append(kept, issue)
	}
	r.store.issues = append(kept, issues...)
	return nil
}

func (r *stubIssueRepo) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportIssue, error) {
	issues := []domain.ImportIssue{}
	for _, issue := range r.store.issues {
		if issue.BatchID == batchID {
			issues = append(issues, issue)
		}
	}
	sort.SliceStable(issues, func(i, j int) bool {
		left, right := issues[i].RowNumber, issues[j].RowNumber
		if left == nil {
			return right != nil
		}
		if right == nil {
			return false
		}
		return *left < *right
	})
	return issues, nil
}

func (r *stubIssueRepo) DeleteStage(ctx context.Context, batchID uuid.UUID, stage domain.IssueStage) error {
	kept := []domain.ImportIssue{}
	for _, issue := range r.store.issues {
		if issue.BatchID == batchID && issue.Stage == stage {
			continue
		}
		kept = append(kept, issue)
	}
	r.store.issues = kept
	return nil
}

func (r *stubIssueRepo) CountBySeverity(ctx context.Context, batchID uuid.UUID) (int, int, error) {
	errorCount, warningCount := 0, 0
	for _, issue := range r.store.issues {
		if issue.BatchID != batchID {
			continue
		}
		if issue.Severity == domain.IssueSeverityError {
			errorCount++
		} else {
			warningCount++
		}
	}
	return errorCount, warningCount, nil
}

func (r *stubIssueRepo) ErrorCountsByRow(ctx context.Context, batchID uuid.UUID) (map[int]int, error) {
	counts := map[int]int{}
	for _, issue := range r.store.issues {
		if issue.BatchID != batchID || issue.RowNumber == nil || issue.Severity != domain.IssueSeverityError {
			continue
		}
		counts[*issue.RowNumber]++
	}
	return counts, nil
}

// stubSnapshotRepo

type stubSnapshotRepo struct{ store *memoryStore }

func (r *stubSnapshotRepo) WithTx(tx pgx.Tx) repository.SnapshotRepository { return r }

func (r *stubSnapshotRepo) Insert(ctx context.Context, snapshot domain.SimulationSnapshot) (domain.SimulationSnapshot, error) {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	snapshot.ExecutedAt = r.store.snapshotTime()
	r.store.snapshots = append(r.store.snapshots, snapshot)
	return snapshot, nil
}

func (r *stubSnapshotRepo) Latest(ctx context.Context, batchID uuid.UUID) (domain.SimulationSnapshot, bool, error) {
	var latest domain.SimulationSnapshot
	found := false
	for _, snapshot := range r.store.snapshots {
		if snapshot.BatchID != batchID {
			continue
		}
		if !found || snapshot.ExecutedAt.After(latest.ExecutedAt) {
			latest = snapshot
			found = true
		}
	}
	return latest, found, nil
}

// stubRecordRepo

type stubRecordRepo struct{ store *memoryStore }

func (r *stubRecordRepo) WithTx(tx pgx.Tx) repository.RecordRepository { return r }

func (r *stubRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	for _, record := range r.store.records {
		if record.ID == id {
			return record, nil
		}
	}
	return domain.Record{}, fmt.Errorf("record %s: %w", id, repository.ErrNotFound)
}

func (r *stubRecordRepo) FindByProperties(ctx context.Context, entityType string, properties map[string]any) (domain.Record, bool, error) {
	for _, record := range r.store.records {
		if record.EntityType != entityType {
			continue
		}
		matched := true
		for key, value := range properties {
			if record.Properties[key] != value {
				matched = false
				break
			}
		}
		if matched {
			return record, true, nil
		}
	}
	return domain.Record{}, false, nil
}

func (r *stubRecordRepo) Insert(ctx context.Context, record domain.Record) (domain.Record, error) {
	if r.store.failRecordInsert {
		return domain.Record{}, errors.New("insert rejected")
	}
	r.store.records = append(r.store.records, record)
	return record, nil
}

func (r *stubRecordRepo) Update(ctx context.Context, record domain.Record) (domain.Record, error) {
	if r.store.failRecordUpdate {
		return domain.Record{}, errors.New("update rejected")
	}
	for i := range r.store.records {
		if r.store.records[i].ID == record.ID {
			r.store.records[i] = record
			return record, nil
		}
	}
	return domain.Record{}, fmt.Errorf("record %s: %w", record.ID, repository.ErrNotFound)
}

func (r *stubRecordRepo) CountByType(ctx context.Context, entityType string) (int64, error) {
	var count int64
	for _, record := range r.store.records {
		if record.EntityType == entityType {
			count++
		}
	}
	return count, nil
}

// pipeline bundles a service plus its backing store for tests.
type pipeline struct {
	store   *memoryStore
	service *Service
}

func newPipeline(t *testing.T, descriptors ...domain.TemplateDescriptor) *pipeline {
	store := newMemoryStore()
	resolver := newStaticResolver(descriptors...)
	service := NewService(
		&stubTransactor{store: store},
		&stubBatchRepo{store: store},
		&stubRowRepo{store: store},
		&stubIssueRepo{store: store},
		&stubSnapshotRepo{store: store},
		&stubRecordRepo{store: store},
		resolver,
		t.TempDir(),
	)
	return &pipeline{store: store, service: service}
}

// newStaticResolver mirrors template.NewStaticResolver without importing the
// package into every test.
type staticResolver struct {
	descriptors []domain.TemplateDescriptor
}

func newStaticResolver(descriptors ...domain.TemplateDescriptor) *staticResolver {
	return &staticResolver{descriptors: descriptors}
}

func (r *staticResolver) Resolve(ctx context.Context, entityType string) (domain.TemplateDescriptor, error) {
	for _, descriptor := range r.descriptors {
		if descriptor.EntityType == entityType {
			return descriptor, nil
		}
	}
	return domain.TemplateDescriptor{}, fmt.Errorf("no template for entity type %s", entityType)
}

func (r *staticResolver) ResolveVersion(ctx context.Context, templateID, version string) (domain.TemplateDescriptor, error) {
	for _, descriptor := range r.descriptors {
		if descriptor.TemplateID == templateID && descriptor.Version == version {
			return descriptor, nil
		}
	}
	return domain.TemplateDescriptor{}, fmt.Errorf("no template %s version %s", templateID, version)
}
