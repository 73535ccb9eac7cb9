package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"
)

// CommitSummary reports what an all-or-nothing commit applied.
type CommitSummary struct {
	TotalRows int `json:"totalRows"`
	Committed int `json:"committed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
}

// CommitEngine applies a simulated batch to the target store. Commit must run
// inside a single transaction: any row failure aborts the whole batch and no
// partial writes survive.
type CommitEngine struct {
	batches   repository.BatchRepository
	rows      repository.RowRepository
	issues    repository.IssueRepository
	snapshots repository.SnapshotRepository
	records   repository.RecordRepository
}

// NewCommitEngine creates an engine over the given repositories.
func NewCommitEngine(batches repository.BatchRepository, rows repository.RowRepository, issues repository.IssueRepository, snapshots repository.SnapshotRepository, records repository.RecordRepository) *CommitEngine {
	return &CommitEngine{
		batches:   batches,
		rows:      rows,
		issues:    issues,
		snapshots: snapshots,
		records:   records,
	}
}

// Commit verifies the freshness guards and applies every valid row in row
// number order. On any per-row failure the returned error is a ServiceError
// naming the row; the caller is expected to roll the transaction back.
func (e *CommitEngine) Commit(ctx context.Context, batch domain.ImportBatch, descriptor domain.TemplateDescriptor) (CommitSummary, error) {
	snapshot, found, err := e.snapshots.Latest(ctx, batch.ID)
	if err != nil {
		return CommitSummary{}, err
	}
	if !found || !snapshot.CanCommit {
		return CommitSummary{}, ErrSimulationRequired
	}

	lastEdited, err := e.rows.LastEditedAt(ctx, batch.ID)
	if err != nil {
		return CommitSummary{}, err
	}
	if lastEdited.After(snapshot.ExecutedAt) {
		return CommitSummary{}, ErrStaleSimulation
	}

	rows, err := e.rows.ListByBatch(ctx, batch.ID)
	if err != nil {
		return CommitSummary{}, err
	}

	summary := CommitSummary{TotalRows: len(rows)}
	committed := make([]int, 0, len(rows))

	for _, row := range rows {
		if row.Status == domain.RowStatusInvalid {
			// A passing snapshot never coexists with invalid rows, so this is
			// a concurrent mutation slipping past the staleness guard.
			return CommitSummary{}, ErrStaleSimulation
		}
		if row.Status == domain.RowStatusCommitted {
			summary.Skipped++
			continue
		}

		switch row.Action {
		case domain.RowActionUpdate:
			if err := e.applyUpdate(ctx, descriptor, row); err != nil {
				return CommitSummary{}, err
			}
			summary.Updated++
		case domain.RowActionCreate:
			if err := e.applyCreate(ctx, descriptor, row); err != nil {
				return CommitSummary{}, err
			}
			summary.Created++
		default:
			return CommitSummary{}, NewServiceError(domain.IssueCodeUnknownError,
				fmt.Sprintf("row has unrecognized action %q", row.Action)).WithRow(row.RowNumber)
		}
		committed = append(committed, row.RowNumber)
	}

	if err := e.rows.MarkCommitted(ctx, batch.ID, committed); err != nil {
		return CommitSummary{}, err
	}
	if err := e.batches.MarkCommitted(ctx, batch.ID, len(committed), time.Now().UTC()); err != nil {
		return CommitSummary{}, err
	}
	if err := e.issues.DeleteStage(ctx, batch.ID, domain.IssueStageCommit); err != nil {
		return CommitSummary{}, err
	}

	summary.Committed = len(committed)
	return summary, nil
}

// applyUpdate re-resolves the target by matching key at commit time rather
// than trusting the id cached at staging, so a record deleted since the dry
// run fails the batch instead of silently recreating it.
func (e *CommitEngine) applyUpdate(ctx context.Context, descriptor domain.TemplateDescriptor, row domain.ImportRow) error {
	lookup := make(map[string]any, len(descriptor.MatchingKeyFields))
	for _, field := range descriptor.MatchingKeyFields {
		value, ok := row.NormalizedValues[field]
		if !ok || formatKeyPart(value) == "" {
			return NewServiceError(domain.IssueCodeRecordNotFound,
				fmt.Sprintf("matching key field %q is empty", field)).WithRow(row.RowNumber).WithField(field)
		}
		lookup[field] = value
	}

	record, found, err := e.records.FindByProperties(ctx, descriptor.EntityType, lookup)
	if err != nil {
		return NewServiceError(domain.IssueCodeUnknownError, "target record lookup failed").
			WithRow(row.RowNumber).WithCause(err)
	}
	if !found {
		key := ""
		if row.MatchingKey != nil {
			key = *row.MatchingKey
		}
		return NewServiceError(domain.IssueCodeRecordNotFound,
			fmt.Sprintf("no record matches key %q", key)).WithRow(row.RowNumber)
	}

	changes := make(map[string]any, len(descriptor.Columns))
	for _, col := range descriptor.Columns {
		if col.PrimaryKey {
			continue
		}
		value, ok := row.NormalizedValues[col.Name]
		if !ok {
			// Columns the uploaded file never carried keep the record's
			// stored value. A cell that is present but cleared nulls out a
			// nullable field; non-nullable fields keep what the record
			// already has.
			if _, _, present := lookupValue(row.EditedValues, col); present && col.Nullable {
				changes[col.Name] = nil
			}
			continue
		}
		changes[col.Name] = value
	}

	if _, err := e.records.Update(ctx, record.WithProperties(changes)); err != nil {
		return NewServiceError(domain.IssueCodeUnknownError, "failed to update target record").
			WithRow(row.RowNumber).WithCause(err)
	}
	return nil
}

func (e *CommitEngine) applyCreate(ctx context.Context, descriptor domain.TemplateDescriptor, row domain.ImportRow) error {
	properties := make(map[string]any, len(descriptor.Columns))
	for _, col := range descriptor.Columns {
		value, ok := row.NormalizedValues[col.Name]
		if !ok {
			if col.Nullable {
				properties[col.Name] = nil
				continue
			}
			// Coercion already applies defaults and zero values, so reaching
			// this branch means the row changed after validation.
			return NewServiceError(domain.IssueCodeInvalidFieldValue,
				fmt.Sprintf("column %q has no value and forbids null", col.Name)).
				WithRow(row.RowNumber).WithField(col.Name)
		}
		properties[col.Name] = value
	}

	record := domain.NewRecord(descriptor.EntityType, properties)
	if _, err := e.records.Insert(ctx, record); err != nil {
		return NewServiceError(domain.IssueCodeUnknownError, "failed to create target record").
			WithRow(row.RowNumber).WithCause(err)
	}
	return nil
}
