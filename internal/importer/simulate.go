package importer

import (
	"context"
	"time"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"

	"github.com/google/uuid"
)

// SimulationEngine runs the commit dry run over the batch's current rows and
// issues: a pure read plus one snapshot insert. It never mutates rows, so the
// verdict reflects whatever the latest staging or validation pass left
// behind; callers validate first when edits happened since.
type SimulationEngine struct {
	batches   repository.BatchRepository
	rows      repository.RowRepository
	issues    repository.IssueRepository
	snapshots repository.SnapshotRepository
}

// NewSimulationEngine creates an engine over the given repositories.
func NewSimulationEngine(batches repository.BatchRepository, rows repository.RowRepository, issues repository.IssueRepository, snapshots repository.SnapshotRepository) *SimulationEngine {
	return &SimulationEngine{
		batches:   batches,
		rows:      rows,
		issues:    issues,
		snapshots: snapshots,
	}
}

// Simulate tallies what a commit would do and persists the snapshot. The
// batch moves to SIMULATED when the dataset could commit, SIMULATION_FAILED
// otherwise.
func (e *SimulationEngine) Simulate(ctx context.Context, batch domain.ImportBatch) (domain.SimulationSnapshot, error) {
	started := time.Now()

	rows, err := e.rows.ListByBatch(ctx, batch.ID)
	if err != nil {
		return domain.SimulationSnapshot{}, err
	}

	wouldCreate := 0
	wouldUpdate := 0
	invalidRows := 0
	for _, row := range rows {
		if row.Status == domain.RowStatusInvalid {
			invalidRows++
			continue
		}
		switch row.Action {
		case domain.RowActionCreate:
			wouldCreate++
		case domain.RowActionUpdate:
			wouldUpdate++
		}
	}

	errorCount, warningCount, err := e.issues.CountBySeverity(ctx, batch.ID)
	if err != nil {
		return domain.SimulationSnapshot{}, err
	}

	// Refresh the batch's cached projections without touching the rows.
	counters, err := e.rows.Counters(ctx, batch.ID)
	if err != nil {
		return domain.SimulationSnapshot{}, err
	}
	if err := e.batches.UpdateCounters(ctx, batch.ID, counters); err != nil {
		return domain.SimulationSnapshot{}, err
	}

	snapshot := domain.SimulationSnapshot{
		ID:             uuid.New(),
		BatchID:        batch.ID,
		CanCommit:      errorCount == 0 && invalidRows == 0,
		WouldCreate:    wouldCreate,
		WouldUpdate:    wouldUpdate,
		BlockingErrors: errorCount,
		Warnings:       warningCount,
		DurationMS:     time.Since(started).Milliseconds(),
	}

	// The store stamps executed_at, so the staleness guard later compares it
	// against row edit times taken from the same clock.
	snapshot, err = e.snapshots.Insert(ctx, snapshot)
	if err != nil {
		return domain.SimulationSnapshot{}, err
	}

	status := domain.BatchStatusSimulated
	if !snapshot.CanCommit {
		status = domain.BatchStatusSimulationFailed
	}
	if err := e.batches.UpdateStatus(ctx, batch.ID, status); err != nil {
		return domain.SimulationSnapshot{}, err
	}

	return snapshot, nil
}
