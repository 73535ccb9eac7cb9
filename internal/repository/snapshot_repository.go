package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type snapshotRepository struct {
	db querier
}

// NewSnapshotRepository creates a pgx-backed simulation snapshot repository.
func NewSnapshotRepository(db querier) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) WithTx(tx pgx.Tx) SnapshotRepository {
	return &snapshotRepository{db: tx}
}

func (r *snapshotRepository) Insert(ctx context.Context, snapshot domain.SimulationSnapshot) (domain.SimulationSnapshot, error) {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	// executed_at is stamped by the database so the commit staleness guard
	// compares it against rows.updated_at on the same clock.
	err := r.db.QueryRow(ctx,
		`INSERT INTO import_snapshots (id, batch_id, can_commit, would_create, would_update, blocking_errors, warnings, executed_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8)
		 RETURNING executed_at`,
		snapshot.ID, snapshot.BatchID, snapshot.CanCommit, snapshot.WouldCreate,
		snapshot.WouldUpdate, snapshot.BlockingErrors, snapshot.Warnings,
		snapshot.DurationMS,
	).Scan(&snapshot.ExecutedAt)
	if err != nil {
		return domain.SimulationSnapshot{}, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *snapshotRepository) Latest(ctx context.Context, batchID uuid.UUID) (domain.SimulationSnapshot, bool, error) {
	var snapshot domain.SimulationSnapshot
	err := r.db.QueryRow(ctx,
		`SELECT id, batch_id, can_commit, would_create, would_update, blocking_errors, warnings, executed_at, duration_ms
		 FROM import_snapshots
		 WHERE batch_id = $1
		 ORDER BY executed_at DESC
		 LIMIT 1`,
		batchID,
	).Scan(
		&snapshot.ID, &snapshot.BatchID, &snapshot.CanCommit, &snapshot.WouldCreate,
		&snapshot.WouldUpdate, &snapshot.BlockingErrors, &snapshot.Warnings,
		&snapshot.ExecutedAt, &snapshot.DurationMS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SimulationSnapshot{}, false, nil
		}
		return domain.SimulationSnapshot{}, false, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return snapshot, true, nil
}
