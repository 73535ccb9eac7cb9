package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type rowRepository struct {
	db querier
}

// NewRowRepository creates a pgx-backed import row repository.
func NewRowRepository(db querier) RowRepository {
	return &rowRepository{db: db}
}

func (r *rowRepository) WithTx(tx pgx.Tx) RowRepository {
	return &rowRepository{db: tx}
}

const rowColumns = `id, batch_id, row_number, source_values, edited_values,
	normalized_values, matching_key, action, target_record_id, status,
	issue_count, updated_at`

func (r *rowRepository) ReplaceForBatch(ctx context.Context, batchID uuid.UUID, rows []domain.ImportRow) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM import_rows WHERE batch_id = $1`, batchID); err != nil {
		return fmt.Errorf("failed to clear staged rows: %w", err)
	}

	for _, row := range rows {
		if err := r.insert(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (r *rowRepository) insert(ctx context.Context, row domain.ImportRow) error {
	sourceJSON, err := row.SourceValuesJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal source values: %w", err)
	}
	editedJSON, err := row.EditedValuesJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal edited values: %w", err)
	}
	normalizedJSON, err := row.NormalizedValuesJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal normalized values: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO import_rows (id, batch_id, row_number, source_values, edited_values,
		     normalized_values, matching_key, action, target_record_id, status, issue_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		row.ID, row.BatchID, row.RowNumber, sourceJSON, editedJSON,
		normalizedJSON, row.MatchingKey, row.Action, row.TargetRecordID,
		row.Status, row.IssueCount, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert row %d: %w", row.RowNumber, err)
	}
	return nil
}

func (r *rowRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.ImportRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+rowColumns+` FROM import_rows WHERE batch_id = $1 ORDER BY row_number`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

func (r *rowRepository) ListByNumbers(ctx context.Context, batchID uuid.UUID, rowNumbers []int) ([]domain.ImportRow, error) {
	if len(rowNumbers) == 0 {
		return []domain.ImportRow{}, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+rowColumns+` FROM import_rows
		 WHERE batch_id = $1 AND row_number = ANY($2)
		 ORDER BY row_number`,
		batchID, rowNumbers,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows by number: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

func (r *rowRepository) GetForUpdate(ctx context.Context, batchID uuid.UUID, rowNumber int) (domain.ImportRow, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM import_rows
		 WHERE batch_id = $1 AND row_number = $2
		 FOR UPDATE`,
		batchID, rowNumber,
	)
	staged, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportRow{}, fmt.Errorf("row %d: %w", rowNumber, ErrNotFound)
		}
		return domain.ImportRow{}, fmt.Errorf("failed to lock row %d: %w", rowNumber, err)
	}
	return staged, nil
}

func (r *rowRepository) Update(ctx context.Context, row domain.ImportRow) error {
	editedJSON, err := row.EditedValuesJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal edited values: %w", err)
	}
	normalizedJSON, err := row.NormalizedValuesJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal normalized values: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE import_rows
		 SET edited_values = $3, normalized_values = $4, matching_key = $5,
		     action = $6, target_record_id = $7, status = $8, issue_count = $9,
		     updated_at = NOW()
		 WHERE batch_id = $1 AND row_number = $2`,
		row.BatchID, row.RowNumber, editedJSON, normalizedJSON, row.MatchingKey,
		row.Action, row.TargetRecordID, row.Status, row.IssueCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update row %d: %w", row.RowNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("row %d: %w", row.RowNumber, ErrNotFound)
	}
	return nil
}

func (r *rowRepository) MarkCommitted(ctx context.Context, batchID uuid.UUID, rowNumbers []int) error {
	if len(rowNumbers) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE import_rows SET status = $3, updated_at = NOW()
		 WHERE batch_id = $1 AND row_number = ANY($2)`,
		batchID, rowNumbers, domain.RowStatusCommitted,
	)
	if err != nil {
		return fmt.Errorf("failed to mark rows committed: %w", err)
	}
	return nil
}

func (r *rowRepository) LastEditedAt(ctx context.Context, batchID uuid.UUID) (time.Time, error) {
	var lastEdited pgtype.Timestamptz
	err := r.db.QueryRow(ctx,
		`SELECT MAX(updated_at) FROM import_rows WHERE batch_id = $1`,
		batchID,
	).Scan(&lastEdited)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last edit time: %w", err)
	}
	if !lastEdited.Valid {
		return time.Time{}, nil
	}
	return lastEdited.Time, nil
}

func (r *rowRepository) Counters(ctx context.Context, batchID uuid.UUID) (domain.BatchCounters, error) {
	var counters domain.BatchCounters
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status <> $2),
		        COUNT(*) FILTER (WHERE status = $2),
		        COUNT(*) FILTER (WHERE status <> $2 AND action = $3),
		        COUNT(*) FILTER (WHERE status <> $2 AND action = $4)
		 FROM import_rows WHERE batch_id = $1`,
		batchID, domain.RowStatusInvalid, domain.RowActionCreate, domain.RowActionUpdate,
	).Scan(
		&counters.TotalRows, &counters.ValidRows, &counters.InvalidRows,
		&counters.CreateRows, &counters.UpdateRows,
	)
	if err != nil {
		return domain.BatchCounters{}, fmt.Errorf("failed to compute batch counters: %w", err)
	}
	return counters, nil
}

func collectRows(rows pgx.Rows) ([]domain.ImportRow, error) {
	staged := []domain.ImportRow{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		staged = append(staged, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return staged, nil
}

func scanRow(row pgx.Row) (domain.ImportRow, error) {
	var (
		staged         domain.ImportRow
		sourceJSON     json.RawMessage
		editedJSON     json.RawMessage
		normalizedJSON json.RawMessage
		matchingKey    pgtype.Text
		targetRecordID pgtype.UUID
	)
	err := row.Scan(
		&staged.ID, &staged.BatchID, &staged.RowNumber, &sourceJSON, &editedJSON,
		&normalizedJSON, &matchingKey, &staged.Action, &targetRecordID,
		&staged.Status, &staged.IssueCount, &staged.UpdatedAt,
	)
	if err != nil {
		return domain.ImportRow{}, err
	}

	if err := json.Unmarshal(sourceJSON, &staged.SourceValues); err != nil {
		return domain.ImportRow{}, fmt.Errorf("failed to decode source values: %w", err)
	}
	if err := json.Unmarshal(editedJSON, &staged.EditedValues); err != nil {
		return domain.ImportRow{}, fmt.Errorf("failed to decode edited values: %w", err)
	}
	if len(normalizedJSON) > 0 {
		if err := json.Unmarshal(normalizedJSON, &staged.NormalizedValues); err != nil {
			return domain.ImportRow{}, fmt.Errorf("failed to decode normalized values: %w", err)
		}
	}
	if matchingKey.Valid {
		staged.MatchingKey = &matchingKey.String
	}
	if targetRecordID.Valid {
		id := uuid.UUID(targetRecordID.Bytes)
		staged.TargetRecordID = &id
	}
	return staged, nil
}
