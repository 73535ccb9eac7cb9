package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type batchRepository struct {
	db querier
}

// NewBatchRepository creates a pgx-backed batch repository.
func NewBatchRepository(db querier) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) WithTx(tx pgx.Tx) BatchRepository {
	return &batchRepository{db: tx}
}

const batchColumns = `id, entity_type, template_id, template_version, status, uploader_id,
	file_name, file_format, total_rows, valid_rows, invalid_rows, create_rows,
	update_rows, committed_rows, error_report_path, created_at, updated_at,
	submitted_at, committed_at`

func (r *batchRepository) Create(ctx context.Context, batch domain.ImportBatch) (domain.ImportBatch, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO import_batches (id, entity_type, template_id, template_version, status, uploader_id, file_name, file_format)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+batchColumns,
		batch.ID, batch.EntityType, batch.TemplateID, batch.TemplateVersion,
		batch.Status, batch.UploaderID, batch.FileName, batch.FileFormat,
	)
	created, err := scanBatch(row)
	if err != nil {
		return domain.ImportBatch{}, fmt.Errorf("failed to create batch: %w", err)
	}
	return created, nil
}

func (r *batchRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportBatch, error) {
	row := r.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportBatch{}, fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return domain.ImportBatch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

func (r *batchRepository) List(ctx context.Context, filter domain.BatchFilter, limit, offset int) ([]domain.ImportBatch, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := "TRUE"
	args := []any{}
	idx := 1
	if filter.EntityType != "" {
		where += fmt.Sprintf(" AND entity_type = $%d", idx)
		args = append(args, filter.EntityType)
		idx++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		where += fmt.Sprintf(" AND status = ANY($%d)", idx)
		args = append(args, statuses)
		idx++
	}
	if filter.UploaderID != nil {
		where += fmt.Sprintf(" AND uploader_id = $%d", idx)
		args = append(args, *filter.UploaderID)
		idx++
	}

	query := fmt.Sprintf(
		`SELECT %s, COUNT(*) OVER() AS total_count
		 FROM import_batches
		 WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`,
		batchColumns, where, idx, idx+1,
	)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := []domain.ImportBatch{}
	totalCount := 0
	for rows.Next() {
		batch, count, scanErr := scanBatchWithCount(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("failed to scan batch: %w", scanErr)
		}
		totalCount = count
		batches = append(batches, batch)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, fmt.Errorf("failed to iterate batches: %w", rowsErr)
	}

	return batches, totalCount, nil
}

func (r *batchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BatchStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE import_batches SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *batchRepository) UpdateCounters(ctx context.Context, id uuid.UUID, counters domain.BatchCounters) error {
	_, err := r.db.Exec(ctx,
		`UPDATE import_batches
		 SET total_rows = $2, valid_rows = $3, invalid_rows = $4,
		     create_rows = $5, update_rows = $6, updated_at = NOW()
		 WHERE id = $1`,
		id, counters.TotalRows, counters.ValidRows, counters.InvalidRows,
		counters.CreateRows, counters.UpdateRows,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch counters: %w", err)
	}
	return nil
}

func (r *batchRepository) MarkCommitted(ctx context.Context, id uuid.UUID, committedRows int, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE import_batches
		 SET status = $2, committed_rows = $3, submitted_at = $4, committed_at = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, domain.BatchStatusCommitted, committedRows, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark batch committed: %w", err)
	}
	return nil
}

func (r *batchRepository) SetErrorReportPath(ctx context.Context, id uuid.UUID, path string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE import_batches SET error_report_path = $2, updated_at = NOW() WHERE id = $1`,
		id, path,
	)
	if err != nil {
		return fmt.Errorf("failed to set error report path: %w", err)
	}
	return nil
}

func (r *batchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM import_batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanBatch(row pgx.Row) (domain.ImportBatch, error) {
	var (
		batch       domain.ImportBatch
		reportPath  pgtype.Text
		submittedAt pgtype.Timestamptz
		committedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&batch.ID, &batch.EntityType, &batch.TemplateID, &batch.TemplateVersion,
		&batch.Status, &batch.UploaderID, &batch.FileName, &batch.FileFormat,
		&batch.TotalRows, &batch.ValidRows, &batch.InvalidRows, &batch.CreateRows,
		&batch.UpdateRows, &batch.CommittedRows, &reportPath,
		&batch.CreatedAt, &batch.UpdatedAt, &submittedAt, &committedAt,
	)
	if err != nil {
		return domain.ImportBatch{}, err
	}
	applyBatchNullables(&batch, reportPath, submittedAt, committedAt)
	return batch, nil
}

func scanBatchWithCount(rows pgx.Rows) (domain.ImportBatch, int, error) {
	var (
		batch       domain.ImportBatch
		reportPath  pgtype.Text
		submittedAt pgtype.Timestamptz
		committedAt pgtype.Timestamptz
		totalCount  int
	)
	err := rows.Scan(
		&batch.ID, &batch.EntityType, &batch.TemplateID, &batch.TemplateVersion,
		&batch.Status, &batch.UploaderID, &batch.FileName, &batch.FileFormat,
		&batch.TotalRows, &batch.ValidRows, &batch.InvalidRows, &batch.CreateRows,
		&batch.UpdateRows, &batch.CommittedRows, &reportPath,
		&batch.CreatedAt, &batch.UpdatedAt, &submittedAt, &committedAt,
		&totalCount,
	)
	if err != nil {
		return domain.ImportBatch{}, 0, err
	}
	applyBatchNullables(&batch, reportPath, submittedAt, committedAt)
	return batch, totalCount, nil
}

func applyBatchNullables(batch *domain.ImportBatch, reportPath pgtype.Text, submittedAt, committedAt pgtype.Timestamptz) {
	if reportPath.Valid {
		batch.ErrorReportPath = &reportPath.String
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		batch.SubmittedAt = &t
	}
	if committedAt.Valid {
		t := committedAt.Time
		batch.CommittedAt = &t
	}
}
