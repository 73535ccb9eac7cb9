package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type recordRepository struct {
	db querier
}

// NewRecordRepository creates a pgx-backed target record store.
func NewRecordRepository(db querier) RecordRepository {
	return &recordRepository{db: db}
}

func (r *recordRepository) WithTx(tx pgx.Tx) RecordRepository {
	return &recordRepository{db: tx}
}

func (r *recordRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, entity_type, properties, created_at, updated_at FROM records WHERE id = $1`,
		id,
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return domain.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

func (r *recordRepository) FindByProperties(ctx context.Context, entityType string, properties map[string]any) (domain.Record, bool, error) {
	if len(properties) == 0 {
		return domain.Record{}, false, errors.New("at least one property is required")
	}
	filterJSON, err := json.Marshal(properties)
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("failed to marshal property filter: %w", err)
	}

	row := r.db.QueryRow(ctx,
		`SELECT id, entity_type, properties, created_at, updated_at
		 FROM records
		 WHERE entity_type = $1 AND properties @> $2
		 ORDER BY created_at
		 LIMIT 1`,
		entityType, filterJSON,
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, fmt.Errorf("failed to find record by properties: %w", err)
	}
	return record, true, nil
}

func (r *recordRepository) Insert(ctx context.Context, record domain.Record) (domain.Record, error) {
	propertiesJSON, err := record.PropertiesJSON()
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to marshal properties: %w", err)
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO records (id, entity_type, properties)
		 VALUES ($1, $2, $3)
		 RETURNING id, entity_type, properties, created_at, updated_at`,
		record.ID, record.EntityType, propertiesJSON,
	)
	created, err := scanRecord(row)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to insert record: %w", err)
	}
	return created, nil
}

func (r *recordRepository) Update(ctx context.Context, record domain.Record) (domain.Record, error) {
	propertiesJSON, err := record.PropertiesJSON()
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to marshal properties: %w", err)
	}
	row := r.db.QueryRow(ctx,
		`UPDATE records SET properties = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING id, entity_type, properties, created_at, updated_at`,
		record.ID, propertiesJSON,
	)
	updated, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, fmt.Errorf("record %s: %w", record.ID, ErrNotFound)
		}
		return domain.Record{}, fmt.Errorf("failed to update record: %w", err)
	}
	return updated, nil
}

func (r *recordRepository) CountByType(ctx context.Context, entityType string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM records WHERE entity_type = $1`,
		entityType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		record         domain.Record
		propertiesJSON json.RawMessage
	)
	err := row.Scan(&record.ID, &record.EntityType, &propertiesJSON, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return domain.Record{}, err
	}
	properties, err := domain.PropertiesFromJSON(propertiesJSON)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to decode properties for record %s: %w", record.ID, err)
	}
	record.Properties = properties
	return record, nil
}
