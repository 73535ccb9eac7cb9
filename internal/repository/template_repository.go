package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raillogistic/bulkimport/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type templateRepository struct {
	db querier
}

// NewTemplateRepository creates a pgx-backed template catalog.
func NewTemplateRepository(db querier) TemplateRepository {
	return &templateRepository{db: db}
}

const templateColumns = `template_id, version, entity_type, matching_key_fields,
	columns, accepted_formats, max_rows, max_file_size_bytes, download_url`

func (r *templateRepository) Current(ctx context.Context, entityType string) (domain.TemplateDescriptor, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM import_templates
		 WHERE entity_type = $1 AND current
		 LIMIT 1`,
		entityType,
	)
	descriptor, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TemplateDescriptor{}, fmt.Errorf("template for %s: %w", entityType, ErrNotFound)
		}
		return domain.TemplateDescriptor{}, fmt.Errorf("failed to load current template: %w", err)
	}
	return descriptor, nil
}

func (r *templateRepository) Get(ctx context.Context, templateID, version string) (domain.TemplateDescriptor, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM import_templates
		 WHERE template_id = $1 AND version = $2`,
		templateID, version,
	)
	descriptor, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TemplateDescriptor{}, fmt.Errorf("template %s@%s: %w", templateID, version, ErrNotFound)
		}
		return domain.TemplateDescriptor{}, fmt.Errorf("failed to load template: %w", err)
	}
	return descriptor, nil
}

func (r *templateRepository) Save(ctx context.Context, descriptor domain.TemplateDescriptor) error {
	columnsJSON, err := descriptor.ColumnsJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal template columns: %w", err)
	}
	formats := make([]string, len(descriptor.AcceptedFormats))
	for i, format := range descriptor.AcceptedFormats {
		formats[i] = string(format)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO import_templates (template_id, version, entity_type, matching_key_fields, columns, accepted_formats, max_rows, max_file_size_bytes, download_url, current)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		 ON CONFLICT (template_id, version) DO UPDATE
		 SET matching_key_fields = EXCLUDED.matching_key_fields,
		     columns = EXCLUDED.columns,
		     accepted_formats = EXCLUDED.accepted_formats,
		     max_rows = EXCLUDED.max_rows,
		     max_file_size_bytes = EXCLUDED.max_file_size_bytes,
		     download_url = EXCLUDED.download_url`,
		descriptor.TemplateID, descriptor.Version, descriptor.EntityType,
		descriptor.MatchingKeyFields, columnsJSON, formats,
		descriptor.MaxRows, descriptor.MaxFileSizeBytes, descriptor.DownloadURL,
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	// Newest saved version becomes the current one for its entity type.
	_, err = r.db.Exec(ctx,
		`UPDATE import_templates
		 SET current = (template_id = $2 AND version = $3)
		 WHERE entity_type = $1`,
		descriptor.EntityType, descriptor.TemplateID, descriptor.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to promote template version: %w", err)
	}
	return nil
}

func scanTemplate(row pgx.Row) (domain.TemplateDescriptor, error) {
	var (
		descriptor  domain.TemplateDescriptor
		keyFields   []string
		columnsJSON json.RawMessage
		formats     []string
		downloadURL pgtype.Text
	)
	err := row.Scan(
		&descriptor.TemplateID, &descriptor.Version, &descriptor.EntityType,
		&keyFields, &columnsJSON, &formats,
		&descriptor.MaxRows, &descriptor.MaxFileSizeBytes, &downloadURL,
	)
	if err != nil {
		return domain.TemplateDescriptor{}, err
	}

	columns, err := domain.ColumnsFromJSON(columnsJSON)
	if err != nil {
		return domain.TemplateDescriptor{}, fmt.Errorf("failed to decode template columns: %w", err)
	}
	descriptor.MatchingKeyFields = keyFields
	descriptor.Columns = columns
	descriptor.AcceptedFormats = make([]domain.FileFormat, len(formats))
	for i, format := range formats {
		descriptor.AcceptedFormats[i] = domain.FileFormat(format)
	}
	if downloadURL.Valid {
		descriptor.DownloadURL = downloadURL.String
	}
	return descriptor, nil
}
