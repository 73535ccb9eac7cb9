package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the lifecycle state of an import batch.
type BatchStatus string

const (
	BatchStatusUploaded         BatchStatus = "UPLOADED"
	BatchStatusParsed           BatchStatus = "PARSED"
	BatchStatusReviewing        BatchStatus = "REVIEWING"
	BatchStatusValidationFailed BatchStatus = "VALIDATION_FAILED"
	BatchStatusValidated        BatchStatus = "VALIDATED"
	BatchStatusSimulationFailed BatchStatus = "SIMULATION_FAILED"
	BatchStatusSimulated        BatchStatus = "SIMULATED"
	BatchStatusCommitted        BatchStatus = "COMMITTED"
	BatchStatusFailed           BatchStatus = "FAILED"
	BatchStatusCancelled        BatchStatus = "CANCELLED"
	BatchStatusExpired          BatchStatus = "EXPIRED"
)

// IsTerminal reports whether no further pipeline stage may mutate the batch.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCommitted, BatchStatusCancelled, BatchStatusExpired:
		return true
	}
	return false
}

// FileFormat identifies the upload payload encoding.
type FileFormat string

const (
	FileFormatCSV  FileFormat = "CSV"
	FileFormatXLSX FileFormat = "XLSX"
)

// ImportBatch represents one import run covering one uploaded file.
type ImportBatch struct {
	ID              uuid.UUID   `json:"id"`
	EntityType      string      `json:"entity_type"`
	TemplateID      string      `json:"template_id"`
	TemplateVersion string      `json:"template_version"`
	Status          BatchStatus `json:"status"`
	UploaderID      uuid.UUID   `json:"uploader_id"`
	FileName        string      `json:"file_name"`
	FileFormat      FileFormat  `json:"file_format"`
	TotalRows       int         `json:"total_rows"`
	ValidRows       int         `json:"valid_rows"`
	InvalidRows     int         `json:"invalid_rows"`
	CreateRows      int         `json:"create_rows"`
	UpdateRows      int         `json:"update_rows"`
	CommittedRows   int         `json:"committed_rows"`
	ErrorReportPath *string     `json:"error_report_path,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	SubmittedAt     *time.Time  `json:"submitted_at,omitempty"`
	CommittedAt     *time.Time  `json:"committed_at,omitempty"`
}

// NewImportBatch creates a batch in the UPLOADED state.
func NewImportBatch(entityType, templateID, templateVersion string, uploaderID uuid.UUID, fileName string, format FileFormat) ImportBatch {
	now := time.Now()
	return ImportBatch{
		ID:              uuid.New(),
		EntityType:      entityType,
		TemplateID:      templateID,
		TemplateVersion: templateVersion,
		Status:          BatchStatusUploaded,
		UploaderID:      uploaderID,
		FileName:        fileName,
		FileFormat:      format,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// BatchCounters aggregates the row counts cached on a batch.
type BatchCounters struct {
	TotalRows   int
	ValidRows   int
	InvalidRows int
	CreateRows  int
	UpdateRows  int
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	EntityType string
	Statuses   []BatchStatus
	UploaderID *uuid.UUID
}
