package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RowAction decides whether a staged row creates a new target record or
// updates an existing one.
type RowAction string

const (
	RowActionCreate RowAction = "CREATE"
	RowActionUpdate RowAction = "UPDATE"
)

// RowStatus represents the state of a staged row.
type RowStatus string

const (
	RowStatusValid     RowStatus = "VALID"
	RowStatusInvalid   RowStatus = "INVALID"
	RowStatusReady     RowStatus = "READY"
	RowStatusLocked    RowStatus = "LOCKED"
	RowStatusCommitted RowStatus = "COMMITTED"
)

// ImportRow is the in-progress representation of one source row before
// commit. SourceValues are immutable after staging; EditedValues track the
// latest client submission and NormalizedValues hold the coerced result of
// the most recent validation pass.
type ImportRow struct {
	ID               uuid.UUID         `json:"id"`
	BatchID          uuid.UUID         `json:"batch_id"`
	RowNumber        int               `json:"row_number"`
	SourceValues     map[string]string `json:"source_values"`
	EditedValues     map[string]string `json:"edited_values"`
	NormalizedValues map[string]any    `json:"normalized_values,omitempty"`
	MatchingKey      *string           `json:"matching_key,omitempty"`
	Action           RowAction         `json:"action"`
	TargetRecordID   *uuid.UUID        `json:"target_record_id,omitempty"`
	Status           RowStatus         `json:"status"`
	IssueCount       int               `json:"issue_count"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewImportRow stages a parsed source row with defaults: CREATE action,
// VALID status, edited values seeded from the raw payload.
func NewImportRow(batchID uuid.UUID, rowNumber int, source map[string]string) ImportRow {
	return ImportRow{
		ID:           uuid.New(),
		BatchID:      batchID,
		RowNumber:    rowNumber,
		SourceValues: copyStringMap(source),
		EditedValues: copyStringMap(source),
		Action:       RowActionCreate,
		Status:       RowStatusValid,
		UpdatedAt:    time.Now(),
	}
}

// SourceValuesJSON returns the raw cell map for JSONB storage.
func (r ImportRow) SourceValuesJSON() (json.RawMessage, error) {
	return json.Marshal(r.SourceValues)
}

// EditedValuesJSON returns the edited cell map for JSONB storage.
func (r ImportRow) EditedValuesJSON() (json.RawMessage, error) {
	return json.Marshal(r.EditedValues)
}

// NormalizedValuesJSON returns the coerced value map for JSONB storage, or
// nil when the row has not been validated yet.
func (r ImportRow) NormalizedValuesJSON() (json.RawMessage, error) {
	if r.NormalizedValues == nil {
		return nil, nil
	}
	return json.Marshal(r.NormalizedValues)
}

func copyStringMap(values map[string]string) map[string]string {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return copied
}
