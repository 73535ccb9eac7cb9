package importer

import (
	"context"
	"errors"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"
)

// RowEdit is one requested change to a staged row. Values overlay the row's
// current edited values field by field; an empty string clears the cell.
type RowEdit struct {
	RowNumber int               `json:"rowNumber"`
	Values    map[string]string `json:"values"`
}

// RowPatcher applies reviewer edits to staged rows. Each touched row is
// locked with SELECT ... FOR UPDATE for the duration of the transaction so
// concurrent patches to the same row serialize instead of clobbering.
type RowPatcher struct {
	batches repository.BatchRepository
	rows    repository.RowRepository
}

// NewRowPatcher creates a patcher over the given repositories.
func NewRowPatcher(batches repository.BatchRepository, rows repository.RowRepository) *RowPatcher {
	return &RowPatcher{batches: batches, rows: rows}
}

// Apply overlays the edits onto their rows and moves the batch back to
// REVIEWING, which invalidates any prior validation or simulation verdict.
// Row numbers that do not exist in the batch are skipped silently; the
// returned slice holds the numbers that were actually patched.
func (p *RowPatcher) Apply(ctx context.Context, batch domain.ImportBatch, edits []RowEdit) ([]int, error) {
	patched := make([]int, 0, len(edits))

	for _, edit := range edits {
		row, err := p.rows.GetForUpdate(ctx, batch.ID, edit.RowNumber)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}

		if row.EditedValues == nil {
			row.EditedValues = make(map[string]string, len(edit.Values))
		}
		for field, value := range edit.Values {
			row.EditedValues[field] = value
		}

		if err := p.rows.Update(ctx, row); err != nil {
			return nil, err
		}
		patched = append(patched, edit.RowNumber)
	}

	if len(patched) == 0 {
		return patched, nil
	}

	// Any accepted edit makes previous VALIDATED/SIMULATED verdicts stale.
	if err := p.batches.UpdateStatus(ctx, batch.ID, domain.BatchStatusReviewing); err != nil {
		return nil, err
	}
	return patched, nil
}
