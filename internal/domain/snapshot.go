package domain

import (
	"time"

	"github.com/google/uuid"
)

// SimulationSnapshot is the immutable record of one dry run. Snapshots are
// append-only; the commit engine consults only the most recent one.
type SimulationSnapshot struct {
	ID             uuid.UUID `json:"id"`
	BatchID        uuid.UUID `json:"batch_id"`
	CanCommit      bool      `json:"can_commit"`
	WouldCreate    int       `json:"would_create"`
	WouldUpdate    int       `json:"would_update"`
	BlockingErrors int       `json:"blocking_errors"`
	Warnings       int       `json:"warnings"`
	ExecutedAt     time.Time `json:"executed_at"`
	DurationMS     int64     `json:"duration_ms"`
}
