package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepUnlock records that a step became available to the learner of an
// assignment. Unlocks are only ever added.
type StepUnlock struct {
	AssignmentID   uuid.UUID `json:"assignment_id"`
	StepSnapshotID uuid.UUID `json:"step_snapshot_id"`
	UnlockedAt     time.Time `json:"unlocked_at"`
}
