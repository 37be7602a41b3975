package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// ProgressStore persists per-component learner progress and step unlocks.
type ProgressStore interface {
	// Find returns the learner's progress on a component of an assignment.
	// Returns ErrProgressNotFound if there has been no interaction yet.
	Find(ctx context.Context, learnerID, assignmentID, componentSnapshotID uuid.UUID) (*domain.ComponentProgress, error)

	// Create inserts a new progress record with version 1.
	// Returns ErrDuplicate if one already exists for the component.
	Create(ctx context.Context, progress *domain.ComponentProgress) error

	// Update writes progress if the stored version still equals
	// progress.Version, then increments the version on both sides.
	// Returns ErrVersionConflict when the stored version differs.
	Update(ctx context.Context, progress *domain.ComponentProgress) error

	// FindAllByAssignment returns every progress record of the assignment.
	FindAllByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*domain.ComponentProgress, error)

	// UnlockedSteps returns the recorded step unlocks of the assignment.
	UnlockedSteps(ctx context.Context, assignmentID uuid.UUID) ([]domain.StepUnlock, error)

	// RecordStepUnlocks stores unlocks; already recorded steps are ignored.
	RecordStepUnlocks(ctx context.Context, unlocks []domain.StepUnlock) error

	// WithTx returns a ProgressStore bound to the transaction.
	WithTx(tx *sql.Tx) ProgressStore
}
