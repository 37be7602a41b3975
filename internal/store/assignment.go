package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// AssignmentStore persists assignments with compare-and-swap updates.
type AssignmentStore interface {
	// Create inserts a new assignment with version 1.
	Create(ctx context.Context, assignment *domain.Assignment) error

	// GetByID returns the assignment.
	// Returns ErrAssignmentNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error)

	// Update replaces the assignment if the stored version equals
	// assignment.Version and increments it. New deadline adjustments are
	// appended; existing ones are never rewritten.
	// Returns ErrVersionConflict when the stored version differs and
	// ErrAssignmentNotFound when the row is gone.
	Update(ctx context.Context, assignment *domain.Assignment) error

	// ListByLearner returns the learner's assignments, newest first.
	ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]*domain.Assignment, error)

	// RecomputeOverdue sets the overdue flag on every assignment from its
	// deadline and status at now and returns how many flags changed.
	RecomputeOverdue(ctx context.Context, now time.Time) (int, error)

	// WithTx returns an AssignmentStore bound to the transaction.
	WithTx(tx *sql.Tx) AssignmentStore
}
