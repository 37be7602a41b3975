package assignment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/service/snapshot"
)

const (
	// DefaultMaxConflictRetries bounds how often a transition is reapplied
	// after a version conflict.
	DefaultMaxConflictRetries = 3

	// DefaultDeadlineBusinessDays is used when an assignment is created
	// without a deadline.
	DefaultDeadlineBusinessDays = 10
)

// CreateInput describes a new assignment.
type CreateInput struct {
	LearnerID  uuid.UUID
	TemplateID uuid.UUID
	MentorIDs  []uuid.UUID
	// Deadline defaults to the configured number of business days from now.
	Deadline  *time.Time
	CreatedBy uuid.UUID
	Context   map[string]any
}

// Service manages assignments.
type Service interface {
	// CreateAssignment snapshots the template and assigns it to the learner.
	// The creator becomes a mentor unless they are the learner.
	CreateAssignment(ctx context.Context, in CreateInput) (*domain.Assignment, error)

	GetAssignment(ctx context.Context, id uuid.UUID) (*domain.Assignment, error)
	ListLearnerAssignments(ctx context.Context, learnerID uuid.UUID) ([]*domain.Assignment, error)

	Start(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error)
	Pause(ctx context.Context, id, actor uuid.UUID, reason string) (*domain.Assignment, error)
	// Resume reopens a paused assignment. With adjustDeadline the pause
	// length is added to the deadline in business days.
	Resume(ctx context.Context, id, actor uuid.UUID, adjustDeadline bool) (*domain.Assignment, error)
	Complete(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error)
	Cancel(ctx context.Context, id, actor uuid.UUID, reason string) (*domain.Assignment, error)
	ExtendDeadline(
		ctx context.Context,
		id, actor uuid.UUID,
		newDeadline time.Time,
		reason string,
	) (*domain.Assignment, error)

	// RecordActivity adds learner time and completes the assignment when
	// flowCompleted is set.
	RecordActivity(ctx context.Context, id uuid.UUID, timeSpentSeconds int, flowCompleted bool) error

	// RecordActivityTx is RecordActivity inside the caller's transaction. The
	// returned function emits the resulting events and must only be called
	// once tx has committed. It satisfies progress.AssignmentGateway.
	RecordActivityTx(
		ctx context.Context,
		tx *sql.Tx,
		id uuid.UUID,
		timeSpentSeconds int,
		flowCompleted bool,
	) (publish func(), err error)

	// RecomputeOverdueFlags refreshes every overdue flag and returns how many
	// changed.
	RecomputeOverdueFlags(ctx context.Context) (int, error)
}

// SnapshotCreator takes and purges flow snapshots. snapshot.Engine satisfies
// it.
type SnapshotCreator interface {
	CreateFlowSnapshot(ctx context.Context, templateID uuid.UUID, opts snapshot.CreateOptions) (*snapshot.CreationResult, error)
	DeleteSnapshot(ctx context.Context, flowSnapshotID uuid.UUID) error
}

// Options tune the service.
type Options struct {
	DefaultDeadlineBusinessDays int
	MaxConflictRetries          int
}

var errNilDependency = errors.New("dependency cannot be nil")
