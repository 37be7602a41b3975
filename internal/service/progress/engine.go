package progress

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/domain/grading"
)

// ActionReset labels reset events. It is not a learner action.
const ActionReset domain.ProgressAction = "reset"

// ActionData is the optional payload of a learner action. Which fields are
// read depends on the action and the component type.
type ActionData struct {
	// TimeSpentSeconds is added to the component and assignment totals.
	TimeSpentSeconds int `json:"time_spent_seconds,omitempty" validate:"gte=0"`

	// Article
	ScrollDepth        *int `json:"scroll_depth,omitempty" validate:"omitempty,gte=0,lte=100"`
	ReadingTimeSeconds int  `json:"reading_time_seconds,omitempty" validate:"gte=0"`

	// Task
	Answer *string `json:"answer,omitempty"`

	// Quiz
	Answers       map[string][]string `json:"answers,omitempty"`
	QuizStartedAt *time.Time          `json:"quiz_started_at,omitempty"`

	// Video
	Position        *int                  `json:"position,omitempty" validate:"omitempty,gte=0"`
	WatchedSegments []domain.VideoSegment `json:"watched_segments,omitempty"`
	WatchedPercent  *int                  `json:"watched_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// Evaluation is the graded outcome of a submit_answer action.
type Evaluation struct {
	Passed            bool                `json:"passed"`
	Score             int                 `json:"score"`
	Task              *grading.TaskMatch  `json:"task,omitempty"`
	Quiz              *grading.QuizResult `json:"quiz,omitempty"`
	AttemptsUsed      int                 `json:"attempts_used"`
	AttemptsRemaining *int                `json:"attempts_remaining,omitempty"`
}

// UnlockResult lists steps that became available during an update, with the
// components inside them.
type UnlockResult struct {
	StepIDs      []uuid.UUID `json:"step_ids"`
	ComponentIDs []uuid.UUID `json:"component_ids"`
}

// UpdateResult is the outcome of UpdateComponentProgress.
type UpdateResult struct {
	Progress      *domain.ComponentProgress `json:"progress"`
	Unlock        UnlockResult              `json:"unlock"`
	Evaluation    *Evaluation               `json:"evaluation,omitempty"`
	FlowCompleted bool                      `json:"flow_completed"`
}

// ComponentSummary is one component's line in a progress summary.
type ComponentSummary struct {
	ComponentID      uuid.UUID             `json:"component_id"`
	Type             domain.ComponentType  `json:"type"`
	Title            string                `json:"title"`
	IsRequired       bool                  `json:"is_required"`
	Status           domain.ProgressStatus `json:"status"`
	Attempts         int                   `json:"attempts"`
	TimeSpentSeconds int                   `json:"time_spent_seconds"`
}

// StepSummary is one step's line in a progress summary.
type StepSummary struct {
	StepID              uuid.UUID          `json:"step_id"`
	Order               int                `json:"order"`
	Title               string             `json:"title"`
	Unlocked            bool               `json:"unlocked"`
	CompletedComponents int                `json:"completed_components"`
	TotalComponents     int                `json:"total_components"`
	Percentage          int                `json:"percentage"`
	Components          []ComponentSummary `json:"components"`
}

// NextComponent points at the first unfinished component in unlocked order.
type NextComponent struct {
	StepID      uuid.UUID `json:"step_id"`
	ComponentID uuid.UUID `json:"component_id"`
}

// Stats aggregates a learner's effort on an assignment.
type Stats struct {
	TimeSpentSeconds    int `json:"time_spent_seconds"`
	Attempts            int `json:"attempts"`
	CompletedComponents int `json:"completed_components"`
	TotalComponents     int `json:"total_components"`
	CompletedSteps      int `json:"completed_steps"`
	TotalSteps          int `json:"total_steps"`
}

// Summary is the aggregated progress of a learner on an assignment.
type Summary struct {
	AssignmentID    uuid.UUID      `json:"assignment_id"`
	LearnerID       uuid.UUID      `json:"learner_id"`
	FlowSnapshotID  uuid.UUID      `json:"flow_snapshot_id"`
	Steps           []StepSummary  `json:"steps"`
	UnlockedStepIDs []uuid.UUID    `json:"unlocked_step_ids"`
	Next            *NextComponent `json:"next,omitempty"`
	Stats           Stats          `json:"stats"`
	Percentage      int            `json:"percentage"`
	Completed       bool           `json:"completed"`
}

// Engine applies learner actions and reports progress.
type Engine interface {
	// UpdateComponentProgress applies action to the learner's progress on a
	// component, persists it, records newly unlocked steps and reports
	// activity to the assignment.
	//
	// Returns:
	//   - *domain.ValidationError for an unknown action or malformed data
	//   - domain.ErrForbidden if the assignment belongs to another learner
	//   - *domain.DomainError if the assignment is not in progress, the step
	//     is locked, or the action is not allowed in the current state
	//   - domain.ErrConflict if the record changed concurrently
	UpdateComponentProgress(
		ctx context.Context,
		learnerID, assignmentID, componentID uuid.UUID,
		action domain.ProgressAction,
		data ActionData,
	) (*UpdateResult, error)

	// GetProgressSummary aggregates the learner's progress on an assignment.
	GetProgressSummary(ctx context.Context, learnerID, assignmentID uuid.UUID) (*Summary, error)

	// ResetComponentProgress returns a component to NOT_STARTED. Task and quiz
	// attempt histories are kept; recorded unlocks are untouched.
	ResetComponentProgress(
		ctx context.Context,
		learnerID, assignmentID, componentID uuid.UUID,
	) (*domain.ComponentProgress, error)
}

// AssignmentReader loads assignments. store.AssignmentStore satisfies it.
type AssignmentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error)
}

// TreeReader loads snapshot trees. snapshot.Engine satisfies it.
type TreeReader interface {
	GetSnapshotTree(ctx context.Context, flowSnapshotID uuid.UUID) (*domain.SnapshotTree, error)
}

// AssignmentGateway receives learner activity inside the progress
// transaction. The assignment lifecycle service implements it and completes
// the assignment when flowCompleted is set. The returned publish function is
// called only after tx commits.
type AssignmentGateway interface {
	RecordActivityTx(
		ctx context.Context,
		tx *sql.Tx,
		assignmentID uuid.UUID,
		timeSpentSeconds int,
		flowCompleted bool,
	) (publish func(), err error)
}

// Observer records action outcomes. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveProgressAction(componentType, action string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveProgressAction(string, string, error) {}

var errNilDependency = errors.New("dependency cannot be nil")
