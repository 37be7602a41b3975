package domain

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssignmentStatus is the lifecycle state of an assignment.
type AssignmentStatus string

// Assignment statuses
const (
	AssignmentNotStarted AssignmentStatus = "not_started"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentPaused     AssignmentStatus = "paused"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentCompleted || s == AssignmentCancelled
}

// IsValid reports whether s is a known assignment status.
func (s AssignmentStatus) IsValid() bool {
	switch s {
	case AssignmentNotStarted, AssignmentInProgress, AssignmentPaused, AssignmentCompleted, AssignmentCancelled:
		return true
	default:
		return false
	}
}

// Assignment lifecycle errors
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDeadlineNotLater  = errors.New("new deadline must be after the current deadline")
	ErrReasonRequired    = errors.New("reason is required")
)

// AdjustmentKind names why a deadline moved.
type AdjustmentKind string

// Deadline adjustment kinds
const (
	AdjustmentExtension AdjustmentKind = "extension"
	AdjustmentPause     AdjustmentKind = "pause"
)

// DeadlineAdjustment is an immutable audit record of a deadline change.
type DeadlineAdjustment struct {
	ID               uuid.UUID      `json:"id"`
	Kind             AdjustmentKind `json:"kind"`
	PreviousDeadline time.Time      `json:"previous_deadline"`
	NewDeadline      time.Time      `json:"new_deadline"`
	DeltaDays        int            `json:"delta_days"`
	Reason           string         `json:"reason"`
	AdjustedBy       uuid.UUID      `json:"adjusted_by"`
	AdjustedAt       time.Time      `json:"adjusted_at"`
}

// PauseInfo records who paused an assignment, when and why.
type PauseInfo struct {
	PausedAt time.Time `json:"paused_at"`
	PausedBy uuid.UUID `json:"paused_by"`
	Reason   string    `json:"reason"`
}

// CancellationInfo records who cancelled an assignment, when and why.
type CancellationInfo struct {
	CancelledAt time.Time `json:"cancelled_at"`
	CancelledBy uuid.UUID `json:"cancelled_by"`
	Reason      string    `json:"reason"`
}

// BusinessDayAdder shifts a date by working days. calendar.Calendar
// satisfies it.
type BusinessDayAdder interface {
	AddBusinessDays(from time.Time, days int) time.Time
}

// Assignment binds a learner to a flow snapshot with a deadline.
//
// Transition methods never mutate the receiver; they return the next value.
// Version is owned by the store and used for compare-and-swap updates.
type Assignment struct {
	ID               uuid.UUID            `json:"id"`
	LearnerID        uuid.UUID            `json:"learner_id"`
	FlowSnapshotID   uuid.UUID            `json:"flow_snapshot_id"`
	Status           AssignmentStatus     `json:"status"`
	Deadline         time.Time            `json:"deadline"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
	LastActivityAt   *time.Time           `json:"last_activity_at,omitempty"`
	PauseState       *PauseInfo           `json:"pause,omitempty"`
	Cancellation     *CancellationInfo    `json:"cancellation,omitempty"`
	TimeSpentSeconds int                  `json:"time_spent_seconds"`
	MentorIDs        []uuid.UUID          `json:"mentor_ids"`
	IsOverdue        bool                 `json:"is_overdue"`
	Adjustments      []DeadlineAdjustment `json:"adjustments"`
	Version          int                  `json:"version"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// NewAssignment creates a NOT_STARTED assignment.
func NewAssignment(
	learnerID, flowSnapshotID uuid.UUID,
	mentorIDs []uuid.UUID,
	deadline, now time.Time,
) (*Assignment, error) {
	if learnerID == uuid.Nil {
		return nil, NewValidationError("learner_id", "cannot be empty", ErrInvalidID)
	}
	if flowSnapshotID == uuid.Nil {
		return nil, NewValidationError("flow_snapshot_id", "cannot be empty", ErrInvalidID)
	}
	if deadline.IsZero() {
		return nil, NewValidationError("deadline", "cannot be empty", nil)
	}
	if slices.Contains(mentorIDs, uuid.Nil) {
		return nil, NewValidationError("mentor_ids", "cannot contain empty IDs", ErrInvalidID)
	}
	return &Assignment{
		ID:             uuid.New(),
		LearnerID:      learnerID,
		FlowSnapshotID: flowSnapshotID,
		Status:         AssignmentNotStarted,
		Deadline:       deadline,
		MentorIDs:      cloneIDs(mentorIDs),
		Adjustments:    []DeadlineAdjustment{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsLearner reports whether actor is the assignment's learner.
func (a *Assignment) IsLearner(actor uuid.UUID) bool {
	return actor != uuid.Nil && actor == a.LearnerID
}

// IsMentor reports whether actor is one of the assignment's mentors.
func (a *Assignment) IsMentor(actor uuid.UUID) bool {
	return actor != uuid.Nil && slices.Contains(a.MentorIDs, actor)
}

// IsOverdueAt reports whether the assignment is past its deadline while still
// outstanding.
func (a *Assignment) IsOverdueAt(now time.Time) bool {
	if a.Status != AssignmentNotStarted && a.Status != AssignmentInProgress {
		return false
	}
	return a.Deadline.Before(now)
}

// Start moves NOT_STARTED to IN_PROGRESS. Only the learner may start.
func (a *Assignment) Start(actor uuid.UUID, now time.Time) (*Assignment, error) {
	if !a.IsLearner(actor) {
		return nil, forbidden("start", actor)
	}
	if a.Status != AssignmentNotStarted {
		return nil, invalidTransition(a.Status, AssignmentInProgress)
	}
	next := a.Clone()
	next.Status = AssignmentInProgress
	next.StartedAt = &now
	next.LastActivityAt = &now
	next.UpdatedAt = now
	return next, nil
}

// Pause moves IN_PROGRESS to PAUSED. The learner or a mentor may pause and a
// reason is required.
func (a *Assignment) Pause(actor uuid.UUID, reason string, now time.Time) (*Assignment, error) {
	if !a.IsLearner(actor) && !a.IsMentor(actor) {
		return nil, forbidden("pause", actor)
	}
	if a.Status != AssignmentInProgress {
		return nil, invalidTransition(a.Status, AssignmentPaused)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, NewValidationError("reason", "pause reason cannot be empty", ErrReasonRequired)
	}
	next := a.Clone()
	next.Status = AssignmentPaused
	next.PauseState = &PauseInfo{PausedAt: now, PausedBy: actor, Reason: reason}
	next.UpdatedAt = now
	return next, nil
}

// Resume moves PAUSED back to IN_PROGRESS. When cal is non-nil the pause
// duration, rounded up to whole calendar days, is added to the deadline as
// business days and recorded as a pause adjustment.
func (a *Assignment) Resume(actor uuid.UUID, now time.Time, cal BusinessDayAdder) (*Assignment, error) {
	if !a.IsLearner(actor) && !a.IsMentor(actor) {
		return nil, forbidden("resume", actor)
	}
	if a.Status != AssignmentPaused {
		return nil, invalidTransition(a.Status, AssignmentInProgress)
	}
	next := a.Clone()
	next.Status = AssignmentInProgress
	next.LastActivityAt = &now
	next.UpdatedAt = now

	if cal != nil && a.PauseState != nil {
		days := PauseDays(a.PauseState.PausedAt, now)
		if days > 0 {
			newDeadline := cal.AddBusinessDays(a.Deadline, days)
			next.Deadline = newDeadline
			next.Adjustments = append(next.Adjustments, DeadlineAdjustment{
				ID:               uuid.New(),
				Kind:             AdjustmentPause,
				PreviousDeadline: a.Deadline,
				NewDeadline:      newDeadline,
				DeltaDays:        days,
				Reason:           a.PauseState.Reason,
				AdjustedBy:       actor,
				AdjustedAt:       now,
			})
		}
	}
	next.PauseState = nil
	return next, nil
}

// Complete moves IN_PROGRESS to COMPLETED. The learner or a mentor may
// complete; a paused assignment must be resumed first.
func (a *Assignment) Complete(actor uuid.UUID, now time.Time) (*Assignment, error) {
	if !a.IsLearner(actor) && !a.IsMentor(actor) {
		return nil, forbidden("complete", actor)
	}
	return a.complete(now)
}

// CompleteFromProgress completes the assignment on behalf of the progress
// engine once every step is done.
func (a *Assignment) CompleteFromProgress(now time.Time) (*Assignment, error) {
	return a.complete(now)
}

func (a *Assignment) complete(now time.Time) (*Assignment, error) {
	if a.Status != AssignmentInProgress {
		return nil, invalidTransition(a.Status, AssignmentCompleted)
	}
	next := a.Clone()
	next.Status = AssignmentCompleted
	next.CompletedAt = &now
	next.LastActivityAt = &now
	next.PauseState = nil
	next.IsOverdue = false
	next.UpdatedAt = now
	return next, nil
}

// Cancel moves any non-terminal assignment to CANCELLED. Only mentors may
// cancel.
func (a *Assignment) Cancel(actor uuid.UUID, reason string, now time.Time) (*Assignment, error) {
	if !a.IsMentor(actor) {
		return nil, forbidden("cancel", actor)
	}
	if a.Status.IsTerminal() {
		return nil, invalidTransition(a.Status, AssignmentCancelled)
	}
	next := a.Clone()
	next.Status = AssignmentCancelled
	next.Cancellation = &CancellationInfo{CancelledAt: now, CancelledBy: actor, Reason: reason}
	next.PauseState = nil
	next.IsOverdue = false
	next.UpdatedAt = now
	return next, nil
}

// ExtendDeadline moves the deadline strictly later and appends one extension
// record. Only mentors may extend.
func (a *Assignment) ExtendDeadline(
	actor uuid.UUID,
	newDeadline time.Time,
	reason string,
	now time.Time,
) (*Assignment, error) {
	if !a.IsMentor(actor) {
		return nil, forbidden("extend deadline", actor)
	}
	if a.Status.IsTerminal() {
		return nil, NewDomainError("cannot extend deadline of %s assignment", a.Status)
	}
	if !newDeadline.After(a.Deadline) {
		return nil, NewValidationError("deadline",
			fmt.Sprintf("%s is not after %s", newDeadline.Format(time.RFC3339), a.Deadline.Format(time.RFC3339)),
			ErrDeadlineNotLater)
	}
	next := a.Clone()
	next.Deadline = newDeadline
	next.Adjustments = append(next.Adjustments, DeadlineAdjustment{
		ID:               uuid.New(),
		Kind:             AdjustmentExtension,
		PreviousDeadline: a.Deadline,
		NewDeadline:      newDeadline,
		DeltaDays:        int(math.Ceil(newDeadline.Sub(a.Deadline).Hours() / 24)),
		Reason:           reason,
		AdjustedBy:       actor,
		AdjustedAt:       now,
	})
	next.IsOverdue = next.IsOverdueAt(now)
	next.UpdatedAt = now
	return next, nil
}

// RecordActivity adds learner time and touches the last-activity timestamp.
func (a *Assignment) RecordActivity(timeSpentSeconds int, now time.Time) (*Assignment, error) {
	if a.Status != AssignmentInProgress {
		return nil, NewDomainError("assignment is %s, not in progress", a.Status)
	}
	if timeSpentSeconds < 0 {
		return nil, NewValidationError("time_spent_seconds", "cannot be negative", nil)
	}
	next := a.Clone()
	next.TimeSpentSeconds += timeSpentSeconds
	next.LastActivityAt = &now
	next.UpdatedAt = now
	return next, nil
}

// Clone returns a deep copy of the assignment.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	c := *a
	c.StartedAt = cloneTime(a.StartedAt)
	c.CompletedAt = cloneTime(a.CompletedAt)
	c.LastActivityAt = cloneTime(a.LastActivityAt)
	if a.PauseState != nil {
		p := *a.PauseState
		c.PauseState = &p
	}
	if a.Cancellation != nil {
		x := *a.Cancellation
		c.Cancellation = &x
	}
	c.MentorIDs = cloneIDs(a.MentorIDs)
	if a.Adjustments != nil {
		c.Adjustments = append([]DeadlineAdjustment(nil), a.Adjustments...)
	}
	return &c
}

// PauseDays returns the pause length in calendar days, rounded up.
func PauseDays(pausedAt, resumedAt time.Time) int {
	d := resumedAt.Sub(pausedAt)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

func invalidTransition(from, to AssignmentStatus) error {
	return NewValidationError("status", fmt.Sprintf("cannot move from %s to %s", from, to), ErrInvalidTransition)
}

func forbidden(op string, actor uuid.UUID) error {
	return fmt.Errorf("%w: %s not permitted for user %s", ErrForbidden, op, actor)
}
