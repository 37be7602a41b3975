package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/service/progress"
	"github.com/phrazzld/learnflow/internal/service/snapshot"
)

// CreateAssignmentRequest defines the payload for POST /api/assignments.
type CreateAssignmentRequest struct {
	LearnerID  uuid.UUID   `json:"learner_id"  validate:"required"`
	TemplateID uuid.UUID   `json:"template_id" validate:"required"`
	MentorIDs  []uuid.UUID `json:"mentor_ids"  validate:"omitempty,dive,required"`
	// Deadline is optional; the server applies its default business-day
	// allowance when it is absent.
	Deadline *time.Time     `json:"deadline,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// ReasonRequest is the payload of pause and cancel.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// ResumeRequest is the payload of resume.
type ResumeRequest struct {
	AdjustDeadline bool `json:"adjust_deadline"`
}

// ExtendDeadlineRequest is the payload of POST /api/assignments/{id}/deadline.
type ExtendDeadlineRequest struct {
	Deadline time.Time `json:"deadline" validate:"required"`
	Reason   string    `json:"reason"   validate:"required,max=500"`
}

// ProgressActionRequest is the payload of a learner action on a component.
type ProgressActionRequest struct {
	Action domain.ProgressAction `json:"action" validate:"required,oneof=start update_progress submit_answer complete skip"`
	Data   progress.ActionData   `json:"data"`
}

// CreateSnapshotRequest defines the payload for POST /api/snapshots.
type CreateSnapshotRequest struct {
	TemplateID uuid.UUID      `json:"template_id" validate:"required"`
	Context    map[string]any `json:"context,omitempty"`
}

// AssignmentListResponse wraps a learner's assignments.
type AssignmentListResponse struct {
	Assignments []*domain.Assignment `json:"assignments"`
}

// SnapshotResponse is returned by POST /api/snapshots.
type SnapshotResponse struct {
	Tree     *domain.SnapshotTree   `json:"tree"`
	Stats    snapshot.CreationStats `json:"stats"`
	Warnings []string               `json:"warnings,omitempty"`
}
