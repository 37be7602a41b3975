package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// Event types
const (
	TypeSnapshotCreated         = "snapshot.created"
	TypeStepsUnlocked           = "progress.steps_unlocked"
	TypeComponentStatusChanged  = "progress.component_status_changed"
	TypeAssignmentStatusChanged = "assignment.status_changed"
	TypeDeadlineAdjusted        = "assignment.deadline_adjusted"
	TypeOverdueRecomputed       = "assignment.overdue_recomputed"
)

// DomainEvent is an immutable notification that something happened.
type DomainEvent struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewDomainEvent serializes payload into a new event.
func NewDomainEvent(eventType string, aggregateID uuid.UUID, payload any, now time.Time) (*DomainEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &DomainEvent{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     raw,
		CreatedAt:   now,
	}, nil
}

// UnmarshalPayload decodes the event payload into v.
func (e *DomainEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// SnapshotCreated is the payload of TypeSnapshotCreated.
type SnapshotCreated struct {
	FlowSnapshotID  uuid.UUID     `json:"flow_snapshot_id"`
	TemplateID      uuid.UUID     `json:"template_id"`
	TotalSteps      int           `json:"total_steps"`
	TotalComponents int           `json:"total_components"`
	Duration        time.Duration `json:"duration"`
}

// StepsUnlocked is the payload of TypeStepsUnlocked.
type StepsUnlocked struct {
	AssignmentID uuid.UUID   `json:"assignment_id"`
	LearnerID    uuid.UUID   `json:"learner_id"`
	StepIDs      []uuid.UUID `json:"step_ids"`
	ComponentIDs []uuid.UUID `json:"component_ids"`
}

// ComponentStatusChanged is the payload of TypeComponentStatusChanged.
type ComponentStatusChanged struct {
	AssignmentID uuid.UUID             `json:"assignment_id"`
	ComponentID  uuid.UUID             `json:"component_id"`
	Action       domain.ProgressAction `json:"action"`
	From         domain.ProgressStatus `json:"from"`
	To           domain.ProgressStatus `json:"to"`
}

// AssignmentStatusChanged is the payload of TypeAssignmentStatusChanged.
type AssignmentStatusChanged struct {
	AssignmentID uuid.UUID               `json:"assignment_id"`
	From         domain.AssignmentStatus `json:"from"`
	To           domain.AssignmentStatus `json:"to"`
	ActorID      uuid.UUID               `json:"actor_id"`
}

// DeadlineAdjusted is the payload of TypeDeadlineAdjusted.
type DeadlineAdjusted struct {
	AssignmentID uuid.UUID                 `json:"assignment_id"`
	Adjustment   domain.DeadlineAdjustment `json:"adjustment"`
}

// OverdueRecomputed is the payload of TypeOverdueRecomputed.
type OverdueRecomputed struct {
	Changed int `json:"changed"`
}

// EventHandler processes events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *DomainEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *DomainEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *DomainEvent) error {
	return f(ctx, event)
}

// EventEmitter publishes events to handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *DomainEvent) error
}
