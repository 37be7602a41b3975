package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// SnapshotFormatVersion is recorded on every flow snapshot.
const SnapshotFormatVersion = "1.0"

// Snapshot validation errors
var (
	ErrStepComponentCountMismatch = errors.New("step total components does not match component list")
	ErrStepRequiredExceedsTotal   = errors.New("step required components exceeds total components")
	ErrContentTypeMismatch        = errors.New("content payload does not match component type")
	ErrInvalidStepOrder           = errors.New("step order must be 1-based")
)

// SnapshotMetadata describes how and when a flow snapshot was created.
type SnapshotMetadata struct {
	CreatedAt                time.Time `json:"created_at"`
	CreatedBy                uuid.UUID `json:"created_by"`
	FormatVersion            string    `json:"format_version"`
	TotalSteps               int       `json:"total_steps"`
	TotalComponents          int       `json:"total_components"`
	EstimatedDurationMinutes int       `json:"estimated_duration_minutes"`
}

// FlowSnapshot is the immutable root of a frozen flow.
type FlowSnapshot struct {
	ID              uuid.UUID        `json:"id"`
	TemplateID      uuid.UUID        `json:"template_id"`
	TemplateVersion int              `json:"template_version"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	StepIDs         []uuid.UUID      `json:"step_ids"`
	Metadata        SnapshotMetadata `json:"metadata"`
	Context         map[string]any   `json:"context,omitempty"`
}

// Clone returns a deep copy of the flow snapshot.
func (f *FlowSnapshot) Clone() *FlowSnapshot {
	if f == nil {
		return nil
	}
	c := *f
	c.StepIDs = cloneIDs(f.StepIDs)
	c.Context = cloneContext(f.Context)
	return &c
}

// WithContext returns a new snapshot value whose context is the receiver's
// context merged with extra; keys in extra win. The receiver is unchanged.
func (f *FlowSnapshot) WithContext(extra map[string]any) *FlowSnapshot {
	c := f.Clone()
	if c.Context == nil && len(extra) > 0 {
		c.Context = make(map[string]any, len(extra))
	}
	for k, v := range cloneContext(extra) {
		c.Context[k] = v
	}
	return c
}

// AccessRules control how a learner may move through a step.
type AccessRules struct {
	RequiresPreviousStep bool `json:"requires_previous_step"`
	Skippable            bool `json:"skippable"`
	MaxAttempts          *int `json:"max_attempts,omitempty"`
	TimeLimitMinutes     *int `json:"time_limit_minutes,omitempty"`
}

// OriginalStep records the template step a snapshot step was copied from.
type OriginalStep struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Order       int       `json:"order"`
}

// StepMetadata holds derived counts for a step snapshot.
type StepMetadata struct {
	TotalComponents          int `json:"total_components"`
	RequiredComponents       int `json:"required_components"`
	EstimatedDurationMinutes int `json:"estimated_duration_minutes"`
}

// StepSnapshot is an immutable copy of a template step.
type StepSnapshot struct {
	ID             uuid.UUID    `json:"id"`
	FlowSnapshotID uuid.UUID    `json:"flow_snapshot_id"`
	ComponentIDs   []uuid.UUID  `json:"component_ids"`
	Order          int          `json:"order"`
	IsRequired     bool         `json:"is_required"`
	AccessRules    AccessRules  `json:"access_rules"`
	Original       OriginalStep `json:"original"`
	Metadata       StepMetadata `json:"metadata"`
}

// Validate checks the step's structural invariants.
func (s *StepSnapshot) Validate() error {
	if s.ID == uuid.Nil || s.FlowSnapshotID == uuid.Nil {
		return NewValidationError("step_snapshot", "ids must be set", ErrInvalidID)
	}
	if s.Order < 1 {
		return NewValidationError("order", fmt.Sprintf("got %d", s.Order), ErrInvalidStepOrder)
	}
	if s.Metadata.TotalComponents != len(s.ComponentIDs) {
		return NewValidationError("total_components",
			fmt.Sprintf("%d recorded, %d listed", s.Metadata.TotalComponents, len(s.ComponentIDs)),
			ErrStepComponentCountMismatch)
	}
	if s.Metadata.RequiredComponents > s.Metadata.TotalComponents {
		return NewValidationError("required_components",
			fmt.Sprintf("%d required of %d", s.Metadata.RequiredComponents, s.Metadata.TotalComponents),
			ErrStepRequiredExceedsTotal)
	}
	return nil
}

// Clone returns a deep copy of the step snapshot.
func (s *StepSnapshot) Clone() *StepSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.ComponentIDs = cloneIDs(s.ComponentIDs)
	c.AccessRules.MaxAttempts = cloneIntPtr(s.AccessRules.MaxAttempts)
	c.AccessRules.TimeLimitMinutes = cloneIntPtr(s.AccessRules.TimeLimitMinutes)
	return &c
}

// ComponentMetadata holds derived values for a component snapshot.
type ComponentMetadata struct {
	ContentSize              int `json:"content_size"`
	EstimatedDurationMinutes int `json:"estimated_duration_minutes"`
}

// ComponentSnapshot is an immutable copy of a template component.
type ComponentSnapshot struct {
	ID                  uuid.UUID         `json:"id"`
	StepSnapshotID      uuid.UUID         `json:"step_snapshot_id"`
	OriginalComponentID uuid.UUID         `json:"original_component_id"`
	Type                ComponentType     `json:"type"`
	Title               string            `json:"title"`
	Content             Content           `json:"content"`
	IsRequired          bool              `json:"is_required"`
	MaxAttempts         int               `json:"max_attempts"`
	Order               int               `json:"order"`
	Metadata            ComponentMetadata `json:"metadata"`
}

// NewComponentSnapshot freezes a template component under the given step.
// The content is deep-copied and must match the declared type.
func NewComponentSnapshot(stepID uuid.UUID, tmpl ComponentTemplate) (*ComponentSnapshot, error) {
	if !tmpl.Type.IsValid() {
		return nil, NewValidationError("type", string(tmpl.Type), ErrUnknownComponentType)
	}
	if tmpl.Content == nil || tmpl.Content.Type() != tmpl.Type {
		return nil, NewValidationError("content", fmt.Sprintf("expected %s payload", tmpl.Type), ErrContentTypeMismatch)
	}
	if v := tmpl.Content.Violations(); len(v) > 0 {
		return nil, NewViolationsError("invalid "+string(tmpl.Type)+" content", v, nil)
	}

	content, err := CloneContent(tmpl.Content)
	if err != nil {
		return nil, err
	}
	size, err := ContentSize(content)
	if err != nil {
		return nil, fmt.Errorf("measure content: %w", err)
	}
	minutes, err := EstimateDurationMinutes(content)
	if err != nil {
		return nil, err
	}

	return &ComponentSnapshot{
		ID:                  uuid.New(),
		StepSnapshotID:      stepID,
		OriginalComponentID: tmpl.ID,
		Type:                tmpl.Type,
		Title:               tmpl.Title,
		Content:             content,
		IsRequired:          tmpl.IsRequired,
		MaxAttempts:         tmpl.MaxAttempts,
		Order:               tmpl.Order,
		Metadata: ComponentMetadata{
			ContentSize:              size,
			EstimatedDurationMinutes: minutes,
		},
	}, nil
}

// Clone returns a deep copy of the component snapshot.
func (c *ComponentSnapshot) Clone() *ComponentSnapshot {
	if c == nil {
		return nil
	}
	out := *c
	// Content was validated on construction, so the type is always known here.
	if content, err := CloneContent(c.Content); err == nil {
		out.Content = content
	}
	return &out
}

// SnapshotTree is a flow snapshot together with its ordered steps and
// components.
type SnapshotTree struct {
	Flow       *FlowSnapshot        `json:"flow"`
	Steps      []*StepSnapshot      `json:"steps"`
	Components []*ComponentSnapshot `json:"components"`
}

// Clone returns a deep copy of the whole tree.
func (t *SnapshotTree) Clone() *SnapshotTree {
	if t == nil {
		return nil
	}
	out := &SnapshotTree{
		Flow:       t.Flow.Clone(),
		Steps:      make([]*StepSnapshot, len(t.Steps)),
		Components: make([]*ComponentSnapshot, len(t.Components)),
	}
	for i, s := range t.Steps {
		out.Steps[i] = s.Clone()
	}
	for i, c := range t.Components {
		out.Components[i] = c.Clone()
	}
	return out
}

// StepByID returns the step with the given ID.
func (t *SnapshotTree) StepByID(id uuid.UUID) (*StepSnapshot, bool) {
	for _, s := range t.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// ComponentByID returns the component with the given ID.
func (t *SnapshotTree) ComponentByID(id uuid.UUID) (*ComponentSnapshot, bool) {
	for _, c := range t.Components {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// ComponentsForStep returns the step's components in the step's order.
func (t *SnapshotTree) ComponentsForStep(step *StepSnapshot) []*ComponentSnapshot {
	byID := make(map[uuid.UUID]*ComponentSnapshot, len(step.ComponentIDs))
	for _, c := range t.Components {
		if c.StepSnapshotID == step.ID {
			byID[c.ID] = c
		}
	}
	out := make([]*ComponentSnapshot, 0, len(step.ComponentIDs))
	for _, id := range step.ComponentIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func cloneIDs(in []uuid.UUID) []uuid.UUID {
	if in == nil {
		return nil
	}
	return append([]uuid.UUID(nil), in...)
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// cloneContext copies the context map, descending into nested maps and slices
// built from JSON-like values.
func cloneContext(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := maps.Clone(in)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneContext(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return cloneStrings(x)
	default:
		return v
	}
}

// UnmarshalJSON decodes the content payload according to Type.
func (c *ComponentSnapshot) UnmarshalJSON(raw []byte) error {
	type alias ComponentSnapshot
	aux := struct {
		*alias
		Content json.RawMessage `json:"content"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	content, err := DecodeContent(c.Type, aux.Content)
	if err != nil {
		return err
	}
	c.Content = content
	return nil
}
