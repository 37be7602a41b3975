package domain

import (
	"github.com/google/uuid"
)

// FlowTemplate is the mutable curriculum a snapshot is taken from.
// It is authored elsewhere; this service only reads it.
type FlowTemplate struct {
	ID          uuid.UUID      `json:"id"`
	Version     int            `json:"version"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	IsActive    bool           `json:"is_active"`
	Steps       []StepTemplate `json:"steps"`
}

// StepTemplate is an ordered stage of a flow template.
type StepTemplate struct {
	ID                   uuid.UUID           `json:"id"`
	Title                string              `json:"title"`
	Description          string              `json:"description"`
	Order                int                 `json:"order"`
	IsRequired           bool                `json:"is_required"`
	RequiresPreviousStep bool                `json:"requires_previous_step"`
	Skippable            bool                `json:"skippable"`
	MaxAttempts          *int                `json:"max_attempts,omitempty"`
	TimeLimitMinutes     *int                `json:"time_limit_minutes,omitempty"`
	Components           []ComponentTemplate `json:"components"`
}

// ComponentTemplate is an atomic content unit of a step template.
type ComponentTemplate struct {
	ID          uuid.UUID     `json:"id"`
	Type        ComponentType `json:"type"`
	Title       string        `json:"title"`
	Content     Content       `json:"-"`
	IsRequired  bool          `json:"is_required"`
	MaxAttempts int           `json:"max_attempts"`
	Order       int           `json:"order"`
}
