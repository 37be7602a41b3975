package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// TemplateReader reads flow templates authored elsewhere.
type TemplateReader interface {
	// GetFlowWithStepsAndComponents returns the template with its steps and
	// components ordered by their order fields.
	// Returns ErrTemplateNotFound if the template does not exist.
	GetFlowWithStepsAndComponents(ctx context.Context, id uuid.UUID) (*domain.FlowTemplate, error)
}
