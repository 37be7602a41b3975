package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/store"
)

// TemplateStore holds flow templates in memory.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*domain.FlowTemplate
}

var _ store.TemplateReader = (*TemplateStore)(nil)

// NewTemplateStore creates an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[uuid.UUID]*domain.FlowTemplate)}
}

// Save inserts or replaces a template.
func (s *TemplateStore) Save(t *domain.FlowTemplate) error {
	c, err := cloneTemplate(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = c
	return nil
}

// GetFlowWithStepsAndComponents implements store.TemplateReader.
func (s *TemplateStore) GetFlowWithStepsAndComponents(
	_ context.Context,
	id uuid.UUID,
) (*domain.FlowTemplate, error) {
	s.mu.RLock()
	t, ok := s.templates[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrTemplateNotFound
	}

	c, err := cloneTemplate(t)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(c.Steps, func(i, j int) bool { return c.Steps[i].Order < c.Steps[j].Order })
	for i := range c.Steps {
		comps := c.Steps[i].Components
		sort.SliceStable(comps, func(a, b int) bool { return comps[a].Order < comps[b].Order })
	}
	return c, nil
}

func cloneTemplate(t *domain.FlowTemplate) (*domain.FlowTemplate, error) {
	c := *t
	c.Steps = make([]domain.StepTemplate, len(t.Steps))
	for i, step := range t.Steps {
		sc := step
		if step.MaxAttempts != nil {
			v := *step.MaxAttempts
			sc.MaxAttempts = &v
		}
		if step.TimeLimitMinutes != nil {
			v := *step.TimeLimitMinutes
			sc.TimeLimitMinutes = &v
		}
		sc.Components = make([]domain.ComponentTemplate, len(step.Components))
		for j, comp := range step.Components {
			cc := comp
			if comp.Content != nil {
				content, err := domain.CloneContent(comp.Content)
				if err != nil {
					return nil, err
				}
				cc.Content = content
			}
			sc.Components[j] = cc
		}
		c.Steps[i] = sc
	}
	return &c, nil
}
