package snapshot

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// buildTree deep-copies a validated template. Components are frozen first so
// that step and flow metadata can be derived from them.
func buildTree(t *domain.FlowTemplate, opts CreateOptions, now time.Time) (*domain.SnapshotTree, error) {
	flow := &domain.FlowSnapshot{
		ID:              uuid.New(),
		TemplateID:      t.ID,
		TemplateVersion: t.Version,
		Title:           t.Title,
		Description:     t.Description,
		StepIDs:         make([]uuid.UUID, 0, len(t.Steps)),
		Metadata: domain.SnapshotMetadata{
			CreatedAt:     now,
			CreatedBy:     opts.CreatedBy,
			FormatVersion: domain.SnapshotFormatVersion,
		},
	}
	tree := &domain.SnapshotTree{Flow: flow}

	steps := slices.Clone(t.Steps)
	slices.SortStableFunc(steps, func(a, b domain.StepTemplate) int { return cmp.Compare(a.Order, b.Order) })

	for i, st := range steps {
		step := &domain.StepSnapshot{
			ID:             uuid.New(),
			FlowSnapshotID: flow.ID,
			ComponentIDs:   make([]uuid.UUID, 0, len(st.Components)),
			Order:          i + 1,
			IsRequired:     st.IsRequired,
			AccessRules: domain.AccessRules{
				RequiresPreviousStep: st.RequiresPreviousStep,
				Skippable:            st.Skippable,
				MaxAttempts:          copyInt(st.MaxAttempts),
				TimeLimitMinutes:     copyInt(st.TimeLimitMinutes),
			},
			Original: domain.OriginalStep{
				ID:          st.ID,
				Title:       st.Title,
				Description: st.Description,
				Order:       st.Order,
			},
		}

		components := slices.Clone(st.Components)
		slices.SortStableFunc(components, func(a, b domain.ComponentTemplate) int { return cmp.Compare(a.Order, b.Order) })

		for j, ct := range components {
			c, err := domain.NewComponentSnapshot(step.ID, ct)
			if err != nil {
				return nil, err
			}
			c.Order = j + 1
			step.ComponentIDs = append(step.ComponentIDs, c.ID)
			step.Metadata.EstimatedDurationMinutes += c.Metadata.EstimatedDurationMinutes
			if c.IsRequired {
				step.Metadata.RequiredComponents++
			}
			tree.Components = append(tree.Components, c)
		}
		step.Metadata.TotalComponents = len(step.ComponentIDs)
		if err := step.Validate(); err != nil {
			return nil, err
		}

		flow.StepIDs = append(flow.StepIDs, step.ID)
		flow.Metadata.TotalComponents += step.Metadata.TotalComponents
		flow.Metadata.EstimatedDurationMinutes += step.Metadata.EstimatedDurationMinutes
		tree.Steps = append(tree.Steps, step)
	}
	flow.Metadata.TotalSteps = len(tree.Steps)

	if len(opts.Context) > 0 {
		tree.Flow = flow.WithContext(opts.Context)
	}
	return tree, nil
}

// approximateSize returns the length of the tree's JSON encoding.
func approximateSize(tree *domain.SnapshotTree) int {
	raw, err := json.Marshal(tree)
	if err != nil {
		return 0
	}
	return len(raw)
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
