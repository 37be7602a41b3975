package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/store"
)

// SnapshotStore holds snapshot trees in memory.
type SnapshotStore struct {
	mu         sync.RWMutex
	flows      map[uuid.UUID]*domain.FlowSnapshot
	steps      map[uuid.UUID]*domain.StepSnapshot
	components map[uuid.UUID]*domain.ComponentSnapshot
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		flows:      make(map[uuid.UUID]*domain.FlowSnapshot),
		steps:      make(map[uuid.UUID]*domain.StepSnapshot),
		components: make(map[uuid.UUID]*domain.ComponentSnapshot),
	}
}

// CreateSnapshotTree implements store.SnapshotStore. The whole tree is
// checked before anything is written.
func (s *SnapshotStore) CreateSnapshotTree(ctx context.Context, tree *domain.SnapshotTree) error {
	if tree == nil || tree.Flow == nil {
		return fmt.Errorf("%w: snapshot tree without flow", store.ErrInvalidEntity)
	}
	for _, step := range tree.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[tree.Flow.ID]; exists {
		return fmt.Errorf("%w: flow snapshot %s", store.ErrDuplicate, tree.Flow.ID)
	}
	for _, step := range tree.Steps {
		if _, exists := s.steps[step.ID]; exists {
			return fmt.Errorf("%w: step snapshot %s", store.ErrDuplicate, step.ID)
		}
	}
	for _, comp := range tree.Components {
		if _, exists := s.components[comp.ID]; exists {
			return fmt.Errorf("%w: component snapshot %s", store.ErrDuplicate, comp.ID)
		}
	}

	c := tree.Clone()
	s.flows[c.Flow.ID] = c.Flow
	for _, step := range c.Steps {
		s.steps[step.ID] = step
	}
	for _, comp := range c.Components {
		s.components[comp.ID] = comp
	}
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.flows, c.Flow.ID)
		for _, step := range c.Steps {
			delete(s.steps, step.ID)
		}
		for _, comp := range c.Components {
			delete(s.components, comp.ID)
		}
	})
	return nil
}

// GetFlowSnapshot implements store.SnapshotStore.
func (s *SnapshotStore) GetFlowSnapshot(_ context.Context, id uuid.UUID) (*domain.FlowSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, store.ErrSnapshotNotFound
	}
	return f.Clone(), nil
}

// GetStepSnapshots implements store.SnapshotStore.
func (s *SnapshotStore) GetStepSnapshots(_ context.Context, flowSnapshotID uuid.UUID) ([]*domain.StepSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.StepSnapshot
	for _, step := range s.steps {
		if step.FlowSnapshotID == flowSnapshotID {
			out = append(out, step.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// GetComponentSnapshots implements store.SnapshotStore.
func (s *SnapshotStore) GetComponentSnapshots(
	_ context.Context,
	stepSnapshotIDs []uuid.UUID,
) ([]*domain.ComponentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stepRank := make(map[uuid.UUID]int, len(stepSnapshotIDs))
	for _, id := range stepSnapshotIDs {
		if step, ok := s.steps[id]; ok {
			stepRank[id] = step.Order
		}
	}

	var out []*domain.ComponentSnapshot
	for _, comp := range s.components {
		if _, ok := stepRank[comp.StepSnapshotID]; ok {
			out = append(out, comp.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := stepRank[out[i].StepSnapshotID], stepRank[out[j].StepSnapshotID]
		if ri != rj {
			return ri < rj
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

// DeleteSnapshotTree implements store.SnapshotStore.
func (s *SnapshotStore) DeleteSnapshotTree(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[id]
	if !ok {
		return store.ErrSnapshotNotFound
	}
	var steps []*domain.StepSnapshot
	var comps []*domain.ComponentSnapshot
	delete(s.flows, id)
	for stepID, step := range s.steps {
		if step.FlowSnapshotID != id {
			continue
		}
		for _, compID := range step.ComponentIDs {
			if comp, ok := s.components[compID]; ok {
				comps = append(comps, comp)
				delete(s.components, compID)
			}
		}
		steps = append(steps, step)
		delete(s.steps, stepID)
	}
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.flows[flow.ID] = flow
		for _, step := range steps {
			s.steps[step.ID] = step
		}
		for _, comp := range comps {
			s.components[comp.ID] = comp
		}
	})
	return nil
}

// WithTx implements store.SnapshotStore. The memory store has no
// transactions, so it returns itself; rollback is driven by Transactor.
func (s *SnapshotStore) WithTx(*sql.Tx) store.SnapshotStore {
	return s
}
