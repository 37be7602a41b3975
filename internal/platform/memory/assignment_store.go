package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/store"
)

// AssignmentStore holds assignments in memory.
type AssignmentStore struct {
	mu          sync.RWMutex
	assignments map[uuid.UUID]*domain.Assignment
}

var _ store.AssignmentStore = (*AssignmentStore)(nil)

// NewAssignmentStore creates an empty store.
func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{assignments: make(map[uuid.UUID]*domain.Assignment)}
}

// Create implements store.AssignmentStore.
func (s *AssignmentStore) Create(ctx context.Context, a *domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assignments[a.ID]; exists {
		return fmt.Errorf("%w: assignment %s", store.ErrDuplicate, a.ID)
	}
	a.Version = 1
	s.assignments[a.ID] = a.Clone()
	id := a.ID
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.assignments, id)
	})
	return nil
}

// restore puts prev back as the stored assignment when a unit of work fails.
func (s *AssignmentStore) restore(ctx context.Context, prev *domain.Assignment) {
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.assignments[prev.ID] = prev
	})
}

// GetByID implements store.AssignmentStore.
func (s *AssignmentStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, store.ErrAssignmentNotFound
	}
	return a.Clone(), nil
}

// Update implements store.AssignmentStore.
func (s *AssignmentStore) Update(ctx context.Context, a *domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.assignments[a.ID]
	if !ok {
		return store.ErrAssignmentNotFound
	}
	if current.Version != a.Version {
		return fmt.Errorf("%w: assignment %s at version %d, have %d",
			store.ErrVersionConflict, a.ID, current.Version, a.Version)
	}
	if len(a.Adjustments) < len(current.Adjustments) {
		return fmt.Errorf("%w: deadline adjustments cannot be removed", store.ErrInvalidEntity)
	}
	a.Version++
	s.assignments[a.ID] = a.Clone()
	s.restore(ctx, current)
	return nil
}

// ListByLearner implements store.AssignmentStore.
func (s *AssignmentStore) ListByLearner(_ context.Context, learnerID uuid.UUID) ([]*domain.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Assignment
	for _, a := range s.assignments {
		if a.LearnerID == learnerID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// RecomputeOverdue implements store.AssignmentStore.
func (s *AssignmentStore) RecomputeOverdue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for id, current := range s.assignments {
		overdue := current.IsOverdueAt(now)
		if overdue == current.IsOverdue {
			continue
		}
		next := current.Clone()
		next.IsOverdue = overdue
		next.Version++
		next.UpdatedAt = now
		s.assignments[id] = next
		s.restore(ctx, current)
		changed++
	}
	return changed, nil
}

// WithTx implements store.AssignmentStore.
func (s *AssignmentStore) WithTx(*sql.Tx) store.AssignmentStore {
	return s
}
