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

type progressKey struct {
	learner, assignment, component uuid.UUID
}

type unlockKey struct {
	assignment, step uuid.UUID
}

// ProgressStore holds component progress and step unlocks in memory.
type ProgressStore struct {
	mu       sync.RWMutex
	progress map[progressKey]*domain.ComponentProgress
	unlocks  map[unlockKey]domain.StepUnlock
}

var _ store.ProgressStore = (*ProgressStore)(nil)

// NewProgressStore creates an empty store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		progress: make(map[progressKey]*domain.ComponentProgress),
		unlocks:  make(map[unlockKey]domain.StepUnlock),
	}
}

func keyOf(p *domain.ComponentProgress) progressKey {
	return progressKey{p.LearnerID, p.AssignmentID, p.ComponentSnapshotID}
}

// Find implements store.ProgressStore.
func (s *ProgressStore) Find(
	_ context.Context,
	learnerID, assignmentID, componentSnapshotID uuid.UUID,
) (*domain.ComponentProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[progressKey{learnerID, assignmentID, componentSnapshotID}]
	if !ok {
		return nil, store.ErrProgressNotFound
	}
	return p.Clone(), nil
}

// Create implements store.ProgressStore.
func (s *ProgressStore) Create(ctx context.Context, progress *domain.ComponentProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(progress)
	if _, exists := s.progress[k]; exists {
		return fmt.Errorf("%w: progress for component %s", store.ErrDuplicate, progress.ComponentSnapshotID)
	}
	progress.Version = 1
	s.progress[k] = progress.Clone()
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.progress, k)
	})
	return nil
}

// Update implements store.ProgressStore.
func (s *ProgressStore) Update(ctx context.Context, progress *domain.ComponentProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(progress)
	current, ok := s.progress[k]
	if !ok {
		return store.ErrProgressNotFound
	}
	if current.Version != progress.Version {
		return fmt.Errorf("%w: progress %s at version %d, have %d",
			store.ErrVersionConflict, progress.ID, current.Version, progress.Version)
	}
	progress.Version++
	s.progress[k] = progress.Clone()
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.progress[k] = current
	})
	return nil
}

// FindAllByAssignment implements store.ProgressStore.
func (s *ProgressStore) FindAllByAssignment(
	_ context.Context,
	assignmentID uuid.UUID,
) ([]*domain.ComponentProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ComponentProgress
	for k, p := range s.progress {
		if k.assignment == assignmentID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UnlockedSteps implements store.ProgressStore.
func (s *ProgressStore) UnlockedSteps(_ context.Context, assignmentID uuid.UUID) ([]domain.StepUnlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.StepUnlock
	for k, u := range s.unlocks {
		if k.assignment == assignmentID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}

// RecordStepUnlocks implements store.ProgressStore.
func (s *ProgressStore) RecordStepUnlocks(ctx context.Context, unlocks []domain.StepUnlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []unlockKey
	for _, u := range unlocks {
		k := unlockKey{u.AssignmentID, u.StepSnapshotID}
		if _, exists := s.unlocks[k]; !exists {
			s.unlocks[k] = u
			added = append(added, k)
		}
	}
	if len(added) > 0 {
		onRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, k := range added {
				delete(s.unlocks, k)
			}
		})
	}
	return nil
}

// WithTx implements store.ProgressStore.
func (s *ProgressStore) WithTx(*sql.Tx) store.ProgressStore {
	return s
}
