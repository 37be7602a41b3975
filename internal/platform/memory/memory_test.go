package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

func sampleTree(t *testing.T) *domain.SnapshotTree {
	t.Helper()
	flowID := uuid.New()
	tree := &domain.SnapshotTree{Flow: &domain.FlowSnapshot{ID: flowID, Title: "Onboarding"}}

	for order := 2; order >= 1; order-- {
		step := &domain.StepSnapshot{ID: uuid.New(), FlowSnapshotID: flowID, Order: order}
		for c := 1; c <= 2; c++ {
			comp, err := domain.NewComponentSnapshot(step.ID, domain.ComponentTemplate{
				ID:         uuid.New(),
				Type:       domain.ComponentTypeArticle,
				Title:      "Read",
				Content:    domain.ArticleContent{Body: "text"},
				IsRequired: true,
				Order:      c,
			})
			require.NoError(t, err)
			step.ComponentIDs = append(step.ComponentIDs, comp.ID)
			tree.Components = append(tree.Components, comp)
		}
		step.Metadata.TotalComponents = len(step.ComponentIDs)
		step.Metadata.RequiredComponents = len(step.ComponentIDs)
		tree.Steps = append(tree.Steps, step)
		tree.Flow.StepIDs = append(tree.Flow.StepIDs, step.ID)
	}
	return tree
}

func TestTemplateStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewTemplateStore()

	tmpl := &domain.FlowTemplate{
		ID:       uuid.New(),
		Title:    "Flow",
		IsActive: true,
		Steps: []domain.StepTemplate{
			{ID: uuid.New(), Title: "second", Order: 2},
			{ID: uuid.New(), Title: "first", Order: 1, Components: []domain.ComponentTemplate{
				{ID: uuid.New(), Type: domain.ComponentTypeArticle, Order: 2, Content: domain.ArticleContent{Body: "b"}},
				{ID: uuid.New(), Type: domain.ComponentTypeArticle, Order: 1, Content: domain.ArticleContent{Body: "a"}},
			}},
		},
	}
	require.NoError(t, s.Save(tmpl))
	tmpl.Title = "mutated after save"

	got, err := s.GetFlowWithStepsAndComponents(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Flow", got.Title)
	assert.Equal(t, "first", got.Steps[0].Title)
	assert.Equal(t, 1, got.Steps[0].Components[0].Order)

	_, err = s.GetFlowWithStepsAndComponents(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTemplateNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewSnapshotStore()
	tree := sampleTree(t)

	require.NoError(t, s.CreateSnapshotTree(ctx, tree))
	assert.ErrorIs(t, s.CreateSnapshotTree(ctx, tree), store.ErrDuplicate)

	flow, err := s.GetFlowSnapshot(ctx, tree.Flow.ID)
	require.NoError(t, err)
	assert.Equal(t, tree.Flow.Title, flow.Title)

	steps, err := s.GetStepSnapshots(ctx, tree.Flow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Order)
	assert.Equal(t, 2, steps[1].Order)

	comps, err := s.GetComponentSnapshots(ctx, []uuid.UUID{steps[0].ID, steps[1].ID})
	require.NoError(t, err)
	require.Len(t, comps, 4)
	assert.Equal(t, steps[0].ID, comps[0].StepSnapshotID)
	assert.Equal(t, 1, comps[0].Order)
	assert.Equal(t, steps[1].ID, comps[3].StepSnapshotID)

	steps[0].ComponentIDs[0] = uuid.Nil
	again, err := s.GetStepSnapshots(ctx, tree.Flow.ID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, again[0].ComponentIDs[0], "reads return copies")

	require.NoError(t, s.DeleteSnapshotTree(ctx, tree.Flow.ID))
	_, err = s.GetFlowSnapshot(ctx, tree.Flow.ID)
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
	comps, err = s.GetComponentSnapshots(ctx, []uuid.UUID{steps[0].ID})
	require.NoError(t, err)
	assert.Empty(t, comps)
	assert.ErrorIs(t, s.DeleteSnapshotTree(ctx, tree.Flow.ID), store.ErrSnapshotNotFound)
}

func TestSnapshotStoreRejectsInvalidStep(t *testing.T) {
	t.Parallel()
	tree := sampleTree(t)
	tree.Steps[0].Metadata.TotalComponents = 5

	err := NewSnapshotStore().CreateSnapshotTree(context.Background(), tree)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.ErrorIs(t, err, domain.ErrStepComponentCountMismatch)
}

func TestProgressStoreVersioning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewProgressStore()
	tree := sampleTree(t)
	learner, assignment := uuid.New(), uuid.New()

	p, err := domain.NewComponentProgress(learner, assignment, tree.Components[0], testNow)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, p))
	assert.Equal(t, 1, p.Version)
	assert.ErrorIs(t, s.Create(ctx, p), store.ErrDuplicate)

	first, err := s.Find(ctx, learner, assignment, tree.Components[0].ID)
	require.NoError(t, err)
	stale := first.Clone()

	first.Status = domain.ProgressInProgress
	require.NoError(t, s.Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	stale.Status = domain.ProgressCompleted
	assert.ErrorIs(t, s.Update(ctx, stale), store.ErrVersionConflict)

	stored, err := s.Find(ctx, learner, assignment, tree.Components[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgressInProgress, stored.Status)

	_, err = s.Find(ctx, learner, assignment, uuid.New())
	assert.ErrorIs(t, err, store.ErrProgressNotFound)

	all, err := s.FindAllByAssignment(ctx, assignment)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProgressStoreUnlocksAreMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewProgressStore()
	assignment, step := uuid.New(), uuid.New()

	require.NoError(t, s.RecordStepUnlocks(ctx, []domain.StepUnlock{
		{AssignmentID: assignment, StepSnapshotID: step, UnlockedAt: testNow},
	}))
	require.NoError(t, s.RecordStepUnlocks(ctx, []domain.StepUnlock{
		{AssignmentID: assignment, StepSnapshotID: step, UnlockedAt: testNow.Add(time.Hour)},
	}))

	unlocks, err := s.UnlockedSteps(ctx, assignment)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, testNow, unlocks[0].UnlockedAt, "first unlock time is kept")
}

func TestAssignmentStoreCAS(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAssignmentStore()
	learner := uuid.New()

	a, err := domain.NewAssignment(learner, uuid.New(), nil, testNow.Add(48*time.Hour), testNow)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, a))
	assert.Equal(t, 1, a.Version)

	loaded, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	started, err := loaded.Start(learner, testNow)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, started))

	stale, err := loaded.Start(learner, testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Update(ctx, stale), store.ErrVersionConflict)

	missing := a.Clone()
	missing.ID = uuid.New()
	assert.ErrorIs(t, s.Update(ctx, missing), store.ErrAssignmentNotFound)

	list, err := s.ListByLearner(ctx, learner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.AssignmentInProgress, list[0].Status)
}

func TestAssignmentStoreRecomputeOverdue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewAssignmentStore()

	due, err := domain.NewAssignment(uuid.New(), uuid.New(), nil, testNow.Add(-time.Hour), testNow.Add(-48*time.Hour))
	require.NoError(t, err)
	notDue, err := domain.NewAssignment(uuid.New(), uuid.New(), nil, testNow.Add(time.Hour), testNow)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, due))
	require.NoError(t, s.Create(ctx, notDue))

	changed, err := s.RecomputeOverdue(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	changed, err = s.RecomputeOverdue(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, changed, "second pass changes nothing")

	got, err := s.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOverdue)
	assert.Equal(t, 2, got.Version)
}

func TestKeyedLockerSerializes(t *testing.T) {
	t.Parallel()
	l := NewKeyedLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "learner:component")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, l.held(), "keys are dropped once released")
}

func TestKeyedLockerHonoursContext(t *testing.T) {
	t.Parallel()
	l := NewKeyedLocker()

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, store.ErrLockNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Acquire(context.Background(), "other")
	require.NoError(t, err)
	other()
}

func TestTransactorRunsUnit(t *testing.T) {
	t.Parallel()
	var tr Transactor
	called := false
	require.NoError(t, tr.RunInTx(context.Background(), func(_ context.Context, tx *sql.Tx) error {
		called = true
		assert.Nil(t, tx)
		return nil
	}))
	assert.True(t, called)
}

func TestTransactorRollsBackFailedUnit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var tr Transactor
	snapshots, progress, assignments := NewSnapshotStore(), NewProgressStore(), NewAssignmentStore()

	kept := sampleTree(t)
	require.NoError(t, snapshots.CreateSnapshotTree(ctx, kept))
	learner := uuid.New()
	a, err := domain.NewAssignment(learner, kept.Flow.ID, nil, testNow.Add(-time.Hour), testNow.Add(-48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, assignments.Create(ctx, a))
	p, err := domain.NewComponentProgress(learner, a.ID, kept.Components[0], testNow)
	require.NoError(t, err)
	require.NoError(t, progress.Create(ctx, p))

	added := sampleTree(t)
	var newAssignment *domain.Assignment
	errBoom := errors.New("boom")
	err = tr.RunInTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		loaded, err := assignments.GetByID(ctx, a.ID)
		require.NoError(t, err)
		started, err := loaded.Start(learner, testNow)
		require.NoError(t, err)
		require.NoError(t, assignments.Update(ctx, started))
		changed, err := assignments.RecomputeOverdue(ctx, testNow)
		require.NoError(t, err)
		require.Equal(t, 1, changed)

		newAssignment, err = domain.NewAssignment(learner, added.Flow.ID, nil, testNow.Add(time.Hour), testNow)
		require.NoError(t, err)
		require.NoError(t, assignments.Create(ctx, newAssignment))

		current, err := progress.Find(ctx, learner, a.ID, kept.Components[0].ID)
		require.NoError(t, err)
		current.Status = domain.ProgressCompleted
		require.NoError(t, progress.Update(ctx, current))
		other, err := domain.NewComponentProgress(learner, a.ID, kept.Components[1], testNow)
		require.NoError(t, err)
		require.NoError(t, progress.Create(ctx, other))
		require.NoError(t, progress.RecordStepUnlocks(ctx, []domain.StepUnlock{
			{AssignmentID: a.ID, StepSnapshotID: kept.Steps[0].ID, UnlockedAt: testNow},
		}))

		require.NoError(t, snapshots.CreateSnapshotTree(ctx, added))
		require.NoError(t, snapshots.DeleteSnapshotTree(ctx, kept.Flow.ID))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	got, err := assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentNotStarted, got.Status)
	assert.False(t, got.IsOverdue)
	assert.Equal(t, 1, got.Version)
	_, err = assignments.GetByID(ctx, newAssignment.ID)
	assert.ErrorIs(t, err, store.ErrAssignmentNotFound)

	all, err := progress.FindAllByAssignment(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, p.Status, all[0].Status)
	assert.Equal(t, 1, all[0].Version)
	unlocks, err := progress.UnlockedSteps(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, unlocks)

	_, err = snapshots.GetFlowSnapshot(ctx, added.Flow.ID)
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
	_, err = snapshots.GetFlowSnapshot(ctx, kept.Flow.ID)
	require.NoError(t, err)
	steps, err := snapshots.GetStepSnapshots(ctx, kept.Flow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	comps, err := snapshots.GetComponentSnapshots(ctx, []uuid.UUID{steps[0].ID, steps[1].ID})
	require.NoError(t, err)
	assert.Len(t, comps, 4)
}

func TestTransactorRollsBackOnPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var tr Transactor
	assignments := NewAssignmentStore()
	a, err := domain.NewAssignment(uuid.New(), uuid.New(), nil, testNow.Add(time.Hour), testNow)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = tr.RunInTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
			require.NoError(t, assignments.Create(ctx, a))
			panic("unit failed")
		})
	})
	_, err = assignments.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrAssignmentNotFound)

	require.NoError(t, tr.RunInTx(ctx, func(ctx context.Context, _ *sql.Tx) error {
		return assignments.Create(ctx, a)
	}), "the transactor is usable after a panic")
	_, err = assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
}
