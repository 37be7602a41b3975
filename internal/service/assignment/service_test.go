package assignment_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/domain/calendar"
	"github.com/phrazzld/learnflow/internal/events"
	"github.com/phrazzld/learnflow/internal/platform/memory"
	"github.com/phrazzld/learnflow/internal/service/assignment"
	"github.com/phrazzld/learnflow/internal/service/snapshot"
	"github.com/phrazzld/learnflow/internal/store"
	"github.com/phrazzld/learnflow/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// conflictingStore fails the first n updates with a version conflict.
type conflictingStore struct {
	*memory.AssignmentStore
	mu        sync.Mutex
	conflicts int
	updates   int
}

func (c *conflictingStore) Update(ctx context.Context, a *domain.Assignment) error {
	c.mu.Lock()
	c.updates++
	fail := c.updates <= c.conflicts
	c.mu.Unlock()
	if fail {
		return store.ErrVersionConflict
	}
	return c.AssignmentStore.Update(ctx, a)
}

func (c *conflictingStore) WithTx(*sql.Tx) store.AssignmentStore { return c }

type failingCreateStore struct {
	*memory.AssignmentStore
}

func (failingCreateStore) Create(context.Context, *domain.Assignment) error {
	return errors.New("disk full")
}

func (f failingCreateStore) WithTx(*sql.Tx) store.AssignmentStore { return f }

// halfWrittenStore stores the update and then fails, as when the adjustment
// rows cannot be written after the assignment row.
type halfWrittenStore struct {
	*memory.AssignmentStore
}

func (h halfWrittenStore) Update(ctx context.Context, a *domain.Assignment) error {
	if err := h.AssignmentStore.Update(ctx, a); err != nil {
		return err
	}
	return errors.New("adjustment insert failed")
}

func (h halfWrittenStore) WithTx(*sql.Tx) store.AssignmentStore { return h }

type fixture struct {
	stores   *testutils.Stores
	clock    *testClock
	snapshot snapshot.Engine
	template *domain.FlowTemplate

	mu     sync.Mutex
	events []*events.DomainEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{stores: testutils.NewStores(), clock: &testClock{now: testutils.Now}}
	f.template = f.stores.MustSaveTemplate(t, testutils.SampleTemplate())

	engine, err := snapshot.NewEngine(f.stores.Templates, f.stores.Snapshots, f.stores.Tx,
		f.emitter(), nil, f.clock, nil)
	require.NoError(t, err)
	f.snapshot = engine
	return f
}

func (f *fixture) emitter() events.EventEmitter {
	e := events.NewInMemoryEventEmitter(nil)
	e.RegisterHandler(events.HandlerFunc(func(_ context.Context, ev *events.DomainEvent) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
		return nil
	}))
	return e
}

func (f *fixture) eventsOf(eventType string) []*events.DomainEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*events.DomainEvent
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) service(t *testing.T, assignments store.AssignmentStore) assignment.Service {
	t.Helper()
	if assignments == nil {
		assignments = f.stores.Assignments
	}
	svc, err := assignment.NewService(assignments, f.stores.Tx, f.snapshot, calendar.Default(), f.emitter(), f.clock,
		assignment.Options{DefaultDeadlineBusinessDays: 10}, nil)
	require.NoError(t, err)
	return svc
}

func (f *fixture) create(t *testing.T, svc assignment.Service, learner, mentor uuid.UUID) *domain.Assignment {
	t.Helper()
	a, err := svc.CreateAssignment(context.Background(), assignment.CreateInput{
		LearnerID:  learner,
		TemplateID: f.template.ID,
		CreatedBy:  mentor,
	})
	require.NoError(t, err)
	return a
}

func TestCreateAssignment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	learner, mentor, buddy := uuid.New(), uuid.New(), uuid.New()

	a, err := svc.CreateAssignment(ctx, assignment.CreateInput{
		LearnerID:  learner,
		TemplateID: f.template.ID,
		MentorIDs:  []uuid.UUID{buddy},
		CreatedBy:  mentor,
		Context:    map[string]any{"team": "platform"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.AssignmentNotStarted, a.Status)
	assert.Equal(t, 1, a.Version)
	assert.ElementsMatch(t, []uuid.UUID{buddy, mentor}, a.MentorIDs)
	// Monday plus ten business days is the Monday two weeks later.
	assert.Equal(t, time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC), a.Deadline)

	tree, err := f.snapshot.GetSnapshotTree(ctx, a.FlowSnapshotID)
	require.NoError(t, err)
	assert.Equal(t, f.template.ID, tree.Flow.TemplateID)
	assert.Equal(t, "platform", tree.Flow.Context["team"])
	assert.Equal(t, learner.String(), tree.Flow.Context["learner_id"])

	stored, err := svc.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.FlowSnapshotID, stored.FlowSnapshotID)

	list, err := svc.ListLearnerAssignments(ctx, learner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	changed := f.eventsOf(events.TypeAssignmentStatusChanged)
	require.Len(t, changed, 1)
	var payload events.AssignmentStatusChanged
	require.NoError(t, changed[0].UnmarshalPayload(&payload))
	assert.Equal(t, domain.AssignmentNotStarted, payload.To)
	assert.Equal(t, mentor, payload.ActorID)
}

func TestCreateAssignmentExplicitDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, nil)

	deadline := testutils.Now.Add(72 * time.Hour)
	a, err := svc.CreateAssignment(context.Background(), assignment.CreateInput{
		LearnerID:  uuid.New(),
		TemplateID: f.template.ID,
		Deadline:   &deadline,
	})
	require.NoError(t, err)
	assert.Equal(t, deadline, a.Deadline)
	assert.Empty(t, a.MentorIDs)
}

func TestCreateAssignmentErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	learner := uuid.New()
	past := testutils.Now.Add(-time.Hour)

	tests := []struct {
		name   string
		in     assignment.CreateInput
		target any
	}{
		{
			name:   "missing learner",
			in:     assignment.CreateInput{TemplateID: f.template.ID},
			target: new(*domain.ValidationError),
		},
		{
			name:   "missing template",
			in:     assignment.CreateInput{LearnerID: learner},
			target: new(*domain.ValidationError),
		},
		{
			name:   "deadline in the past",
			in:     assignment.CreateInput{LearnerID: learner, TemplateID: f.template.ID, Deadline: &past},
			target: new(*domain.ValidationError),
		},
		{
			name:   "learner as mentor",
			in:     assignment.CreateInput{LearnerID: learner, TemplateID: f.template.ID, MentorIDs: []uuid.UUID{learner}},
			target: new(*domain.ValidationError),
		},
		{
			name:   "unknown template",
			in:     assignment.CreateInput{LearnerID: learner, TemplateID: uuid.New()},
			target: new(*domain.NotFoundError),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := svc.CreateAssignment(ctx, tc.in)
			require.Error(t, err)
			assert.Nil(t, a)
			assert.ErrorAs(t, err, tc.target)
		})
	}

	assert.Empty(t, f.eventsOf(events.TypeAssignmentStatusChanged))
}

func TestCreateAssignmentDiscardsSnapshotOnFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, failingCreateStore{f.stores.Assignments})
	ctx := context.Background()

	_, err := svc.CreateAssignment(ctx, assignment.CreateInput{LearnerID: uuid.New(), TemplateID: f.template.ID})
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)

	created := f.eventsOf(events.TypeSnapshotCreated)
	require.Len(t, created, 1)
	var payload events.SnapshotCreated
	require.NoError(t, created[0].UnmarshalPayload(&payload))

	_, err = f.snapshot.GetSnapshotTree(ctx, payload.FlowSnapshotID)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound, "orphaned snapshot is removed")
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	learner, mentor := uuid.New(), uuid.New()
	a := f.create(t, svc, learner, mentor)

	_, err := svc.Start(ctx, a.ID, mentor)
	assert.ErrorIs(t, err, domain.ErrForbidden, "only the learner starts")

	started, err := svc.Start(ctx, a.ID, learner)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentInProgress, started.Status)
	assert.Equal(t, 2, started.Version)
	require.NotNil(t, started.StartedAt)

	_, err = svc.Start(ctx, a.ID, learner)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Pause(ctx, a.ID, mentor, " ")
	assert.ErrorIs(t, err, domain.ErrReasonRequired)

	paused, err := svc.Pause(ctx, a.ID, mentor, "medical leave")
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentPaused, paused.Status)

	_, err = svc.Complete(ctx, a.ID, learner)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "paused assignments must resume first")

	// Paused Monday morning, resumed Thursday morning: three calendar days.
	f.clock.Advance(72 * time.Hour)
	resumed, err := svc.Resume(ctx, a.ID, learner, true)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentInProgress, resumed.Status)
	assert.Nil(t, resumed.PauseState)
	assert.Equal(t, time.Date(2025, time.March, 20, 9, 0, 0, 0, time.UTC), resumed.Deadline)
	require.Len(t, resumed.Adjustments, 1)
	adj := resumed.Adjustments[0]
	assert.Equal(t, domain.AdjustmentPause, adj.Kind)
	assert.Equal(t, 3, adj.DeltaDays)
	assert.Equal(t, "medical leave", adj.Reason)
	assert.Equal(t, a.Deadline, adj.PreviousDeadline)

	completed, err := svc.Complete(ctx, a.ID, learner)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	_, err = svc.Cancel(ctx, a.ID, mentor, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	var transitions []domain.AssignmentStatus
	for _, e := range f.eventsOf(events.TypeAssignmentStatusChanged) {
		var p events.AssignmentStatusChanged
		require.NoError(t, e.UnmarshalPayload(&p))
		transitions = append(transitions, p.To)
	}
	assert.Equal(t, []domain.AssignmentStatus{
		domain.AssignmentNotStarted,
		domain.AssignmentInProgress,
		domain.AssignmentPaused,
		domain.AssignmentInProgress,
		domain.AssignmentCompleted,
	}, transitions)
	assert.Len(t, f.eventsOf(events.TypeDeadlineAdjusted), 1)
}

func TestResumeWithoutAdjustment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	learner := uuid.New()
	a := f.create(t, svc, learner, uuid.New())

	_, err := svc.Start(ctx, a.ID, learner)
	require.NoError(t, err)
	_, err = svc.Pause(ctx, a.ID, learner, "vacation")
	require.NoError(t, err)
	f.clock.Advance(5 * 24 * time.Hour)

	resumed, err := svc.Resume(ctx, a.ID, learner, false)
	require.NoError(t, err)
	assert.Equal(t, a.Deadline, resumed.Deadline)
	assert.Empty(t, resumed.Adjustments)
}

func TestExtendDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	learner, mentor := uuid.New(), uuid.New()
	a := f.create(t, svc, learner, mentor)

	later := a.Deadline.Add(48 * time.Hour)
	_, err := svc.ExtendDeadline(ctx, a.ID, learner, later, "need more time")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.ExtendDeadline(ctx, a.ID, mentor, a.Deadline, "same")
	assert.ErrorIs(t, err, domain.ErrDeadlineNotLater)

	first, err := svc.ExtendDeadline(ctx, a.ID, mentor, later, "conference week")
	require.NoError(t, err)
	assert.Equal(t, later, first.Deadline)
	require.Len(t, first.Adjustments, 1)
	assert.Equal(t, domain.AdjustmentExtension, first.Adjustments[0].Kind)
	assert.Equal(t, 2, first.Adjustments[0].DeltaDays)

	latest := later.Add(24 * time.Hour)
	second, err := svc.ExtendDeadline(ctx, a.ID, mentor, latest, "one more day")
	require.NoError(t, err)
	require.Len(t, second.Adjustments, 2)
	assert.Equal(t, first.Adjustments[0], second.Adjustments[0], "history is append-only")
	assert.Equal(t, later, second.Adjustments[1].PreviousDeadline)
	assert.Equal(t, latest, second.Adjustments[1].NewDeadline)

	_, err = svc.Cancel(ctx, a.ID, learner, "quit")
	assert.ErrorIs(t, err, domain.ErrForbidden, "only mentors cancel")
	cancelled, err := svc.Cancel(ctx, a.ID, mentor, "role changed")
	require.NoError(t, err)
	require.NotNil(t, cancelled.Cancellation)
	assert.Equal(t, "role changed", cancelled.Cancellation.Reason)

	_, err = svc.ExtendDeadline(ctx, a.ID, mentor, latest.Add(time.Hour), "too late")
	var domainErr *domain.DomainError
	assert.ErrorAs(t, err, &domainErr)
}

func TestExtendDeadlineRollsBackPartialWrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	learner, mentor := uuid.New(), uuid.New()
	a := f.create(t, f.service(t, nil), learner, mentor)

	failing := f.service(t, halfWrittenStore{f.stores.Assignments})
	_, err := failing.ExtendDeadline(ctx, a.ID, mentor, a.Deadline.Add(48*time.Hour), "conference week")
	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)

	got, err := f.stores.Assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Deadline, got.Deadline)
	assert.Empty(t, got.Adjustments)
	assert.Equal(t, a.Version, got.Version)
	assert.Empty(t, f.eventsOf(events.TypeDeadlineAdjusted))

	extended, err := f.service(t, nil).ExtendDeadline(ctx, a.ID, mentor, a.Deadline.Add(48*time.Hour), "retry")
	require.NoError(t, err)
	require.Len(t, extended.Adjustments, 1)
	assert.Equal(t, a.Version+1, extended.Version)
}

func TestRecordActivity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()
	learner := uuid.New()
	a := f.create(t, svc, learner, uuid.New())

	err := svc.RecordActivity(ctx, a.ID, 30, false)
	var domainErr *domain.DomainError
	assert.ErrorAs(t, err, &domainErr, "activity requires an assignment in progress")

	_, err = svc.Start(ctx, a.ID, learner)
	require.NoError(t, err)

	require.NoError(t, svc.RecordActivity(ctx, a.ID, 30, false))
	require.NoError(t, svc.RecordActivity(ctx, a.ID, 45, false))
	got, err := svc.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, got.TimeSpentSeconds)
	assert.Equal(t, domain.AssignmentInProgress, got.Status)

	require.NoError(t, svc.RecordActivity(ctx, a.ID, 10, true))
	got, err = svc.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 85, got.TimeSpentSeconds)
	assert.Equal(t, domain.AssignmentCompleted, got.Status)

	err = svc.RecordActivity(ctx, uuid.New(), 1, false)
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestTransitionRetriesVersionConflicts(t *testing.T) {
	t.Parallel()

	t.Run("succeeds within the retry budget", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		conflicting := &conflictingStore{AssignmentStore: f.stores.Assignments}
		svc := f.service(t, conflicting)
		learner := uuid.New()
		a := f.create(t, svc, learner, uuid.New())

		conflicting.conflicts = 2
		started, err := svc.Start(context.Background(), a.ID, learner)
		require.NoError(t, err)
		assert.Equal(t, domain.AssignmentInProgress, started.Status)
		assert.Equal(t, 3, conflicting.updates)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		conflicting := &conflictingStore{AssignmentStore: f.stores.Assignments, conflicts: 100}
		svc := f.service(t, conflicting)
		learner := uuid.New()
		a := f.create(t, svc, learner, uuid.New())

		_, err := svc.Start(context.Background(), a.ID, learner)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, 1+assignment.DefaultMaxConflictRetries, conflicting.updates)

		got, err := svc.GetAssignment(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AssignmentNotStarted, got.Status)
	})
}

func TestRecomputeOverdueFlags(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	svc := f.service(t, nil)
	ctx := context.Background()

	soon := testutils.Now.Add(time.Hour)
	due, err := svc.CreateAssignment(ctx, assignment.CreateInput{
		LearnerID: uuid.New(), TemplateID: f.template.ID, Deadline: &soon,
	})
	require.NoError(t, err)
	f.create(t, svc, uuid.New(), uuid.New())

	n, err := svc.RecomputeOverdueFlags(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = svc.RecomputeOverdueFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.GetAssignment(ctx, due.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOverdue)
	assert.Equal(t, 2, got.Version)

	n, err = svc.RecomputeOverdueFlags(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "flags already current")

	recomputed := f.eventsOf(events.TypeOverdueRecomputed)
	require.Len(t, recomputed, 3)
	var payload events.OverdueRecomputed
	require.NoError(t, recomputed[1].UnmarshalPayload(&payload))
	assert.Equal(t, 1, payload.Changed)
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := assignment.NewService(nil, f.stores.Tx, f.snapshot, calendar.Default(), nil, nil, assignment.Options{}, nil)
	assert.ErrorContains(t, err, "assignments")
	_, err = assignment.NewService(f.stores.Assignments, nil, f.snapshot, calendar.Default(), nil, nil, assignment.Options{}, nil)
	assert.ErrorContains(t, err, "tx")
	_, err = assignment.NewService(f.stores.Assignments, f.stores.Tx, nil, calendar.Default(), nil, nil, assignment.Options{}, nil)
	assert.ErrorContains(t, err, "snapshots")
	_, err = assignment.NewService(f.stores.Assignments, f.stores.Tx, f.snapshot, nil, nil, nil, assignment.Options{}, nil)
	assert.ErrorContains(t, err, "calendar")

	svc, err := assignment.NewService(f.stores.Assignments, f.stores.Tx, f.snapshot, calendar.Default(), nil, nil,
		assignment.Options{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}
