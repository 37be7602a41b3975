package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// weekdayAdder skips Saturdays and Sundays.
type weekdayAdder struct{}

func (weekdayAdder) AddBusinessDays(from time.Time, days int) time.Time {
	d := from
	for days > 0 {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days--
		}
	}
	return d
}

var testNow = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC) // Monday

func newTestAssignment(t *testing.T) (*Assignment, uuid.UUID, uuid.UUID) {
	t.Helper()
	learner, mentor := uuid.New(), uuid.New()
	a, err := NewAssignment(learner, uuid.New(), []uuid.UUID{mentor}, testNow.AddDate(0, 0, 14), testNow)
	require.NoError(t, err)
	return a, learner, mentor
}

func TestNewAssignmentValidation(t *testing.T) {
	t.Parallel()

	_, err := NewAssignment(uuid.Nil, uuid.New(), nil, testNow, testNow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewAssignment(uuid.New(), uuid.Nil, nil, testNow, testNow)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = NewAssignment(uuid.New(), uuid.New(), nil, time.Time{}, testNow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewAssignment(uuid.New(), uuid.New(), []uuid.UUID{uuid.Nil}, testNow, testNow)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestAssignmentStart(t *testing.T) {
	t.Parallel()

	a, learner, mentor := newTestAssignment(t)

	_, err := a.Start(mentor, testNow)
	assert.ErrorIs(t, err, ErrForbidden)

	started, err := a.Start(learner, testNow)
	require.NoError(t, err)
	assert.Equal(t, AssignmentInProgress, started.Status)
	require.NotNil(t, started.StartedAt)
	assert.Equal(t, testNow, *started.LastActivityAt)
	assert.Equal(t, AssignmentNotStarted, a.Status, "receiver must not change")

	_, err = started.Start(learner, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAssignmentPauseResume(t *testing.T) {
	t.Parallel()

	a, learner, mentor := newTestAssignment(t)
	started, err := a.Start(learner, testNow)
	require.NoError(t, err)

	_, err = started.Pause(uuid.New(), "sick", testNow)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = started.Pause(mentor, " ", testNow)
	assert.ErrorIs(t, err, ErrReasonRequired)

	paused, err := started.Pause(mentor, "sick leave", testNow)
	require.NoError(t, err)
	assert.Equal(t, AssignmentPaused, paused.Status)
	require.NotNil(t, paused.PauseState)
	assert.Equal(t, mentor, paused.PauseState.PausedBy)

	_, err = paused.Complete(learner, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition, "paused assignments cannot complete directly")

	t.Run("without deadline adjustment", func(t *testing.T) {
		resumed, err := paused.Resume(learner, testNow.AddDate(0, 0, 3), nil)
		require.NoError(t, err)
		assert.Equal(t, AssignmentInProgress, resumed.Status)
		assert.Nil(t, resumed.PauseState)
		assert.Equal(t, paused.Deadline, resumed.Deadline)
		assert.Empty(t, resumed.Adjustments)
	})

	t.Run("three calendar days add three business days", func(t *testing.T) {
		resumed, err := paused.Resume(learner, testNow.AddDate(0, 0, 3), weekdayAdder{})
		require.NoError(t, err)

		// Deadline is Monday 17 March; three business days later is Thursday.
		want := time.Date(2025, time.March, 20, 9, 0, 0, 0, time.UTC)
		assert.Equal(t, want, resumed.Deadline)
		require.Len(t, resumed.Adjustments, 1)
		adj := resumed.Adjustments[0]
		assert.Equal(t, AdjustmentPause, adj.Kind)
		assert.Equal(t, 3, adj.DeltaDays)
		assert.Equal(t, paused.Deadline, adj.PreviousDeadline)
	})

	t.Run("partial days round up", func(t *testing.T) {
		resumed, err := paused.Resume(mentor, testNow.Add(25*time.Hour), weekdayAdder{})
		require.NoError(t, err)
		require.Len(t, resumed.Adjustments, 1)
		assert.Equal(t, 2, resumed.Adjustments[0].DeltaDays)
	})
}

func TestAssignmentCompleteAndCancel(t *testing.T) {
	t.Parallel()

	a, learner, mentor := newTestAssignment(t)

	_, err := a.Cancel(learner, "no", testNow)
	assert.ErrorIs(t, err, ErrForbidden, "learners cannot cancel")

	cancelled, err := a.Cancel(mentor, "left company", testNow)
	require.NoError(t, err)
	assert.Equal(t, AssignmentCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Cancellation)
	assert.Equal(t, mentor, cancelled.Cancellation.CancelledBy)

	_, err = cancelled.Cancel(mentor, "again", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = a.Complete(learner, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition, "not started assignments cannot complete")

	started, err := a.Start(learner, testNow)
	require.NoError(t, err)
	completed, err := started.Complete(mentor, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, AssignmentCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
}

func TestAssignmentExtendDeadline(t *testing.T) {
	t.Parallel()

	a, learner, mentor := newTestAssignment(t)

	_, err := a.ExtendDeadline(learner, a.Deadline.AddDate(0, 0, 1), "more time", testNow)
	assert.ErrorIs(t, err, ErrForbidden)

	for _, d := range []time.Time{a.Deadline, a.Deadline.Add(-time.Second), a.Deadline.AddDate(0, 0, -10)} {
		_, err := a.ExtendDeadline(mentor, d, "earlier", testNow)
		require.Error(t, err)
		var vErr *ValidationError
		assert.True(t, errors.As(err, &vErr))
		assert.ErrorIs(t, err, ErrDeadlineNotLater)
	}

	extended, err := a.ExtendDeadline(mentor, a.Deadline.AddDate(0, 0, 5), "more time", testNow)
	require.NoError(t, err)
	require.Len(t, extended.Adjustments, 1)
	assert.Equal(t, AdjustmentExtension, extended.Adjustments[0].Kind)
	assert.Equal(t, 5, extended.Adjustments[0].DeltaDays)
	assert.Empty(t, a.Adjustments)

	again, err := extended.ExtendDeadline(mentor, extended.Deadline.Add(time.Hour), "bit more", testNow)
	require.NoError(t, err)
	assert.Len(t, again.Adjustments, 2)

	cancelled, err := a.Cancel(mentor, "done", testNow)
	require.NoError(t, err)
	_, err = cancelled.ExtendDeadline(mentor, a.Deadline.AddDate(0, 0, 1), "late", testNow)
	assert.ErrorIs(t, err, ErrDomain)
}

func TestAssignmentIsOverdueAt(t *testing.T) {
	t.Parallel()

	a, learner, mentor := newTestAssignment(t)
	after := a.Deadline.Add(time.Minute)

	assert.False(t, a.IsOverdueAt(testNow))
	assert.True(t, a.IsOverdueAt(after))

	started, err := a.Start(learner, testNow)
	require.NoError(t, err)
	assert.True(t, started.IsOverdueAt(after))

	paused, err := started.Pause(learner, "holiday", testNow)
	require.NoError(t, err)
	assert.False(t, paused.IsOverdueAt(after))

	completed, err := started.Complete(mentor, testNow)
	require.NoError(t, err)
	assert.False(t, completed.IsOverdueAt(after))
}

func TestAssignmentRecordActivity(t *testing.T) {
	t.Parallel()

	a, learner, _ := newTestAssignment(t)
	_, err := a.RecordActivity(10, testNow)
	assert.ErrorIs(t, err, ErrDomain)

	started, err := a.Start(learner, testNow)
	require.NoError(t, err)
	later := testNow.Add(time.Minute)
	updated, err := started.RecordActivity(45, later)
	require.NoError(t, err)
	assert.Equal(t, 45, updated.TimeSpentSeconds)
	assert.Equal(t, later, *updated.LastActivityAt)
	assert.Equal(t, 0, started.TimeSpentSeconds)

	_, err = started.RecordActivity(-1, later)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPauseDays(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, PauseDays(testNow, testNow))
	assert.Equal(t, 1, PauseDays(testNow, testNow.Add(time.Minute)))
	assert.Equal(t, 3, PauseDays(testNow, testNow.AddDate(0, 0, 3)))
}

func TestPausedAssignmentJSON(t *testing.T) {
	t.Parallel()
	a, learner, mentor := newTestAssignment(t)
	started, err := a.Start(learner, testNow)
	require.NoError(t, err)
	paused, err := started.Pause(mentor, "sick leave", testNow)
	require.NoError(t, err)

	raw, err := json.Marshal(paused)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Contains(t, doc, "pause")
	assert.Equal(t, "sick leave", doc["pause"].(map[string]any)["reason"])

	var decoded Assignment
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.PauseState)
	assert.Equal(t, mentor, decoded.PauseState.PausedBy)

	resumed, err := decoded.Resume(learner, testNow.Add(time.Hour), nil)
	require.NoError(t, err)
	raw, err = json.Marshal(resumed)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"pause"`)
}
