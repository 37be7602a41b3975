package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRecomputer struct {
	mock.Mock
}

func (m *mockRecomputer) RecomputeOverdueFlags(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestRegister(t *testing.T) {
	t.Parallel()
	s := NewScheduler(nil)
	noop := JobFunc{JobName: "noop", Fn: func(context.Context) error { return nil }}

	require.NoError(t, s.Register("@every 15m", noop))
	assert.ErrorContains(t, s.Register("@hourly", noop), "already registered")
	assert.ErrorContains(t,
		s.Register("every now and then", JobFunc{JobName: "bad", Fn: noop.Fn}), "invalid schedule")

	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	next, ok := s.NextRun("noop")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), next, 5*time.Second)
	_, ok = s.NextRun("missing")
	assert.False(t, ok)

	assert.ErrorIs(t, s.Register("@daily", JobFunc{JobName: "late", Fn: noop.Fn}), ErrSchedulerStarted)
}

func TestSchedulerRunsJobsAndSurvivesPanics(t *testing.T) {
	t.Parallel()
	log, capture := logger.NewCapture()
	s := NewScheduler(log)

	var runs, panics atomic.Int32
	require.NoError(t, s.Register("@every 1s", JobFunc{JobName: "counter", Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	require.NoError(t, s.Register("@every 1s", JobFunc{JobName: "boom", Fn: func(context.Context) error {
		panics.Add(1)
		panic("job exploded")
	}}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 && panics.Load() >= 2 },
		5*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	_, ok := capture.Find("panic")
	assert.True(t, ok, "panic is logged by the recover wrapper")
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	t.Parallel()
	log, capture := logger.NewCapture()
	s := NewScheduler(log)

	var runs atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Register("@every 1s", JobFunc{JobName: "slow", Fn: func(context.Context) error {
		runs.Add(1)
		<-release
		panic("slow job exploded")
	}}))

	s.Start()
	assert.Eventually(t, func() bool {
		_, ok := capture.Find("skip")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 50*time.Millisecond,
		"a recovered panic frees the job for its next tick")
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopCancelsRunningJobsAfterGracePeriod(t *testing.T) {
	t.Parallel()
	s := NewScheduler(nil)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, s.Register("@every 1s", JobFunc{JobName: "slow", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))
	s.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}

func TestSchedulerLogsJobErrors(t *testing.T) {
	t.Parallel()
	log, capture := logger.NewCapture()
	s := NewScheduler(log)

	s.run(JobFunc{JobName: "failing", Fn: func(context.Context) error {
		return errors.New("database unreachable")
	}})

	entry, ok := capture.Find("job failed")
	require.True(t, ok)
	assert.Equal(t, "failing", entry["job"])
}

func TestOverdueJob(t *testing.T) {
	t.Parallel()

	t.Run("reports changes", func(t *testing.T) {
		t.Parallel()
		rec := &mockRecomputer{}
		rec.On("RecomputeOverdueFlags", mock.MatchedBy(func(ctx context.Context) bool {
			_, hasDeadline := ctx.Deadline()
			return hasDeadline
		})).Return(3, nil).Once()

		log, capture := logger.NewCapture()
		job := NewOverdueJob(rec, time.Minute, log)
		assert.Equal(t, OverdueJobName, job.Name())
		require.NoError(t, job.Run(context.Background()))

		entry, ok := capture.Find("overdue flags recomputed")
		require.True(t, ok)
		assert.EqualValues(t, 3, entry["changed"])
		rec.AssertExpectations(t)
	})

	t.Run("propagates errors", func(t *testing.T) {
		t.Parallel()
		rec := &mockRecomputer{}
		rec.On("RecomputeOverdueFlags", mock.Anything).Return(0, errors.New("timeout")).Once()

		err := NewOverdueJob(rec, 0, nil).Run(context.Background())
		assert.EqualError(t, err, "timeout")
		rec.AssertExpectations(t)
	})
}
