package task

import (
	"context"
	"log/slog"
	"time"
)

// OverdueJobName is the name of the job refreshing assignment overdue flags.
const OverdueJobName = "recompute_overdue"

// OverdueRecomputer refreshes overdue flags. assignment.Service satisfies it.
type OverdueRecomputer interface {
	RecomputeOverdueFlags(ctx context.Context) (int, error)
}

// OverdueJob periodically recomputes the overdue flag of every assignment.
type OverdueJob struct {
	recomputer OverdueRecomputer
	timeout    time.Duration
	logger     *slog.Logger
}

// NewOverdueJob creates the job. A timeout of zero lets a run last until the
// scheduler stops.
func NewOverdueJob(recomputer OverdueRecomputer, timeout time.Duration, logger *slog.Logger) *OverdueJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueJob{
		recomputer: recomputer,
		timeout:    timeout,
		logger:     logger.With(slog.String("job", OverdueJobName)),
	}
}

// Name implements Job.
func (j *OverdueJob) Name() string { return OverdueJobName }

// Run implements Job.
func (j *OverdueJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	changed, err := j.recomputer.RecomputeOverdueFlags(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("overdue flags recomputed", slog.Int("changed", changed))
	return nil
}
