package assignment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/events"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/phrazzld/learnflow/internal/service/snapshot"
	"github.com/phrazzld/learnflow/internal/store"
)

var _ Service = (*serviceImpl)(nil)

type serviceImpl struct {
	assignments store.AssignmentStore
	tx          store.Transactor
	snapshots   SnapshotCreator
	calendar    domain.BusinessDayAdder
	emitter     events.EventEmitter
	clock       domain.Clock
	opts        Options
	logger      *slog.Logger
}

// NewService creates an assignment Service. A nil emitter or clock falls back
// to a no-op emitter and the system clock.
func NewService(
	assignments store.AssignmentStore,
	tx store.Transactor,
	snapshots SnapshotCreator,
	calendar domain.BusinessDayAdder,
	emitter events.EventEmitter,
	clock domain.Clock,
	opts Options,
	logger *slog.Logger,
) (Service, error) {
	if assignments == nil {
		return nil, domain.NewValidationError("assignments", "cannot be nil", errNilDependency)
	}
	if tx == nil {
		return nil, domain.NewValidationError("tx", "cannot be nil", errNilDependency)
	}
	if snapshots == nil {
		return nil, domain.NewValidationError("snapshots", "cannot be nil", errNilDependency)
	}
	if calendar == nil {
		return nil, domain.NewValidationError("calendar", "cannot be nil", errNilDependency)
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if opts.DefaultDeadlineBusinessDays <= 0 {
		opts.DefaultDeadlineBusinessDays = DefaultDeadlineBusinessDays
	}
	if opts.MaxConflictRetries <= 0 {
		opts.MaxConflictRetries = DefaultMaxConflictRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &serviceImpl{
		assignments: assignments,
		tx:          tx,
		snapshots:   snapshots,
		calendar:    calendar,
		emitter:     emitter,
		clock:       clock,
		opts:        opts,
		logger:      logger.With(slog.String("component", "assignment_service")),
	}, nil
}

// CreateAssignment implements Service.
func (s *serviceImpl) CreateAssignment(ctx context.Context, in CreateInput) (*domain.Assignment, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("learner_id", in.LearnerID.String()),
		slog.String("template_id", in.TemplateID.String()))

	if in.LearnerID == uuid.Nil {
		return nil, domain.NewValidationError("learner_id", "cannot be empty", domain.ErrInvalidID)
	}
	if in.TemplateID == uuid.Nil {
		return nil, domain.NewValidationError("template_id", "cannot be empty", domain.ErrInvalidID)
	}

	now := s.clock.Now()
	deadline := s.calendar.AddBusinessDays(now, s.opts.DefaultDeadlineBusinessDays)
	if in.Deadline != nil {
		if !in.Deadline.After(now) {
			return nil, domain.NewValidationError("deadline", "must be in the future", nil)
		}
		deadline = *in.Deadline
	}

	mentors := slices.Clone(in.MentorIDs)
	if in.CreatedBy != uuid.Nil && in.CreatedBy != in.LearnerID && !slices.Contains(mentors, in.CreatedBy) {
		mentors = append(mentors, in.CreatedBy)
	}
	if slices.Contains(mentors, in.LearnerID) {
		return nil, domain.NewValidationError("mentor_ids", "learner cannot mentor their own assignment", nil)
	}

	snapCtx := map[string]any{"learner_id": in.LearnerID.String()}
	for k, v := range in.Context {
		snapCtx[k] = v
	}
	created, err := s.snapshots.CreateFlowSnapshot(ctx, in.TemplateID, snapshot.CreateOptions{
		CreatedBy: in.CreatedBy,
		Context:   snapCtx,
	})
	if err != nil {
		return nil, err
	}
	flowSnapshotID := created.Tree.Flow.ID

	a, err := domain.NewAssignment(in.LearnerID, flowSnapshotID, mentors, deadline, now)
	if err != nil {
		s.discardSnapshot(ctx, flowSnapshotID)
		return nil, err
	}
	if err := s.assignments.Create(ctx, a); err != nil {
		log.Error("failed to create assignment", redact.Attr(err))
		s.discardSnapshot(ctx, flowSnapshotID)
		return nil, domain.NewStorageError("create assignment", err)
	}

	log.Info("assignment created",
		slog.String("assignment_id", a.ID.String()),
		slog.String("flow_snapshot_id", flowSnapshotID.String()),
		slog.Time("deadline", a.Deadline))
	s.emit(ctx, events.TypeAssignmentStatusChanged, a.ID, events.AssignmentStatusChanged{
		AssignmentID: a.ID,
		To:           a.Status,
		ActorID:      in.CreatedBy,
	})
	return a, nil
}

// discardSnapshot removes a snapshot whose assignment could not be created.
func (s *serviceImpl) discardSnapshot(ctx context.Context, flowSnapshotID uuid.UUID) {
	if err := s.snapshots.DeleteSnapshot(ctx, flowSnapshotID); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to discard orphaned snapshot",
			redact.Attr(err), slog.String("flow_snapshot_id", flowSnapshotID.String()))
	}
}

// GetAssignment implements Service.
func (s *serviceImpl) GetAssignment(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	return s.load(ctx, id)
}

// ListLearnerAssignments implements Service.
func (s *serviceImpl) ListLearnerAssignments(ctx context.Context, learnerID uuid.UUID) ([]*domain.Assignment, error) {
	list, err := s.assignments.ListByLearner(ctx, learnerID)
	if err != nil {
		return nil, domain.NewStorageError("list assignments", err)
	}
	return list, nil
}

// Start implements Service.
func (s *serviceImpl) Start(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error) {
	return s.transition(ctx, id, actor, "start", func(a *domain.Assignment, now time.Time) (*domain.Assignment, error) {
		return a.Start(actor, now)
	})
}

// Pause implements Service.
func (s *serviceImpl) Pause(ctx context.Context, id, actor uuid.UUID, reason string) (*domain.Assignment, error) {
	return s.transition(ctx, id, actor, "pause", func(a *domain.Assignment, now time.Time) (*domain.Assignment, error) {
		return a.Pause(actor, reason, now)
	})
}

// Resume implements Service.
func (s *serviceImpl) Resume(ctx context.Context, id, actor uuid.UUID, adjustDeadline bool) (*domain.Assignment, error) {
	var cal domain.BusinessDayAdder
	if adjustDeadline {
		cal = s.calendar
	}
	return s.transition(ctx, id, actor, "resume", func(a *domain.Assignment, now time.Time) (*domain.Assignment, error) {
		return a.Resume(actor, now, cal)
	})
}

// Complete implements Service.
func (s *serviceImpl) Complete(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error) {
	return s.transition(ctx, id, actor, "complete", func(a *domain.Assignment, now time.Time) (*domain.Assignment, error) {
		return a.Complete(actor, now)
	})
}

// Cancel implements Service.
func (s *serviceImpl) Cancel(ctx context.Context, id, actor uuid.UUID, reason string) (*domain.Assignment, error) {
	return s.transition(ctx, id, actor, "cancel", func(a *domain.Assignment, now time.Time) (*domain.Assignment, error) {
		return a.Cancel(actor, reason, now)
	})
}

// ExtendDeadline implements Service.
func (s *serviceImpl) ExtendDeadline(
	ctx context.Context,
	id, actor uuid.UUID,
	newDeadline time.Time,
	reason string,
) (*domain.Assignment, error) {
	return s.transition(ctx, id, actor, "extend_deadline",
		func(a *domain.Assignment, now time.Time) (*domain.Assignment, error) {
			return a.ExtendDeadline(actor, newDeadline, reason, now)
		})
}

// RecordActivity implements Service.
func (s *serviceImpl) RecordActivity(
	ctx context.Context,
	id uuid.UUID,
	timeSpentSeconds int,
	flowCompleted bool,
) error {
	var publish func()
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		publish, err = s.RecordActivityTx(ctx, tx, id, timeSpentSeconds, flowCompleted)
		return err
	})
	if err != nil {
		return err
	}
	publish()
	return nil
}

// RecordActivityTx implements Service.
func (s *serviceImpl) RecordActivityTx(
	ctx context.Context,
	tx *sql.Tx,
	id uuid.UUID,
	timeSpentSeconds int,
	flowCompleted bool,
) (func(), error) {
	before, after, err := s.apply(ctx, s.assignments.WithTx(tx), id, "record_activity",
		func(a *domain.Assignment, now time.Time) (*domain.Assignment, error) {
			next, err := a.RecordActivity(timeSpentSeconds, now)
			if err != nil || !flowCompleted {
				return next, err
			}
			return next.CompleteFromProgress(now)
		})
	if err != nil {
		return nil, err
	}
	return func() {
		if flowCompleted {
			logger.FromContextOrDefault(ctx, s.logger).Info("assignment completed by progress",
				slog.String("assignment_id", id.String()),
				slog.String("learner_id", after.LearnerID.String()))
		}
		s.publish(ctx, before, after, uuid.Nil)
	}, nil
}

// RecomputeOverdueFlags implements Service.
func (s *serviceImpl) RecomputeOverdueFlags(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	now := s.clock.Now()

	changed, err := s.assignments.RecomputeOverdue(ctx, now)
	if err != nil {
		log.Error("failed to recompute overdue flags", redact.Attr(err))
		return 0, domain.NewStorageError("recompute overdue", err)
	}

	log.Info("overdue flags recomputed", slog.Int("changed", changed))
	s.emit(ctx, events.TypeOverdueRecomputed, uuid.Nil, events.OverdueRecomputed{Changed: changed})
	return changed, nil
}

// transition applies fn to the current assignment in one transaction and
// emits the resulting events once it has committed.
func (s *serviceImpl) transition(
	ctx context.Context,
	id, actor uuid.UUID,
	op string,
	fn func(a *domain.Assignment, now time.Time) (*domain.Assignment, error),
) (*domain.Assignment, error) {
	var before, after *domain.Assignment
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		before, after, err = s.apply(ctx, s.assignments.WithTx(tx), id, op, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, before, after, actor)
	return after, nil
}

// apply loads the assignment from as, applies fn and writes the result with a
// version check, reloading and reapplying after each conflict.
func (s *serviceImpl) apply(
	ctx context.Context,
	as store.AssignmentStore,
	id uuid.UUID,
	op string,
	fn func(a *domain.Assignment, now time.Time) (*domain.Assignment, error),
) (before, after *domain.Assignment, err error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("assignment_id", id.String()),
		slog.String("operation", op))

	for attempt := 0; attempt <= s.opts.MaxConflictRetries; attempt++ {
		current, err := loadFrom(ctx, as, id)
		if err != nil {
			return nil, nil, err
		}
		next, err := fn(current, s.clock.Now())
		if err != nil {
			log.Debug("transition rejected", redact.Attr(err))
			return nil, nil, err
		}

		err = as.Update(ctx, next)
		switch {
		case err == nil:
			log.Info("assignment updated",
				slog.String("from", string(current.Status)),
				slog.String("to", string(next.Status)),
				slog.Int("version", next.Version))
			return current, next, nil
		case errors.Is(err, store.ErrVersionConflict):
			log.Debug("version conflict, retrying", slog.Int("attempt", attempt+1))
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
		case errors.Is(err, store.ErrAssignmentNotFound):
			return nil, nil, domain.NewNotFoundError("assignment", id)
		default:
			log.Error("failed to update assignment", redact.Attr(err))
			return nil, nil, domain.NewStorageError("update assignment", err)
		}
	}

	log.Warn("giving up after repeated version conflicts", slog.Int("retries", s.opts.MaxConflictRetries))
	return nil, nil, fmt.Errorf("%w: assignment %s is being modified concurrently", domain.ErrConflict, id)
}

func (s *serviceImpl) load(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	return loadFrom(ctx, s.assignments, id)
}

func loadFrom(ctx context.Context, as store.AssignmentStore, id uuid.UUID) (*domain.Assignment, error) {
	a, err := as.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrAssignmentNotFound) {
			return nil, domain.NewNotFoundError("assignment", id)
		}
		return nil, domain.NewStorageError("get assignment", err)
	}
	return a, nil
}

// publish emits events for a status change and for each new deadline
// adjustment.
func (s *serviceImpl) publish(ctx context.Context, before, after *domain.Assignment, actor uuid.UUID) {
	if actor == uuid.Nil {
		actor = after.LearnerID
	}
	if before.Status != after.Status {
		s.emit(ctx, events.TypeAssignmentStatusChanged, after.ID, events.AssignmentStatusChanged{
			AssignmentID: after.ID,
			From:         before.Status,
			To:           after.Status,
			ActorID:      actor,
		})
	}
	for _, adj := range after.Adjustments[len(before.Adjustments):] {
		s.emit(ctx, events.TypeDeadlineAdjusted, after.ID, events.DeadlineAdjusted{
			AssignmentID: after.ID,
			Adjustment:   adj,
		})
	}
}

func (s *serviceImpl) emit(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) {
	if err := events.Emit(ctx, s.emitter, eventType, aggregateID, payload, s.clock.Now()); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("failed to emit event",
			redact.Attr(err), slog.String("event_type", eventType))
	}
}
