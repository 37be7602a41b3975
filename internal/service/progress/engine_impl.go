package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/events"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/phrazzld/learnflow/internal/store"
)

var _ Engine = (*engineImpl)(nil)

// Dependencies are the collaborators of the progress Engine. Emitter,
// Observer and Clock are optional.
type Dependencies struct {
	Assignments AssignmentReader
	Trees       TreeReader
	Progress    store.ProgressStore
	Tx          store.Transactor
	Locker      store.Locker
	Gateway     AssignmentGateway
	Emitter     events.EventEmitter
	Observer    Observer
	Clock       domain.Clock
}

type engineImpl struct {
	Dependencies
	logger *slog.Logger
}

// NewEngine creates a progress Engine.
func NewEngine(deps Dependencies, logger *slog.Logger) (Engine, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{"assignments", deps.Assignments == nil},
		{"trees", deps.Trees == nil},
		{"progress", deps.Progress == nil},
		{"tx", deps.Tx == nil},
		{"locker", deps.Locker == nil},
		{"gateway", deps.Gateway == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, domain.NewValidationError(r.name, "cannot be nil", errNilDependency)
		}
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NopEmitter{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &engineImpl{
		Dependencies: deps,
		logger:       logger.With(slog.String("component", "progress_engine")),
	}, nil
}

// UpdateComponentProgress implements Engine.
func (e *engineImpl) UpdateComponentProgress(
	ctx context.Context,
	learnerID, assignmentID, componentID uuid.UUID,
	action domain.ProgressAction,
	data ActionData,
) (_ *UpdateResult, err error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("learner_id", learnerID.String()),
		slog.String("assignment_id", assignmentID.String()),
		slog.String("component_id", componentID.String()),
		slog.String("action", string(action)))

	componentType := "unknown"
	defer func() { e.Observer.ObserveProgressAction(componentType, string(action), err) }()

	if !action.IsValid() {
		return nil, domain.NewValidationError("action", fmt.Sprintf("unknown action %q", action), nil)
	}

	a, tree, err := e.loadAssignment(ctx, learnerID, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AssignmentInProgress {
		return nil, domain.NewDomainError("assignment is %s, not in progress", a.Status)
	}
	component, step, err := locate(tree, componentID)
	if err != nil {
		return nil, err
	}
	componentType = string(component.Type)

	release, err := e.acquire(ctx, learnerID, componentID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := e.Clock.Now()
	result := &UpdateResult{}
	var before domain.ProgressStatus
	var publish func()

	err = e.Tx.RunInTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ps := e.Progress.WithTx(tx)
		byComponent, recorded, err := loadProgress(ctx, ps, assignmentID)
		if err != nil {
			return err
		}
		if !unlockedSteps(tree, byComponent, recorded)[step.ID] {
			return domain.NewDomainError("step %d is locked", step.Order)
		}

		current := byComponent[componentID]
		isNew := current == nil
		if isNew {
			if current, err = domain.NewComponentProgress(learnerID, assignmentID, component, now); err != nil {
				return err
			}
		}
		before = current.Status

		next, eval, changed, err := applyAction(current, component, step, action, data, now)
		if err != nil {
			return err
		}
		if changed {
			if isNew {
				err = ps.Create(ctx, next)
			} else {
				err = ps.Update(ctx, next)
			}
			if err != nil {
				return writeError("save component progress", err)
			}
			byComponent[componentID] = next
		}
		result.Progress = next
		result.Evaluation = eval

		result.Unlock = newlyUnlocked(tree, unlockedSteps(tree, byComponent, recorded), recorded)
		if len(result.Unlock.StepIDs) > 0 {
			unlocks := make([]domain.StepUnlock, len(result.Unlock.StepIDs))
			for i, id := range result.Unlock.StepIDs {
				unlocks[i] = domain.StepUnlock{AssignmentID: assignmentID, StepSnapshotID: id, UnlockedAt: now}
				recorded[id] = true
			}
			if err := ps.RecordStepUnlocks(ctx, unlocks); err != nil {
				return domain.NewStorageError("record step unlocks", err)
			}
		}

		result.FlowCompleted = summarize(tree, a, byComponent, recorded).Completed
		if changed || result.FlowCompleted {
			var gwErr error
			publish, gwErr = e.Gateway.RecordActivityTx(ctx, tx, assignmentID,
				data.TimeSpentSeconds, result.FlowCompleted)
			return gwErr
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			log.Error("failed to update component progress", redact.Attr(err))
		} else {
			log.Debug("component progress update rejected", redact.Attr(err))
		}
		return nil, err
	}

	if publish != nil {
		publish()
	}

	log.Info("component progress updated",
		slog.String("from", string(before)),
		slog.String("to", string(result.Progress.Status)),
		slog.Int("steps_unlocked", len(result.Unlock.StepIDs)),
		slog.Bool("flow_completed", result.FlowCompleted))

	if before != result.Progress.Status {
		e.emit(ctx, events.TypeComponentStatusChanged, assignmentID, events.ComponentStatusChanged{
			AssignmentID: assignmentID,
			ComponentID:  componentID,
			Action:       action,
			From:         before,
			To:           result.Progress.Status,
		})
	}
	if len(result.Unlock.StepIDs) > 0 {
		e.emit(ctx, events.TypeStepsUnlocked, assignmentID, events.StepsUnlocked{
			AssignmentID: assignmentID,
			LearnerID:    learnerID,
			StepIDs:      result.Unlock.StepIDs,
			ComponentIDs: result.Unlock.ComponentIDs,
		})
	}
	return result, nil
}

// GetProgressSummary implements Engine.
func (e *engineImpl) GetProgressSummary(ctx context.Context, learnerID, assignmentID uuid.UUID) (*Summary, error) {
	a, tree, err := e.loadAssignment(ctx, learnerID, assignmentID)
	if err != nil {
		return nil, err
	}
	byComponent, recorded, err := loadProgress(ctx, e.Progress, assignmentID)
	if err != nil {
		logger.FromContextOrDefault(ctx, e.logger).Error("failed to load progress",
			redact.Attr(err), slog.String("assignment_id", assignmentID.String()))
		return nil, err
	}
	return summarize(tree, a, byComponent, recorded), nil
}

// ResetComponentProgress implements Engine.
func (e *engineImpl) ResetComponentProgress(
	ctx context.Context,
	learnerID, assignmentID, componentID uuid.UUID,
) (_ *domain.ComponentProgress, err error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("assignment_id", assignmentID.String()),
		slog.String("component_id", componentID.String()))

	componentType := "unknown"
	defer func() { e.Observer.ObserveProgressAction(componentType, string(ActionReset), err) }()

	a, tree, err := e.loadAssignment(ctx, learnerID, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, domain.NewDomainError("assignment is %s", a.Status)
	}
	component, _, err := locate(tree, componentID)
	if err != nil {
		return nil, err
	}
	componentType = string(component.Type)

	release, err := e.acquire(ctx, learnerID, componentID)
	if err != nil {
		return nil, err
	}
	defer release()

	var before, reset *domain.ComponentProgress
	err = e.Tx.RunInTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ps := e.Progress.WithTx(tx)
		current, err := ps.Find(ctx, learnerID, assignmentID, componentID)
		if err != nil {
			if errors.Is(err, store.ErrProgressNotFound) {
				return domain.NewNotFoundError("component progress", componentID)
			}
			return domain.NewStorageError("find component progress", err)
		}
		next, err := current.Reset(e.Clock.Now())
		if err != nil {
			return err
		}
		if err := ps.Update(ctx, next); err != nil {
			return writeError("reset component progress", err)
		}
		before, reset = current, next
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("component progress reset", slog.String("from", string(before.Status)))
	e.emit(ctx, events.TypeComponentStatusChanged, assignmentID, events.ComponentStatusChanged{
		AssignmentID: assignmentID,
		ComponentID:  componentID,
		Action:       ActionReset,
		From:         before.Status,
		To:           reset.Status,
	})
	return reset, nil
}

// loadAssignment loads the learner's assignment and its snapshot tree.
func (e *engineImpl) loadAssignment(
	ctx context.Context,
	learnerID, assignmentID uuid.UUID,
) (*domain.Assignment, *domain.SnapshotTree, error) {
	a, err := e.Assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, store.ErrAssignmentNotFound) || errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.NewNotFoundError("assignment", assignmentID)
		}
		return nil, nil, domain.NewStorageError("get assignment", err)
	}
	if a.LearnerID != learnerID {
		return nil, nil, fmt.Errorf("%w: assignment %s belongs to another learner", domain.ErrForbidden, assignmentID)
	}
	tree, err := e.Trees.GetSnapshotTree(ctx, a.FlowSnapshotID)
	if err != nil {
		return nil, nil, err
	}
	return a, tree, nil
}

func (e *engineImpl) acquire(ctx context.Context, learnerID, componentID uuid.UUID) (func(), error) {
	release, err := e.Locker.Acquire(ctx, fmt.Sprintf("progress:%s:%s", learnerID, componentID))
	if err != nil {
		if errors.Is(err, store.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: %w", domain.ErrConflict, err)
		}
		return nil, domain.NewStorageError("acquire progress lock", err)
	}
	return release, nil
}

func (e *engineImpl) emit(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) {
	if err := events.Emit(ctx, e.Emitter, eventType, aggregateID, payload, e.Clock.Now()); err != nil {
		logger.FromContextOrDefault(ctx, e.logger).Warn("failed to emit event",
			redact.Attr(err), slog.String("event_type", eventType))
	}
}

func locate(tree *domain.SnapshotTree, componentID uuid.UUID) (*domain.ComponentSnapshot, *domain.StepSnapshot, error) {
	component, ok := tree.ComponentByID(componentID)
	if !ok {
		return nil, nil, domain.NewNotFoundError("component snapshot", componentID)
	}
	step, ok := tree.StepByID(component.StepSnapshotID)
	if !ok {
		return nil, nil, domain.NewNotFoundError("step snapshot", component.StepSnapshotID)
	}
	return component, step, nil
}

func loadProgress(
	ctx context.Context,
	ps store.ProgressStore,
	assignmentID uuid.UUID,
) (map[uuid.UUID]*domain.ComponentProgress, map[uuid.UUID]bool, error) {
	records, err := ps.FindAllByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, domain.NewStorageError("list component progress", err)
	}
	unlocks, err := ps.UnlockedSteps(ctx, assignmentID)
	if err != nil {
		return nil, nil, domain.NewStorageError("list step unlocks", err)
	}

	byComponent := make(map[uuid.UUID]*domain.ComponentProgress, len(records))
	for _, p := range records {
		byComponent[p.ComponentSnapshotID] = p
	}
	recorded := make(map[uuid.UUID]bool, len(unlocks))
	for _, u := range unlocks {
		recorded[u.StepSnapshotID] = true
	}
	return byComponent, recorded, nil
}

func writeError(op string, err error) error {
	if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: component progress changed concurrently", domain.ErrConflict)
	}
	return domain.NewStorageError(op, err)
}
