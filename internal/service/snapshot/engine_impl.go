package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/events"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/phrazzld/learnflow/internal/store"
)

var _ Engine = (*engineImpl)(nil)

type engineImpl struct {
	templates store.TemplateReader
	snapshots store.SnapshotStore
	tx        store.Transactor
	emitter   events.EventEmitter
	observer  Observer
	clock     domain.Clock
	logger    *slog.Logger
}

// NewEngine creates a snapshot Engine. A nil emitter, observer or clock falls
// back to a no-op emitter, a no-op observer and the system clock.
func NewEngine(
	templates store.TemplateReader,
	snapshots store.SnapshotStore,
	tx store.Transactor,
	emitter events.EventEmitter,
	observer Observer,
	clock domain.Clock,
	logger *slog.Logger,
) (Engine, error) {
	if templates == nil {
		return nil, domain.NewValidationError("templates", "cannot be nil", errNilDependency)
	}
	if snapshots == nil {
		return nil, domain.NewValidationError("snapshots", "cannot be nil", errNilDependency)
	}
	if tx == nil {
		return nil, domain.NewValidationError("tx", "cannot be nil", errNilDependency)
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &engineImpl{
		templates: templates,
		snapshots: snapshots,
		tx:        tx,
		emitter:   emitter,
		observer:  observer,
		clock:     clock,
		logger:    logger.With(slog.String("component", "snapshot_engine")),
	}, nil
}

// CreateFlowSnapshot implements Engine.
func (e *engineImpl) CreateFlowSnapshot(
	ctx context.Context,
	templateID uuid.UUID,
	opts CreateOptions,
) (result *CreationResult, err error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(slog.String("template_id", templateID.String()))
	started := e.clock.Now()
	defer func() {
		components := 0
		if result != nil {
			components = result.Stats.TotalComponents
		}
		e.observer.ObserveSnapshot(err, e.clock.Now().Sub(started), components)
	}()

	tmpl, err := e.templates.GetFlowWithStepsAndComponents(ctx, templateID)
	if err != nil {
		if errors.Is(err, store.ErrTemplateNotFound) {
			return nil, domain.NewNotFoundError("flow template", templateID)
		}
		log.Error("failed to read template", redact.Attr(err))
		return nil, domain.NewStorageError("read template", err)
	}

	violations, warnings := ValidateTemplate(tmpl)
	if len(violations) > 0 {
		log.Warn("template rejected",
			slog.Int("violations", len(violations)),
			slog.Int("warnings", len(warnings)))
		return nil, domain.NewViolationsError("template cannot be snapshotted", violations, warnings)
	}

	tree, err := buildTree(tmpl, opts, started)
	if err != nil {
		return nil, err
	}

	err = e.tx.RunInTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return e.snapshots.WithTx(tx).CreateSnapshotTree(ctx, tree)
	})
	if err != nil {
		log.Error("failed to persist snapshot tree",
			redact.Attr(err),
			slog.String("flow_snapshot_id", tree.Flow.ID.String()))
		return nil, domain.NewStorageError("create snapshot tree", err)
	}

	elapsed := e.clock.Now().Sub(started)
	result = &CreationResult{
		Tree: tree,
		Stats: CreationStats{
			TotalSteps:           tree.Flow.Metadata.TotalSteps,
			TotalComponents:      tree.Flow.Metadata.TotalComponents,
			Duration:             elapsed,
			ApproximateSizeBytes: approximateSize(tree),
		},
		Warnings: warnings,
	}

	log.Info("flow snapshot created",
		slog.String("flow_snapshot_id", tree.Flow.ID.String()),
		slog.Int("steps", result.Stats.TotalSteps),
		slog.Int("components", result.Stats.TotalComponents),
		slog.Int("warnings", len(warnings)))

	if emitErr := events.Emit(ctx, e.emitter, events.TypeSnapshotCreated, tree.Flow.ID, events.SnapshotCreated{
		FlowSnapshotID:  tree.Flow.ID,
		TemplateID:      templateID,
		TotalSteps:      result.Stats.TotalSteps,
		TotalComponents: result.Stats.TotalComponents,
		Duration:        elapsed,
	}, e.clock.Now()); emitErr != nil {
		log.Warn("failed to emit snapshot event", redact.Attr(emitErr))
	}
	return result, nil
}

// GetSnapshotTree implements Engine.
func (e *engineImpl) GetSnapshotTree(ctx context.Context, flowSnapshotID uuid.UUID) (*domain.SnapshotTree, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	flow, err := e.snapshots.GetFlowSnapshot(ctx, flowSnapshotID)
	if err != nil {
		if errors.Is(err, store.ErrSnapshotNotFound) {
			return nil, domain.NewNotFoundError("flow snapshot", flowSnapshotID)
		}
		log.Error("failed to read flow snapshot", redact.Attr(err),
			slog.String("flow_snapshot_id", flowSnapshotID.String()))
		return nil, domain.NewStorageError("get flow snapshot", err)
	}

	steps, err := e.snapshots.GetStepSnapshots(ctx, flowSnapshotID)
	if err != nil {
		return nil, domain.NewStorageError("get step snapshots", err)
	}

	stepIDs := make([]uuid.UUID, len(steps))
	for i, s := range steps {
		stepIDs[i] = s.ID
	}
	components, err := e.snapshots.GetComponentSnapshots(ctx, stepIDs)
	if err != nil {
		return nil, domain.NewStorageError("get component snapshots", err)
	}

	return &domain.SnapshotTree{Flow: flow, Steps: steps, Components: components}, nil
}

// DeleteSnapshot implements Engine.
func (e *engineImpl) DeleteSnapshot(ctx context.Context, flowSnapshotID uuid.UUID) error {
	err := e.tx.RunInTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return e.snapshots.WithTx(tx).DeleteSnapshotTree(ctx, flowSnapshotID)
	})
	switch {
	case err == nil:
		logger.FromContextOrDefault(ctx, e.logger).Info("flow snapshot deleted",
			slog.String("flow_snapshot_id", flowSnapshotID.String()))
		return nil
	case errors.Is(err, store.ErrSnapshotNotFound):
		return domain.NewNotFoundError("flow snapshot", flowSnapshotID)
	default:
		return domain.NewStorageError("delete snapshot tree", err)
	}
}
