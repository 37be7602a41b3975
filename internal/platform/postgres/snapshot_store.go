package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/phrazzld/learnflow/internal/store"
)

// PostgresSnapshotStore implements store.SnapshotStore.
type PostgresSnapshotStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSnapshotStore creates a snapshot store. If logger is nil, a
// default logger will be used.
func NewPostgresSnapshotStore(db store.DBTX, logger *slog.Logger) *PostgresSnapshotStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSnapshotStore{
		db:     db,
		logger: logger.With(slog.String("component", "snapshot_store")),
	}
}

var _ store.SnapshotStore = (*PostgresSnapshotStore)(nil)

// WithTx implements store.SnapshotStore.
func (s *PostgresSnapshotStore) WithTx(tx *sql.Tx) store.SnapshotStore {
	return &PostgresSnapshotStore{db: tx, logger: s.logger}
}

// CreateSnapshotTree implements store.SnapshotStore.
func (s *PostgresSnapshotStore) CreateSnapshotTree(ctx context.Context, tree *domain.SnapshotTree) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if tree == nil || tree.Flow == nil {
		return fmt.Errorf("%w: snapshot tree without flow", store.ErrInvalidEntity)
	}
	for _, step := range tree.Steps {
		if err := step.Validate(); err != nil {
			log.Warn("step snapshot validation failed during create",
				redact.Attr(err),
				slog.String("step_snapshot_id", step.ID.String()))
			return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		}
	}

	if err := s.insertFlow(ctx, tree.Flow); err != nil {
		log.Error("failed to insert flow snapshot",
			redact.Attr(err),
			slog.String("flow_snapshot_id", tree.Flow.ID.String()))
		return err
	}
	for _, step := range tree.Steps {
		if err := s.insertStep(ctx, step); err != nil {
			log.Error("failed to insert step snapshot",
				redact.Attr(err),
				slog.String("step_snapshot_id", step.ID.String()))
			return err
		}
	}
	for _, comp := range tree.Components {
		if err := s.insertComponent(ctx, comp); err != nil {
			log.Error("failed to insert component snapshot",
				redact.Attr(err),
				slog.String("component_snapshot_id", comp.ID.String()))
			return err
		}
	}

	log.Debug("snapshot tree stored",
		slog.String("flow_snapshot_id", tree.Flow.ID.String()),
		slog.Int("steps", len(tree.Steps)),
		slog.Int("components", len(tree.Components)))
	return nil
}

func (s *PostgresSnapshotStore) insertFlow(ctx context.Context, f *domain.FlowSnapshot) error {
	stepIDs, err := jsonArg(f.StepIDs)
	if err != nil {
		return err
	}
	metadata, err := jsonArg(f.Metadata)
	if err != nil {
		return err
	}
	flowContext, err := jsonArg(f.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_snapshots
			(id, template_id, template_version, title, description, step_ids, metadata, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, f.TemplateID, f.TemplateVersion, f.Title, f.Description,
		stepIDs, metadata, flowContext, f.Metadata.CreatedAt)
	return MapError(err)
}

func (s *PostgresSnapshotStore) insertStep(ctx context.Context, st *domain.StepSnapshot) error {
	componentIDs, err := jsonArg(st.ComponentIDs)
	if err != nil {
		return err
	}
	rules, err := jsonArg(st.AccessRules)
	if err != nil {
		return err
	}
	original, err := jsonArg(st.Original)
	if err != nil {
		return err
	}
	metadata, err := jsonArg(st.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_snapshots
			(id, flow_snapshot_id, step_order, is_required, component_ids, access_rules, original, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, st.ID, st.FlowSnapshotID, st.Order, st.IsRequired, componentIDs, rules, original, metadata)
	return MapError(err)
}

func (s *PostgresSnapshotStore) insertComponent(ctx context.Context, c *domain.ComponentSnapshot) error {
	content, err := jsonArg(c.Content)
	if err != nil {
		return err
	}
	metadata, err := jsonArg(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO component_snapshots
			(id, step_snapshot_id, original_component_id, type, title, content,
			 is_required, max_attempts, component_order, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.StepSnapshotID, c.OriginalComponentID, string(c.Type), c.Title, content,
		c.IsRequired, c.MaxAttempts, c.Order, metadata)
	return MapError(err)
}

// GetFlowSnapshot implements store.SnapshotStore.
func (s *PostgresSnapshotStore) GetFlowSnapshot(ctx context.Context, id uuid.UUID) (*domain.FlowSnapshot, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var f domain.FlowSnapshot
	var stepIDs, metadata, flowContext []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, template_version, title, description, step_ids, metadata, context
		FROM flow_snapshots
		WHERE id = $1
	`, id).Scan(&f.ID, &f.TemplateID, &f.TemplateVersion, &f.Title, &f.Description,
		&stepIDs, &metadata, &flowContext)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("flow snapshot not found", slog.String("flow_snapshot_id", id.String()))
			return nil, store.ErrSnapshotNotFound
		}
		log.Error("failed to get flow snapshot",
			redact.Attr(err),
			slog.String("flow_snapshot_id", id.String()))
		return nil, MapError(err)
	}

	if err := scanJSON(stepIDs, &f.StepIDs); err != nil {
		return nil, err
	}
	if err := scanJSON(metadata, &f.Metadata); err != nil {
		return nil, err
	}
	if err := scanJSON(flowContext, &f.Context); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetStepSnapshots implements store.SnapshotStore.
func (s *PostgresSnapshotStore) GetStepSnapshots(
	ctx context.Context,
	flowSnapshotID uuid.UUID,
) ([]*domain.StepSnapshot, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_snapshot_id, step_order, is_required, component_ids, access_rules, original, metadata
		FROM step_snapshots
		WHERE flow_snapshot_id = $1
		ORDER BY step_order ASC
	`, flowSnapshotID)
	if err != nil {
		log.Error("failed to query step snapshots",
			redact.Attr(err),
			slog.String("flow_snapshot_id", flowSnapshotID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var steps []*domain.StepSnapshot
	for rows.Next() {
		var st domain.StepSnapshot
		var componentIDs, rules, original, metadata []byte
		if err := rows.Scan(&st.ID, &st.FlowSnapshotID, &st.Order, &st.IsRequired,
			&componentIDs, &rules, &original, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan step snapshot: %w", err)
		}
		for _, col := range []struct {
			raw []byte
			dst any
		}{
			{componentIDs, &st.ComponentIDs},
			{rules, &st.AccessRules},
			{original, &st.Original},
			{metadata, &st.Metadata},
		} {
			if err := scanJSON(col.raw, col.dst); err != nil {
				return nil, err
			}
		}
		steps = append(steps, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step snapshots: %w", err)
	}
	return steps, nil
}

// GetComponentSnapshots implements store.SnapshotStore.
func (s *PostgresSnapshotStore) GetComponentSnapshots(
	ctx context.Context,
	stepSnapshotIDs []uuid.UUID,
) ([]*domain.ComponentSnapshot, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if len(stepSnapshotIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(stepSnapshotIDs))
	for i, id := range stepSnapshotIDs {
		ids[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.step_snapshot_id, c.original_component_id, c.type, c.title, c.content,
		       c.is_required, c.max_attempts, c.component_order, c.metadata
		FROM component_snapshots c
		JOIN step_snapshots st ON st.id = c.step_snapshot_id
		WHERE c.step_snapshot_id = ANY($1::uuid[])
		ORDER BY st.step_order ASC, c.component_order ASC
	`, ids)
	if err != nil {
		log.Error("failed to query component snapshots",
			redact.Attr(err),
			slog.Int("step_count", len(ids)))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var comps []*domain.ComponentSnapshot
	for rows.Next() {
		var c domain.ComponentSnapshot
		var typ string
		var content, metadata []byte
		if err := rows.Scan(&c.ID, &c.StepSnapshotID, &c.OriginalComponentID, &typ, &c.Title,
			&content, &c.IsRequired, &c.MaxAttempts, &c.Order, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan component snapshot: %w", err)
		}
		c.Type = domain.ComponentType(typ)
		decoded, err := domain.DecodeContent(c.Type, content)
		if err != nil {
			return nil, fmt.Errorf("component snapshot %s: %w", c.ID, err)
		}
		c.Content = decoded
		if err := scanJSON(metadata, &c.Metadata); err != nil {
			return nil, err
		}
		comps = append(comps, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating component snapshots: %w", err)
	}
	return comps, nil
}

// DeleteSnapshotTree implements store.SnapshotStore. Steps and components
// are removed by ON DELETE CASCADE.
func (s *PostgresSnapshotStore) DeleteSnapshotTree(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM flow_snapshots WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete flow snapshot",
			redact.Attr(err),
			slog.String("flow_snapshot_id", id.String()))
		return MapError(err)
	}
	touched, err := touchedRows(result)
	if err != nil {
		return err
	}
	if !touched {
		return store.ErrSnapshotNotFound
	}
	log.Info("flow snapshot deleted", slog.String("flow_snapshot_id", id.String()))
	return nil
}
