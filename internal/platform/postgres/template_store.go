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

// PostgresTemplateStore implements store.TemplateReader.
type PostgresTemplateStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTemplateStore creates a template reader. If logger is nil, a
// default logger will be used.
func NewPostgresTemplateStore(db store.DBTX, logger *slog.Logger) *PostgresTemplateStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTemplateStore{
		db:     db,
		logger: logger.With(slog.String("component", "template_store")),
	}
}

var _ store.TemplateReader = (*PostgresTemplateStore)(nil)

// GetFlowWithStepsAndComponents implements store.TemplateReader.
func (s *PostgresTemplateStore) GetFlowWithStepsAndComponents(
	ctx context.Context,
	id uuid.UUID,
) (*domain.FlowTemplate, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var t domain.FlowTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, title, description, is_active
		FROM flow_templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Version, &t.Title, &t.Description, &t.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("flow template not found", slog.String("template_id", id.String()))
			return nil, store.ErrTemplateNotFound
		}
		log.Error("failed to get flow template",
			redact.Attr(err),
			slog.String("template_id", id.String()))
		return nil, MapError(err)
	}

	steps, err := s.loadSteps(ctx, id)
	if err != nil {
		log.Error("failed to load step templates",
			redact.Attr(err),
			slog.String("template_id", id.String()))
		return nil, err
	}
	t.Steps = steps
	return &t, nil
}

func (s *PostgresTemplateStore) loadSteps(ctx context.Context, flowID uuid.UUID) ([]domain.StepTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, step_order, is_required, requires_previous_step,
		       skippable, max_attempts, time_limit_minutes
		FROM step_templates
		WHERE flow_template_id = $1
		ORDER BY step_order ASC
	`, flowID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var steps []domain.StepTemplate
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var st domain.StepTemplate
		var maxAttempts, timeLimit sql.NullInt32
		if err := rows.Scan(
			&st.ID, &st.Title, &st.Description, &st.Order, &st.IsRequired,
			&st.RequiresPreviousStep, &st.Skippable, &maxAttempts, &timeLimit,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step template: %w", err)
		}
		st.MaxAttempts = nullIntPtr(maxAttempts)
		st.TimeLimitMinutes = nullIntPtr(timeLimit)
		index[st.ID] = len(steps)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step templates: %w", err)
	}
	if len(steps) == 0 {
		return steps, nil
	}

	crows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.step_template_id, c.type, c.title, c.content, c.is_required,
		       c.max_attempts, c.component_order
		FROM component_templates c
		JOIN step_templates st ON st.id = c.step_template_id
		WHERE st.flow_template_id = $1
		ORDER BY st.step_order ASC, c.component_order ASC
	`, flowID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = crows.Close() }()

	for crows.Next() {
		var ct domain.ComponentTemplate
		var stepID uuid.UUID
		var typ string
		var raw []byte
		if err := crows.Scan(
			&ct.ID, &stepID, &typ, &ct.Title, &raw, &ct.IsRequired, &ct.MaxAttempts, &ct.Order,
		); err != nil {
			return nil, fmt.Errorf("failed to scan component template: %w", err)
		}
		ct.Type = domain.ComponentType(typ)
		// Unknown types are passed through without content so that snapshot
		// validation can report them alongside every other violation.
		if ct.Type.IsValid() {
			content, err := domain.DecodeContent(ct.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("component template %s: %w", ct.ID, err)
			}
			ct.Content = content
		}
		i, ok := index[stepID]
		if !ok {
			continue
		}
		steps[i].Components = append(steps[i].Components, ct)
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating component templates: %w", err)
	}
	return steps, nil
}

func nullIntPtr(n sql.NullInt32) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int32)
	return &v
}

func intPtrArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
