package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/phrazzld/learnflow/internal/store"
)

const progressColumns = `
	id, learner_id, assignment_id, component_snapshot_id, step_snapshot_id, component_type,
	status, attempts, time_spent_seconds, started_at, completed_at, last_activity_at,
	data, version, created_at, updated_at`

// PostgresProgressStore implements store.ProgressStore.
type PostgresProgressStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresProgressStore creates a progress store. If logger is nil, a
// default logger will be used.
func NewPostgresProgressStore(db store.DBTX, logger *slog.Logger) *PostgresProgressStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresProgressStore{
		db:     db,
		logger: logger.With(slog.String("component", "progress_store")),
	}
}

var _ store.ProgressStore = (*PostgresProgressStore)(nil)

// WithTx implements store.ProgressStore.
func (s *PostgresProgressStore) WithTx(tx *sql.Tx) store.ProgressStore {
	return &PostgresProgressStore{db: tx, logger: s.logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (*domain.ComponentProgress, error) {
	var p domain.ComponentProgress
	var componentType, status string
	var startedAt, completedAt, lastActivityAt sql.NullTime
	var data []byte
	if err := row.Scan(
		&p.ID, &p.LearnerID, &p.AssignmentID, &p.ComponentSnapshotID, &p.StepSnapshotID,
		&componentType, &status, &p.Attempts, &p.TimeSpentSeconds,
		&startedAt, &completedAt, &lastActivityAt,
		&data, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.ComponentType = domain.ComponentType(componentType)
	p.Status = domain.ProgressStatus(status)
	p.StartedAt = nullTimePtr(startedAt)
	p.CompletedAt = nullTimePtr(completedAt)
	p.LastActivityAt = nullTimePtr(lastActivityAt)
	payload, err := domain.DecodeProgressData(p.ComponentType, data)
	if err != nil {
		return nil, err
	}
	p.Data = payload
	return &p, nil
}

// Find implements store.ProgressStore.
func (s *PostgresProgressStore) Find(
	ctx context.Context,
	learnerID, assignmentID, componentSnapshotID uuid.UUID,
) (*domain.ComponentProgress, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	row := s.db.QueryRowContext(ctx, `SELECT `+progressColumns+`
		FROM component_progress
		WHERE learner_id = $1 AND assignment_id = $2 AND component_snapshot_id = $3
	`, learnerID, assignmentID, componentSnapshotID)
	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProgressNotFound
		}
		log.Error("failed to get component progress",
			redact.Attr(err),
			slog.String("assignment_id", assignmentID.String()),
			slog.String("component_snapshot_id", componentSnapshotID.String()))
		return nil, MapError(err)
	}
	return p, nil
}

// Create implements store.ProgressStore.
func (s *PostgresProgressStore) Create(ctx context.Context, p *domain.ComponentProgress) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	data, err := progressDataArg(p.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO component_progress (`+progressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
	`, p.ID, p.LearnerID, p.AssignmentID, p.ComponentSnapshotID, p.StepSnapshotID,
		string(p.ComponentType), string(p.Status), p.Attempts, p.TimeSpentSeconds,
		p.StartedAt, p.CompletedAt, p.LastActivityAt, data, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		log.Error("failed to create component progress",
			redact.Attr(err),
			slog.String("progress_id", p.ID.String()))
		return mapInsertError(err, "component progress")
	}
	p.Version = 1
	return nil
}

// Update implements store.ProgressStore.
func (s *PostgresProgressStore) Update(ctx context.Context, p *domain.ComponentProgress) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	data, err := progressDataArg(p.Data)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE component_progress
		SET status = $1, attempts = $2, time_spent_seconds = $3, started_at = $4,
		    completed_at = $5, last_activity_at = $6, data = $7, updated_at = $8,
		    version = version + 1
		WHERE id = $9 AND version = $10
	`, string(p.Status), p.Attempts, p.TimeSpentSeconds, p.StartedAt, p.CompletedAt,
		p.LastActivityAt, data, p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		log.Error("failed to update component progress",
			redact.Attr(err),
			slog.String("progress_id", p.ID.String()))
		return MapError(err)
	}

	touched, err := touchedRows(result)
	if err != nil {
		return err
	}
	if !touched {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM component_progress WHERE id = $1)`, p.ID,
		).Scan(&exists); qerr != nil {
			return MapError(qerr)
		}
		if !exists {
			return store.ErrProgressNotFound
		}
		log.Debug("component progress version conflict",
			slog.String("progress_id", p.ID.String()),
			slog.Int("version", p.Version))
		return fmt.Errorf("%w: component progress %s", store.ErrVersionConflict, p.ID)
	}

	p.Version++
	return nil
}

// FindAllByAssignment implements store.ProgressStore.
func (s *PostgresProgressStore) FindAllByAssignment(
	ctx context.Context,
	assignmentID uuid.UUID,
) ([]*domain.ComponentProgress, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `SELECT `+progressColumns+`
		FROM component_progress
		WHERE assignment_id = $1
		ORDER BY created_at ASC
	`, assignmentID)
	if err != nil {
		log.Error("failed to query assignment progress",
			redact.Attr(err),
			slog.String("assignment_id", assignmentID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ComponentProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan component progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating component progress: %w", err)
	}
	return out, nil
}

// UnlockedSteps implements store.ProgressStore.
func (s *PostgresProgressStore) UnlockedSteps(ctx context.Context, assignmentID uuid.UUID) ([]domain.StepUnlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT assignment_id, step_snapshot_id, unlocked_at
		FROM step_unlocks
		WHERE assignment_id = $1
		ORDER BY unlocked_at ASC
	`, assignmentID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.StepUnlock
	for rows.Next() {
		var u domain.StepUnlock
		if err := rows.Scan(&u.AssignmentID, &u.StepSnapshotID, &u.UnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step unlock: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step unlocks: %w", err)
	}
	return out, nil
}

// RecordStepUnlocks implements store.ProgressStore.
func (s *PostgresProgressStore) RecordStepUnlocks(ctx context.Context, unlocks []domain.StepUnlock) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	for _, u := range unlocks {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO step_unlocks (assignment_id, step_snapshot_id, unlocked_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (assignment_id, step_snapshot_id) DO NOTHING
		`, u.AssignmentID, u.StepSnapshotID, u.UnlockedAt); err != nil {
			log.Error("failed to record step unlock",
				redact.Attr(err),
				slog.String("step_snapshot_id", u.StepSnapshotID.String()))
			return MapError(err)
		}
	}
	return nil
}

func progressDataArg(d domain.ProgressData) (string, error) {
	if d == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode progress data: %w", err)
	}
	return string(raw), nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
