package postgres

import (
	"context"
	"database/sql"
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

const assignmentColumns = `
	id, learner_id, flow_snapshot_id, status, deadline, started_at, completed_at,
	last_activity_at, pause, cancellation, time_spent_seconds, mentor_ids, is_overdue,
	version, created_at, updated_at`

// PostgresAssignmentStore implements store.AssignmentStore. Deadline
// adjustments live in their own table and are only ever inserted.
type PostgresAssignmentStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAssignmentStore creates an assignment store. If logger is nil,
// a default logger will be used.
func NewPostgresAssignmentStore(db store.DBTX, logger *slog.Logger) *PostgresAssignmentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAssignmentStore{
		db:     db,
		logger: logger.With(slog.String("component", "assignment_store")),
	}
}

var _ store.AssignmentStore = (*PostgresAssignmentStore)(nil)

// WithTx implements store.AssignmentStore.
func (s *PostgresAssignmentStore) WithTx(tx *sql.Tx) store.AssignmentStore {
	return &PostgresAssignmentStore{db: tx, logger: s.logger}
}

func scanAssignment(row rowScanner) (*domain.Assignment, error) {
	var a domain.Assignment
	var status string
	var startedAt, completedAt, lastActivityAt sql.NullTime
	var pause, cancellation, mentors []byte
	if err := row.Scan(
		&a.ID, &a.LearnerID, &a.FlowSnapshotID, &status, &a.Deadline,
		&startedAt, &completedAt, &lastActivityAt, &pause, &cancellation,
		&a.TimeSpentSeconds, &mentors, &a.IsOverdue, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = domain.AssignmentStatus(status)
	a.StartedAt = nullTimePtr(startedAt)
	a.CompletedAt = nullTimePtr(completedAt)
	a.LastActivityAt = nullTimePtr(lastActivityAt)
	if err := scanJSON(pause, &a.PauseState); err != nil {
		return nil, err
	}
	if err := scanJSON(cancellation, &a.Cancellation); err != nil {
		return nil, err
	}
	if err := scanJSON(mentors, &a.MentorIDs); err != nil {
		return nil, err
	}
	a.Adjustments = []domain.DeadlineAdjustment{}
	return &a, nil
}

// Create implements store.AssignmentStore.
func (s *PostgresAssignmentStore) Create(ctx context.Context, a *domain.Assignment) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	pause, cancellation, mentors, err := assignmentJSONArgs(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
	`, a.ID, a.LearnerID, a.FlowSnapshotID, string(a.Status), a.Deadline,
		a.StartedAt, a.CompletedAt, a.LastActivityAt, pause, cancellation,
		a.TimeSpentSeconds, mentors, a.IsOverdue, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		log.Error("failed to create assignment",
			redact.Attr(err),
			slog.String("assignment_id", a.ID.String()))
		return mapInsertError(err, "assignment")
	}
	if err := s.insertAdjustments(ctx, a); err != nil {
		return err
	}

	a.Version = 1
	log.Info("assignment created",
		slog.String("assignment_id", a.ID.String()),
		slog.String("learner_id", a.LearnerID.String()))
	return nil
}

// GetByID implements store.AssignmentStore.
func (s *PostgresAssignmentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Assignment, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	a, err := scanAssignment(s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("assignment not found", slog.String("assignment_id", id.String()))
			return nil, store.ErrAssignmentNotFound
		}
		log.Error("failed to get assignment",
			redact.Attr(err),
			slog.String("assignment_id", id.String()))
		return nil, MapError(err)
	}

	if err := s.loadAdjustments(ctx, []*domain.Assignment{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// Update implements store.AssignmentStore.
func (s *PostgresAssignmentStore) Update(ctx context.Context, a *domain.Assignment) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	pause, cancellation, mentors, err := assignmentJSONArgs(a)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE assignments
		SET status = $1, deadline = $2, started_at = $3, completed_at = $4,
		    last_activity_at = $5, pause = $6, cancellation = $7, time_spent_seconds = $8,
		    mentor_ids = $9, is_overdue = $10, updated_at = $11, version = version + 1
		WHERE id = $12 AND version = $13
	`, string(a.Status), a.Deadline, a.StartedAt, a.CompletedAt, a.LastActivityAt,
		pause, cancellation, a.TimeSpentSeconds, mentors, a.IsOverdue, a.UpdatedAt,
		a.ID, a.Version)
	if err != nil {
		log.Error("failed to update assignment",
			redact.Attr(err),
			slog.String("assignment_id", a.ID.String()))
		return MapError(err)
	}

	touched, err := touchedRows(result)
	if err != nil {
		return err
	}
	if !touched {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM assignments WHERE id = $1)`, a.ID,
		).Scan(&exists); qerr != nil {
			return MapError(qerr)
		}
		if !exists {
			return store.ErrAssignmentNotFound
		}
		log.Debug("assignment version conflict",
			slog.String("assignment_id", a.ID.String()),
			slog.Int("version", a.Version))
		return fmt.Errorf("%w: assignment %s", store.ErrVersionConflict, a.ID)
	}

	if err := s.insertAdjustments(ctx, a); err != nil {
		return err
	}
	a.Version++
	return nil
}

// ListByLearner implements store.AssignmentStore.
func (s *PostgresAssignmentStore) ListByLearner(ctx context.Context, learnerID uuid.UUID) ([]*domain.Assignment, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `SELECT `+assignmentColumns+`
		FROM assignments
		WHERE learner_id = $1
		ORDER BY created_at DESC
	`, learnerID)
	if err != nil {
		log.Error("failed to list assignments",
			redact.Attr(err),
			slog.String("learner_id", learnerID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignments: %w", err)
	}
	if err := s.loadAdjustments(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecomputeOverdue implements store.AssignmentStore.
func (s *PostgresAssignmentStore) RecomputeOverdue(ctx context.Context, now time.Time) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `
		UPDATE assignments
		SET is_overdue = NOT is_overdue, version = version + 1, updated_at = $1
		WHERE is_overdue <> (status IN ('not_started', 'in_progress') AND deadline < $1)
	`, now)
	if err != nil {
		log.Error("failed to recompute overdue flags", redact.Attr(err))
		return 0, MapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresAssignmentStore) insertAdjustments(ctx context.Context, a *domain.Assignment) error {
	for _, adj := range a.Adjustments {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO deadline_adjustments
				(id, assignment_id, kind, previous_deadline, new_deadline, delta_days,
				 reason, adjusted_by, adjusted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, adj.ID, a.ID, string(adj.Kind), adj.PreviousDeadline, adj.NewDeadline,
			adj.DeltaDays, adj.Reason, adj.AdjustedBy, adj.AdjustedAt); err != nil {
			return MapError(err)
		}
	}
	return nil
}

func (s *PostgresAssignmentStore) loadAdjustments(ctx context.Context, assignments []*domain.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Assignment, len(assignments))
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		byID[a.ID] = a
		ids = append(ids, a.ID.String())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assignment_id, kind, previous_deadline, new_deadline, delta_days,
		       reason, adjusted_by, adjusted_at
		FROM deadline_adjustments
		WHERE assignment_id = ANY($1::uuid[])
		ORDER BY adjusted_at ASC
	`, ids)
	if err != nil {
		return MapError(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var adj domain.DeadlineAdjustment
		var assignmentID uuid.UUID
		var kind string
		if err := rows.Scan(&adj.ID, &assignmentID, &kind, &adj.PreviousDeadline, &adj.NewDeadline,
			&adj.DeltaDays, &adj.Reason, &adj.AdjustedBy, &adj.AdjustedAt); err != nil {
			return fmt.Errorf("failed to scan deadline adjustment: %w", err)
		}
		adj.Kind = domain.AdjustmentKind(kind)
		if a, ok := byID[assignmentID]; ok {
			a.Adjustments = append(a.Adjustments, adj)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating deadline adjustments: %w", err)
	}
	return nil
}

func assignmentJSONArgs(a *domain.Assignment) (pause, cancellation, mentors any, err error) {
	if a.PauseState != nil {
		if pause, err = jsonArg(a.PauseState); err != nil {
			return nil, nil, nil, err
		}
	}
	if a.Cancellation != nil {
		if cancellation, err = jsonArg(a.Cancellation); err != nil {
			return nil, nil, nil, err
		}
	}
	mentorIDs := a.MentorIDs
	if mentorIDs == nil {
		mentorIDs = []uuid.UUID{}
	}
	if mentors, err = jsonArg(mentorIDs); err != nil {
		return nil, nil, nil, err
	}
	return pause, cancellation, mentors, nil
}
