package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/learnflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "boom",
		TableName:      "assignments",
		ColumnName:     "learner_id",
		ConstraintName: "assignments_snapshot_fk",
	}
}

type fakeResult struct {
	rows int64
	err  error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestMapError(t *testing.T) {
	t.Parallel()

	plain := errors.New("connection reset")
	tests := []struct {
		name     string
		err      error
		want     error
		contains string
	}{
		{name: "no rows", err: sql.ErrNoRows, want: store.ErrNotFound},
		{name: "unique", err: pgError(codeUniqueViolation), want: store.ErrDuplicate, contains: "assignments_snapshot_fk"},
		{name: "foreign key", err: pgError(codeForeignKeyViolation), want: store.ErrInvalidEntity, contains: "assignments references a missing row"},
		{name: "check", err: pgError(codeCheckViolation), want: store.ErrInvalidEntity, contains: "check assignments_snapshot_fk failed"},
		{name: "not null", err: pgError(codeNotNullViolation), want: store.ErrInvalidEntity, contains: "assignments.learner_id is required"},
		{name: "serialization", err: pgError(codeSerializationFailure), want: store.ErrVersionConflict},
		{name: "deadlock", err: pgError(codeDeadlockDetected), want: store.ErrVersionConflict},
		{name: "lock not available", err: pgError(codeLockNotAvailable), want: store.ErrLockNotAcquired},
		{name: "wrapped pg error", err: fmt.Errorf("insert: %w", pgError(codeUniqueViolation)), want: store.ErrDuplicate},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := MapError(tc.err)
			require.Error(t, got)
			assert.ErrorIs(t, got, tc.want)
			if tc.contains != "" {
				assert.Contains(t, got.Error(), tc.contains)
			}
		})
	}

	t.Run("passthrough", func(t *testing.T) {
		assert.NoError(t, MapError(nil))
		assert.Same(t, plain, MapError(plain))
		other := pgError("42P01")
		assert.Equal(t, error(other), MapError(other))
	})
}

func TestMapInsertError(t *testing.T) {
	t.Parallel()

	err := mapInsertError(pgError(codeUniqueViolation), "assignment")
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Contains(t, err.Error(), "assignment already exists")
	assert.True(t, IsUniqueViolation(pgError(codeUniqueViolation)))
	assert.False(t, IsUniqueViolation(pgError(codeCheckViolation)))
	assert.False(t, IsUniqueViolation(nil))

	err = mapInsertError(pgError(codeForeignKeyViolation), "component progress")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestTouchedRows(t *testing.T) {
	t.Parallel()

	touched, err := touchedRows(fakeResult{rows: 1})
	require.NoError(t, err)
	assert.True(t, touched)

	touched, err = touchedRows(fakeResult{})
	require.NoError(t, err)
	assert.False(t, touched)

	_, err = touchedRows(fakeResult{err: errors.New("driver gone")})
	assert.ErrorContains(t, err, "failed to get rows affected")
}
