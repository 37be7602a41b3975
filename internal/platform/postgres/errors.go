package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/learnflow/internal/store"
)

// SQLSTATE codes translated by MapError.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeNotNullViolation     = "23502"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// MapError translates a database error into the store error family. The
// driver error stays in the chain so logs keep the detail.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	pgErr, ok := asPgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s: %v", store.ErrDuplicate, pgErr.ConstraintName, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s references a missing row (%s): %v",
			store.ErrInvalidEntity, pgErr.TableName, pgErr.ConstraintName, err)
	case codeCheckViolation:
		return fmt.Errorf("%w: check %s failed: %v", store.ErrInvalidEntity, pgErr.ConstraintName, err)
	case codeNotNullViolation:
		return fmt.Errorf("%w: %s.%s is required: %v",
			store.ErrInvalidEntity, pgErr.TableName, pgErr.ColumnName, err)
	case codeSerializationFailure, codeDeadlockDetected:
		// the losing transaction is retried the same way as a stale version
		return fmt.Errorf("%w: %v", store.ErrVersionConflict, err)
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %v", store.ErrLockNotAcquired, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	pgErr, ok := asPgError(err)
	return ok && pgErr.Code == codeUniqueViolation
}

func asPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapInsertError names the entity in duplicate errors from an INSERT and
// defers to MapError for everything else.
func mapInsertError(err error, entity string) error {
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s already exists: %v", store.ErrDuplicate, entity, err)
	}
	return MapError(err)
}

// touchedRows reports whether an UPDATE or DELETE matched any row.
func touchedRows(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}
