package store

import (
	"errors"
	"fmt"
)

// Errors shared by every store implementation. Services translate them into
// the domain error taxonomy.
var (
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate reports a second row for a unique key, such as a second
	// progress row for the same learner and component.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity reports a row the store refused to persist.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrVersionConflict is returned by version-checked updates when the row
	// changed after it was read.
	ErrVersionConflict = errors.New("version conflict")

	ErrTransactionFailed = errors.New("transaction failed")

	ErrTemplateNotFound   = fmt.Errorf("%w: flow template", ErrNotFound)
	ErrSnapshotNotFound   = fmt.Errorf("%w: flow snapshot", ErrNotFound)
	ErrProgressNotFound   = fmt.Errorf("%w: component progress", ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("%w: assignment", ErrNotFound)
)

// IsNotFoundError reports whether err is ErrNotFound or one of its
// entity-specific variants.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
