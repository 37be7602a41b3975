package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// SnapshotStore persists immutable flow snapshot trees.
type SnapshotStore interface {
	// CreateSnapshotTree writes the flow, its steps and its components. Callers
	// must run it inside a transaction so a partial tree is never visible.
	CreateSnapshotTree(ctx context.Context, tree *domain.SnapshotTree) error

	// GetFlowSnapshot returns the flow snapshot.
	// Returns ErrSnapshotNotFound if it does not exist.
	GetFlowSnapshot(ctx context.Context, id uuid.UUID) (*domain.FlowSnapshot, error)

	// GetStepSnapshots returns the flow's steps ordered by step order.
	GetStepSnapshots(ctx context.Context, flowSnapshotID uuid.UUID) ([]*domain.StepSnapshot, error)

	// GetComponentSnapshots returns the components of the given steps ordered
	// by step and component order.
	GetComponentSnapshots(ctx context.Context, stepSnapshotIDs []uuid.UUID) ([]*domain.ComponentSnapshot, error)

	// DeleteSnapshotTree removes a snapshot and everything under it.
	// Returns ErrSnapshotNotFound if it does not exist.
	DeleteSnapshotTree(ctx context.Context, id uuid.UUID) error

	// WithTx returns a SnapshotStore bound to the transaction.
	WithTx(tx *sql.Tx) SnapshotStore
}
