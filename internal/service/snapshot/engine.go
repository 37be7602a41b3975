package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// CreateOptions carries caller-supplied data recorded on a new snapshot.
type CreateOptions struct {
	// CreatedBy is the actor taking the snapshot.
	CreatedBy uuid.UUID
	// Context is merged into the flow snapshot's free-form context.
	Context map[string]any
}

// CreationStats summarizes a snapshot creation.
type CreationStats struct {
	TotalSteps           int           `json:"total_steps"`
	TotalComponents      int           `json:"total_components"`
	Duration             time.Duration `json:"duration"`
	ApproximateSizeBytes int           `json:"approximate_size_bytes"`
}

// CreationResult is the outcome of CreateFlowSnapshot.
type CreationResult struct {
	Tree     *domain.SnapshotTree `json:"tree"`
	Stats    CreationStats        `json:"stats"`
	Warnings []string             `json:"warnings,omitempty"`
}

// Engine creates and reads flow snapshots.
type Engine interface {
	// CreateFlowSnapshot validates the template and persists a deep copy of
	// it as a new snapshot tree.
	//
	// Returns:
	//   - (*CreationResult, nil) on success, including non-fatal warnings
	//   - *domain.NotFoundError if the template does not exist
	//   - *domain.ValidationError listing every violation if the template
	//     cannot be snapshotted
	//   - *domain.StorageError if reading or writing fails
	CreateFlowSnapshot(ctx context.Context, templateID uuid.UUID, opts CreateOptions) (*CreationResult, error)

	// GetSnapshotTree returns a snapshot with its ordered steps and
	// components.
	GetSnapshotTree(ctx context.Context, flowSnapshotID uuid.UUID) (*domain.SnapshotTree, error)

	// DeleteSnapshot purges a snapshot tree. It is an administrative
	// operation; assignments referencing the snapshot must be removed first.
	DeleteSnapshot(ctx context.Context, flowSnapshotID uuid.UUID) error
}

// Observer records snapshot creation outcomes. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveSnapshot(err error, elapsed time.Duration, components int)
}

type nopObserver struct{}

func (nopObserver) ObserveSnapshot(error, time.Duration, int) {}

// errNilDependency is wrapped by constructor validation errors.
var errNilDependency = errors.New("dependency cannot be nil")
