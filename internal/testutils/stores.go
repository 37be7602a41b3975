package testutils

import (
	"testing"

	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/platform/memory"
	"github.com/stretchr/testify/require"
)

// Stores groups the in-memory store implementations.
type Stores struct {
	Templates   *memory.TemplateStore
	Snapshots   *memory.SnapshotStore
	Progress    *memory.ProgressStore
	Assignments *memory.AssignmentStore
	Tx          *memory.Transactor
	Locker      *memory.KeyedLocker
}

// NewStores creates empty in-memory stores.
func NewStores() *Stores {
	return &Stores{
		Templates:   memory.NewTemplateStore(),
		Snapshots:   memory.NewSnapshotStore(),
		Progress:    memory.NewProgressStore(),
		Assignments: memory.NewAssignmentStore(),
		Tx:          &memory.Transactor{},
		Locker:      memory.NewKeyedLocker(),
	}
}

// MustSaveTemplate stores tmpl and returns it.
func (s *Stores) MustSaveTemplate(t *testing.T, tmpl *domain.FlowTemplate) *domain.FlowTemplate {
	t.Helper()
	require.NoError(t, s.Templates.Save(tmpl))
	return tmpl
}
