//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/platform/postgres"
	"github.com/phrazzld/learnflow/internal/store"
	"github.com/phrazzld/learnflow/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var integrationNow = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

func insertTemplate(t *testing.T, tx *sql.Tx) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	flowID, stepID := uuid.New(), uuid.New()

	_, err := tx.ExecContext(ctx,
		`INSERT INTO flow_templates (id, version, title, is_active) VALUES ($1, 2, 'Onboarding', TRUE)`, flowID)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO step_templates (id, flow_template_id, title, step_order) VALUES ($1, $2, 'Basics', 1)`,
		stepID, flowID)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO component_templates (id, step_template_id, type, title, content, component_order)
		VALUES ($1, $2, 'quiz', 'Check', $3, 1)`,
		uuid.New(), stepID,
		`{"questions":[{"id":"q1","text":"2+2","options":[{"id":"a","text":"4","is_correct":true},{"id":"b","text":"5"}]}],"passing_score":100}`)
	require.NoError(t, err)
	return flowID
}

func buildTree(t *testing.T, tmpl *domain.FlowTemplate) *domain.SnapshotTree {
	t.Helper()
	flow := &domain.FlowSnapshot{
		ID:              uuid.New(),
		TemplateID:      tmpl.ID,
		TemplateVersion: tmpl.Version,
		Title:           tmpl.Title,
		Metadata:        domain.SnapshotMetadata{CreatedAt: integrationNow, FormatVersion: domain.SnapshotFormatVersion},
	}
	tree := &domain.SnapshotTree{Flow: flow}
	for _, st := range tmpl.Steps {
		step := &domain.StepSnapshot{ID: uuid.New(), FlowSnapshotID: flow.ID, Order: st.Order, IsRequired: true}
		for _, ct := range st.Components {
			comp, err := domain.NewComponentSnapshot(step.ID, ct)
			require.NoError(t, err)
			step.ComponentIDs = append(step.ComponentIDs, comp.ID)
			tree.Components = append(tree.Components, comp)
		}
		step.Metadata.TotalComponents = len(step.ComponentIDs)
		tree.Steps = append(tree.Steps, step)
		flow.StepIDs = append(flow.StepIDs, step.ID)
	}
	return tree
}

func TestStoresRoundTrip(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		templates := postgres.NewPostgresTemplateStore(tx, nil)
		snapshots := postgres.NewPostgresSnapshotStore(db, nil).WithTx(tx)
		assignments := postgres.NewPostgresAssignmentStore(db, nil).WithTx(tx)
		progress := postgres.NewPostgresProgressStore(db, nil).WithTx(tx)

		tmpl, err := templates.GetFlowWithStepsAndComponents(ctx, insertTemplate(t, tx))
		require.NoError(t, err)
		require.Len(t, tmpl.Steps, 1)
		require.Len(t, tmpl.Steps[0].Components, 1)

		tree := buildTree(t, tmpl)
		require.NoError(t, snapshots.CreateSnapshotTree(ctx, tree))

		steps, err := snapshots.GetStepSnapshots(ctx, tree.Flow.ID)
		require.NoError(t, err)
		comps, err := snapshots.GetComponentSnapshots(ctx, []uuid.UUID{steps[0].ID})
		require.NoError(t, err)
		require.Len(t, comps, 1)
		assert.Equal(t, tree.Components[0].Content, comps[0].Content)

		learner, mentor := uuid.New(), uuid.New()
		a, err := domain.NewAssignment(learner, tree.Flow.ID, []uuid.UUID{mentor},
			integrationNow.Add(-time.Hour), integrationNow.Add(-72*time.Hour))
		require.NoError(t, err)
		require.NoError(t, assignments.Create(ctx, a))

		extended, err := a.ExtendDeadline(mentor, integrationNow.Add(48*time.Hour), "more time", integrationNow)
		require.NoError(t, err)
		require.NoError(t, assignments.Update(ctx, extended))
		assert.ErrorIs(t, assignments.Update(ctx, a), store.ErrVersionConflict)

		loaded, err := assignments.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Version)
		require.Len(t, loaded.Adjustments, 1)
		assert.Equal(t, domain.AdjustmentExtension, loaded.Adjustments[0].Kind)

		p, err := domain.NewComponentProgress(learner, a.ID, comps[0], integrationNow)
		require.NoError(t, err)
		require.NoError(t, progress.Create(ctx, p))
		assert.ErrorIs(t, progress.Create(ctx, p), store.ErrDuplicate)

		p.Status = domain.ProgressInProgress
		require.NoError(t, progress.Update(ctx, p))
		found, err := progress.Find(ctx, learner, a.ID, comps[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 2, found.Version)

		unlock := domain.StepUnlock{AssignmentID: a.ID, StepSnapshotID: steps[0].ID, UnlockedAt: integrationNow}
		require.NoError(t, progress.RecordStepUnlocks(ctx, []domain.StepUnlock{unlock, unlock}))
		unlocks, err := progress.UnlockedSteps(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, unlocks, 1)
	})
}

func TestRecomputeOverdueIntegration(t *testing.T) {
	t.Parallel()
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		templates := postgres.NewPostgresTemplateStore(tx, nil)
		snapshots := postgres.NewPostgresSnapshotStore(tx, nil)
		assignments := postgres.NewPostgresAssignmentStore(tx, nil)

		tmpl, err := templates.GetFlowWithStepsAndComponents(ctx, insertTemplate(t, tx))
		require.NoError(t, err)
		tree := buildTree(t, tmpl)
		require.NoError(t, snapshots.CreateSnapshotTree(ctx, tree))

		a, err := domain.NewAssignment(uuid.New(), tree.Flow.ID, nil,
			integrationNow.Add(-time.Hour), integrationNow.Add(-72*time.Hour))
		require.NoError(t, err)
		require.NoError(t, assignments.Create(ctx, a))

		changed, err := assignments.RecomputeOverdue(ctx, integrationNow)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, changed, 1)

		loaded, err := assignments.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, loaded.IsOverdue)
	})
}
