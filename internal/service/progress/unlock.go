package progress

import (
	"cmp"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// orderedSteps returns the tree's steps sorted by order.
func orderedSteps(tree *domain.SnapshotTree) []*domain.StepSnapshot {
	steps := slices.Clone(tree.Steps)
	slices.SortStableFunc(steps, func(a, b *domain.StepSnapshot) int { return cmp.Compare(a.Order, b.Order) })
	return steps
}

// unlockedSteps derives step availability. The first step is always open;
// every later step opens once the step before it is open and either the step
// does not require the previous one or the previous one is done. Steps in
// recorded stay open whatever the current progress says.
func unlockedSteps(
	tree *domain.SnapshotTree,
	byComponent map[uuid.UUID]*domain.ComponentProgress,
	recorded map[uuid.UUID]bool,
) map[uuid.UUID]bool {
	steps := orderedSteps(tree)
	out := make(map[uuid.UUID]bool, len(steps))
	for i, step := range steps {
		if i == 0 || recorded[step.ID] {
			out[step.ID] = true
			continue
		}
		prev := steps[i-1]
		out[step.ID] = out[prev.ID] &&
			(!step.AccessRules.RequiresPreviousStep || stepDone(tree, prev, byComponent))
	}
	return out
}

// stepDone reports whether every component of the step is completed, or
// skipped where skipping was allowed.
func stepDone(
	tree *domain.SnapshotTree,
	step *domain.StepSnapshot,
	byComponent map[uuid.UUID]*domain.ComponentProgress,
) bool {
	for _, c := range tree.ComponentsForStep(step) {
		p := byComponent[c.ID]
		if p == nil {
			return false
		}
		switch p.Status {
		case domain.ProgressCompleted:
		case domain.ProgressSkipped:
			if c.IsRequired && !step.AccessRules.Skippable {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// newlyUnlocked lists open steps missing from recorded, in step order.
func newlyUnlocked(tree *domain.SnapshotTree, unlocked, recorded map[uuid.UUID]bool) UnlockResult {
	result := UnlockResult{StepIDs: []uuid.UUID{}, ComponentIDs: []uuid.UUID{}}
	for _, step := range orderedSteps(tree) {
		if unlocked[step.ID] && !recorded[step.ID] {
			result.StepIDs = append(result.StepIDs, step.ID)
			result.ComponentIDs = append(result.ComponentIDs, step.ComponentIDs...)
		}
	}
	return result
}

func isDone(s domain.ProgressStatus) bool {
	return s == domain.ProgressCompleted || s == domain.ProgressSkipped
}

func percentage(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) * 100 / float64(total)))
}

// summarize aggregates progress over the tree. Components without a record
// count as not started.
func summarize(
	tree *domain.SnapshotTree,
	a *domain.Assignment,
	byComponent map[uuid.UUID]*domain.ComponentProgress,
	recorded map[uuid.UUID]bool,
) *Summary {
	unlocked := unlockedSteps(tree, byComponent, recorded)
	s := &Summary{
		AssignmentID:    a.ID,
		LearnerID:       a.LearnerID,
		FlowSnapshotID:  tree.Flow.ID,
		Steps:           make([]StepSummary, 0, len(tree.Steps)),
		UnlockedStepIDs: []uuid.UUID{},
	}

	stepPercentSum := 0
	for _, step := range orderedSteps(tree) {
		components := tree.ComponentsForStep(step)
		line := StepSummary{
			StepID:          step.ID,
			Order:           step.Order,
			Title:           step.Original.Title,
			Unlocked:        unlocked[step.ID],
			TotalComponents: len(components),
			Components:      make([]ComponentSummary, 0, len(components)),
		}
		if line.Unlocked {
			s.UnlockedStepIDs = append(s.UnlockedStepIDs, step.ID)
		}

		for _, c := range components {
			cs := ComponentSummary{
				ComponentID: c.ID,
				Type:        c.Type,
				Title:       c.Title,
				IsRequired:  c.IsRequired,
				Status:      domain.ProgressNotStarted,
			}
			if p := byComponent[c.ID]; p != nil {
				cs.Status = p.Status
				cs.Attempts = p.Attempts
				cs.TimeSpentSeconds = p.TimeSpentSeconds
			}
			if isDone(cs.Status) {
				line.CompletedComponents++
			}
			if s.Next == nil && line.Unlocked &&
				(cs.Status == domain.ProgressNotStarted || cs.Status == domain.ProgressInProgress) {
				s.Next = &NextComponent{StepID: step.ID, ComponentID: c.ID}
			}
			s.Stats.TimeSpentSeconds += cs.TimeSpentSeconds
			s.Stats.Attempts += cs.Attempts
			line.Components = append(line.Components, cs)
		}

		line.Percentage = percentage(line.CompletedComponents, line.TotalComponents)
		if line.CompletedComponents == line.TotalComponents {
			s.Stats.CompletedSteps++
		}
		s.Stats.CompletedComponents += line.CompletedComponents
		s.Stats.TotalComponents += line.TotalComponents
		stepPercentSum += line.Percentage
		s.Steps = append(s.Steps, line)
	}

	s.Stats.TotalSteps = len(s.Steps)
	s.Completed = s.Stats.TotalSteps > 0 && s.Stats.CompletedSteps == s.Stats.TotalSteps
	if s.Stats.TotalSteps > 0 {
		s.Percentage = int(math.Round(float64(stepPercentSum) / float64(s.Stats.TotalSteps)))
	}
	return s
}
