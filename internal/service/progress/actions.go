package progress

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/domain/grading"
)

// applyAction computes the next progress value for an action. It reports
// changed=false when the action is a no-op and nothing needs to be written.
// The input record is never modified.
func applyAction(
	p *domain.ComponentProgress,
	c *domain.ComponentSnapshot,
	step *domain.StepSnapshot,
	action domain.ProgressAction,
	data ActionData,
	now time.Time,
) (next *domain.ComponentProgress, eval *Evaluation, changed bool, err error) {
	if data.TimeSpentSeconds < 0 {
		return nil, nil, false, domain.NewValidationError("time_spent_seconds", "cannot be negative", nil)
	}
	if action == domain.ActionComplete && p.Status == domain.ProgressCompleted {
		return p, nil, false, nil
	}
	if p.Status.IsTerminal() {
		return nil, nil, false, domain.NewDomainError("component is %s; %s is not allowed", p.Status, action)
	}

	next = p.Clone()
	if next.Status == domain.ProgressNotStarted {
		next.Status = domain.ProgressInProgress
		next.StartedAt = &now
	}
	next.TimeSpentSeconds += data.TimeSpentSeconds
	next.LastActivityAt = &now
	next.UpdatedAt = now

	switch action {
	case domain.ActionStart:
	case domain.ActionUpdateProgress:
		err = mergeProgress(next, c, data)
	case domain.ActionSubmitAnswer:
		eval, err = submitAnswer(next, c, step, data, now)
	case domain.ActionComplete:
		if err = mergeProgress(next, c, data); err == nil {
			err = completeComponent(next, c, now)
		}
	case domain.ActionSkip:
		err = skipComponent(next, c, step)
	default:
		err = domain.NewValidationError("action", fmt.Sprintf("unknown action %q", action), nil)
	}
	if err != nil {
		return nil, nil, false, err
	}
	return next, eval, true, nil
}

// mergeProgress folds reported reading or watching progress into the payload.
// Article scroll depth and video coverage only ever grow.
func mergeProgress(p *domain.ComponentProgress, c *domain.ComponentSnapshot, data ActionData) error {
	switch d := p.Data.(type) {
	case domain.ArticleProgress:
		if data.ScrollDepth != nil {
			if *data.ScrollDepth < 0 || *data.ScrollDepth > 100 {
				return domain.NewValidationError("scroll_depth", "must be between 0 and 100", nil)
			}
			d.ScrollDepth = max(d.ScrollDepth, *data.ScrollDepth)
		}
		if data.ReadingTimeSeconds < 0 {
			return domain.NewValidationError("reading_time_seconds", "cannot be negative", nil)
		}
		d.ReadingTimeSeconds += data.ReadingTimeSeconds
		p.Data = d

	case domain.VideoProgress:
		video, _ := c.Content.(domain.VideoContent)
		for _, s := range data.WatchedSegments {
			if s.Start < 0 || s.End < s.Start {
				return domain.NewValidationError("watched_segments",
					fmt.Sprintf("invalid segment %d-%d", s.Start, s.End), nil)
			}
		}
		if data.Position != nil {
			if *data.Position < 0 {
				return domain.NewValidationError("position", "cannot be negative", nil)
			}
			d.LastPosition = *data.Position
		}
		if data.WatchedPercent != nil && (*data.WatchedPercent < 0 || *data.WatchedPercent > 100) {
			return domain.NewValidationError("watched_percent", "must be between 0 and 100", nil)
		}

		d.WatchedSegments = mergeSegments(append(slices.Clone(d.WatchedSegments), data.WatchedSegments...),
			video.DurationSeconds)
		d.WatchedPercent = max(d.WatchedPercent, coverage(d.WatchedSegments, video.DurationSeconds))
		if data.WatchedPercent != nil {
			d.WatchedPercent = max(d.WatchedPercent, *data.WatchedPercent)
		}
		p.Data = d

	case domain.TaskProgress:
		if data.Answer != nil {
			d.LastAnswer = *data.Answer
			p.Data = d
		}
	}
	return nil
}

// submitAnswer grades a task or quiz submission and records the attempt.
func submitAnswer(
	p *domain.ComponentProgress,
	c *domain.ComponentSnapshot,
	step *domain.StepSnapshot,
	data ActionData,
	now time.Time,
) (*Evaluation, error) {
	limit := attemptLimit(c, step)
	if limit > 0 && p.Attempts >= limit {
		return nil, domain.NewDomainError("no attempts remaining (%d of %d used)", p.Attempts, limit)
	}

	eval := &Evaluation{}
	switch content := c.Content.(type) {
	case domain.TaskContent:
		if data.Answer == nil || strings.TrimSpace(*data.Answer) == "" {
			return nil, domain.NewValidationError("answer", "is required for task submissions", nil)
		}
		match := grading.MatchTaskAnswer(content, *data.Answer)
		d, _ := p.Data.(domain.TaskProgress)
		d.Attempts = append(slices.Clone(d.Attempts), domain.TaskAttempt{
			Answer:           *data.Answer,
			IsCorrect:        match.Matched,
			TimeSpentSeconds: data.TimeSpentSeconds,
			SubmittedAt:      now,
		})
		d.LastAnswer = *data.Answer
		p.Data = d

		eval.Task = &match
		eval.Passed = match.Matched
		if match.Matched {
			eval.Score = 100
		}

	case domain.QuizContent:
		if len(data.Answers) == 0 {
			return nil, domain.NewValidationError("answers", "are required for quiz submissions", nil)
		}
		for id := range data.Answers {
			if !slices.ContainsFunc(content.Questions, func(q domain.QuizQuestion) bool { return q.ID == id }) {
				return nil, domain.NewValidationError("answers", fmt.Sprintf("unknown question %q", id), nil)
			}
		}
		result := grading.ScoreQuiz(content, data.Answers)

		startedAt := now
		switch {
		case data.QuizStartedAt != nil:
			startedAt = *data.QuizStartedAt
		case p.StartedAt != nil:
			startedAt = *p.StartedAt
		}

		d, _ := p.Data.(domain.QuizProgress)
		d.Attempts = append(slices.Clone(d.Attempts), domain.QuizAttempt{
			Answers:          copyAnswers(data.Answers),
			Score:            result.Score,
			CorrectCount:     result.CorrectCount,
			TotalCount:       result.TotalCount,
			Passed:           result.Passed,
			TimeSpentSeconds: data.TimeSpentSeconds,
			StartedAt:        startedAt,
			SubmittedAt:      now,
		})
		d.CurrentScore = result.Score
		d.BestScore = max(d.BestScore, result.Score)
		d.Passed = d.Passed || result.Passed
		p.Data = d

		eval.Quiz = &result
		eval.Score = result.Score
		eval.Passed = result.Passed

	default:
		return nil, domain.NewValidationError("action", fmt.Sprintf("%s components do not accept answers", c.Type), nil)
	}

	p.Attempts++
	eval.AttemptsUsed = p.Attempts
	switch {
	case eval.Passed:
		p.Status = domain.ProgressCompleted
		p.CompletedAt = &now
	case limit > 0 && p.Attempts >= limit:
		p.Status = domain.ProgressFailed
	}
	if limit > 0 {
		remaining := max(limit-p.Attempts, 0)
		eval.AttemptsRemaining = &remaining
	}
	return eval, nil
}

// completeComponent checks the type-specific completion requirement.
func completeComponent(p *domain.ComponentProgress, c *domain.ComponentSnapshot, now time.Time) error {
	switch d := p.Data.(type) {
	case domain.ArticleProgress:
		if d.ScrollDepth < domain.ArticleCompletionScrollDepth {
			return domain.NewDomainError("article scrolled to %d%%, %d%% required",
				d.ScrollDepth, domain.ArticleCompletionScrollDepth)
		}
	case domain.VideoProgress:
		video, _ := c.Content.(domain.VideoContent)
		if threshold := video.CompletionThreshold(); d.WatchedPercent < threshold {
			return domain.NewDomainError("video watched %d%%, %d%% required", d.WatchedPercent, threshold)
		}
	case domain.TaskProgress:
		// attempts kept from before a reset do not count
		if !d.PassedSince(p.StartedAt) {
			return domain.NewDomainError("task has no correct submission")
		}
	case domain.QuizProgress:
		if !d.Passed {
			return domain.NewDomainError("quiz has no passing submission")
		}
	}
	p.Status = domain.ProgressCompleted
	p.CompletedAt = &now
	return nil
}

func skipComponent(p *domain.ComponentProgress, c *domain.ComponentSnapshot, step *domain.StepSnapshot) error {
	if c.IsRequired && !step.AccessRules.Skippable {
		return domain.NewDomainError("component is required and its step is not skippable")
	}
	p.Status = domain.ProgressSkipped
	return nil
}

// attemptLimit returns the component limit, else the step limit; 0 means
// unlimited.
func attemptLimit(c *domain.ComponentSnapshot, step *domain.StepSnapshot) int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	if step != nil && step.AccessRules.MaxAttempts != nil && *step.AccessRules.MaxAttempts > 0 {
		return *step.AccessRules.MaxAttempts
	}
	return 0
}

// mergeSegments clamps segments to the video length and joins overlapping or
// touching ranges.
func mergeSegments(segments []domain.VideoSegment, duration int) []domain.VideoSegment {
	clamped := make([]domain.VideoSegment, 0, len(segments))
	for _, s := range segments {
		if duration > 0 {
			s.Start = min(s.Start, duration)
			s.End = min(s.End, duration)
		}
		if s.End > s.Start {
			clamped = append(clamped, s)
		}
	}
	slices.SortFunc(clamped, func(a, b domain.VideoSegment) int { return a.Start - b.Start })

	out := make([]domain.VideoSegment, 0, len(clamped))
	for _, s := range clamped {
		if n := len(out); n > 0 && s.Start <= out[n-1].End {
			out[n-1].End = max(out[n-1].End, s.End)
			continue
		}
		out = append(out, s)
	}
	return out
}

// coverage returns the watched share of the video, rounded down.
func coverage(segments []domain.VideoSegment, duration int) int {
	if duration <= 0 {
		return 0
	}
	watched := 0
	for _, s := range segments {
		watched += s.End - s.Start
	}
	return min(int(math.Floor(float64(watched)*100/float64(duration))), 100)
}

func copyAnswers(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}
