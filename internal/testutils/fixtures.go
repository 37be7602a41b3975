package testutils

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/domain"
)

// Now is a fixed Monday morning used as the clock in tests.
var Now = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

// Article returns an article component template.
func Article(required bool) domain.ComponentTemplate {
	return domain.ComponentTemplate{
		ID:         uuid.New(),
		Type:       domain.ComponentTypeArticle,
		Title:      "Read the guide",
		Content:    domain.ArticleContent{Body: "Welcome aboard.", ReadingTimeMinutes: 7},
		IsRequired: required,
	}
}

// Task returns a task component template accepting "Paris" and "City of
// Light".
func Task(required bool, maxAttempts int) domain.ComponentTemplate {
	return domain.ComponentTemplate{
		ID:    uuid.New(),
		Type:  domain.ComponentTypeTask,
		Title: "Capital",
		Content: domain.TaskContent{
			Prompt:             "What is the capital of France?",
			ReferenceAnswer:    "Paris",
			AlternativeAnswers: []string{"City of Light"},
		},
		IsRequired:  required,
		MaxAttempts: maxAttempts,
	}
}

// Quiz returns a four-question quiz template with the given passing score.
// Question q1 has two correct options; the others have one.
func Quiz(passingScore int) domain.ComponentTemplate {
	questions := []domain.QuizQuestion{
		{ID: "q1", Text: "Pick the primes", Options: []domain.QuizOption{
			{ID: "a", Text: "2", IsCorrect: true},
			{ID: "b", Text: "3", IsCorrect: true},
			{ID: "c", Text: "4"},
		}},
	}
	for _, id := range []string{"q2", "q3", "q4"} {
		questions = append(questions, domain.QuizQuestion{ID: id, Text: "Pick a", Options: []domain.QuizOption{
			{ID: "a", Text: "right", IsCorrect: true},
			{ID: "b", Text: "wrong"},
		}})
	}
	return domain.ComponentTemplate{
		ID:         uuid.New(),
		Type:       domain.ComponentTypeQuiz,
		Title:      "Checkpoint",
		Content:    domain.QuizContent{Questions: questions, PassingScore: passingScore},
		IsRequired: true,
	}
}

// QuizAnswers returns answers to Quiz with the first n questions right and
// the rest wrong.
func QuizAnswers(n int) map[string][]string {
	answers := map[string][]string{}
	for i, id := range []string{"q1", "q2", "q3", "q4"} {
		switch {
		case i >= n && id == "q1":
			answers[id] = []string{"a"}
		case i >= n:
			answers[id] = []string{"b"}
		case id == "q1":
			answers[id] = []string{"b", "a"}
		default:
			answers[id] = []string{"a"}
		}
	}
	return answers
}

// Video returns a video component template.
func Video(seconds int, required bool) domain.ComponentTemplate {
	return domain.ComponentTemplate{
		ID:         uuid.New(),
		Type:       domain.ComponentTypeVideo,
		Title:      "Walkthrough",
		Content:    domain.VideoContent{URL: "https://videos.example.com/intro.mp4", DurationSeconds: seconds},
		IsRequired: required,
	}
}

// StepOption customizes a step template.
type StepOption func(*domain.StepTemplate)

// WithRequiresPrevious gates the step on completion of the one before it.
func WithRequiresPrevious() StepOption {
	return func(s *domain.StepTemplate) { s.RequiresPreviousStep = true }
}

// WithSkippable marks the step skippable.
func WithSkippable() StepOption {
	return func(s *domain.StepTemplate) { s.Skippable = true }
}

// WithStepMaxAttempts sets the step-level attempt limit.
func WithStepMaxAttempts(n int) StepOption {
	return func(s *domain.StepTemplate) { s.MaxAttempts = &n }
}

// NewStep builds a required step. Args may mix component templates and
// StepOptions; components are ordered as given.
func NewStep(title string, args ...any) domain.StepTemplate {
	s := domain.StepTemplate{ID: uuid.New(), Title: title, IsRequired: true}
	for _, a := range args {
		switch v := a.(type) {
		case domain.ComponentTemplate:
			v.Order = len(s.Components) + 1
			s.Components = append(s.Components, v)
		case StepOption:
			v(&s)
		}
	}
	return s
}

// NewTemplate builds an active template with steps ordered as given.
func NewTemplate(steps ...domain.StepTemplate) *domain.FlowTemplate {
	t := &domain.FlowTemplate{
		ID:          uuid.New(),
		Version:     3,
		Title:       "Engineering onboarding",
		Description: "First week",
		IsActive:    true,
	}
	for i, s := range steps {
		s.Order = (i + 1) * 10
		t.Steps = append(t.Steps, s)
	}
	return t
}

// SampleTemplate returns a flow of three steps:
//
//  1. an article and a quiz passing at 70
//  2. a task limited to three attempts, gated on step 1
//  3. a skippable step with a video, gated on step 2
func SampleTemplate() *domain.FlowTemplate {
	return NewTemplate(
		NewStep("Basics", Article(true), Quiz(70)),
		NewStep("Practice", Task(true, 3), WithRequiresPrevious()),
		NewStep("Extras", Video(300, true), WithRequiresPrevious(), WithSkippable()),
	)
}
