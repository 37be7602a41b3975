// Package grading evaluates learner answers against frozen component content.
// All functions are pure.
package grading

import (
	"math"
	"regexp"
	"strings"

	"github.com/phrazzld/learnflow/internal/domain"
)

// MatchStrategy names the rule that accepted a task answer.
type MatchStrategy string

// Task match strategies, in the order they are tried
const (
	MatchNone        MatchStrategy = ""
	MatchExact       MatchStrategy = "exact"
	MatchAlternative MatchStrategy = "alternative"
	MatchPattern     MatchStrategy = "pattern"
	MatchPartial     MatchStrategy = "partial"
)

// TaskMatch is the outcome of matching a free-text answer.
type TaskMatch struct {
	Matched  bool          `json:"matched"`
	Strategy MatchStrategy `json:"strategy,omitempty"`
}

// MatchTaskAnswer checks a submission against the reference answer, the
// alternatives, the optional pattern and finally partial containment. The
// first rule that accepts wins.
//
// A pattern that fails to compile never matches; the other rules still apply.
func MatchTaskAnswer(task domain.TaskContent, answer string) TaskMatch {
	opts := task.Validation
	normalize := func(s string) string {
		if opts.ShouldTrim() {
			s = strings.TrimSpace(s)
		}
		if !opts.CaseSensitive {
			s = strings.ToLower(s)
		}
		return s
	}

	submitted := normalize(answer)
	reference := normalize(task.ReferenceAnswer)

	if submitted == reference {
		return TaskMatch{Matched: true, Strategy: MatchExact}
	}
	for _, alt := range task.AlternativeAnswers {
		if submitted == normalize(alt) {
			return TaskMatch{Matched: true, Strategy: MatchAlternative}
		}
	}
	if opts.Pattern != "" && matchPattern(opts.Pattern, submitted, opts.CaseSensitive) {
		return TaskMatch{Matched: true, Strategy: MatchPattern}
	}
	if opts.AllowPartialMatch && submitted != "" && reference != "" &&
		(strings.Contains(submitted, reference) || strings.Contains(reference, submitted)) {
		return TaskMatch{Matched: true, Strategy: MatchPartial}
	}
	return TaskMatch{}
}

func matchPattern(pattern, s string, caseSensitive bool) bool {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// QuestionResult reports whether one quiz question was answered correctly.
type QuestionResult struct {
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"correct"`
}

// QuizResult is the scored outcome of a quiz submission.
type QuizResult struct {
	Score        int              `json:"score"`
	CorrectCount int              `json:"correct_count"`
	TotalCount   int              `json:"total_count"`
	Passed       bool             `json:"passed"`
	Questions    []QuestionResult `json:"questions"`
}

// ScoreQuiz grades a submission mapping question IDs to selected option IDs.
// A question is correct only when the selected set equals the set of correct
// options. The score is the rounded percentage of correct questions.
func ScoreQuiz(quiz domain.QuizContent, answers map[string][]string) QuizResult {
	result := QuizResult{
		TotalCount: len(quiz.Questions),
		Questions:  make([]QuestionResult, 0, len(quiz.Questions)),
	}
	for _, q := range quiz.Questions {
		correct := isQuestionCorrect(q, answers[q.ID])
		if correct {
			result.CorrectCount++
		}
		result.Questions = append(result.Questions, QuestionResult{QuestionID: q.ID, Correct: correct})
	}
	if result.TotalCount > 0 {
		result.Score = int(math.Round(float64(result.CorrectCount) / float64(result.TotalCount) * 100))
	}
	result.Passed = result.Score >= quiz.PassingScore
	return result
}

func isQuestionCorrect(q domain.QuizQuestion, selected []string) bool {
	want := make(map[string]struct{})
	for _, o := range q.Options {
		if o.IsCorrect {
			want[o.ID] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := want[id]; !ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return len(seen) == len(want)
}
