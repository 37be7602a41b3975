package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ComponentType discriminates the content payload of a component.
type ComponentType string

// Supported component types
const (
	ComponentTypeArticle ComponentType = "article"
	ComponentTypeTask    ComponentType = "task"
	ComponentTypeQuiz    ComponentType = "quiz"
	ComponentTypeVideo   ComponentType = "video"
)

// Duration heuristics used when a component is frozen into a snapshot.
const (
	DefaultArticleMinutes  = 5
	TaskMinutes            = 10
	MinimumQuizMinutes     = 5
	MinutesPerQuizQuestion = 2

	// DefaultVideoCompletionPercent is the watched share required to complete
	// a video when its content does not configure one.
	DefaultVideoCompletionPercent = 90
)

// IsValid reports whether t is a known component type.
func (t ComponentType) IsValid() bool {
	switch t {
	case ComponentTypeArticle, ComponentTypeTask, ComponentTypeQuiz, ComponentTypeVideo:
		return true
	default:
		return false
	}
}

// Content is the type-specific payload of a component. The set of
// implementations is closed: ArticleContent, TaskContent, QuizContent and
// VideoContent.
type Content interface {
	// Type returns the discriminant matching this payload.
	Type() ComponentType

	// Violations returns every problem with the payload; nil means valid.
	Violations() []string

	isContent()
}

// ArticleContent is a block of reading material.
type ArticleContent struct {
	Body string `json:"body"`
	// ReadingTimeMinutes is the author's estimate; zero means unknown.
	ReadingTimeMinutes int      `json:"reading_time_minutes,omitempty"`
	ImageURLs          []string `json:"image_urls,omitempty"`
}

// TaskValidation configures how a free-text answer is matched.
type TaskValidation struct {
	CaseSensitive bool `json:"case_sensitive"`
	// TrimWhitespace defaults to true when unset.
	TrimWhitespace    *bool  `json:"trim_whitespace,omitempty"`
	Pattern           string `json:"pattern,omitempty"`
	AllowPartialMatch bool   `json:"allow_partial_match"`
}

// ShouldTrim resolves the trim setting, defaulting to true.
func (v TaskValidation) ShouldTrim() bool {
	return v.TrimWhitespace == nil || *v.TrimWhitespace
}

// TaskContent is a question answered with free text.
type TaskContent struct {
	Prompt             string         `json:"prompt"`
	ReferenceAnswer    string         `json:"reference_answer"`
	AlternativeAnswers []string       `json:"alternative_answers,omitempty"`
	Hints              []string       `json:"hints,omitempty"`
	Validation         TaskValidation `json:"validation"`
}

// QuizOption is one selectable answer of a quiz question.
type QuizOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// QuizQuestion is a multiple-choice question; several options may be correct.
type QuizQuestion struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Options     []QuizOption `json:"options"`
	Explanation string       `json:"explanation,omitempty"`
}

// QuizContent is a set of multiple-choice questions.
type QuizContent struct {
	Questions []QuizQuestion `json:"questions"`
	// PassingScore is a percentage in [0,100].
	PassingScore       int  `json:"passing_score"`
	ShuffleQuestions   bool `json:"shuffle_questions,omitempty"`
	ShowCorrectAnswers bool `json:"show_correct_answers,omitempty"`
	TimeLimitMinutes   int  `json:"time_limit_minutes,omitempty"`
}

// VideoContent is a video to be watched.
type VideoContent struct {
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds"`
	Transcript      string `json:"transcript,omitempty"`
	// CompletionPercent is the watched share required for completion.
	CompletionPercent int `json:"completion_percent,omitempty"`
}

func (ArticleContent) isContent() {}
func (TaskContent) isContent()    {}
func (QuizContent) isContent()    {}
func (VideoContent) isContent()   {}

// Type implements Content.
func (ArticleContent) Type() ComponentType { return ComponentTypeArticle }

// Type implements Content.
func (TaskContent) Type() ComponentType { return ComponentTypeTask }

// Type implements Content.
func (QuizContent) Type() ComponentType { return ComponentTypeQuiz }

// Type implements Content.
func (VideoContent) Type() ComponentType { return ComponentTypeVideo }

// Violations implements Content.
func (c ArticleContent) Violations() []string {
	if strings.TrimSpace(c.Body) == "" {
		return []string{"article body must not be empty"}
	}
	return nil
}

// Violations implements Content.
func (c TaskContent) Violations() []string {
	if strings.TrimSpace(c.ReferenceAnswer) == "" {
		return []string{"task reference answer must not be empty"}
	}
	return nil
}

// Violations implements Content.
func (c QuizContent) Violations() []string {
	var out []string
	if len(c.Questions) == 0 {
		out = append(out, "quiz must have at least one question")
	}
	if c.PassingScore < 0 || c.PassingScore > 100 {
		out = append(out, fmt.Sprintf("quiz passing score %d must be between 0 and 100", c.PassingScore))
	}
	for i, q := range c.Questions {
		if len(q.Options) < 2 {
			out = append(out, fmt.Sprintf("quiz question %d must have at least two options", i+1))
		}
		hasCorrect := false
		for _, o := range q.Options {
			if o.IsCorrect {
				hasCorrect = true
				break
			}
		}
		if !hasCorrect {
			out = append(out, fmt.Sprintf("quiz question %d must have at least one correct option", i+1))
		}
	}
	return out
}

// Violations implements Content.
func (c VideoContent) Violations() []string {
	var out []string
	if strings.TrimSpace(c.URL) == "" {
		out = append(out, "video source URL must not be empty")
	}
	if c.DurationSeconds < 0 {
		out = append(out, "video duration must not be negative")
	}
	return out
}

// CompletionThreshold returns the configured or default watched percentage.
func (c VideoContent) CompletionThreshold() int {
	if c.CompletionPercent <= 0 || c.CompletionPercent > 100 {
		return DefaultVideoCompletionPercent
	}
	return c.CompletionPercent
}

// EstimateDurationMinutes applies the per-type duration heuristic.
func EstimateDurationMinutes(c Content) (int, error) {
	switch v := c.(type) {
	case ArticleContent:
		if v.ReadingTimeMinutes > 0 {
			return v.ReadingTimeMinutes, nil
		}
		return DefaultArticleMinutes, nil
	case TaskContent:
		return TaskMinutes, nil
	case QuizContent:
		return max(len(v.Questions)*MinutesPerQuizQuestion, MinimumQuizMinutes), nil
	case VideoContent:
		return int(math.Ceil(float64(v.DurationSeconds) / 60)), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownComponentType, c)
	}
}

// CloneContent returns a deep copy of c sharing no slices or pointers.
func CloneContent(c Content) (Content, error) {
	switch v := c.(type) {
	case ArticleContent:
		v.ImageURLs = cloneStrings(v.ImageURLs)
		return v, nil
	case TaskContent:
		v.AlternativeAnswers = cloneStrings(v.AlternativeAnswers)
		v.Hints = cloneStrings(v.Hints)
		if v.Validation.TrimWhitespace != nil {
			trim := *v.Validation.TrimWhitespace
			v.Validation.TrimWhitespace = &trim
		}
		return v, nil
	case QuizContent:
		if v.Questions != nil {
			questions := make([]QuizQuestion, len(v.Questions))
			for i, q := range v.Questions {
				if q.Options != nil {
					q.Options = append([]QuizOption(nil), q.Options...)
				}
				questions[i] = q
			}
			v.Questions = questions
		}
		return v, nil
	case VideoContent:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownComponentType, c)
	}
}

// ContentSize returns the length in bytes of the content's JSON encoding.
func ContentSize(c Content) (int, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}

// DecodeContent decodes a JSON payload into the variant named by t.
func DecodeContent(t ComponentType, raw []byte) (Content, error) {
	switch t {
	case ComponentTypeArticle:
		var c ArticleContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode article content: %w", err)
		}
		return c, nil
	case ComponentTypeTask:
		var c TaskContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode task content: %w", err)
		}
		return c, nil
	case ComponentTypeQuiz:
		var c QuizContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode quiz content: %w", err)
		}
		return c, nil
	case ComponentTypeVideo:
		var c VideoContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode video content: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponentType, t)
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
