package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProgressStatus is the per-component progress state.
type ProgressStatus string

// Progress statuses
const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
	ProgressSkipped    ProgressStatus = "skipped"
)

// IsTerminal reports whether no further learner action can change the status.
func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressCompleted || s == ProgressFailed || s == ProgressSkipped
}

// IsValid reports whether s is a known progress status.
func (s ProgressStatus) IsValid() bool {
	switch s {
	case ProgressNotStarted, ProgressInProgress, ProgressCompleted, ProgressFailed, ProgressSkipped:
		return true
	default:
		return false
	}
}

// ProgressAction is a learner interaction with a component.
type ProgressAction string

// Progress actions
const (
	ActionStart          ProgressAction = "start"
	ActionUpdateProgress ProgressAction = "update_progress"
	ActionSubmitAnswer   ProgressAction = "submit_answer"
	ActionComplete       ProgressAction = "complete"
	ActionSkip           ProgressAction = "skip"
)

// IsValid reports whether a is a known action.
func (a ProgressAction) IsValid() bool {
	switch a {
	case ActionStart, ActionUpdateProgress, ActionSubmitAnswer, ActionComplete, ActionSkip:
		return true
	default:
		return false
	}
}

// ArticleCompletionScrollDepth is the scroll depth percentage an article needs
// before it can be completed.
const ArticleCompletionScrollDepth = 90

// ErrMalformedProgressData is returned when a stored progress payload does not
// match its component type.
var ErrMalformedProgressData = errors.New("malformed progress data")

// ProgressData is the type-specific progress payload of a component. Like
// Content, the set of implementations is closed.
type ProgressData interface {
	Type() ComponentType
	isProgressData()
}

// ArticleProgress tracks reading of an article.
type ArticleProgress struct {
	ScrollDepth        int `json:"scroll_depth"`
	ReadingTimeSeconds int `json:"reading_time_seconds"`
}

// TaskAttempt is an immutable record of one task submission.
type TaskAttempt struct {
	Answer           string    `json:"answer"`
	IsCorrect        bool      `json:"is_correct"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// TaskProgress keeps the history of task submissions.
type TaskProgress struct {
	Attempts   []TaskAttempt `json:"attempts"`
	LastAnswer string        `json:"last_answer,omitempty"`
}

// PassedSince reports whether a correct attempt was submitted at or after
// since. A nil since considers the whole history.
func (p TaskProgress) PassedSince(since *time.Time) bool {
	for _, a := range p.Attempts {
		if a.IsCorrect && (since == nil || !a.SubmittedAt.Before(*since)) {
			return true
		}
	}
	return false
}

// QuizAttempt is an immutable record of one quiz submission.
type QuizAttempt struct {
	Answers          map[string][]string `json:"answers"`
	Score            int                 `json:"score"`
	CorrectCount     int                 `json:"correct_count"`
	TotalCount       int                 `json:"total_count"`
	Passed           bool                `json:"passed"`
	TimeSpentSeconds int                 `json:"time_spent_seconds"`
	StartedAt        time.Time           `json:"started_at"`
	SubmittedAt      time.Time           `json:"submitted_at"`
}

// QuizProgress keeps the history of quiz submissions plus summary scores.
type QuizProgress struct {
	Attempts     []QuizAttempt `json:"attempts"`
	BestScore    int           `json:"best_score"`
	CurrentScore int           `json:"current_score"`
	Passed       bool          `json:"passed"`
}

// VideoSegment is a watched range in seconds.
type VideoSegment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// VideoProgress tracks watching of a video.
type VideoProgress struct {
	WatchedSegments []VideoSegment `json:"watched_segments"`
	LastPosition    int            `json:"last_position"`
	WatchedPercent  int            `json:"watched_percent"`
}

func (ArticleProgress) isProgressData() {}
func (TaskProgress) isProgressData()    {}
func (QuizProgress) isProgressData()    {}
func (VideoProgress) isProgressData()   {}

// Type implements ProgressData.
func (ArticleProgress) Type() ComponentType { return ComponentTypeArticle }

// Type implements ProgressData.
func (TaskProgress) Type() ComponentType { return ComponentTypeTask }

// Type implements ProgressData.
func (QuizProgress) Type() ComponentType { return ComponentTypeQuiz }

// Type implements ProgressData.
func (VideoProgress) Type() ComponentType { return ComponentTypeVideo }

// EmptyProgressData returns the fresh payload for a component type.
func EmptyProgressData(t ComponentType) (ProgressData, error) {
	switch t {
	case ComponentTypeArticle:
		return ArticleProgress{}, nil
	case ComponentTypeTask:
		return TaskProgress{Attempts: []TaskAttempt{}}, nil
	case ComponentTypeQuiz:
		return QuizProgress{Attempts: []QuizAttempt{}}, nil
	case ComponentTypeVideo:
		return VideoProgress{WatchedSegments: []VideoSegment{}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponentType, t)
	}
}

// CloneProgressData deep-copies a progress payload.
func CloneProgressData(d ProgressData) (ProgressData, error) {
	switch v := d.(type) {
	case ArticleProgress:
		return v, nil
	case TaskProgress:
		if v.Attempts != nil {
			v.Attempts = append([]TaskAttempt(nil), v.Attempts...)
		}
		return v, nil
	case QuizProgress:
		if v.Attempts != nil {
			attempts := make([]QuizAttempt, len(v.Attempts))
			for i, a := range v.Attempts {
				a.Answers = cloneAnswers(a.Answers)
				attempts[i] = a
			}
			v.Attempts = attempts
		}
		return v, nil
	case VideoProgress:
		if v.WatchedSegments != nil {
			v.WatchedSegments = append([]VideoSegment(nil), v.WatchedSegments...)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownComponentType, d)
	}
}

// DecodeProgressData decodes a stored payload for the given component type.
func DecodeProgressData(t ComponentType, raw []byte) (ProgressData, error) {
	if len(raw) == 0 {
		return EmptyProgressData(t)
	}
	var (
		out ProgressData
		err error
	)
	switch t {
	case ComponentTypeArticle:
		var d ArticleProgress
		err = json.Unmarshal(raw, &d)
		out = d
	case ComponentTypeTask:
		var d TaskProgress
		err = json.Unmarshal(raw, &d)
		out = d
	case ComponentTypeQuiz:
		var d QuizProgress
		err = json.Unmarshal(raw, &d)
		out = d
	case ComponentTypeVideo:
		var d VideoProgress
		err = json.Unmarshal(raw, &d)
		out = d
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponentType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedProgressData, t, err)
	}
	return out, nil
}

// ComponentProgress is a learner's progress on one component of an assignment.
type ComponentProgress struct {
	ID                  uuid.UUID      `json:"id"`
	LearnerID           uuid.UUID      `json:"learner_id"`
	AssignmentID        uuid.UUID      `json:"assignment_id"`
	ComponentSnapshotID uuid.UUID      `json:"component_snapshot_id"`
	StepSnapshotID      uuid.UUID      `json:"step_snapshot_id"`
	ComponentType       ComponentType  `json:"component_type"`
	Status              ProgressStatus `json:"status"`
	Attempts            int            `json:"attempts"`
	TimeSpentSeconds    int            `json:"time_spent_seconds"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	LastActivityAt      *time.Time     `json:"last_activity_at,omitempty"`
	Data                ProgressData   `json:"data"`
	Version             int            `json:"version"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// NewComponentProgress creates a NOT_STARTED record for the component.
func NewComponentProgress(
	learnerID, assignmentID uuid.UUID,
	component *ComponentSnapshot,
	now time.Time,
) (*ComponentProgress, error) {
	if learnerID == uuid.Nil || assignmentID == uuid.Nil {
		return nil, NewValidationError("progress", "learner and assignment IDs are required", ErrInvalidID)
	}
	data, err := EmptyProgressData(component.Type)
	if err != nil {
		return nil, err
	}
	return &ComponentProgress{
		ID:                  uuid.New(),
		LearnerID:           learnerID,
		AssignmentID:        assignmentID,
		ComponentSnapshotID: component.ID,
		StepSnapshotID:      component.StepSnapshotID,
		ComponentType:       component.Type,
		Status:              ProgressNotStarted,
		Data:                data,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// Clone returns a deep copy of the progress record.
func (p *ComponentProgress) Clone() *ComponentProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.StartedAt = cloneTime(p.StartedAt)
	c.CompletedAt = cloneTime(p.CompletedAt)
	c.LastActivityAt = cloneTime(p.LastActivityAt)
	if p.Data != nil {
		if d, err := CloneProgressData(p.Data); err == nil {
			c.Data = d
		}
	}
	return &c
}

// Reset returns a NOT_STARTED copy with a fresh payload. Task and quiz
// attempt histories are carried over to the new payload; the attempt counter
// and timestamps are cleared.
func (p *ComponentProgress) Reset(now time.Time) (*ComponentProgress, error) {
	fresh, err := EmptyProgressData(p.ComponentType)
	if err != nil {
		return nil, err
	}
	switch old := p.Data.(type) {
	case TaskProgress:
		t := fresh.(TaskProgress)
		t.Attempts = append(t.Attempts, old.Attempts...)
		fresh = t
	case QuizProgress:
		q := fresh.(QuizProgress)
		for _, a := range old.Attempts {
			a.Answers = cloneAnswers(a.Answers)
			q.Attempts = append(q.Attempts, a)
		}
		fresh = q
	}

	c := p.Clone()
	c.Status = ProgressNotStarted
	c.Attempts = 0
	c.StartedAt = nil
	c.CompletedAt = nil
	c.LastActivityAt = nil
	c.Data = fresh
	c.UpdatedAt = now
	return c, nil
}

// UnmarshalJSON decodes the payload according to ComponentType.
func (p *ComponentProgress) UnmarshalJSON(raw []byte) error {
	type alias ComponentProgress
	aux := struct {
		*alias
		Data json.RawMessage `json:"data"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	data, err := DecodeProgressData(p.ComponentType, aux.Data)
	if err != nil {
		return err
	}
	p.Data = data
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneAnswers(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = cloneStrings(v)
	}
	return out
}
