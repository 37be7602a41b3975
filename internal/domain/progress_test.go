package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyProgressData(t *testing.T) {
	t.Parallel()

	for _, ct := range []ComponentType{ComponentTypeArticle, ComponentTypeTask, ComponentTypeQuiz, ComponentTypeVideo} {
		d, err := EmptyProgressData(ct)
		require.NoError(t, err)
		assert.Equal(t, ct, d.Type())
	}

	_, err := EmptyProgressData("podcast")
	assert.ErrorIs(t, err, ErrUnknownComponentType)
}

func TestNewComponentProgress(t *testing.T) {
	t.Parallel()

	comp := &ComponentSnapshot{ID: uuid.New(), StepSnapshotID: uuid.New(), Type: ComponentTypeQuiz}
	p, err := NewComponentProgress(uuid.New(), uuid.New(), comp, testNow)
	require.NoError(t, err)
	assert.Equal(t, ProgressNotStarted, p.Status)
	assert.Equal(t, comp.StepSnapshotID, p.StepSnapshotID)
	assert.IsType(t, QuizProgress{}, p.Data)

	_, err = NewComponentProgress(uuid.Nil, uuid.New(), comp, testNow)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestComponentProgressResetKeepsAttemptHistory(t *testing.T) {
	t.Parallel()

	started := testNow
	p := &ComponentProgress{
		ID:            uuid.New(),
		ComponentType: ComponentTypeQuiz,
		Status:        ProgressFailed,
		Attempts:      3,
		StartedAt:     &started,
		CompletedAt:   &started,
		Data: QuizProgress{
			Attempts: []QuizAttempt{
				{Score: 40, Answers: map[string][]string{"q1": {"a"}}},
				{Score: 50},
				{Score: 60},
			},
			BestScore:    60,
			CurrentScore: 60,
		},
		Version: 4,
	}

	reset, err := p.Reset(testNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, ProgressNotStarted, reset.Status)
	assert.Zero(t, reset.Attempts)
	assert.Nil(t, reset.StartedAt)
	assert.Nil(t, reset.CompletedAt)
	assert.Equal(t, 4, reset.Version)

	quiz := reset.Data.(QuizProgress)
	assert.Len(t, quiz.Attempts, 3)
	assert.Zero(t, quiz.BestScore)
	assert.Zero(t, quiz.CurrentScore)
	assert.False(t, quiz.Passed)

	// History is copied, not shared.
	quiz.Attempts[0].Answers["q1"][0] = "z"
	assert.Equal(t, "a", p.Data.(QuizProgress).Attempts[0].Answers["q1"][0])
	assert.Equal(t, ProgressFailed, p.Status)
}

func TestComponentProgressResetArticle(t *testing.T) {
	t.Parallel()

	p := &ComponentProgress{ComponentType: ComponentTypeArticle, Status: ProgressCompleted, Data: ArticleProgress{ScrollDepth: 100}}
	reset, err := p.Reset(testNow)
	require.NoError(t, err)
	assert.Equal(t, ArticleProgress{}, reset.Data)
}

func TestComponentProgressJSON(t *testing.T) {
	t.Parallel()

	p := &ComponentProgress{
		ID:            uuid.New(),
		ComponentType: ComponentTypeVideo,
		Status:        ProgressInProgress,
		Data:          VideoProgress{WatchedSegments: []VideoSegment{{Start: 0, End: 30}}, LastPosition: 30, WatchedPercent: 50},
	}
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded ComponentProgress
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, p.Data, decoded.Data)

	_, err = DecodeProgressData(ComponentTypeTask, []byte(`{"attempts": 5}`))
	assert.ErrorIs(t, err, ErrMalformedProgressData)
}

func TestTaskProgressPassedSince(t *testing.T) {
	t.Parallel()

	early := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	p := TaskProgress{Attempts: []TaskAttempt{
		{IsCorrect: false, SubmittedAt: late},
		{IsCorrect: true, SubmittedAt: early},
	}}

	assert.False(t, TaskProgress{}.PassedSince(nil))
	assert.True(t, p.PassedSince(nil))
	assert.True(t, p.PassedSince(&early))
	assert.False(t, p.PassedSince(&late))
}
