package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"base", ErrNotFound, true},
		{"template", ErrTemplateNotFound, true},
		{"snapshot", ErrSnapshotNotFound, true},
		{"progress", ErrProgressNotFound, true},
		{"assignment", ErrAssignmentNotFound, true},
		{"wrapped", fmt.Errorf("load: %w", ErrAssignmentNotFound), true},
		{"duplicate", ErrDuplicate, false},
		{"conflict", ErrVersionConflict, false},
		{"other", errors.New("not found"), false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsNotFoundError(tc.err), tc.name)
	}
}

func TestEntityNotFoundErrorsAreDistinct(t *testing.T) {
	t.Parallel()

	assert.NotErrorIs(t, ErrAssignmentNotFound, ErrSnapshotNotFound)
	assert.NotErrorIs(t, ErrProgressNotFound, ErrTemplateNotFound)
	assert.Contains(t, ErrProgressNotFound.Error(), "component progress")
}
