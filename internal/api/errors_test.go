package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/api/shared"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/service/auth"
	"github.com/phrazzld/learnflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"wrapped invalid token", fmt.Errorf("parse: %w", auth.ErrInvalidToken), http.StatusUnauthorized},
		{"validation", domain.NewValidationError("reason", "cannot be empty", nil), http.StatusBadRequest},
		{"invalid id", domain.ErrInvalidID, http.StatusBadRequest},
		{"forbidden", fmt.Errorf("%w: cancel", domain.ErrForbidden), http.StatusForbidden},
		{"not found", domain.NewNotFoundError("assignment", uuid.New()), http.StatusNotFound},
		{"store not found", store.ErrAssignmentNotFound, http.StatusNotFound},
		{"domain rule", domain.NewDomainError("step %d is locked", 2), http.StatusUnprocessableEntity},
		{"conflict", fmt.Errorf("%w: gave up", domain.ErrConflict), http.StatusConflict},
		{"storage wrapping not found", domain.NewStorageError("read", store.ErrNotFound), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "An unexpected error occurred"},
		{"expired token", auth.ErrExpiredToken, "Token expired"},
		{"wrong type", auth.ErrWrongTokenType, "Invalid token"},
		{"field validation", domain.NewValidationError("deadline", "must be in the future", nil),
			"Invalid deadline: must be in the future"},
		{"not found", domain.NewNotFoundError("flow template", uuid.New()), "Flow template not found"},
		{"domain rule", domain.NewDomainError("step %d is locked", 2), "Step 2 is locked"},
		{"storage", domain.NewStorageError("insert", errors.New("pq: password=hunter2")),
			"An unexpected error occurred"},
		{"forbidden", domain.ErrForbidden, "You are not allowed to perform this operation"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, GetSafeErrorMessage(tc.err))
		})
	}
}

func TestSanitizeValidatorErrors(t *testing.T) {
	t.Parallel()
	err := shared.ValidateRequest(&ExtendDeadlineRequest{})
	require.Error(t, err)

	assert.Equal(t, http.StatusBadRequest, MapErrorToStatusCode(err))
	assert.Equal(t, "Invalid deadline: required field", GetSafeErrorMessage(err))
	assert.ElementsMatch(t, []string{
		"Invalid deadline: required field",
		"Invalid reason: required field",
	}, ErrorDetails(err))
}

func TestHandleAPIError(t *testing.T) {
	t.Parallel()

	t.Run("violations become details", func(t *testing.T) {
		t.Parallel()
		err := domain.NewViolationsError("template cannot be snapshotted",
			[]string{"step 1 has no components", "quiz q1 has no options"}, nil)

		w := httptest.NewRecorder()
		HandleAPIError(w, httptest.NewRequest(http.MethodPost, "/api/snapshots", nil), err, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp shared.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Template cannot be snapshotted", resp.Error)
		assert.Len(t, resp.Details, 2)
	})

	t.Run("server errors use fallback", func(t *testing.T) {
		t.Parallel()
		err := domain.NewStorageError("insert", errors.New("connection to 10.0.0.5 refused"))

		w := httptest.NewRecorder()
		HandleAPIError(w, httptest.NewRequest(http.MethodPost, "/", nil), err, "Failed to create assignment")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "Failed to create assignment")
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
	})
}
