package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/learnflow/internal/api/shared"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/service/assignment"
	"github.com/phrazzld/learnflow/internal/service/progress"
)

// ProgressHandler handles learner progress requests.
type ProgressHandler struct {
	engine      progress.Engine
	assignments assignment.Service
	logger      *slog.Logger
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(
	engine progress.Engine,
	assignments assignment.Service,
	logger *slog.Logger,
) *ProgressHandler {
	if engine == nil || assignments == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("progress engine and assignment service cannot be nil for ProgressHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ProgressHandler")
	}
	return &ProgressHandler{
		engine:      engine,
		assignments: assignments,
		logger:      logger.With(slog.String("component", "progress_handler")),
	}
}

// GetSummary handles GET /api/assignments/{id}/progress. Mentors may read
// their learners' progress.
func (h *ProgressHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	actorID, assignmentID, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	a, err := loadParticipantAssignment(r.Context(), h.assignments, assignmentID, actorID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get progress")
		return
	}

	summary, err := h.engine.GetProgressSummary(r.Context(), a.LearnerID, assignmentID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get progress")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, summary)
}

// UpdateComponent handles
// POST /api/assignments/{id}/components/{componentID}/progress. Only the
// learner may act on their own components.
func (h *ProgressHandler) UpdateComponent(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	learnerID, assignmentID, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}
	componentID, err := getPathUUID(r, "componentID")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	var req ProgressActionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.engine.UpdateComponentProgress(
		r.Context(), learnerID, assignmentID, componentID, req.Action, req.Data)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update progress")
		return
	}

	log.Debug("component progress updated",
		slog.String("assignment_id", assignmentID.String()),
		slog.String("component_id", componentID.String()),
		slog.String("action", string(req.Action)),
		slog.String("status", string(result.Progress.Status)),
		slog.Int("unlocked_steps", len(result.Unlock.StepIDs)))
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// ResetComponent handles
// POST /api/assignments/{id}/components/{componentID}/reset. The learner or
// a mentor may reset a component.
func (h *ProgressHandler) ResetComponent(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	actorID, assignmentID, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}
	componentID, err := getPathUUID(r, "componentID")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	a, err := loadParticipantAssignment(r.Context(), h.assignments, assignmentID, actorID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to reset progress")
		return
	}

	p, err := h.engine.ResetComponentProgress(r.Context(), a.LearnerID, assignmentID, componentID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to reset progress")
		return
	}

	log.Info("component progress reset",
		slog.String("assignment_id", assignmentID.String()),
		slog.String("component_id", componentID.String()),
		slog.String("actor_id", actorID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, p)
}
