package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/api/shared"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/service/assignment"
	"github.com/phrazzld/learnflow/internal/service/auth"
)

// AssignmentHandler handles assignment lifecycle requests.
type AssignmentHandler struct {
	assignments assignment.Service
	logger      *slog.Logger
}

// NewAssignmentHandler creates a new AssignmentHandler.
func NewAssignmentHandler(assignments assignment.Service, logger *slog.Logger) *AssignmentHandler {
	if assignments == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("assignment service cannot be nil for AssignmentHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for AssignmentHandler")
	}
	return &AssignmentHandler{
		assignments: assignments,
		logger:      logger.With(slog.String("component", "assignment_handler")),
	}
}

// CreateAssignment handles POST /api/assignments. The caller becomes a
// mentor of the new assignment unless they assign the flow to themselves.
func (h *AssignmentHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actorID, ok := getActorIDFromContext(r)
	if !ok {
		HandleAPIError(w, r, auth.ErrMissingToken, "")
		return
	}

	var req CreateAssignmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.assignments.CreateAssignment(r.Context(), assignment.CreateInput{
		LearnerID:  req.LearnerID,
		TemplateID: req.TemplateID,
		MentorIDs:  req.MentorIDs,
		Deadline:   req.Deadline,
		CreatedBy:  actorID,
		Context:    req.Context,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create assignment")
		return
	}

	log.Info("assignment created",
		slog.String("assignment_id", a.ID.String()),
		slog.String("learner_id", a.LearnerID.String()))
	w.Header().Set("Location", "/api/assignments/"+a.ID.String())
	shared.RespondWithJSON(w, r, http.StatusCreated, a)
}

// ListAssignments handles GET /api/assignments and returns the caller's own
// assignments.
func (h *AssignmentHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	actorID, ok := getActorIDFromContext(r)
	if !ok {
		HandleAPIError(w, r, auth.ErrMissingToken, "")
		return
	}

	list, err := h.assignments.ListLearnerAssignments(r.Context(), actorID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list assignments")
		return
	}
	if list == nil {
		list = []*domain.Assignment{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, AssignmentListResponse{Assignments: list})
}

// GetAssignment handles GET /api/assignments/{id}. Only the learner and the
// assignment's mentors may read it.
func (h *AssignmentHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	actorID, id, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	a, err := loadParticipantAssignment(r.Context(), h.assignments, id, actorID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get assignment")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, a)
}

// Start handles POST /api/assignments/{id}/start.
func (h *AssignmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start", nil,
		func(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error) {
			return h.assignments.Start(ctx, id, actor)
		})
}

// Pause handles POST /api/assignments/{id}/pause.
func (h *AssignmentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	h.transition(w, r, "pause", &req,
		func(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error) {
			return h.assignments.Pause(ctx, id, actor, req.Reason)
		})
}

// Resume handles POST /api/assignments/{id}/resume. An empty body resumes
// without moving the deadline.
func (h *AssignmentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	h.transition(w, r, "resume", &req,
		func(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error) {
			return h.assignments.Resume(ctx, id, actor, req.AdjustDeadline)
		})
}

// Complete handles POST /api/assignments/{id}/complete.
func (h *AssignmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete", nil,
		func(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error) {
			return h.assignments.Complete(ctx, id, actor)
		})
}

// Cancel handles POST /api/assignments/{id}/cancel.
func (h *AssignmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	h.transition(w, r, "cancel", &req,
		func(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error) {
			return h.assignments.Cancel(ctx, id, actor, req.Reason)
		})
}

// ExtendDeadline handles POST /api/assignments/{id}/deadline.
func (h *AssignmentHandler) ExtendDeadline(w http.ResponseWriter, r *http.Request) {
	var req ExtendDeadlineRequest
	h.transition(w, r, "extend deadline", &req,
		func(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error) {
			return h.assignments.ExtendDeadline(ctx, id, actor, req.Deadline, req.Reason)
		})
}

// transition runs one lifecycle operation. When body is non-nil the request
// body is decoded into it first; an empty body leaves it zero-valued.
func (h *AssignmentHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	body any,
	fn func(ctx context.Context, id, actor uuid.UUID) (*domain.Assignment, error),
) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	actorID, id, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	if body != nil && r.ContentLength != 0 {
		if !decodeAndValidate(w, r, body) {
			return
		}
	} else if body != nil {
		if err := shared.ValidateRequest(body); err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
	}

	a, err := fn(r.Context(), id, actorID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to "+op+" assignment")
		return
	}

	log.Debug("assignment transition applied",
		slog.String("operation", op),
		slog.String("assignment_id", id.String()),
		slog.String("status", string(a.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, a)
}

// loadParticipantAssignment returns the assignment if actor is its learner or
// one of its mentors.
func loadParticipantAssignment(
	ctx context.Context,
	assignments assignment.Service,
	id, actor uuid.UUID,
) (*domain.Assignment, error) {
	a, err := assignments.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsLearner(actor) && !a.IsMentor(actor) {
		return nil, domain.ErrForbidden
	}
	return a, nil
}
