package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/learnflow/internal/api/shared"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/service/auth"
	"github.com/phrazzld/learnflow/internal/service/snapshot"
)

// SnapshotHandler handles flow snapshot requests.
type SnapshotHandler struct {
	engine snapshot.Engine
	logger *slog.Logger
}

// NewSnapshotHandler creates a new SnapshotHandler.
func NewSnapshotHandler(engine snapshot.Engine, logger *slog.Logger) *SnapshotHandler {
	if engine == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("snapshot engine cannot be nil for SnapshotHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SnapshotHandler")
	}
	return &SnapshotHandler{
		engine: engine,
		logger: logger.With(slog.String("component", "snapshot_handler")),
	}
}

// CreateSnapshot handles POST /api/snapshots.
func (h *SnapshotHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actorID, ok := getActorIDFromContext(r)
	if !ok {
		HandleAPIError(w, r, auth.ErrMissingToken, "")
		return
	}

	var req CreateSnapshotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.engine.CreateFlowSnapshot(r.Context(), req.TemplateID, snapshot.CreateOptions{
		CreatedBy: actorID,
		Context:   req.Context,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create snapshot")
		return
	}

	log.Info("flow snapshot created",
		slog.String("flow_snapshot_id", result.Tree.Flow.ID.String()),
		slog.Int("components", result.Stats.TotalComponents),
		slog.Int("warnings", len(result.Warnings)))
	w.Header().Set("Location", "/api/snapshots/"+result.Tree.Flow.ID.String())
	shared.RespondWithJSON(w, r, http.StatusCreated, SnapshotResponse{
		Tree:     result.Tree,
		Stats:    result.Stats,
		Warnings: result.Warnings,
	})
}

// GetSnapshot handles GET /api/snapshots/{id}.
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	_, id, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	tree, err := h.engine.GetSnapshotTree(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get snapshot")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, tree)
}
