package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/learnflow/internal/api/middleware"
	"github.com/phrazzld/learnflow/internal/api/shared"
	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/phrazzld/learnflow/internal/service/assignment"
	"github.com/phrazzld/learnflow/internal/service/auth"
	"github.com/phrazzld/learnflow/internal/service/progress"
	"github.com/phrazzld/learnflow/internal/service/snapshot"
)

// RouterDeps are the services served over HTTP.
type RouterDeps struct {
	JWT         auth.JWTService
	Snapshots   snapshot.Engine
	Progress    progress.Engine
	Assignments assignment.Service

	// Metrics serves /metrics when set.
	Metrics http.Handler
	// HealthCheck is consulted by /health when set, e.g. a database ping.
	HealthCheck func(ctx context.Context) error

	Logger *slog.Logger
}

// NewRouter creates the application router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(log))

	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.JWT)
	assignmentHandler := NewAssignmentHandler(deps.Assignments, log)
	progressHandler := NewProgressHandler(deps.Progress, deps.Assignments, log)
	snapshotHandler := NewSnapshotHandler(deps.Snapshots, log)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/snapshots", snapshotHandler.CreateSnapshot)
		r.Get("/snapshots/{id}", snapshotHandler.GetSnapshot)

		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", assignmentHandler.CreateAssignment)
			r.Get("/", assignmentHandler.ListAssignments)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", assignmentHandler.GetAssignment)
				r.Post("/start", assignmentHandler.Start)
				r.Post("/pause", assignmentHandler.Pause)
				r.Post("/resume", assignmentHandler.Resume)
				r.Post("/complete", assignmentHandler.Complete)
				r.Post("/cancel", assignmentHandler.Cancel)
				r.Post("/deadline", assignmentHandler.ExtendDeadline)

				r.Get("/progress", progressHandler.GetSummary)
				r.Post("/components/{componentID}/progress", progressHandler.UpdateComponent)
				r.Post("/components/{componentID}/reset", progressHandler.ResetComponent)
			})
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.HealthCheck(ctx); err != nil {
				log.Warn("health check failed", redact.Attr(err))
				shared.RespondWithError(w, r, http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error("failed to write health check response", redact.Attr(err))
		}
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}
