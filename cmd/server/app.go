package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/learnflow/internal/api"
	"github.com/phrazzld/learnflow/internal/config"
	"github.com/phrazzld/learnflow/internal/domain"
	"github.com/phrazzld/learnflow/internal/domain/calendar"
	"github.com/phrazzld/learnflow/internal/events"
	"github.com/phrazzld/learnflow/internal/metrics"
	"github.com/phrazzld/learnflow/internal/platform/memory"
	"github.com/phrazzld/learnflow/internal/platform/postgres"
	redislock "github.com/phrazzld/learnflow/internal/platform/redis"
	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/phrazzld/learnflow/internal/service/assignment"
	"github.com/phrazzld/learnflow/internal/service/auth"
	"github.com/phrazzld/learnflow/internal/service/progress"
	"github.com/phrazzld/learnflow/internal/service/snapshot"
	"github.com/phrazzld/learnflow/internal/store"
	"github.com/phrazzld/learnflow/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// overdueJobTimeout bounds one run of the overdue recomputation.
const overdueJobTimeout = 5 * time.Minute

// application holds the wired services and the connections they own.
type application struct {
	config *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client

	metrics     *metrics.Metrics
	emitter     *events.InMemoryEventEmitter
	jwt         auth.JWTService
	snapshots   snapshot.Engine
	assignments assignment.Service
	progress    progress.Engine
	scheduler   *task.Scheduler
}

// storeSet is the persistence the engines are built on.
type storeSet struct {
	templates   store.TemplateReader
	snapshots   store.SnapshotStore
	progress    store.ProgressStore
	assignments store.AssignmentStore
	tx          store.Transactor
	locker      store.Locker
}

// newApplication connects to the backing services and wires the engines.
// The caller must call cleanup when done.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts *rootOptions) (*application, error) {
	if opts == nil {
		opts = &rootOptions{}
	}
	app := &application{config: cfg, logger: logger}

	stores, err := app.openStores(ctx, opts)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	cal := calendar.Default()
	if cfg.Calendar.File != "" {
		if cal, err = calendar.LoadFile(cfg.Calendar.File); err != nil {
			app.cleanup()
			return nil, fmt.Errorf("failed to load calendar: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(registry)

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(events.NewLogHandler(logger))
	app.emitter.RegisterHandler(app.metrics)

	if app.jwt, err = auth.NewJWTService(cfg.Auth); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	clock := domain.SystemClock{}
	if err := app.wireEngines(stores, cal, clock); err != nil {
		app.cleanup()
		return nil, err
	}

	app.scheduler = task.NewScheduler(logger)
	if cfg.Jobs.OverdueSchedule != "" {
		job := task.NewOverdueJob(app.assignments, overdueJobTimeout, logger)
		if err := app.scheduler.Register(cfg.Jobs.OverdueSchedule, job); err != nil {
			app.cleanup()
			return nil, err
		}
	}
	return app, nil
}

func (app *application) openStores(ctx context.Context, opts *rootOptions) (*storeSet, error) {
	cfg := app.config

	if opts.inMemory {
		templates := memory.NewTemplateStore()
		if opts.templatesFile != "" {
			loaded, err := templates.LoadFile(opts.templatesFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load templates: %w", err)
			}
			app.logger.Info("templates loaded", slog.Int("count", len(loaded)))
		}
		app.logger.Warn("using in-memory stores; data is lost on exit")
		return &storeSet{
			templates:   templates,
			snapshots:   memory.NewSnapshotStore(),
			progress:    memory.NewProgressStore(),
			assignments: memory.NewAssignmentStore(),
			tx:          &memory.Transactor{},
			locker:      memory.NewKeyedLocker(),
		}, nil
	}
	if opts.templatesFile != "" {
		app.logger.Warn("--templates is ignored outside in-memory mode")
	}

	db, err := postgres.Open(ctx, cfg.Database, app.logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	set := &storeSet{
		templates:   postgres.NewPostgresTemplateStore(db, app.logger),
		snapshots:   postgres.NewPostgresSnapshotStore(db, app.logger),
		progress:    postgres.NewPostgresProgressStore(db, app.logger),
		assignments: postgres.NewPostgresAssignmentStore(db, app.logger),
		tx:          store.SQLTransactor{DB: db},
		locker:      memory.NewKeyedLocker(),
	}

	if cfg.Redis.Addr != "" {
		client, err := redislock.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redis = client
		set.locker = redislock.NewLocker(client, cfg.Redis.LockTTL,
			cfg.Progress.LockTimeout, cfg.Progress.LockRetryDelay, app.logger)
	} else {
		app.logger.Warn("redis not configured; progress locks are local to this instance")
	}
	return set, nil
}

func (app *application) wireEngines(s *storeSet, cal *calendar.BusinessCalendar, clock domain.Clock) error {
	var err error
	app.snapshots, err = snapshot.NewEngine(s.templates, s.snapshots, s.tx, app.emitter,
		app.metrics, clock, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create snapshot engine: %w", err)
	}

	app.assignments, err = assignment.NewService(s.assignments, s.tx, app.snapshots, cal, app.emitter, clock,
		assignment.Options{
			DefaultDeadlineBusinessDays: app.config.Lifecycle.DefaultDeadlineBusinessDays,
			MaxConflictRetries:          app.config.Lifecycle.MaxConflictRetries,
		}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create assignment service: %w", err)
	}

	app.progress, err = progress.NewEngine(progress.Dependencies{
		Assignments: s.assignments,
		Trees:       app.snapshots,
		Progress:    s.progress,
		Tx:          s.tx,
		Locker:      s.locker,
		Gateway:     app.assignments,
		Emitter:     app.emitter,
		Observer:    app.metrics,
		Clock:       clock,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create progress engine: %w", err)
	}
	return nil
}

// router builds the HTTP handler.
func (app *application) router() http.Handler {
	return api.NewRouter(api.RouterDeps{
		JWT:         app.jwt,
		Snapshots:   app.snapshots,
		Progress:    app.progress,
		Assignments: app.assignments,
		Metrics:     app.metrics.Handler(),
		HealthCheck: app.healthCheck,
		Logger:      app.logger,
	})
}

func (app *application) healthCheck(ctx context.Context) error {
	var errs []error
	if app.db != nil {
		if err := app.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// cleanup releases the connections the application opened.
func (app *application) cleanup() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis client", redact.Attr(err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", redact.Attr(err))
		}
	}
}
