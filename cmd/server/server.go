package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/learnflow/internal/redact"
	"golang.org/x/sync/errgroup"
)

// serve listens on the configured port until ctx is cancelled.
func (app *application) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return app.serveListener(ctx, ln)
}

// serveListener runs the HTTP server and the job scheduler until ctx is
// cancelled or either fails, then shuts both down within the configured
// shutdown timeout.
func (app *application) serveListener(ctx context.Context, ln net.Listener) error {
	cfg := app.config.Server
	server := &http.Server{
		Handler:           app.router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("server failed", redact.Attr(err))
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	app.scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
		if err := app.scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown failed: %w", err))
		}
		if err := errors.Join(errs...); err != nil {
			return err
		}
		app.logger.Info("server shutdown completed")
		return nil
	})

	return g.Wait()
}
