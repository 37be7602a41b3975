package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/learnflow/internal/config"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/platform/postgres"
	"github.com/phrazzld/learnflow/internal/service/auth"
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	inMemory      bool
	templatesFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "learnflow",
		Short: "Snapshot-based learning flow service",
		Long: `learnflow assigns frozen snapshots of learning flows to learners,
tracks their progress through steps and components, and manages assignment
deadlines on a business-day calendar.

Configuration is read from learnflow.yaml and LEARNFLOW_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&opts.inMemory, "in-memory", false,
		"use in-process stores and locks instead of PostgreSQL and Redis")
	root.PersistentFlags().StringVar(&opts.templatesFile, "templates", "",
		"YAML file of flow templates to load (in-memory mode only)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(),
		newRecomputeOverdueCmd(opts),
		newTokenCmd(),
	)
	return root
}

// bootstrap loads the configuration and installs the logger. Logs go to the
// command's error stream so stdout stays clean for command output.
func bootstrap(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.SetupWithWriter(cfg.Server, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, log, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}
			defer app.cleanup()

			if app.db != nil && (migrate || cfg.Database.MigrateOnStart) {
				if err := postgres.Migrate(cmd.Context(), app.db, postgres.MigrateUp, log); err != nil {
					return fmt.Errorf("failed to apply migrations: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate {up|down|status|version}",
		Short:     "Manage the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus, postgres.MigrateVersion},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			db, err := postgres.Open(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return postgres.Migrate(cmd.Context(), db, args[0], log)
		},
	}
}

func newRecomputeOverdueCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute-overdue",
		Short: "Refresh the overdue flag of every assignment once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}
			defer app.cleanup()

			changed, err := app.assignments.RecomputeOverdueFlags(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d assignments changed\n", changed)
			return err
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		actor    string
		lifetime time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for an actor, for development and testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actorID, err := uuid.Parse(actor)
			if err != nil || actorID == uuid.Nil {
				return fmt.Errorf("--actor must be a non-nil UUID: %q", actor)
			}
			cfg, _, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			svc, err := auth.NewJWTService(cfg.Auth)
			if err != nil {
				return err
			}

			var token string
			if lifetime > 0 {
				token, err = svc.GenerateTokenWithLifetime(cmd.Context(), actorID, lifetime)
			} else {
				token, err = svc.GenerateToken(cmd.Context(), actorID)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor UUID to use as the token subject")
	cmd.Flags().DurationVar(&lifetime, "lifetime", 0, "token lifetime (defaults to the configured lifetime)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
