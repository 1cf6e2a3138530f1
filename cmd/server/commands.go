package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/qa-engine/api"
	"github.com/warp/qa-engine/config"
	"github.com/warp/qa-engine/fixtures"
	"github.com/warp/qa-engine/jobs"
	"github.com/warp/qa-engine/qa"
	"github.com/warp/qa-engine/reputation"
	"github.com/warp/qa-engine/sanitize"
	"github.com/warp/qa-engine/store/sqlstore"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DSN    string
	Driver string

	cfg *config.Config
}

// NewRootCommand creates the root command. Without a subcommand it serves.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "qa-server",
		Short:         "Q&A backend with consistent acceptance and reputation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if opts.Driver != "" {
				cfg.DBDriver = opts.Driver
			}
			if opts.DSN != "" {
				cfg.DBDSN = opts.DSN
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cfg.ConfigureLogging()
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DSN, "db", "", "database DSN or sqlite path")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver (sqlite3|pgx)")

	serve := NewServeCommand(opts)
	cmd.RunE = serve.RunE
	cmd.Flags().AddFlagSet(serve.Flags())

	cmd.AddCommand(serve)
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, cfg.DBDriver, cfg.DSN(), cfg.StoreOptions())
}

func newService(store *sqlstore.Store, cfg *config.Config) *qa.Service {
	return qa.NewService(store, qa.Config{
		Policy:         cfg.Policy(),
		Sanitizer:      sanitize.New(),
		TxMaxAttempts:  cfg.TxMaxAttempts,
		TxRetryBackoff: cfg.TxRetryBackoff,
		EditWindow:     cfg.EditWindow,
	})
}

// =============================================================================
// SERVE
// =============================================================================

// NewServeCommand runs the HTTP API until SIGINT/SIGTERM.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if port != 0 {
				cfg.HTTPPort = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from QA_HTTP_PORT)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	svc := newService(store, cfg)

	var scheduler *jobs.Scheduler
	if cfg.AuditEnabled {
		scheduler, err = jobs.NewScheduler(reputation.NewAuditor(store, svc.Policy()), cfg.AuditSchedule)
		if err != nil {
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	handler := api.NewHandler(svc, store.DB(), scheduler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"port": cfg.HTTPPort, "driver": cfg.DBDriver}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

// =============================================================================
// MIGRATE
// =============================================================================

// NewMigrateCommand applies pending migrations.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			versions, err := store.AppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied migrations: %v\n", versions)
			return nil
		},
	}
}

// =============================================================================
// SEED
// =============================================================================

// NewSeedCommand loads fixtures through the workflows.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load YAML fixtures (embedded demo data when --file is empty)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				f   *fixtures.File
				err error
			)
			if file == "" {
				f, err = fixtures.Demo()
			} else {
				f, err = fixtures.Load(file)
			}
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := f.Apply(cmd.Context(), newService(store, opts.cfg))
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d tags, %d posts, %d answers\n",
				len(res.Users), len(res.Tags), len(res.Posts), len(res.Answers))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file (YAML)")
	return cmd
}

// =============================================================================
// AUDIT
// =============================================================================

// ErrDrift is returned by the audit command when any user drifted.
var ErrDrift = errors.New("reputation drift detected")

// NewAuditCommand replays the reputation history once.
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Replay reputation history and report drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := reputation.NewAuditor(store, opts.cfg.Policy()).Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d users, %d drifted\n", report.Checked, len(report.Drifts))
			for _, d := range report.Drifts {
				fmt.Fprintf(out, "  %s stored=%d replayed=%d entries=%d\n", d.UserID, d.Stored, d.Replayed, d.Entries)
			}
			if !report.Consistent() {
				return ErrDrift
			}
			return nil
		},
	}
}
