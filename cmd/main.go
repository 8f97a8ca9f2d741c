// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
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

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/gift-exchange/internal/config"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/database"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/handler"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/log"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/notify"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/repository"
	"github.com/Shivanand-hulikatti/gift-exchange/internal/service"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "gift-exchange",
	Short:   "Yearly gift-exchange coordinator",
	Long:    `gift-exchange tracks who takes part in this year's exchange and draws names
so that nobody gets themselves or someone they had in the last few years.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("gift-exchange version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	serveCmd.Flags().Bool("migrate", true, "apply the schema before serving")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	log.Init(cfg.Log)
	return cfg, nil
}

// openStore connects to the configured backend, optionally migrating it.
func openStore(ctx context.Context, cfg database.Config, migrate bool) (repository.Store, error) {
	switch cfg.Driver {
	case database.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.MigrateSQLite(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
		}
		return repository.NewSQLiteStore(db), nil
	default:
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.MigratePostgres(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return repository.NewPostgresStore(pool), nil
	}
}

// newNotifier connects to NATS when a URL is configured and falls back to
// logging notifications otherwise. The returned func releases the connection.
func newNotifier(cfg config.NotifyConfig) (notify.Notifier, func(), error) {
	if cfg.NATSURL == "" {
		return notify.LogNotifier{}, func() {}, nil
	}

	logger := log.WithComponent("notify")
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("gift-exchange"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return notify.NewNATSNotifier(conn, cfg.Subject), func() { _ = conn.Drain() }, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cfg.Database, true)
	if err != nil {
		return err
	}
	store.Close()

	logger := log.WithComponent("main")
	logger.Info().Str("driver", cfg.Database.Driver).Msg("schema is up to date")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("main")
	ctx := cmd.Context()

	// ── 1. Connect to the event store ─────────────────────────────────────
	migrate, _ := cmd.Flags().GetBool("migrate")
	store, err := openStore(ctx, cfg.Database, migrate)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to event store")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	notifier, closeNotifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return err
	}
	defer closeNotifier()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	svc := service.NewEventService(store, notifier, service.Config{
		AdminID:           cfg.AdminID,
		Location:          loc,
		Solver:            cfg.Solver,
		DrawTimeout:       cfg.Draw.Timeout,
		NotifyConcurrency: cfg.Notify.Concurrency,
	})
	router := handler.NewRouter(handler.NewEventHandler(svc))

	// ── 3. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Draw.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
