package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"stem-splitter/api/rest/handlers"
	"stem-splitter/api/rest/routes"
	"stem-splitter/config"
	"stem-splitter/core/models"
	"stem-splitter/core/monitoring"
	"stem-splitter/core/orchestrator"
	"stem-splitter/core/repository"
	"stem-splitter/core/scheduler"
	"stem-splitter/core/workspace"
	"stem-splitter/storage"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	workspaces, err := workspace.NewManager(cfg.Workspace.Root, logger)
	if err != nil {
		return err
	}

	// Optional persistent event log
	var sink monitoring.EventSink
	var eventReader handlers.EventReader
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		eventRepo := repository.NewEventRepository(db)
		sink = eventRepo
		eventReader = eventRepo
		logger.Info("database connected, job events are persisted")
	}

	tracker := monitoring.NewJobTracker(sink, monitoring.DefaultRetention, logger)

	// Background jobs outlive the request and are drained on shutdown, so
	// they do not inherit the signal context.
	sched := scheduler.NewScheduler(cfg.Scheduler.Workers, logger)
	sched.Start(context.Background())

	email, emailErr := newEmailStrategy(ctx, cfg.Mail)
	if emailErr != nil {
		logger.Warn("email delivery disabled", zap.Error(emailErr))
	} else {
		logger.Info("email delivery enabled", zap.String("backend", cfg.Mail.Backend))
	}

	defaultVariant, err := models.ParseModelVariant(cfg.Separation.DefaultVariant, models.VariantGeneral)
	if err != nil {
		return err
	}

	orch := orchestrator.New(
		workspaces,
		newSeparationInvoker(cfg.Separation, logger),
		storage.NewArchivePackager(logger),
		tracker,
		sched,
		email,
		emailErr,
		orchestrator.Options{
			DefaultVariant:          defaultVariant,
			NotifyOnDeliveryFailure: cfg.Scheduler.NotifyOnDeliveryFailure,
		},
		logger,
	)

	docs, err := handlers.NewDocsHandler()
	if err != nil {
		return err
	}

	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Handlers{
		Separation: handlers.NewSeparationHandler(orch, cfg.Server.MaxUploadBytes, logger),
		Jobs:       handlers.NewJobHandler(tracker, eventReader, logger),
		Dashboard: handlers.NewDashboardHandler(
			tracker,
			monitoring.NewMetricsExporter(tracker, workspaces),
			workspaces,
			orch.MailAvailable,
		),
		Docs: docs,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			sched.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("waiting for background jobs", zap.Int("pending", sched.Pending()))
	sched.Stop()
	logger.Info("server exited")
	return nil
}
