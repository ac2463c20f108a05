package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"league-jobs-service/internal/config"
	"league-jobs-service/internal/jobs"
	"league-jobs-service/internal/jobs/handlers"
	"league-jobs-service/internal/repository/postgresql"
	"league-jobs-service/internal/service"
	"league-jobs-service/internal/storage"
	httptransport "league-jobs-service/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("pg: %w", err)
	}
	defer pool.Close()

	if err := postgresql.Migrate(ctx, pool); err != nil {
		return err
	}

	jobRepo := postgresql.NewJobRepository(pool)
	itemRepo := postgresql.NewJobItemRepository(pool)
	objects := storage.NewHTTPClient(cfg.StorageURL, cfg.StorageKey, cfg.ExternalTimeout)

	// Submissions are checked against the types the runner executes, so a
	// typo fails at the API instead of rotting in the queue.
	types := jobs.NewStaticTypes(
		handlers.TypeMatchCards,
		handlers.TypeOfficialNotices,
		handlers.TypeAssignmentsExport,
	)

	jobSvc := service.NewJobService(jobRepo, itemRepo, types, cfg.MaxAttempts)
	handler := httptransport.NewHandler(jobSvc, objects, cfg.SignedURLTTL)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httptransport.Routes(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
