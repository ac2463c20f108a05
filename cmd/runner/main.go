package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"league-jobs-service/internal/config"
	"league-jobs-service/internal/jobs"
	"league-jobs-service/internal/jobs/handlers"
	"league-jobs-service/internal/mail"
	"league-jobs-service/internal/pdf"
	"league-jobs-service/internal/repository/postgresql"
	"league-jobs-service/internal/respool"
	"league-jobs-service/internal/service"
	"league-jobs-service/internal/storage"
	"league-jobs-service/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("runner error", "error", err)
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

	var notifier jobs.Notifier
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
		notifier = service.NewRedisFeed(rdb)
	}

	jobRepo := postgresql.NewJobRepository(pool)
	itemRepo := postgresql.NewJobItemRepository(pool)

	resources, err := respool.New(map[string]int64{
		respool.ClassPDFGeneration: cfg.PDFConcurrency,
		respool.ClassEmailSending:  cfg.EmailConcurrency,
		respool.ClassNetwork:       cfg.NetworkConcurrency,
	})
	if err != nil {
		return err
	}

	generator := pdf.NewHTTPGenerator(cfg.PDFServiceURL, cfg.PDFServiceKey, cfg.ExternalTimeout)
	merger := pdf.NewPDFCPUMerger()
	sender := mail.NewHTTPSender(cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.EmailFrom, cfg.ExternalTimeout)
	objects := storage.NewHTTPClient(cfg.StorageURL, cfg.StorageKey, cfg.ExternalTimeout)

	registry := jobs.NewRegistry()
	for _, h := range []jobs.Handler{
		handlers.NewMatchCardsHandler(generator, merger, objects, resources, log),
		handlers.NewNoticesHandler(sender, itemRepo, resources, log),
		handlers.NewExportHandler(objects, log),
	} {
		if err := registry.Register(h); err != nil {
			return err
		}
	}

	runner := worker.NewRunner(jobRepo, registry, notifier, log, worker.Config{
		Workers:    cfg.Workers,
		ClaimBatch: cfg.ClaimBatch,
		StaleAfter: cfg.StaleAfter,
	})

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err = c.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), func() {
		n, err := runner.RunOnce(ctx)
		if err != nil {
			log.Error("runner tick failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("runner tick", "processed", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	// Janitor: fail exhausted stale jobs and trim terminal ones past the
	// retention window.
	_, err = c.AddFunc("@every 5m", func() {
		if n, err := jobRepo.ReapExhausted(ctx, cfg.StaleAfter); err != nil {
			log.Error("reap exhausted failed", "error", err)
		} else if n > 0 {
			log.Warn("reaped exhausted stale jobs", "count", n)
		}

		cutoff := time.Now().Add(-cfg.RetentionWindow)
		if n, err := jobRepo.DeleteTerminalBefore(ctx, cutoff); err != nil {
			log.Error("retention sweep failed", "error", err)
		} else if n > 0 {
			log.Info("deleted expired terminal jobs", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}

	log.Info("runner started",
		"workers", cfg.Workers, "claim_batch", cfg.ClaimBatch,
		"tick", cfg.TickInterval.String(), "types", registry.Types())

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	log.Info("runner stopped")
	return nil
}
