package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delivery-engine/internal/auth"
	"delivery-engine/internal/config"
	"delivery-engine/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env load failed", "err", err)
	}

	cfg, err := config.LoadScheduler()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env).With("component", "scheduler")
	slog.SetDefault(log)

	tokens, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	r := &runner{
		baseURL:  cfg.Scheduler.APIBaseURL,
		client:   &http.Client{Timeout: cfg.Scheduler.RequestTimeout},
		tokens:   tokens,
		tokenTTL: cfg.Auth.SchedulerTokenTTL,
		timeout:  cfg.Scheduler.RequestTimeout,
		log:      log,
		now:      time.Now,
	}

	c := cron.New(cron.WithLocation(cfg.Schedule.Location), cron.WithLogger(cronLogger{log}))
	if err := r.schedule(c, triggers(cfg.Scheduler)); err != nil {
		log.Error("scheduler setup failed", "err", err)
		os.Exit(1)
	}

	c.Start()
	log.Info("scheduler started", "api", cfg.Scheduler.APIBaseURL, "timezone", cfg.Schedule.Timezone)

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	// Wait for in-flight triggers so a lock call is not cut mid-request.
	done := c.Stop()
	select {
	case <-done.Done():
	case <-time.After(30 * time.Second):
		log.Warn("in-flight triggers still running at exit")
	}
}
