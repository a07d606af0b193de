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
	"delivery-engine/internal/dispatch"
	"delivery-engine/internal/metrics"
	"delivery-engine/internal/telephony"
	"delivery-engine/pkg/logger"
	"delivery-engine/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real deployments inject the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env load failed", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	sms := smsGateway(cfg, log)
	email, err := emailGateway(rootCtx, cfg)
	if err != nil {
		log.Error("email gateway init failed", "provider", cfg.Email.Provider, "err", err)
		os.Exit(1)
	}
	log.Info("gateways ready", "sms_live", cfg.Twilio.Enabled(), "email_provider", cfg.Email.Provider, "email_enabled", cfg.EmailEnabled())

	dispatcher := dispatch.New(sms, email, dispatch.Config{
		SMSFrom:           cfg.Twilio.FromNumber,
		StatusCallbackURL: cfg.StatusCallbackURL(),
		EmailFrom:         cfg.Email.From,
		EmailFromName:     cfg.Email.FromName,
		SMSPerSecond:      cfg.Delivery.SMSPerSecond,
		SMSBurst:          cfg.Delivery.SMSBurst,
	}, m)

	svc, err := buildApp(cfg, db, rdb, dispatcher, m)
	if err != nil {
		log.Error("service wiring failed", "err", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())

	registerRoutes(r, cfg, svc, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func smsGateway(cfg config.Config, log *slog.Logger) dispatch.SMSGateway {
	if !cfg.Twilio.Enabled() {
		log.Warn("twilio credentials missing; sms goes to the log gateway")
		return dispatch.LogGateway{}
	}
	return telephony.NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.BaseURL)
}

func emailGateway(ctx context.Context, cfg config.Config) (dispatch.EmailGateway, error) {
	switch cfg.Email.Provider {
	case config.EmailProviderSendGrid:
		return dispatch.NewSendGridGateway(cfg.Email.SendGridAPIKey)
	case config.EmailProviderSES:
		return dispatch.NewSESGateway(ctx, dispatch.SESConfig{
			Region:           cfg.Email.SESRegion,
			AccessKeyID:      cfg.Email.SESAccessKeyID,
			SecretAccessKey:  cfg.Email.SESSecretAccessKey,
			ConfigurationSet: cfg.Email.SESConfigurationSet,
		})
	default:
		return dispatch.LogGateway{}, nil
	}
}
