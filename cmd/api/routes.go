package main

import (
	"database/sql"
	"net/http"
	"time"

	"delivery-engine/internal/audit"
	"delivery-engine/internal/campaign"
	"delivery-engine/internal/compliance"
	"delivery-engine/internal/config"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/dispatch"
	"delivery-engine/internal/distribution"
	"delivery-engine/internal/fanout"
	"delivery-engine/internal/httpapi"
	"delivery-engine/internal/messaging"
	"delivery-engine/internal/metrics"
	"delivery-engine/internal/rbac"
	"delivery-engine/internal/reporting"
	"delivery-engine/internal/telephony"
	"delivery-engine/internal/weeklock"
	"delivery-engine/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// app holds the wired services behind the HTTP surface.
type app struct {
	db       *sql.DB
	handlers httpapi.Handlers
	webhooks telephony.TwilioWebhookHandler
}

func buildApp(cfg config.Config, db *sql.DB, rdb *redis.Client, d *dispatch.Dispatcher, m *metrics.Metrics) (*app, error) {
	people := contacts.NewPostgresRepo(db)
	campaigns := campaign.NewPostgresRepo(db)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	gate := compliance.NewGate(people, auditSvc)

	tracker := messaging.NewTracker(messaging.NewPostgresRepo(db), gate, d, messaging.Identity{
		SMSFrom:   cfg.Twilio.FromNumber,
		EmailFrom: cfg.Email.From,
	}, m)
	inbox := messaging.NewInbox(people, gate, tracker, cfg.Delivery.DefaultRegion, m)

	coordinator := fanout.NewCoordinator(gate, d, cfg.Delivery.FanoutWorkers, m)
	manager := distribution.NewManager(distribution.NewPostgresRepo(db), people, coordinator, d, distribution.Config{
		EmailEnabled:    cfg.EmailEnabled(),
		LinkTTL:         cfg.Delivery.LinkTTL,
		ResponseBaseURL: cfg.Delivery.ResponseBaseURL,
	}).WithCampaignRecorder(campaigns)

	scheduler := campaign.NewScheduler(campaigns, manager, cfg.Schedule.Location, m)

	weekly, err := weeklock.NewCoordinator(weeklock.NewPostgresRepo(db), reporting.NewService(reporting.NewPostgresRepo(db)), tracker, weeklock.Config{
		Location:     cfg.Schedule.Location,
		GracePeriod:  cfg.Schedule.GracePeriod,
		Recipients:   cfg.Schedule.ReportRecipients,
		EmailEnabled: cfg.EmailEnabled(),
	}, m)
	if err != nil {
		return nil, err
	}

	return &app{
		db: db,
		handlers: httpapi.Handlers{
			Distributions: manager,
			Messages:      tracker,
			Contacts:      people,
			Campaigns:     scheduler,
			Weekly:        weekly,
			Audit:         auditSvc,
		},
		webhooks: telephony.TwilioWebhookHandler{
			Inbox:  inbox,
			Status: tracker,
			Replay: telephony.NewRedisReplayGuard(rdb, cfg.Delivery.ReplayTTL),
		},
	}, nil
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, a *app, authMW gin.HandlerFunc) {
	r.Use(httpapi.ClientIP())

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.db, 2*time.Second); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Response links are public; the token is the credential.
	r.GET("/r/:token", a.handlers.ResolveResponseLink)

	// Provider webhooks (public, signed).
	hooks := r.Group("/webhooks/twilio")
	if cfg.Twilio.ValidateSignatures && cfg.Twilio.AuthToken != "" {
		hooks.Use(telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL))
	}
	{
		hooks.POST("/sms", a.webhooks.HandleInboundSMS)
		hooks.POST("/status", a.webhooks.HandleStatusCallback)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		h := a.handlers

		distributions := v1.Group("/distributions")
		{
			distributions.POST("", rbac.Senders(), h.CreateDistribution)
			distributions.GET("/:id", rbac.Readers(), h.GetDistribution)
			distributions.POST("/:id/retry", rbac.Senders(), h.RetryDistribution)
		}

		v1.POST("/messages", rbac.Senders(), h.SendMessage)
		v1.POST("/conversations/:id/read", rbac.Readers(), h.MarkConversationRead)

		// Trigger endpoints called by cmd/scheduler.
		jobs := v1.Group("/jobs")
		jobs.Use(rbac.Jobs())
		{
			jobs.POST("/campaigns/tick", h.TickCampaigns)
			jobs.POST("/weekly/reminder", h.WeeklyReminder)
			jobs.POST("/weekly/lock", h.WeeklyLock)
			jobs.POST("/weekly/end-grace", h.WeeklyEndGrace)
		}
	}
}
