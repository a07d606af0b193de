package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"delivery-engine/internal/config"
	"delivery-engine/internal/rbac"
	"delivery-engine/pkg/logger"

	"github.com/robfig/cron/v3"
)

const schedulerSubject = "scheduler"

// TokenIssuer mints the short-lived bearer token sent with each trigger call.
type TokenIssuer interface {
	Issue(now time.Time, userID, role string, ttl time.Duration) (string, error)
}

type trigger struct {
	name string
	spec string
	path string
}

func triggers(cfg config.SchedulerConfig) []trigger {
	return []trigger{
		{name: "campaign_tick", spec: cfg.CampaignTickSpec, path: "/v1/jobs/campaigns/tick"},
		{name: "weekly_reminder", spec: cfg.ReminderSpec, path: "/v1/jobs/weekly/reminder"},
		{name: "weekly_lock", spec: cfg.LockSpec, path: "/v1/jobs/weekly/lock"},
		{name: "weekly_end_grace", spec: cfg.EndGraceSpec, path: "/v1/jobs/weekly/end-grace"},
	}
}

// runner fires the API's trigger endpoints. It holds no state of its own; every guard against
// double execution lives server-side.
type runner struct {
	baseURL  string
	client   *http.Client
	tokens   TokenIssuer
	tokenTTL time.Duration
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func (r *runner) fire(ctx context.Context, t trigger) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tok, err := r.tokens.Issue(r.now(), schedulerSubject, rbac.RoleScheduler, r.tokenTTL)
	if err != nil {
		return fmt.Errorf("%s: issue token: %w", t.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+t.path, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", t.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", t.name, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: status %d: %s", t.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	r.log.Info("trigger fired", "job", t.name, "status", resp.StatusCode, "result", strings.TrimSpace(string(body)))
	return nil
}

// schedule registers every trigger on c. Overlapping runs of the same trigger are skipped.
func (r *runner) schedule(c *cron.Cron, ts []trigger) error {
	for _, t := range ts {
		job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{r.log})).Then(cron.FuncJob(func() {
			ctx := logger.Job(logger.With(context.Background(), r.log), t.name)
			if err := r.fire(ctx, t); err != nil {
				r.log.Error("trigger failed", "job", t.name, "err", err)
			}
		}))
		if _, err := c.AddJob(t.spec, job); err != nil {
			return fmt.Errorf("%s: bad schedule %q: %w", t.name, t.spec, err)
		}
		r.log.Info("trigger scheduled", "job", t.name, "spec", t.spec)
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
