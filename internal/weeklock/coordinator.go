package weeklock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-engine/internal/messaging"
	"delivery-engine/internal/metrics"
	"delivery-engine/internal/reporting"
	"delivery-engine/pkg/logger"
)

type Repository interface {
	Get(ctx context.Context, weekStart time.Time) (LockRecord, error)
	MarkLocked(ctx context.Context, weekStart, lockedAt, graceEndsAt time.Time) error
	ClaimEmail(ctx context.Context, weekStart time.Time, kind EmailKind) (bool, error)
	EndGrace(ctx context.Context, weekStart time.Time) (bool, error)
}

// Aggregator computes the weekly figures. reporting.Service implements it.
type Aggregator interface {
	LockWeek(ctx context.Context, weekStart time.Time) (reporting.WeeklyDigest, error)
	EndGracePeriod(ctx context.Context, weekStart time.Time) (reporting.WeeklyDigest, error)
}

// Mailer records and sends one email. messaging.Tracker implements it.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, html string) (messaging.Message, error)
}

type Config struct {
	Location     *time.Location
	GracePeriod  time.Duration
	Recipients   []string
	EmailEnabled bool
}

type Coordinator struct {
	repo    Repository
	agg     Aggregator
	mailer  Mailer
	cfg     Config
	render  *renderer
	metrics *metrics.Metrics
}

func NewCoordinator(repo Repository, agg Aggregator, mailer Mailer, cfg Config, m *metrics.Metrics) (*Coordinator, error) {
	if repo == nil || agg == nil {
		return nil, errors.New("weeklock: repository and aggregator required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	r, err := newRenderer()
	if err != nil {
		return nil, err
	}
	return &Coordinator{repo: repo, agg: agg, mailer: mailer, cfg: cfg, render: r, metrics: m}, nil
}

func (c *Coordinator) currentWeek(now time.Time) time.Time {
	return WeekStart(now, c.cfg.Location)
}

func (c *Coordinator) previousWeek(now time.Time) time.Time {
	return c.currentWeek(now).AddDate(0, 0, -7)
}

// record returns the week's row, or a zero row when none exists yet.
func (c *Coordinator) record(ctx context.Context, week time.Time) (LockRecord, error) {
	rec, err := c.repo.Get(ctx, week)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LockRecord{WeekStart: week}, nil
		}
		return LockRecord{}, fmt.Errorf("weeklock: load week %s: %w", weekKey(week), err)
	}
	return rec, nil
}

func (c *Coordinator) finish(res Result, err error) (Result, error) {
	c.metrics.ObserveWeeklyTrigger(string(res.Trigger), string(res.Outcome))
	return res, err
}

// SendReminder emails the configured recipients that the current week is about to lock.
func (c *Coordinator) SendReminder(ctx context.Context, now time.Time) (Result, error) {
	week := c.currentWeek(now)
	res := Result{Trigger: TriggerReminder, WeekStart: weekKey(week)}
	ctx = logger.With(ctx, logger.From(ctx).With("trigger", res.Trigger, "week_start", res.WeekStart))

	rec, err := c.record(ctx, week)
	if err != nil {
		res.Outcome = OutcomeFailed
		return c.finish(res, err)
	}
	if rec.ReminderEmailSent {
		res.Outcome = OutcomeSkipped
		return c.finish(res, nil)
	}

	subject, body, err := c.render.renderReminder(week, c.cfg.GracePeriod)
	if err != nil {
		res.Outcome = OutcomeFailed
		return c.finish(res, err)
	}
	return c.finish(c.claimAndSend(ctx, res, week, EmailReminder, subject, body))
}

// LockAndSummarize locks the previous week, opens its grace period and emails the summary.
// A failed aggregation leaves the week unlocked and the flag unset so the next trigger retries.
func (c *Coordinator) LockAndSummarize(ctx context.Context, now time.Time) (Result, error) {
	week := c.previousWeek(now)
	res := Result{Trigger: TriggerLock, WeekStart: weekKey(week)}
	ctx = logger.With(ctx, logger.From(ctx).With("trigger", res.Trigger, "week_start", res.WeekStart))

	rec, err := c.record(ctx, week)
	if err != nil {
		res.Outcome = OutcomeFailed
		return c.finish(res, err)
	}
	if rec.SummaryEmailSent {
		res.Outcome = OutcomeSkipped
		return c.finish(res, nil)
	}

	digest, err := c.agg.LockWeek(ctx, week)
	if err != nil {
		res.Outcome = OutcomeFailed
		return c.finish(res, fmt.Errorf("weeklock: lock week: %w", err))
	}
	res.Digest = &digest

	graceEnds := now.Add(c.cfg.GracePeriod)
	if err := c.repo.MarkLocked(ctx, week, now, graceEnds); err != nil {
		res.Outcome = OutcomeFailed
		return c.finish(res, fmt.Errorf("weeklock: mark locked: %w", err))
	}

	subject, body, err := c.render.renderSummary(week, digest, graceEnds.In(c.cfg.Location))
	if err != nil {
		res.Outcome = OutcomeFailed
		return c.finish(res, err)
	}
	return c.finish(c.claimAndSend(ctx, res, week, EmailSummary, subject, body))
}

// EndGrace closes the previous week's grace period once it has elapsed and finalizes the
// week's figures. Anything else is a no-op.
func (c *Coordinator) EndGrace(ctx context.Context, now time.Time) (Result, error) {
	week := c.previousWeek(now)
	res := Result{Trigger: TriggerEndGrace, WeekStart: weekKey(week), Outcome: OutcomeNoop}
	log := logger.From(ctx).With("trigger", res.Trigger, "week_start", res.WeekStart)
	ctx = logger.With(ctx, log)

	rec, err := c.repo.Get(ctx, week)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.finish(res, nil)
		}
		res.Outcome = OutcomeFailed
		return c.finish(res, fmt.Errorf("weeklock: load week %s: %w", res.WeekStart, err))
	}
	if !rec.InGracePeriod || rec.GracePeriodEndsAt == nil || now.Before(*rec.GracePeriodEndsAt) {
		return c.finish(res, nil)
	}

	digest, err := c.agg.EndGracePeriod(ctx, week)
	if err != nil {
		res.Outcome = OutcomeFailed
		return c.finish(res, fmt.Errorf("weeklock: end grace period: %w", err))
	}
	res.Digest = &digest

	ended, err := c.repo.EndGrace(ctx, week)
	if err != nil {
		res.Outcome = OutcomeFailed
		return c.finish(res, fmt.Errorf("weeklock: clear grace flag: %w", err))
	}
	if ended {
		res.Outcome = OutcomeEnded
		log.Info("grace period ended")
	}
	return c.finish(res, nil)
}

// claimAndSend sets the email flag and, if this caller set it, sends to every recipient.
// Send failures are logged; the flag stays set.
func (c *Coordinator) claimAndSend(ctx context.Context, res Result, week time.Time, kind EmailKind, subject, body string) (Result, error) {
	log := logger.From(ctx)

	claimed, err := c.repo.ClaimEmail(ctx, week, kind)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("weeklock: claim %s email: %w", kind, err)
	}
	if !claimed {
		res.Outcome = OutcomeSkipped
		return res, nil
	}
	if !c.cfg.EmailEnabled || c.mailer == nil {
		log.Info("email disabled, weekly email not sent", "kind", kind)
		res.Outcome = OutcomeEmailDisabled
		return res, nil
	}
	if len(c.cfg.Recipients) == 0 {
		log.Warn("no report recipients configured", "kind", kind)
		res.Outcome = OutcomeNoRecipients
		return res, nil
	}

	for _, to := range c.cfg.Recipients {
		if _, err := c.mailer.SendEmail(ctx, to, subject, body); err != nil {
			res.Failed++
			log.Error("weekly email failed", "kind", kind, "to", logger.RedactEmail(to), "error", err)
			continue
		}
		res.Sent++
	}
	res.Outcome = OutcomeSent
	if res.Sent == 0 {
		res.Outcome = OutcomeSendFailed
	}
	return res, nil
}
