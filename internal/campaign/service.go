package campaign

import (
	"context"
	"time"

	"delivery-engine/internal/distribution"
	"delivery-engine/internal/metrics"
	"delivery-engine/pkg/logger"
)

type Repository interface {
	Get(ctx context.Context, id string) (Campaign, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Campaign, error)
	// Advance and Complete apply only while the campaign is active and still due at prev.
	Advance(ctx context.Context, id string, prev, next time.Time) (bool, error)
	Complete(ctx context.Context, id string, prev time.Time) (bool, error)
	RecordDistribution(ctx context.Context, id string, sentAt time.Time) error
}

type Distributor interface {
	Distribute(ctx context.Context, req distribution.Request) (distribution.Report, error)
}

const DefaultBatchSize = 100

type Scheduler struct {
	repo    Repository
	dist    Distributor
	loc     *time.Location
	batch   int
	metrics *metrics.Metrics
}

func NewScheduler(repo Repository, dist Distributor, loc *time.Location, m *metrics.Metrics) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{repo: repo, dist: dist, loc: loc, batch: DefaultBatchSize, metrics: m}
}

type RunResult struct {
	CampaignID     string     `json:"campaign_id"`
	DistributionID string     `json:"distribution_id,omitempty"`
	Outcome        string     `json:"outcome"`
	NextSendAt     *time.Time `json:"next_send_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

const (
	OutcomeAdvanced  = "advanced"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeConflict  = "conflict"
)

type TickReport struct {
	Due  int         `json:"due"`
	Runs []RunResult `json:"runs"`
}

// Tick fires every active campaign due at now. A failed distribution leaves the campaign
// untouched so the next tick picks it up again.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	ctx = logger.Job(ctx, "campaign_tick")
	log := logger.From(ctx)

	due, err := s.repo.ListDue(ctx, now, s.batch)
	if err != nil {
		return TickReport{}, err
	}
	report := TickReport{Due: len(due), Runs: make([]RunResult, 0, len(due))}
	for _, c := range due {
		run := s.fire(ctx, c, now)
		s.metrics.ObserveCampaignRun(run.Outcome)
		report.Runs = append(report.Runs, run)
	}
	log.Info("campaign tick complete", "due", len(due))
	return report, nil
}

func (s *Scheduler) fire(ctx context.Context, c Campaign, now time.Time) RunResult {
	log := logger.From(ctx).With("campaign_id", c.ID)
	run := RunResult{CampaignID: c.ID}

	if c.NextSendAt == nil {
		run.Outcome = OutcomeFailed
		run.Error = "campaign has no next_send_at"
		return run
	}
	prev := *c.NextSendAt

	// An invalid schedule is rejected before anything is sent.
	var next time.Time
	if c.ScheduleType == ScheduleRecurring {
		n, err := NextSendAt(now, c.Interval, c.Unit, c.TimeOfDay, s.loc)
		if err != nil {
			log.Error("campaign schedule invalid", "err", err)
			run.Outcome = OutcomeFailed
			run.Error = err.Error()
			return run
		}
		next = n
	}

	rep, err := s.dist.Distribute(logger.With(ctx, log), distribution.Request{
		CampaignID:   c.ID,
		PopulationID: c.PopulationID,
		Subject:      c.Subject,
		Body:         c.Body,
		Channels:     c.Channels,
	})
	run.DistributionID = rep.Distribution.ID
	if err != nil {
		log.Warn("campaign distribution failed, will retry next tick", "err", err)
		run.Outcome = OutcomeFailed
		run.Error = err.Error()
		return run
	}

	var ok bool
	if c.ScheduleType == ScheduleRecurring {
		ok, err = s.repo.Advance(ctx, c.ID, prev, next)
		run.Outcome = OutcomeAdvanced
		run.NextSendAt = &next
	} else {
		ok, err = s.repo.Complete(ctx, c.ID, prev)
		run.Outcome = OutcomeCompleted
	}
	if err != nil {
		log.Error("campaign schedule update failed", "err", err)
		run.Outcome = OutcomeFailed
		run.Error = err.Error()
		return run
	}
	if !ok {
		log.Warn("campaign advanced concurrently", "prev_next_send_at", prev)
		run.Outcome = OutcomeConflict
		run.NextSendAt = nil
		return run
	}
	log.Info("campaign fired", "distribution_id", rep.Distribution.ID, "outcome", run.Outcome)
	return run
}
