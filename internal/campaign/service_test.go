package campaign

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"delivery-engine/internal/compliance"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/dispatch"
	"delivery-engine/internal/distribution"
	"delivery-engine/internal/fanout"
	"delivery-engine/pkg/logger"

	"github.com/DATA-DOG/go-sqlmock"
)

type okGateway struct{ sent int }

func (g *okGateway) SendSMS(ctx context.Context, msg dispatch.SMS) (dispatch.Receipt, error) {
	g.sent++
	return dispatch.Receipt{ProviderMessageID: "SM1", Status: "queued"}, nil
}

type downGateway struct{}

func (downGateway) SendSMS(ctx context.Context, msg dispatch.SMS) (dispatch.Receipt, error) {
	return dispatch.Receipt{}, &dispatch.GatewayError{Provider: "twilio", HTTPStatus: 503, Message: "Service Unavailable"}
}

type failingDistributor struct{ calls int }

func (f *failingDistributor) Distribute(ctx context.Context, req distribution.Request) (distribution.Report, error) {
	f.calls++
	return distribution.Report{}, distribution.ErrAllChannelsFailed
}

func newScheduler(t *testing.T) (*Scheduler, *MemoryRepo, *okGateway) {
	t.Helper()
	people := contacts.NewMemoryRepo()
	people.Put(contacts.Contact{ID: "c1", Phone: "+15125550001", Active: true})
	people.Put(contacts.Contact{ID: "c2", Phone: "+15125550002", Active: true})
	people.AddToPopulation("pop-1", "c1", "c2")

	gw := &okGateway{}
	d := dispatch.New(gw, nil, dispatch.Config{SMSFrom: "+15005550006"}, nil)
	co := fanout.NewCoordinator(compliance.NewGate(people, nil), d, 2, nil)

	repo := NewMemoryRepo()
	mgr := distribution.NewManager(distribution.NewMemoryRepo(), people, co, d, distribution.Config{}).WithCampaignRecorder(repo)
	return NewScheduler(repo, mgr, time.UTC, nil), repo, gw
}

func TestTick_WeeklyCampaignAdvancesFromFiringTime(t *testing.T) {
	s, repo, gw := newScheduler(t)
	due := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	now := due.Add(2 * time.Hour)
	repo.Put(Campaign{
		ID: "camp-1", PopulationID: "pop-1", Body: "weekly check-in",
		Channels:     []contacts.Channel{contacts.ChannelSMS},
		ScheduleType: ScheduleRecurring, Interval: 1, Unit: UnitWeeks,
		NextSendAt: &due, Status: StatusActive, TotalDistributions: 4,
	})

	rep, err := s.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rep.Due != 1 || rep.Runs[0].Outcome != OutcomeAdvanced {
		t.Fatalf("unexpected report %+v", rep)
	}

	c, _ := repo.Get(context.Background(), "camp-1")
	if c.NextSendAt == nil || !c.NextSendAt.Equal(now.Add(7*24*time.Hour)) {
		t.Fatalf("expected next = now+7d, got %v", c.NextSendAt)
	}
	if c.TotalDistributions != 5 {
		t.Fatalf("expected total_distributions 5, got %d", c.TotalDistributions)
	}
	if c.LastSentAt == nil {
		t.Fatalf("expected last_sent_at set")
	}
	if gw.sent != 2 {
		t.Fatalf("expected 2 sends, got %d", gw.sent)
	}

	// Second tick for the same period finds nothing due.
	rep, _ = s.Tick(context.Background(), now)
	if rep.Due != 0 || gw.sent != 2 {
		t.Fatalf("expected no refire, got %+v", rep)
	}
}

func TestTick_LogLinesCarryCampaignIDOnce(t *testing.T) {
	s, repo, _ := newScheduler(t)
	due := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	repo.Put(Campaign{
		ID: "camp-log", PopulationID: "pop-1", Body: "once",
		Channels:     []contacts.Channel{contacts.ChannelSMS},
		ScheduleType: ScheduleOneTime, NextSendAt: &due, Status: StatusActive,
	})

	var buf bytes.Buffer
	ctx := logger.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	if _, err := s.Tick(ctx, due); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	seen := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		switch n := strings.Count(line, `"campaign_id"`); {
		case n > 1:
			t.Fatalf("campaign_id repeated in %s", line)
		case n == 1:
			seen++
		}
	}
	if seen == 0 {
		t.Fatalf("expected campaign-scoped log lines, got %s", buf.String())
	}
}

func TestTick_OneTimeCompletes(t *testing.T) {
	s, repo, _ := newScheduler(t)
	due := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	repo.Put(Campaign{
		ID: "camp-2", PopulationID: "pop-1", Body: "once",
		Channels:     []contacts.Channel{contacts.ChannelSMS},
		ScheduleType: ScheduleOneTime, NextSendAt: &due, Status: StatusActive,
	})

	rep, err := s.Tick(context.Background(), due)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rep.Runs[0].Outcome != OutcomeCompleted {
		t.Fatalf("unexpected run %+v", rep.Runs[0])
	}
	c, _ := repo.Get(context.Background(), "camp-2")
	if c.Status != StatusCompleted || c.NextSendAt != nil || c.TotalDistributions != 1 {
		t.Fatalf("unexpected campaign %+v", c)
	}
}

func TestTick_FailureLeavesCampaignDue(t *testing.T) {
	repo := NewMemoryRepo()
	dist := &failingDistributor{}
	s := NewScheduler(repo, dist, nil, nil)
	due := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	repo.Put(Campaign{ID: "camp-3", PopulationID: "pop-1", ScheduleType: ScheduleRecurring, Interval: 1, Unit: UnitDays, NextSendAt: &due, Status: StatusActive})

	rep, err := s.Tick(context.Background(), due.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rep.Runs[0].Outcome != OutcomeFailed {
		t.Fatalf("expected failed run, got %+v", rep.Runs[0])
	}
	c, _ := repo.Get(context.Background(), "camp-3")
	if !c.NextSendAt.Equal(due) {
		t.Fatalf("expected next_send_at unchanged, got %s", c.NextSendAt)
	}

	s.Tick(context.Background(), due.Add(2*time.Minute))
	if dist.calls != 2 {
		t.Fatalf("expected retry on next tick, got %d calls", dist.calls)
	}
}

func TestTick_FailedSendsDoNotCountAsDistributions(t *testing.T) {
	people := contacts.NewMemoryRepo()
	people.Put(contacts.Contact{ID: "c1", Phone: "+15125550001", Active: true})
	people.AddToPopulation("pop-1", "c1")

	d := dispatch.New(downGateway{}, nil, dispatch.Config{SMSFrom: "+15005550006"}, nil)
	co := fanout.NewCoordinator(compliance.NewGate(people, nil), d, 1, nil)
	repo := NewMemoryRepo()
	mgr := distribution.NewManager(distribution.NewMemoryRepo(), people, co, d, distribution.Config{}).WithCampaignRecorder(repo)
	s := NewScheduler(repo, mgr, time.UTC, nil)

	due := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	repo.Put(Campaign{
		ID: "camp-4", PopulationID: "pop-1", Body: "once",
		Channels:     []contacts.Channel{contacts.ChannelSMS},
		ScheduleType: ScheduleOneTime, NextSendAt: &due, Status: StatusActive, TotalDistributions: 2,
	})

	for i := 1; i <= 3; i++ {
		rep, err := s.Tick(context.Background(), due.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if rep.Runs[0].Outcome != OutcomeFailed {
			t.Fatalf("tick %d: expected failed run, got %+v", i, rep.Runs[0])
		}
	}

	c, _ := repo.Get(context.Background(), "camp-4")
	if c.TotalDistributions != 2 || c.LastSentAt != nil {
		t.Fatalf("expected campaign untouched, got total=%d last_sent_at=%v", c.TotalDistributions, c.LastSentAt)
	}
	if c.Status != StatusActive || !c.NextSendAt.Equal(due) {
		t.Fatalf("expected campaign still due, got %+v", c)
	}
}

func TestTick_InvalidScheduleNeverSends(t *testing.T) {
	repo := NewMemoryRepo()
	dist := &failingDistributor{}
	s := NewScheduler(repo, dist, nil, nil)
	due := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	repo.Put(Campaign{ID: "camp-4", ScheduleType: ScheduleRecurring, Interval: 0, Unit: UnitDays, NextSendAt: &due, Status: StatusActive})

	rep, _ := s.Tick(context.Background(), due)
	if rep.Runs[0].Outcome != OutcomeFailed || dist.calls != 0 {
		t.Fatalf("expected rejection before send, got %+v calls=%d", rep.Runs[0], dist.calls)
	}
}

func TestPostgresRepo_AdvanceLostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)

	prev := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	next := prev.Add(7 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'active' AND next_send_at = $2")).
		WithArgs("camp-1", prev, next).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Advance(context.Background(), "camp-1", prev, next)
	if err != nil || ok {
		t.Fatalf("expected lost race, got %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepo_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)

	mock.ExpectQuery("FROM campaigns WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_ListDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)

	now := time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC)
	due := now.Add(-2 * time.Hour)
	cols := []string{"id", "name", "population_id", "subject", "body", "channels", "schedule_type", "recurrence_interval", "recurrence_unit", "time_of_day", "next_send_at", "status", "total_distributions", "last_sent_at"}
	mock.ExpectQuery("next_send_at <= \\$1").
		WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("camp-1", "Weekly", "pop-1", "", "hi", "sms,email", "recurring", 1, "weeks", "09:00", due, "active", 3, nil))

	got, err := repo.ListDue(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 1 || len(got[0].Channels) != 2 || got[0].Unit != UnitWeeks || got[0].NextSendAt == nil {
		t.Fatalf("unexpected campaigns %+v", got)
	}
}
