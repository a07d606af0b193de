// Package weeklock runs the time-boxed weekly reporting cycle: a reminder before the week
// closes, the lock and summary after it closes, and the end of the grace period.
package weeklock

import (
	"fmt"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/reporting"
)

var ErrNotFound = fmt.Errorf("weeklock: %w", apperr.ErrNotFound)

const DefaultGracePeriod = 48 * time.Hour

// LockRecord is the per-week state row. The email flags are claimed with conditional updates
// so each email goes out at most once across instances.
type LockRecord struct {
	WeekStart         time.Time  `json:"week_start"`
	ReminderEmailSent bool       `json:"reminder_email_sent"`
	SummaryEmailSent  bool       `json:"summary_email_sent"`
	InGracePeriod     bool       `json:"in_grace_period"`
	GracePeriodEndsAt *time.Time `json:"grace_period_ends_at,omitempty"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`
}

type EmailKind string

const (
	EmailReminder EmailKind = "reminder"
	EmailSummary  EmailKind = "summary"
)

func (r LockRecord) emailSent(k EmailKind) bool {
	if k == EmailSummary {
		return r.SummaryEmailSent
	}
	return r.ReminderEmailSent
}

type Trigger string

const (
	TriggerReminder Trigger = "reminder"
	TriggerLock     Trigger = "lock"
	TriggerEndGrace Trigger = "end_grace"
)

type Outcome string

const (
	OutcomeSent          Outcome = "sent"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeEmailDisabled Outcome = "email_disabled"
	OutcomeNoRecipients  Outcome = "no_recipients"
	OutcomeSendFailed    Outcome = "send_failed"
	OutcomeFailed        Outcome = "failed"
	OutcomeNoop          Outcome = "noop"
	OutcomeEnded         Outcome = "ended"
)

// Result describes what one trigger invocation did.
type Result struct {
	Trigger   Trigger                 `json:"trigger"`
	WeekStart string                  `json:"week_start"`
	Outcome   Outcome                 `json:"outcome"`
	Sent      int                     `json:"sent,omitempty"`
	Failed    int                     `json:"failed,omitempty"`
	Digest    *reporting.WeeklyDigest `json:"digest,omitempty"`
}

// WeekStart returns Monday 00:00 of t's week in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	back := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-back, 0, 0, 0, 0, loc)
}

func weekKey(weekStart time.Time) string { return weekStart.Format(time.DateOnly) }
