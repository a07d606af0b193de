// Package campaign fires due campaigns and advances their schedule.
package campaign

import (
	"fmt"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
)

type ScheduleType string

const (
	ScheduleOneTime   ScheduleType = "one_time"
	ScheduleRecurring ScheduleType = "recurring"
)

type Unit string

const (
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

var (
	ErrNotFound        = fmt.Errorf("campaign: %w", apperr.ErrNotFound)
	ErrInvalidSchedule = fmt.Errorf("campaign: invalid schedule: %w", apperr.ErrInvalidArgument)
)

type Campaign struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	PopulationID string             `json:"population_id"`
	Subject      string             `json:"subject,omitempty"`
	Body         string             `json:"body"`
	Channels     []contacts.Channel `json:"channels"`

	ScheduleType ScheduleType `json:"schedule_type"`
	Interval     int          `json:"recurrence_interval,omitempty"`
	Unit         Unit         `json:"recurrence_unit,omitempty"`
	// TimeOfDay is "HH:MM" in the scheduler's zone; empty keeps the firing time.
	TimeOfDay string `json:"time_of_day,omitempty"`

	NextSendAt         *time.Time `json:"next_send_at,omitempty"`
	Status             Status     `json:"status"`
	TotalDistributions int        `json:"total_distributions"`
	LastSentAt         *time.Time `json:"last_sent_at,omitempty"`
}

// NextSendAt returns the next occurrence after a firing at now.
//
// The interval is added to now, not to the previous due time, so a scheduler that was down
// fires once and moves on. Month steps clamp to the last day of the target month. With a
// time of day the result is pinned to that wall-clock time in loc.
func NextSendAt(now time.Time, interval int, unit Unit, timeOfDay string, loc *time.Location) (time.Time, error) {
	if interval <= 0 {
		return time.Time{}, fmt.Errorf("%w: interval must be > 0", ErrInvalidSchedule)
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var next time.Time
	switch unit {
	case UnitDays:
		next = local.AddDate(0, 0, interval)
	case UnitWeeks:
		next = local.AddDate(0, 0, 7*interval)
	case UnitMonths:
		next = addMonthsClamped(local, interval)
	default:
		return time.Time{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidSchedule, unit)
	}

	if timeOfDay != "" {
		hh, mm, err := parseTimeOfDay(timeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		y, m, d := next.Date()
		next = time.Date(y, m, d, hh, mm, 0, 0, loc)
	}
	return next.UTC(), nil
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func parseTimeOfDay(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time_of_day %q", ErrInvalidSchedule, s)
	}
	return t.Hour(), t.Minute(), nil
}
