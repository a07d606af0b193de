package campaign

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"delivery-engine/internal/contacts"
	"delivery-engine/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
// - campaigns (id, name, population_id, subject, body, channels, schedule_type,
//   recurrence_interval, recurrence_unit, time_of_day, next_send_at, status,
//   total_distributions, last_sent_at, updated_at)
//
// channels is stored comma separated. The row itself is the only concurrency guard:
// schedule updates compare next_send_at with the value the caller read.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const campaignColumns = `
id, name, population_id, COALESCE(subject, ''), body, channels, schedule_type,
COALESCE(recurrence_interval, 0), COALESCE(recurrence_unit, ''), COALESCE(time_of_day, ''),
next_send_at, status, total_distributions, last_sent_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var (
		c              Campaign
		channels       string
		next, lastSent sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.PopulationID,
		&c.Subject,
		&c.Body,
		&channels,
		&c.ScheduleType,
		&c.Interval,
		&c.Unit,
		&c.TimeOfDay,
		&next,
		&c.Status,
		&c.TotalDistributions,
		&lastSent,
	); err != nil {
		return Campaign{}, err
	}
	for _, p := range strings.Split(channels, ",") {
		if p = strings.TrimSpace(p); p != "" {
			c.Channels = append(c.Channels, contacts.Channel(p))
		}
	}
	if next.Valid {
		t := next.Time
		c.NextSendAt = &t
	}
	if lastSent.Valid {
		t := lastSent.Time
		c.LastSentAt = &t
	}
	return c, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

func (r *PostgresRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]Campaign, error) {
	q := `SELECT ` + campaignColumns + `
FROM campaigns
WHERE status = 'active' AND next_send_at IS NOT NULL AND next_send_at <= $1
ORDER BY next_send_at ASC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Advance(ctx context.Context, id string, prev, next time.Time) (bool, error) {
	const q = `
UPDATE campaigns
SET next_send_at = $3, updated_at = NOW()
WHERE id = $1 AND status = 'active' AND next_send_at = $2
`
	res, err := r.db.ExecContext(ctx, q, id, prev, next)
	if err != nil {
		return false, err
	}
	return utils.Affected(res)
}

func (r *PostgresRepo) Complete(ctx context.Context, id string, prev time.Time) (bool, error) {
	const q = `
UPDATE campaigns
SET status = 'completed', next_send_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'active' AND next_send_at = $2
`
	res, err := r.db.ExecContext(ctx, q, id, prev)
	if err != nil {
		return false, err
	}
	return utils.Affected(res)
}

func (r *PostgresRepo) RecordDistribution(ctx context.Context, id string, sentAt time.Time) error {
	const q = `
UPDATE campaigns
SET total_distributions = total_distributions + 1, last_sent_at = $2, updated_at = NOW()
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, sentAt)
	if err != nil {
		return err
	}
	ok, err := utils.Affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
