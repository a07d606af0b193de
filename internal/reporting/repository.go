package reporting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - distributions, distribution_recipients (see internal/distribution)
// - messages (see internal/messaging)
// - contacts (see internal/contacts)
// - weekly_digests (week_start PRIMARY KEY, week_end, state, counts jsonb, computed_at,
//   finalized_at)
//
// Recipient outcomes are attributed to the week their distribution was sent in.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Count(ctx context.Context, tr TimeRange) (Counts, error) {
	var c Counts

	const distQ = `
SELECT COUNT(*), COALESCE(SUM(total_sent), 0), COALESCE(SUM(total_delivered), 0)
FROM distributions
WHERE sent_at >= $1 AND sent_at < $2
`
	if err := r.db.QueryRowContext(ctx, distQ, tr.From, tr.To).Scan(
		&c.Distributions, &c.RecipientsTargeted, &c.RecipientsReached,
	); err != nil {
		return Counts{}, err
	}

	const rcptQ = `
SELECT
  COUNT(*) FILTER (WHERE position('sms' IN d.channels) > 0 AND r.sms_status = 'sent'),
  COUNT(*) FILTER (WHERE position('sms' IN d.channels) > 0 AND r.sms_status = 'failed'),
  COUNT(*) FILTER (WHERE position('sms' IN d.channels) > 0 AND COALESCE(r.sms_status, '') = ''),
  COUNT(*) FILTER (WHERE position('email' IN d.channels) > 0 AND r.email_status = 'sent'),
  COUNT(*) FILTER (WHERE position('email' IN d.channels) > 0 AND r.email_status = 'failed'),
  COUNT(*) FILTER (WHERE position('email' IN d.channels) > 0 AND COALESCE(r.email_status, '') = '')
FROM distribution_recipients r
JOIN distributions d ON d.id = r.distribution_id
WHERE d.sent_at >= $1 AND d.sent_at < $2
`
	if err := r.db.QueryRowContext(ctx, rcptQ, tr.From, tr.To).Scan(
		&c.SMS.Sent, &c.SMS.Failed, &c.SMS.Pending,
		&c.Email.Sent, &c.Email.Failed, &c.Email.Pending,
	); err != nil {
		return Counts{}, err
	}

	const msgQ = `
SELECT
  COUNT(*) FILTER (WHERE direction = 'outbound'),
  COUNT(*) FILTER (WHERE direction = 'inbound'),
  COUNT(*) FILTER (WHERE direction = 'outbound' AND status IN ('delivered', 'read')),
  COUNT(*) FILTER (WHERE direction = 'outbound' AND status = 'failed')
FROM messages
WHERE created_at >= $1 AND created_at < $2
`
	if err := r.db.QueryRowContext(ctx, msgQ, tr.From, tr.To).Scan(
		&c.Messages.Outbound, &c.Messages.Inbound, &c.Messages.Delivered, &c.Messages.Failed,
	); err != nil {
		return Counts{}, err
	}

	const optOutQ = `
SELECT COUNT(*) FROM contacts
WHERE sms_opted_out = TRUE AND sms_opted_out_at >= $1 AND sms_opted_out_at < $2
`
	if err := r.db.QueryRowContext(ctx, optOutQ, tr.From, tr.To).Scan(&c.SMSOptOuts); err != nil {
		return Counts{}, err
	}
	return c, nil
}

func (r *PostgresRepo) SaveDigest(ctx context.Context, d WeeklyDigest) error {
	counts, err := json.Marshal(d.Counts)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO weekly_digests (week_start, week_end, state, counts, computed_at, finalized_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (week_start) DO UPDATE
SET week_end = EXCLUDED.week_end,
    state = EXCLUDED.state,
    counts = EXCLUDED.counts,
    computed_at = EXCLUDED.computed_at,
    finalized_at = EXCLUDED.finalized_at
WHERE weekly_digests.state <> 'final'
`
	var finalized any
	if d.FinalizedAt != nil {
		finalized = *d.FinalizedAt
	}
	_, err = r.db.ExecContext(ctx, q, d.WeekStart, d.WeekEnd, string(d.State), counts, d.ComputedAt, finalized)
	return err
}

func (r *PostgresRepo) GetDigest(ctx context.Context, weekStart time.Time) (WeeklyDigest, error) {
	const q = `
SELECT week_start, week_end, state, counts, computed_at, finalized_at
FROM weekly_digests
WHERE week_start = $1
`
	var (
		d         WeeklyDigest
		state     string
		counts    []byte
		finalized sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, weekStart).Scan(&d.WeekStart, &d.WeekEnd, &state, &counts, &d.ComputedAt, &finalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WeeklyDigest{}, ErrDigestNotFound
		}
		return WeeklyDigest{}, err
	}
	d.State = DigestState(state)
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &d.Counts); err != nil {
			return WeeklyDigest{}, err
		}
	}
	if finalized.Valid {
		t := finalized.Time
		d.FinalizedAt = &t
	}
	return d, nil
}
