package weeklock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"delivery-engine/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
// - weekly_locks (week_start DATE PRIMARY KEY, reminder_email_sent, summary_email_sent,
//   in_grace_period, grace_period_ends_at, locked_at, updated_at)
//
// The row is the only cross-instance guard: flags are set with conditional updates and the
// caller that flips a flag owns the matching email.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, weekStart time.Time) (LockRecord, error) {
	const q = `
SELECT week_start, reminder_email_sent, summary_email_sent, in_grace_period,
       grace_period_ends_at, locked_at
FROM weekly_locks
WHERE week_start = $1
`
	var (
		rec          LockRecord
		ends, locked sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, weekKey(weekStart)).Scan(
		&rec.WeekStart,
		&rec.ReminderEmailSent,
		&rec.SummaryEmailSent,
		&rec.InGracePeriod,
		&ends,
		&locked,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockRecord{}, ErrNotFound
		}
		return LockRecord{}, err
	}
	if ends.Valid {
		t := ends.Time
		rec.GracePeriodEndsAt = &t
	}
	if locked.Valid {
		t := locked.Time
		rec.LockedAt = &t
	}
	return rec, nil
}

func (r *PostgresRepo) MarkLocked(ctx context.Context, weekStart, lockedAt, graceEndsAt time.Time) error {
	const q = `
INSERT INTO weekly_locks (week_start, in_grace_period, grace_period_ends_at, locked_at, updated_at)
VALUES ($1, TRUE, $2, $3, NOW())
ON CONFLICT (week_start) DO UPDATE
SET in_grace_period = TRUE,
    grace_period_ends_at = EXCLUDED.grace_period_ends_at,
    locked_at = COALESCE(weekly_locks.locked_at, EXCLUDED.locked_at),
    updated_at = NOW()
`
	_, err := r.db.ExecContext(ctx, q, weekKey(weekStart), graceEndsAt, lockedAt)
	return err
}

// ClaimEmail flips the flag for kind from false to true, creating the row if needed.
// It reports whether this caller made the change.
func (r *PostgresRepo) ClaimEmail(ctx context.Context, weekStart time.Time, kind EmailKind) (bool, error) {
	var col string
	switch kind {
	case EmailReminder:
		col = "reminder_email_sent"
	case EmailSummary:
		col = "summary_email_sent"
	default:
		return false, fmt.Errorf("weeklock: unknown email kind %q", kind)
	}
	q := `
INSERT INTO weekly_locks (week_start, ` + col + `, updated_at)
VALUES ($1, TRUE, NOW())
ON CONFLICT (week_start) DO UPDATE
SET ` + col + ` = TRUE, updated_at = NOW()
WHERE weekly_locks.` + col + ` = FALSE
`
	res, err := r.db.ExecContext(ctx, q, weekKey(weekStart))
	if err != nil {
		return false, err
	}
	return utils.Affected(res)
}

func (r *PostgresRepo) EndGrace(ctx context.Context, weekStart time.Time) (bool, error) {
	const q = `
UPDATE weekly_locks
SET in_grace_period = FALSE, updated_at = NOW()
WHERE week_start = $1 AND in_grace_period = TRUE
`
	res, err := r.db.ExecContext(ctx, q, weekKey(weekStart))
	if err != nil {
		return false, err
	}
	return utils.Affected(res)
}
