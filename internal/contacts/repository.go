package contacts

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: This repository assumes the following tables exist:
// - contacts (id, name, first_name, last_name, phone, email, active, unsubscribed,
//   sms_opted_out, sms_opted_out_at, sms_opt_out_keyword, updated_at)
// - populations (id, name)
// - population_members (population_id, contact_id, unsubscribed)
//
// phone is stored in E.164.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const contactColumns = `
c.id, c.name, COALESCE(c.first_name, ''), COALESCE(c.last_name, ''), COALESCE(c.phone, ''),
COALESCE(c.email, ''), c.active, c.unsubscribed, c.sms_opted_out, c.sms_opted_out_at,
COALESCE(c.sms_opt_out_keyword, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var (
		c  Contact
		at sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.FirstName,
		&c.LastName,
		&c.Phone,
		&c.Email,
		&c.Active,
		&c.Unsubscribed,
		&c.SMSOptedOut,
		&at,
		&c.SMSOptOutKeyword,
	); err != nil {
		return Contact{}, err
	}
	if at.Valid {
		t := at.Time
		c.SMSOptedOutAt = &t
	}
	return c, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Contact, error) {
	if id == "" {
		return Contact{}, errMissingID
	}
	q := `SELECT ` + contactColumns + ` FROM contacts c WHERE c.id = $1`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

func (r *PostgresRepo) FindByPhone(ctx context.Context, e164 string) (Contact, error) {
	q := `SELECT ` + contactColumns + `
FROM contacts c
WHERE c.phone = $1
ORDER BY c.active DESC, c.updated_at DESC
LIMIT 1`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, e164))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

// ListByPopulation returns the active, non-unsubscribed members of a population.
// SMS opt-outs are included: the compliance gate records them per recipient.
func (r *PostgresRepo) ListByPopulation(ctx context.Context, populationID string) ([]Contact, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM populations WHERE id = $1)`, populationID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	q := `SELECT ` + contactColumns + `
FROM population_members pm
JOIN contacts c ON c.id = pm.contact_id
WHERE pm.population_id = $1
  AND c.active = true
  AND c.unsubscribed = false
  AND pm.unsubscribed = false
ORDER BY c.id`
	rows, err := r.db.QueryContext(ctx, q, populationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateSMSConsent(ctx context.Context, id string, consent Consent) error {
	if id == "" {
		return errMissingID
	}
	const q = `
UPDATE contacts
SET sms_opted_out = $2,
    sms_opted_out_at = $3,
    sms_opt_out_keyword = $4,
    updated_at = $5
WHERE id = $1
`
	var at any
	if consent.OptedOut {
		at = consent.ChangedAt
	}
	res, err := r.db.ExecContext(ctx, q, id, consent.OptedOut, at, consent.Keyword, consent.ChangedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
