package distribution

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"delivery-engine/internal/contacts"
	"delivery-engine/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
// - distributions (id, campaign_id, population_id, distribution_number, subject, body,
//   channels, sent_at, expires_at, total_sent, total_delivered)
// - distribution_recipients (id, distribution_id, contact_id, token UNIQUE,
//   sms_status, sms_provider_id, sms_error, sms_at,
//   email_status, email_provider_id, email_error, email_at)
//
// channels is stored comma separated ("sms,email").
// distribution_number is unique per campaign, or per population for direct sends.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, d *Distribution, recipients []Recipient) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		n, err := nextNumber(ctx, tx, d.CampaignID, d.PopulationID)
		if err != nil {
			return err
		}
		d.Number = n

		const insertDist = `
INSERT INTO distributions (
  id, campaign_id, population_id, distribution_number, subject, body, channels,
  sent_at, expires_at, total_sent, total_delivered
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0
)
`
		if _, err := tx.ExecContext(ctx, insertDist,
			d.ID,
			nullString(d.CampaignID),
			d.PopulationID,
			d.Number,
			d.Subject,
			d.Body,
			joinChannels(d.Channels),
			d.SentAt,
			d.ExpiresAt,
			d.TotalSent,
		); err != nil {
			return err
		}

		const insertRcpt = `
INSERT INTO distribution_recipients (id, distribution_id, contact_id, token, sms_status, email_status)
VALUES ($1,$2,$3,$4,'','')
`
		for _, rc := range recipients {
			if _, err := tx.ExecContext(ctx, insertRcpt, rc.ID, d.ID, rc.ContactID, rc.Token); err != nil {
				return err
			}
		}
		return nil
	})
}

// nextNumber serializes numbering per scope with a transaction-scoped advisory lock.
func nextNumber(ctx context.Context, tx *sql.Tx, campaignID, populationID string) (int, error) {
	scope := "population:" + populationID
	q := `SELECT COALESCE(MAX(distribution_number), 0) + 1 FROM distributions WHERE campaign_id IS NULL AND population_id = $1`
	arg := populationID
	if campaignID != "" {
		scope = "campaign:" + campaignID
		q = `SELECT COALESCE(MAX(distribution_number), 0) + 1 FROM distributions WHERE campaign_id = $1`
		arg = campaignID
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope); err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRowContext(ctx, q, arg).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Distribution, error) {
	const q = `
SELECT id, COALESCE(campaign_id::text, ''), population_id, distribution_number, subject, body, channels,
       sent_at, expires_at, total_sent, total_delivered
FROM distributions
WHERE id = $1
`
	var (
		d        Distribution
		channels string
	)
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID,
		&d.CampaignID,
		&d.PopulationID,
		&d.Number,
		&d.Subject,
		&d.Body,
		&channels,
		&d.SentAt,
		&d.ExpiresAt,
		&d.TotalSent,
		&d.TotalDelivered,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Distribution{}, ErrNotFound
		}
		return Distribution{}, err
	}
	d.Channels = splitChannels(channels)
	return d, nil
}

const recipientColumns = `
id, distribution_id, contact_id, token,
sms_status, COALESCE(sms_provider_id, ''), COALESCE(sms_error, ''), sms_at,
email_status, COALESCE(email_provider_id, ''), COALESCE(email_error, ''), email_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (Recipient, error) {
	var (
		rc           Recipient
		smsAt, email sql.NullTime
	)
	if err := row.Scan(
		&rc.ID,
		&rc.DistributionID,
		&rc.ContactID,
		&rc.Token,
		&rc.SMS.Status,
		&rc.SMS.ProviderID,
		&rc.SMS.Error,
		&smsAt,
		&rc.Email.Status,
		&rc.Email.ProviderID,
		&rc.Email.Error,
		&email,
	); err != nil {
		return Recipient{}, err
	}
	if smsAt.Valid {
		t := smsAt.Time
		rc.SMS.At = &t
	}
	if email.Valid {
		t := email.Time
		rc.Email.At = &t
	}
	return rc, nil
}

func (r *PostgresRepo) ListRecipients(ctx context.Context, distributionID string) ([]Recipient, error) {
	q := `SELECT ` + recipientColumns + ` FROM distribution_recipients WHERE distribution_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, distributionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetRecipientByToken(ctx context.Context, token string) (Recipient, error) {
	q := `SELECT ` + recipientColumns + ` FROM distribution_recipients WHERE token = $1`
	rc, err := scanRecipient(r.db.QueryRowContext(ctx, q, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, err
	}
	return rc, nil
}

const (
	updateSMSState = `
UPDATE distribution_recipients
SET sms_status = $2, sms_provider_id = NULLIF($3, ''), sms_error = NULLIF($4, ''), sms_at = $5
WHERE id = $1
`
	updateEmailState = `
UPDATE distribution_recipients
SET email_status = $2, email_provider_id = NULLIF($3, ''), email_error = NULLIF($4, ''), email_at = $5
WHERE id = $1
`
)

func (r *PostgresRepo) UpdateRecipientStates(ctx context.Context, ch contacts.Channel, updates []StateUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	q := updateSMSState
	if ch == contacts.ChannelEmail {
		q = updateEmailState
	}
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		for _, u := range updates {
			if _, err := tx.ExecContext(ctx, q, u.RecipientID, u.State.Status, u.State.ProviderID, u.State.Error, u.State.At); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) SetTotalDelivered(ctx context.Context, id string, n int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE distributions SET total_delivered = $2 WHERE id = $1`, id, n)
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

func joinChannels(chs []contacts.Channel) string {
	parts := make([]string, len(chs))
	for i, ch := range chs {
		parts[i] = string(ch)
	}
	return strings.Join(parts, ",")
}

func splitChannels(s string) []contacts.Channel {
	var out []contacts.Channel
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, contacts.Channel(p))
		}
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
