package audit

import (
	"context"
	"database/sql"
)

// NOTE: This repository assumes the following tables exist:
// - audit_events (id, type, actor_user_id, actor_role, ip_address, contact_id,
//   distribution_id, campaign_id, message_id, message, metadata jsonb, created_at)
//
// The table is INSERT-only; nothing here updates or deletes.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, actor_role, ip_address, contact_id, distribution_id,
  campaign_id, message_id, message, metadata, created_at
) VALUES (
  $1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),
  NULLIF($8,''),NULLIF($9,''),$10,NULLIF($11,'')::jsonb,$12
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.ContactID,
		e.DistributionID,
		e.CampaignID,
		e.MessageID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
