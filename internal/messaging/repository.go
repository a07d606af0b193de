package messaging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"delivery-engine/internal/dispatch"
	"delivery-engine/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following tables exist:
// - conversations (id, contact_id UNIQUE, last_message_body, last_message_at,
//   last_message_direction, unread_count, updated_at)
// - messages (id, conversation_id, contact_id, channel, direction, subject, body, from_addr,
//   to_addr, status, provider_message_id, error_text, extra jsonb, created_at, sent_at,
//   delivered_at, read_at, failed_at)
//
// It also assumes an index on messages (provider_message_id).
// Conversation summaries are maintained here, in the transaction that inserts the message.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// InsertMessage stores m and, when it belongs to a contact, upserts the contact's conversation
// summary in the same transaction. m.ID and m.ConversationID are filled in.
func (r *PostgresRepo) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	extra, err := encodeExtra(m.Extra)
	if err != nil {
		return err
	}

	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if m.ContactID != "" {
			convID, err := upsertConversation(ctx, tx, m)
			if err != nil {
				return err
			}
			m.ConversationID = convID
		}

		const q = `
INSERT INTO messages (
  id, conversation_id, contact_id, channel, direction, subject, body, from_addr, to_addr,
  status, provider_message_id, error_text, extra, created_at, sent_at, delivered_at, read_at, failed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
`
		_, err := tx.ExecContext(ctx, q,
			m.ID,
			nullString(m.ConversationID),
			nullString(m.ContactID),
			m.Channel,
			m.Direction,
			m.Subject,
			m.Body,
			m.From,
			m.To,
			m.Status,
			nullString(m.ProviderMessageID),
			m.ErrorText,
			extra,
			m.CreatedAt,
			m.SentAt,
			m.DeliveredAt,
			m.ReadAt,
			m.FailedAt,
		)
		return err
	})
}

func upsertConversation(ctx context.Context, tx *sql.Tx, m *Message) (string, error) {
	unread := 0
	if m.Direction == DirectionInbound {
		unread = 1
	}
	const q = `
INSERT INTO conversations (id, contact_id, last_message_body, last_message_at, last_message_direction, unread_count, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$4)
ON CONFLICT (contact_id)
DO UPDATE SET last_message_body = EXCLUDED.last_message_body,
              last_message_at = EXCLUDED.last_message_at,
              last_message_direction = EXCLUDED.last_message_direction,
              unread_count = conversations.unread_count + EXCLUDED.unread_count,
              updated_at = EXCLUDED.updated_at
RETURNING id
`
	var id string
	if err := tx.QueryRowContext(ctx, q,
		uuid.NewString(),
		m.ContactID,
		m.Body,
		m.CreatedAt,
		m.Direction,
		unread,
	).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

const messageColumns = `
id, COALESCE(conversation_id::text, ''), COALESCE(contact_id::text, ''), channel, direction,
subject, body, from_addr, to_addr, status, COALESCE(provider_message_id, ''), error_text, extra,
created_at, sent_at, delivered_at, read_at, failed_at`

func (r *PostgresRepo) Get(ctx context.Context, id string) (Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByProviderID(ctx context.Context, providerMessageID string) (Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanMessage(r.db.QueryRowContext(ctx, q, providerMessageID))
}

func scanMessage(row *sql.Row) (Message, error) {
	var (
		m     Message
		extra []byte
		sent, delivered, read, failed sql.NullTime
	)
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.ContactID,
		&m.Channel,
		&m.Direction,
		&m.Subject,
		&m.Body,
		&m.From,
		&m.To,
		&m.Status,
		&m.ProviderMessageID,
		&m.ErrorText,
		&extra,
		&m.CreatedAt,
		&sent,
		&delivered,
		&read,
		&failed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &m.Extra); err != nil {
			return Message{}, err
		}
	}
	m.SentAt = timePtr(sent)
	m.DeliveredAt = timePtr(delivered)
	m.ReadAt = timePtr(read)
	m.FailedAt = timePtr(failed)
	return m, nil
}

// UpdateStatus applies c only if the stored status still equals c.From.
// It reports false when another writer moved the message first.
func (r *PostgresRepo) UpdateStatus(ctx context.Context, c StatusChange) (bool, error) {
	extra, err := encodeExtra(c.Extra)
	if err != nil {
		return false, err
	}
	const q = `
UPDATE messages
SET status = $3,
    provider_message_id = COALESCE(NULLIF($4, ''), provider_message_id),
    error_text = CASE WHEN $5 <> '' THEN $5 ELSE error_text END,
    extra = COALESCE(extra, '{}'::jsonb) || COALESCE($6::jsonb, '{}'::jsonb),
    sent_at = CASE WHEN $3 = 'sent' THEN COALESCE(sent_at, $7) ELSE sent_at END,
    delivered_at = CASE WHEN $3 = 'delivered' THEN COALESCE(delivered_at, $7) ELSE delivered_at END,
    read_at = CASE WHEN $3 = 'read' THEN COALESCE(read_at, $7) ELSE read_at END,
    failed_at = CASE WHEN $3 = 'failed' THEN COALESCE(failed_at, $7) ELSE failed_at END
WHERE id = $1 AND status = $2
`
	res, err := r.db.ExecContext(ctx, q, c.MessageID, c.From, c.To, c.ProviderMessageID, c.ErrorText, extra, c.At)
	if err != nil {
		return false, err
	}
	return utils.Affected(res)
}

func (r *PostgresRepo) MarkConversationRead(ctx context.Context, conversationID string) error {
	const q = `UPDATE conversations SET unread_count = 0, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, conversationID, time.Now().UTC())
	if err != nil {
		return err
	}
	ok, err := utils.Affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConversationNotFound
	}
	return nil
}

func (r *PostgresRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	const q = `
SELECT id, contact_id, last_message_body, last_message_at, COALESCE(last_message_direction, ''), unread_count
FROM conversations
WHERE id = $1
`
	var (
		c  Conversation
		at sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.ContactID,
		&c.LastMessageBody,
		&at,
		&c.LastMessageDirection,
		&c.UnreadCount,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, err
	}
	c.LastMessageAt = timePtr(at)
	return c, nil
}

func encodeExtra(e dispatch.ExtraInfo) ([]byte, error) {
	if len(e) == 0 {
		return nil, nil
	}
	return json.Marshal(e)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
