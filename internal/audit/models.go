package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event. Empty for inbound keywords.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	ContactID      string `json:"contact_id,omitempty" db:"contact_id"`
	DistributionID string `json:"distribution_id,omitempty" db:"distribution_id"`
	CampaignID     string `json:"campaign_id,omitempty" db:"campaign_id"`
	MessageID      string `json:"message_id,omitempty" db:"message_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeConsentChanged      EventType = "consent_changed"
	EventTypeDistributionCreated EventType = "distribution_created"
	EventTypeDistributionRetried EventType = "distribution_retried"
	EventTypeOutboundMessage     EventType = "outbound_message"
	EventTypeJobTriggered        EventType = "job_triggered"
)

// Target names the records an operator action touched.
type Target struct {
	ContactID      string
	DistributionID string
	CampaignID     string
	MessageID      string
}
