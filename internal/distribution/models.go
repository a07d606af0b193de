// Package distribution creates one send-out of content to a population and tracks each
// recipient's per-channel outcome.
package distribution

import (
	"fmt"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/fanout"
)

const DefaultLinkTTL = 14 * 24 * time.Hour

var (
	ErrNotFound            = fmt.Errorf("distribution: %w", apperr.ErrNotFound)
	ErrEmptyPopulation     = fmt.Errorf("distribution: population has no eligible contacts: %w", apperr.ErrComplianceDenied)
	ErrNoChannels          = fmt.Errorf("distribution: at least one channel required: %w", apperr.ErrInvalidArgument)
	ErrMissingPopulation   = fmt.Errorf("distribution: population_id required: %w", apperr.ErrInvalidArgument)
	ErrEmailDisabled       = fmt.Errorf("distribution: outbound email is disabled: %w", apperr.ErrConfigurationMissing)
	ErrAllChannelsFailed   = fmt.Errorf("distribution: every channel failed for every recipient: %w", apperr.ErrProviderDispatchFailed)
	ErrAllRecipientsDenied = fmt.Errorf("distribution: every recipient was denied: %w", apperr.ErrComplianceDenied)
	ErrDistributionExpired = fmt.Errorf("distribution: expired: %w", apperr.ErrInvalidArgument)
	ErrNothingToRetry      = fmt.Errorf("distribution: no failed recipients on channel: %w", apperr.ErrInvalidArgument)
	ErrLinkExpired         = fmt.Errorf("distribution: response link expired: %w", apperr.ErrInvalidArgument)
)

type Distribution struct {
	ID             string             `json:"id"`
	CampaignID     string             `json:"campaign_id,omitempty"`
	PopulationID   string             `json:"population_id"`
	Number         int                `json:"distribution_number"`
	Subject        string             `json:"subject,omitempty"`
	Body           string             `json:"body"`
	Channels       []contacts.Channel `json:"channels"`
	SentAt         time.Time          `json:"sent_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
	TotalSent      int                `json:"total_sent"`
	TotalDelivered int                `json:"total_delivered"`
}

func (d Distribution) HasChannel(ch contacts.Channel) bool {
	for _, c := range d.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

type ChannelStatus string

const (
	ChannelPending ChannelStatus = ""
	ChannelSent    ChannelStatus = "sent"
	ChannelFailed  ChannelStatus = "failed"
)

type ChannelState struct {
	Status     ChannelStatus `json:"status"`
	ProviderID string        `json:"provider_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	At         *time.Time    `json:"at,omitempty"`
}

// Recipient is one (distribution, contact) pair.
type Recipient struct {
	ID             string       `json:"id"`
	DistributionID string       `json:"distribution_id"`
	ContactID      string       `json:"contact_id"`
	Token          string       `json:"-"`
	SMS            ChannelState `json:"sms"`
	Email          ChannelState `json:"email"`
}

func (r Recipient) State(ch contacts.Channel) ChannelState {
	if ch == contacts.ChannelEmail {
		return r.Email
	}
	return r.SMS
}

func (r *Recipient) setState(ch contacts.Channel, s ChannelState) {
	if ch == contacts.ChannelEmail {
		r.Email = s
		return
	}
	r.SMS = s
}

// Delivered reports whether any channel reached the contact.
func (r Recipient) Delivered() bool {
	return r.SMS.Status == ChannelSent || r.Email.Status == ChannelSent
}

// StateUpdate is one recipient's outcome on one channel.
type StateUpdate struct {
	RecipientID string
	State       ChannelState
}

type Request struct {
	CampaignID   string             `json:"campaign_id,omitempty"`
	PopulationID string             `json:"population_id"`
	Subject      string             `json:"subject,omitempty"`
	Body         string             `json:"body"`
	Channels     []contacts.Channel `json:"channels"`
}

type Report struct {
	Distribution Distribution                       `json:"distribution"`
	Results      map[contacts.Channel]fanout.Result `json:"results"`
	Skipped      []contacts.Channel                 `json:"skipped,omitempty"`
}

// ChannelCounts is the operator-facing view of one channel of a distribution.
type ChannelCounts struct {
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Pending   int    `json:"pending"`
	Status    string `json:"status"`
}

func (c ChannelCounts) derive() ChannelCounts {
	switch {
	case c.Succeeded == 0 && c.Failed == 0:
		c.Status = "pending"
	case c.Succeeded == 0:
		c.Status = string(fanout.StatusFailed)
	case c.Failed > 0:
		c.Status = string(fanout.StatusSent)
	default:
		c.Status = string(fanout.StatusDelivered)
	}
	return c
}

type Summary struct {
	Distribution Distribution                       `json:"distribution"`
	Channels     map[contacts.Channel]ChannelCounts `json:"channels"`
	Recipients   []Recipient                        `json:"recipients,omitempty"`
}
