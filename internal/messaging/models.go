// Package messaging owns the Message and Conversation write path: outbound sends, inbound
// texts and provider status callbacks.
package messaging

import (
	"fmt"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/dispatch"
)

type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusReceived  Status = "received"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

var (
	ErrNotFound             = fmt.Errorf("messaging: %w", apperr.ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("messaging: conversation: %w", apperr.ErrNotFound)
	ErrEmptyBody            = fmt.Errorf("messaging: body required: %w", apperr.ErrInvalidArgument)
)

type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id,omitempty"`
	ContactID      string           `json:"contact_id,omitempty"`
	Channel        contacts.Channel `json:"channel"`
	Direction      Direction        `json:"direction"`
	Subject        string           `json:"subject,omitempty"`
	Body           string           `json:"body"`
	From           string           `json:"from"`
	To             string           `json:"to"`
	Status         Status           `json:"status"`

	ProviderMessageID string             `json:"provider_message_id,omitempty"`
	ErrorText         string             `json:"error_text,omitempty"`
	Extra             dispatch.ExtraInfo `json:"extra,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// Conversation is the per-contact thread summary shown in the inbox.
type Conversation struct {
	ID                   string     `json:"id"`
	ContactID            string     `json:"contact_id"`
	LastMessageBody      string     `json:"last_message_body"`
	LastMessageAt        *time.Time `json:"last_message_at,omitempty"`
	LastMessageDirection Direction  `json:"last_message_direction,omitempty"`
	UnreadCount          int        `json:"unread_count"`
}

// StatusChange is a compare-and-set on a message's status. It applies only while the stored
// status still equals From.
type StatusChange struct {
	MessageID string
	From      Status
	To        Status

	// Optional fields; empty values leave the stored column untouched.
	ProviderMessageID string
	ErrorText         string
	Extra             dispatch.ExtraInfo

	At time.Time
}

// applyTo mirrors the column updates of a successful StatusChange.
func (s StatusChange) applyTo(m *Message) {
	m.Status = s.To
	if s.ProviderMessageID != "" {
		m.ProviderMessageID = s.ProviderMessageID
	}
	if s.ErrorText != "" {
		m.ErrorText = s.ErrorText
	}
	if len(s.Extra) > 0 {
		m.Extra = m.Extra.Merge(s.Extra)
	}
	at := s.At
	switch s.To {
	case StatusSent:
		if m.SentAt == nil {
			m.SentAt = &at
		}
	case StatusDelivered:
		if m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
	case StatusRead:
		if m.ReadAt == nil {
			m.ReadAt = &at
		}
	case StatusFailed:
		if m.FailedAt == nil {
			m.FailedAt = &at
		}
	}
}
