package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/compliance"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/dispatch"
	"delivery-engine/internal/metrics"
	"delivery-engine/pkg/logger"
)

type Repository interface {
	InsertMessage(ctx context.Context, m *Message) error
	Get(ctx context.Context, id string) (Message, error)
	GetByProviderID(ctx context.Context, providerMessageID string) (Message, error)
	UpdateStatus(ctx context.Context, c StatusChange) (bool, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
}

// Sender is the subset of *dispatch.Dispatcher the tracker needs.
type Sender interface {
	SendSMS(ctx context.Context, to, body string) (dispatch.Outcome, error)
	SendEmail(ctx context.Context, to, subject, html string) (dispatch.Outcome, error)
}

// Identity is the sender identity recorded on outbound messages.
type Identity struct {
	SMSFrom   string
	EmailFrom string
}

// Tracker records every message the engine sends or receives and moves it through its
// delivery lifecycle.
type Tracker struct {
	repo     Repository
	gate     *compliance.Gate
	sender   Sender
	identity Identity
	metrics  *metrics.Metrics
	clock    func() time.Time
}

func NewTracker(repo Repository, gate *compliance.Gate, sender Sender, identity Identity, m *metrics.Metrics) *Tracker {
	return &Tracker{repo: repo, gate: gate, sender: sender, identity: identity, metrics: m, clock: time.Now}
}

type OutboundRequest struct {
	Contact contacts.Contact
	Channel contacts.Channel
	Subject string
	Body    string
}

// SendOutbound sends one conversational message to a contact.
//
// The message is stored as sending before the provider is called, so a crash mid-send leaves
// a visible row. A provider failure is recorded on the message and also returned.
func (t *Tracker) SendOutbound(ctx context.Context, req OutboundRequest) (Message, error) {
	if !req.Channel.Valid() {
		return Message{}, fmt.Errorf("messaging: unknown channel %q: %w", req.Channel, apperr.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Body) == "" {
		return Message{}, ErrEmptyBody
	}
	if t.gate != nil {
		if d := t.gate.MayDispatch(req.Contact, req.Channel); !d.Allowed {
			return Message{}, d.Err()
		}
	}

	m := Message{
		ContactID: req.Contact.ID,
		Channel:   req.Channel,
		Direction: DirectionOutbound,
		Subject:   req.Subject,
		Body:      req.Body,
		From:      t.fromFor(req.Channel),
		To:        req.Contact.Address(req.Channel),
		Status:    StatusSending,
		CreatedAt: t.clock().UTC(),
	}
	return t.send(ctx, m)
}

// SendEmail sends a system email (reports, reminders) to a bare address and records it.
func (t *Tracker) SendEmail(ctx context.Context, to, subject, html string) (Message, error) {
	m := Message{
		Channel:   contacts.ChannelEmail,
		Direction: DirectionOutbound,
		Subject:   subject,
		Body:      html,
		From:      t.identity.EmailFrom,
		To:        to,
		Status:    StatusSending,
		CreatedAt: t.clock().UTC(),
	}
	return t.send(ctx, m)
}

func (t *Tracker) send(ctx context.Context, m Message) (Message, error) {
	if t.sender == nil {
		return Message{}, fmt.Errorf("messaging: sender not configured: %w", apperr.ErrConfigurationMissing)
	}
	if err := t.repo.InsertMessage(ctx, &m); err != nil {
		return Message{}, fmt.Errorf("messaging: insert message: %w", err)
	}
	log := logger.From(ctx).With("message_id", m.ID, "channel", m.Channel)

	var (
		out     dispatch.Outcome
		sendErr error
	)
	switch m.Channel {
	case contacts.ChannelSMS:
		out, sendErr = t.sender.SendSMS(ctx, m.To, m.Body)
	case contacts.ChannelEmail:
		out, sendErr = t.sender.SendEmail(ctx, m.To, m.Subject, m.Body)
	}

	change := StatusChange{MessageID: m.ID, From: StatusSending, At: t.clock().UTC()}
	if sendErr != nil {
		change.To = StatusFailed
		change.ErrorText = sendErr.Error()
		var de *dispatch.DispatchError
		if errors.As(sendErr, &de) && de.Code() != "" {
			change.Extra = dispatch.ExtraInfo{"error_code": de.Code()}
		}
	} else {
		change.To = afterDispatch(out.Status)
		change.ProviderMessageID = out.ProviderID
		change.Extra = out.Extra
	}

	ok, err := t.repo.UpdateStatus(ctx, change)
	if err != nil {
		log.Error("record dispatch outcome failed", "err", err)
	} else if ok {
		change.applyTo(&m)
	} else {
		log.Warn("message moved before dispatch outcome was recorded")
	}

	if sendErr != nil {
		return m, sendErr
	}
	return m, nil
}

func (t *Tracker) fromFor(ch contacts.Channel) string {
	if ch == contacts.ChannelEmail {
		return t.identity.EmailFrom
	}
	return t.identity.SMSFrom
}

type InboundMessage struct {
	ContactID         string
	From              string
	To                string
	Body              string
	ProviderMessageID string
	Extra             dispatch.ExtraInfo
}

// RecordInbound stores a received text. The conversation's unread count goes up with it.
func (t *Tracker) RecordInbound(ctx context.Context, in InboundMessage) (Message, error) {
	m := Message{
		ContactID:         in.ContactID,
		Channel:           contacts.ChannelSMS,
		Direction:         DirectionInbound,
		Body:              in.Body,
		From:              in.From,
		To:                in.To,
		Status:            StatusReceived,
		ProviderMessageID: in.ProviderMessageID,
		Extra:             in.Extra,
		CreatedAt:         t.clock().UTC(),
	}
	if err := t.repo.InsertMessage(ctx, &m); err != nil {
		return Message{}, fmt.Errorf("messaging: insert inbound: %w", err)
	}
	return m, nil
}

type CallbackOutcome string

const (
	CallbackApplied   CallbackOutcome = "applied"
	CallbackIgnored   CallbackOutcome = "ignored"
	CallbackUnchanged CallbackOutcome = "unchanged"
	CallbackUnknown   CallbackOutcome = "unknown"
	CallbackUnmapped  CallbackOutcome = "unmapped"
)

type CallbackResult struct {
	Outcome   CallbackOutcome `json:"outcome"`
	MessageID string          `json:"message_id,omitempty"`
	From      Status          `json:"from,omitempty"`
	To        Status          `json:"to,omitempty"`
}

const callbackAttempts = 3

// ApplyCallback moves the message identified by providerMessageID to the status the provider
// reported. Unknown ids and disallowed transitions are not errors.
func (t *Tracker) ApplyCallback(ctx context.Context, providerMessageID, providerStatus, errorText string) (CallbackResult, error) {
	res, err := t.applyCallback(ctx, providerMessageID, providerStatus, errorText)
	if err == nil {
		t.metrics.ObserveCallback(string(res.Outcome))
	}
	return res, err
}

func (t *Tracker) applyCallback(ctx context.Context, providerMessageID, providerStatus, errorText string) (CallbackResult, error) {
	log := logger.From(ctx).With("provider_message_id", providerMessageID, "provider_status", providerStatus)

	to := MapTwilioStatus(providerStatus)
	if to == "" {
		log.Warn("unmapped provider status")
		return CallbackResult{Outcome: CallbackUnmapped}, nil
	}
	if providerMessageID == "" {
		return CallbackResult{Outcome: CallbackUnknown, To: to}, nil
	}

	for attempt := 0; attempt < callbackAttempts; attempt++ {
		m, err := t.repo.GetByProviderID(ctx, providerMessageID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				log.Info("status callback for unknown message")
				return CallbackResult{Outcome: CallbackUnknown, To: to}, nil
			}
			return CallbackResult{}, err
		}
		res := CallbackResult{MessageID: m.ID, From: m.Status, To: to}
		if m.Status == to {
			res.Outcome = CallbackUnchanged
			return res, nil
		}
		if !CanTransition(m.Status, to) {
			log.Info("status transition ignored", "message_id", m.ID, "from", m.Status, "to", to)
			res.Outcome = CallbackIgnored
			return res, nil
		}

		change := StatusChange{MessageID: m.ID, From: m.Status, To: to, At: t.clock().UTC()}
		if to == StatusFailed {
			change.ErrorText = errorText
		}
		ok, err := t.repo.UpdateStatus(ctx, change)
		if err != nil {
			return CallbackResult{}, err
		}
		if ok {
			log.Debug("status transition applied", "message_id", m.ID, "from", m.Status, "to", to)
			res.Outcome = CallbackApplied
			return res, nil
		}
	}
	log.Warn("status callback lost compare-and-set repeatedly")
	return CallbackResult{Outcome: CallbackIgnored, To: to}, nil
}

// MarkConversationRead resets the unread counter of a conversation.
func (t *Tracker) MarkConversationRead(ctx context.Context, conversationID string) (Conversation, error) {
	if conversationID == "" {
		return Conversation{}, fmt.Errorf("messaging: conversation id required: %w", apperr.ErrInvalidArgument)
	}
	if err := t.repo.MarkConversationRead(ctx, conversationID); err != nil {
		return Conversation{}, err
	}
	return t.repo.GetConversation(ctx, conversationID)
}
