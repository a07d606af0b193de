package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"delivery-engine/internal/compliance"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/dispatch"
	"delivery-engine/internal/metrics"
	"delivery-engine/internal/phone"
	"delivery-engine/pkg/logger"
)

type ContactFinder interface {
	FindByPhone(ctx context.Context, e164 string) (contacts.Contact, error)
}

// InboundSMS is a received text as reported by the SMS provider.
type InboundSMS struct {
	MessageSid string
	From       string
	To         string
	Body       string
	NumMedia   int
}

type InboundResult struct {
	Known   bool                     `json:"known"`
	Keyword compliance.KeywordResult `json:"-"`
	Message Message                  `json:"message"`
	// Reply is sent back to the sender; empty means no reply.
	Reply string `json:"reply,omitempty"`
}

// Inbox processes inbound texts: consent keywords first, then the conversation write.
type Inbox struct {
	contacts ContactFinder
	gate     *compliance.Gate
	tracker  *Tracker
	region   string
	metrics  *metrics.Metrics
}

func NewInbox(finder ContactFinder, gate *compliance.Gate, tracker *Tracker, region string, m *metrics.Metrics) *Inbox {
	if region == "" {
		region = phone.DefaultRegion
	}
	return &Inbox{contacts: finder, gate: gate, tracker: tracker, region: region, metrics: m}
}

// HandleInbound matches the sender to a contact, applies STOP/START style keywords and records
// the message. Texts from numbers with no matching contact are logged and dropped.
func (i *Inbox) HandleInbound(ctx context.Context, in InboundSMS) (InboundResult, error) {
	key := phone.LookupKey(in.From, i.region)
	log := logger.From(ctx).With("from", logger.RedactPhone(key), "message_sid", in.MessageSid)

	c, err := i.contacts.FindByPhone(ctx, key)
	if err != nil {
		if errors.Is(err, contacts.ErrNotFound) {
			log.Info("inbound sms from unknown number")
			i.metrics.ObserveInbound("unknown_sender")
			return InboundResult{}, nil
		}
		return InboundResult{}, fmt.Errorf("messaging: find contact: %w", err)
	}

	kw, err := i.gate.ApplyInboundKeyword(ctx, c, in.Body)
	if err != nil {
		return InboundResult{}, err
	}
	i.metrics.ObserveInbound(string(kw.Action))

	var extra dispatch.ExtraInfo
	if in.NumMedia > 0 {
		extra = dispatch.ExtraInfo{"num_media": strconv.Itoa(in.NumMedia)}
	}
	m, err := i.tracker.RecordInbound(ctx, InboundMessage{
		ContactID:         c.ID,
		From:              key,
		To:                in.To,
		Body:              in.Body,
		ProviderMessageID: in.MessageSid,
		Extra:             extra,
	})
	if err != nil {
		return InboundResult{}, err
	}

	log.Info("inbound sms recorded", "contact_id", c.ID, "message_id", m.ID, "keyword", kw.Keyword)
	return InboundResult{Known: true, Keyword: kw, Message: m, Reply: kw.Reply}, nil
}
