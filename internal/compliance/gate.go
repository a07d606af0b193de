// Package compliance decides whether a contact may be messaged and applies inbound
// opt-out/opt-in keywords to the contact's SMS consent.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
	"delivery-engine/pkg/logger"
)

// Denial reasons are stored verbatim on recipient records.
const (
	ReasonSMSOptedOut       = "Contact has opted out of SMS"
	ReasonNoPhone           = "Contact has no phone number"
	ReasonNoEmail           = "Contact has no email address"
	ReasonEmailUnsubscribed = "Contact has unsubscribed from email"
)

const (
	OptOutReply = "You have been unsubscribed and will not receive further text messages. Reply START to resubscribe."
	OptInReply  = "You have been resubscribed to text messages. Reply STOP to unsubscribe."
)

type KeywordAction string

const (
	KeywordNone   KeywordAction = ""
	KeywordOptOut KeywordAction = "opt_out"
	KeywordOptIn  KeywordAction = "opt_in"
)

var optOutKeywords = map[string]struct{}{"STOP": {}, "UNSUBSCRIBE": {}, "CANCEL": {}, "QUIT": {}}
var optInKeywords = map[string]struct{}{"START": {}, "YES": {}}

// Decision is the outcome of a dispatch eligibility check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision              { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// Err converts a denial into a ComplianceDenied-class error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%s: %w", d.Reason, apperr.ErrComplianceDenied)
}

// KeywordResult reports what an inbound body did to the contact's consent.
type KeywordResult struct {
	Matched bool
	Action  KeywordAction
	Keyword string
	Reply   string
	Contact contacts.Contact
}

// ConsentStore persists SMS consent changes.
type ConsentStore interface {
	UpdateSMSConsent(ctx context.Context, contactID string, consent contacts.Consent) error
}

// AuditLogger records consent changes. Failures are logged and never block the keyword.
type AuditLogger interface {
	LogConsentChange(ctx context.Context, contactID, keyword string, optedOut bool) error
}

type Gate struct {
	store ConsentStore
	audit AuditLogger
	clock func() time.Time
}

func NewGate(store ConsentStore, audit AuditLogger) *Gate {
	return &Gate{store: store, audit: audit, clock: time.Now}
}

// MayDispatch reads the contact's consent as given; it never reloads it.
func (g *Gate) MayDispatch(c contacts.Contact, ch contacts.Channel) Decision {
	switch ch {
	case contacts.ChannelSMS:
		if c.SMSOptedOut {
			return deny(ReasonSMSOptedOut)
		}
		if c.Address(ch) == "" {
			return deny(ReasonNoPhone)
		}
	case contacts.ChannelEmail:
		if c.Unsubscribed {
			return deny(ReasonEmailUnsubscribed)
		}
		if c.Address(ch) == "" {
			return deny(ReasonNoEmail)
		}
	}
	return allow()
}

// MatchKeyword classifies an inbound body. Only an exact keyword (trimmed, any case) matches.
func MatchKeyword(rawBody string) (KeywordAction, string) {
	kw := strings.ToUpper(strings.TrimSpace(rawBody))
	if _, ok := optOutKeywords[kw]; ok {
		return KeywordOptOut, kw
	}
	if _, ok := optInKeywords[kw]; ok {
		return KeywordOptIn, kw
	}
	return KeywordNone, ""
}

// ApplyInboundKeyword updates the contact's SMS consent when rawBody is an opt-out or opt-in
// keyword and returns the auto-reply to send back. It must run before any other processing of
// an inbound body.
func (g *Gate) ApplyInboundKeyword(ctx context.Context, c contacts.Contact, rawBody string) (KeywordResult, error) {
	action, kw := MatchKeyword(rawBody)
	if action == KeywordNone {
		return KeywordResult{Contact: c}, nil
	}
	if g.store == nil {
		return KeywordResult{}, fmt.Errorf("compliance: consent store not configured: %w", apperr.ErrConfigurationMissing)
	}

	now := g.clock().UTC()
	res := KeywordResult{Matched: true, Action: action, Keyword: kw}
	consent := contacts.Consent{ChangedAt: now, Keyword: kw}

	switch action {
	case KeywordOptOut:
		consent.OptedOut = true
		res.Reply = OptOutReply
		c.SMSOptedOut = true
		c.SMSOptedOutAt = &now
		c.SMSOptOutKeyword = kw
	case KeywordOptIn:
		res.Reply = OptInReply
		c.SMSOptedOut = false
		c.SMSOptedOutAt = nil
		c.SMSOptOutKeyword = kw
	}

	if err := g.store.UpdateSMSConsent(ctx, c.ID, consent); err != nil {
		return KeywordResult{}, fmt.Errorf("compliance: update consent for %s: %w", c.ID, err)
	}
	res.Contact = c

	log := logger.From(ctx)
	log.Info("sms consent changed", "contact_id", c.ID, "keyword", kw, "opted_out", consent.OptedOut)
	if g.audit != nil {
		if err := g.audit.LogConsentChange(ctx, c.ID, kw, consent.OptedOut); err != nil {
			log.Warn("audit consent change failed", "contact_id", c.ID, "err", err)
		}
	}
	return res, nil
}
