// Package dispatch sends one message through one channel and returns a normalized outcome.
// It never retries: a failed send is reported to the caller and recorded there.
package dispatch

import (
	"context"
	"sort"
	"strings"

	"delivery-engine/internal/contacts"
)

// MaxSMSLength is the hard limit of a single SMS segment.
const MaxSMSLength = 160

// ExtraInfo carries provider-specific response details (segment count, provider status,
// error code). Keys are lower_snake_case.
type ExtraInfo map[string]string

// Keys returns the keys in sorted order.
func (e ExtraInfo) Keys() []string {
	out := make([]string, 0, len(e))
	for k := range e {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Merge returns a copy of e overlaid with other.
func (e ExtraInfo) Merge(other ExtraInfo) ExtraInfo {
	out := make(ExtraInfo, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// SMS is a single outbound text as handed to the SMS gateway.
type SMS struct {
	From              string
	To                string
	Body              string
	StatusCallbackURL string
}

// Email is a single outbound email as handed to the email gateway.
type Email struct {
	FromAddress string
	FromName    string
	To          string
	Subject     string
	HTML        string
}

// Receipt is what a gateway returns for an accepted message.
type Receipt struct {
	ProviderMessageID string
	// Status is the provider's own status word, e.g. "queued" for Twilio.
	Status string
	Extra  ExtraInfo
}

type SMSGateway interface {
	SendSMS(ctx context.Context, msg SMS) (Receipt, error)
}

type EmailGateway interface {
	SendEmail(ctx context.Context, msg Email) (Receipt, error)
}

// Outcome is the normalized result of a successful send.
type Outcome struct {
	Channel    contacts.Channel `json:"channel"`
	To         string           `json:"to"`
	ProviderID string           `json:"provider_id"`
	Status     string           `json:"status,omitempty"`
	Extra      ExtraInfo        `json:"extra,omitempty"`
}

// TruncateSMS cuts body to MaxSMSLength characters.
func TruncateSMS(body string) string {
	if len(body) <= MaxSMSLength {
		return body
	}
	r := []rune(body)
	if len(r) <= MaxSMSLength {
		return body
	}
	return string(r[:MaxSMSLength])
}

func normalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
