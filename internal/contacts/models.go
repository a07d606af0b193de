package contacts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"delivery-engine/internal/apperr"
)

// Channel is a delivery channel a contact can be reached on.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

// ParseChannel accepts the wire form ("sms", "email") in any case.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q: %w", s, apperr.ErrInvalidArgument)
	}
	return c, nil
}

var ErrNotFound = fmt.Errorf("contacts: %w", apperr.ErrNotFound)

var errMissingID = errors.New("contacts: id required")

// Contact is a reachable party. The engine only ever writes its SMS consent fields.
type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`

	Active       bool `json:"active"`
	Unsubscribed bool `json:"unsubscribed"`

	SMSOptedOut      bool       `json:"sms_opted_out"`
	SMSOptedOutAt    *time.Time `json:"sms_opted_out_at,omitempty"`
	SMSOptOutKeyword string     `json:"sms_opt_out_keyword,omitempty"`
}

// Address returns the contact's address on the given channel.
func (c Contact) Address(ch Channel) string {
	switch ch {
	case ChannelSMS:
		return strings.TrimSpace(c.Phone)
	case ChannelEmail:
		return strings.ToLower(strings.TrimSpace(c.Email))
	default:
		return ""
	}
}

// TemplateContext returns the shortcode values a contact contributes to a send.
func (c Contact) TemplateContext() map[string]string {
	first, last := c.FirstName, c.LastName
	if first == "" && last == "" {
		parts := strings.Fields(c.Name)
		if len(parts) > 0 {
			first = parts[0]
		}
		if len(parts) > 1 {
			last = strings.Join(parts[1:], " ")
		}
	}
	return map[string]string{
		"contact_name":  c.Name,
		"contact_first": first,
		"contact_last":  last,
		"contact_phone": c.Phone,
		"contact_email": c.Email,
	}
}

// Consent is the SMS consent state written by inbound keywords.
type Consent struct {
	OptedOut  bool
	ChangedAt time.Time
	Keyword   string
}
