package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/metrics"
	"delivery-engine/internal/phone"
	"delivery-engine/pkg/logger"

	"golang.org/x/time/rate"
)

type Config struct {
	SMSFrom           string
	StatusCallbackURL string

	EmailFrom     string
	EmailFromName string

	// SMSPerSecond paces SMS sends across all callers of this dispatcher. Zero disables pacing.
	SMSPerSecond float64
	SMSBurst     int
}

var (
	ErrSMSNotConfigured   = fmt.Errorf("dispatch: sms gateway or sender number missing: %w", apperr.ErrConfigurationMissing)
	ErrEmailNotConfigured = fmt.Errorf("dispatch: email gateway or sender address missing: %w", apperr.ErrConfigurationMissing)
	ErrEmptyAddress       = fmt.Errorf("dispatch: recipient address required: %w", apperr.ErrInvalidArgument)
)

type Dispatcher struct {
	sms     SMSGateway
	email   EmailGateway
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(sms SMSGateway, email EmailGateway, cfg Config, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{sms: sms, email: email, cfg: cfg, metrics: m, now: time.Now}
	if cfg.SMSPerSecond > 0 {
		burst := cfg.SMSBurst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.SMSPerSecond), burst)
	}
	return d
}

// Ready reports whether ch can be sent on at all. Callers check it before starting a fan-out so
// a missing credential fails the whole operation instead of every recipient.
func (d *Dispatcher) Ready(ch contacts.Channel) error {
	switch ch {
	case contacts.ChannelSMS:
		if d.sms == nil || d.cfg.SMSFrom == "" {
			return ErrSMSNotConfigured
		}
	case contacts.ChannelEmail:
		if d.email == nil || d.cfg.EmailFrom == "" {
			return ErrEmailNotConfigured
		}
	default:
		return fmt.Errorf("dispatch: unknown channel %q: %w", ch, apperr.ErrInvalidArgument)
	}
	return nil
}

// SendSMS normalizes the number, truncates the body to one segment and sends it once.
func (d *Dispatcher) SendSMS(ctx context.Context, to, body string) (Outcome, error) {
	if err := d.Ready(contacts.ChannelSMS); err != nil {
		return Outcome{}, err
	}
	to = phone.Normalize(to)
	if to == "" {
		return Outcome{}, ErrEmptyAddress
	}
	log := logger.From(ctx).With("channel", contacts.ChannelSMS, "to", logger.RedactPhone(to))

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Outcome{}, &DispatchError{Channel: contacts.ChannelSMS, To: to, Err: fmt.Errorf("send not attempted: %w", err)}
		}
	}

	start := d.now()
	rcpt, err := d.sms.SendSMS(ctx, SMS{
		From:              d.cfg.SMSFrom,
		To:                to,
		Body:              TruncateSMS(body),
		StatusCallbackURL: d.cfg.StatusCallbackURL,
	})
	if err != nil {
		d.metrics.ObserveDispatch(string(contacts.ChannelSMS), "error", d.now().Sub(start))
		log.Warn("sms dispatch failed", "err", err)
		return Outcome{}, &DispatchError{Channel: contacts.ChannelSMS, To: to, Err: err}
	}
	d.metrics.ObserveDispatch(string(contacts.ChannelSMS), "ok", d.now().Sub(start))
	log.Debug("sms dispatched", "provider_id", rcpt.ProviderMessageID, "provider_status", rcpt.Status)

	return Outcome{
		Channel:    contacts.ChannelSMS,
		To:         to,
		ProviderID: rcpt.ProviderMessageID,
		Status:     rcpt.Status,
		Extra:      rcpt.Extra,
	}, nil
}

// SendEmail sends one HTML email once.
func (d *Dispatcher) SendEmail(ctx context.Context, to, subject, html string) (Outcome, error) {
	if err := d.Ready(contacts.ChannelEmail); err != nil {
		return Outcome{}, err
	}
	to = normalizeEmail(to)
	if to == "" {
		return Outcome{}, ErrEmptyAddress
	}
	log := logger.From(ctx).With("channel", contacts.ChannelEmail, "to", logger.RedactEmail(to))

	start := d.now()
	rcpt, err := d.email.SendEmail(ctx, Email{
		FromAddress: d.cfg.EmailFrom,
		FromName:    d.cfg.EmailFromName,
		To:          to,
		Subject:     subject,
		HTML:        html,
	})
	if err != nil {
		d.metrics.ObserveDispatch(string(contacts.ChannelEmail), "error", d.now().Sub(start))
		log.Warn("email dispatch failed", "err", err)
		return Outcome{}, &DispatchError{Channel: contacts.ChannelEmail, To: to, Err: err}
	}
	d.metrics.ObserveDispatch(string(contacts.ChannelEmail), "ok", d.now().Sub(start))
	log.Debug("email dispatched", "provider_id", rcpt.ProviderMessageID)

	return Outcome{
		Channel:    contacts.ChannelEmail,
		To:         to,
		ProviderID: rcpt.ProviderMessageID,
		Status:     rcpt.Status,
		Extra:      rcpt.Extra,
	}, nil
}

// IsDispatchError reports whether err came back from a provider call.
func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}
