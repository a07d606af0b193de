// Package fanout sends one piece of content to many recipients in parallel and reports a
// per-recipient outcome.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/compliance"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/dispatch"
	"delivery-engine/internal/metrics"
	"delivery-engine/internal/phone"
	"delivery-engine/internal/shortcode"
	"delivery-engine/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 8

var (
	ErrNoRecipients = fmt.Errorf("fanout: no eligible recipients: %w", apperr.ErrComplianceDenied)
	ErrAllFailed    = errors.New("fanout: every recipient failed")
)

// Sender is the subset of *dispatch.Dispatcher used by the coordinator.
type Sender interface {
	Ready(ch contacts.Channel) error
	SendSMS(ctx context.Context, to, body string) (dispatch.Outcome, error)
	SendEmail(ctx context.Context, to, subject, html string) (dispatch.Outcome, error)
}

type Recipient struct {
	// ID is the caller's key for the recipient, e.g. a distribution recipient row id.
	ID      string
	Contact contacts.Contact
	// Context is merged over the contact's own template values.
	Context map[string]string
}

type Request struct {
	Channel    contacts.Channel
	Subject    string
	Body       string
	Recipients []Recipient
}

type Success struct {
	RecipientID string    `json:"recipient_id"`
	ProviderID  string    `json:"provider_id"`
	At          time.Time `json:"at"`
}

type Failure struct {
	RecipientID string    `json:"recipient_id"`
	Reason      string    `json:"reason"`
	Denied      bool      `json:"denied"`
	At          time.Time `json:"at"`
}

type Status string

const (
	StatusDelivered Status = "delivered"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

// Result lists outcomes in request order.
type Result struct {
	Channel   contacts.Channel `json:"channel"`
	Succeeded []Success        `json:"succeeded"`
	Failed    []Failure        `json:"failed"`
}

// Status: every recipient failed -> failed, some failed -> sent, none failed -> delivered.
func (r Result) Status() Status {
	switch {
	case len(r.Failed) > 0 && len(r.Succeeded) == 0:
		return StatusFailed
	case len(r.Failed) > 0:
		return StatusSent
	default:
		return StatusDelivered
	}
}

type Coordinator struct {
	gate    *compliance.Gate
	sender  Sender
	workers int
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewCoordinator(gate *compliance.Gate, sender Sender, workers int, m *metrics.Metrics) *Coordinator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Coordinator{gate: gate, sender: sender, workers: workers, metrics: m, clock: time.Now}
}

type outcome struct {
	ok      bool
	success Success
	failure Failure
}

// Fanout delivers req to every recipient. Each recipient is isolated: a denial or provider
// error is recorded for that recipient only.
//
// Once started, sends are not cancelled by ctx; the result must account for every recipient.
// A missing channel configuration fails the call before any send.
func (c *Coordinator) Fanout(ctx context.Context, req Request) (Result, error) {
	if len(req.Recipients) == 0 {
		return Result{Channel: req.Channel}, ErrNoRecipients
	}
	if err := c.sender.Ready(req.Channel); err != nil {
		return Result{Channel: req.Channel}, err
	}

	log := logger.From(ctx).With("channel", req.Channel, "recipients", len(req.Recipients))
	sendCtx := context.WithoutCancel(ctx)

	outcomes := make([]outcome, len(req.Recipients))
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, rcpt := range req.Recipients {
		g.Go(func() error {
			outcomes[i] = c.deliver(sendCtx, req, rcpt)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Channel: req.Channel, Succeeded: []Success{}, Failed: []Failure{}}
	denials := 0
	for _, o := range outcomes {
		if o.ok {
			res.Succeeded = append(res.Succeeded, o.success)
			continue
		}
		res.Failed = append(res.Failed, o.failure)
		if o.failure.Denied {
			denials++
		}
	}

	status := res.Status()
	c.metrics.ObserveFanout(string(req.Channel), string(status))
	log.Info("fanout complete", "succeeded", len(res.Succeeded), "failed", len(res.Failed), "status", status)

	if status == StatusFailed {
		class := apperr.ErrProviderDispatchFailed
		if denials == len(res.Failed) {
			class = apperr.ErrComplianceDenied
		}
		return res, fmt.Errorf("%w: %w", ErrAllFailed, class)
	}
	return res, nil
}

func (c *Coordinator) deliver(ctx context.Context, req Request, r Recipient) outcome {
	fail := func(reason string, denied bool) outcome {
		return outcome{failure: Failure{RecipientID: r.ID, Reason: reason, Denied: denied, At: c.clock().UTC()}}
	}

	if c.gate != nil {
		if d := c.gate.MayDispatch(r.Contact, req.Channel); !d.Allowed {
			return fail(d.Reason, true)
		}
	}

	values := shortcode.Merge(r.Contact.TemplateContext(), r.Context)
	body := shortcode.Expand(req.Body, values)

	var (
		out dispatch.Outcome
		err error
	)
	switch req.Channel {
	case contacts.ChannelSMS:
		out, err = c.sender.SendSMS(ctx, phone.Normalize(r.Contact.Phone), body)
	case contacts.ChannelEmail:
		subject := shortcode.Expand(req.Subject, values)
		out, err = c.sender.SendEmail(ctx, r.Contact.Address(contacts.ChannelEmail), subject, body)
	default:
		return fail(fmt.Sprintf("unsupported channel %q", req.Channel), false)
	}
	if err != nil {
		return fail(err.Error(), false)
	}
	return outcome{ok: true, success: Success{RecipientID: r.ID, ProviderID: out.ProviderID, At: c.clock().UTC()}}
}
