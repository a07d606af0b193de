package reporting

import (
	"context"
	"sync"
	"time"

	"delivery-engine/internal/contacts"
	"delivery-engine/internal/distribution"
	"delivery-engine/internal/messaging"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
type MemoryRepo struct {
	mu sync.Mutex

	Distributions []distribution.Distribution
	Recipients    []distribution.Recipient
	Messages      []messaging.Message
	Contacts      []contacts.Contact

	digests map[time.Time]WeeklyDigest
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{digests: map[time.Time]WeeklyDigest{}} }

func inRange(t time.Time, r TimeRange) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

func (r *MemoryRepo) Count(ctx context.Context, tr TimeRange) (Counts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c Counts
	weekly := map[string]distribution.Distribution{}
	for _, d := range r.Distributions {
		if !inRange(d.SentAt, tr) {
			continue
		}
		weekly[d.ID] = d
		c.Distributions++
		c.RecipientsTargeted += d.TotalSent
		c.RecipientsReached += d.TotalDelivered
	}
	for _, rc := range r.Recipients {
		d, ok := weekly[rc.DistributionID]
		if !ok {
			continue
		}
		if d.HasChannel(contacts.ChannelSMS) {
			tally(&c.SMS, rc.SMS.Status)
		}
		if d.HasChannel(contacts.ChannelEmail) {
			tally(&c.Email, rc.Email.Status)
		}
	}
	for _, m := range r.Messages {
		if !inRange(m.CreatedAt, tr) {
			continue
		}
		if m.Direction == messaging.DirectionInbound {
			c.Messages.Inbound++
			continue
		}
		c.Messages.Outbound++
		switch m.Status {
		case messaging.StatusDelivered, messaging.StatusRead:
			c.Messages.Delivered++
		case messaging.StatusFailed:
			c.Messages.Failed++
		}
	}
	for _, ct := range r.Contacts {
		if ct.SMSOptedOut && ct.SMSOptedOutAt != nil && inRange(*ct.SMSOptedOutAt, tr) {
			c.SMSOptOuts++
		}
	}
	return c, nil
}

func tally(t *ChannelTotals, s distribution.ChannelStatus) {
	switch s {
	case distribution.ChannelSent:
		t.Sent++
	case distribution.ChannelFailed:
		t.Failed++
	default:
		t.Pending++
	}
}

func (r *MemoryRepo) SaveDigest(ctx context.Context, d WeeklyDigest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := d.WeekStart.UTC()
	if cur, ok := r.digests[key]; ok && cur.State == DigestFinal {
		return nil
	}
	r.digests[key] = d
	return nil
}

func (r *MemoryRepo) GetDigest(ctx context.Context, weekStart time.Time) (WeeklyDigest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.digests[weekStart.UTC()]
	if !ok {
		return WeeklyDigest{}, ErrDigestNotFound
	}
	return d, nil
}
