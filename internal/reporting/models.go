package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// WeekRange is [weekStart, weekStart+7d).
func WeekRange(weekStart time.Time) TimeRange {
	return TimeRange{From: weekStart, To: weekStart.AddDate(0, 0, 7)}
}

type DigestState string

const (
	DigestProvisional DigestState = "provisional"
	DigestFinal       DigestState = "final"
)

// ChannelTotals counts recipient outcomes on one channel.
type ChannelTotals struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

type MessageTotals struct {
	Outbound  int `json:"outbound"`
	Inbound   int `json:"inbound"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Counts is the raw aggregation over one time range.
type Counts struct {
	Distributions      int           `json:"distributions"`
	RecipientsTargeted int           `json:"recipients_targeted"`
	RecipientsReached  int           `json:"recipients_reached"`
	SMS                ChannelTotals `json:"sms"`
	Email              ChannelTotals `json:"email"`
	Messages           MessageTotals `json:"messages"`
	SMSOptOuts         int           `json:"sms_opt_outs"`
}

// WeeklyDigest is the stored delivery summary of one week. It is provisional while the week
// is in its grace period and final afterwards.
type WeeklyDigest struct {
	WeekStart   time.Time   `json:"week_start"`
	WeekEnd     time.Time   `json:"week_end"`
	State       DigestState `json:"state"`
	Counts      Counts      `json:"counts"`
	ComputedAt  time.Time   `json:"computed_at"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty"`
}

// DeliveryRate is reached/targeted, 0 when nothing was targeted.
func (d WeeklyDigest) DeliveryRate() float64 {
	if d.Counts.RecipientsTargeted == 0 {
		return 0
	}
	return float64(d.Counts.RecipientsReached) / float64(d.Counts.RecipientsTargeted)
}
