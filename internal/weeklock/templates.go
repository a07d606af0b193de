package weeklock

import (
	"fmt"
	"time"

	"delivery-engine/internal/reporting"

	"github.com/osteele/liquid"
)

const reminderTemplate = `<h2>Weekly delivery lock</h2>
<p>The week of {{ week_start }} locks on {{ lock_at }} ({{ timezone }}).</p>
<p>Distributions sent after that point count toward the following week.
Delivery updates for locked weeks are accepted for {{ grace_hours }} hours after the lock.</p>`

const summaryTemplate = `<h2>Delivery summary: week of {{ week_start }}</h2>
<p>This summary is {{ state }}. Late delivery updates are accepted until {{ grace_ends }}.</p>
<table>
<tr><td>Distributions</td><td>{{ distributions }}</td></tr>
<tr><td>Recipients targeted</td><td>{{ targeted }}</td></tr>
<tr><td>Recipients reached</td><td>{{ reached }} ({{ delivery_rate }})</td></tr>
<tr><td>SMS sent / failed</td><td>{{ sms.sent }} / {{ sms.failed }}</td></tr>
<tr><td>Email sent / failed</td><td>{{ email.sent }} / {{ email.failed }}</td></tr>
<tr><td>Messages out / in</td><td>{{ messages.outbound }} / {{ messages.inbound }}</td></tr>
<tr><td>SMS opt-outs</td><td>{{ opt_outs }}</td></tr>
</table>
{% if sms.failed > 0 or email.failed > 0 %}<p>Failed recipients can be retried until their response links expire.</p>{% endif %}`

const displayLayout = "Mon Jan 2 15:04"

type renderer struct {
	reminder *liquid.Template
	summary  *liquid.Template
}

func newRenderer() (*renderer, error) {
	engine := liquid.NewEngine()
	reminder, err := engine.ParseString(reminderTemplate)
	if err != nil {
		return nil, fmt.Errorf("weeklock: parse reminder template: %w", err)
	}
	summary, err := engine.ParseString(summaryTemplate)
	if err != nil {
		return nil, fmt.Errorf("weeklock: parse summary template: %w", err)
	}
	return &renderer{reminder: reminder, summary: summary}, nil
}

func (r *renderer) renderReminder(weekStart time.Time, grace time.Duration) (string, string, error) {
	lockAt := weekStart.AddDate(0, 0, 7)
	body, err := r.reminder.RenderString(liquid.Bindings{
		"week_start":  weekStart.Format(time.DateOnly),
		"lock_at":     lockAt.Format(displayLayout),
		"timezone":    lockAt.Location().String(),
		"grace_hours": int(grace.Hours()),
	})
	if err != nil {
		return "", "", fmt.Errorf("weeklock: render reminder: %w", err)
	}
	return "Weekly delivery lock on " + lockAt.Format(time.DateOnly), body, nil
}

func (r *renderer) renderSummary(weekStart time.Time, d reporting.WeeklyDigest, graceEnds time.Time) (string, string, error) {
	c := d.Counts
	body, err := r.summary.RenderString(liquid.Bindings{
		"week_start":    weekStart.Format(time.DateOnly),
		"state":         string(d.State),
		"grace_ends":    graceEnds.Format(displayLayout),
		"distributions": c.Distributions,
		"targeted":      c.RecipientsTargeted,
		"reached":       c.RecipientsReached,
		"delivery_rate": fmt.Sprintf("%.1f%%", d.DeliveryRate()*100),
		"sms":           map[string]any{"sent": c.SMS.Sent, "failed": c.SMS.Failed},
		"email":         map[string]any{"sent": c.Email.Sent, "failed": c.Email.Failed},
		"messages":      map[string]any{"outbound": c.Messages.Outbound, "inbound": c.Messages.Inbound},
		"opt_outs":      c.SMSOptOuts,
	})
	if err != nil {
		return "", "", fmt.Errorf("weeklock: render summary: %w", err)
	}
	return "Delivery summary for the week of " + weekStart.Format(time.DateOnly), body, nil
}
