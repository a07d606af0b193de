package dispatch

import (
	"context"

	"delivery-engine/pkg/logger"

	"github.com/google/uuid"
)

// LogGateway accepts every message and only logs it. It is meant for local development where no
// provider credentials exist.
type LogGateway struct{}

func (LogGateway) SendEmail(ctx context.Context, msg Email) (Receipt, error) {
	id := "log-" + uuid.NewString()
	logger.From(ctx).Info("email not sent (log gateway)",
		"to", logger.RedactEmail(msg.To),
		"subject", msg.Subject,
		"provider_id", id,
	)
	return Receipt{ProviderMessageID: id, Status: "logged", Extra: ExtraInfo{"provider": "log"}}, nil
}

func (LogGateway) SendSMS(ctx context.Context, msg SMS) (Receipt, error) {
	id := "log-" + uuid.NewString()
	logger.From(ctx).Info("sms not sent (log gateway)",
		"to", logger.RedactPhone(msg.To),
		"chars", len([]rune(msg.Body)),
		"provider_id", id,
	)
	return Receipt{ProviderMessageID: id, Status: "sent", Extra: ExtraInfo{"provider": "log"}}, nil
}
