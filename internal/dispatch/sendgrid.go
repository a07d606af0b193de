package dispatch

import (
	"context"
	"errors"
	"strconv"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridGateway sends email through the SendGrid v3 mail API.
type SendGridGateway struct {
	apiKey string
	// baseURL overrides the mail send endpoint; empty means the SendGrid default.
	baseURL string
}

func NewSendGridGateway(apiKey string) (*SendGridGateway, error) {
	if apiKey == "" {
		return nil, errors.New("dispatch: sendgrid api key required")
	}
	return &SendGridGateway{apiKey: apiKey}, nil
}

// WithBaseURL points the gateway at a different mail send endpoint.
func (g *SendGridGateway) WithBaseURL(u string) *SendGridGateway {
	out := *g
	out.baseURL = u
	return &out
}

func (g *SendGridGateway) SendEmail(ctx context.Context, msg Email) (Receipt, error) {
	from := mail.NewEmail(msg.FromName, msg.FromAddress)
	to := mail.NewEmail("", msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, "", msg.HTML)

	// The client carries the request body, so each send gets its own.
	client := sendgrid.NewSendClient(g.apiKey)
	if g.baseURL != "" {
		client.BaseURL = g.baseURL
	}

	resp, err := client.SendWithContext(ctx, message)
	if err != nil {
		return Receipt{}, err
	}
	if resp.StatusCode >= 400 {
		return Receipt{}, &GatewayError{
			Provider:   "sendgrid",
			HTTPStatus: resp.StatusCode,
			Message:    sendGridErrorMessage(resp.Body, resp.StatusCode),
		}
	}

	id := ""
	if v := resp.Headers["X-Message-Id"]; len(v) > 0 {
		id = v[0]
	}
	return Receipt{
		ProviderMessageID: id,
		Status:            "accepted",
		Extra:             ExtraInfo{"provider": "sendgrid", "http_status": strconv.Itoa(resp.StatusCode)},
	}, nil
}
