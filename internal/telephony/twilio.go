package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"delivery-engine/internal/dispatch"
)

const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioClient sends SMS through the Twilio Messages REST resource.
// It is the only place that talks to Twilio's API.
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
}

func NewTwilioClient(accountSID, authToken, baseURL string) *TwilioClient {
	if baseURL == "" {
		baseURL = DefaultTwilioBaseURL
	}
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

type twilioMessage struct {
	SID         string  `json:"sid"`
	Status      string  `json:"status"`
	NumSegments string  `json:"num_segments"`
	Price       *string `json:"price"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// SendSMS implements dispatch.SMSGateway.
func (c *TwilioClient) SendSMS(ctx context.Context, msg dispatch.SMS) (dispatch.Receipt, error) {
	form := url.Values{}
	form.Set("From", msg.From)
	form.Set("To", msg.To)
	form.Set("Body", msg.Body)
	if msg.StatusCallbackURL != "" {
		form.Set("StatusCallback", msg.StatusCallbackURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return dispatch.Receipt{}, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dispatch.Receipt{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return dispatch.Receipt{}, fmt.Errorf("twilio response read failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		var te twilioError
		_ = json.Unmarshal(body, &te)
		ge := &dispatch.GatewayError{Provider: "twilio", HTTPStatus: resp.StatusCode, Message: te.Message}
		if te.Code != 0 {
			ge.Code = strconv.Itoa(te.Code)
		}
		return dispatch.Receipt{}, ge
	}

	var tm twilioMessage
	if err := json.Unmarshal(body, &tm); err != nil {
		return dispatch.Receipt{}, fmt.Errorf("twilio response decode failed: %w", err)
	}
	extra := dispatch.ExtraInfo{"twilio_status": tm.Status}
	if tm.NumSegments != "" {
		extra["num_segments"] = tm.NumSegments
	}
	if tm.Price != nil {
		extra["price"] = *tm.Price
	}
	return dispatch.Receipt{ProviderMessageID: tm.SID, Status: tm.Status, Extra: extra}, nil
}
