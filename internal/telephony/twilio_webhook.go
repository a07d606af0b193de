package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"delivery-engine/internal/messaging"
)

// TwilioInboundSMSForm captures the messaging webhook fields we use.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/messaging/guides/webhook-request
type TwilioInboundSMSForm struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
	NumMedia   int
}

func ParseTwilioInboundSMS(r *http.Request) (TwilioInboundSMSForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundSMSForm{}, err
	}
	n, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	return TwilioInboundSMSForm{
		MessageSid: firstNonEmpty(r.PostFormValue("MessageSid"), r.PostFormValue("SmsSid")),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		Body:       r.PostFormValue("Body"),
		NumMedia:   n,
	}, nil
}

func (f TwilioInboundSMSForm) ToInboundSMS() messaging.InboundSMS {
	return messaging.InboundSMS{
		MessageSid: f.MessageSid,
		From:       f.From,
		To:         f.To,
		Body:       f.Body,
		NumMedia:   f.NumMedia,
	}
}

// TwilioStatusForm is a message status callback.
type TwilioStatusForm struct {
	MessageSid    string
	MessageStatus string
	ErrorCode     string
	ErrorMessage  string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		MessageSid:    firstNonEmpty(r.PostFormValue("MessageSid"), r.PostFormValue("SmsSid")),
		MessageStatus: firstNonEmpty(r.PostFormValue("MessageStatus"), r.PostFormValue("SmsStatus")),
		ErrorCode:     strings.TrimSpace(r.PostFormValue("ErrorCode")),
		ErrorMessage:  strings.TrimSpace(r.PostFormValue("ErrorMessage")),
	}, nil
}

// ErrorText is what gets stored on a failed message.
func (f TwilioStatusForm) ErrorText() string {
	switch {
	case f.ErrorCode != "" && f.ErrorMessage != "":
		return f.ErrorCode + ": " + f.ErrorMessage
	case f.ErrorMessage != "":
		return f.ErrorMessage
	case f.ErrorCode != "":
		return "Twilio error " + f.ErrorCode
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
