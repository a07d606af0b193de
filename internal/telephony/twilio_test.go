package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"delivery-engine/internal/dispatch"
)

func TestTwilioClient_SendSMS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("expected basic auth")
		}
		_ = r.ParseForm()
		if r.PostFormValue("To") != "+15125550001" || r.PostFormValue("StatusCallback") != "https://hooks.example.com/webhooks/twilio/status" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued","num_segments":"1","price":null}`))
	}))
	defer srv.Close()

	c := NewTwilioClient("AC123", "secret", srv.URL)
	rcpt, err := c.SendSMS(context.Background(), dispatch.SMS{
		From:              "+15005550006",
		To:                "+15125550001",
		Body:              "hi",
		StatusCallbackURL: "https://hooks.example.com/webhooks/twilio/status",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rcpt.ProviderMessageID != "SM123" || rcpt.Status != "queued" {
		t.Fatalf("unexpected receipt: %+v", rcpt)
	}
	if rcpt.Extra["num_segments"] != "1" || rcpt.Extra["twilio_status"] != "queued" {
		t.Fatalf("unexpected extra: %+v", rcpt.Extra)
	}
}

func TestTwilioClient_SendSMS_ProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number +1555 is not a valid phone number.","status":400}`))
	}))
	defer srv.Close()

	c := NewTwilioClient("AC123", "secret", srv.URL)
	_, err := c.SendSMS(context.Background(), dispatch.SMS{From: "+15005550006", To: "+1555", Body: "hi"})
	var ge *dispatch.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if ge.Code != "21211" || ge.HTTPStatus != 400 {
		t.Fatalf("unexpected gateway error: %+v", ge)
	}
	if err.Error() != "The 'To' number +1555 is not a valid phone number." {
		t.Fatalf("expected provider text, got %q", err.Error())
	}
}
