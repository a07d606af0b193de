package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubSMS struct {
	mu   sync.Mutex
	sent []SMS
	err  error
}

func (s *stubSMS) SendSMS(ctx context.Context, msg SMS) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.err != nil {
		return Receipt{}, s.err
	}
	return Receipt{ProviderMessageID: "SM1", Status: "queued", Extra: ExtraInfo{"num_segments": "1"}}, nil
}

type stubEmail struct {
	sent []Email
	err  error
}

func (s *stubEmail) SendEmail(ctx context.Context, msg Email) (Receipt, error) {
	s.sent = append(s.sent, msg)
	if s.err != nil {
		return Receipt{}, s.err
	}
	return Receipt{ProviderMessageID: "em-1", Status: "accepted"}, nil
}

func TestSendSMS_NormalizesAndTruncates(t *testing.T) {
	sms := &stubSMS{}
	d := New(sms, nil, Config{SMSFrom: "+15125550000", StatusCallbackURL: "https://example.com/webhooks/twilio/status"}, nil)

	body := strings.Repeat("a", 200)
	out, err := d.SendSMS(context.Background(), "512-555-1234", body)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.ProviderID != "SM1" || out.Status != "queued" || out.To != "+15125551234" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sms.sent))
	}
	got := sms.sent[0]
	if got.To != "+15125551234" {
		t.Fatalf("expected normalized number, got %q", got.To)
	}
	if len([]rune(got.Body)) != MaxSMSLength {
		t.Fatalf("expected body truncated to %d, got %d", MaxSMSLength, len([]rune(got.Body)))
	}
	if got.StatusCallbackURL == "" || got.From != "+15125550000" {
		t.Fatalf("expected sender and callback url: %+v", got)
	}
}

func TestTruncateSMS_CountsRunes(t *testing.T) {
	body := strings.Repeat("é", 170)
	got := TruncateSMS(body)
	if len([]rune(got)) != MaxSMSLength {
		t.Fatalf("expected %d runes, got %d", MaxSMSLength, len([]rune(got)))
	}
	if short := "hello"; TruncateSMS(short) != short {
		t.Fatalf("short body changed")
	}
}

func TestSendSMS_ProviderErrorIsDispatchError(t *testing.T) {
	sms := &stubSMS{err: &GatewayError{Provider: "twilio", HTTPStatus: 400, Code: "21211", Message: "The 'To' number 12345 is not a valid phone number."}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d := New(sms, nil, Config{SMSFrom: "+15125550000"}, m)

	_, err := d.SendSMS(context.Background(), "12345", "hi")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, apperr.ErrProviderDispatchFailed) {
		t.Fatalf("expected provider dispatch class, got %v", err)
	}
	var de *DispatchError
	if !errors.As(err, &de) || de.Code() != "21211" {
		t.Fatalf("expected dispatch error with code, got %#v", err)
	}
	if err.Error() != "The 'To' number 12345 is not a valid phone number." {
		t.Fatalf("expected gateway text, got %q", err.Error())
	}
	if got := testutil.ToFloat64(m.DispatchesTotal.WithLabelValues("sms", "error")); got != 1 {
		t.Fatalf("expected error metric, got %v", got)
	}
}

func TestSendSMS_NoRetry(t *testing.T) {
	sms := &stubSMS{err: errors.New("connection reset")}
	d := New(sms, nil, Config{SMSFrom: "+15125550000"}, nil)
	_, _ = d.SendSMS(context.Background(), "+15125551234", "hi")
	if len(sms.sent) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(sms.sent))
	}
}

func TestReady_ConfigurationMissing(t *testing.T) {
	d := New(nil, &stubEmail{}, Config{EmailFrom: ""}, nil)
	if err := d.Ready(contacts.ChannelSMS); !errors.Is(err, apperr.ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}
	if err := d.Ready(contacts.ChannelEmail); !errors.Is(err, apperr.ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}
	if _, err := d.SendEmail(context.Background(), "a@example.com", "s", "<p>x</p>"); !errors.Is(err, apperr.ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}
}

func TestSendEmail(t *testing.T) {
	em := &stubEmail{}
	d := New(nil, em, Config{EmailFrom: "reports@example.com", EmailFromName: "Reports"}, nil)

	out, err := d.SendEmail(context.Background(), "  Owner@Example.com ", "Weekly summary", "<p>hi</p>")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.ProviderID != "em-1" || out.Channel != contacts.ChannelEmail {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if em.sent[0].To != "owner@example.com" || em.sent[0].FromName != "Reports" {
		t.Fatalf("unexpected email: %+v", em.sent[0])
	}
}

func TestSendSMS_EmptyAddress(t *testing.T) {
	d := New(&stubSMS{}, nil, Config{SMSFrom: "+15125550000"}, nil)
	if _, err := d.SendSMS(context.Background(), " - ", "hi"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestSendSMS_LimiterHonorsCancelledContext(t *testing.T) {
	sms := &stubSMS{}
	d := New(sms, nil, Config{SMSFrom: "+15125550000", SMSPerSecond: 0.001, SMSBurst: 1}, nil)

	if _, err := d.SendSMS(context.Background(), "+15125551234", "first"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.SendSMS(ctx, "+15125551234", "second"); !IsDispatchError(err) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("expected second send not attempted")
	}
}

func TestExtraInfo_MergeAndKeys(t *testing.T) {
	e := ExtraInfo{"b": "2", "a": "1"}.Merge(ExtraInfo{"c": "3", "a": "9"})
	if e["a"] != "9" {
		t.Fatalf("expected overlay")
	}
	if keys := e.Keys(); strings.Join(keys, ",") != "a,b,c" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
