package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"delivery-engine/internal/messaging"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInbox struct {
	calls int
	reply string
	err   error
}

func (f *fakeInbox) HandleInbound(ctx context.Context, in messaging.InboundSMS) (messaging.InboundResult, error) {
	f.calls++
	if f.err != nil {
		return messaging.InboundResult{}, f.err
	}
	return messaging.InboundResult{Known: true, Reply: f.reply}, nil
}

type fakeStatus struct {
	sid, status, errText string
	calls                 int
}

func (f *fakeStatus) ApplyCallback(ctx context.Context, sid, status, errText string) (messaging.CallbackResult, error) {
	f.calls++
	f.sid, f.status, f.errText = sid, status, errText
	return messaging.CallbackResult{Outcome: messaging.CallbackApplied}, nil
}

func newReplayGuard(t *testing.T) (*RedisReplayGuard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisReplayGuard(rdb, time.Hour), mr
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleInboundSMS_RepliesAndDropsReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	guard, _ := newReplayGuard(t)
	inbox := &fakeInbox{reply: "You have been unsubscribed."}
	h := TwilioWebhookHandler{Inbox: inbox, Replay: guard}

	r := gin.New()
	r.POST("/webhooks/twilio/sms", h.HandleInboundSMS)

	form := url.Values{"MessageSid": {"SM1"}, "From": {"+15125550001"}, "Body": {"STOP"}}
	w := postForm(r, "/webhooks/twilio/sms", form)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Message>You have been unsubscribed.</Message>")
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))

	w = postForm(r, "/webhooks/twilio/sms", form)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "<Message>")
	assert.Equal(t, 1, inbox.calls)
}

func TestHandleInboundSMS_FailureReleasesClaim(t *testing.T) {
	gin.SetMode(gin.TestMode)
	guard, mr := newReplayGuard(t)
	inbox := &fakeInbox{err: errors.New("db down")}
	h := TwilioWebhookHandler{Inbox: inbox, Replay: guard}

	r := gin.New()
	r.POST("/webhooks/twilio/sms", h.HandleInboundSMS)

	w := postForm(r, "/webhooks/twilio/sms", url.Values{"MessageSid": {"SM2"}, "From": {"+15125550001"}, "Body": {"hi"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, mr.Exists("webhook:twilio:inbound:SM2"))

	inbox.err = nil
	w = postForm(r, "/webhooks/twilio/sms", url.Values{"MessageSid": {"SM2"}, "From": {"+15125550001"}, "Body": {"hi"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, inbox.calls)
}

func TestHandleInboundSMS_MissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := TwilioWebhookHandler{Inbox: &fakeInbox{}}
	r := gin.New()
	r.POST("/webhooks/twilio/sms", h.HandleInboundSMS)

	w := postForm(r, "/webhooks/twilio/sms", url.Values{"Body": {"hi"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStatusCallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	status := &fakeStatus{}
	h := TwilioWebhookHandler{Status: status}
	r := gin.New()
	r.POST("/webhooks/twilio/status", h.HandleStatusCallback)

	w := postForm(r, "/webhooks/twilio/status", url.Values{
		"MessageSid":    {"SM9"},
		"MessageStatus": {"failed"},
		"ErrorCode":     {"30007"},
		"ErrorMessage":  {"Carrier violation"},
	})
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "SM9", status.sid)
	assert.Equal(t, "failed", status.status)
	assert.Equal(t, "30007: Carrier violation", status.errText)
}

func TestHandleStatusCallback_DistinctStatusesNotReplays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	guard, _ := newReplayGuard(t)
	status := &fakeStatus{}
	h := TwilioWebhookHandler{Status: status, Replay: guard}
	r := gin.New()
	r.POST("/webhooks/twilio/status", h.HandleStatusCallback)

	postForm(r, "/webhooks/twilio/status", url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"sent"}})
	postForm(r, "/webhooks/twilio/status", url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"delivered"}})
	postForm(r, "/webhooks/twilio/status", url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"delivered"}})
	assert.Equal(t, 2, status.calls)
}
