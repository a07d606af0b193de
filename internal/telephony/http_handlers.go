package telephony

import (
	"context"
	"net/http"

	"delivery-engine/internal/messaging"
	"delivery-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

type InboundSMSHandler interface {
	HandleInbound(ctx context.Context, in messaging.InboundSMS) (messaging.InboundResult, error)
}

type StatusCallbackApplier interface {
	ApplyCallback(ctx context.Context, providerMessageID, providerStatus, errorText string) (messaging.CallbackResult, error)
}

// TwilioWebhookHandler converts Twilio messaging webhooks to internal types, delegates to the
// inbox and the status tracker, and writes TwiML.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Inbox  InboundSMSHandler
	Status StatusCallbackApplier

	// Replay is optional; without it every delivery is processed.
	Replay ReplayGuard
}

func (h TwilioWebhookHandler) HandleInboundSMS(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Inbox == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbox not configured"})
		return
	}

	form, err := ParseTwilioInboundSMS(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if form.MessageSid == "" || form.From == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "MessageSid and From required"})
		return
	}

	ctx := logger.With(c.Request.Context(), log.With("message_sid", form.MessageSid))
	release, first := h.claim(ctx, "inbound:"+form.MessageSid)
	if !first {
		log.Info("duplicate inbound sms dropped", "message_sid", form.MessageSid)
		writeTwiML(c)
		return
	}

	res, err := h.Inbox.HandleInbound(ctx, form.ToInboundSMS())
	if err != nil {
		release(context.WithoutCancel(ctx))
		log.Error("inbound sms handling failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound failed"})
		return
	}
	writeTwiML(c, res.Reply)
}

func (h TwilioWebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Status == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status tracker not configured"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if form.MessageSid == "" || form.MessageStatus == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "MessageSid and MessageStatus required"})
		return
	}

	ctx := c.Request.Context()
	release, first := h.claim(ctx, "status:"+form.MessageSid+":"+form.MessageStatus)
	if !first {
		c.Status(http.StatusNoContent)
		return
	}

	res, err := h.Status.ApplyCallback(ctx, form.MessageSid, form.MessageStatus, form.ErrorText())
	if err != nil {
		release(context.WithoutCancel(ctx))
		log.Error("status callback failed", "message_sid", form.MessageSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	log.Debug("status callback handled", "message_sid", form.MessageSid, "outcome", res.Outcome)
	c.Status(http.StatusNoContent)
}

// claim fails open: a Redis outage must not drop provider webhooks.
func (h TwilioWebhookHandler) claim(ctx context.Context, key string) (func(context.Context), bool) {
	noop := func(context.Context) {}
	if h.Replay == nil {
		return noop, true
	}
	release, first, err := h.Replay.Claim(ctx, key)
	if err != nil {
		logger.From(ctx).Warn("webhook replay guard unavailable", "err", err)
		return noop, true
	}
	return release, first
}

func writeTwiML(c *gin.Context, replies ...string) {
	twiml, err := RenderMessagingTwiML(replies...)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
