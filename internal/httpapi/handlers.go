package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"delivery-engine/internal/apperr"
	"delivery-engine/internal/audit"
	"delivery-engine/internal/campaign"
	"delivery-engine/internal/contacts"
	"delivery-engine/internal/distribution"
	"delivery-engine/internal/messaging"
	"delivery-engine/internal/shortcode"
	"delivery-engine/internal/weeklock"
	"delivery-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Distributions interface {
	Distribute(ctx context.Context, req distribution.Request) (distribution.Report, error)
	Summary(ctx context.Context, id string) (distribution.Summary, error)
	Retry(ctx context.Context, id string, ch contacts.Channel) (distribution.Report, error)
	ResolveToken(ctx context.Context, token string) (distribution.Recipient, distribution.Distribution, error)
}

type Messages interface {
	SendOutbound(ctx context.Context, req messaging.OutboundRequest) (messaging.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) (messaging.Conversation, error)
}

type ContactLookup interface {
	Get(ctx context.Context, id string) (contacts.Contact, error)
}

type CampaignTicker interface {
	Tick(ctx context.Context, now time.Time) (campaign.TickReport, error)
}

type WeeklyTriggers interface {
	SendReminder(ctx context.Context, now time.Time) (weeklock.Result, error)
	LockAndSummarize(ctx context.Context, now time.Time) (weeklock.Result, error)
	EndGrace(ctx context.Context, now time.Time) (weeklock.Result, error)
}

type Auditor interface {
	LogOperatorAction(ctx context.Context, typ audit.EventType, target audit.Target, message string, metadata map[string]any) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Distributions Distributions
	Messages      Messages
	Contacts      ContactLookup
	Campaigns     CampaignTicker
	Weekly        WeeklyTriggers
	Audit         Auditor

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ClientIP attaches the resolved client address to the request context for the audit trail.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// writeError maps the error taxonomy onto a status code. Unclassified errors are logged and
// returned without detail.
func writeError(c *gin.Context, err error, extra gin.H) {
	status := apperr.HTTPStatus(err)
	if errors.Is(err, distribution.ErrLinkExpired) {
		status = http.StatusGone
	}
	body := gin.H{"error": err.Error(), "class": apperr.Class(err)}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		body = gin.H{"error": "internal error"}
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

func (h Handlers) record(c *gin.Context, typ audit.EventType, target audit.Target, msg string, meta map[string]any) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogOperatorAction(c.Request.Context(), typ, target, msg, meta); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", typ, "err", err)
	}
}

func parseChannels(in []string) ([]contacts.Channel, error) {
	out := make([]contacts.Channel, 0, len(in))
	for _, s := range in {
		ch, err := contacts.ParseChannel(s)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// --- Distributions ---

// createDistributionRequest is a direct send. Campaign distributions come only from the
// campaign scheduler, so campaign_id is refused here.
type createDistributionRequest struct {
	CampaignID   string   `json:"campaign_id"`
	PopulationID string   `json:"population_id"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Channels     []string `json:"channels"`
}

// knownPlaceholders are the shortcodes every recipient of a distribution can resolve.
func knownPlaceholders() map[string]string {
	return shortcode.Merge(contacts.Contact{}.TemplateContext(), map[string]string{
		"response_token": "",
		"response_link":  "",
	})
}

func (h Handlers) CreateDistribution(c *gin.Context) {
	if h.Distributions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "distributions not configured"})
		return
	}
	var req createDistributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "body required"})
		return
	}
	if req.CampaignID != "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id not accepted; campaigns are sent by the scheduler"})
		return
	}
	channels, err := parseChannels(req.Channels)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	warnings := shortcode.Unresolved(req.Body+" "+req.Subject, knownPlaceholders())
	report, err := h.Distributions.Distribute(c.Request.Context(), distribution.Request{
		PopulationID: req.PopulationID,
		Subject:      req.Subject,
		Body:         req.Body,
		Channels:     channels,
	})
	if report.Distribution.ID != "" {
		h.record(c, audit.EventTypeDistributionCreated,
			audit.Target{DistributionID: report.Distribution.ID},
			"distribution created",
			map[string]any{"channels": req.Channels, "total_sent": report.Distribution.TotalSent},
		)
	}
	if err != nil {
		var extra gin.H
		if report.Distribution.ID != "" {
			extra = gin.H{"report": report}
		}
		writeError(c, err, extra)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"report": report, "unresolved_placeholders": warnings})
}

func (h Handlers) GetDistribution(c *gin.Context) {
	if h.Distributions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "distributions not configured"})
		return
	}
	s, err := h.Distributions.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, s)
}

type retryRequest struct {
	Channel string `json:"channel"`
}

func (h Handlers) RetryDistribution(c *gin.Context) {
	if h.Distributions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "distributions not configured"})
		return
	}
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ch, err := contacts.ParseChannel(req.Channel)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	id := c.Param("id")
	report, err := h.Distributions.Retry(c.Request.Context(), id, ch)
	if err != nil && !errors.Is(err, apperr.ErrProviderDispatchFailed) {
		writeError(c, err, nil)
		return
	}
	h.record(c, audit.EventTypeDistributionRetried, audit.Target{DistributionID: id}, "distribution retried",
		map[string]any{"channel": string(ch)})
	if err != nil {
		writeError(c, err, gin.H{"report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// ResolveResponseLink is the public landing for response tokens.
func (h Handlers) ResolveResponseLink(c *gin.Context) {
	if h.Distributions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "distributions not configured"})
		return
	}
	r, d, err := h.Distributions.ResolveToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"distribution_id":     d.ID,
		"distribution_number": d.Number,
		"campaign_id":         d.CampaignID,
		"contact_id":          r.ContactID,
		"subject":             d.Subject,
		"expires_at":          d.ExpiresAt,
	})
}

// --- Messages ---

type sendMessageRequest struct {
	ContactID string `json:"contact_id"`
	Channel   string `json:"channel"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

func (h Handlers) SendMessage(c *gin.Context) {
	if h.Messages == nil || h.Contacts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "messaging not configured"})
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ContactID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_id required"})
		return
	}
	ch, err := contacts.ParseChannel(req.Channel)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	contact, err := h.Contacts.Get(c.Request.Context(), req.ContactID)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	m, err := h.Messages.SendOutbound(c.Request.Context(), messaging.OutboundRequest{
		Contact: contact,
		Channel: ch,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if m.ID != "" {
		h.record(c, audit.EventTypeOutboundMessage, audit.Target{ContactID: contact.ID, MessageID: m.ID},
			"outbound message", map[string]any{"channel": string(ch), "status": string(m.Status)})
	}
	if err != nil {
		var extra gin.H
		if m.ID != "" {
			extra = gin.H{"message": m}
		}
		writeError(c, err, extra)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h Handlers) MarkConversationRead(c *gin.Context) {
	if h.Messages == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "messaging not configured"})
		return
	}
	conv, err := h.Messages.MarkConversationRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// --- Job triggers ---

func (h Handlers) TickCampaigns(c *gin.Context) {
	if h.Campaigns == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaigns not configured"})
		return
	}
	report, err := h.Campaigns.Tick(c.Request.Context(), h.now())
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h Handlers) weekly(c *gin.Context, run func(context.Context, time.Time) (weeklock.Result, error)) {
	res, err := run(c.Request.Context(), h.now())
	if err != nil {
		writeError(c, err, gin.H{"result": res})
		return
	}
	h.record(c, audit.EventTypeJobTriggered, audit.Target{}, "weekly "+string(res.Trigger),
		map[string]any{"week_start": res.WeekStart, "outcome": string(res.Outcome)})
	c.JSON(http.StatusOK, res)
}

func (h Handlers) WeeklyReminder(c *gin.Context) {
	if h.Weekly == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "weekly cycle not configured"})
		return
	}
	h.weekly(c, h.Weekly.SendReminder)
}

func (h Handlers) WeeklyLock(c *gin.Context) {
	if h.Weekly == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "weekly cycle not configured"})
		return
	}
	h.weekly(c, h.Weekly.LockAndSummarize)
}

func (h Handlers) WeeklyEndGrace(c *gin.Context) {
	if h.Weekly == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "weekly cycle not configured"})
		return
	}
	h.weekly(c, h.Weekly.EndGrace)
}
