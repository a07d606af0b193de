// Package metrics holds the Prometheus collectors of the delivery engine.
// All methods are safe on a nil *Metrics so components can run without metrics wired.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	CallbacksTotal   *prometheus.CounterVec
	FanoutsTotal     *prometheus.CounterVec
	InboundTotal     *prometheus.CounterVec

	CampaignRunsTotal   *prometheus.CounterVec
	WeeklyTriggersTotal *prometheus.CounterVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DispatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_dispatches_total",
				Help: "Provider send attempts by channel and result",
			},
			[]string{"channel", "result"},
		),
		DispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "delivery_dispatch_duration_seconds",
				Help:    "Provider send latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),
		CallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_status_callbacks_total",
				Help: "Provider status callbacks by outcome (applied, ignored, unknown)",
			},
			[]string{"outcome"},
		),
		FanoutsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_fanouts_total",
				Help: "Completed fan-outs by channel and aggregate status",
			},
			[]string{"channel", "status"},
		),
		InboundTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_inbound_messages_total",
				Help: "Inbound SMS by keyword action",
			},
			[]string{"action"},
		),
		CampaignRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_campaign_runs_total",
				Help: "Scheduled campaign distributions by result",
			},
			[]string{"result"},
		),
		WeeklyTriggersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "delivery_weekly_triggers_total",
				Help: "Weekly lock coordinator trigger runs by trigger and result",
			},
			[]string{"trigger", "result"},
		),
	}
}

func (m *Metrics) ObserveDispatch(channel, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(channel, result).Inc()
	m.DispatchDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) ObserveCallback(outcome string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFanout(channel, status string) {
	if m == nil {
		return
	}
	m.FanoutsTotal.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ObserveInbound(action string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "none"
	}
	m.InboundTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveCampaignRun(result string) {
	if m == nil {
		return
	}
	m.CampaignRunsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveWeeklyTrigger(trigger, result string) {
	if m == nil {
		return
	}
	m.WeeklyTriggersTotal.WithLabelValues(trigger, result).Inc()
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
