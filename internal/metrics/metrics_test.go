package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDispatch(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDispatch("sms", "ok", 120*time.Millisecond)
	m.ObserveDispatch("sms", "ok", 80*time.Millisecond)
	m.ObserveDispatch("sms", "error", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchesTotal.WithLabelValues("sms", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchesTotal.WithLabelValues("sms", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveDispatch("sms", "ok", time.Second)
		m.ObserveCallback("applied")
		m.ObserveFanout("sms", "sent")
		m.ObserveInbound("")
		m.ObserveCampaignRun("ok")
		m.ObserveWeeklyTrigger("lock", "ok")
	})
}

func TestMiddlewareCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/distributions/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/distributions/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/distributions/:id", "200"))
	assert.Equal(t, 2.0, got)
}
