package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igmap/internal/model"
)

func TestCollector_ObserveProbe(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.ObserveProbe("a", 12, 30*time.Millisecond, false)
	c.ObserveProbe("b", 999, 5*time.Second, true)
	c.ObserveProbe("b", 40, 20*time.Millisecond, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.probesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probesTotal.WithLabelValues("fallback")))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.nodeLatency.WithLabelValues("b", "false")))
	// A fresh reading for b replaces the earlier fallback series.
	assert.Equal(t, 2, testutil.CollectAndCount(c.nodeLatency))
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.ObserveEdge("a", "b", model.IGResult{IGDistanceKm: 2000, IGFactor: 2})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `igmap_edge_ig_distance_km{from="a",to="b"} 2000`), body)
	assert.Contains(t, body, `igmap_edge_ig_factor{from="a",to="b"} 2`)
}
