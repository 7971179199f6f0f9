package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/beatmaps-cdn/internal/metrics"
)

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.Resolutions.WithLabelValues("zip_hash", metrics.OutcomeOK).Inc()
	m.SyncEvents.WithLabelValues(metrics.OutcomeApplied).Add(2)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Resolutions.WithLabelValues("zip_hash", metrics.OutcomeOK)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SyncEvents.WithLabelValues(metrics.OutcomeApplied)), 0)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cdn_resolutions_total{kind="zip_hash",outcome="ok"} 1`)
	assert.Contains(t, string(body), `cdn_sync_events_total{outcome="applied"} 2`)
}

func TestNew_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = metrics.New()
		_ = metrics.New()
	})
}
