package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveOperation("customer", "add", time.Now(), nil)
	m.ObserveOperation("customer", "add", time.Now(), errors.New("boom"))
	m.ObserveFallback(FallbackRule)
	m.ObserveEvaluation(true)
	m.ObserveEvaluation(false)
	m.ObserveEvaluation(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("customer", "add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("customer", "add", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues(FallbackRule)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluations.WithLabelValues("false")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("visit", "get", time.Now(), nil)
		m.ObserveFallback(FallbackTimestamp)
		m.ObserveEvaluation(true)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveEvaluation(true)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "rewards_evaluations_total"))
}
