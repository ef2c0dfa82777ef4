package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestResearchCounters(t *testing.T) {
	m := New()

	m.ResearchStarted("tech_stack")
	m.ResearchStarted("tech_stack")
	m.ResearchFinished("tech_stack", OutcomeCompleted, 4, 3*time.Second)
	m.PollError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.researchStarted.WithLabelValues("tech_stack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.researchFinished.WithLabelValues("tech_stack", OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeResearch))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollErrors))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetActiveSessions(3)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "salesintel_console_sessions_active 3")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ResearchStarted("x")
		m.ResearchFinished("x", OutcomeTimeout, 60, time.Minute)
		m.PollError()
		m.SetActiveSessions(1)
	})
}
