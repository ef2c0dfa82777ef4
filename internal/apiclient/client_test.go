package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:         srv.URL,
		APIKey:          "test-key",
		Timeout:         5 * time.Second,
		JobPollInterval: 5 * time.Millisecond,
		JobTimeout:      time.Second,
	}, logger.Discard())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateResearchSessionSendsHeadersAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/research/session", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "console-1", r.Header.Get("X-Session-ID"))

		var req CreateSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, CreateSessionRequest{AreaID: "company_overview", CompanyID: "Acme Corp", CompanyDomain: "acme.com"}, req)

		writeJSON(w, http.StatusOK, map[string]any{"researchSessionId": "rs-1"})
	}).ForSession("console-1", nil)

	s, err := c.CreateResearchSession(context.Background(), CreateSessionRequest{
		AreaID: "company_overview", CompanyID: "Acme Corp", CompanyDomain: "acme.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "rs-1", s.ResearchSessionID)
	assert.Equal(t, "company_overview", s.AreaID)
	assert.Equal(t, "Acme Corp", s.CompanyID)
}

func TestCreateResearchSessionWithoutIDFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{}})
	})

	_, err := c.CreateResearchSession(context.Background(), CreateSessionRequest{AreaID: "x", CompanyID: "y"})
	assert.Error(t, err)
}

func TestEnvelopeAndBareBodiesDecodeAlike(t *testing.T) {
	status := map[string]any{"status": "running", "currentStep": 2, "progress": 40, "message": "Analyzing"}

	bare := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, status)
	})
	wrapped := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": status})
	})

	a, err := bare.GetResearchStatus(context.Background(), "rs-1")
	require.NoError(t, err)
	b, err := wrapped.GetResearchStatus(context.Background(), "rs-1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "rs-1", a.ResearchSessionID)
	assert.Equal(t, 2, a.CurrentStep)
}

func TestEnvelopeFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "quota exceeded"})
	})

	_, err := c.GetProfile(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestUnauthorizedFiresSessionExpired(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "expired"})
	})

	var fired atomic.Int32
	sc := c.ForSession("s-1", func() { fired.Add(1) })

	_, err := sc.GetResearchStatus(context.Background(), "rs-1")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), fired.Load())

	_, err = c.GetResearchStatus(context.Background(), "rs-1")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), fired.Load(), "base client has no hook")
}

func TestStatusErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such company"})
	})

	_, err := c.GetCompanyTranscript(context.Background(), "Nope Inc")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "no such company")

	assert.NoError(t, c.DeleteCompanyTranscript(context.Background(), "Nope Inc"))
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 8; i++ {
		_, _ = c.GetResearchStatus(context.Background(), "rs-1")
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestTranscriptRoundTrip(t *testing.T) {
	var saved Transcript
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/company-research/Acme Corp", r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": saved})
		}
	})

	in := Transcript{
		CompanyID:   "Acme Corp",
		CompanyName: "Acme Corp",
		Messages: []chat.BackendMessage{
			{ID: "u1", Role: chat.RoleUser, Content: "Research Acme Corp", Timestamp: "2024-03-01T12:30:00Z"},
		},
		CompletedResearch: []chat.CompletedResearch{{ID: "c1", AreaID: "company_overview"}},
	}
	require.NoError(t, c.SaveCompanyTranscript(context.Background(), in))

	out, err := c.GetCompanyTranscript(context.Background(), "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, in.Messages, out.Messages)
	assert.Equal(t, "company_overview", out.CompletedResearch[0].AreaID)
}

func TestWaitForJob(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/reports/export":
			writeJSON(w, http.StatusAccepted, map[string]any{"jobId": "job-1", "status": JobPending})
		case r.URL.Path == "/jobs/job-1":
			if polls.Add(1) < 3 {
				writeJSON(w, http.StatusOK, map[string]any{"jobId": "job-1", "status": JobRunning})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"jobId": "job-1", "status": JobCompleted,
				"result": map[string]any{"downloadUrl": "https://files.example/report.pdf"},
			})
		default:
			http.NotFound(w, r)
		}
	})

	job, err := c.SubmitJob(context.Background(), "/reports/export", map[string]string{"companyId": "Acme Corp"})
	require.NoError(t, err)

	done, err := c.WaitForJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.Status)
	assert.Contains(t, string(done.Result), "report.pdf")
	assert.Equal(t, int32(3), polls.Load())
}

func TestWaitForJobFailureIsPermanent(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"jobId": "job-2", "status": JobFailed, "error": "renderer crashed"})
	})

	_, err := c.WaitForJob(context.Background(), "job-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer crashed")
	assert.Equal(t, int32(1), polls.Load())
}

func TestStreamResearchEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/research/session/rs-1/events", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "event: research_started\ndata: {\"step\":0}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"sources_collected\",\"count\":12}\n\n")
		fmt.Fprint(w, "id: 3\nevent: research_complete\ndata: {}\n")
	})

	var got []ServerEvent
	err := c.StreamResearchEvents(context.Background(), "rs-1", func(e ServerEvent) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "research_started", got[0].Type)
	assert.JSONEq(t, `{"step":0}`, string(got[0].Data))
	assert.Equal(t, "sources_collected", got[1].Type)
	assert.Equal(t, "research_complete", got[2].Type)
	assert.Equal(t, "3", got[2].ID)
}

func TestStreamResearchEventsStopsOnCallbackError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n")
	})

	stop := errors.New("stop")
	n := 0
	err := c.StreamResearchEvents(context.Background(), "rs-1", func(ServerEvent) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestResearchSessionCompleted(t *testing.T) {
	assert.True(t, ResearchSession{Status: "completed"}.Completed())
	assert.True(t, ResearchSession{Status: "processing", Message: "Research completed successfully"}.Completed())
	assert.True(t, ResearchSession{Message: "Research Complete!"}.Completed())
	assert.False(t, ResearchSession{Status: "COMPLETED"}.Completed())
	assert.False(t, ResearchSession{Status: "failed"}.Completed())
}
