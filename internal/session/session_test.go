package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/config"
	"github.com/eternisai/salesintel/internal/dispatch"
	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/progress"
	"github.com/eternisai/salesintel/internal/research"
	"github.com/eternisai/salesintel/internal/store"
)

type fakeBackend struct {
	mu         sync.Mutex
	profile    *apiclient.Profile
	history    []apiclient.HistoryEntry
	saved      []apiclient.Transcript
	deleted    []string
	jobResult  json.RawMessage
	jobErr     error
	jobBodies  []any
	statusGate chan struct{}
	onExpired  func()
	profileErr error
}

func (f *fakeBackend) CreateResearchSession(_ context.Context, req apiclient.CreateSessionRequest) (*apiclient.ResearchSession, error) {
	return &apiclient.ResearchSession{ResearchSessionID: "rs-" + req.AreaID, AreaID: req.AreaID, CompanyID: req.CompanyID}, nil
}

func (f *fakeBackend) GetResearchStatus(ctx context.Context, id string) (*apiclient.ResearchSession, error) {
	f.mu.Lock()
	gate := f.statusGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &apiclient.ResearchSession{ResearchSessionID: id, Status: apiclient.StatusCompleted}, nil
}

func (f *fakeBackend) GetResearchResults(_ context.Context, id string) (*apiclient.ResearchResults, error) {
	return &apiclient.ResearchResults{ResearchSessionID: id, Summary: "Summary", Data: json.RawMessage(`{"industry":"Software"}`)}, nil
}

func (f *fakeBackend) StreamResearchEvents(ctx context.Context, _ string, _ func(apiclient.ServerEvent) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeBackend) GetCompanyTranscript(_ context.Context, companyID string) (*apiclient.Transcript, error) {
	return nil, &apiclient.StatusError{Status: 404, Message: "not found"}
}

func (f *fakeBackend) GetProfile(context.Context) (*apiclient.Profile, error) {
	if f.profileErr != nil {
		if errors.Is(f.profileErr, apiclient.ErrSessionExpired) && f.onExpired != nil {
			f.onExpired()
		}
		return nil, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeBackend) UpdateProfile(_ context.Context, p apiclient.Profile) (*apiclient.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = &p
	return &p, nil
}

func (f *fakeBackend) ListCompanyResearch(context.Context) ([]apiclient.HistoryEntry, error) {
	return f.history, nil
}

func (f *fakeBackend) SaveCompanyTranscript(_ context.Context, t apiclient.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, t)
	return nil
}

func (f *fakeBackend) DeleteCompanyTranscript(_ context.Context, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, companyID)
	return nil
}

func (f *fakeBackend) SubmitJob(_ context.Context, path string, body any) (*apiclient.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path != ExportPath {
		return nil, errors.New("unexpected path " + path)
	}
	f.jobBodies = append(f.jobBodies, body)
	return &apiclient.Job{ID: "job-1", Status: apiclient.JobPending}, nil
}

func (f *fakeBackend) WaitForJob(_ context.Context, id string) (*apiclient.Job, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return &apiclient.Job{ID: id, Status: apiclient.JobCompleted, Result: f.jobResult}, nil
}

func (f *fakeBackend) savedTranscripts() []apiclient.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.Transcript(nil), f.saved...)
}

func newHub(t *testing.T, backend *fakeBackend, idle time.Duration) *Hub {
	t.Helper()
	log := logger.Discard()
	st, err := store.NewFileStore(t.TempDir(), log)
	require.NoError(t, err)

	if backend.profile == nil && backend.profileErr == nil {
		backend.profile = &apiclient.Profile{UserID: "u-1", Name: "Sam"}
	}

	h := NewHub(Options{
		Research: research.Config{
			InitialInterval: time.Millisecond,
			MaxDoublings:    3,
			ErrorInterval:   5 * time.Millisecond,
			Timeout:         5 * time.Second,
			MaxAttempts:     60,
			ResultTimeout:   time.Second,
		},
		IdleTimeout: idle,
		Backend: func(_ string, onExpired func()) Backend {
			backend.onExpired = onExpired
			return backend
		},
		Store:  st,
		Mapper: progress.NewMapper(config.DefaultAreas()),
		Logger: log,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func TestHubCreateGetRemove(t *testing.T) {
	h := newHub(t, &fakeBackend{}, time.Hour)
	ctx := context.Background()

	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Len())

	got, ok := h.Get(c.ID)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, "Sam", c.Profile().Name)

	assert.True(t, h.Remove(ctx, c.ID))
	assert.False(t, h.Remove(ctx, c.ID))
	_, ok = h.Get(c.ID)
	assert.False(t, ok)
}

func TestHubEvictsIdleSessions(t *testing.T) {
	h := newHub(t, &fakeBackend{}, 20*time.Millisecond)
	ctx := context.Background()

	idle, err := h.Create(ctx, "u-1")
	require.NoError(t, err)
	watched, err := h.Create(ctx, "u-2")
	require.NoError(t, err)
	busy, err := h.Create(ctx, "u-3")
	require.NoError(t, err)

	sub := watched.Timeline().Subscribe(ctx, "ws-1", 10)
	defer sub.Cancel()

	time.Sleep(40 * time.Millisecond)
	busy.Touch()

	assert.Equal(t, 1, h.EvictIdle(ctx))
	_, ok := h.Get(idle.ID)
	assert.False(t, ok)
	_, ok = h.Get(watched.ID)
	assert.True(t, ok)
	_, ok = h.Get(busy.ID)
	assert.True(t, ok)
}

func TestHubJanitorRejectsBadSchedule(t *testing.T) {
	h := newHub(t, &fakeBackend{}, time.Hour)
	h.opts.JanitorSchedule = "not a schedule"
	assert.Error(t, h.StartJanitor())
}

func TestExpiredSessionIsEvicted(t *testing.T) {
	backend := &fakeBackend{profileErr: apiclient.ErrSessionExpired}
	h := newHub(t, backend, time.Hour)
	ctx := context.Background()

	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, c.Expired())
	assert.Nil(t, c.Profile())

	msgs := c.Timeline().Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsError)

	assert.Equal(t, 1, h.EvictIdle(ctx))
}

func TestTranscriptSavedOnlyWithConsent(t *testing.T) {
	backend := &fakeBackend{}
	h := newHub(t, backend, time.Hour)
	ctx := context.Background()

	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)

	send := func(text string) {
		require.NoError(t, c.Do(ctx, "send_message", func(ctx context.Context, d *dispatch.Handler) error {
			return d.HandleSendMessage(ctx, text)
		}))
	}

	send("Research Acme Corp")
	require.Eventually(t, func() bool { return len(c.Snapshot().CompletedResearch) == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, backend.savedTranscripts())

	_, err = c.SetConsent(ctx, true)
	require.NoError(t, err)

	require.NoError(t, c.Do(ctx, "option_click", func(ctx context.Context, d *dispatch.Handler) error {
		return d.HandleOptionClick(ctx, "tech_stack", "Technology stack", "")
	}))
	require.Eventually(t, func() bool { return len(backend.savedTranscripts()) == 1 }, 5*time.Second, 5*time.Millisecond)

	saved := backend.savedTranscripts()[0]
	assert.Equal(t, "Acme Corp", saved.CompanyID)
	assert.Len(t, saved.CompletedResearch, 2)
	assert.NotEmpty(t, saved.Messages)

	require.Eventually(t, func() bool { return len(c.ResearchHistory()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Acme Corp", c.ResearchHistory()[0].CompanyName)
}

func TestExportPostsDownloadLink(t *testing.T) {
	backend := &fakeBackend{jobResult: json.RawMessage(`{"url":"https://files.example.com/acme.pdf"}`)}
	h := newHub(t, backend, time.Hour)
	ctx := context.Background()

	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)
	c.SelectCompany("Acme Corp", "")

	require.NoError(t, c.Do(ctx, "option_click", func(ctx context.Context, d *dispatch.Handler) error {
		return d.HandleOptionClick(ctx, research.OptionExportReport, "Export report", "pdf")
	}))

	msgs := c.Timeline().Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "https://files.example.com/acme.pdf")
	assert.Contains(t, msgs[0].Content, "PDF")
	assert.False(t, c.Timeline().IsTyping())
	require.Len(t, backend.jobBodies, 1)
}

func TestExportFailureShowsError(t *testing.T) {
	backend := &fakeBackend{jobErr: errors.New("job failed: renderer crashed")}
	h := newHub(t, backend, time.Hour)
	ctx := context.Background()

	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)
	c.SelectCompany("Acme Corp", "")

	err = c.Do(ctx, "option_click", func(ctx context.Context, d *dispatch.Handler) error {
		return d.HandleOptionClick(ctx, research.OptionExportReport, "Export report", "")
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindTransient))

	msgs := c.Timeline().Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsError)
}

func TestExportNeedsCompany(t *testing.T) {
	h := newHub(t, &fakeBackend{}, time.Hour)
	c, err := h.Create(context.Background(), "u-1")
	require.NoError(t, err)

	err = c.Do(context.Background(), "option_click", func(ctx context.Context, d *dispatch.Handler) error {
		return d.HandleOptionClick(ctx, research.OptionExportReport, "", "pdf")
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindPrecondition))
}

func TestRateMessage(t *testing.T) {
	h := newHub(t, &fakeBackend{}, time.Hour)
	ctx := context.Background()
	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)

	_, err = c.RateMessage(ctx, "missing", 4)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	msg := chat.NewAssistantMessage("hello")
	c.Timeline().Append(msg)

	_, err = c.RateMessage(ctx, msg.ID, 9)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	prefs, err := c.RateMessage(ctx, msg.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, prefs.FeedbackRatings[msg.ID])

	stored, err := h.opts.Store.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 4, stored.FeedbackRatings[msg.ID])
}

func TestEraseData(t *testing.T) {
	backend := &fakeBackend{history: []apiclient.HistoryEntry{{CompanyName: "Acme Corp"}, {CompanyName: "Globex"}}}
	h := newHub(t, backend, time.Hour)
	ctx := context.Background()
	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)

	_, err = c.SetConsent(ctx, true)
	require.NoError(t, err)
	c.SelectCompany("Acme Corp", "acme.com")
	c.Timeline().Append(chat.NewUserMessage("Research Acme Corp"))

	require.NoError(t, c.EraseData(ctx))

	assert.Equal(t, []string{"Acme Corp"}, backend.deleted)
	snap := c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Company)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "Globex", snap.History[0].CompanyName)

	stored, err := h.opts.Store.Load(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, stored.GDPRConsent)
}

func TestUpdateProfile(t *testing.T) {
	h := newHub(t, &fakeBackend{}, time.Hour)
	ctx := context.Background()
	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)

	_, err = c.UpdateProfile(ctx, apiclient.Profile{Name: "  "})
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidInput))

	p, err := c.UpdateProfile(ctx, apiclient.Profile{UserID: "u-1", Name: "Alex", Role: "AE"})
	require.NoError(t, err)
	assert.Equal(t, "Alex", p.Name)
	assert.Equal(t, "Alex", c.Profile().Name)
}

func TestHubStopResearch(t *testing.T) {
	backend := &fakeBackend{statusGate: make(chan struct{})}
	h := newHub(t, backend, time.Hour)
	ctx := context.Background()
	c, err := h.Create(ctx, "u-1")
	require.NoError(t, err)

	require.NoError(t, c.Do(ctx, "send_message", func(ctx context.Context, d *dispatch.Handler) error {
		return d.HandleSendMessage(ctx, "Research Acme Corp")
	}))

	assert.False(t, h.StopResearch("unknown", "rs-company_overview"))
	assert.False(t, h.StopResearch(c.ID, "rs-unknown"))
	assert.True(t, h.StopResearch(c.ID, "rs-company_overview"))
	assert.False(t, c.Timeline().IsTyping())

	for _, m := range c.Timeline().Messages() {
		assert.False(t, strings.Contains(m.Content, "did not finish"))
	}
}

func TestGoSerializesInputs(t *testing.T) {
	h := newHub(t, &fakeBackend{}, time.Hour)
	c, err := h.Create(context.Background(), "u-1")
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		c.Go("probe", func(context.Context, *dispatch.Handler) error {
			defer wg.Done()
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
