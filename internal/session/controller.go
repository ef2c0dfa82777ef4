// Package session holds console sessions: one Controller per open console,
// and the Hub that creates, finds and evicts them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/dispatch"
	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/progress"
	"github.com/eternisai/salesintel/internal/research"
	"github.com/eternisai/salesintel/internal/store"
)

// ExportPath is the backend job endpoint that renders reports.
const ExportPath = "/reports/export"

// Backend is the research backend as seen by one console session.
type Backend interface {
	research.Backend
	dispatch.Transcripts
	GetProfile(ctx context.Context) (*apiclient.Profile, error)
	UpdateProfile(ctx context.Context, p apiclient.Profile) (*apiclient.Profile, error)
	ListCompanyResearch(ctx context.Context) ([]apiclient.HistoryEntry, error)
	SaveCompanyTranscript(ctx context.Context, t apiclient.Transcript) error
	DeleteCompanyTranscript(ctx context.Context, companyID string) error
	SubmitJob(ctx context.Context, path string, body any) (*apiclient.Job, error)
	WaitForJob(ctx context.Context, jobID string) (*apiclient.Job, error)
}

// BackendFactory returns the backend for a console session. onExpired must
// be called when the backend rejects the session.
type BackendFactory func(sessionID string, onExpired func()) Backend

// Snapshot is the client-visible state of a console session.
type Snapshot struct {
	SessionID         string                   `json:"sessionId"`
	Company           string                   `json:"company,omitempty"`
	CompanyDomain     string                   `json:"companyDomain,omitempty"`
	Profile           *apiclient.Profile       `json:"profile,omitempty"`
	Messages          []chat.Message           `json:"messages"`
	CompletedResearch []chat.CompletedResearch `json:"completedResearch"`
	ResearchProgress  int                      `json:"researchProgress"`
	History           []apiclient.HistoryEntry `json:"history"`
	Typing            bool                     `json:"typing"`
	CompanySearchOpen bool                     `json:"companySearchOpen"`
	Expired           bool                     `json:"expired,omitempty"`
}

// Controller owns the state of one console session and the services that
// act on it. Inputs are serialized: one dispatch call runs at a time.
type Controller struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	log      *logger.Logger
	backend  Backend
	store    store.Store
	timeline *chat.Timeline
	ledger   *chat.Ledger
	mapper   *progress.Mapper
	progress *progress.Manager
	research *research.Service
	handler  *dispatch.Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inputMu sync.Mutex

	mu         sync.RWMutex
	profile    *apiclient.Profile
	company    string
	domain     string
	history    []apiclient.HistoryEntry
	searchOpen bool
	prefs      *store.Preferences
	lastActive time.Time
	expired    bool
}

func (c *Controller) SessionID() string { return c.ID }

func (c *Controller) Profile() *apiclient.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func (c *Controller) SelectedCompany() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.company, c.domain
}

func (c *Controller) SelectCompany(name, domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.company, c.domain = name, domain
	c.searchOpen = false
}

func (c *Controller) ClearCompany() {
	c.SelectCompany("", "")
}

func (c *Controller) ResearchHistory() []apiclient.HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]apiclient.HistoryEntry(nil), c.history...)
}

func (c *Controller) OpenCompanySearch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchOpen = true
}

// Timeline is the session's message list; subscribe to it for updates.
func (c *Controller) Timeline() *chat.Timeline { return c.timeline }

// Load fetches the profile, research history and stored preferences. A
// missing profile is not an error here; research will refuse to start.
func (c *Controller) Load(ctx context.Context) error {
	profile, err := c.backend.GetProfile(ctx)
	if err != nil {
		c.log.Warn("failed to load profile", slog.String("error", err.Error()))
	}

	history, err := c.backend.ListCompanyResearch(ctx)
	if err != nil {
		c.log.Warn("failed to load research history", slog.String("error", err.Error()))
	}

	prefs, err := c.store.Load(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}

	c.mu.Lock()
	if profile != nil && (profile.UserID != "" || profile.Name != "") {
		c.profile = profile
	}
	c.history = history
	c.prefs = prefs
	c.mu.Unlock()
	return nil
}

// Do runs one input through the dispatch handler and waits for it.
func (c *Controller) Do(ctx context.Context, op string, fn func(context.Context, *dispatch.Handler) error) error {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()

	c.Touch()
	ctx = logger.WithOperation(logger.WithSessionID(ctx, c.ID), op)
	if err := fn(ctx, c.handler); err != nil {
		c.log.LogError(ctx, err, "input failed", slog.String("operation", op))
		return err
	}
	return nil
}

// Go runs one input in the background, bound to the session lifetime.
// Results reach clients through the timeline.
func (c *Controller) Go(op string, fn func(context.Context, *dispatch.Handler) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Do(c.ctx, op, fn)
	}()
}

// Touch marks the session as used.
func (c *Controller) Touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// IdleFor reports how long the session has been unused.
func (c *Controller) IdleFor() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastActive)
}

// Expired reports whether the backend rejected the session.
func (c *Controller) Expired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expired
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	s := Snapshot{
		SessionID:         c.ID,
		Company:           c.company,
		CompanyDomain:     c.domain,
		Profile:           c.profile,
		History:           append([]apiclient.HistoryEntry(nil), c.history...),
		CompanySearchOpen: c.searchOpen,
		Expired:           c.expired,
	}
	c.mu.RUnlock()

	s.Messages = c.timeline.Messages()
	s.CompletedResearch = c.ledger.Entries()
	s.ResearchProgress = c.ledger.Progress(c.mapper.AreaIDs())
	s.Typing = c.timeline.IsTyping()
	return s
}

// ProgressState returns the progress manager's current state.
func (c *Controller) ProgressState() progress.State {
	return c.progress.GetProgressState()
}

// UpdateProfile saves the profile on the backend and keeps the result.
func (c *Controller) UpdateProfile(ctx context.Context, p apiclient.Profile) (*apiclient.Profile, error) {
	const op = "session.update_profile"
	if strings.TrimSpace(p.Name) == "" {
		return nil, apperrors.New(apperrors.KindInvalidInput, op, "name is required")
	}

	saved, err := c.backend.UpdateProfile(ctx, p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, op, err)
	}

	c.mu.Lock()
	c.profile = saved
	c.mu.Unlock()
	return saved, nil
}

// SetConsent records the GDPR consent decision.
func (c *Controller) SetConsent(ctx context.Context, consent bool) (*store.Preferences, error) {
	return c.updatePrefs(ctx, func(p *store.Preferences) error {
		p.SetConsent(consent, time.Now())
		return nil
	})
}

// RateMessage stores feedback for a message in the timeline.
func (c *Controller) RateMessage(ctx context.Context, messageID string, rating int) (*store.Preferences, error) {
	if _, ok := c.timeline.Get(messageID); !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "session.rate_message", "message not found")
	}
	return c.updatePrefs(ctx, func(p *store.Preferences) error {
		return p.Rate(messageID, rating)
	})
}

// EraseData deletes the stored transcript of the current company and the
// user's preferences, then starts over.
func (c *Controller) EraseData(ctx context.Context) error {
	const op = "session.erase_data"

	return c.Do(ctx, "erase_data", func(ctx context.Context, h *dispatch.Handler) error {
		company, _ := c.SelectedCompany()
		if company != "" {
			if err := c.backend.DeleteCompanyTranscript(ctx, company); err != nil {
				return apperrors.Wrap(apperrors.KindTransient, op, err)
			}
		}
		if err := c.store.Delete(ctx, c.UserID); err != nil {
			return apperrors.Wrap(apperrors.KindInternal, op, err)
		}

		c.mu.Lock()
		c.prefs = store.NewPreferences(c.UserID)
		c.history = removeHistory(c.history, company)
		c.mu.Unlock()

		h.StartNewSession()
		c.log.Info("session data erased", slog.String("company", company))
		return nil
	})
}

// StopResearch stops one research run of this session.
func (c *Controller) StopResearch(researchSessionID string) bool {
	if _, ok := c.research.MessageFor(researchSessionID); !ok {
		return false
	}
	c.research.StopPolling(researchSessionID)
	c.timeline.SetTyping(false)
	return true
}

// Close stops all research and waits for background work.
func (c *Controller) Close(ctx context.Context) error {
	c.cancel()
	err := c.research.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	c.timeline.Close()
	return err
}

func (c *Controller) updatePrefs(ctx context.Context, fn func(*store.Preferences) error) (*store.Preferences, error) {
	prefs, err := c.store.Update(ctx, c.UserID, fn)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInvalidInput {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, "session.update_preferences", err)
	}
	c.mu.Lock()
	c.prefs = prefs
	c.mu.Unlock()
	return prefs, nil
}

func (c *Controller) consented() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prefs != nil && c.prefs.GDPRConsent
}

// export is the dispatch export handler: it renders a report of the
// session on the backend and posts the download link.
func (c *Controller) export(ctx context.Context, format string) error {
	const op = "session.export"

	company, _ := c.SelectedCompany()
	if company == "" {
		return apperrors.New(apperrors.KindPrecondition, op, "no company selected")
	}
	if format == "" {
		format = "pdf"
	}

	c.timeline.SetTyping(true)
	defer c.timeline.SetTyping(false)

	job, err := c.backend.SubmitJob(ctx, ExportPath, map[string]any{
		"companyId":         company,
		"format":            format,
		"completedResearch": c.ledger.Entries(),
	})
	if err == nil {
		job, err = c.backend.WaitForJob(ctx, job.ID)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err == nil {
		if uerr := json.Unmarshal(job.Result, &result); uerr != nil || result.URL == "" {
			err = errors.New("export job returned no download url")
		}
	}
	if err != nil {
		c.timeline.Append(chat.NewErrorMessage("I couldn't export the report. Please try again."))
		return apperrors.Wrap(apperrors.KindTransient, op, err)
	}

	msg := chat.NewAssistantMessage(fmt.Sprintf("Your %s report for %s is ready: %s",
		strings.ToUpper(format), company, result.URL))
	msg.Sources = []chat.Source{{ID: 1, Title: company + " report", URL: result.URL, Type: "report"}}
	c.timeline.Append(msg)
	return nil
}

// onResearchCompleted stores the transcript when the user has consented.
func (c *Controller) onResearchCompleted(run *research.Run) {
	if !c.consented() {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		defer cancel()

		_, domain := c.SelectedCompany()
		t := apiclient.Transcript{
			CompanyID:         run.CompanyName,
			CompanyName:       run.CompanyName,
			CompanyDomain:     domain,
			Messages:          chat.ToBackendMessages(c.timeline.Messages()),
			CompletedResearch: c.ledger.Entries(),
			UpdatedAt:         time.Now().UTC().Format(time.RFC3339),
		}
		if err := c.backend.SaveCompanyTranscript(ctx, t); err != nil {
			c.log.Warn("failed to save transcript",
				slog.String("company", run.CompanyName),
				slog.String("error", err.Error()))
			return
		}

		c.mu.Lock()
		c.history = upsertHistory(c.history, apiclient.HistoryEntry{
			CompanyID:        run.CompanyName,
			CompanyName:      run.CompanyName,
			CompanyDomain:    domain,
			ResearchCount:    len(t.CompletedResearch),
			LastResearchedAt: t.UpdatedAt,
		})
		c.mu.Unlock()
	}()
}

// expire is called by the backend client on a 401.
func (c *Controller) expire() {
	c.mu.Lock()
	already := c.expired
	c.expired = true
	c.mu.Unlock()
	if already {
		return
	}

	c.log.Warn("backend session expired")
	c.timeline.SetTyping(false)
	c.timeline.Append(chat.NewErrorMessage("Your session has expired. Please sign in again."))
}

func upsertHistory(history []apiclient.HistoryEntry, e apiclient.HistoryEntry) []apiclient.HistoryEntry {
	for i := range history {
		if strings.EqualFold(strings.TrimSpace(history[i].CompanyName), e.CompanyName) {
			history[i] = e
			return history
		}
	}
	return append(history, e)
}

func removeHistory(history []apiclient.HistoryEntry, company string) []apiclient.HistoryEntry {
	if company == "" {
		return history
	}
	out := history[:0]
	for _, e := range history {
		if !strings.EqualFold(strings.TrimSpace(e.CompanyName), company) {
			out = append(out, e)
		}
	}
	return out
}
