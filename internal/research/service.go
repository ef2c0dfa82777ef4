// Package research drives research operations end to end: it creates the
// backend session, polls it, animates progress and turns the results into
// timeline messages.
package research

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/chat"
	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/metrics"
	"github.com/eternisai/salesintel/internal/notify"
	"github.com/eternisai/salesintel/internal/progress"
)

// ErrStopped is the result of a run stopped before it finished.
var ErrStopped = errors.New("research stopped")

// Deps are the collaborators of a Service. Publisher, Metrics and
// OnCompleted are optional.
type Deps struct {
	Backend   Backend
	Session   SessionContext
	Timeline  *chat.Timeline
	Ledger    *chat.Ledger
	Progress  *progress.Manager
	Mapper    *progress.Mapper
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    *logger.Logger

	// OnCompleted runs after a successful run has updated the timeline.
	OnCompleted func(*Run)
}

// Service runs research operations for one console session. Several runs
// may be active at once, each keyed by its backend research session id.
type Service struct {
	cfg  Config
	deps Deps
	log  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	pollers    map[string]context.CancelFunc // research session id → poller
	simulators map[string]context.CancelFunc // research session id → simulator
	messages   map[string]string             // research session id → message id
	runs       map[string]*Run
}

func NewService(cfg Config, deps Deps) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		deps:       deps,
		log:        deps.Logger.WithComponent("research"),
		ctx:        ctx,
		cancel:     cancel,
		pollers:    make(map[string]context.CancelFunc),
		simulators: make(map[string]context.CancelFunc),
		messages:   make(map[string]string),
		runs:       make(map[string]*Run),
	}
}

// StartResearch creates a backend research session for the company and
// starts polling it in the background. The streaming message is stored
// under messageID, generated when empty.
//
// Errors: KindPrecondition when no profile or company is available (no
// network call is made) and KindSessionCreation when the backend does not
// return a session. Failures after that point end the returned Run and are
// shown in the timeline instead.
func (s *Service) StartResearch(ctx context.Context, messageID, areaID, companyName, companyDomain string) (*Run, error) {
	const op = "research.start"

	if s.deps.Session.Profile() == nil {
		s.log.Warn("research requested without a user profile", slog.String("area_id", areaID))
		return nil, apperrors.New(apperrors.KindPrecondition, op, "no user profile")
	}

	company, domain := companyName, companyDomain
	selected, selectedDomain := s.deps.Session.SelectedCompany()
	if company == "" {
		company, domain = selected, selectedDomain
	} else if domain == "" && company == selected {
		domain = selectedDomain
	}
	if company == "" {
		s.log.Warn("research requested without a company", slog.String("area_id", areaID))
		return nil, apperrors.New(apperrors.KindPrecondition, op, "no company selected")
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, apperrors.New(apperrors.KindInternal, op, "research service is shut down")
	}

	if messageID == "" {
		messageID = chat.NewID()
	}

	ctx = logger.WithCompany(ctx, company)
	session, err := s.deps.Backend.CreateResearchSession(ctx, apiclient.CreateSessionRequest{
		AreaID:        areaID,
		CompanyID:     company,
		CompanyDomain: domain,
	})
	if err != nil {
		s.log.LogError(ctx, err, "failed to create research session", slog.String("area_id", areaID))
		return nil, apperrors.Wrap(apperrors.KindSessionCreation, op, err)
	}

	types, descriptions, icons := s.deps.Mapper.EventMetadata(areaID)
	s.deps.Progress.StartNewResearch(company, progress.StartOptions{
		EventDescriptions: descriptions,
		EventTypes:        types,
		EventIcons:        icons,
		MessageID:         messageID,
	})
	s.deps.Timeline.SetTyping(true)

	run := newRun(session.ResearchSessionID, messageID, areaID, company, domain)
	pollCtx, pollCancel := context.WithCancel(s.ctx)
	simCtx, simCancel := context.WithCancel(pollCtx)

	s.mu.Lock()
	s.pollers[run.ResearchSessionID] = pollCancel
	s.simulators[run.ResearchSessionID] = simCancel
	s.messages[run.ResearchSessionID] = messageID
	s.runs[run.ResearchSessionID] = run
	s.mu.Unlock()

	s.deps.Metrics.ResearchStarted(areaID)
	s.publish(notify.SubjectResearchStarted, run, "")

	s.wg.Add(1)
	go s.runLoop(pollCtx, simCtx, run)

	s.log.Info("research started",
		slog.String("research_session_id", run.ResearchSessionID),
		slog.String("area_id", areaID),
		slog.String("company", company),
		slog.String("message_id", messageID))

	return run, nil
}

// StopPolling stops the poller and simulator of a research session. The
// run ends with ErrStopped and leaves the timeline untouched. Safe to call
// for unknown or finished sessions.
func (s *Service) StopPolling(researchSessionID string) {
	if s.release(researchSessionID) {
		s.log.Info("research polling stopped", slog.String("research_session_id", researchSessionID))
	}
}

// StopProgressSimulation stops only the simulated progress ticks.
func (s *Service) StopProgressSimulation(researchSessionID string) {
	s.mu.Lock()
	cancel, ok := s.simulators[researchSessionID]
	delete(s.simulators, researchSessionID)
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

// StopAll stops every active run, e.g. before the session is reset.
func (s *Service) StopAll() {
	for _, id := range s.ActiveSessions() {
		s.StopPolling(id)
	}
}

// ActiveSessions returns the research session ids still polling.
func (s *Service) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	return ids
}

// MessageFor returns the message id a research session writes to.
func (s *Service) MessageFor(researchSessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.messages[researchSessionID]
	return id, ok
}

// Shutdown stops every run and waits for the goroutines to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.StopAll()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release unregisters a run and cancels its timers. It reports whether the
// run was still registered; only the caller that gets true may touch the
// timeline on the run's behalf afterwards.
func (s *Service) release(researchSessionID string) bool {
	s.mu.Lock()
	pollCancel, ok := s.pollers[researchSessionID]
	simCancel := s.simulators[researchSessionID]
	delete(s.pollers, researchSessionID)
	delete(s.simulators, researchSessionID)
	delete(s.messages, researchSessionID)
	delete(s.runs, researchSessionID)
	s.mu.Unlock()

	if simCancel != nil {
		simCancel()
	}
	if ok {
		pollCancel()
	}
	return ok
}

func (s *Service) publish(subject string, run *Run, outcome string) {
	if s.deps.Publisher == nil {
		return
	}
	evt := notify.ResearchEvent{
		SessionID:         s.deps.Session.SessionID(),
		ResearchSessionID: run.ResearchSessionID,
		AreaID:            run.AreaID,
		Company:           run.CompanyName,
		Outcome:           outcome,
		Attempts:          run.Attempts(),
		At:                time.Now().UTC(),
	}
	if err := s.deps.Publisher.Publish(s.ctx, subject, evt); err != nil {
		s.log.Warn("failed to publish research event",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
