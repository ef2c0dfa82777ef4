package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/dispatch"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/metrics"
	"github.com/eternisai/salesintel/internal/pacing"
	"github.com/eternisai/salesintel/internal/progress"
	"github.com/eternisai/salesintel/internal/research"
	"github.com/eternisai/salesintel/internal/store"
)

// Options configure a Hub. Metrics and Publisher are optional.
type Options struct {
	Research        research.Config
	IdleTimeout     time.Duration
	JanitorSchedule string
	Backend         BackendFactory
	Store           store.Store
	Mapper          *progress.Mapper
	Pacer           pacing.Pacer
	Metrics         *metrics.Metrics
	Publisher       research.Publisher
	Logger          *logger.Logger
}

// Hub manages the console sessions of this instance.
type Hub struct {
	opts     Options
	logger   *logger.Logger
	sessions map[string]*Controller // key: session id
	mu       sync.RWMutex
	cron     *cron.Cron
}

func NewHub(opts Options) *Hub {
	if opts.Pacer == nil {
		opts.Pacer = &pacing.Instant{}
	}
	if opts.JanitorSchedule == "" {
		opts.JanitorSchedule = "@every 5m"
	}
	return &Hub{
		opts:     opts,
		logger:   opts.Logger.WithComponent("session-hub"),
		sessions: make(map[string]*Controller),
	}
}

// Create opens a console session for a user and loads its state.
func (h *Hub) Create(ctx context.Context, userID string) (*Controller, error) {
	id := uuid.New().String()
	log := h.opts.Logger.WithComponent("session").WithFields(map[string]any{
		"session_id": id,
		"user_id":    userID,
	})

	cctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	c := &Controller{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		log:        log,
		store:      h.opts.Store,
		timeline:   chat.NewTimeline(),
		ledger:     chat.NewLedger(),
		mapper:     h.opts.Mapper,
		ctx:        cctx,
		cancel:     cancel,
		lastActive: now,
	}
	c.backend = h.opts.Backend(id, c.expire)

	c.progress = progress.NewManager(h.opts.Mapper, h.opts.Pacer, log)
	c.progress.Initialize(c.timeline)

	c.research = research.NewService(h.opts.Research, research.Deps{
		Backend:     c.backend,
		Session:     c,
		Timeline:    c.timeline,
		Ledger:      c.ledger,
		Progress:    c.progress,
		Mapper:      h.opts.Mapper,
		Publisher:   h.opts.Publisher,
		Metrics:     h.opts.Metrics,
		Logger:      log,
		OnCompleted: c.onResearchCompleted,
	})

	c.handler = dispatch.NewHandler(dispatch.Deps{
		Research:    c.research,
		State:       c,
		Transcripts: c.backend,
		Timeline:    c.timeline,
		Ledger:      c.ledger,
		Progress:    c.progress,
		Mapper:      h.opts.Mapper,
		Pacer:       h.opts.Pacer,
		Export:      c.export,
		Logger:      log,
	})

	if err := c.Load(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	h.mu.Lock()
	h.sessions[id] = c
	total := len(h.sessions)
	h.mu.Unlock()

	h.opts.Metrics.SetActiveSessions(total)
	h.logger.Info("session created",
		slog.String("session_id", id),
		slog.String("user_id", userID),
		slog.Int("total_active_sessions", total))
	return c, nil
}

// Get returns a session by id.
func (h *Hub) Get(id string) (*Controller, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.sessions[id]
	return c, ok
}

// Remove closes and forgets a session.
func (h *Hub) Remove(ctx context.Context, id string) bool {
	h.mu.Lock()
	c, ok := h.sessions[id]
	delete(h.sessions, id)
	total := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return false
	}

	if err := c.Close(ctx); err != nil {
		h.logger.Warn("session did not close cleanly",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
	h.opts.Metrics.SetActiveSessions(total)
	h.logger.Info("session removed",
		slog.String("session_id", id),
		slog.Int("remaining_active_sessions", total))
	return true
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// EvictIdle removes sessions idle longer than the idle timeout, and
// sessions the backend has expired. Sessions with a live websocket are
// kept.
func (h *Hub) EvictIdle(ctx context.Context) int {
	h.mu.RLock()
	var stale []string
	for id, c := range h.sessions {
		idle := h.opts.IdleTimeout > 0 && c.IdleFor() > h.opts.IdleTimeout && c.timeline.SubscriberCount() == 0
		if idle || c.Expired() {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.Remove(ctx, id)
	}
	if len(stale) > 0 {
		h.logger.Info("evicted idle sessions", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// StartJanitor schedules EvictIdle on the janitor schedule.
func (h *Hub) StartJanitor() error {
	c := cron.New()
	_, err := c.AddFunc(h.opts.JanitorSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		h.EvictIdle(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", h.opts.JanitorSchedule, err)
	}
	c.Start()

	h.mu.Lock()
	h.cron = c
	h.mu.Unlock()
	return nil
}

// StopResearch stops a research run of a local session. It implements
// notify.Stopper.
func (h *Hub) StopResearch(sessionID, researchSessionID string) bool {
	c, ok := h.Get(sessionID)
	if !ok {
		return false
	}
	return c.StopResearch(researchSessionID)
}

// Shutdown stops the janitor and closes every session.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	janitor := h.cron
	h.cron = nil
	h.mu.Unlock()
	if janitor != nil {
		<-janitor.Stop().Done()
	}

	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if c, ok := h.Get(id); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			}
		}
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
	}
	h.opts.Metrics.SetActiveSessions(0)
	return errors.Join(errs...)
}
