package research

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/config"
	"github.com/eternisai/salesintel/internal/notify"
)

// Option ids handled outside the research area catalog.
const (
	OptionExportReport    = "export_report"
	OptionResearchAnother = "research_another"
)

// Config bounds one research run.
type Config struct {
	InitialInterval time.Duration
	MaxDoublings    int
	// ErrorInterval is the wait after a failed poll and the ceiling of the
	// regular schedule.
	ErrorInterval time.Duration
	Timeout       time.Duration
	MaxAttempts   int
	ProgressTick  time.Duration
	EventStream   bool
	// ResultTimeout bounds the results fetch after completion.
	ResultTimeout time.Duration
}

// ConfigFrom reads the research settings out of the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		InitialInterval: cfg.PollInitialInterval,
		MaxDoublings:    cfg.PollMaxDoublings,
		ErrorInterval:   cfg.PollErrorInterval,
		Timeout:         cfg.PollTimeout,
		MaxAttempts:     cfg.PollMaxAttempts,
		ProgressTick:    cfg.ProgressTick,
		EventStream:     cfg.EventStreamEnabled,
		ResultTimeout:   cfg.ResearchAPITimeout,
	}
}

// DefaultConfig is 500 ms doubling three times, 5 s after errors, and a
// budget of 5 minutes or 60 polls.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 500 * time.Millisecond,
		MaxDoublings:    3,
		ErrorInterval:   5 * time.Second,
		Timeout:         5 * time.Minute,
		MaxAttempts:     60,
		ProgressTick:    time.Second,
		ResultTimeout:   30 * time.Second,
	}
}

func (c Config) maxInterval() time.Duration {
	d := c.InitialInterval
	for i := 0; i < c.MaxDoublings; i++ {
		d *= 2
	}
	if c.ErrorInterval > 0 && d > c.ErrorInterval {
		return c.ErrorInterval
	}
	return d
}

// Backend is the part of the API client a research run needs.
type Backend interface {
	CreateResearchSession(ctx context.Context, req apiclient.CreateSessionRequest) (*apiclient.ResearchSession, error)
	GetResearchStatus(ctx context.Context, sessionID string) (*apiclient.ResearchSession, error)
	GetResearchResults(ctx context.Context, sessionID string) (*apiclient.ResearchResults, error)
	StreamResearchEvents(ctx context.Context, sessionID string, fn func(apiclient.ServerEvent) error) error
}

// SessionContext exposes the console session state a run reads.
type SessionContext interface {
	SessionID() string
	Profile() *apiclient.Profile
	SelectedCompany() (name, domain string)
}

// Publisher receives research lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, subject string, evt notify.ResearchEvent) error
}

// Run is one research operation. Done is closed when the run ends; Err then
// reports how it ended.
type Run struct {
	ResearchSessionID string
	MessageID         string
	AreaID            string
	CompanyName       string
	CompanyDomain     string
	StartedAt         time.Time

	attempts atomic.Int32
	done     chan struct{}
	once     sync.Once
	err      error
}

func newRun(sessionID, messageID, areaID, company, domain string) *Run {
	return &Run{
		ResearchSessionID: sessionID,
		MessageID:         messageID,
		AreaID:            areaID,
		CompanyName:       company,
		CompanyDomain:     domain,
		StartedAt:         time.Now(),
		done:              make(chan struct{}),
	}
}

func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns nil while running and after success.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the run ends or ctx is done.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attempts returns the number of status polls made so far.
func (r *Run) Attempts() int {
	return int(r.attempts.Load())
}

func (r *Run) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
