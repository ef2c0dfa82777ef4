// Package notify publishes research lifecycle events over NATS and lets
// instances stop research runs owned by another instance.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eternisai/salesintel/internal/logger"
)

const (
	SubjectResearchStarted   = "research.started"
	SubjectResearchCompleted = "research.completed"
	SubjectResearchFailed    = "research.failed"

	subjectResearchStop = "research.stop"
	stopRequestTimeout  = 5 * time.Second
)

// ResearchEvent is the payload of every research.* subject.
type ResearchEvent struct {
	SessionID         string    `json:"session_id"`
	ResearchSessionID string    `json:"research_session_id"`
	AreaID            string    `json:"area_id"`
	Company           string    `json:"company"`
	Outcome           string    `json:"outcome,omitempty"`
	Attempts          int       `json:"attempts,omitempty"`
	InstanceID        string    `json:"instance_id"`
	At                time.Time `json:"at"`
}

// StopRequest asks the owning instance to stop one research run.
type StopRequest struct {
	SessionID         string `json:"session_id"`
	ResearchSessionID string `json:"research_session_id"`
}

// StopResponse is sent only by the instance that owns the run.
type StopResponse struct {
	Found      bool   `json:"found"`
	InstanceID string `json:"instance_id"`
}

// Stopper stops a locally owned research run and reports whether it existed.
type Stopper interface {
	StopResearch(sessionID, researchSessionID string) bool
}

// Connect dials NATS with reconnects enabled.
func Connect(url string, log *logger.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("salesintel"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
}

// Service is nil-safe: a nil *Service publishes nothing and finds nothing.
type Service struct {
	nc           *nats.Conn
	logger       *logger.Logger
	instanceID   string
	subscription *nats.Subscription
}

// New returns nil when nc is nil.
func New(nc *nats.Conn, log *logger.Logger, instanceID string) *Service {
	if nc == nil {
		return nil
	}
	return &Service{
		nc:         nc,
		logger:     log.WithComponent("notify"),
		instanceID: instanceID,
	}
}

// Publish sends evt on subject.
func (s *Service) Publish(ctx context.Context, subject string, evt ResearchEvent) error {
	if s == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	evt.InstanceID = s.instanceID
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Start answers stop requests for runs this instance owns.
func (s *Service) Start(stopper Stopper) error {
	if s == nil {
		return nil
	}
	sub, err := s.nc.Subscribe(subjectResearchStop, func(msg *nats.Msg) {
		resp, ok := s.handleStop(stopper, msg.Data)
		if !ok {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Error("failed to send stop response", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subjectResearchStop, err)
	}
	s.subscription = sub
	s.logger.Info("research stop listener started", slog.String("subject", subjectResearchStop))
	return nil
}

// handleStop stops the run if owned here. It reports false when this
// instance should stay silent and leave the reply to the owner.
func (s *Service) handleStop(stopper Stopper, data []byte) (StopResponse, bool) {
	var req StopRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("received invalid stop request", slog.String("error", err.Error()))
		return StopResponse{}, false
	}
	if !stopper.StopResearch(req.SessionID, req.ResearchSessionID) {
		return StopResponse{}, false
	}
	s.logger.Info("stopped research on request",
		slog.String("session_id", req.SessionID),
		slog.String("research_session_id", req.ResearchSessionID))
	return StopResponse{Found: true, InstanceID: s.instanceID}, true
}

// RequestStop asks every instance to stop a run. A run no instance owns
// yields Found=false without error.
func (s *Service) RequestStop(ctx context.Context, sessionID, researchSessionID string) (*StopResponse, error) {
	if s == nil {
		return &StopResponse{}, nil
	}
	data, err := json.Marshal(StopRequest{SessionID: sessionID, ResearchSessionID: researchSessionID})
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, stopRequestTimeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(reqCtx, subjectResearchStop, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return &StopResponse{}, nil
		}
		return nil, fmt.Errorf("stop request failed: %w", err)
	}

	var resp StopResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

// Close drains the stop subscription.
func (s *Service) Close() error {
	if s == nil || s.subscription == nil {
		return nil
	}
	if err := s.subscription.Drain(); err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	return nil
}
