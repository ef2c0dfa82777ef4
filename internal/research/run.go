package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/chat"
	apperrors "github.com/eternisai/salesintel/internal/errors"
	"github.com/eternisai/salesintel/internal/metrics"
	"github.com/eternisai/salesintel/internal/notify"
	"github.com/eternisai/salesintel/internal/progress"
)

var (
	errPollTimeout = errors.New("research did not finish in time")
	errMaxAttempts = errors.New("research exceeded the poll attempt budget")
)

// runLoop owns one run. Poll results, simulated ticks and streamed events
// are all handled here, one at a time, and every step change goes through
// progress.Manager.Advance.
//
// The loop ends when:
//   - the backend reports completion (results are fetched and shown)
//   - the wall-clock budget or the attempt budget is spent
//   - the run is stopped or the service shuts down
func (s *Service) runLoop(pollCtx, simCtx context.Context, run *Run) {
	defer s.wg.Done()

	log := s.log.With(
		slog.String("research_session_id", run.ResearchSessionID),
		slog.String("area_id", run.AreaID))

	schedule := NewSchedule(s.cfg)

	pollTimer := time.NewTimer(schedule.Next(false))
	defer pollTimer.Stop()

	deadline := time.NewTimer(s.cfg.Timeout)
	defer deadline.Stop()

	var tickC <-chan time.Time
	if s.cfg.ProgressTick > 0 {
		ticker := time.NewTicker(s.cfg.ProgressTick)
		defer ticker.Stop()
		tickC = ticker.C
	}
	simDone := simCtx.Done()

	var events chan apiclient.ServerEvent
	if s.cfg.EventStream {
		events = make(chan apiclient.ServerEvent, 16)
		s.wg.Add(1)
		go s.streamEvents(pollCtx, run, events)
	}

	for {
		select {
		case <-pollCtx.Done():
			log.Debug("research run stopped", slog.Int("poll_count", run.Attempts()))
			s.deps.Metrics.ResearchFinished(run.AreaID, metrics.OutcomeStopped, run.Attempts(), time.Since(run.StartedAt))
			run.finish(ErrStopped)
			return

		case <-simDone:
			tickC, simDone = nil, nil

		case <-tickC:
			if pollCtx.Err() == nil {
				s.deps.Progress.Advance(run.MessageID, progress.Input{Kind: progress.InputTick})
			}

		case evt := <-events:
			if pollCtx.Err() != nil {
				continue
			}
			s.deps.Progress.HandleSSEEvent(evt.Type, evt.Data, run.MessageID, nil)
			if evt.Type == progress.EventResearchComplete {
				log.Info("research completed via event stream", slog.Int("poll_count", run.Attempts()))
				s.complete(run)
				return
			}

		case <-deadline.C:
			log.Warn("research timed out",
				slog.Int("poll_count", run.Attempts()),
				slog.Duration("elapsed", time.Since(run.StartedAt)))
			s.fail(run, metrics.OutcomeTimeout, errPollTimeout)
			return

		case <-pollTimer.C:
			n := int(run.attempts.Add(1))
			status, err := s.deps.Backend.GetResearchStatus(pollCtx, run.ResearchSessionID)
			if pollCtx.Err() != nil {
				// Stopped while the request was in flight; the response is dropped.
				continue
			}

			if err != nil {
				s.deps.Metrics.PollError()
				log.Warn("failed to poll research status",
					slog.Int("poll_count", n),
					slog.String("error", err.Error()))
			} else if status.Completed() {
				log.Info("research completed",
					slog.Int("poll_count", n),
					slog.Duration("duration", time.Since(run.StartedAt)))
				s.complete(run)
				return
			} else {
				s.deps.Progress.HandlePollingUpdate(run.MessageID, status.CurrentStep, status.Progress)
				log.Debug("research still running",
					slog.String("status", status.Status),
					slog.Int("poll_count", n))
			}

			if s.cfg.MaxAttempts > 0 && n >= s.cfg.MaxAttempts {
				log.Warn("research exceeded poll attempts", slog.Int("poll_count", n))
				s.fail(run, metrics.OutcomeMaxAttempts, errMaxAttempts)
				return
			}
			pollTimer.Reset(schedule.Next(err != nil))
		}
	}
}

func (s *Service) streamEvents(ctx context.Context, run *Run, out chan<- apiclient.ServerEvent) {
	defer s.wg.Done()

	err := s.deps.Backend.StreamResearchEvents(ctx, run.ResearchSessionID, func(evt apiclient.ServerEvent) error {
		select {
		case out <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil && ctx.Err() == nil {
		s.log.Debug("research event stream ended, polling continues",
			slog.String("research_session_id", run.ResearchSessionID),
			slog.String("error", err.Error()))
	}
}

// complete fetches the results and resolves the run's message.
func (s *Service) complete(run *Run) {
	const op = "research.complete"

	if !s.release(run.ResearchSessionID) {
		run.finish(ErrStopped)
		return
	}
	s.deps.Progress.Finish(run.MessageID)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ResultTimeout)
	defer cancel()

	results, err := s.deps.Backend.GetResearchResults(ctx, run.ResearchSessionID)
	if err != nil {
		s.resultFailure(run, apperrors.Wrap(apperrors.KindResultFetch, op, err))
		return
	}

	area, _ := s.deps.Mapper.Area(run.AreaID)
	shaped, err := ShapeResults(area, run.CompanyName, run.CompanyDomain, results)
	if err != nil {
		s.resultFailure(run, apperrors.Wrap(apperrors.KindResultFetch, op, err))
		return
	}

	if !s.deps.Timeline.Resolve(run.MessageID, shaped.Content, shaped.Payload, results.Sources) {
		// The message is gone, most likely because the session was reset.
		s.log.Warn("research message no longer in timeline",
			slog.String("research_session_id", run.ResearchSessionID),
			slog.String("message_id", run.MessageID))
		s.deps.Progress.CompleteProgress()
		run.finish(nil)
		return
	}

	s.deps.Ledger.Add(chat.CompletedResearch{
		ID:          run.ResearchSessionID,
		Title:       shaped.Title,
		AreaID:      run.AreaID,
		CompanyID:   run.CompanyName,
		Data:        results.Data,
		StartedAt:   run.StartedAt,
		CompletedAt: time.Now(),
		Findings:    shaped.Findings,
	})
	s.deps.Timeline.Append(s.followUp(run.AreaID, run.CompanyName))
	s.deps.Timeline.SetTyping(false)
	s.deps.Progress.CompleteProgress()

	s.deps.Metrics.ResearchFinished(run.AreaID, metrics.OutcomeCompleted, run.Attempts(), time.Since(run.StartedAt))
	s.publish(notify.SubjectResearchCompleted, run, metrics.OutcomeCompleted)

	run.finish(nil)
	if s.deps.OnCompleted != nil {
		s.deps.OnCompleted(run)
	}
}

func (s *Service) resultFailure(run *Run, err error) {
	s.log.Error("failed to load research results",
		slog.String("research_session_id", run.ResearchSessionID),
		slog.String("error", err.Error()))

	s.deps.Timeline.Fail(run.MessageID, "The research finished, but I couldn't load the results.")
	s.deps.Timeline.SetTyping(false)
	s.deps.Progress.CompleteProgress()

	s.deps.Metrics.ResearchFinished(run.AreaID, metrics.OutcomeResultFetch, run.Attempts(), time.Since(run.StartedAt))
	s.publish(notify.SubjectResearchFailed, run, metrics.OutcomeResultFetch)
	run.finish(err)
}

// fail ends a run that ran out of budget.
func (s *Service) fail(run *Run, outcome string, cause error) {
	if !s.release(run.ResearchSessionID) {
		run.finish(ErrStopped)
		return
	}

	title := run.AreaID
	if area, ok := s.deps.Mapper.Area(run.AreaID); ok {
		title = area.Title
	}

	s.deps.Timeline.Fail(run.MessageID, fmt.Sprintf("%s research for %s did not finish.", title, run.CompanyName))
	apology := chat.NewErrorMessage(fmt.Sprintf(
		"I'm sorry, the research on %s is taking longer than expected. Please try again.", run.CompanyName))
	apology.Options = []chat.Option{{ID: run.AreaID, Text: "Try again", Icon: "refresh-cw", Category: "retry"}}
	s.deps.Timeline.Append(apology)
	s.deps.Timeline.SetTyping(false)
	s.deps.Progress.CompleteProgress()

	s.deps.Metrics.ResearchFinished(run.AreaID, outcome, run.Attempts(), time.Since(run.StartedAt))
	s.publish(notify.SubjectResearchFailed, run, outcome)
	run.finish(apperrors.Wrap(apperrors.KindTimeout, "research.poll", cause))
}
