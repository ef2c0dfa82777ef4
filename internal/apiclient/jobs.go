package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// errJobPending marks a poll that found the job still running.
var errJobPending = errors.New("job still running")

// SubmitJob starts a long-running backend operation.
func (c *Client) SubmitJob(ctx context.Context, path string, body any) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, path, nil, body, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, errors.New("backend returned no job id")
	}
	return &job, nil
}

// WaitForJob polls a job until it completes, fails, or the configured job
// timeout passes. A failed job is returned as an error without further
// polling.
func (c *Client) WaitForJob(ctx context.Context, jobID string) (*Job, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.JobPollInterval
	b.MaxInterval = 4 * c.cfg.JobPollInterval

	attempt := 0
	operation := func() (*Job, error) {
		attempt++
		var job Job
		err := c.do(ctx, http.MethodGet, "/jobs/{id}", map[string]string{"id": jobID}, nil, &job)
		switch {
		case errors.Is(err, ErrSessionExpired):
			return nil, backoff.Permanent(err)
		case err != nil:
			return nil, err
		}

		switch job.Status {
		case JobCompleted:
			return &job, nil
		case JobFailed:
			return nil, backoff.Permanent(fmt.Errorf("job %s failed: %s", jobID, job.Error))
		default:
			return nil, errJobPending
		}
	}

	job, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.cfg.JobTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("job not ready",
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.Duration("next", next),
				slog.String("reason", err.Error()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}
