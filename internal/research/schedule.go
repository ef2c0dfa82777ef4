package research

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Schedule yields poll intervals: exponential from the initial interval up
// to its ceiling, and the fixed error interval after a failed poll. A
// failed poll does not advance the exponential sequence.
type Schedule struct {
	b             *backoff.ExponentialBackOff
	errorInterval time.Duration
}

func NewSchedule(cfg Config) *Schedule {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.maxInterval(),
	}
	b.Reset()
	return &Schedule{b: b, errorInterval: cfg.ErrorInterval}
}

// Next returns the wait before the next poll.
func (s *Schedule) Next(pollFailed bool) time.Duration {
	if pollFailed {
		return s.errorInterval
	}
	return s.b.NextBackOff()
}
