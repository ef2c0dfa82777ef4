// Package pacing separates presentation pauses from control flow. Handlers
// ask a Pacer for a named beat; production waits, tests return at once.
package pacing

import (
	"context"
	"sync"
	"time"
)

// Beat names a presentation pause.
type Beat string

const (
	// BeatThinking precedes the reply to free text.
	BeatThinking Beat = "thinking"
	// BeatEcho precedes the synthetic "Research X" user message.
	BeatEcho Beat = "echo"
	// BeatKickoff precedes the overview research of a new session.
	BeatKickoff Beat = "kickoff"
	// BeatHistoryStep separates history loading steps.
	BeatHistoryStep Beat = "history_step"
)

// Pacer pauses for a beat. Pause returns ctx.Err() if ctx ends first.
type Pacer interface {
	Pause(ctx context.Context, beat Beat) error
}

// Timed waits a fixed duration per beat. Unknown beats do not wait.
type Timed struct {
	durations map[Beat]time.Duration
}

func NewTimed(durations map[Beat]time.Duration) *Timed {
	d := make(map[Beat]time.Duration, len(durations))
	for k, v := range durations {
		d[k] = v
	}
	return &Timed{durations: d}
}

func (p *Timed) Pause(ctx context.Context, beat Beat) error {
	d := p.durations[beat]
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Instant never waits. It records the beats it was asked for.
type Instant struct {
	mu    sync.Mutex
	beats []Beat
}

func (p *Instant) Pause(ctx context.Context, beat Beat) error {
	p.mu.Lock()
	p.beats = append(p.beats, beat)
	p.mu.Unlock()
	return ctx.Err()
}

// Beats returns the beats seen so far, in order.
func (p *Instant) Beats() []Beat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Beat(nil), p.beats...)
}
