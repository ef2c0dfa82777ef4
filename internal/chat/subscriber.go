package chat

import (
	"context"
	"time"
)

// EventType names a timeline change.
type EventType string

const (
	EventAppended EventType = "message_appended"
	EventUpdated  EventType = "message_updated"
	EventRemoved  EventType = "message_removed"
	EventReset    EventType = "timeline_reset"
	EventTyping   EventType = "typing"
)

// Event is one timeline change as delivered to subscribers.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	Typing    *bool     `json:"typing,omitempty"`
}

// Subscriber receives timeline events on a buffered channel. Sends never
// block the timeline for longer than the send timeout; a slow subscriber
// misses events instead.
type Subscriber struct {
	ID       string
	Ch       chan Event
	JoinedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

const (
	minSubscriberBuffer = 10
	maxSubscriberBuffer = 1000
)

func newSubscriber(ctx context.Context, id string, bufferSize int) *Subscriber {
	subCtx, cancel := context.WithCancel(ctx)

	if bufferSize < minSubscriberBuffer {
		bufferSize = minSubscriberBuffer
	}
	if bufferSize > maxSubscriberBuffer {
		bufferSize = maxSubscriberBuffer
	}

	return &Subscriber{
		ID:       id,
		Ch:       make(chan Event, bufferSize),
		JoinedAt: time.Now(),
		ctx:      subCtx,
		cancel:   cancel,
	}
}

// Context is cancelled when the subscriber goes away.
func (s *Subscriber) Context() context.Context {
	return s.ctx
}

// Cancel stops delivery. Safe to call multiple times.
func (s *Subscriber) Cancel() {
	s.cancel()
}

func (s *Subscriber) send(evt Event, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case s.Ch <- evt:
			return true
		case <-s.ctx.Done():
			return false
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.Ch <- evt:
		return true
	case <-timer.C:
		return false
	case <-s.ctx.Done():
		return false
	}
}

// IsDisconnected reports whether the subscriber has been cancelled.
func (s *Subscriber) IsDisconnected() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}
