package chat

import (
	"context"
	"sync"
	"time"
)

// Timeline is the ordered message list of one console session. All
// mutations are keyed by message id and serialized by an internal lock;
// every mutation is published to subscribers.
type Timeline struct {
	mu       sync.RWMutex
	messages []Message
	typing   bool
	seq      uint64

	subs        map[string]*Subscriber
	sendTimeout time.Duration
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		subs:        make(map[string]*Subscriber),
		sendTimeout: 50 * time.Millisecond,
	}
}

// Append adds messages at the end.
func (t *Timeline) Append(msgs ...Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range msgs {
		m = m.clone()
		if m.Kind == "" {
			m.Kind = PayloadNone
		}
		t.messages = append(t.messages, m)
		t.publishLocked(Event{Type: EventAppended, MessageID: m.ID, Message: ptr(m.clone())})
	}
}

// Update applies fn to the message with the given id. It reports false if
// no such message exists.
func (t *Timeline) Update(id string, fn func(*Message)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return false
	}
	m := t.messages[i].clone()
	fn(&m)
	m.ID = id
	m.Role = t.messages[i].Role
	t.messages[i] = m
	t.publishLocked(Event{Type: EventUpdated, MessageID: id, Message: ptr(m.clone())})
	return true
}

// Upsert replaces the message with msg.ID in place, or appends msg.
func (t *Timeline) Upsert(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg = msg.clone()
	if msg.Kind == "" {
		msg.Kind = PayloadNone
	}
	if i := t.indexLocked(msg.ID); i >= 0 {
		msg.Role = t.messages[i].Role
		t.messages[i] = msg
		t.publishLocked(Event{Type: EventUpdated, MessageID: msg.ID, Message: ptr(msg.clone())})
		return
	}
	t.messages = append(t.messages, msg)
	t.publishLocked(Event{Type: EventAppended, MessageID: msg.ID, Message: ptr(msg.clone())})
}

// Remove deletes the message with the given id.
func (t *Timeline) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return false
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	t.publishLocked(Event{Type: EventRemoved, MessageID: id})
	return true
}

// Filter keeps only the messages for which keep returns true.
func (t *Timeline) Filter(keep func(Message) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.messages[:0]
	for _, m := range t.messages {
		if keep(m) {
			kept = append(kept, m)
			continue
		}
		t.publishLocked(Event{Type: EventRemoved, MessageID: m.ID})
	}
	t.messages = kept
}

// Replace swaps the whole list, e.g. when a stored transcript is loaded.
func (t *Timeline) Replace(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		t.messages = append(t.messages, m.clone())
	}
	t.publishLocked(Event{Type: EventReset, Messages: t.snapshotLocked()})
}

// Reset empties the timeline.
func (t *Timeline) Reset() {
	t.Replace(nil)
}

// Get returns a copy of the message with the given id.
func (t *Timeline) Get(id string) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := t.indexLocked(id)
	if i < 0 {
		return Message{}, false
	}
	return t.messages[i].clone(), true
}

// Messages returns a snapshot of the list.
func (t *Timeline) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// CompleteStep marks one streaming step complete. Steps never go back to
// incomplete. It reports whether the step changed.
func (t *Timeline) CompleteStep(id string, index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return false
	}
	m := &t.messages[i]
	if index < 0 || index >= len(m.StreamingSteps) || m.StreamingSteps[index].Completed {
		return false
	}
	m.StreamingSteps = append([]StreamingStep(nil), m.StreamingSteps...)
	m.StreamingSteps[index].Completed = true
	t.publishLocked(Event{Type: EventUpdated, MessageID: id, Message: ptr(m.clone())})
	return true
}

// CompleteAllSteps marks every streaming step of the message complete.
func (t *Timeline) CompleteAllSteps(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return false
	}
	m := &t.messages[i]
	steps := append([]StreamingStep(nil), m.StreamingSteps...)
	changed := false
	for j := range steps {
		if !steps[j].Completed {
			steps[j].Completed = true
			changed = true
		}
	}
	if changed {
		m.StreamingSteps = steps
		t.publishLocked(Event{Type: EventUpdated, MessageID: id, Message: ptr(m.clone())})
	}
	return true
}

// Resolve turns a streaming placeholder into a resolved message carrying p.
// It reports false when the message is missing or p is not a valid union.
func (t *Timeline) Resolve(id, content string, p Payload, sources []Source) bool {
	if !p.Valid() || !p.IsSet() {
		return false
	}
	return t.Update(id, func(m *Message) {
		m.IsStreaming = false
		m.IsError = false
		for j := range m.StreamingSteps {
			m.StreamingSteps[j].Completed = true
		}
		if content != "" {
			m.Content = content
		}
		m.Sources = sources
		m.Payload = p
	})
}

// Fail turns a placeholder into an error message.
func (t *Timeline) Fail(id, content string) bool {
	return t.Update(id, func(m *Message) {
		m.IsStreaming = false
		m.IsError = true
		m.Content = content
		m.Payload = Payload{Kind: PayloadNone}
	})
}

// SetTyping sets the assistant typing indicator.
func (t *Timeline) SetTyping(typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.typing == typing {
		return
	}
	t.typing = typing
	t.publishLocked(Event{Type: EventTyping, Typing: &typing})
}

func (t *Timeline) IsTyping() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.typing
}

// Subscribe registers a subscriber that receives every subsequent event.
// The subscriber is dropped when ctx ends or Unsubscribe is called.
func (t *Timeline) Subscribe(ctx context.Context, id string, bufferSize int) *Subscriber {
	sub := newSubscriber(ctx, id, bufferSize)

	t.mu.Lock()
	t.subs[id] = sub
	t.mu.Unlock()

	go func() {
		<-sub.Context().Done()
		t.Unsubscribe(id)
	}()
	return sub
}

// Unsubscribe removes and cancels a subscriber.
func (t *Timeline) Unsubscribe(id string) {
	t.mu.Lock()
	sub, ok := t.subs[id]
	delete(t.subs, id)
	t.mu.Unlock()

	if ok {
		sub.Cancel()
	}
}

// SubscriberCount returns the number of live subscribers.
func (t *Timeline) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close cancels every subscriber.
func (t *Timeline) Close() {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[string]*Subscriber)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

func (t *Timeline) publishLocked(evt Event) {
	t.seq++
	evt.Seq = t.seq
	for _, sub := range t.subs {
		sub.send(evt, t.sendTimeout)
	}
}

func (t *Timeline) indexLocked(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) snapshotLocked() []Message {
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.clone()
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
