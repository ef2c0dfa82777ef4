package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/pacing"
)

// State is a snapshot of the current progress.
type State struct {
	MessageID   string               `json:"messageId"`
	CompanyName string               `json:"companyName"`
	IsActive    bool                 `json:"isActive"`
	Steps       []chat.StreamingStep `json:"steps"`
	EventTypes  []string             `json:"eventTypes"`
	Findings    json.RawMessage      `json:"findings,omitempty"`
	StartedAt   time.Time            `json:"startedAt"`
	CompletedAt time.Time            `json:"completedAt,omitempty"`
}

// StartOptions carries the backend event metadata used to build the step
// list: event i becomes step i, described by EventDescriptions[type].
type StartOptions struct {
	OnComplete        func()
	EventDescriptions map[string]string
	EventTypes        []string
	EventIcons        map[string]string
	MessageID         string
}

// InputKind tells Advance where an input came from.
type InputKind int

const (
	// InputEvent is a real backend event.
	InputEvent InputKind = iota
	// InputTick is a simulated progress tick.
	InputTick
	// InputPoll is a status poll reporting how far the backend got.
	InputPoll
)

// Input is one step-advancement request.
type Input struct {
	Kind      InputKind
	EventType string
	// Order overrides the event ordering for InputEvent.
	Order []string
	// Reached is the number of steps the backend reports done, for InputPoll.
	Reached int
}

// Manager turns events and ticks into step completion on a streaming message.
// One Manager belongs to one console session.
type Manager struct {
	mapper *Mapper
	pacer  pacing.Pacer
	log    *logger.Logger

	mu         sync.Mutex
	timeline   *chat.Timeline
	state      State
	onComplete func()
}

func NewManager(mapper *Mapper, pacer pacing.Pacer, log *logger.Logger) *Manager {
	return &Manager{
		mapper: mapper,
		pacer:  pacer,
		log:    log.WithComponent("progress"),
	}
}

// Initialize binds the timeline. Other operations are no-ops until then.
func (m *Manager) Initialize(tl *chat.Timeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline = tl
}

func (m *Manager) bound() (*chat.Timeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timeline == nil {
		m.log.Warn("progress manager used before Initialize")
		return nil, false
	}
	return m.timeline, true
}

// StartNewResearch re-seeds the progress state and shows a streaming message
// built from the event metadata. With no event types nothing is shown yet.
// It returns the message id, generated when opts.MessageID is empty.
func (m *Manager) StartNewResearch(companyName string, opts StartOptions) string {
	tl, ok := m.bound()
	if !ok {
		return ""
	}

	id := opts.MessageID
	if id == "" {
		id = chat.NewID()
	}

	steps := make([]chat.StreamingStep, 0, len(opts.EventTypes))
	for _, t := range opts.EventTypes {
		text := opts.EventDescriptions[t]
		if text == "" {
			text = m.mapper.StepForEvent("", t).Text
		}
		steps = append(steps, chat.StreamingStep{Text: text, Icon: opts.EventIcons[t]})
	}

	m.mu.Lock()
	m.state = State{
		MessageID:   id,
		CompanyName: companyName,
		IsActive:    true,
		Steps:       steps,
		EventTypes:  append([]string(nil), opts.EventTypes...),
		StartedAt:   time.Now(),
	}
	m.onComplete = opts.OnComplete
	m.mu.Unlock()

	if len(steps) == 0 {
		m.log.Debug("no event metadata yet, progress message deferred", slog.String("message_id", id))
		return id
	}

	tl.Upsert(chat.NewStreamingMessage(id, fmt.Sprintf("Researching %s...", companyName), steps))
	return id
}

// Advance is the single step-advancement function. Real events and simulated
// ticks both go through it, so completion stays monotonic whichever arrives
// first. It returns the index it completed, or -1.
func (m *Manager) Advance(messageID string, in Input) int {
	tl, ok := m.bound()
	if !ok {
		return -1
	}

	msg, ok := tl.Get(messageID)
	if !ok || !msg.IsStreaming {
		return -1
	}

	idx := -1
	switch in.Kind {
	case InputEvent:
		order := in.Order
		if len(order) == 0 {
			order = m.eventOrderFor(messageID)
		}
		idx = m.mapper.StepIndexForEvent(in.EventType, order)
		if idx < 0 || idx >= len(msg.StreamingSteps) {
			m.log.Debug("event has no step",
				slog.String("event_type", in.EventType),
				slog.Int("index", idx),
				slog.String("message_id", messageID))
			return -1
		}
		if !tl.CompleteStep(messageID, idx) {
			return -1
		}

	case InputTick:
		// The last step is left for real completion.
		for i := 0; i < len(msg.StreamingSteps)-1; i++ {
			if !msg.StreamingSteps[i].Completed {
				idx = i
				break
			}
		}
		if idx < 0 || !tl.CompleteStep(messageID, idx) {
			return -1
		}

	case InputPoll:
		reached := in.Reached
		if reached > len(msg.StreamingSteps)-1 {
			reached = len(msg.StreamingSteps) - 1
		}
		for i := 0; i < reached; i++ {
			if tl.CompleteStep(messageID, i) {
				idx = i
			}
		}
		if idx < 0 {
			return -1
		}
	}

	m.syncSteps(tl, messageID)
	return idx
}

// HandleSSEEvent applies one backend event to the message.
// research_findings data is cached; research_complete completes progress.
func (m *Manager) HandleSSEEvent(eventType string, eventData json.RawMessage, messageID string, backendEventTypes []string) {
	m.Advance(messageID, Input{Kind: InputEvent, EventType: eventType, Order: backendEventTypes})

	switch eventType {
	case EventResearchFindings:
		m.mu.Lock()
		if m.state.MessageID == messageID {
			m.state.Findings = append(json.RawMessage(nil), eventData...)
		}
		m.mu.Unlock()
	case EventResearchComplete:
		m.CompleteProgress()
	}
}

// HandlePollingUpdate advances steps from a status poll. currentStep is the
// backend's step counter; when it is zero, progress (0..100) is used.
func (m *Manager) HandlePollingUpdate(messageID string, currentStep, progress int) int {
	reached := currentStep
	if reached <= 0 && progress > 0 {
		if msg, ok := m.message(messageID); ok {
			reached = progress * len(msg.StreamingSteps) / 100
		}
	}
	if reached <= 0 {
		return -1
	}
	return m.Advance(messageID, Input{Kind: InputPoll, Reached: reached})
}

// Finish marks every step of the message complete.
func (m *Manager) Finish(messageID string) {
	tl, ok := m.bound()
	if !ok {
		return
	}
	tl.CompleteAllSteps(messageID)
	m.syncSteps(tl, messageID)
}

// CompleteProgress ends the active progress and runs its completion
// callback. Only the first call after a start has any effect.
func (m *Manager) CompleteProgress() {
	m.mu.Lock()
	if !m.state.IsActive {
		m.mu.Unlock()
		return
	}
	m.state.IsActive = false
	m.state.CompletedAt = time.Now()
	cb := m.onComplete
	m.onComplete = nil
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// GetProgressState returns a copy of the current state.
func (m *Manager) GetProgressState() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	s.Steps = append([]chat.StreamingStep(nil), m.state.Steps...)
	s.EventTypes = append([]string(nil), m.state.EventTypes...)
	s.Findings = append(json.RawMessage(nil), m.state.Findings...)
	return s
}

// StartHistoryLoading shows the fixed history-loading sequence for a
// company, completing one step per pacing beat. It returns the message id
// once every step is complete.
func (m *Manager) StartHistoryLoading(ctx context.Context, companyName string) (string, error) {
	tl, ok := m.bound()
	if !ok {
		return "", fmt.Errorf("progress manager not initialized")
	}

	steps := m.mapper.HistoryLoadingSteps()
	id := chat.NewID()

	m.mu.Lock()
	m.state = State{
		MessageID:   id,
		CompanyName: companyName,
		IsActive:    true,
		Steps:       steps,
		StartedAt:   time.Now(),
	}
	m.onComplete = nil
	m.mu.Unlock()

	tl.Append(chat.NewStreamingMessage(id, fmt.Sprintf("Loading previous research for %s...", companyName), steps))

	for i := range steps {
		if err := m.pacer.Pause(ctx, pacing.BeatHistoryStep); err != nil {
			return id, err
		}
		tl.CompleteStep(id, i)
	}
	m.syncSteps(tl, id)
	m.CompleteProgress()
	return id, nil
}

func (m *Manager) message(id string) (chat.Message, bool) {
	tl, ok := m.bound()
	if !ok {
		return chat.Message{}, false
	}
	return tl.Get(id)
}

func (m *Manager) eventOrderFor(messageID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.MessageID == messageID && len(m.state.EventTypes) > 0 {
		return m.state.EventTypes
	}
	return nil
}

// syncSteps mirrors the timeline's steps into the state snapshot when the
// message is the current one.
func (m *Manager) syncSteps(tl *chat.Timeline, messageID string) {
	msg, ok := tl.Get(messageID)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.MessageID == messageID {
		m.state.Steps = msg.StreamingSteps
	}
}
