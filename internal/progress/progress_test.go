package progress

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/config"
	"github.com/eternisai/salesintel/internal/logger"
	"github.com/eternisai/salesintel/internal/pacing"
)

func newTestManager(t *testing.T) (*Manager, *chat.Timeline, *pacing.Instant) {
	t.Helper()
	p := &pacing.Instant{}
	m := NewManager(NewMapper(config.DefaultAreas()), p, logger.Discard())
	tl := chat.NewTimeline()
	m.Initialize(tl)
	return m, tl, p
}

func startArea(m *Manager, areaID, messageID string, onComplete func()) string {
	types, desc, icons := m.mapper.EventMetadata(areaID)
	return m.StartNewResearch("Acme Corp", StartOptions{
		OnComplete:        onComplete,
		EventDescriptions: desc,
		EventTypes:        types,
		EventIcons:        icons,
		MessageID:         messageID,
	})
}

func TestMapperStepsForArea(t *testing.T) {
	mp := NewMapper(config.DefaultAreas())

	steps := mp.StepsForArea("decision_makers")
	require.Len(t, steps, 5)
	assert.Equal(t, "Mapping leadership team", steps[0].Text)
	for _, s := range steps {
		assert.False(t, s.Completed)
	}

	assert.Len(t, mp.StepsForArea("unknown_area"), 4)
	assert.Len(t, mp.HistoryLoadingSteps(), 4)
}

func TestMapperStepIndexForEvent(t *testing.T) {
	mp := NewMapper(nil)

	assert.Equal(t, 0, mp.StepIndexForEvent(EventResearchStarted, nil))
	assert.Equal(t, 4, mp.StepIndexForEvent(EventResearchComplete, nil))
	assert.Equal(t, -1, mp.StepIndexForEvent("heartbeat", nil))
	assert.Equal(t, 1, mp.StepIndexForEvent("b", []string{"a", "b"}))
	assert.Equal(t, -1, mp.StepIndexForEvent(EventResearchStarted, []string{"a"}))
}

func TestMapperStepForEvent(t *testing.T) {
	mp := NewMapper(config.DefaultAreas())

	assert.Equal(t, "Found leadership profiles", mp.StepForEvent("decision_makers", EventSourcesCollected).Text)
	assert.Equal(t, "Sources collected", mp.StepForEvent("tech_stack", EventSourcesCollected).Text)
	assert.Equal(t, "custom", mp.StepForEvent("tech_stack", "custom").Text)
}

func TestStartNewResearchWithoutMetadataShowsNothing(t *testing.T) {
	m, tl, _ := newTestManager(t)

	id := m.StartNewResearch("Acme Corp", StartOptions{})
	assert.NotEmpty(t, id)
	assert.Equal(t, 0, tl.Len())
	assert.True(t, m.GetProgressState().IsActive)
}

func TestStartNewResearchReusesMessageID(t *testing.T) {
	m, tl, _ := newTestManager(t)
	tl.Append(chat.NewStreamingMessage("m1", "", nil))

	id := startArea(m, "tech_stack", "m1", nil)
	assert.Equal(t, "m1", id)
	require.Equal(t, 1, tl.Len())

	msg, _ := tl.Get("m1")
	assert.Len(t, msg.StreamingSteps, 5)
	assert.Equal(t, "Scanning website technologies", msg.StreamingSteps[0].Text)
}

func TestHandleSSEEventIsMonotonic(t *testing.T) {
	m, tl, _ := newTestManager(t)
	id := startArea(m, "tech_stack", "", nil)

	prev := 0
	events := []string{EventAnalysisStarted, EventResearchStarted, "unknown", EventAnalysisStarted, EventSourcesCollected}
	for _, e := range events {
		m.HandleSSEEvent(e, nil, id, nil)
		msg, _ := tl.Get(id)
		n := msg.CompletedSteps()
		assert.GreaterOrEqual(t, n, prev)
		prev = n
	}
	msg, _ := tl.Get(id)
	assert.Equal(t, []bool{true, true, true, false, false}, completedFlags(msg))
}

func TestHandleSSEEventOutOfRangeIgnored(t *testing.T) {
	m, tl, _ := newTestManager(t)
	id := startArea(m, "tech_stack", "", nil)

	m.HandleSSEEvent("b", nil, id, []string{"a", "b", "c", "d", "e", "f", "g"})
	m.HandleSSEEvent("g", nil, id, []string{"a", "b", "c", "d", "e", "f", "g"})

	msg, _ := tl.Get(id)
	assert.Equal(t, 1, msg.CompletedSteps())
}

func TestHandleSSEEventFindingsAndComplete(t *testing.T) {
	m, _, _ := newTestManager(t)
	calls := 0
	id := startArea(m, "tech_stack", "", func() { calls++ })

	m.HandleSSEEvent(EventResearchFindings, json.RawMessage(`{"n":1}`), id, nil)
	assert.JSONEq(t, `{"n":1}`, string(m.GetProgressState().Findings))

	m.HandleSSEEvent(EventResearchComplete, nil, id, nil)
	m.HandleSSEEvent(EventResearchComplete, nil, id, nil)
	assert.Equal(t, 1, calls)
	assert.False(t, m.GetProgressState().IsActive)
}

func TestCompleteProgressIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	calls := 0
	startArea(m, "tech_stack", "", func() { calls++ })

	m.CompleteProgress()
	m.CompleteProgress()
	assert.Equal(t, 1, calls)

	startArea(m, "recent_news", "", func() { calls++ })
	m.CompleteProgress()
	assert.Equal(t, 2, calls)
}

func TestTickLeavesLastStepForCompletion(t *testing.T) {
	m, tl, _ := newTestManager(t)
	id := startArea(m, "tech_stack", "", nil)

	for i := 0; i < 10; i++ {
		m.Advance(id, Input{Kind: InputTick})
	}
	msg, _ := tl.Get(id)
	assert.Equal(t, []bool{true, true, true, true, false}, completedFlags(msg))

	m.Finish(id)
	msg, _ = tl.Get(id)
	assert.Equal(t, 5, msg.CompletedSteps())
	assert.Equal(t, 5, countCompleted(m.GetProgressState().Steps))
}

func TestTickAndEventsInterleave(t *testing.T) {
	m, tl, _ := newTestManager(t)
	id := startArea(m, "tech_stack", "", nil)

	assert.Equal(t, 2, m.Advance(id, Input{Kind: InputEvent, EventType: EventAnalysisStarted}))
	assert.Equal(t, 0, m.Advance(id, Input{Kind: InputTick}))
	assert.Equal(t, 1, m.Advance(id, Input{Kind: InputTick}))
	assert.Equal(t, 3, m.Advance(id, Input{Kind: InputTick}))
	assert.Equal(t, -1, m.Advance(id, Input{Kind: InputTick}))
	assert.Equal(t, -1, m.Advance(id, Input{Kind: InputEvent, EventType: EventResearchStarted}))

	msg, _ := tl.Get(id)
	assert.Equal(t, 4, msg.CompletedSteps())
}

func TestHandlePollingUpdate(t *testing.T) {
	m, tl, _ := newTestManager(t)
	id := startArea(m, "tech_stack", "", nil)

	m.HandlePollingUpdate(id, 2, 0)
	msg, _ := tl.Get(id)
	assert.Equal(t, []bool{true, true, false, false, false}, completedFlags(msg))

	m.HandlePollingUpdate(id, 0, 100)
	msg, _ = tl.Get(id)
	assert.Equal(t, []bool{true, true, true, true, false}, completedFlags(msg))

	assert.Equal(t, -1, m.HandlePollingUpdate(id, 1, 0))
}

func TestStartHistoryLoading(t *testing.T) {
	m, tl, p := newTestManager(t)

	id, err := m.StartHistoryLoading(context.Background(), "Shopify")
	require.NoError(t, err)

	msg, ok := tl.Get(id)
	require.True(t, ok)
	assert.Equal(t, 4, msg.CompletedSteps())
	assert.Len(t, p.Beats(), 4)
	assert.False(t, m.GetProgressState().IsActive)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	m := NewManager(NewMapper(nil), &pacing.Instant{}, logger.Discard())

	assert.Empty(t, m.StartNewResearch("Acme", StartOptions{EventTypes: []string{"a"}}))
	assert.Equal(t, -1, m.Advance("x", Input{Kind: InputTick}))
	_, err := m.StartHistoryLoading(context.Background(), "Acme")
	assert.Error(t, err)
}

func completedFlags(msg chat.Message) []bool {
	out := make([]bool, len(msg.StreamingSteps))
	for i, s := range msg.StreamingSteps {
		out[i] = s.Completed
	}
	return out
}

func countCompleted(steps []chat.StreamingStep) int {
	n := 0
	for _, s := range steps {
		if s.Completed {
			n++
		}
	}
	return n
}
