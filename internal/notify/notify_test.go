package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/salesintel/internal/logger"
)

type fakeStopper struct {
	owned map[string]bool
	calls []string
}

func (f *fakeStopper) StopResearch(sessionID, researchSessionID string) bool {
	f.calls = append(f.calls, sessionID+"/"+researchSessionID)
	return f.owned[researchSessionID]
}

func TestNilServiceIsSafe(t *testing.T) {
	s := New(nil, logger.Discard(), "i-1")
	require.Nil(t, s)

	assert.NoError(t, s.Publish(context.Background(), SubjectResearchStarted, ResearchEvent{}))
	assert.NoError(t, s.Start(&fakeStopper{}))
	assert.NoError(t, s.Close())

	resp, err := s.RequestStop(context.Background(), "s", "rs")
	require.NoError(t, err)
	assert.False(t, resp.Found)
}

func TestHandleStopRepliesOnlyWhenOwned(t *testing.T) {
	s := &Service{logger: logger.Discard(), instanceID: "i-1"}
	stopper := &fakeStopper{owned: map[string]bool{"rs-1": true}}

	resp, ok := s.handleStop(stopper, []byte(`{"session_id":"s-1","research_session_id":"rs-1"}`))
	assert.True(t, ok)
	assert.Equal(t, StopResponse{Found: true, InstanceID: "i-1"}, resp)

	_, ok = s.handleStop(stopper, []byte(`{"session_id":"s-1","research_session_id":"rs-2"}`))
	assert.False(t, ok)

	_, ok = s.handleStop(stopper, []byte(`not json`))
	assert.False(t, ok)

	assert.Equal(t, []string{"s-1/rs-1", "s-1/rs-2"}, stopper.calls)
}
