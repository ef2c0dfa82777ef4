package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerProgress(t *testing.T) {
	l := NewLedger()
	areas := []string{"company_overview", "decision_makers", "tech_stack", "recent_news"}
	assert.Equal(t, 0, l.Progress(areas))

	l.Add(CompletedResearch{ID: "1", AreaID: "company_overview"})
	l.Add(CompletedResearch{ID: "2", AreaID: "decision_makers"})
	l.Add(CompletedResearch{ID: "3", AreaID: "decision_makers"})

	assert.Equal(t, 50, l.Progress(areas))
	assert.True(t, l.HasArea("decision_makers"))
	assert.False(t, l.HasArea("tech_stack"))
	assert.Len(t, l.Entries(), 3)
	assert.Equal(t, 0, l.Progress(nil))

	l.Replace([]CompletedResearch{{ID: "x", AreaID: "tech_stack"}})
	assert.Equal(t, 25, l.Progress(areas))

	l.Reset()
	assert.Empty(t, l.Entries())
}
