package progress

import (
	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/config"
)

// Backend event names, in the order the research backend emits them.
const (
	EventResearchStarted  = "research_started"
	EventSourcesCollected = "sources_collected"
	EventAnalysisStarted  = "analysis_started"
	EventResearchFindings = "research_findings"
	EventResearchComplete = "research_complete"
)

// DefaultEventOrder is used when the caller supplies no ordering.
var DefaultEventOrder = []string{
	EventResearchStarted,
	EventSourcesCollected,
	EventAnalysisStarted,
	EventResearchFindings,
	EventResearchComplete,
}

var genericSteps = []config.StepDef{
	{Text: "Starting research", Icon: "search"},
	{Text: "Gathering information", Icon: "globe"},
	{Text: "Analyzing data", Icon: "brain"},
	{Text: "Preparing results", Icon: "check"},
}

var genericEvents = map[string]config.StepDef{
	EventResearchStarted:  {Text: "Research started", Icon: "search"},
	EventSourcesCollected: {Text: "Sources collected", Icon: "globe"},
	EventAnalysisStarted:  {Text: "Analyzing sources", Icon: "brain"},
	EventResearchFindings: {Text: "Findings ready", Icon: "file-text"},
	EventResearchComplete: {Text: "Research complete", Icon: "check"},
}

var historySteps = []config.StepDef{
	{Text: "Loading research history", Icon: "clock"},
	{Text: "Retrieving previous findings", Icon: "database"},
	{Text: "Restoring conversation", Icon: "message-square"},
	{Text: "Preparing workspace", Icon: "check"},
}

// Mapper resolves research areas and backend events to display steps. It is
// immutable after NewMapper and safe for concurrent use.
type Mapper struct {
	areas map[string]config.ResearchArea
	order []string
}

func NewMapper(areas []config.ResearchArea) *Mapper {
	m := &Mapper{areas: make(map[string]config.ResearchArea, len(areas))}
	for _, a := range areas {
		if _, dup := m.areas[a.ID]; !dup {
			m.order = append(m.order, a.ID)
		}
		m.areas[a.ID] = a
	}
	return m
}

// StepsForArea returns the area's steps, all incomplete. Unknown areas get
// the generic four-step list.
func (m *Mapper) StepsForArea(areaID string) []chat.StreamingStep {
	defs := genericSteps
	if a, ok := m.areas[areaID]; ok && len(a.Steps) > 0 {
		defs = a.Steps
	}
	return toSteps(defs)
}

// StepIndexForEvent returns the position of eventType in order, or in
// DefaultEventOrder when order is empty. It returns -1 if absent.
func (m *Mapper) StepIndexForEvent(eventType string, order []string) int {
	if len(order) == 0 {
		order = DefaultEventOrder
	}
	for i, e := range order {
		if e == eventType {
			return i
		}
	}
	return -1
}

// StepForEvent describes a backend event for display.
func (m *Mapper) StepForEvent(areaID, eventType string) chat.StreamingStep {
	if a, ok := m.areas[areaID]; ok {
		if def, ok := a.Events[eventType]; ok {
			return chat.StreamingStep{Text: def.Text, Icon: def.Icon}
		}
	}
	if def, ok := genericEvents[eventType]; ok {
		return chat.StreamingStep{Text: def.Text, Icon: def.Icon}
	}
	return chat.StreamingStep{Text: eventType, Icon: "dot"}
}

// EventMetadata returns the parallel event metadata StartNewResearch takes
// for an area. Event i is described by the area's step i, so the display
// list stays in the area's wording while backend events drive it.
func (m *Mapper) EventMetadata(areaID string) (types []string, descriptions, icons map[string]string) {
	steps := m.StepsForArea(areaID)
	n := len(steps)
	if n > len(DefaultEventOrder) {
		n = len(DefaultEventOrder)
	}

	types = append([]string(nil), DefaultEventOrder[:n]...)
	descriptions = make(map[string]string, n)
	icons = make(map[string]string, n)
	for i, t := range types {
		descriptions[t] = steps[i].Text
		icons[t] = steps[i].Icon
	}
	return types, descriptions, icons
}

// HistoryLoadingSteps returns the fixed steps shown while a stored
// transcript loads.
func (m *Mapper) HistoryLoadingSteps() []chat.StreamingStep {
	return toSteps(historySteps)
}

func (m *Mapper) Area(id string) (config.ResearchArea, bool) {
	a, ok := m.areas[id]
	return a, ok
}

func (m *Mapper) IsArea(id string) bool {
	_, ok := m.areas[id]
	return ok
}

// Areas returns the catalog in configuration order.
func (m *Mapper) Areas() []config.ResearchArea {
	out := make([]config.ResearchArea, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.areas[id])
	}
	return out
}

// AreaIDs returns the catalog ids in configuration order.
func (m *Mapper) AreaIDs() []string {
	return append([]string(nil), m.order...)
}

func toSteps(defs []config.StepDef) []chat.StreamingStep {
	out := make([]chat.StreamingStep, len(defs))
	for i, d := range defs {
		out[i] = chat.StreamingStep{Text: d.Text, Icon: d.Icon}
	}
	return out
}
