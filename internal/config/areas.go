package config

import (
	"io"

	"github.com/goccy/go-yaml"
)

// OverviewAreaID is the area every new company starts with.
const OverviewAreaID = "company_overview"

// StepDef is one display line of an in-flight research operation.
type StepDef struct {
	Text string `yaml:"text" json:"text"`
	Icon string `yaml:"icon" json:"icon"`
}

// ResearchArea is a named category of company intelligence.
type ResearchArea struct {
	ID          string             `yaml:"id" json:"id"`
	Title       string             `yaml:"title" json:"title"`
	Description string             `yaml:"description" json:"description"`
	Icon        string             `yaml:"icon" json:"icon"`
	Category    string             `yaml:"category" json:"category"`
	Steps       []StepDef          `yaml:"steps" json:"steps"`
	Events      map[string]StepDef `yaml:"events" json:"events,omitempty"`
}

type areasFile struct {
	Areas []ResearchArea `yaml:"areas"`
}

// LoadAreasFile decodes a research area catalog:
//
//	areas:
//	  - id: tech_stack
//	    title: Technology stack
//	    steps:
//	      - {text: Scanning job postings, icon: briefcase}
func LoadAreasFile(reader io.Reader) ([]ResearchArea, error) {
	var f areasFile
	if err := yaml.NewDecoder(reader).Decode(&f); err != nil {
		return nil, err
	}
	return f.Areas, nil
}

// MergeAreas overlays overrides on base by ID. Overrides with unknown IDs
// are appended in file order.
func MergeAreas(base, overrides []ResearchArea) []ResearchArea {
	out := make([]ResearchArea, len(base))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.ID] = i
	}
	for _, o := range overrides {
		if o.ID == "" {
			continue
		}
		if i, ok := index[o.ID]; ok {
			out[i] = mergeArea(out[i], o)
			continue
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	return out
}

func mergeArea(base, o ResearchArea) ResearchArea {
	if o.Title != "" {
		base.Title = o.Title
	}
	if o.Description != "" {
		base.Description = o.Description
	}
	if o.Icon != "" {
		base.Icon = o.Icon
	}
	if o.Category != "" {
		base.Category = o.Category
	}
	if len(o.Steps) > 0 {
		base.Steps = o.Steps
	}
	if len(o.Events) > 0 {
		events := make(map[string]StepDef, len(base.Events)+len(o.Events))
		for k, v := range base.Events {
			events[k] = v
		}
		for k, v := range o.Events {
			events[k] = v
		}
		base.Events = events
	}
	return base
}

// DefaultAreas returns the built-in catalog.
func DefaultAreas() []ResearchArea {
	return []ResearchArea{
		{
			ID:          OverviewAreaID,
			Title:       "Company overview",
			Description: "Business model, size, funding and key facts",
			Icon:        "building",
			Category:    "overview",
			Steps: []StepDef{
				{Text: "Identifying company profile", Icon: "search"},
				{Text: "Gathering public sources", Icon: "globe"},
				{Text: "Analyzing business model", Icon: "brain"},
				{Text: "Summarizing key facts", Icon: "file-text"},
				{Text: "Finalizing overview", Icon: "check"},
			},
			Events: map[string]StepDef{
				"sources_collected": {Text: "Collected company sources", Icon: "globe"},
				"research_findings": {Text: "Drafted company summary", Icon: "file-text"},
			},
		},
		{
			ID:          "decision_makers",
			Title:       "Key contacts and decision makers",
			Description: "Leadership, buying committee and reporting lines",
			Icon:        "users",
			Category:    "people",
			Steps: []StepDef{
				{Text: "Mapping leadership team", Icon: "users"},
				{Text: "Searching professional profiles", Icon: "search"},
				{Text: "Identifying buying committee", Icon: "target"},
				{Text: "Ranking contacts by relevance", Icon: "bar-chart"},
				{Text: "Compiling contact findings", Icon: "check"},
			},
			Events: map[string]StepDef{
				"sources_collected": {Text: "Found leadership profiles", Icon: "users"},
			},
		},
		{
			ID:          "tech_stack",
			Title:       "Technology stack",
			Description: "Tools, platforms and infrastructure in use",
			Icon:        "cpu",
			Category:    "technology",
			Steps: []StepDef{
				{Text: "Scanning website technologies", Icon: "code"},
				{Text: "Reviewing job postings", Icon: "briefcase"},
				{Text: "Detecting vendor integrations", Icon: "link"},
				{Text: "Assessing stack maturity", Icon: "brain"},
				{Text: "Compiling technology findings", Icon: "check"},
			},
		},
		{
			ID:          "competitive_positioning",
			Title:       "Competitive positioning",
			Description: "Competitors, differentiation and market share",
			Icon:        "trending-up",
			Category:    "market",
			Steps: []StepDef{
				{Text: "Identifying competitors", Icon: "search"},
				{Text: "Comparing offerings", Icon: "layers"},
				{Text: "Analyzing market position", Icon: "trending-up"},
				{Text: "Highlighting differentiators", Icon: "star"},
				{Text: "Compiling competitive findings", Icon: "check"},
			},
		},
		{
			ID:          "recent_news",
			Title:       "Recent news and events",
			Description: "Announcements, funding, hires and press coverage",
			Icon:        "newspaper",
			Category:    "news",
			Steps: []StepDef{
				{Text: "Searching news coverage", Icon: "newspaper"},
				{Text: "Filtering relevant stories", Icon: "filter"},
				{Text: "Extracting key events", Icon: "calendar"},
				{Text: "Assessing sales triggers", Icon: "zap"},
				{Text: "Compiling news findings", Icon: "check"},
			},
		},
		{
			ID:          "business_challenges",
			Title:       "Business challenges and priorities",
			Description: "Stated goals, pain points and strategic initiatives",
			Icon:        "alert-triangle",
			Category:    "strategy",
			Steps: []StepDef{
				{Text: "Reviewing earnings and filings", Icon: "file-text"},
				{Text: "Analyzing executive statements", Icon: "mic"},
				{Text: "Identifying pain points", Icon: "alert-triangle"},
				{Text: "Mapping strategic priorities", Icon: "target"},
				{Text: "Compiling challenge findings", Icon: "check"},
			},
		},
	}
}
