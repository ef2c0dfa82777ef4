package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eternisai/salesintel/internal/apiclient"
	"github.com/eternisai/salesintel/internal/chat"
	"github.com/eternisai/salesintel/internal/config"
)

// Shaped is a research result ready for the timeline.
type Shaped struct {
	Title    string
	Content  string
	Payload  chat.Payload
	Findings []chat.Finding
}

// ShapeResults turns backend results into a message payload. The overview
// area yields a CompanySummary; every other area yields ResearchFindings
// tagged with the area id.
func ShapeResults(area config.ResearchArea, company, domain string, r *apiclient.ResearchResults) (Shaped, error) {
	areaID := area.ID
	if areaID == "" {
		areaID = r.AreaID
	}
	data := bytes.TrimSpace(r.Data)
	empty := len(data) == 0 || bytes.Equal(data, []byte("null"))

	if areaID == config.OverviewAreaID {
		summary := &chat.CompanySummary{}
		if !empty {
			if err := json.Unmarshal(data, summary); err != nil {
				return Shaped{}, fmt.Errorf("decode company summary: %w", err)
			}
		}
		if summary.Name == "" {
			summary.Name = company
		}
		if summary.Domain == "" {
			summary.Domain = domain
		}
		if summary.Description == "" {
			summary.Description = r.Summary
		}
		if len(summary.Sources) == 0 {
			summary.Sources = r.Sources
		}
		return Shaped{
			Title:   fmt.Sprintf("%s overview", summary.Name),
			Content: r.Summary,
			Payload: chat.OverviewPayload(summary),
		}, nil
	}

	findings := &chat.ResearchFindings{}
	if !empty {
		if data[0] == '[' {
			if err := json.Unmarshal(data, &findings.Findings); err != nil {
				return Shaped{}, fmt.Errorf("decode findings: %w", err)
			}
		} else if err := json.Unmarshal(data, findings); err != nil {
			return Shaped{}, fmt.Errorf("decode findings: %w", err)
		}
	}
	findings.ResearchAreaID = areaID
	if findings.Title == "" {
		findings.Title = area.Title
		if findings.Title == "" {
			findings.Title = areaID
		}
	}
	if findings.Summary == "" {
		findings.Summary = r.Summary
	}
	if len(findings.Sources) == 0 {
		findings.Sources = r.Sources
	}
	if findings.GeneratedAt.IsZero() {
		findings.GeneratedAt = time.Now().UTC()
	}
	return Shaped{
		Title:    fmt.Sprintf("%s: %s", company, findings.Title),
		Content:  r.Summary,
		Payload:  chat.FindingsPayload(findings),
		Findings: findings.Findings,
	}, nil
}

// nextAreaOptions lists the catalog areas not yet researched, overview
// excluded.
func (s *Service) nextAreaOptions() []chat.Option {
	var out []chat.Option
	for _, a := range s.deps.Mapper.Areas() {
		if a.ID == config.OverviewAreaID || s.deps.Ledger.HasArea(a.ID) {
			continue
		}
		out = append(out, chat.Option{ID: a.ID, Text: a.Title, Icon: a.Icon, Category: a.Category})
	}
	return out
}

// followUp is the message appended after a successful run.
func (s *Service) followUp(areaID, company string) chat.Message {
	next := s.nextAreaOptions()

	if areaID == config.OverviewAreaID {
		return chat.NewAssistantMessage(
			fmt.Sprintf("Here's an overview of %s. What would you like to research next?", company),
			next...)
	}

	msg := chat.NewAssistantMessage("What would you like to do next?")
	msg.FollowUpOptions = append(next,
		chat.Option{ID: OptionExportReport, Text: "Export report", Icon: "download", Category: "action"},
		chat.Option{ID: OptionResearchAnother, Text: "Research another company", Icon: "search", Category: "action"},
	)
	return msg
}
