package apiclient

import (
	"encoding/json"
	"strings"

	"github.com/eternisai/salesintel/internal/chat"
)

// StatusCompleted is the only status string with a fixed meaning. Every
// other value is treated as still running.
const StatusCompleted = "completed"

// CreateSessionRequest starts a research job.
type CreateSessionRequest struct {
	AreaID        string `json:"areaId"`
	CompanyID     string `json:"companyId"`
	CompanyDomain string `json:"companyDomain,omitempty"`
}

// ResearchSession is a backend research job as reported by the status
// endpoint.
type ResearchSession struct {
	ResearchSessionID string `json:"researchSessionId"`
	AreaID            string `json:"areaId"`
	CompanyID         string `json:"companyId"`
	Status            string `json:"status"`
	CurrentStep       int    `json:"currentStep"`
	Progress          int    `json:"progress"`
	Message           string `json:"message"`
}

// Completed reports whether the session reached terminal success, either by
// status or by a success phrase in the status message.
func (s ResearchSession) Completed() bool {
	if s.Status == StatusCompleted {
		return true
	}
	msg := strings.ToLower(s.Message)
	return strings.Contains(msg, "completed successfully") || strings.Contains(msg, "research complete")
}

// ResearchResults is the final payload of a research session. Data is
// shaped by area and decoded by the caller.
type ResearchResults struct {
	ResearchSessionID string          `json:"researchSessionId"`
	AreaID            string          `json:"areaId"`
	CompanyID         string          `json:"companyId"`
	Summary           string          `json:"summary"`
	Data              json.RawMessage `json:"data"`
	Sources           []chat.Source   `json:"sources"`
}

// ServerEvent is one server-sent event of a research session.
type ServerEvent struct {
	ID   string
	Type string
	Data json.RawMessage
}

// Transcript is the stored conversation for one company.
type Transcript struct {
	CompanyID         string                   `json:"companyId"`
	CompanyName       string                   `json:"companyName"`
	CompanyDomain     string                   `json:"companyDomain,omitempty"`
	Messages          []chat.BackendMessage    `json:"messages"`
	CompletedResearch []chat.CompletedResearch `json:"completedResearch"`
	UpdatedAt         string                   `json:"updatedAt,omitempty"`
}

// HistoryEntry is one company with stored research.
type HistoryEntry struct {
	CompanyID        string `json:"companyId"`
	CompanyName      string `json:"companyName"`
	CompanyDomain    string `json:"companyDomain,omitempty"`
	ResearchCount    int    `json:"researchCount"`
	LastResearchedAt string `json:"lastResearchedAt,omitempty"`
}

// Profile is the salesperson using the console.
type Profile struct {
	UserID      string              `json:"userId"`
	Name        string              `json:"name"`
	Email       string              `json:"email,omitempty"`
	Role        string              `json:"role,omitempty"`
	Vendor      *chat.VendorProfile `json:"vendor,omitempty"`
	OnboardedAt string              `json:"onboardedAt,omitempty"`
}

// Job states.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is a long-running backend operation.
type Job struct {
	ID       string          `json:"jobId"`
	Status   string          `json:"status"`
	Progress int             `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}
