package chat

import (
	"time"
)

// BackendMessage is a message as stored in a backend transcript. Timestamps
// are RFC 3339 strings and payloads are loose optional fields.
type BackendMessage struct {
	ID               string            `json:"id"`
	Role             Role              `json:"role"`
	Content          string            `json:"content"`
	Timestamp        string            `json:"timestamp"`
	Sources          []Source          `json:"sources,omitempty"`
	Options          []Option          `json:"options,omitempty"`
	FollowUpOptions  []Option          `json:"followUpOptions,omitempty"`
	IsError          bool              `json:"isError,omitempty"`
	CompanySummary   *CompanySummary   `json:"companySummary,omitempty"`
	ResearchFindings *ResearchFindings `json:"researchFindings,omitempty"`
	VendorProfile    *VendorProfile    `json:"vendorProfile,omitempty"`
}

// FormatBackendMessages converts a stored transcript into timeline messages.
// Streaming state is never restored: a stored placeholder comes back as a
// plain message. Unparseable timestamps become the zero time.
func FormatBackendMessages(in []BackendMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, bm := range in {
		id := bm.ID
		if id == "" {
			id = NewID()
		}
		role := bm.Role
		if role != RoleUser {
			role = RoleAssistant
		}
		ts, _ := ParseTimestamp(bm.Timestamp)
		out = append(out, Message{
			ID:              id,
			Role:            role,
			Content:         bm.Content,
			Timestamp:       ts,
			Sources:         bm.Sources,
			Options:         bm.Options,
			FollowUpOptions: bm.FollowUpOptions,
			IsError:         bm.IsError,
			Payload:         payloadFrom(bm.CompanySummary, bm.ResearchFindings, bm.VendorProfile),
		})
	}
	return out
}

// ToBackendMessages is the inverse of FormatBackendMessages. Streaming
// placeholders are skipped since they have nothing to persist yet.
func ToBackendMessages(in []Message) []BackendMessage {
	out := make([]BackendMessage, 0, len(in))
	for _, m := range in {
		if m.IsStreaming {
			continue
		}
		out = append(out, BackendMessage{
			ID:               m.ID,
			Role:             m.Role,
			Content:          m.Content,
			Timestamp:        m.Timestamp.UTC().Format(time.RFC3339Nano),
			Sources:          m.Sources,
			Options:          m.Options,
			FollowUpOptions:  m.FollowUpOptions,
			IsError:          m.IsError,
			CompanySummary:   m.CompanySummary,
			ResearchFindings: m.ResearchFindings,
			VendorProfile:    m.VendorProfile,
		})
	}
	return out
}

// ParseTimestamp parses an RFC 3339 timestamp, with or without fractional
// seconds.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
