package chat

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source is a citation. Inline [n] markers in text refer to ID.
type Source struct {
	ID            int        `json:"id"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Domain        string     `json:"domain,omitempty"`
	Description   string     `json:"description,omitempty"`
	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	Type          string     `json:"type,omitempty"`
	Relevance     float64    `json:"relevance,omitempty"`
}

// Option is a selectable action rendered as a button.
type Option struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Icon     string `json:"icon,omitempty"`
	Category string `json:"category,omitempty"`
}

// StreamingStep is one line of an in-flight research operation.
type StreamingStep struct {
	Text      string `json:"text"`
	Icon      string `json:"icon"`
	Completed bool   `json:"completed"`
}

// Message is one turn in the conversation.
//
// A message is in exactly one of three states: a streaming placeholder
// (IsStreaming, no payload), resolved (payload set, not streaming) or an
// error (IsError, no payload). Plain text messages count as resolved with
// PayloadNone.
type Message struct {
	ID              string          `json:"id"`
	Role            Role            `json:"role"`
	Content         string          `json:"content"`
	Timestamp       time.Time       `json:"timestamp"`
	Sources         []Source        `json:"sources,omitempty"`
	Options         []Option        `json:"options,omitempty"`
	FollowUpOptions []Option        `json:"followUpOptions,omitempty"`
	IsStreaming     bool            `json:"isStreaming,omitempty"`
	StreamingSteps  []StreamingStep `json:"streamingSteps,omitempty"`
	IsError         bool            `json:"isError,omitempty"`
	Payload
}

// NewID returns a fresh message id.
func NewID() string {
	return uuid.NewString()
}

// NewUserMessage creates a user message with the given text.
func NewUserMessage(content string) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates a plain assistant message.
func NewAssistantMessage(content string, options ...Option) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
		Options:   options,
	}
}

// NewStreamingMessage creates a placeholder for an in-flight operation.
// Every step starts incomplete.
func NewStreamingMessage(id, content string, steps []StreamingStep) Message {
	if id == "" {
		id = NewID()
	}
	fresh := make([]StreamingStep, len(steps))
	for i, s := range steps {
		fresh[i] = StreamingStep{Text: s.Text, Icon: s.Icon}
	}
	return Message{
		ID:             id,
		Role:           RoleAssistant,
		Content:        content,
		Timestamp:      time.Now(),
		IsStreaming:    true,
		StreamingSteps: fresh,
	}
}

// NewErrorMessage creates an assistant message flagged as a failure.
func NewErrorMessage(content string) Message {
	m := NewAssistantMessage(content)
	m.IsError = true
	return m
}

// CompletedSteps returns the number of completed streaming steps.
func (m Message) CompletedSteps() int {
	n := 0
	for _, s := range m.StreamingSteps {
		if s.Completed {
			n++
		}
	}
	return n
}

func (m Message) clone() Message {
	out := m
	out.Sources = append([]Source(nil), m.Sources...)
	out.Options = append([]Option(nil), m.Options...)
	out.FollowUpOptions = append([]Option(nil), m.FollowUpOptions...)
	out.StreamingSteps = append([]StreamingStep(nil), m.StreamingSteps...)
	return out
}
