package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const maxEventSize = 1 << 20

// StreamResearchEvents reads the server-sent event stream of a research
// session and calls fn for every event until the stream ends, ctx is
// cancelled, or fn returns an error.
func (c *Client) StreamResearchEvents(ctx context.Context, sessionID string, fn func(ServerEvent) error) error {
	req := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetPathParam("id", sessionID)
	if c.sessionID != "" {
		req.SetHeader("X-Session-ID", c.sessionID)
	}

	resp, err := req.Get("/research/session/{id}/events")
	if err != nil {
		return err
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() == http.StatusUnauthorized {
		if c.onExpired != nil {
			c.onExpired()
		}
		return ErrSessionExpired
	}
	if resp.StatusCode() != http.StatusOK {
		return &StatusError{Status: resp.StatusCode()}
	}

	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var (
		evt  ServerEvent
		data bytes.Buffer
	)
	dispatch := func() error {
		defer func() {
			evt = ServerEvent{}
			data.Reset()
		}()
		if data.Len() == 0 && evt.Type == "" {
			return nil
		}
		evt.Data = append(json.RawMessage(nil), data.Bytes()...)
		if evt.Type == "" {
			evt.Type = eventTypeFromData(evt.Data)
		}
		if evt.Type == "" {
			return nil
		}
		return fn(evt)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			evt.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			evt.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading event stream: %w", err)
	}
	return dispatch()
}

// eventTypeFromData reads {"type": "..."} for backends that put the event
// name in the payload instead of an event: line.
func eventTypeFromData(data []byte) string {
	var v struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &v) != nil {
		return ""
	}
	return v.Type
}
