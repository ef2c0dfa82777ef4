// Package apiclient talks to the research backend.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/eternisai/salesintel/internal/logger"
)

// ErrSessionExpired is returned for 401 responses.
var ErrSessionExpired = errors.New("session expired")

// StatusError is a non-2xx backend response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// JobPollInterval and JobTimeout bound WaitForJob.
	JobPollInterval time.Duration
	JobTimeout      time.Duration
}

// Client is safe for concurrent use. ForSession derives per-session copies
// that share the transport and circuit breaker.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
	cfg     Config

	sessionID string
	onExpired func()
}

func New(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.JobPollInterval <= 0 {
		cfg.JobPollInterval = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	log = log.WithComponent("apiclient")

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader("X-API-Key", cfg.APIKey)
	}
	httpClient.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug("backend call",
			slog.String("method", resp.Request.Method),
			slog.String("url", resp.Request.URL),
			slog.Int("status", resp.StatusCode()),
			slog.Duration("duration", resp.Time()))
		return nil
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "research-backend",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		logger:  log,
		cfg:     cfg,
	}
}

// ForSession returns a copy that sends X-Session-ID and calls onExpired
// when the backend answers 401.
func (c *Client) ForSession(sessionID string, onExpired func()) *Client {
	cp := *c
	cp.sessionID = sessionID
	cp.onExpired = onExpired
	return &cp
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// do sends one request through the circuit breaker and decodes the body
// into out. Both bare bodies and {success, data} envelopes are accepted.
// Only transport errors and 5xx responses count against the breaker.
func (c *Client) do(ctx context.Context, method, path string, pathParams map[string]string, body, out any) error {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		req := c.http.R().SetContext(ctx).SetPathParams(pathParams)
		if c.sessionID != "" {
			req.SetHeader("X-Session-ID", c.sessionID)
		}
		if body != nil {
			req.SetBody(body)
		}
		resp, err := req.Execute(method, path)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, &StatusError{Status: resp.StatusCode(), Message: errorMessage(resp.Body())}
		}
		return resp, nil
	})
	if err != nil {
		return err
	}

	resp := res.(*resty.Response)
	if resp.StatusCode() == http.StatusUnauthorized {
		if c.onExpired != nil {
			c.onExpired()
		}
		return ErrSessionExpired
	}
	if resp.IsError() {
		return &StatusError{Status: resp.StatusCode(), Message: errorMessage(resp.Body())}
	}
	return decodeBody(resp.Body(), out)
}

func decodeBody(body []byte, out any) error {
	var env envelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && env.Success != nil {
		if !*env.Success {
			msg := env.Error
			if msg == "" {
				msg = env.Message
			}
			return fmt.Errorf("backend reported failure: %s", msg)
		}
		body = env.Data
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		if env.Error != "" {
			return env.Error
		}
		return env.Message
	}
	return ""
}
