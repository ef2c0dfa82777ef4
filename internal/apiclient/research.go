package apiclient

import (
	"context"
	"errors"
	"net/http"
)

// CreateResearchSession starts a backend research job.
func (c *Client) CreateResearchSession(ctx context.Context, req CreateSessionRequest) (*ResearchSession, error) {
	var s ResearchSession
	if err := c.do(ctx, http.MethodPost, "/research/session", nil, req, &s); err != nil {
		return nil, err
	}
	if s.ResearchSessionID == "" {
		return nil, errors.New("backend returned no research session id")
	}
	if s.AreaID == "" {
		s.AreaID = req.AreaID
	}
	if s.CompanyID == "" {
		s.CompanyID = req.CompanyID
	}
	return &s, nil
}

// GetResearchStatus fetches the current status of a research session.
func (c *Client) GetResearchStatus(ctx context.Context, sessionID string) (*ResearchSession, error) {
	var s ResearchSession
	err := c.do(ctx, http.MethodGet, "/research/session/{id}/status", map[string]string{"id": sessionID}, nil, &s)
	if err != nil {
		return nil, err
	}
	if s.ResearchSessionID == "" {
		s.ResearchSessionID = sessionID
	}
	return &s, nil
}

// GetResearchResults fetches the final results of a completed session.
func (c *Client) GetResearchResults(ctx context.Context, sessionID string) (*ResearchResults, error) {
	var r ResearchResults
	err := c.do(ctx, http.MethodGet, "/research/session/{id}/results", map[string]string{"id": sessionID}, nil, &r)
	if err != nil {
		return nil, err
	}
	if r.ResearchSessionID == "" {
		r.ResearchSessionID = sessionID
	}
	return &r, nil
}

// GetProfile fetches the salesperson profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/profile", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile stores the salesperson profile and returns the saved copy.
func (c *Client) UpdateProfile(ctx context.Context, p Profile) (*Profile, error) {
	var saved Profile
	if err := c.do(ctx, http.MethodPut, "/profile", nil, p, &saved); err != nil {
		return nil, err
	}
	if saved.Name == "" && saved.UserID == "" {
		saved = p
	}
	return &saved, nil
}
