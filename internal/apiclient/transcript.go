package apiclient

import (
	"context"
	"net/http"
)

// ListCompanyResearch returns every company with stored research.
func (c *Client) ListCompanyResearch(ctx context.Context) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/company-research", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCompanyTranscript fetches the stored conversation for a company.
func (c *Client) GetCompanyTranscript(ctx context.Context, companyID string) (*Transcript, error) {
	var t Transcript
	err := c.do(ctx, http.MethodGet, "/company-research/{companyId}", map[string]string{"companyId": companyID}, nil, &t)
	if err != nil {
		return nil, err
	}
	if t.CompanyID == "" {
		t.CompanyID = companyID
	}
	return &t, nil
}

// SaveCompanyTranscript stores the conversation for a company.
func (c *Client) SaveCompanyTranscript(ctx context.Context, t Transcript) error {
	return c.do(ctx, http.MethodPut, "/company-research/{companyId}", map[string]string{"companyId": t.CompanyID}, t, nil)
}

// DeleteCompanyTranscript erases the stored conversation for a company.
// A missing transcript is not an error.
func (c *Client) DeleteCompanyTranscript(ctx context.Context, companyID string) error {
	err := c.do(ctx, http.MethodDelete, "/company-research/{companyId}", map[string]string{"companyId": companyID}, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}
