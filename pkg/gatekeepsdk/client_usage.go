package gatekeepsdk

import (
	"context"
	"net/http"
)

// GetUsage returns the caller's arrangement quota.
func (c *Client) GetUsage(ctx context.Context) (*UsageResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/usage", nil, nil)
	if err != nil {
		return nil, err
	}

	var usage UsageResponse
	if err := decodeJSON(resp, &usage, http.StatusOK); err != nil {
		return nil, err
	}
	return &usage, nil
}

// CanArrange reports whether the caller may arrange once more today.
func (c *Client) CanArrange(ctx context.Context) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/usage/can-arrange", nil, nil)
	if err != nil {
		return false, err
	}

	var out CanArrangeResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return false, err
	}
	return out.Allowed, nil
}

// RecordArrangement reports an edited order. Only an order that differs from
// baseline is charged. Returns ErrQuotaExceeded when the daily limit is used up.
func (c *Client) RecordArrangement(ctx context.Context, baseline, current []string) (*ArrangementResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/arrangements", ArrangementRequest{
		Baseline: baseline,
		Current:  current,
	})
	if err != nil {
		return nil, err
	}

	var out ArrangementResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
