package gatekeepsdk

import (
	"context"
	"net/http"
)

// Purchase buys a premium plan for the caller.
func (c *Client) Purchase(ctx context.Context, plan string) (*PurchaseResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/purchases", PurchaseRequest{Plan: plan})
	if err != nil {
		return nil, err
	}

	var out PurchaseResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}
