package gatekeepsdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ListAudit queries the audit log.
// Requires: manage-users capability
func (c *Client) ListAudit(ctx context.Context, q AuditQuery) (*ListAuditResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/audit"+q.encode(), nil, nil)
	if err != nil {
		return nil, err
	}

	var out ListAuditResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportAudit streams matching audit entries as CSV into w.
// Requires: manage-users capability
func (c *Client) ExportAudit(ctx context.Context, q AuditQuery, w io.Writer) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/audit/export"+q.encode(), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return parseErrorResponse(resp, body)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	return nil
}

func (q AuditQuery) encode() string {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("actor", q.Actor)
	set("target", q.Target)
	set("action", q.Action)
	set("range", q.Range)
	if !q.From.IsZero() {
		v.Set("from", q.From.UTC().Format(time.RFC3339Nano))
	}
	if !q.To.IsZero() {
		v.Set("to", q.To.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}
