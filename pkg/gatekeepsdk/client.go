package gatekeepsdk

import (
	"net/http"
	"strings"
	"time"
)

// Client is a client for the gatekeep access service.
//
// A Client without a token calls the service as a guest. Use WithToken to
// obtain a client that sends a bearer token issued by the identity provider.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	token string
}

// NewClient creates a new guest client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithToken returns a copy of the client that authenticates with token.
// The HTTP client is shared.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Authenticated reports whether the client sends a bearer token.
func (c *Client) Authenticated() bool { return c.token != "" }
