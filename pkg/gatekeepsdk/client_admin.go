package gatekeepsdk

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// ListUsers retrieves all user accounts.
// Requires: manage-users capability
func (c *Client) ListUsers(ctx context.Context) (*ListUsersResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/admin/users", nil, nil)
	if err != nil {
		return nil, err
	}

	var out ListUsersResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateUser creates a user account.
// Requires: manage-users capability
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*UserInfo, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/admin/users", req)
	if err != nil {
		return nil, err
	}

	var out UserInfo
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangeRole assigns a new role to identity. until is only used for
// time-bounded roles and may be nil.
// Requires: change-roles capability
func (c *Client) ChangeRole(ctx context.Context, identity, role string, until *time.Time) (*UserInfo, error) {
	resp, err := c.doJSON(ctx, http.MethodPut, userPath(identity)+"/role", ChangeRoleRequest{
		Role:         role,
		PremiumUntil: until,
	})
	if err != nil {
		return nil, err
	}

	var out UserInfo
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetDisabled disables or re-enables an account.
// Requires: ban-users capability
func (c *Client) SetDisabled(ctx context.Context, identity string, disabled bool) error {
	resp, err := c.doJSON(ctx, http.MethodPut, userPath(identity)+"/disabled", SetDisabledRequest{Disabled: disabled})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// DeleteUser removes an account.
// Requires: manage-users capability
func (c *Client) DeleteUser(ctx context.Context, identity string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, userPath(identity), nil, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

func userPath(identity string) string {
	return "/v1/admin/users/" + url.PathEscape(identity)
}
