package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// AdminHandler manages user accounts. Capability checks and auditing
// happen in the AdminService.
type AdminHandler struct {
	Sessions *SessionFactory
	Admin    *service.AdminService
}

func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	users, err := h.Admin.ListUsers(r.Context(), sess)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := gatekeepsdk.ListUsersResponse{Users: make([]gatekeepsdk.UserInfo, len(users))}
	for i, u := range users {
		resp.Users[i] = userInfo(u)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	var req gatekeepsdk.CreateUserRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		gatekeepsdk.ErrInvalidRequest.WithDescription("invalid JSON body").WriteError(w)
		return
	}

	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.Admin.CreateUser(r.Context(), sess, strings.TrimSpace(req.Identity), req.DisplayName, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.Info("user created", "target", u.Identity, "role", u.Role)
	httpx.WriteJSON(w, http.StatusCreated, userInfo(u))
}

func (h *AdminHandler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req gatekeepsdk.ChangeRoleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		gatekeepsdk.ErrInvalidRequest.WithDescription("invalid JSON body").WriteError(w)
		return
	}

	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	u, err := h.Admin.ChangeRole(r.Context(), sess, r.PathValue("identity"), req.Role, req.PremiumUntil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, userInfo(u))
}

func (h *AdminHandler) HandleSetDisabled(w http.ResponseWriter, r *http.Request) {
	var req gatekeepsdk.SetDisabledRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		gatekeepsdk.ErrInvalidRequest.WithDescription("invalid JSON body").WriteError(w)
		return
	}

	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Admin.SetDisabled(r.Context(), sess, r.PathValue("identity"), req.Disabled); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Admin.DeleteUser(r.Context(), sess, r.PathValue("identity")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func userInfo(u domain.User) gatekeepsdk.UserInfo {
	return gatekeepsdk.UserInfo{
		Identity:     u.Identity,
		DisplayName:  u.DisplayName,
		Role:         string(u.Role),
		PremiumUntil: u.PremiumUntil,
		Disabled:     u.Disabled,
		LastLogin:    u.LastLogin,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}
