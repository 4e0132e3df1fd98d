package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// SessionFactory builds the session for one request. Authenticated callers
// get the role persisted for their account; everyone else is a guest.
type SessionFactory struct {
	Catalog *domain.Catalog
	Users   *service.UserDirectory
	Auditor service.Auditor
	Clock   service.Clock
}

// FromRequest logs the request's principal in, or starts a guest session
// when the request is anonymous.
func (f *SessionFactory) FromRequest(r *http.Request) (*service.SessionManager, error) {
	ctx := r.Context()
	sess := f.newSession(r)

	p, err := httpx.PrincipalFromContext(ctx)
	if errors.Is(err, httpx.ErrNoPrincipal) {
		return sess, sess.LoginGuest()
	}

	u, err := f.Users.ResolveLoginRole(ctx, p.Identity, p.DisplayName, p.Role)
	if err != nil {
		return nil, err
	}
	var opts []service.RoleOption
	if u.PremiumUntil != nil {
		opts = append(opts, service.WithExpiry(*u.PremiumUntil))
	}
	if err := sess.Login(u.Identity, string(u.Role), opts...); err != nil {
		return nil, err
	}
	return sess, nil
}

// Guest starts a guest session regardless of credentials.
func (f *SessionFactory) Guest(r *http.Request) (*service.SessionManager, error) {
	sess := f.newSession(r)
	return sess, sess.LoginGuest()
}

func (f *SessionFactory) newSession(r *http.Request) *service.SessionManager {
	sess := service.NewSessionManager(f.Catalog, f.Users, slogx.FromContext(r.Context()))
	sess.Auditor = f.Auditor
	if f.Clock != nil {
		sess.Clock = f.Clock
	}
	return sess
}

// SessionHandler describes the caller's session.
type SessionHandler struct {
	Sessions *SessionFactory
	Usage    *service.UsageTracker
}

// HandleGuest returns what an anonymous caller may do.
func (h *SessionHandler) HandleGuest(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Guest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.write(w, r, sess)
}

// HandleGet returns the current session with its usage.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.FromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.write(w, r, sess)
}

func (h *SessionHandler) write(w http.ResponseWriter, r *http.Request, sess *service.SessionManager) {
	snap := sess.Snapshot()
	resp := gatekeepsdk.SessionResponse{
		State:        snap.State.String(),
		Identity:     snap.Identity,
		Role:         roleInfo(snap.Role),
		PremiumUntil: snap.PremiumUntil,
	}
	if !snap.LoginAt.IsZero() {
		at := snap.LoginAt
		resp.LoginAt = &at
	}

	info, err := h.Usage.GetUsageInfo(r.Context(), sess, snap.Identity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u := usageResponse(info)
	resp.Usage = &u

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func roleInfo(role domain.Role) gatekeepsdk.RoleInfo {
	caps := role.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return gatekeepsdk.RoleInfo{
		Name:              string(role.Name),
		Description:       role.Description,
		Capabilities:      names,
		DailyArrangements: role.Limits.DailyArrangements,
		MaxVideoMinutes:   role.Limits.MaxVideoMinutes,
		MaxFileSizeMB:     role.Limits.MaxFileSizeMB,
	}
}

func usageResponse(info service.UsageInfo) gatekeepsdk.UsageResponse {
	return gatekeepsdk.UsageResponse{
		Identity:  info.Identity,
		Role:      string(info.Role),
		Used:      info.Used,
		Remaining: info.Remaining,
		Limit:     info.Limit,
		Unlimited: info.Unlimited,
		ResetsAt:  info.ResetsAt.UTC().Truncate(time.Second),
		Stale:     info.Stale,
	}
}
