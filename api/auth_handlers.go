package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/eduportal/session"
	"github.com/jmcleod/eduportal/upstream"
)

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize, false)
	if !ok {
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Secret == "" {
		writeError(w, upstream.CodeBadRequest, "identifier and secret are required")
		return
	}

	cookies, ok := a.externalLogin(w, r, identifier, req.Secret, AuditLoginFailure)
	if !ok {
		return
	}

	h := a.sessions.Load(w, r)
	if err := h.Create(cookies); err != nil {
		writeError(w, upstream.CodeInternal, "failed to create session")
		return
	}
	if err := h.AssignUserIdentifier(identifier); err != nil {
		writeError(w, upstream.CodeInternal, "failed to create session")
		return
	}

	a.audit.logEvent(AuditLoginSuccess, r, identifier)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Refresh handles POST /auth/refresh. With credentials it logs in again and
// replaces the upstream cookies, creating the session if needed. Without
// credentials there is nothing to refresh with.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize, true)
	if !ok {
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	h := a.sessions.Load(w, r)

	if identifier == "" || req.Secret == "" {
		if h.Read() == nil {
			writeError(w, upstream.CodeSessionMissing, "no session, log in again")
			return
		}
		writeError(w, upstream.CodeBadRequest, "identifier and secret are required to refresh")
		return
	}

	cookies, ok := a.externalLogin(w, r, identifier, req.Secret, AuditRefreshFailure)
	if !ok {
		return
	}

	if h.Read() != nil {
		err := h.UpdateCookies(cookies)
		if err == nil {
			a.audit.logEvent(AuditRefresh, r, identifier)
			writeJSON(w, http.StatusOK, OKResponse{OK: true})
			return
		}
		a.audit.logger.Warn("refresh: updating session failed, recreating", "error", err)
	}
	if err := h.Create(cookies); err != nil {
		writeError(w, upstream.CodeInternal, "failed to create session")
		return
	}
	if err := h.AssignUserIdentifier(identifier); err != nil {
		writeError(w, upstream.CodeInternal, "failed to create session")
		return
	}
	a.audit.logEvent(AuditRefresh, r, identifier, slog.Bool("created", true))
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// externalLogin runs the upstream login behind the rate limiters. On failure
// the response has been written and the outcome audited.
func (a *API) externalLogin(w http.ResponseWriter, r *http.Request, identifier, secret string, failure AuditEvent) (upstream.CookieSet, bool) {
	gate := a.loginGate(r, identifier)
	if blocked, retryAfter := gate.blocked(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "rate limited",
			slog.String("user", userKey(identifier)))
		writeRateLimited(w, retryAfter)
		return upstream.CookieSet{}, false
	}

	cookies, err := a.client.Login(r.Context(), identifier, secret)
	if err != nil {
		e := mapError(w, err)
		switch e.Code {
		case upstream.CodeInvalidCredentials:
			gate.failure()
			a.audit.logFailure(failure, r, "invalid credentials",
				slog.String("user", userKey(identifier)))
		case upstream.CodeOffline:
			a.audit.logFailure(AuditUpstreamOffline, r, e.Error())
		default:
			a.audit.logFailure(failure, r, e.Error(),
				slog.String("user", userKey(identifier)))
		}
		return upstream.CookieSet{}, false
	}
	gate.success()
	return cookies, true
}

// Logout handles POST /auth/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	h := a.sessions.Load(w, r)
	if sess := h.Read(); sess != nil {
		a.audit.logEvent(AuditLogout, r, sess.UserIdentifier)
	}
	h.Destroy()
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Session handles GET /auth/session. A session whose last upstream login is
// older than the TTL is reported expired even though the cookie decodes.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	sess := a.sessions.Load(w, r).Read()
	if sess == nil {
		writeJSON(w, http.StatusUnauthorized, NoSessionResponse{Code: upstream.CodeSessionMissing})
		return
	}
	if sess.Expired(a.now(), a.sessionTTL) {
		writeJSON(w, http.StatusUnauthorized, NoSessionResponse{Code: upstream.CodeSessionExpired})
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Authenticated:       true,
		LastExternalLoginAt: sess.LastExternalLoginAt.UnixMilli(),
		RA:                  userIdentifier(sess),
	})
}

// UserInfo handles GET /user/info.
func (a *API) UserInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UserInfoResponse{
		RA: userIdentifier(a.sessions.Load(w, r).Read()),
	})
}

func userIdentifier(sess *session.ServerSession) *string {
	if sess == nil || sess.UserIdentifier == "" {
		return nil
	}
	id := sess.UserIdentifier
	return &id
}
