package httpapi

import (
	"errors"
	"net/http"
	"time"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/gateway"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/session"
)

const loginFailedMessage = "email address or password is incorrect"

type loginRequest struct {
	EmailAddress string `json:"emailAddress"`
	Password     string `json:"password"`
}

type userAgentView struct {
	Device   session.Device `json:"device"`
	Browser  string         `json:"browser"`
	Platform string         `json:"platform"`
}

type activeSessionView struct {
	ID         string             `json:"id"`
	Current    bool               `json:"current"`
	UserAgent  userAgentView      `json:"userAgent"`
	Location   string             `json:"location"`
	IPAddress  string             `json:"ipAddress"`
	Provenance session.Provenance `json:"provenance"`
	CreatedAt  string             `json:"createdAt"`
}

type roleView struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	PermissionType auth.PermissionTier `json:"permissionType"`
}

type profileView struct {
	Name string `json:"name"`
}

type tenantView struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type userView struct {
	ID           string      `json:"id"`
	EmailAddress string      `json:"emailAddress"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	Profile      profileView `json:"profile"`
	Role         roleView    `json:"role"`
	Tenant       tenantView  `json:"tenant"`
}

func newRoleView(role *auth.Role) roleView {
	return roleView{ID: role.ID, Name: role.Name, PermissionType: role.Tier}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if f := missingField("emailAddress", req.EmailAddress, "password", req.Password); f != "" {
		writeError(w, r, http.StatusBadRequest, f+" is required")
		return
	}

	cred, err := a.auth.Authenticate(r.Context(), req.EmailAddress, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			obs.RecordLogin("failed")
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
				"remote_ip": gateway.ClientIP(r),
			})
			writeError(w, r, http.StatusUnauthorized, loginFailedMessage)
			return
		}
		a.internalError(w, r, err)
		return
	}

	sess, err := a.gw.StartSession(w, r, cred.UserID, session.ProvenancePassword)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	obs.RecordLogin("succeeded")
	_ = audit.LogEvent(r.Context(), audit.EventLoginSucceeded, map[string]any{
		"user_id":    cred.UserID,
		"session_id": sess.ID,
		"provenance": string(sess.Provenance),
	})
	writeMessage(w, http.StatusOK, "signed in")
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var sess *session.Session
	if rc := current(r); rc != nil {
		sess = rc.Session
	}
	if err := a.gw.TerminateSession(w, r, sess); err != nil {
		a.internalError(w, r, err)
		return
	}
	if sess != nil {
		_ = audit.LogEvent(r.Context(), audit.EventLogout, map[string]any{"session_id": sess.ID})
	}
	writeMessage(w, http.StatusOK, "signed out")
}

func (a *API) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	rc := current(r)
	sessions, err := a.sessions.ListForUser(r.Context(), rc.User.ID)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	views := make([]activeSessionView, 0, len(sessions))
	for _, s := range sessions {
		agent := s.Agent()
		views = append(views, activeSessionView{
			ID:      s.ID,
			Current: s.ID == rc.Session.ID,
			UserAgent: userAgentView{
				Device:   agent.Device,
				Browser:  agent.Browser,
				Platform: agent.Platform,
			},
			Location:   s.Location(),
			IPAddress:  s.IPAddress,
			Provenance: s.Provenance,
			CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"activeSessions": views})
}

func (a *API) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	rc := current(r)
	id := r.PathValue("id")
	if err := a.sessions.DestroyForUser(r.Context(), rc.User.ID, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "session not found")
			return
		}
		a.internalError(w, r, err)
		return
	}
	obs.RecordSessionRevoked()
	if id == rc.Session.ID {
		_ = a.gw.TerminateSession(w, r, nil)
	}
	_ = audit.LogEvent(r.Context(), audit.EventSessionRevoked, map[string]any{"session_id": id})
	writeMessage(w, http.StatusOK, "session signed out")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	rc := current(r)
	if rc == nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	cred, err := a.auth.CredentialOf(r.Context(), rc.User.ID)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		a.internalError(w, r, err)
		return
	}
	v := userView{
		ID:        rc.User.ID,
		CreatedAt: rc.User.CreatedAt,
		UpdatedAt: rc.User.UpdatedAt,
		Profile:   profileView{Name: rc.User.DisplayName()},
		Role:      newRoleView(rc.Role),
		Tenant:    tenantView{Name: rc.Tenant.Name, Code: rc.Tenant.Code},
	}
	if cred != nil {
		v.EmailAddress = cred.Email
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": v})
}
