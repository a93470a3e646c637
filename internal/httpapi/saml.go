package httpapi

import (
	"errors"
	"net/http"
	"net/url"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/saml"
	"tenantgate.io/internal/session"
)

// postBindingCSP lets the IdP form submit itself.
const postBindingCSP = "default-src 'none'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; form-action https:; frame-ancestors 'none'"

func (a *API) handleSamlInitiate(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("tenantCode")
	relay := saml.SafeRelayState(r.URL.Query().Get("redirectUrl"), a.cfg.DefaultRedirectPath)

	redirect, err := a.saml.Initiate(r.Context(), code, relay)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "tenant not found")
		return
	case errors.Is(err, auth.ErrTenantOrConfigMissing):
		http.Redirect(w, r, a.signinError(code, saml.ReasonSettingNotFound), http.StatusFound)
		return
	case err != nil:
		a.internalError(w, r, err)
		return
	}

	if redirect.Binding == auth.SamlRequestPOST {
		w.Header().Set("Content-Security-Policy", postBindingCSP)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(redirect.Form)
		return
	}
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// handleSamlACS consumes the IdP's response. Every outcome is a redirect.
func (a *API) handleSamlACS(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("tenantCode")
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, a.signinError(code, saml.ReasonInvalidResponse), http.StatusFound)
		return
	}

	user, err := a.saml.Consume(r.Context(), code, r.PostForm.Get("SAMLResponse"))
	if err != nil {
		var ce *saml.ConsumeError
		if !errors.As(err, &ce) {
			a.logger.Error(err, "saml consume failed", "tenant", code, "request_id", audit.RequestID(r.Context()))
			ce = &saml.ConsumeError{Reason: "SAML sign-in failed"}
		}
		_ = audit.LogEvent(r.Context(), audit.EventSamlRejected, map[string]any{
			"tenant": code,
			"reason": ce.Reason,
		})
		http.Redirect(w, r, a.signinError(code, ce.Reason), http.StatusFound)
		return
	}

	sess, err := a.gw.StartSession(w, r, user.ID, session.ProvenanceSaml)
	if err != nil {
		a.logger.Error(err, "start saml session", "tenant", code, "user_id", user.ID)
		http.Redirect(w, r, a.signinError(code, "SAML sign-in failed"), http.StatusFound)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSamlLogin, map[string]any{
		"tenant":     code,
		"user_id":    user.ID,
		"session_id": sess.ID,
	})
	http.Redirect(w, r, saml.SafeRelayState(r.PostForm.Get("RelayState"), a.cfg.DefaultRedirectPath), http.StatusFound)
}

func (a *API) handleSamlMetadata(w http.ResponseWriter, r *http.Request) {
	doc, err := a.saml.Metadata(r.Context(), r.PathValue("tenantCode"))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrTenantOrConfigMissing) {
			writeError(w, r, http.StatusNotFound, "SAML setting not found")
			return
		}
		a.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// signinError is the tenant's sign-in page carrying a SAML failure reason.
func (a *API) signinError(tenantCode, reason string) string {
	q := url.Values{}
	q.Set("error", "saml")
	q.Set("message", reason)
	return a.cfg.FrontendBasePath + "/signin/" + url.PathEscape(tenantCode) + "?" + q.Encode()
}
