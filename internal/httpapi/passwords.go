package httpapi

import (
	"errors"
	"net/http"
	"net/url"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/mail"
	"tenantgate.io/internal/obs"
)

const invalidResetLinkMessage = "password reset link is invalid or has expired"

type passwordResetRequest struct {
	EmailAddress string `json:"emailAddress"`
}

type passwordUpdateRequest struct {
	Password             string `json:"password"`
	PasswordConfirmation string `json:"passwordConfirmation"`
}

// handlePasswordResetRequest mails a reset link. Unlike login, an unknown
// address is reported as 404.
func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if f := missingField("emailAddress", req.EmailAddress); f != "" {
		writeError(w, r, http.StatusBadRequest, f+" is required")
		return
	}

	cred, err := a.auth.CredentialByEmail(r.Context(), req.EmailAddress)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			obs.RecordPasswordReset("request", "unknown_email")
		}
		a.handleAuthError(w, r, err)
		return
	}
	token, err := a.auth.IssueResetToken(cred)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if err := a.mailer.SendPasswordReset(r.Context(), mail.PasswordReset{
		CredentialID: cred.ID,
		To:           cred.Email,
		Link:         a.resetLink(token),
	}); err != nil {
		obs.RecordPasswordReset("request", "mail_failed")
		a.internalError(w, r, err)
		return
	}
	obs.RecordPasswordReset("request", "sent")
	_ = audit.LogEvent(r.Context(), audit.EventPasswordResetRequested, map[string]any{
		"credential_id": cred.ID,
	})
	writeMessage(w, http.StatusOK, "password reset instructions sent")
}

func (a *API) handlePasswordResetShow(w http.ResponseWriter, r *http.Request) {
	if _, err := a.auth.RedeemResetToken(r.Context(), r.PathValue("token")); err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			writeError(w, r, http.StatusNotFound, invalidResetLinkMessage)
			return
		}
		a.internalError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "ok")
}

func (a *API) handlePasswordResetUpdate(w http.ResponseWriter, r *http.Request) {
	var req passwordUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if f := missingField("password", req.Password, "passwordConfirmation", req.PasswordConfirmation); f != "" {
		writeError(w, r, http.StatusBadRequest, f+" is required")
		return
	}

	cred, err := a.auth.ResetPassword(r.Context(), r.PathValue("token"), req.Password, req.PasswordConfirmation)
	switch {
	case errors.Is(err, auth.ErrTokenInvalid):
		obs.RecordPasswordReset("redeem", "invalid")
		writeError(w, r, http.StatusUnprocessableEntity, invalidResetLinkMessage)
		return
	case errors.Is(err, auth.ErrValidationFailed):
		obs.RecordPasswordReset("redeem", "rejected")
		writeError(w, r, http.StatusUnprocessableEntity, publicMessage(err))
		return
	case err != nil:
		a.internalError(w, r, err)
		return
	}
	obs.RecordPasswordReset("redeem", "succeeded")
	_ = audit.LogEvent(r.Context(), audit.EventPasswordResetCompleted, map[string]any{
		"credential_id": cred.ID,
	})
	writeMessage(w, http.StatusOK, "password updated, please sign in")
}

// resetLink points at the frontend's reset form.
func (a *API) resetLink(token string) string {
	return a.cfg.PublicBaseURL + a.cfg.FrontendBasePath + "/password-resets/" + url.PathEscape(token)
}
