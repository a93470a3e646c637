package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads a single JSON document into dst. Keys dst does not declare
// are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// missingField returns the name of the first blank value in name/value pairs.
func missingField(pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return pairs[i]
		}
	}
	return ""
}

// publicMessage strips the package prefix from validation errors.
func publicMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, auth.ErrValidationFailed.Error()+": "); i >= 0 {
		return msg[i+len(auth.ErrValidationFailed.Error())+2:]
	}
	return strings.TrimPrefix(msg, "auth: ")
}

func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrValidationFailed):
		writeError(w, r, http.StatusUnprocessableEntity, publicMessage(err))
	case errors.Is(err, auth.ErrRoleInUse):
		writeError(w, r, http.StatusUnprocessableEntity, "role is assigned to users and cannot be deleted")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "resource already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "admin role required")
	case errors.Is(err, auth.ErrAuthenticationFailed):
		writeError(w, r, http.StatusUnauthorized, loginFailedMessage)
	default:
		a.internalError(w, r, err)
	}
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error(err, "request failed", "request_id", audit.RequestID(r.Context()), "path", r.URL.Path)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

// current returns the resolved request context; handlers behind
// gateway.RequireUser can rely on it being present.
func current(r *http.Request) *auth.RequestContext {
	rc, _ := auth.RequestFromContext(r.Context())
	return rc
}
