package httpapi

import "net/http"

type tenantLookupView struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	SamlEnabled bool   `json:"samlEnabled"`
}

func (a *API) handleTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := a.auth.TenantByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	enabled, err := a.auth.SamlEnabled(r.Context(), tenant.ID)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant": tenantLookupView{Name: tenant.Name, Code: tenant.Code, SamlEnabled: enabled},
	})
}
