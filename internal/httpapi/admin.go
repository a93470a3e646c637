package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/auth"
)

type roleRequest struct {
	Name           string `json:"name"`
	PermissionType string `json:"permissionType"`
}

type samlSettingPayload struct {
	EntityID           string `json:"entityId"`
	SSOURL             string `json:"ssoUrl"`
	IDPX509Certificate string `json:"idpX509Certificate"`
	SamlRequestMethod  string `json:"samlRequestMethod"`
}

type serviceProviderView struct {
	EntityID    string `json:"entityId"`
	ACSURL      string `json:"acsUrl"`
	InitiateURL string `json:"initiateUrl"`
	MetadataURL string `json:"metadataUrl"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.auth.ListRoles(r.Context(), current(r).Tenant.ID)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, newRoleView(role))
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": views})
}

// decodeRole reads and validates a role payload; false means a response was written.
func decodeRole(w http.ResponseWriter, r *http.Request) (string, auth.PermissionTier, bool) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	if f := missingField("name", req.Name, "permissionType", req.PermissionType); f != "" {
		writeError(w, r, http.StatusBadRequest, f+" is required")
		return "", "", false
	}
	tier, err := auth.ParsePermissionTier(req.PermissionType)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, publicMessage(err))
		return "", "", false
	}
	return req.Name, tier, true
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	name, tier, ok := decodeRole(w, r)
	if !ok {
		return
	}
	role, err := a.auth.CreateRole(r.Context(), current(r).Tenant.ID, name, tier)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleCreated, map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
		"tier":    string(role.Tier),
	})
	w.Header().Set("Location", "/api/v1/admin_user/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"role": newRoleView(role)})
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	name, tier, ok := decodeRole(w, r)
	if !ok {
		return
	}
	role, err := a.auth.UpdateRole(r.Context(), current(r).Tenant.ID, r.PathValue("id"), auth.RoleUpdate{Name: name, Tier: tier})
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleUpdated, map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
		"tier":    string(role.Tier),
	})
	writeJSON(w, http.StatusOK, map[string]any{"role": newRoleView(role)})
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.auth.DeleteRole(r.Context(), current(r).Tenant.ID, id); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventRoleDeleted, map[string]any{"role_id": id})
	writeMessage(w, http.StatusOK, "role deleted")
}

func (a *API) handleShowSamlSetting(w http.ResponseWriter, r *http.Request) {
	tenant := current(r).Tenant
	view := samlSettingPayload{SamlRequestMethod: string(auth.SamlRequestGET)}
	setting, err := a.auth.SamlSetting(r.Context(), tenant.ID)
	switch {
	case err == nil:
		view = samlSettingPayload{
			EntityID:           setting.EntityID,
			SSOURL:             setting.SSOURL,
			IDPX509Certificate: setting.IDPCertificate,
			SamlRequestMethod:  strings.ToUpper(string(setting.RequestMethod)),
		}
	case !errors.Is(err, auth.ErrNotFound):
		a.internalError(w, r, err)
		return
	}
	ep := a.saml.Endpoints(tenant.Code)
	writeJSON(w, http.StatusOK, map[string]any{
		"samlSetting": view,
		"serviceProvider": serviceProviderView{
			EntityID:    ep.EntityID,
			ACSURL:      ep.ACSURL,
			InitiateURL: ep.InitiateURL,
			MetadataURL: ep.MetadataURL,
		},
	})
}

func (a *API) handleCreateSamlSetting(w http.ResponseWriter, r *http.Request) {
	a.saveSamlSetting(w, r, true)
}

func (a *API) handleUpdateSamlSetting(w http.ResponseWriter, r *http.Request) {
	a.saveSamlSetting(w, r, false)
}

func (a *API) saveSamlSetting(w http.ResponseWriter, r *http.Request, create bool) {
	var req samlSettingPayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if f := missingField("idpX509Certificate", req.IDPX509Certificate, "samlRequestMethod", req.SamlRequestMethod); f != "" {
		writeError(w, r, http.StatusBadRequest, f+" is required")
		return
	}
	setting := &auth.SamlSetting{
		TenantID:       current(r).Tenant.ID,
		EntityID:       req.EntityID,
		SSOURL:         req.SSOURL,
		IDPCertificate: req.IDPX509Certificate,
		RequestMethod:  auth.SamlRequestMethod(req.SamlRequestMethod),
	}
	if err := a.auth.SaveSamlSetting(r.Context(), setting, create); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			writeError(w, r, http.StatusUnprocessableEntity, "SAML setting already exists")
			return
		}
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSamlSettingSaved, map[string]any{
		"created":        create,
		"entity_id":      setting.EntityID,
		"request_method": string(setting.RequestMethod),
	})
	status, msg := http.StatusOK, "SAML setting updated"
	if create {
		status, msg = http.StatusCreated, "SAML setting created"
	}
	writeMessage(w, status, msg)
}
