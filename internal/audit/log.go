package audit

import (
	"context"
	"errors"
	"maps"
	"strings"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Audited events.
const (
	EventLoginSucceeded         = "auth.login.succeeded"
	EventLoginFailed            = "auth.login.failed"
	EventLogout                 = "auth.logout"
	EventSessionRevoked         = "auth.session.revoked"
	EventPasswordResetRequested = "auth.password_reset.requested"
	EventPasswordResetCompleted = "auth.password_reset.completed"
	EventSamlLogin              = "auth.saml.login"
	EventSamlRejected           = "auth.saml.rejected"
	EventRoleCreated            = "admin.role.created"
	EventRoleUpdated            = "admin.role.updated"
	EventRoleDeleted            = "admin.role.deleted"
	EventSamlSettingSaved       = "admin.saml_setting.saved"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request id from context if present.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	kv := []any{"type", "audit", "event", event}
	if rid := RequestID(ctx); rid != "" {
		kv = append(kv, "request_id", rid)
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		kv = append(kv, "user_id", userID)
	}
	if tenantID, ok := auth.TenantIDFromContext(ctx); ok {
		kv = append(kv, "tenant_id", tenantID)
	}
	copyFields := make(map[string]any, len(fields))
	maps.Copy(copyFields, fields)
	kv = append(kv, "fields", copyFields)

	obs.Logger().WithName("audit").Info("audit", kv...)
	return nil
}
