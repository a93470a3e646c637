package auth

import "context"

type requestContextKey struct{}

// ContextWithRequest attaches the resolved request context.
func ContextWithRequest(ctx context.Context, rc *RequestContext) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestFromContext returns the resolved request context, if any.
func RequestFromContext(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	if !ok || rc == nil {
		return nil, false
	}
	return rc, true
}

// UserIDFromContext returns the authenticated user's id.
func UserIDFromContext(ctx context.Context) (string, bool) {
	rc, ok := RequestFromContext(ctx)
	if !ok || rc.User == nil {
		return "", false
	}
	return rc.User.ID, true
}

// TenantIDFromContext returns the authenticated user's tenant id.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	rc, ok := RequestFromContext(ctx)
	if !ok || rc.User == nil {
		return "", false
	}
	return rc.User.TenantID, true
}

// RequireAdmin returns the caller's request context when it acts under an
// admin role. Anonymous callers get ErrAuthenticationFailed, others ErrForbidden.
func RequireAdmin(ctx context.Context) (*RequestContext, error) {
	rc, ok := RequestFromContext(ctx)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	if !rc.IsAdmin() {
		return nil, ErrForbidden
	}
	return rc, nil
}
