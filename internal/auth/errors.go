package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")

	// ErrAuthenticationFailed never distinguishes an unknown email from a wrong password.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")
	ErrTokenInvalid         = errors.New("auth: reset token invalid")
	ErrTokenExpired         = fmt.Errorf("%w: expired", ErrTokenInvalid)
	ErrValidationFailed     = errors.New("auth: validation failed")
	ErrAdminRoleRequired    = fmt.Errorf("%w: at least one admin role is required", ErrValidationFailed)
	ErrRoleInUse            = errors.New("auth: role is assigned to users")

	ErrTenantOrConfigMissing = errors.New("auth: tenant or SAML configuration missing")
	ErrSamlAssertionInvalid  = errors.New("auth: SAML assertion invalid")

	ErrForbidden = errors.New("auth: forbidden")
)
