package auth

import (
	"context"
	"errors"
	"fmt"
)

// Authenticate verifies an email/password pair. Unknown emails and wrong
// passwords both yield ErrAuthenticationFailed after a full bcrypt compare.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Credential, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		_ = VerifyPassword("", password)
		return nil, ErrAuthenticationFailed
	}
	cred, err := s.store.Credentials(ctx).FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		_ = VerifyPassword("", password)
		return nil, ErrAuthenticationFailed
	}
	if err := VerifyPassword(cred.PasswordHash, password); err != nil {
		return nil, ErrAuthenticationFailed
	}
	return cred, nil
}

// SetPassword re-hashes and stores a new password once it matches its confirmation.
func (s *Service) SetPassword(ctx context.Context, cred *Credential, password, confirmation string) error {
	if cred == nil {
		return ErrNotFound
	}
	if password != confirmation {
		return fmt.Errorf("%w: password confirmation does not match", ErrValidationFailed)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.Credentials(ctx).UpdatePassword(ctx, cred.ID, hash); err != nil {
		return err
	}
	cred.PasswordHash = hash
	return nil
}

// CredentialByEmail returns the credential registered for email.
func (s *Service) CredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email address is required", ErrValidationFailed)
	}
	return s.store.Credentials(ctx).FindByEmail(ctx, email)
}

// CredentialOf returns the credential owned by userID.
func (s *Service) CredentialOf(ctx context.Context, userID string) (*Credential, error) {
	return s.store.Credentials(ctx).FindByUser(ctx, userID)
}
