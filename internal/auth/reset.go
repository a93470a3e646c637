package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const resetTokenPurpose = "password_reset"

type resetClaims struct {
	Purpose     string `json:"purpose"`
	Fingerprint string `json:"pwd"`
	jwt.RegisteredClaims
}

// IssueResetToken returns a self-contained token naming the credential and
// its issuance time. The token stops verifying after resetTTL or once the
// password it was issued against changes.
func (s *Service) IssueResetToken(cred *Credential) (string, error) {
	if cred == nil || cred.ID == "" {
		return "", ErrNotFound
	}
	now := s.now().UTC()
	claims := resetClaims{
		Purpose:     resetTokenPurpose,
		Fingerprint: s.fingerprint(cred.PasswordHash),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.resetTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.resetSecret)
}

// RedeemResetToken resolves a reset token to its credential. Every failure
// matches ErrTokenInvalid; lapsed tokens additionally match ErrTokenExpired.
func (s *Service) RedeemResetToken(ctx context.Context, raw string) (*Credential, error) {
	var claims resetClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.resetSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.Purpose != resetTokenPurpose || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrTokenInvalid
	}
	if s.now().Truncate(time.Second).Sub(claims.IssuedAt.Time) > s.resetTTL {
		return nil, ErrTokenExpired
	}

	cred, err := s.store.Credentials(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !hmac.Equal([]byte(claims.Fingerprint), []byte(s.fingerprint(cred.PasswordHash))) {
		return nil, ErrTokenInvalid
	}
	return cred, nil
}

// ResetPassword redeems token and stores the new password.
func (s *Service) ResetPassword(ctx context.Context, token, password, confirmation string) (*Credential, error) {
	cred, err := s.RedeemResetToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.SetPassword(ctx, cred, password, confirmation); err != nil {
		return nil, fmt.Errorf("reset password: %w", err)
	}
	return cred, nil
}

func (s *Service) fingerprint(passwordHash string) string {
	mac := hmac.New(sha256.New, s.resetSecret)
	mac.Write([]byte(passwordHash))
	sum := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}

// ResetTTL reports how long issued reset tokens stay valid.
func (s *Service) ResetTTL() time.Duration { return s.resetTTL }
