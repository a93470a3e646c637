package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is the longest input bcrypt hashes without truncation.
const maxPasswordBytes = 72

// dummyHash is compared against when no credential matches, so a miss costs
// as much as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tenantgate-dummy-password"), bcrypt.DefaultCost)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if err := validatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash in constant time.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrAuthenticationFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrAuthenticationFailed
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrValidationFailed)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrValidationFailed, maxPasswordBytes)
	}
	return nil
}
