package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned when a password does not match its hash.
var ErrPasswordMismatch = errors.New("password mismatch")

// PasswordHasher wraps bcrypt with a configured cost.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher builds a hasher. Cost is validated at config time.
func NewPasswordHasher(cost int) *PasswordHasher {
	return &PasswordHasher{cost: cost}
}

// Hash hashes a plaintext password. bcrypt truncates inputs beyond 72
// bytes, so reject them rather than silently truncating.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if len(password) > 72 {
		return "", fmt.Errorf("password exceeds 72 bytes")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare checks a plaintext password against a stored hash.
func (h *PasswordHasher) Compare(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}
