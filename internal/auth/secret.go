package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/autofix-playground/internal/apperror"
)

// defaultCost is the bcrypt work factor. Each +1 doubles the hashing time;
// 12 is roughly 250ms, slow enough to make offline guessing expensive.
const defaultCost = 12

// SecretService hashes and verifies workspace secrets with bcrypt.
type SecretService struct {
	cost int
}

// NewSecretService returns a SecretService at the production cost.
func NewSecretService() *SecretService {
	return &SecretService{cost: defaultCost}
}

// NewSecretServiceWithCost lets tests use bcrypt.MinCost.
func NewSecretServiceWithCost(cost int) *SecretService {
	return &SecretService{cost: cost}
}

// Hash returns the bcrypt hash of secret. bcrypt ignores everything past
// 72 bytes, so longer secrets are rejected instead of silently truncated.
func (s *SecretService) Hash(secret string) (string, error) {
	if len(secret) > 72 {
		return "", apperror.ValidationFailed("secret", "secret must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing secret: %w", err)
	}

	return string(hashed), nil
}

// Verify checks secret against hash. A mismatch, or a workspace created
// without a secret, is apperror.ErrUnauthorized.
func (s *SecretService) Verify(hash, secret string) error {
	if hash == "" {
		return apperror.Unauthorized("workspace has no secret")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return apperror.Unauthorized("invalid secret")
		}
		return fmt.Errorf("auth: comparing secret hash: %w", err)
	}
	return nil
}
