package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost is the bcrypt cost for new hashes.
const passwordCost = bcrypt.DefaultCost

// maxPasswordBytes is the longest password bcrypt accepts.
const maxPasswordBytes = 72

// hashPassword hashes a registration password. Passwords bcrypt would
// refuse are reported as ErrInvalidPassword.
func hashPassword(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", ErrInvalidPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrInvalidPassword
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// checkPassword reports ErrInvalidCredentials when password does not match
// the stored hash. A corrupt stored hash is a distinct error.
func checkPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("check password: %w", err)
	}
}
