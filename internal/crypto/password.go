package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordTooLong mirrors the bcrypt input limit of 72 bytes.
var ErrPasswordTooLong = bcrypt.ErrPasswordTooLong

type PasswordHasher interface {
	HashPassword(password string) (string, error)
	CheckPassword(hash, password string) error
}

type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{Cost: cost}
}

func (h BcryptHasher) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h BcryptHasher) CheckPassword(hash, password string) error {
	return CheckPassword(hash, password)
}

func HashPassword(password string) (string, error) {
	return NewBcryptHasher(bcrypt.DefaultCost).HashPassword(password)
}

// CheckPassword returns nil only when password matches hash. Malformed
// hashes are reported as a mismatch.
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return err
	}
	return bcrypt.ErrMismatchedHashAndPassword
}
