package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if hash == "secret" {
		t.Fatalf("expected hash to differ from plaintext")
	}
	if err := CheckPassword(hash, "secret"); err != nil {
		t.Fatalf("expected password to match")
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected password mismatch")
	}
}

func TestHashesAreSalted(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	first, _ := hasher.HashPassword("secret1")
	second, _ := hasher.HashPassword("secret1")
	if first == second {
		t.Fatalf("expected different salts to yield different hashes")
	}
}

func TestMalformedHashIsMismatch(t *testing.T) {
	if err := CheckPassword("not-a-bcrypt-hash", "secret"); !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		t.Fatalf("expected mismatch for malformed hash, got %v", err)
	}
}

func TestPasswordTooLong(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	if _, err := hasher.HashPassword(strings.Repeat("a", 73)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected too long error, got %v", err)
	}
}

func TestCostOutOfRangeFallsBack(t *testing.T) {
	if got := NewBcryptHasher(99).Cost; got != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", got)
	}
}
