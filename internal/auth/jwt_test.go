package auth

import (
	"testing"
	"time"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	signer, err := NewSigner("secret", "issuer", time.Minute)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	token, err := signer.NewSessionToken("account-1", "admin")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := signer.ParseToken(token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.AccountID != "account-1" || claims.Role != "admin" || claims.Subject != "account-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected token id")
	}
}

func TestTokensIssuedTogetherDiffer(t *testing.T) {
	signer, _ := NewSigner("secret", "issuer", time.Hour)
	first, _ := signer.NewSessionToken("account-1", "user")
	second, _ := signer.NewSessionToken("account-1", "user")
	if first == second {
		t.Fatalf("expected distinct tokens")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	signer, _ := NewSigner("secret", "issuer", time.Hour)
	past := signer.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	token, err := past.NewSessionToken("account-1", "user")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := signer.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestParseRejectsWrongSecretAndIssuer(t *testing.T) {
	signer, _ := NewSigner("secret", "issuer", time.Hour)
	token, _ := signer.NewSessionToken("account-1", "user")

	other, _ := NewSigner("other-secret", "issuer", time.Hour)
	if _, err := other.ParseToken(token); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
	foreign, _ := NewSigner("secret", "someone-else", time.Hour)
	if _, err := foreign.ParseToken(token); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner("", "issuer", time.Hour); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewSigner("secret", "issuer", 0); err == nil {
		t.Fatalf("expected invalid ttl error")
	}
}
