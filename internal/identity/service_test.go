package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskhub/internal/apperr"
	"taskhub/internal/auth"
	"taskhub/internal/crypto"
	"taskhub/internal/logging"
	"taskhub/internal/model"
	"taskhub/internal/repository"
	"taskhub/internal/repository/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *auth.Signer) {
	t.Helper()
	signer, err := auth.NewSigner("test-secret", "taskhub", 24*time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	store := memory.NewStore()
	svc := NewService(store, crypto.NewBcryptHasher(bcrypt.MinCost), signer, logging.Discard())
	return svc, store, signer
}

func TestRegisterThenLogin(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, RegisterInput{Username: " alice ", Email: "Alice@X.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered.Token == "" || registered.User.Role != model.RoleUser {
		t.Fatalf("unexpected session %+v", registered)
	}
	if registered.User.Username != "alice" || registered.User.Email != "alice@x.com" {
		t.Fatalf("expected normalized username and email, got %+v", registered.User)
	}

	stored, err := store.GetAccountByID(ctx, registered.User.ID)
	if err != nil {
		t.Fatalf("stored account: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "secret1" {
		t.Fatalf("expected hashed password, got %q", stored.PasswordHash)
	}

	session, err := svc.Login(ctx, LoginInput{Email: "alice@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	identity, err := svc.Verify(session.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.AccountID != registered.User.ID || identity.Role != model.RoleUser {
		t.Fatalf("unexpected identity %+v", identity)
	}

	me, err := svc.CurrentAccount(ctx, identity)
	if err != nil || me.ID != registered.User.ID {
		t.Fatalf("current account: %+v %v", me, err)
	}
}

func TestRegisterConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Register(ctx, RegisterInput{Username: "alice2", Email: "ALICE@x.com", Password: "secret1"})
	appErr := apperr.As(err)
	if appErr.Kind != apperr.KindConflict || appErr.Field != "email" || appErr.Code != "email_taken" {
		t.Fatalf("expected email conflict, got %+v", appErr)
	}

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@x.com", Password: "secret1"})
	appErr = apperr.As(err)
	if appErr.Kind != apperr.KindConflict || appErr.Field != "username" || appErr.Code != "username_taken" {
		t.Fatalf("expected username conflict, got %+v", appErr)
	}

	// both collide: email is reported
	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"})
	if apperr.As(err).Field != "email" {
		t.Fatalf("expected email to be reported first, got %v", err)
	}
}

// lookupMissStore hides existing accounts from the pre-insert lookup so the
// insert's own uniqueness check decides.
type lookupMissStore struct {
	*memory.Store
}

func (lookupMissStore) FindAccountByEmailOrUsername(context.Context, string, string) (model.Account, error) {
	return model.Account{}, repository.ErrNotFound
}

func newLookupMissService(t *testing.T) *Service {
	t.Helper()
	signer, err := auth.NewSigner("test-secret", "taskhub", 24*time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	store := lookupMissStore{Store: memory.NewStore()}
	return NewService(store, crypto.NewBcryptHasher(bcrypt.MinCost), signer, logging.Discard())
}

func TestInsertDuplicateIsConflict(t *testing.T) {
	svc := newLookupMissService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Register(ctx, RegisterInput{Username: "alice2", Email: "alice@x.com", Password: "secret1"})
	appErr := apperr.As(err)
	if appErr.Kind != apperr.KindConflict || appErr.Code != "email_taken" || appErr.Field != "email" {
		t.Fatalf("expected email conflict, got %+v", appErr)
	}

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@x.com", Password: "secret1"})
	appErr = apperr.As(err)
	if appErr.Kind != apperr.KindConflict || appErr.Code != "username_taken" || appErr.Field != "username" {
		t.Fatalf("expected username conflict, got %+v", appErr)
	}
}

func TestConcurrentRegisterCreatesOneAccount(t *testing.T) {
	svc := newLookupMissService(t)
	ctx := context.Background()

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(ctx, RegisterInput{Username: "carol", Email: "carol@x.com", Password: "secret1"})
		}(i)
	}
	wg.Wait()

	var created, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case apperr.KindOf(err) == apperr.KindConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 account and %d conflicts, got %d and %d", attempts-1, created, conflicts)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input RegisterInput
		code  string
		field string
	}{
		{"missing username", RegisterInput{Email: "a@x.com", Password: "secret1"}, "missing_fields", "username"},
		{"blank email", RegisterInput{Username: "a", Email: "   ", Password: "secret1"}, "missing_fields", "email"},
		{"missing password", RegisterInput{Username: "a", Email: "a@x.com"}, "missing_fields", "password"},
		{"bad email", RegisterInput{Username: "a", Email: "not-an-email", Password: "secret1"}, "invalid_email", "email"},
		{"short password", RegisterInput{Username: "a", Email: "a@x.com", Password: "12345"}, "password_too_short", "password"},
		{"long password", RegisterInput{Username: "a", Email: "a@x.com", Password: strings.Repeat("p", 73)}, "password_too_long", "password"},
		{"short password and bad email", RegisterInput{Username: "a", Email: "bad", Password: "123"}, "password_too_short", "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.input)
			appErr := apperr.As(err)
			if appErr.Kind != apperr.KindValidation || appErr.Code != tc.code || appErr.Field != tc.field {
				t.Fatalf("expected %s on %s, got %+v", tc.code, tc.field, appErr)
			}
		})
	}

	if _, err := store.GetAccountByEmail(ctx, "a@x.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("rejected registrations must not persist, got %v", err)
	}
}

func TestShortPasswordNeverPersisted(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	for _, password := range []string{"1", "12", "abc", "abcd", "abcde"} {
		if _, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "bob@x.com", Password: password}); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("password %q: expected validation error, got %v", password, err)
		}
	}
	if _, err := store.FindAccountByEmailOrUsername(ctx, "bob@x.com", "bob"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "bob@x.com", Password: "abcdef"}); err != nil {
		t.Fatalf("six characters should be accepted: %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, unknown := svc.Login(ctx, LoginInput{Email: "nobody@x.com", Password: "secret1"})
	_, wrong := svc.Login(ctx, LoginInput{Email: "alice@x.com", Password: "wrong-password"})
	if !errors.Is(unknown, ErrInvalidCredentials) || !errors.Is(wrong, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", unknown, wrong)
	}
	if unknown.Error() != wrong.Error() {
		t.Fatalf("unknown email and wrong password must look the same: %q vs %q", unknown, wrong)
	}

	_, err := svc.Login(ctx, LoginInput{Email: "alice@x.com"})
	if appErr := apperr.As(err); appErr.Kind != apperr.KindValidation || appErr.Code != "missing_credentials" {
		t.Fatalf("expected missing credentials, got %+v", appErr)
	}
}

func TestLoginIssuesFreshTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	first, _ := svc.Login(ctx, LoginInput{Email: "alice@x.com", Password: "secret1"})
	second, _ := svc.Login(ctx, LoginInput{Email: "alice@x.com", Password: "secret1"})
	if first.Token == second.Token {
		t.Fatalf("expected distinct tokens per login")
	}
	if _, err := svc.Verify(first.Token); err != nil {
		t.Fatalf("older token should remain valid: %v", err)
	}
}

func TestVerifyRejectsBadTokensUniformly(t *testing.T) {
	svc, _, signer := newTestService(t)

	past := signer.WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) })
	expired, err := past.NewSessionToken("account-1", "user")
	if err != nil {
		t.Fatalf("expired token: %v", err)
	}

	alice, _ := signer.NewSessionToken("alice-id", "user")
	admin, _ := signer.NewSessionToken("alice-id", "admin")
	aliceParts := strings.Split(alice, ".")
	adminParts := strings.Split(admin, ".")
	// admin claims under a user signature
	tampered := aliceParts[0] + "." + adminParts[1] + "." + aliceParts[2]

	foreign, _ := auth.NewSigner("other-secret", "taskhub", time.Hour)
	forged, _ := foreign.NewSessionToken("alice-id", "admin")

	for name, token := range map[string]string{
		"expired":   expired,
		"tampered":  tampered,
		"malformed": "not.a.token",
		"garbage":   "garbage",
		"empty":     "",
		"forged":    forged,
	} {
		_, err := svc.Verify(token)
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: expected unauthenticated, got %v", name, err)
		}
		if err.Error() != ErrUnauthenticated.Error() {
			t.Fatalf("%s: expected uniform message, got %q", name, err)
		}
	}
}

func TestCurrentAccountWithStaleToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	identity, err := svc.Verify(session.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	store.DeleteAccount(session.User.ID)

	_, err = svc.CurrentAccount(ctx, identity)
	if !errors.Is(err, ErrStaleToken) || apperr.KindOf(err) != apperr.KindAuth {
		t.Fatalf("expected stale token, got %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	input := RegisterInput{Username: "root", Email: "root@x.com", Password: "rootpass"}

	first, err := svc.EnsureAdmin(ctx, input)
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if first.Role != model.RoleAdmin {
		t.Fatalf("expected admin role, got %s", first.Role)
	}
	second, err := svc.EnsureAdmin(ctx, input)
	if err != nil || second.ID != first.ID {
		t.Fatalf("expected same admin, got %+v %v", second, err)
	}

	session, err := svc.Login(ctx, LoginInput{Email: "root@x.com", Password: "rootpass"})
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	identity, _ := svc.Verify(session.Token)
	if !identity.IsAdmin() {
		t.Fatalf("expected admin identity, got %+v", identity)
	}
}

func TestEnsureAdminRejectsUserEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := svc.EnsureAdmin(ctx, RegisterInput{Username: "root", Email: "alice@x.com", Password: "rootpass"})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}
