// Package identity owns the account lifecycle: registration, login and
// session token verification.
package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"taskhub/internal/apperr"
	"taskhub/internal/auth"
	"taskhub/internal/crypto"
	"taskhub/internal/metrics"
	"taskhub/internal/model"
	"taskhub/internal/repository"
)

const (
	MinPasswordLength = 6
	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var (
	ErrUnauthenticated    = apperr.Auth("unauthenticated", "authentication required")
	ErrInvalidCredentials = apperr.Auth("invalid_credentials", "invalid email or password")
	ErrStaleToken         = apperr.Auth("stale_token", "account no longer exists, discard this token")
)

type TokenSigner interface {
	NewSessionToken(accountID, role string) (string, error)
	ParseToken(token string) (*auth.Claims, error)
}

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Session struct {
	Token string              `json:"token"`
	User  model.PublicAccount `json:"user"`
}

type Service struct {
	store  repository.AccountStore
	hasher crypto.PasswordHasher
	tokens TokenSigner
	log    *logrus.Entry
}

func NewService(store repository.AccountStore, hasher crypto.PasswordHasher, tokens TokenSigner, log *logrus.Entry) *Service {
	return &Service{store: store, hasher: hasher, tokens: tokens, log: log.WithField("component", "identity")}
}

func (in RegisterInput) normalized() RegisterInput {
	return RegisterInput{
		Username: strings.TrimSpace(in.Username),
		Email:    normalizeEmail(in.Email),
		Password: in.Password,
	}
}

func (in RegisterInput) validate() error {
	switch {
	case in.Username == "":
		return apperr.Validation("username", "missing_fields", "username, email and password are required")
	case in.Email == "":
		return apperr.Validation("email", "missing_fields", "username, email and password are required")
	case in.Password == "":
		return apperr.Validation("password", "missing_fields", "username, email and password are required")
	case len(in.Password) < MinPasswordLength:
		return apperr.Validation("password", "password_too_short", "password must be at least 6 characters")
	case len(in.Password) > MaxPasswordBytes:
		return apperr.Validation("password", "password_too_long", "password must be at most 72 bytes")
	case !emailPattern.MatchString(in.Email):
		return apperr.Validation("email", "invalid_email", "email address is not valid")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func conflict(field string) error {
	if field == repository.FieldUsername {
		return apperr.Conflict(repository.FieldUsername, "username_taken", "username is already taken")
	}
	return apperr.Conflict(repository.FieldEmail, "email_taken", "email is already registered")
}

// Register creates a user account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	session, err := s.register(ctx, in)
	metrics.AuthEvents.WithLabelValues("register", metrics.Outcome(err)).Inc()
	return session, err
}

func (s *Service) register(ctx context.Context, in RegisterInput) (Session, error) {
	in = in.normalized()
	account, err := s.createAccount(ctx, in, model.RoleUser)
	if err != nil {
		return Session{}, err
	}

	token, err := s.tokens.NewSessionToken(account.ID, string(account.Role))
	if err != nil {
		return Session{}, apperr.Internal("could not issue session token", err)
	}
	s.log.WithField("account_id", account.ID).Info("account registered")
	return Session{Token: token, User: account.Public()}, nil
}

func (s *Service) createAccount(ctx context.Context, in RegisterInput, role model.Role) (model.Account, error) {
	if err := in.validate(); err != nil {
		return model.Account{}, err
	}

	existing, err := s.store.FindAccountByEmailOrUsername(ctx, in.Email, in.Username)
	switch {
	case err == nil:
		if strings.EqualFold(existing.Email, in.Email) {
			return model.Account{}, conflict(repository.FieldEmail)
		}
		return model.Account{}, conflict(repository.FieldUsername)
	case !errors.Is(err, repository.ErrNotFound):
		s.log.WithError(err).Error("account lookup failed")
		return model.Account{}, apperr.Internal("could not check existing accounts", err)
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooLong) {
			return model.Account{}, apperr.Validation("password", "password_too_long", "password must be at most 72 bytes")
		}
		return model.Account{}, apperr.Internal("could not hash password", err)
	}

	account, err := s.store.CreateAccount(ctx, model.Account{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			return model.Account{}, conflict(dup.Field)
		}
		s.log.WithError(err).Error("account insert failed")
		return model.Account{}, apperr.Internal("could not create account", err)
	}
	return account, nil
}

// Login exchanges email and password for a fresh session token. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	session, err := s.login(ctx, in)
	metrics.AuthEvents.WithLabelValues("login", metrics.Outcome(err)).Inc()
	return session, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (Session, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return Session{}, apperr.Validation("", "missing_credentials", "email and password are required")
	}

	account, err := s.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		s.log.WithError(err).Error("account lookup failed")
		return Session{}, apperr.Internal("could not load account", err)
	}
	if err := s.hasher.CheckPassword(account.PasswordHash, in.Password); err != nil {
		s.log.WithField("account_id", account.ID).Info("login rejected")
		return Session{}, ErrInvalidCredentials
	}

	token, err := s.tokens.NewSessionToken(account.ID, string(account.Role))
	if err != nil {
		return Session{}, apperr.Internal("could not issue session token", err)
	}
	return Session{Token: token, User: account.Public()}, nil
}

// Verify checks a session token and returns the identity it asserts. Every
// failure collapses into ErrUnauthenticated.
func (s *Service) Verify(token string) (model.Identity, error) {
	identity, err := s.verify(token)
	metrics.AuthEvents.WithLabelValues("verify", metrics.Outcome(err)).Inc()
	return identity, err
}

func (s *Service) verify(token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, ErrUnauthenticated
	}
	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		s.log.WithError(err).Debug("token rejected")
		return model.Identity{}, ErrUnauthenticated
	}
	role := model.Role(claims.Role)
	if !role.Valid() {
		return model.Identity{}, ErrUnauthenticated
	}
	return model.Identity{AccountID: claims.AccountID, Role: role}, nil
}

func (s *Service) CurrentAccount(ctx context.Context, identity model.Identity) (model.PublicAccount, error) {
	account, err := s.store.GetAccountByID(ctx, identity.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PublicAccount{}, ErrStaleToken
		}
		return model.PublicAccount{}, apperr.Internal("could not load account", err)
	}
	return account.Public(), nil
}

// EnsureAdmin makes sure an admin account with the given credentials exists.
// Calling it again with the same email is a no-op.
func (s *Service) EnsureAdmin(ctx context.Context, in RegisterInput) (model.PublicAccount, error) {
	in = in.normalized()
	existing, err := s.store.GetAccountByEmail(ctx, in.Email)
	switch {
	case err == nil:
		if existing.Role != model.RoleAdmin {
			return model.PublicAccount{}, apperr.Conflict(repository.FieldEmail, "email_taken", "admin email belongs to a non-admin account")
		}
		return existing.Public(), nil
	case !errors.Is(err, repository.ErrNotFound):
		return model.PublicAccount{}, apperr.Internal("could not load account", err)
	}

	account, err := s.createAccount(ctx, in, model.RoleAdmin)
	if err != nil {
		return model.PublicAccount{}, err
	}
	s.log.WithField("account_id", account.ID).Info("admin account created")
	return account.Public(), nil
}
