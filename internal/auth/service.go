// Package auth handles account registration, login, and bearer-token
// sessions. Authorization within a business is the authz package's job.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ledgerkeep/ledgerkeep/internal/shared"
	"github.com/ledgerkeep/ledgerkeep/internal/users"
)

// UserStore defines the account persistence used by the service.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (users.User, error)
	Create(ctx context.Context, user users.User) error
	TouchLogin(ctx context.Context, id uuid.UUID) error
}

// Service wraps authentication business rules.
type Service struct {
	store    UserStore
	sessions *shared.SessionManager
}

// NewService constructs a new Service.
func NewService(store UserStore, sessions *shared.SessionManager) *Service {
	return &Service{store: store, sessions: sessions}
}

// Register creates an account and returns it with a fresh session.
func (s *Service) Register(ctx context.Context, email, displayName, password string) (users.User, shared.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return users.User{}, shared.Session{}, shared.ErrValidation
	}

	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return users.User{}, shared.Session{}, shared.ErrDuplicate
	} else if !errors.Is(err, shared.ErrNotFound) {
		return users.User{}, shared.Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return users.User{}, shared.Session{}, err
	}

	now := time.Now().UTC()
	user := users.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		CreatedAt:    now,
		LastLoginAt:  now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return users.User{}, shared.Session{}, err
	}

	sess, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return users.User{}, shared.Session{}, err
	}
	return user, sess, nil
}

// Login validates credentials and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (users.User, shared.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return users.User{}, shared.Session{}, shared.ErrInvalidCredentials
		}
		return users.User{}, shared.Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.Session{}, shared.ErrInvalidCredentials
	}

	if err := s.store.TouchLogin(ctx, user.ID); err != nil {
		return users.User{}, shared.Session{}, err
	}
	sess, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return users.User{}, shared.Session{}, err
	}
	return user, sess, nil
}

// Logout revokes the session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// Resolve maps a bearer token to the account behind it.
func (s *Service) Resolve(ctx context.Context, token string) (users.User, error) {
	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrSessionNotFound) {
			return users.User{}, shared.ErrUnauthorized
		}
		return users.User{}, err
	}
	user, err := s.store.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return users.User{}, shared.ErrUnauthorized
		}
		return users.User{}, err
	}
	return user, nil
}
