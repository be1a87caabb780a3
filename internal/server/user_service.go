package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/types"
)

// UserStore is the profile persistence the user service needs.
type UserStore interface {
	CheckEmailExists(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, name, email, passwordHash string, role types.Role) (uuid.UUID, error)
	GetUser(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.UserCredentials, error)
}

// UserService registers and authenticates profiles.
type UserService struct {
	store          UserStore
	passwordConfig *config.PasswordConfig
}

// NewUserService creates a new UserService with the given dependencies
func NewUserService(store UserStore, passwordConfig *config.PasswordConfig) *UserService {
	return &UserService{store: store, passwordConfig: passwordConfig}
}

// Register creates a profile with the user role. Admins are promoted out of band.
func (s *UserService) Register(ctx context.Context, req *types.CreateUserRequest) (*types.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	exists, err := s.store.CheckEmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if exists {
		return nil, &ErrEmailAlreadyExists{Email: email}
	}

	hash, err := s.passwordConfig.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	userID, err := s.store.CreateUser(ctx, strings.TrimSpace(req.Name), email, hash, types.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve created user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("created user not found: %s", userID)
	}
	return user, nil
}

// Login returns the profile whose email and password match.
func (s *UserService) Login(ctx context.Context, req *types.LoginRequest) (*types.User, error) {
	creds, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	// Unknown email and wrong password are indistinguishable to the caller.
	if creds == nil || creds.PasswordHash == "" {
		return nil, &ErrInvalidCredentials{}
	}
	if !s.passwordConfig.VerifyPassword(req.Password, creds.PasswordHash) {
		return nil, &ErrInvalidCredentials{}
	}
	user := creds.User
	return &user, nil
}
