package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vovakirdan/wirechat-hub/internal/core"
	"github.com/vovakirdan/wirechat-hub/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidEmail is returned when the email address is malformed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrUserNotFound is returned when no user matches.
	ErrUserNotFound = errors.New("user not found")
)

var validate = validator.New()

type registration struct {
	Username string `validate:"min=3,max=32"`
	Password string `validate:"min=6,max=72"`
	Email    string `validate:"omitempty,email"`
}

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new user with hashed password and returns a JWT token.
// The email is optional; users without a verified email cannot join group rooms.
func (s *Service) Register(ctx context.Context, username, password, email string) (string, error) {
	reg := registration{
		Username: strings.TrimSpace(username),
		Password: password,
		Email:    strings.TrimSpace(email),
	}
	if err := validate.Struct(reg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			switch verrs[0].Field() {
			case "Username":
				return "", ErrInvalidUsername
			case "Password":
				return "", ErrInvalidPassword
			case "Email":
				return "", ErrInvalidEmail
			}
		}
		return "", fmt.Errorf("validate registration: %w", err)
	}

	existing, err := s.store.GetUserByUsername(ctx, reg.Username)
	if err == nil && existing != nil {
		return "", ErrUserExists
	}

	hashedPassword, err := hashPassword(reg.Password)
	if err != nil {
		return "", err
	}

	user, err := s.store.CreateUser(ctx, reg.Username, hashedPassword, reg.Email)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if err := checkPassword(user.PasswordHash, password); err != nil {
		return "", err
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// CurrentUser resolves a JWT into the chat identity it belongs to.
func (s *Service) CurrentUser(tokenString string) (core.User, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return core.User{}, err
	}
	return core.User{ID: claims.UserID, Name: claims.Username}, nil
}

// LookupUser finds a user by username.
func (s *Service) LookupUser(ctx context.Context, username string) (*store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// VerifyEmail marks username's email as verified.
func (s *Service) VerifyEmail(ctx context.Context, username string) error {
	user, err := s.LookupUser(ctx, username)
	if err != nil {
		return err
	}
	if user.Email == "" {
		return ErrInvalidEmail
	}
	return s.store.SetEmailVerified(ctx, user.ID, true)
}

// IsEligibleToJoin lets users with a verified email join group rooms.
func (s *Service) IsEligibleToJoin(ctx context.Context, userID int64, _ core.Room) (bool, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get user: %w", err)
	}
	return user.EmailVerified, nil
}

var _ core.Eligibility = (*Service)(nil)
