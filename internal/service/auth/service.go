package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
	"github.com/LaboInfra/fob-api/pkg/config"
	"github.com/LaboInfra/fob-api/pkg/crypto"
	jwtpkg "github.com/LaboInfra/fob-api/pkg/jwt"
)

var (
	errBadCredentials = errors.New("invalid username or password")
	errDisabled       = errors.New("account is disabled")
)

// Service issues and validates bearer tokens.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Token is an issued access token.
type Token struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   time.Duration `json:"expires_in"`
}

// Login authenticates a user by username and password.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, Token, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, errBadCredentials
		}
		return nil, Token{}, err
	}
	if user.Disabled {
		return nil, Token{}, errDisabled
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, Token{}, errBadCredentials
	}
	access, err := jwtpkg.GenerateToken(user.ID, user.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user", user.Username)
	return user, Token{AccessToken: access, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}

// Authorize validates a bearer token and resolves the acting user.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, errDisabled
	}
	return user, nil
}
