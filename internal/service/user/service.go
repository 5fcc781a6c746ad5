package user

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/LaboInfra/fob-api/internal/cloud"
	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/mail"
	"github.com/LaboInfra/fob-api/internal/repository"
	"github.com/LaboInfra/fob-api/internal/service/guard"
	"github.com/LaboInfra/fob-api/pkg/config"
	"github.com/LaboInfra/fob-api/pkg/crypto"
)

var (
	errInvalidUsername = errors.New("username is required")
	errInvalidEmail    = errors.New("a valid email is required")
	errTokenExpired    = errors.New("password reset token has expired")
	errWeakPassword    = errors.New("password must be at least 8 characters")
)

// Service handles user onboarding: account creation, reset tokens, and
// cloud account provisioning.
type Service struct {
	users    repository.UserRepository
	guard    guard.Guard
	accounts cloud.UserDirectory
	mailer   mail.Mailer
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, g guard.Guard, accounts cloud.UserDirectory, mailer mail.Mailer, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, guard: g, accounts: accounts, mailer: mailer, logger: logger, cfg: cfg}
}

// Create registers an account with an unknowable random password and mails
// a reset token the user redeems to set their own. A refused recipient
// rolls the account back; an unreachable relay keeps it (the token can be
// re-issued once mail works again).
func (s Service) Create(ctx context.Context, actor *domain.User, username, email string) (*domain.User, error) {
	if err := s.guard.RequireAdmin(actor); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errInvalidUsername
	}
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errInvalidEmail
	}

	placeholder, err := crypto.RandomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := crypto.HashPassword(placeholder)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	reset, err := s.issueReset(ctx, user, "")
	if err != nil {
		return nil, err
	}
	if err := s.mailer.SendText(user.Email, "LaboInfra Account Created",
		"Your LaboInfra account has been created.\n"+
			"You can set your password by running:\n"+
			fmt.Sprintf("\tlabctl reset-password --username %s --token %s\n", user.Username, reset.Token)+
			fmt.Sprintf("This token expires in %s.\n", s.cfg.PasswordResetTTL)+
			"Welcome to LaboInfra Cloud services"); err != nil {
		var netErr *net.OpError
		if errors.As(err, &netErr) {
			s.logger.Warn("mail relay unreachable, keeping user", "user", username, "error", err)
		} else {
			s.logger.Error("recipient refused, rolling user back", "user", username, "error", err)
			_ = s.users.DeleteUser(ctx, user.ID)
			return nil, err
		}
	}
	s.logger.Info("user created", "user", username, "admin", actor.Username)
	return user, nil
}

// RequestReset issues a new reset token for an existing account.
func (s Service) RequestReset(ctx context.Context, actor *domain.User, username, sourceIP string) (*domain.PasswordReset, error) {
	if err := s.guard.RequireAdminOrSelf(actor, username); err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.issueReset(ctx, user, sourceIP)
}

// RedeemReset consumes a token and sets the new password, locally and on
// the cloud account.
func (s Service) RedeemReset(ctx context.Context, username, token, newPassword string) error {
	if len(newPassword) < 8 {
		return errWeakPassword
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	reset, err := s.users.GetPasswordReset(ctx, token)
	if err != nil {
		return err
	}
	if reset.UserID != user.ID {
		return repository.ErrNotFound
	}
	if time.Now().After(reset.ExpiresAt) {
		_ = s.users.DeletePasswordReset(ctx, reset.ID)
		return errTokenExpired
	}

	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := s.users.DeletePasswordReset(ctx, reset.ID); err != nil {
		return err
	}
	// Mirror to the cloud account so console logins match. Absence is
	// fine: the account is provisioned on first project interaction.
	if err := s.propagateCloudPassword(ctx, user.Username, newPassword); err != nil {
		s.logger.Warn("cloud password not updated", "user", user.Username, "error", err)
	}
	s.logger.Info("password reset redeemed", "user", user.Username)
	return nil
}

// ResetCloudPassword rotates only the cloud account password and returns
// the generated value once.
func (s Service) ResetCloudPassword(ctx context.Context, actor *domain.User, username string) (string, error) {
	if err := s.guard.RequireAdminOrSelf(actor, username); err != nil {
		return "", err
	}
	if _, err := s.users.GetUserByUsername(ctx, username); err != nil {
		return "", err
	}
	password, err := crypto.RandomPassword()
	if err != nil {
		return "", err
	}
	if _, err := s.accounts.EnsureUser(ctx, username); err != nil {
		return "", err
	}
	if err := s.accounts.SetUserPassword(ctx, username, password); err != nil {
		return "", err
	}
	return password, nil
}

// SyncCloudAccount provisions the user's cloud identity and stamps the
// sync time.
func (s Service) SyncCloudAccount(ctx context.Context, actor *domain.User, username string) error {
	if err := s.guard.RequireAdminOrSelf(actor, username); err != nil {
		return err
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if _, err := s.accounts.EnsureUser(ctx, user.Username); err != nil {
		return err
	}
	return s.users.TouchUserSync(ctx, user.ID)
}

// List returns every account; admin only.
func (s Service) List(ctx context.Context, actor *domain.User) ([]domain.User, error) {
	if err := s.guard.RequireAdmin(actor); err != nil {
		return nil, err
	}
	return s.users.ListUsers(ctx)
}

// Get returns one account; admin or the user themselves.
func (s Service) Get(ctx context.Context, actor *domain.User, username string) (*domain.User, error) {
	if err := s.guard.RequireAdminOrSelf(actor, username); err != nil {
		return nil, err
	}
	return s.users.GetUserByUsername(ctx, username)
}

func (s Service) issueReset(ctx context.Context, user *domain.User, sourceIP string) (*domain.PasswordReset, error) {
	reset := &domain.PasswordReset{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     uuid.NewString(),
		SourceIP:  sourceIP,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(s.cfg.PasswordResetTTL),
	}
	if err := s.users.CreatePasswordReset(ctx, reset); err != nil {
		return nil, err
	}
	return reset, nil
}

func (s Service) propagateCloudPassword(ctx context.Context, username, password string) error {
	if _, err := s.accounts.EnsureUser(ctx, username); err != nil {
		return err
	}
	return s.accounts.SetUserPassword(ctx, username, password)
}
