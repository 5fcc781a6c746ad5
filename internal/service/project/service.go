package project

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/LaboInfra/fob-api/internal/cloud"
	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
	"github.com/LaboInfra/fob-api/internal/service/guard"
	"github.com/LaboInfra/fob-api/pkg/config"
)

var (
	errInvalidProjectName = errors.New("project name is required")
	errProjectLimit       = errors.New("project limit reached for this user")
	errOwnerIsMember      = errors.New("owner is an implicit member and cannot be added")
	errAlreadyMember      = errors.New("user is already a member of this project")
	errNotMember          = errors.New("user is not a member of this project")
	errOwnerRemoval       = errors.New("the owner cannot be removed; delete the project instead")
)

// ShareReturner zeroes a member's pledged capacity before removal.
type ShareReturner interface {
	ZeroMemberShares(ctx context.Context, member *domain.User, project *domain.Project) error
}

// Service manages project lifecycle and membership against both the local
// tables and the cloud identity control plane.
type Service struct {
	projects repository.ProjectRepository
	users    repository.UserRepository
	guard    guard.Guard
	identity cloud.ProjectDirectory
	accounts cloud.UserDirectory
	shares   ShareReturner
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New constructs a Service.
func New(projects repository.ProjectRepository, users repository.UserRepository, g guard.Guard, identity cloud.ProjectDirectory, accounts cloud.UserDirectory, shares ShareReturner, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{projects: projects, users: users, guard: g, identity: identity, accounts: accounts, shares: shares, logger: logger, cfg: cfg}
}

// Create provisions a project for the actor: a uniquely suffixed name, the
// cloud-side project, the owner's cloud account with the member role, and
// the local row. The cloud project is compensated away if the local insert
// fails.
func (s Service) Create(ctx context.Context, actor *domain.User, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errInvalidProjectName
	}
	count, err := s.projects.CountProjectsByOwner(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxProjectsPerUser {
		return nil, fmt.Errorf("%w (max %d)", errProjectLimit, s.cfg.MaxProjectsPerUser)
	}

	fullName := name + "-" + randomSuffix()
	externalID, err := s.identity.CreateProject(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("create cloud project: %w", err)
	}
	accountID, err := s.accounts.EnsureUser(ctx, actor.Username)
	if err == nil {
		err = s.identity.GrantMemberRole(ctx, accountID, externalID)
	}
	if err != nil {
		s.compensateCloudProject(ctx, externalID, fullName)
		return nil, fmt.Errorf("grant owner role: %w", err)
	}

	project := &domain.Project{
		ID:        uuid.NewString(),
		Name:      fullName,
		OwnerID:   actor.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		s.compensateCloudProject(ctx, externalID, fullName)
		return nil, err
	}
	s.logger.Info("project created", "project", project.Name, "owner", actor.Username)
	return project, nil
}

// Delete removes a project once the ledger preconditions hold: no pledged
// capacity and no remaining members.
func (s Service) Delete(ctx context.Context, actor *domain.User, name string) error {
	project, err := s.projects.GetProjectByName(ctx, name)
	if err != nil {
		return err
	}
	if err := s.guard.RequireOwnerOrAdmin(actor, project); err != nil {
		return err
	}
	if err := s.guard.CheckProjectDeletable(ctx, project); err != nil {
		return err
	}

	externalID, err := s.identity.FindProjectID(ctx, project.Name)
	switch {
	case err == nil:
		if err := s.identity.DeleteProject(ctx, externalID); err != nil {
			return fmt.Errorf("delete cloud project: %w", err)
		}
	case errors.Is(err, cloud.ErrNotFound):
		// Already gone externally; still drop the local row.
		s.logger.Warn("cloud project missing during delete", "project", project.Name)
	default:
		return err
	}

	if err := s.projects.DeleteProject(ctx, project.ID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project", project.Name, "actor", actor.Username)
	return nil
}

// ListByUser returns the projects a user owns.
func (s Service) ListByUser(ctx context.Context, actor *domain.User, username string) ([]domain.Project, error) {
	if err := s.guard.RequireAdminOrSelf(actor, username); err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.projects.ListProjectsByOwner(ctx, user.ID)
}

// AddMember attaches a user to a project and mirrors the role grant in the
// cloud control plane.
func (s Service) AddMember(ctx context.Context, actor *domain.User, projectName, username string) error {
	project, err := s.projects.GetProjectByName(ctx, projectName)
	if err != nil {
		return err
	}
	if err := s.guard.RequireOwnerOrAdmin(actor, project); err != nil {
		return err
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user.ID == project.OwnerID {
		return errOwnerIsMember
	}
	if _, err := s.projects.GetMembership(ctx, project.ID, user.ID); err == nil {
		return errAlreadyMember
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	externalID, err := s.identity.FindProjectID(ctx, project.Name)
	if err != nil {
		return fmt.Errorf("resolve cloud project: %w", err)
	}
	accountID, err := s.accounts.EnsureUser(ctx, user.Username)
	if err != nil {
		return err
	}
	if err := s.identity.GrantMemberRole(ctx, accountID, externalID); err != nil {
		return err
	}

	membership := &domain.ProjectMembership{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.projects.AddMembership(ctx, membership); err != nil {
		return err
	}
	s.logger.Info("member added", "project", project.Name, "user", user.Username, "actor", actor.Username)
	return nil
}

// RemoveMember detaches a user from a project. Their pledged capacity is
// returned through the set-semantics quota path first; if the external
// sync refuses the zeroing the shares are restored and the member stays.
func (s Service) RemoveMember(ctx context.Context, actor *domain.User, projectName, username string) error {
	project, err := s.projects.GetProjectByName(ctx, projectName)
	if err != nil {
		return err
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := s.guard.RequireMemberRemoval(actor, project, user); err != nil {
		return err
	}
	if user.ID == project.OwnerID {
		return errOwnerRemoval
	}
	if _, err := s.projects.GetMembership(ctx, project.ID, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotMember
		}
		return err
	}

	if err := s.shares.ZeroMemberShares(ctx, user, project); err != nil {
		return err
	}

	if err := s.projects.RemoveMembership(ctx, project.ID, user.ID); err != nil {
		return err
	}
	if err := s.revokeCloudRole(ctx, project.Name, user.Username); err != nil {
		// Membership is already gone locally; the role revoke is repaired
		// by hand or a later reconciliation, not by resurrecting the row.
		s.logger.Warn("cloud role revoke failed", "project", project.Name, "user", user.Username, "error", err)
	}
	s.logger.Info("member removed", "project", project.Name, "user", user.Username, "actor", actor.Username)
	return nil
}

// ListMembers returns usernames of non-owner members.
func (s Service) ListMembers(ctx context.Context, actor *domain.User, projectName string) ([]string, error) {
	project, err := s.projects.GetProjectByName(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireProjectAccess(ctx, actor, project); err != nil {
		return nil, err
	}
	memberships, err := s.projects.ListMemberships(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(memberships))
	for _, m := range memberships {
		if user, err := s.users.GetUserByID(ctx, m.UserID); err == nil {
			names = append(names, user.Username)
		}
	}
	return names, nil
}

func (s Service) revokeCloudRole(ctx context.Context, projectName, username string) error {
	externalID, err := s.identity.FindProjectID(ctx, projectName)
	if err != nil {
		return err
	}
	accountID, err := s.accounts.FindUserID(ctx, username)
	if err != nil {
		return err
	}
	return s.identity.RevokeMemberRole(ctx, accountID, externalID)
}

func (s Service) compensateCloudProject(ctx context.Context, externalID, name string) {
	if err := s.identity.DeleteProject(ctx, externalID); err != nil {
		s.logger.Error("orphaned cloud project needs manual cleanup", "project", name, "external_id", externalID, "error", err)
	}
}

// randomSuffix disambiguates project names across users.
func randomSuffix() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "000000"
	}
	return hex.EncodeToString(buf)
}
