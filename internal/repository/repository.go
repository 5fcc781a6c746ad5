package repository

import (
	"context"

	"github.com/LaboInfra/fob-api/internal/domain"
)

// UserRepository persists users and password reset tokens.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserPassword(ctx context.Context, userID string, hash []byte) error
	TouchUserSync(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, userID string) error

	CreatePasswordReset(ctx context.Context, reset *domain.PasswordReset) error
	GetPasswordReset(ctx context.Context, token string) (*domain.PasswordReset, error)
	DeletePasswordReset(ctx context.Context, id string) error
}

// ProjectRepository persists projects and memberships.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, id string) (*domain.Project, error)
	GetProjectByName(ctx context.Context, name string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	CountProjectsByOwner(ctx context.Context, ownerID string) (int, error)
	DeleteProject(ctx context.Context, id string) error

	AddMembership(ctx context.Context, membership *domain.ProjectMembership) error
	GetMembership(ctx context.Context, projectID, userID string) (*domain.ProjectMembership, error)
	ListMemberships(ctx context.Context, projectID string) ([]domain.ProjectMembership, error)
	CountMemberships(ctx context.Context, projectID string) (int, error)
	RemoveMembership(ctx context.Context, projectID, userID string) error
}

// ShareUpdate reports the outcome of a checked or forced share write.
type ShareUpdate struct {
	Previous int64
	Current  int64
}

// QuotaRepository is the ledger: owned grants plus project shares.
//
// SetProjectShare is the single checked mutation path: inside one
// transaction it locks the user's grant and share rows for the resource
// type, verifies owned >= shared-out after the change, and upserts (or
// deletes, when quantity is zero) the one row keyed by
// (user, project, type). It returns ErrInsufficientQuota without mutating
// when the check fails. ForceSetProjectShare is the unchecked variant used
// to restore a previous quantity after an external sync rejection.
type QuotaRepository interface {
	CreateGrant(ctx context.Context, grant *domain.OwnedQuotaGrant) error
	GetGrantByID(ctx context.Context, id string) (*domain.OwnedQuotaGrant, error)
	DeleteGrant(ctx context.Context, id string) error
	ListGrantsByUser(ctx context.Context, userID string) ([]domain.OwnedQuotaGrant, error)

	ListSharesByUser(ctx context.Context, userID string) ([]domain.ProjectQuotaShare, error)
	ListSharesByProject(ctx context.Context, projectID string) ([]domain.ProjectQuotaShare, error)
	ListSharesByMember(ctx context.Context, projectID, userID string) ([]domain.ProjectQuotaShare, error)
	CountPositiveSharesByProject(ctx context.Context, projectID string) (int, error)

	SetProjectShare(ctx context.Context, share *domain.ProjectQuotaShare) (ShareUpdate, error)
	ForceSetProjectShare(ctx context.Context, share *domain.ProjectQuotaShare) (ShareUpdate, error)
}
