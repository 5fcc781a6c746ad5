// Package guard holds the authorization predicates and the ledger-backed
// preconditions gating membership and project lifecycle changes.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
)

// ErrDenied is returned when the actor lacks admin/owner/member/self
// standing for the attempted operation.
var ErrDenied = errors.New("guard: not allowed")

// PreconditionError explains which project-deletion precondition failed.
type PreconditionError struct {
	Project string
	Reason  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("project %s cannot be deleted: %s", e.Project, e.Reason)
}

// Guard evaluates access rules against memberships and the quota ledger.
type Guard struct {
	projects repository.ProjectRepository
	quotas   repository.QuotaRepository
}

// New constructs a Guard.
func New(projects repository.ProjectRepository, quotas repository.QuotaRepository) Guard {
	return Guard{projects: projects, quotas: quotas}
}

// RequireAdmin rejects non-admin actors.
func (g Guard) RequireAdmin(actor *domain.User) error {
	if actor == nil || !actor.IsAdmin {
		return ErrDenied
	}
	return nil
}

// RequireAdminOrSelf allows admins and the named user themselves.
func (g Guard) RequireAdminOrSelf(actor *domain.User, username string) error {
	if actor == nil {
		return ErrDenied
	}
	if actor.IsAdmin || actor.Username == username {
		return nil
	}
	return ErrDenied
}

// RequireOwnerOrAdmin allows the project owner and admins.
func (g Guard) RequireOwnerOrAdmin(actor *domain.User, project *domain.Project) error {
	if actor == nil || project == nil {
		return ErrDenied
	}
	if actor.IsAdmin || project.OwnerID == actor.ID {
		return nil
	}
	return ErrDenied
}

// RequireProjectAccess allows admins, the owner and project members.
func (g Guard) RequireProjectAccess(ctx context.Context, actor *domain.User, project *domain.Project) error {
	if actor == nil || project == nil {
		return ErrDenied
	}
	if actor.IsAdmin || project.OwnerID == actor.ID {
		return nil
	}
	return g.requireMembership(ctx, actor.ID, project.ID)
}

// RequireShareStanding gates who may pledge capacity on behalf of a user:
// the actor must be that user or an admin, and the user must be the owner
// or a member of the project.
func (g Guard) RequireShareStanding(ctx context.Context, actor *domain.User, user *domain.User, project *domain.Project) error {
	if err := g.RequireAdminOrSelf(actor, user.Username); err != nil {
		return err
	}
	if project.OwnerID == user.ID {
		return nil
	}
	return g.requireMembership(ctx, user.ID, project.ID)
}

// RequireMemberRemoval allows admins, the project owner, and the member
// removing themselves.
func (g Guard) RequireMemberRemoval(actor *domain.User, project *domain.Project, member *domain.User) error {
	if actor == nil || project == nil || member == nil {
		return ErrDenied
	}
	if actor.IsAdmin || project.OwnerID == actor.ID || actor.ID == member.ID {
		return nil
	}
	return ErrDenied
}

// CheckProjectDeletable verifies the deletion preconditions: no live
// pledged capacity and no non-owner members. Each failure names what is
// still blocking so the caller can act on it.
func (g Guard) CheckProjectDeletable(ctx context.Context, project *domain.Project) error {
	shares, err := g.quotas.CountPositiveSharesByProject(ctx, project.ID)
	if err != nil {
		return err
	}
	if shares > 0 {
		return &PreconditionError{
			Project: project.Name,
			Reason:  fmt.Sprintf("%d quota share(s) still pledged; return them first", shares),
		}
	}
	members, err := g.projects.CountMemberships(ctx, project.ID)
	if err != nil {
		return err
	}
	if members > 0 {
		return &PreconditionError{
			Project: project.Name,
			Reason:  fmt.Sprintf("%d member(s) still attached; remove them first", members),
		}
	}
	return nil
}

func (g Guard) requireMembership(ctx context.Context, userID, projectID string) error {
	if _, err := g.projects.GetMembership(ctx, projectID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDenied
		}
		return err
	}
	return nil
}
