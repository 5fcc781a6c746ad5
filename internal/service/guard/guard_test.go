package guard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
)

type projectsStub struct {
	repository.ProjectRepository
	members     map[string]bool
	memberCount int
}

func (s *projectsStub) GetMembership(ctx context.Context, projectID, userID string) (*domain.ProjectMembership, error) {
	if s.members[projectID+"|"+userID] {
		return &domain.ProjectMembership{ProjectID: projectID, UserID: userID}, nil
	}
	return nil, repository.ErrNotFound
}

func (s *projectsStub) CountMemberships(ctx context.Context, projectID string) (int, error) {
	return s.memberCount, nil
}

type quotasStub struct {
	repository.QuotaRepository
	positiveShares int
}

func (s *quotasStub) CountPositiveSharesByProject(ctx context.Context, projectID string) (int, error) {
	return s.positiveShares, nil
}

var (
	admin  = &domain.User{ID: "admin-id", Username: "root", IsAdmin: true}
	owner  = &domain.User{ID: "owner-id", Username: "owner"}
	member = &domain.User{ID: "member-id", Username: "member"}
	other  = &domain.User{ID: "other-id", Username: "other"}
)

func testProject() *domain.Project {
	return &domain.Project{ID: "p1", Name: "web-abc123", OwnerID: owner.ID}
}

func newGuard(projects *projectsStub, quotas *quotasStub) Guard {
	if projects == nil {
		projects = &projectsStub{}
	}
	if quotas == nil {
		quotas = &quotasStub{}
	}
	return New(projects, quotas)
}

func TestRequireAdmin(t *testing.T) {
	g := newGuard(nil, nil)
	if err := g.RequireAdmin(admin); err != nil {
		t.Fatalf("admin denied: %v", err)
	}
	if err := g.RequireAdmin(owner); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	if err := g.RequireAdmin(nil); !errors.Is(err, ErrDenied) {
		t.Fatalf("nil actor must be denied, got %v", err)
	}
}

func TestRequireAdminOrSelf(t *testing.T) {
	g := newGuard(nil, nil)
	if err := g.RequireAdminOrSelf(member, "member"); err != nil {
		t.Fatalf("self denied: %v", err)
	}
	if err := g.RequireAdminOrSelf(admin, "member"); err != nil {
		t.Fatalf("admin denied: %v", err)
	}
	if err := g.RequireAdminOrSelf(other, "member"); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}

func TestRequireProjectAccess(t *testing.T) {
	projects := &projectsStub{members: map[string]bool{"p1|member-id": true}}
	g := newGuard(projects, nil)
	project := testProject()

	for _, actor := range []*domain.User{admin, owner, member} {
		if err := g.RequireProjectAccess(context.Background(), actor, project); err != nil {
			t.Fatalf("%s denied: %v", actor.Username, err)
		}
	}
	if err := g.RequireProjectAccess(context.Background(), other, project); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for outsider, got %v", err)
	}
}

func TestRequireShareStanding(t *testing.T) {
	projects := &projectsStub{members: map[string]bool{"p1|member-id": true}}
	g := newGuard(projects, nil)
	project := testProject()

	// A member may pledge their own capacity; an admin may do it for them.
	if err := g.RequireShareStanding(context.Background(), member, member, project); err != nil {
		t.Fatalf("member standing denied: %v", err)
	}
	if err := g.RequireShareStanding(context.Background(), admin, member, project); err != nil {
		t.Fatalf("admin standing denied: %v", err)
	}
	// The owner needs no membership row.
	if err := g.RequireShareStanding(context.Background(), owner, owner, project); err != nil {
		t.Fatalf("owner standing denied: %v", err)
	}
	// One member cannot pledge another user's capacity.
	if err := g.RequireShareStanding(context.Background(), member, other, project); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	// Standing requires the target user to actually be on the project.
	if err := g.RequireShareStanding(context.Background(), admin, other, project); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for non-member target, got %v", err)
	}
}

func TestRequireMemberRemoval(t *testing.T) {
	g := newGuard(nil, nil)
	project := testProject()
	for _, actor := range []*domain.User{admin, owner, member} {
		if err := g.RequireMemberRemoval(actor, project, member); err != nil {
			t.Fatalf("%s denied: %v", actor.Username, err)
		}
	}
	if err := g.RequireMemberRemoval(other, project, member); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}

func TestCheckProjectDeletableNamesBlockers(t *testing.T) {
	project := testProject()

	g := newGuard(&projectsStub{}, &quotasStub{positiveShares: 3})
	err := g.CheckProjectDeletable(context.Background(), project)
	var precondition *PreconditionError
	if !errors.As(err, &precondition) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if !strings.Contains(precondition.Reason, "3 quota share(s)") {
		t.Fatalf("reason should count pledged shares: %q", precondition.Reason)
	}

	g = newGuard(&projectsStub{memberCount: 2}, &quotasStub{})
	err = g.CheckProjectDeletable(context.Background(), project)
	if !errors.As(err, &precondition) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if !strings.Contains(precondition.Reason, "2 member(s)") {
		t.Fatalf("reason should count members: %q", precondition.Reason)
	}

	g = newGuard(&projectsStub{}, &quotasStub{})
	if err := g.CheckProjectDeletable(context.Background(), project); err != nil {
		t.Fatalf("empty project should be deletable: %v", err)
	}
}
