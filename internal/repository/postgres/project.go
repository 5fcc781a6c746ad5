package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
)

const projectColumns = `id, name, owner_id, created_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, name, owner_id, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.OwnerID, project.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrInvalidArgument
	}
	return err
}

// GetProjectByID returns a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	return scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

// GetProjectByName returns a project by its unique name.
func (r *Repository) GetProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	return scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = $1`, name))
}

func (r *Repository) listProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListProjects returns every project. Used by the periodic resyncer.
func (r *Repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return r.listProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at`)
}

// ListProjectsByOwner returns projects owned by a user.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return r.listProjects(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner_id = $1 ORDER BY created_at`, ownerID)
}

// CountProjectsByOwner counts a user's projects.
func (r *Repository) CountProjectsByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM projects WHERE owner_id = $1`, ownerID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteProject removes a project row. Ledger preconditions are checked by
// the caller before this runs.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddMembership inserts a membership row; a duplicate pair is rejected.
func (r *Repository) AddMembership(ctx context.Context, membership *domain.ProjectMembership) error {
	const query = `INSERT INTO project_memberships (id, project_id, user_id, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, membership.ID, membership.ProjectID, membership.UserID, membership.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrInvalidArgument
	}
	return err
}

// GetMembership fetches the membership row for a (project, user) pair.
func (r *Repository) GetMembership(ctx context.Context, projectID, userID string) (*domain.ProjectMembership, error) {
	const query = `SELECT id, project_id, user_id, created_at FROM project_memberships WHERE project_id = $1 AND user_id = $2`
	row := r.pool.QueryRow(ctx, query, projectID, userID)
	var m domain.ProjectMembership
	if err := row.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMemberships returns all non-owner members of a project.
func (r *Repository) ListMemberships(ctx context.Context, projectID string) ([]domain.ProjectMembership, error) {
	const query = `SELECT id, project_id, user_id, created_at FROM project_memberships WHERE project_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.ProjectMembership, 0)
	for rows.Next() {
		var m domain.ProjectMembership
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CountMemberships counts non-owner members of a project.
func (r *Repository) CountMemberships(ctx context.Context, projectID string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM project_memberships WHERE project_id = $1`, projectID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// RemoveMembership deletes a membership pair.
func (r *Repository) RemoveMembership(ctx context.Context, projectID, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM project_memberships WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
