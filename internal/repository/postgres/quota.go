package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
)

const grantColumns = `id, user_id, resource_type, quantity, comment, created_at`
const shareColumns = `id, user_id, project_id, resource_type, quantity, comment, created_at`

// CreateGrant appends an owned-quota adjustment row.
func (r *Repository) CreateGrant(ctx context.Context, grant *domain.OwnedQuotaGrant) error {
	const query = `INSERT INTO owned_quota_grants (id, user_id, resource_type, quantity, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, grant.ID, grant.UserID, grant.Type, grant.Quantity, grant.Comment, grant.CreatedAt)
	return err
}

// GetGrantByID fetches one grant row.
func (r *Repository) GetGrantByID(ctx context.Context, id string) (*domain.OwnedQuotaGrant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+grantColumns+` FROM owned_quota_grants WHERE id = $1`, id)
	var g domain.OwnedQuotaGrant
	if err := row.Scan(&g.ID, &g.UserID, &g.Type, &g.Quantity, &g.Comment, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// DeleteGrant removes a grant row unconditionally; shares are not checked,
// so this can legitimately leave the user in a deficit state.
func (r *Repository) DeleteGrant(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM owned_quota_grants WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListGrantsByUser returns every adjustment row for a user.
func (r *Repository) ListGrantsByUser(ctx context.Context, userID string) ([]domain.OwnedQuotaGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+grantColumns+` FROM owned_quota_grants WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make([]domain.OwnedQuotaGrant, 0)
	for rows.Next() {
		var g domain.OwnedQuotaGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.Type, &g.Quantity, &g.Comment, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *Repository) listShares(ctx context.Context, query string, args ...any) ([]domain.ProjectQuotaShare, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := make([]domain.ProjectQuotaShare, 0)
	for rows.Next() {
		var s domain.ProjectQuotaShare
		if err := rows.Scan(&s.ID, &s.UserID, &s.ProjectID, &s.Type, &s.Quantity, &s.Comment, &s.CreatedAt); err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

// ListSharesByUser returns a user's shares across all projects.
func (r *Repository) ListSharesByUser(ctx context.Context, userID string) ([]domain.ProjectQuotaShare, error) {
	return r.listShares(ctx, `SELECT `+shareColumns+` FROM project_quota_shares WHERE user_id = $1 ORDER BY created_at`, userID)
}

// ListSharesByProject returns all contributing users' shares on a project.
func (r *Repository) ListSharesByProject(ctx context.Context, projectID string) ([]domain.ProjectQuotaShare, error) {
	return r.listShares(ctx, `SELECT `+shareColumns+` FROM project_quota_shares WHERE project_id = $1 ORDER BY created_at`, projectID)
}

// ListSharesByMember returns one user's shares on one project.
func (r *Repository) ListSharesByMember(ctx context.Context, projectID, userID string) ([]domain.ProjectQuotaShare, error) {
	return r.listShares(ctx, `SELECT `+shareColumns+` FROM project_quota_shares WHERE project_id = $1 AND user_id = $2 ORDER BY created_at`, projectID, userID)
}

// CountPositiveSharesByProject counts live pledges on a project; the
// project-deletion precondition requires zero.
func (r *Repository) CountPositiveSharesByProject(ctx context.Context, projectID string) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM project_quota_shares WHERE project_id = $1 AND quantity > 0`, projectID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SetProjectShare applies the set-semantics mutation: one row per
// (user, project, type), updated to the target quantity, deleted at zero.
//
// The conservation check runs inside the transaction against rows locked
// with FOR UPDATE, so two concurrent shares from the same user serialize
// instead of both passing a stale pre-check. Zeroing always passes: it only
// returns capacity, and member removal depends on it succeeding even when
// the user is in deficit.
func (r *Repository) SetProjectShare(ctx context.Context, share *domain.ProjectQuotaShare) (repository.ShareUpdate, error) {
	return r.setShare(ctx, share, true)
}

// ForceSetProjectShare restores a share quantity without the conservation
// check. Used to roll the ledger back after an external sync rejection.
func (r *Repository) ForceSetProjectShare(ctx context.Context, share *domain.ProjectQuotaShare) (repository.ShareUpdate, error) {
	return r.setShare(ctx, share, false)
}

func (r *Repository) setShare(ctx context.Context, share *domain.ProjectQuotaShare, checked bool) (repository.ShareUpdate, error) {
	if share == nil || share.Quantity < 0 {
		return repository.ShareUpdate{}, repository.ErrInvalidArgument
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return repository.ShareUpdate{}, err
	}
	defer tx.Rollback(ctx)

	owned, err := lockedSum(ctx, tx,
		`SELECT COALESCE(SUM(quantity), 0) FROM (
			SELECT quantity FROM owned_quota_grants
			WHERE user_id = $1 AND resource_type = $2 FOR UPDATE
		) g`, share.UserID, share.Type)
	if err != nil {
		return repository.ShareUpdate{}, err
	}
	sharedOut, err := lockedSum(ctx, tx,
		`SELECT COALESCE(SUM(quantity), 0) FROM (
			SELECT quantity FROM project_quota_shares
			WHERE user_id = $1 AND resource_type = $2 FOR UPDATE
		) s`, share.UserID, share.Type)
	if err != nil {
		return repository.ShareUpdate{}, err
	}

	var previous int64
	err = tx.QueryRow(ctx,
		`SELECT quantity FROM project_quota_shares
		WHERE user_id = $1 AND project_id = $2 AND resource_type = $3`,
		share.UserID, share.ProjectID, share.Type).Scan(&previous)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return repository.ShareUpdate{}, err
	}

	if checked && share.Quantity > 0 {
		available := owned - sharedOut
		if available+previous < share.Quantity {
			return repository.ShareUpdate{}, repository.ErrInsufficientQuota
		}
	}

	switch {
	case share.Quantity == 0:
		if _, err := tx.Exec(ctx,
			`DELETE FROM project_quota_shares
			WHERE user_id = $1 AND project_id = $2 AND resource_type = $3`,
			share.UserID, share.ProjectID, share.Type); err != nil {
			return repository.ShareUpdate{}, err
		}
	default:
		if share.ID == "" {
			share.ID = uuid.NewString()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO project_quota_shares (id, user_id, project_id, resource_type, quantity, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, project_id, resource_type)
			DO UPDATE SET quantity = EXCLUDED.quantity, comment = EXCLUDED.comment`,
			share.ID, share.UserID, share.ProjectID, share.Type, share.Quantity, share.Comment, share.CreatedAt); err != nil {
			return repository.ShareUpdate{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return repository.ShareUpdate{}, err
	}
	return repository.ShareUpdate{Previous: previous, Current: share.Quantity}, nil
}

func lockedSum(ctx context.Context, tx pgx.Tx, query string, args ...any) (int64, error) {
	var total int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
