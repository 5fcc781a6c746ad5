package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LaboInfra/fob-api/internal/domain"
	"github.com/LaboInfra/fob-api/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository    = (*Repository)(nil)
	_ repository.ProjectRepository = (*Repository)(nil)
	_ repository.QuotaRepository   = (*Repository)(nil)
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, username, email, password_hash, is_admin, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.IsAdmin, user.Disabled, user.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrInvalidArgument
	}
	return err
}

const userColumns = `id, username, email, password_hash, is_admin, disabled, last_synced_at, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.Disabled, &u.LastSyncedAt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByUsername retrieves a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// ListUsers returns every user ordered by creation time.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.Disabled, &u.LastSyncedAt, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserPassword replaces a user's password hash.
func (r *Repository) UpdateUserPassword(ctx context.Context, userID string, hash []byte) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// TouchUserSync stamps the last successful provisioning of the user in the
// cloud control plane.
func (r *Repository) TouchUserSync(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_synced_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user row.
func (r *Repository) DeleteUser(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreatePasswordReset stores a reset token.
func (r *Repository) CreatePasswordReset(ctx context.Context, reset *domain.PasswordReset) error {
	const query = `INSERT INTO password_resets (id, user_id, token, source_ip, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, reset.ID, reset.UserID, reset.Token, reset.SourceIP, reset.CreatedAt, reset.ExpiresAt)
	return err
}

// GetPasswordReset looks a reset request up by token.
func (r *Repository) GetPasswordReset(ctx context.Context, token string) (*domain.PasswordReset, error) {
	const query = `SELECT id, user_id, token, source_ip, created_at, expires_at FROM password_resets WHERE token = $1`
	row := r.pool.QueryRow(ctx, query, token)
	var reset domain.PasswordReset
	if err := row.Scan(&reset.ID, &reset.UserID, &reset.Token, &reset.SourceIP, &reset.CreatedAt, &reset.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &reset, nil
}

// DeletePasswordReset consumes a reset token.
func (r *Repository) DeletePasswordReset(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM password_resets WHERE id = $1`, id)
	return err
}
