package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/alertflow/internal/domain"
)

type pgRoleRepository struct {
	pool *pgxpool.Pool
}

// NewPgRoleRepository returns a RoleRepository backed by PostgreSQL.
func NewPgRoleRepository(pool *pgxpool.Pool) RoleRepository {
	return &pgRoleRepository{pool: pool}
}

func (r *pgRoleRepository) Assign(ctx context.Context, a *domain.RoleAssignment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_assignments (role, user_id, subject_user_id, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (role, (COALESCE(subject_user_id, ''))) DO UPDATE SET
			user_id    = EXCLUDED.user_id,
			created_at = EXCLUDED.created_at`,
		a.Role, a.UserID, a.SubjectUserID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (r *pgRoleRepository) Resolve(ctx context.Context, role, subjectUserID string) (string, error) {
	var userID string
	err := r.pool.QueryRow(ctx, `
		SELECT user_id FROM role_assignments
		WHERE role = $1 AND (subject_user_id = $2 OR subject_user_id IS NULL)
		ORDER BY subject_user_id IS NULL ASC, created_at DESC
		LIMIT 1`, role, subjectUserID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrRoleUnassigned
	}
	if err != nil {
		return "", fmt.Errorf("resolve role: %w", err)
	}
	return userID, nil
}

func (r *pgRoleRepository) RoleOf(ctx context.Context, userID string) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT role FROM role_assignments
		WHERE user_id = $1
		ORDER BY created_at ASC
		LIMIT 1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("role of user: %w", err)
	}
	return role, nil
}
