package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/alertflow/internal/domain"
)

type pgRateLimitRepository struct {
	pool *pgxpool.Pool
}

// NewPgRateLimitRepository returns a RateLimitRepository backed by the
// rate_limit_requests table.
func NewPgRateLimitRepository(pool *pgxpool.Pool) RateLimitRepository {
	return &pgRateLimitRepository{pool: pool}
}

func (r *pgRateLimitRepository) CountSince(ctx context.Context, clientID, endpoint string, since int64) (int, int64, error) {
	var (
		count  int
		oldest int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MIN(ts), 0)
		FROM rate_limit_requests
		WHERE client_id = $1 AND endpoint = $2 AND ts >= $3`,
		clientID, endpoint, since).Scan(&count, &oldest)
	if err != nil {
		return 0, 0, fmt.Errorf("count rate limit requests: %w", err)
	}
	return count, oldest, nil
}

func (r *pgRateLimitRepository) Record(ctx context.Context, req domain.RateLimitRequest) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rate_limit_requests (client_id, endpoint, ts) VALUES ($1, $2, $3)`,
		req.ClientID, req.Endpoint, req.Timestamp)
	if err != nil {
		return fmt.Errorf("record rate limit request: %w", err)
	}
	return nil
}

func (r *pgRateLimitRepository) Prune(ctx context.Context, before int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_requests WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune rate limit requests: %w", err)
	}
	return tag.RowsAffected(), nil
}
