package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/alertflow/internal/domain"
)

type pgPreferencesRepository struct {
	pool *pgxpool.Pool
}

// NewPgPreferencesRepository returns a PreferencesRepository backed by PostgreSQL.
func NewPgPreferencesRepository(pool *pgxpool.Pool) PreferencesRepository {
	return &pgPreferencesRepository{pool: pool}
}

func (r *pgPreferencesRepository) Get(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	var p domain.NotificationPreferences
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, quiet_hours, weekend_mode, vacation_mode, vacation_delegate_id,
		       digest_enabled, type_channels, priority_channels, created_at, updated_at
		FROM notification_preferences WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.QuietHours, &p.WeekendMode, &p.VacationMode, &p.VacationDelegate,
		&p.DigestEnabled, &p.TypeChannels, &p.PriorityChannels, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &p, nil
}

func (r *pgPreferencesRepository) Upsert(ctx context.Context, p *domain.NotificationPreferences) error {
	typeChannels := p.TypeChannels
	if typeChannels == nil {
		typeChannels = map[domain.NotificationType][]domain.Channel{}
	}
	priorityChannels := p.PriorityChannels
	if priorityChannels == nil {
		priorityChannels = map[domain.Priority][]domain.Channel{}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_preferences
			(user_id, quiet_hours, weekend_mode, vacation_mode, vacation_delegate_id,
			 digest_enabled, type_channels, priority_channels, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id) DO UPDATE SET
			quiet_hours          = EXCLUDED.quiet_hours,
			weekend_mode         = EXCLUDED.weekend_mode,
			vacation_mode        = EXCLUDED.vacation_mode,
			vacation_delegate_id = EXCLUDED.vacation_delegate_id,
			digest_enabled       = EXCLUDED.digest_enabled,
			type_channels        = EXCLUDED.type_channels,
			priority_channels    = EXCLUDED.priority_channels,
			updated_at           = EXCLUDED.updated_at`,
		p.UserID, p.QuietHours, p.WeekendMode, p.VacationMode, p.VacationDelegate,
		p.DigestEnabled, typeChannels, priorityChannels, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
