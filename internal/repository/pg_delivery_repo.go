package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/notifyhub/alertflow/internal/domain"
)

const deliveryColumns = `
	id, notification_id, channel, priority, status, attempts, max_attempts,
	next_attempt_at, provider_msg_id, last_error, sent_at, created_at, updated_at`

func (r *pgNotificationRepository) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

func (r *pgNotificationRepository) ListDeliveries(ctx context.Context, notificationID string) ([]*domain.Delivery, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+`
		FROM deliveries WHERE notification_id = $1 ORDER BY created_at ASC, channel ASC`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (r *pgNotificationRepository) UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deliveries SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	return err
}

func (r *pgNotificationRepository) MarkDeliverySent(ctx context.Context, id, providerMsgID string, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = 'sent', attempts = attempts + 1, provider_msg_id = $1, sent_at = $2,
		    last_error = NULL, next_attempt_at = NULL, updated_at = $2
		WHERE id = $3`, providerMsgID, sentAt, id)
	return err
}

func (r *pgNotificationRepository) ScheduleDeliveryRetry(ctx context.Context, id string, attempts int, next time.Time, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = 'failed', attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4`, attempts, next, errMsg, id)
	return err
}

func (r *pgNotificationRepository) MarkDeliveryFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = 'failed', attempts = $1, last_error = $2, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $3`, attempts, errMsg, id)
	return err
}

func (r *pgNotificationRepository) FindDueRetries(ctx context.Context, now time.Time) ([]*domain.Delivery, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE status = 'failed'
		  AND attempts < max_attempts
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= $1
		LIMIT 500`, now)
	if err != nil {
		return nil, fmt.Errorf("find due retries: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func (r *pgNotificationRepository) FindDueScheduled(ctx context.Context, now time.Time) ([]*domain.Delivery, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE status = 'scheduled'
		  AND next_attempt_at <= $1
		LIMIT 500`, now)
	if err != nil {
		return nil, fmt.Errorf("find due scheduled: %w", err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func insertDelivery(ctx context.Context, q execer, d *domain.Delivery) error {
	_, err := q.Exec(ctx, `
		INSERT INTO deliveries
			(id, notification_id, channel, priority, status, attempts, max_attempts,
			 next_attempt_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.NotificationID, d.Channel, d.Priority, d.Status, d.Attempts, d.MaxAttempts,
		d.NextAttemptAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var d domain.Delivery
	err := row.Scan(
		&d.ID, &d.NotificationID, &d.Channel, &d.Priority, &d.Status, &d.Attempts, &d.MaxAttempts,
		&d.NextAttemptAt, &d.ProviderMsgID, &d.LastError, &d.SentAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanDeliveries(rows pgx.Rows) ([]*domain.Delivery, error) {
	var result []*domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
