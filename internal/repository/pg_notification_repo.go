package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/alertflow/internal/domain"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const notificationColumns = `
	id, user_id, title, message, type, priority, priority_score, priority_factors,
	channels, status, metadata, actions, deep_link, idempotency_key,
	entity_type, trigger_event, scheduled_for, deadline, sent_at, delivered_at,
	read_at, acted_at, expires_at, root_id, is_escalated, escalated_from,
	escalation_level, next_escalation_at, is_digest, digest_items, digest_id, deferred,
	created_at, updated_at`

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification, deliveries []*domain.Delivery) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertNotification(ctx, tx, n); err != nil {
		return err
	}
	for _, d := range deliveries {
		if err := insertDelivery(ctx, tx, d); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE idempotency_key = $1`, key)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	// Count total matching rows for pagination metadata.
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM notifications%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, notificationColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return notifications, total, err
}

// statusColumns maps a status to the timestamp column stamped on entry.
var statusColumns = map[domain.Status]string{
	domain.StatusSent:      "sent_at",
	domain.StatusDelivered: "delivered_at",
	domain.StatusRead:      "read_at",
	domain.StatusActed:     "acted_at",
}

func (r *pgNotificationRepository) Transition(ctx context.Context, id string, from, to domain.Status, at time.Time) error {
	query := `UPDATE notifications SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	if col, ok := statusColumns[to]; ok {
		query = fmt.Sprintf(`UPDATE notifications
			SET status = $1, %[1]s = COALESCE(%[1]s, $2), updated_at = $2
			WHERE id = $3 AND status = $4`, col)
	}

	tag, err := r.pool.Exec(ctx, query, to, at, id, from)
	if err != nil {
		return fmt.Errorf("transition notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrIllegalStatus
	}
	return nil
}

func (r *pgNotificationRepository) ListLineage(ctx context.Context, rootID string) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+`
		FROM notifications
		WHERE root_id = $1
		ORDER BY escalation_level ASC, created_at ASC`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list lineage: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// FindEscalationRoots returns roots whose next escalation check is due,
// earliest first. Finished lineages carry a NULL next_escalation_at and
// never reach the batch.
func (r *pgNotificationRepository) FindEscalationRoots(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+`
		FROM notifications n
		WHERE n.escalation_level = 0
		  AND n.next_escalation_at IS NOT NULL
		  AND n.next_escalation_at <= $1
		ORDER BY n.next_escalation_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find escalation roots: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) ScheduleEscalation(ctx context.Context, rootID string, next *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET next_escalation_at = $1, updated_at = NOW()
		WHERE id = $2 AND escalation_level = 0`, next, rootID)
	if err != nil {
		return fmt.Errorf("schedule escalation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgNotificationRepository) FindDeferred(ctx context.Context, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+notificationColumns+`
		FROM notifications
		WHERE deferred AND digest_id IS NULL AND NOT is_digest AND status = 'pending'
		ORDER BY user_id, created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("find deferred: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) CreateDigest(ctx context.Context, digest *domain.Notification, deliveries []*domain.Delivery, memberIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertNotification(ctx, tx, digest); err != nil {
		return err
	}
	for _, d := range deliveries {
		if err := insertDelivery(ctx, tx, d); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE notifications
		SET digest_id = $1, status = 'sent', sent_at = COALESCE(sent_at, $2), updated_at = $2
		WHERE id = ANY($3) AND status = 'pending' AND digest_id IS NULL`,
		digest.ID, digest.CreatedAt, memberIDs)
	if err != nil {
		return fmt.Errorf("attach digest members: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit digest: %w", err)
	}
	return nil
}

// ---- helpers ----

func insertNotification(ctx context.Context, q execer, n *domain.Notification) error {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	actions := n.Actions
	if actions == nil {
		actions = []domain.Action{}
	}
	items := n.DigestItems
	if items == nil {
		items = []domain.DigestItem{}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
		        $18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34)`,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.Priority, n.PriorityScore, n.PriorityFactors,
		channelStrings(n.Channels), n.Status, metadata, actions, n.DeepLink, n.IdempotencyKey,
		n.EntityType, n.TriggerEvent, n.ScheduledFor, n.Deadline, n.SentAt, n.DeliveredAt,
		n.ReadAt, n.ActedAt, n.ExpiresAt, n.RootID, n.IsEscalated, n.EscalatedFrom,
		n.EscalationLevel, n.NextEscalationAt, n.IsDigest, items, n.DigestID, n.Deferred,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch {
			case strings.Contains(pgErr.ConstraintName, "idempotency_key"):
				return domain.ErrConflict
			case strings.Contains(pgErr.ConstraintName, "lineage_level"):
				return domain.ErrLineageLevelTaken
			}
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// scanNotification reads a single notification row from any pgx row type.
func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n        domain.Notification
		channels []string
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Priority, &n.PriorityScore, &n.PriorityFactors,
		&channels, &n.Status, &n.Metadata, &n.Actions, &n.DeepLink, &n.IdempotencyKey,
		&n.EntityType, &n.TriggerEvent, &n.ScheduledFor, &n.Deadline, &n.SentAt, &n.DeliveredAt,
		&n.ReadAt, &n.ActedAt, &n.ExpiresAt, &n.RootID, &n.IsEscalated, &n.EscalatedFrom,
		&n.EscalationLevel, &n.NextEscalationAt, &n.IsDigest, &n.DigestItems, &n.DigestID, &n.Deferred,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Channels = make([]domain.Channel, len(channels))
	for i, c := range channels {
		n.Channels[i] = domain.Channel(c)
	}
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func channelStrings(chans []domain.Channel) []string {
	out := make([]string, len(chans))
	for i, c := range chans {
		out[i] = string(c)
	}
	return out
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Type != nil {
		add("type = $%d", *f.Type)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
