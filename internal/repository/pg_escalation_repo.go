package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/alertflow/internal/domain"
)

type pgEscalationRepository struct {
	pool *pgxpool.Pool
}

// NewPgEscalationRepository returns an EscalationRepository backed by PostgreSQL.
func NewPgEscalationRepository(pool *pgxpool.Pool) EscalationRepository {
	return &pgEscalationRepository{pool: pool}
}

func (r *pgEscalationRepository) GetRule(ctx context.Context, entityType, triggerEvent string) (*domain.EscalationRule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, entity_type, trigger_event, delay_hours, escalation_chain, active, created_at, updated_at
		FROM escalation_rules
		WHERE entity_type = $1 AND trigger_event = $2 AND active`, entityType, triggerEvent)

	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRuleNotFound
	}
	return rule, err
}

func (r *pgEscalationRepository) ListRules(ctx context.Context) ([]*domain.EscalationRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, entity_type, trigger_event, delay_hours, escalation_chain, active, created_at, updated_at
		FROM escalation_rules ORDER BY entity_type, trigger_event`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.EscalationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpsertRule inserts r or replaces the rule with the same entity type and
// trigger event. r.ID is overwritten with the stored id.
func (r *pgEscalationRepository) UpsertRule(ctx context.Context, rule *domain.EscalationRule) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO escalation_rules
			(id, entity_type, trigger_event, delay_hours, escalation_chain, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (entity_type, trigger_event) DO UPDATE SET
			delay_hours      = EXCLUDED.delay_hours,
			escalation_chain = EXCLUDED.escalation_chain,
			active           = EXCLUDED.active,
			updated_at       = EXCLUDED.updated_at
		RETURNING id, created_at`,
		rule.ID, rule.EntityType, rule.TriggerEvent, rule.DelayHours, rule.EscalationChain,
		rule.Active, rule.CreatedAt, rule.UpdatedAt,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

func (r *pgEscalationRepository) RecordHistory(ctx context.Context, h *domain.EscalationHistory) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escalation_history
			(id, root_id, notification_id, escalated_notification_id, rule_id,
			 from_user_id, to_user_id, escalation_level, reason, outcome, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		h.ID, h.RootID, h.NotificationID, h.EscalatedNotificationID, h.RuleID,
		h.FromUserID, h.ToUserID, h.EscalationLevel, h.Reason, h.Outcome, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation history: %w", err)
	}
	return nil
}

func (r *pgEscalationRepository) ListHistory(ctx context.Context, rootID string) ([]*domain.EscalationHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, root_id, notification_id, escalated_notification_id, rule_id,
		       from_user_id, to_user_id, escalation_level, reason, outcome, created_at
		FROM escalation_history
		WHERE root_id = $1
		ORDER BY created_at ASC`, rootID)
	if err != nil {
		return nil, fmt.Errorf("list escalation history: %w", err)
	}
	defer rows.Close()

	var history []*domain.EscalationHistory
	for rows.Next() {
		var h domain.EscalationHistory
		if err := rows.Scan(
			&h.ID, &h.RootID, &h.NotificationID, &h.EscalatedNotificationID, &h.RuleID,
			&h.FromUserID, &h.ToUserID, &h.EscalationLevel, &h.Reason, &h.Outcome, &h.CreatedAt,
		); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (r *pgEscalationRepository) HasFailedAttempt(ctx context.Context, rootID string, level int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM escalation_history
			WHERE root_id = $1 AND escalation_level = $2 AND outcome = 'failed')`,
		rootID, level).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check failed attempt: %w", err)
	}
	return exists, nil
}

func scanRule(row pgx.Row) (*domain.EscalationRule, error) {
	var rule domain.EscalationRule
	err := row.Scan(
		&rule.ID, &rule.EntityType, &rule.TriggerEvent, &rule.DelayHours,
		&rule.EscalationChain, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
