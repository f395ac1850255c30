package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/storm-watch/internal/domain"
)

// CreateDelivery registers one logical (rule, record, transition) trigger.
// The unique index makes this the idempotence gate: a trigger that was
// already registered returns false and must not be delivered again.
func (s *Store) CreateDelivery(ctx context.Context, d *domain.Delivery) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	query := `
		INSERT INTO deliveries
			(id, rule_id, record_kind, record_id, transition, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (rule_id, record_kind, record_id, transition) DO NOTHING
		RETURNING id;
	`

	err := s.pool.QueryRow(ctx, query,
		d.ID, d.RuleID, d.Kind, d.RecordID, d.Transition, d.Status, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create delivery: %w", err)
	}
	return true, nil
}

// SetDeliveryStatus moves a delivery to its terminal or retried state.
func (s *Store) SetDeliveryStatus(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deliveries SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set delivery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendAttempt records one delivery attempt. The audit trail is
// append-only; rows are never updated.
func (s *Store) AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts
			(id, delivery_id, attempt_num, attempted_at, outcome, response_code, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.DeliveryID, a.AttemptNum, a.At, a.Outcome, a.ResponseCode, a.Error,
	)
	if err != nil {
		return fmt.Errorf("append delivery attempt: %w", err)
	}
	return nil
}

// FailedDeliveries lists permanently failed deliveries for the operator
// view, most recent first.
func (s *Store) FailedDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, record_kind, record_id, transition, status, created_at, updated_at
		FROM deliveries
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		domain.DeliveryFailed, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		if err := rows.Scan(
			&d.ID, &d.RuleID, &d.Kind, &d.RecordID, &d.Transition,
			&d.Status, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
