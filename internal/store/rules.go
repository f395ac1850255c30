package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/storm-watch/internal/domain"
)

const ruleColumns = `
	id, name, states, counties, area_codes, min_hail_inches, min_wind_mph,
	event_types, endpoint, active, created_at, updated_at`

// ListActiveRules returns the rules the dispatch engine evaluates.
func (s *Store) ListActiveRules(ctx context.Context) ([]domain.NotificationRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM notification_rules WHERE active ORDER BY created_at`)
}

// ListRules returns all rules for the administrative surface.
func (s *Store) ListRules(ctx context.Context) ([]domain.NotificationRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM notification_rules ORDER BY created_at`)
}

// GetRule loads one rule by id.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (domain.NotificationRule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM notification_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotificationRule{}, ErrNotFound
	}
	return r, err
}

// CreateRule inserts a new notification rule.
func (s *Store) CreateRule(ctx context.Context, r *domain.NotificationRule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Name, textArray(r.States), textArray(r.Counties), textArray(r.AreaCodes),
		r.MinHailInches, r.MinWindMPH, textArray(r.EventTypes),
		r.Endpoint, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule's definition.
func (s *Store) UpdateRule(ctx context.Context, r *domain.NotificationRule) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_rules SET
			name = $2, states = $3, counties = $4, area_codes = $5,
			min_hail_inches = $6, min_wind_mph = $7, event_types = $8,
			endpoint = $9, active = $10, updated_at = $11
		WHERE id = $1`,
		r.ID, r.Name, textArray(r.States), textArray(r.Counties), textArray(r.AreaCodes),
		r.MinHailInches, r.MinWindMPH, textArray(r.EventTypes),
		r.Endpoint, r.Active, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule deactivates a rule. Rules are never hard-deleted so existing
// delivery audit rows keep a valid reference.
func (s *Store) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notification_rules SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryRules(ctx context.Context, query string) ([]domain.NotificationRule, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.NotificationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (domain.NotificationRule, error) {
	var r domain.NotificationRule
	err := row.Scan(
		&r.ID, &r.Name, &r.States, &r.Counties, &r.AreaCodes,
		&r.MinHailInches, &r.MinWindMPH, &r.EventTypes,
		&r.Endpoint, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}
