package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/storm-watch/internal/domain"
)

// UpsertLink stores a verification link keyed by the (alert, report) pair.
// Re-matching the same pair supersedes the existing link's score and flags
// instead of creating a duplicate. Returns true when the pair was new.
func (s *Store) UpsertLink(ctx context.Context, l *domain.VerificationLink) (bool, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	query := `
		INSERT INTO verification_links
			(id, alert_id, report_id, confidence, spatial_containment, temporal_overlap, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id, report_id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			spatial_containment = EXCLUDED.spatial_containment,
			temporal_overlap = EXCLUDED.temporal_overlap
		RETURNING id, created_at, (xmax = 0) AS inserted;
	`

	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		l.ID, l.AlertID, l.ReportID, l.Confidence,
		l.SpatialContainment, l.TemporalOverlap, l.CreatedAt,
	).Scan(&l.ID, &l.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert verification link: %w", err)
	}
	return inserted, nil
}

// GetLink fetches one verification link by id.
func (s *Store) GetLink(ctx context.Context, id uuid.UUID) (domain.VerificationLink, error) {
	var l domain.VerificationLink
	err := s.pool.QueryRow(ctx, `
		SELECT id, alert_id, report_id, confidence, spatial_containment, temporal_overlap, created_at
		FROM verification_links
		WHERE id = $1`,
		id,
	).Scan(&l.ID, &l.AlertID, &l.ReportID, &l.Confidence,
		&l.SpatialContainment, &l.TemporalOverlap, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VerificationLink{}, ErrNotFound
	}
	if err != nil {
		return domain.VerificationLink{}, fmt.Errorf("get verification link: %w", err)
	}
	return l, nil
}

// LinksForAlert returns all links for one alert, strongest first.
func (s *Store) LinksForAlert(ctx context.Context, alertID uuid.UUID) ([]domain.VerificationLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, alert_id, report_id, confidence, spatial_containment, temporal_overlap, created_at
		FROM verification_links
		WHERE alert_id = $1
		ORDER BY confidence DESC`,
		alertID,
	)
	if err != nil {
		return nil, fmt.Errorf("query links for alert: %w", err)
	}
	defer rows.Close()

	var links []domain.VerificationLink
	for rows.Next() {
		var l domain.VerificationLink
		if err := rows.Scan(
			&l.ID, &l.AlertID, &l.ReportID, &l.Confidence,
			&l.SpatialContainment, &l.TemporalOverlap, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan verification link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
