package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/storm-watch/internal/domain"
)

const alertColumns = `
	id, external_id, event, severity, urgency, certainty,
	effective, expires, sent, headline, description, geometry,
	hail_inches, hail_detected, wind_mph, wind_detected,
	state, counties, area_codes, verified, ingested_at`

// UpsertAlert stores an alert by its external identifier. A new identifier
// inserts; an existing one updates only when the incoming sent timestamp is
// newer or equal, so replayed older payloads never regress stored data. The
// verification flag is preserved across updates. Returns the applied
// transition and false when the payload was stale.
func (s *Store) UpsertAlert(ctx context.Context, a *domain.AlertRecord) (domain.Transition, bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (external_id) DO UPDATE SET
			event = EXCLUDED.event,
			severity = EXCLUDED.severity,
			urgency = EXCLUDED.urgency,
			certainty = EXCLUDED.certainty,
			effective = EXCLUDED.effective,
			expires = EXCLUDED.expires,
			sent = EXCLUDED.sent,
			headline = EXCLUDED.headline,
			description = EXCLUDED.description,
			geometry = EXCLUDED.geometry,
			hail_inches = EXCLUDED.hail_inches,
			hail_detected = EXCLUDED.hail_detected,
			wind_mph = EXCLUDED.wind_mph,
			wind_detected = EXCLUDED.wind_detected,
			state = EXCLUDED.state,
			counties = EXCLUDED.counties,
			area_codes = EXCLUDED.area_codes,
			ingested_at = EXCLUDED.ingested_at
		WHERE EXCLUDED.sent >= alerts.sent
		RETURNING id, verified, (xmax = 0) AS inserted;
	`

	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		a.ID, a.ExternalID, a.Event, a.Severity, a.Urgency, a.Certainty,
		a.Effective, a.Expires, a.Sent, a.Headline, a.Description, rawOrNil(a.RawGeometry),
		a.Magnitudes.HailInches, a.Magnitudes.HailDetected,
		a.Magnitudes.WindMPH, a.Magnitudes.WindDetected,
		a.State, textArray(a.Counties), textArray(a.AreaCodes), a.Verified, a.IngestedAt,
	).Scan(&a.ID, &a.Verified, &inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict row carried a newer sent timestamp: stale replay, no-op.
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("upsert alert %s: %w", a.ExternalID, err)
	}

	if inserted {
		return domain.TransitionInsert, true, nil
	}
	return domain.TransitionUpdate, true, nil
}

// GetAlert loads one alert by internal id.
func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (domain.AlertRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AlertRecord{}, ErrNotFound
	}
	return a, err
}

// AlertsByStateAndWindow returns alerts in the given state whose
// [effective, expires] window overlaps [from, to]. This is the candidate
// bound for matching a storm report before any geometry test.
func (s *Store) AlertsByStateAndWindow(ctx context.Context, state string, from, to time.Time) ([]domain.AlertRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE state = $1 AND effective <= $3 AND expires >= $2
		ORDER BY sent DESC`,
		state, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query alert candidates: %w", err)
	}
	defer rows.Close()

	var alerts []domain.AlertRecord
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert candidate: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkAlertVerified flips the verification flag. Returns false when the
// alert was already verified, making repeated matching idempotent.
func (s *Store) MarkAlertVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET verified = TRUE WHERE id = $1 AND NOT verified`, id)
	if err != nil {
		return false, fmt.Errorf("mark alert verified: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanAlert(row pgx.Row) (domain.AlertRecord, error) {
	var a domain.AlertRecord
	var geometry []byte
	err := row.Scan(
		&a.ID, &a.ExternalID, &a.Event, &a.Severity, &a.Urgency, &a.Certainty,
		&a.Effective, &a.Expires, &a.Sent, &a.Headline, &a.Description, &geometry,
		&a.Magnitudes.HailInches, &a.Magnitudes.HailDetected,
		&a.Magnitudes.WindMPH, &a.Magnitudes.WindDetected,
		&a.State, &a.Counties, &a.AreaCodes, &a.Verified, &a.IngestedAt,
	)
	if err != nil {
		return domain.AlertRecord{}, err
	}
	a.RawGeometry = geometry
	a.Geometry = domain.DecodeGeometry(geometry)
	return a, nil
}

func rawOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
