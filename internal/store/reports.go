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

const reportColumns = `
	id, report_date, category, observed_at, lat, lon, county, state,
	magnitude, unknown_magnitude, comments, content_hash, ingested_at`

// InsertReport stores a storm report if its content hash is unseen.
// A duplicate hash is a silent no-op, not an error; the bool reports
// whether a row was actually inserted.
func (s *Store) InsertReport(ctx context.Context, r *domain.StormReport) (bool, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ContentHash == "" {
		r.ContentHash = domain.ReportContentHash(*r)
	}

	query := `
		INSERT INTO storm_reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id;
	`

	err := s.pool.QueryRow(ctx, query,
		r.ID, r.Date, r.Category, r.Time, r.Lat, r.Lon, r.County, r.State,
		r.Magnitude, r.UnknownMag, r.Comments, r.ContentHash, r.IngestedAt,
	).Scan(&r.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert storm report: %w", err)
	}
	return true, nil
}

// GetReport loads one storm report by internal id.
func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (domain.StormReport, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM storm_reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StormReport{}, ErrNotFound
	}
	return r, err
}

// ReportsByStateAndWindow returns reports in the given state observed
// within [from, to]. This is the candidate bound for matching an alert.
func (s *Store) ReportsByStateAndWindow(ctx context.Context, state string, from, to time.Time) ([]domain.StormReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM storm_reports
		WHERE state = $1 AND observed_at BETWEEN $2 AND $3
		ORDER BY observed_at`,
		state, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query report candidates: %w", err)
	}
	defer rows.Close()

	var reports []domain.StormReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report candidate: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func scanReport(row pgx.Row) (domain.StormReport, error) {
	var r domain.StormReport
	err := row.Scan(
		&r.ID, &r.Date, &r.Category, &r.Time, &r.Lat, &r.Lon, &r.County, &r.State,
		&r.Magnitude, &r.UnknownMag, &r.Comments, &r.ContentHash, &r.IngestedAt,
	)
	return r, err
}
