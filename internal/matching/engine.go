// Package matching cross-verifies alerts against ground-truth storm
// reports, producing confidence-scored links and flipping alerts to
// verified once a link clears the threshold.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/observability"
)

// Confidence is a weighted blend of three signals. Spatial agreement
// dominates: a report inside the alert polygon is the strongest evidence
// the warned event happened.
const (
	spatialWeight  = 0.5
	temporalWeight = 0.3
	magWeight      = 0.2
)

// Spatial sub-scores by how precisely the report location agrees.
const (
	scoreContained = 1.0
	scoreCounty    = 0.75
	scoreState     = 0.25
)

// Store is the persistence surface the engine needs.
type Store interface {
	AlertsByStateAndWindow(ctx context.Context, state string, from, to time.Time) ([]domain.AlertRecord, error)
	ReportsByStateAndWindow(ctx context.Context, state string, from, to time.Time) ([]domain.StormReport, error)
	UpsertLink(ctx context.Context, l *domain.VerificationLink) (bool, error)
	MarkAlertVerified(ctx context.Context, id uuid.UUID) (bool, error)
}

// Enqueuer hands new links to the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, triggers []domain.Trigger) error
}

// Engine matches freshly ingested records against the opposite feed.
type Engine struct {
	store     Store
	enqueuer  Enqueuer
	tolerance time.Duration
	threshold float64
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewEngine creates a matching engine. tolerance widens the candidate
// time window on both sides; threshold is the minimum confidence that
// marks an alert verified.
func NewEngine(store Store, enqueuer Enqueuer, tolerance time.Duration, threshold float64, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:     store,
		enqueuer:  enqueuer,
		tolerance: tolerance,
		threshold: threshold,
		logger:    logger,
		metrics:   metrics,
	}
}

// MatchAlert scores a newly stored alert against reports already in the
// window. Candidates are bounded by state and by the alert window padded
// with the tolerance.
func (e *Engine) MatchAlert(ctx context.Context, a domain.AlertRecord) ([]domain.VerificationLink, error) {
	if a.State == "" {
		return nil, nil
	}
	from, to := a.Window()
	candidates, err := e.store.ReportsByStateAndWindow(ctx, a.State, from.Add(-e.tolerance), to.Add(e.tolerance))
	if err != nil {
		return nil, fmt.Errorf("report candidates for alert %s: %w", a.ExternalID, err)
	}

	var links []domain.VerificationLink
	for _, report := range candidates {
		link, ok := e.evaluate(a, report)
		if !ok {
			continue
		}
		if err := e.persist(ctx, a.ID, &link); err != nil {
			return links, err
		}
		links = append(links, link)
	}
	return links, nil
}

// MatchReport scores a newly stored report against alerts whose padded
// windows cover the observation time.
func (e *Engine) MatchReport(ctx context.Context, r domain.StormReport) ([]domain.VerificationLink, error) {
	if r.State == "" {
		return nil, nil
	}
	candidates, err := e.store.AlertsByStateAndWindow(ctx, r.State, r.Time.Add(-e.tolerance), r.Time.Add(e.tolerance))
	if err != nil {
		return nil, fmt.Errorf("alert candidates for report %s: %w", r.ContentHash, err)
	}

	var links []domain.VerificationLink
	for _, alert := range candidates {
		link, ok := e.evaluate(alert, r)
		if !ok {
			continue
		}
		if err := e.persist(ctx, alert.ID, &link); err != nil {
			return links, err
		}
		links = append(links, link)
	}
	return links, nil
}

// evaluate scores one (alert, report) pair. Pairs with no spatial or no
// temporal agreement produce no link at all.
func (e *Engine) evaluate(a domain.AlertRecord, r domain.StormReport) (domain.VerificationLink, bool) {
	spatial, contained := spatialScore(a, r)
	temporal, overlap := e.temporalScore(a, r)
	if spatial == 0 || temporal == 0 {
		return domain.VerificationLink{}, false
	}

	confidence := spatialWeight*spatial + temporalWeight*temporal + magWeight*magnitudeScore(a.Magnitudes, r)

	return domain.VerificationLink{
		AlertID:            a.ID,
		ReportID:           r.ID,
		Confidence:         confidence,
		SpatialContainment: contained,
		TemporalOverlap:    overlap,
		CreatedAt:          domain.Now(),
	}, true
}

// persist upserts the link, re-enqueues it for rule evaluation, and
// flips the alert verified when the score clears the threshold.
func (e *Engine) persist(ctx context.Context, alertID uuid.UUID, link *domain.VerificationLink) error {
	if _, err := e.store.UpsertLink(ctx, link); err != nil {
		return err
	}
	e.metrics.LinksCreated.Inc()

	if err := e.enqueuer.Enqueue(ctx, []domain.Trigger{{
		Kind:       domain.KindLink,
		RecordID:   link.ID,
		Transition: domain.TransitionNewLink,
		EnqueuedAt: domain.Now(),
	}}); err != nil {
		e.logger.Error("enqueue link trigger failed", "link_id", link.ID, "error", err)
	}

	if link.Confidence >= e.threshold {
		flipped, err := e.store.MarkAlertVerified(ctx, alertID)
		if err != nil {
			return fmt.Errorf("mark alert verified: %w", err)
		}
		if flipped {
			e.metrics.AlertsVerified.Inc()
			e.logger.Info("alert verified",
				"alert_id", alertID, "report_id", link.ReportID,
				"confidence", link.Confidence)
		}
	}
	return nil
}

// spatialScore grades location agreement. Polygon containment is
// decisive; geometry-less alerts (and points outside the polygon) fall
// back to county, then state.
func spatialScore(a domain.AlertRecord, r domain.StormReport) (float64, bool) {
	if a.ContainsPoint(r.Lat, r.Lon) {
		return scoreContained, true
	}
	if r.County != "" {
		for _, county := range a.Counties {
			if strings.EqualFold(county, r.County) {
				return scoreCounty, false
			}
		}
	}
	if r.State != "" && strings.EqualFold(a.State, r.State) {
		return scoreState, false
	}
	return 0, false
}

// temporalScore is 1 inside the alert window and decays linearly to 0
// across the tolerance outside it.
func (e *Engine) temporalScore(a domain.AlertRecord, r domain.StormReport) (float64, bool) {
	from, to := a.Window()
	if !r.Time.Before(from) && !r.Time.After(to) {
		return 1, true
	}

	var gap time.Duration
	if r.Time.Before(from) {
		gap = from.Sub(r.Time)
	} else {
		gap = r.Time.Sub(to)
	}
	if e.tolerance <= 0 || gap >= e.tolerance {
		return 0, false
	}
	return 1 - float64(gap)/float64(e.tolerance), false
}

// magnitudeScore grades how well the observed magnitude backs the
// alert's radar-indicated one: full credit at or above it, proportional
// credit below, and a neutral 0.5 when either side has no comparable
// signal.
func magnitudeScore(m domain.Magnitudes, r domain.StormReport) float64 {
	if r.UnknownMag {
		return 0.5
	}
	switch r.Category {
	case domain.CategoryHail:
		if !m.HailDetected || m.HailInches == nil || *m.HailInches <= 0 {
			return 0.5
		}
		return ratioScore(r.Magnitude, *m.HailInches)
	case domain.CategoryWind:
		if !m.WindDetected || m.WindMPH == nil || *m.WindMPH <= 0 {
			return 0.5
		}
		return ratioScore(r.Magnitude, *m.WindMPH)
	default:
		// Tornado reports have no alert-side magnitude to compare.
		return 0.5
	}
}

func ratioScore(observed, predicted float64) float64 {
	if observed >= predicted {
		return 1
	}
	if observed <= 0 {
		return 0
	}
	return observed / predicted
}
