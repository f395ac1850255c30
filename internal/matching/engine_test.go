package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/observability"
)

// --- fakes ---

type fakeStore struct {
	mu       sync.Mutex
	alerts   []domain.AlertRecord
	reports  []domain.StormReport
	links    map[string]domain.VerificationLink
	verified map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		links:    make(map[string]domain.VerificationLink),
		verified: make(map[uuid.UUID]bool),
	}
}

func pairKey(alertID, reportID uuid.UUID) string {
	return alertID.String() + "|" + reportID.String()
}

func (s *fakeStore) AlertsByStateAndWindow(_ context.Context, state string, from, to time.Time) ([]domain.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AlertRecord
	for _, a := range s.alerts {
		if a.State == state && !a.Effective.After(to) && !a.Expires.Before(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) ReportsByStateAndWindow(_ context.Context, state string, from, to time.Time) ([]domain.StormReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StormReport
	for _, r := range s.reports {
		if r.State == state && !r.Time.Before(from) && !r.Time.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertLink(_ context.Context, l *domain.VerificationLink) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(l.AlertID, l.ReportID)
	if existing, ok := s.links[key]; ok {
		l.ID = existing.ID
		l.CreatedAt = existing.CreatedAt
		s.links[key] = *l
		return false, nil
	}
	l.ID = uuid.New()
	s.links[key] = *l
	return true, nil
}

func (s *fakeStore) MarkAlertVerified(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verified[id] {
		return false, nil
	}
	s.verified[id] = true
	return true, nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	triggers []domain.Trigger
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, triggers []domain.Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggers = append(e.triggers, triggers...)
	return nil
}

// --- fixtures ---

var (
	windowStart = time.Date(2026, 4, 12, 15, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 4, 12, 16, 0, 0, 0, time.UTC)
)

// Square roughly covering western Denton County, TX.
func dentonPolygon() orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{-97.30, 33.00}, {-96.90, 33.00}, {-96.90, 33.40}, {-97.30, 33.40}, {-97.30, 33.00},
	}}}
}

func testAlert() domain.AlertRecord {
	hail := 1.75
	return domain.AlertRecord{
		ID:        uuid.New(),
		Event:     "Severe Thunderstorm Warning",
		Effective: windowStart,
		Expires:   windowEnd,
		Sent:      windowStart,
		Geometry:  dentonPolygon(),
		State:     "TX",
		Counties:  []string{"Denton"},
		Magnitudes: domain.Magnitudes{
			HailInches:   &hail,
			HailDetected: true,
		},
	}
}

func testReport(lat, lon float64, at time.Time) domain.StormReport {
	r := domain.StormReport{
		ID:        uuid.New(),
		Date:      time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC),
		Category:  domain.CategoryHail,
		Time:      at,
		Lat:       lat,
		Lon:       lon,
		County:    "Denton",
		State:     "TX",
		Magnitude: 1.75,
	}
	r.ContentHash = domain.ReportContentHash(r)
	return r
}

func newTestEngine(store *fakeStore, enq *fakeEnqueuer) *Engine {
	return NewEngine(store, enq, 30*time.Minute, 0.6, slog.Default(), observability.NewMetricsForTesting())
}

// --- tests ---

func TestMatchAlert_ContainmentBeatsCountyFallback(t *testing.T) {
	store := newFakeStore()
	enq := &fakeEnqueuer{}
	engine := newTestEngine(store, enq)

	inside := testReport(33.20, -97.10, windowStart.Add(10*time.Minute))
	outside := testReport(33.60, -97.10, windowStart.Add(10*time.Minute))
	store.reports = []domain.StormReport{inside, outside}

	alert := testAlert()
	links, err := engine.MatchAlert(context.Background(), alert)
	require.NoError(t, err)
	require.Len(t, links, 2)

	byReport := map[uuid.UUID]domain.VerificationLink{}
	for _, l := range links {
		byReport[l.ReportID] = l
	}

	in := byReport[inside.ID]
	out := byReport[outside.ID]
	assert.True(t, in.SpatialContainment)
	assert.False(t, out.SpatialContainment, "same county but outside the polygon")
	assert.Greater(t, in.Confidence, out.Confidence)
	assert.InDelta(t, 1.0, in.Confidence, 0.001, "containment, in-window, magnitude met")
}

func TestMatchAlert_ThresholdFlipsVerified(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeEnqueuer{})

	store.reports = []domain.StormReport{testReport(33.20, -97.10, windowStart.Add(10*time.Minute))}

	alert := testAlert()
	_, err := engine.MatchAlert(context.Background(), alert)
	require.NoError(t, err)
	assert.True(t, store.verified[alert.ID])
}

func TestMatchAlert_WeakLinkDoesNotVerify(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeEnqueuer{})

	// Wrong county, no polygon hit: state-level agreement only.
	weak := testReport(35.00, -101.80, windowStart.Add(10*time.Minute))
	weak.County = "Potter"
	weak.Magnitude = 0
	weak.UnknownMag = true
	store.reports = []domain.StormReport{weak}

	alert := testAlert()
	links, err := engine.MatchAlert(context.Background(), alert)
	require.NoError(t, err)
	require.Len(t, links, 1, "weak agreement still produces a link")
	assert.Less(t, links[0].Confidence, 0.6)
	assert.False(t, store.verified[alert.ID])
}

func TestMatchAlert_RematchSupersedesLink(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeEnqueuer{})

	store.reports = []domain.StormReport{testReport(33.20, -97.10, windowStart.Add(10*time.Minute))}

	alert := testAlert()
	_, err := engine.MatchAlert(context.Background(), alert)
	require.NoError(t, err)
	_, err = engine.MatchAlert(context.Background(), alert)
	require.NoError(t, err)

	assert.Len(t, store.links, 1, "re-matching the same pair supersedes, never duplicates")
}

func TestMatchReport_FindsCoveringAlert(t *testing.T) {
	store := newFakeStore()
	enq := &fakeEnqueuer{}
	engine := newTestEngine(store, enq)

	alert := testAlert()
	store.alerts = []domain.AlertRecord{alert}

	report := testReport(33.20, -97.10, windowStart.Add(10*time.Minute))
	links, err := engine.MatchReport(context.Background(), report)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, alert.ID, links[0].AlertID)

	require.Len(t, enq.triggers, 1)
	assert.Equal(t, domain.KindLink, enq.triggers[0].Kind)
	assert.Equal(t, domain.TransitionNewLink, enq.triggers[0].Transition)
}

func TestTemporalScore_DecaysOutsideWindow(t *testing.T) {
	engine := newTestEngine(newFakeStore(), &fakeEnqueuer{})
	alert := testAlert()

	tests := []struct {
		name    string
		at      time.Time
		score   float64
		overlap bool
	}{
		{"inside window", windowStart.Add(30 * time.Minute), 1.0, true},
		{"at expiry", windowEnd, 1.0, true},
		{"15m after expiry", windowEnd.Add(15 * time.Minute), 0.5, false},
		{"15m before effective", windowStart.Add(-15 * time.Minute), 0.5, false},
		{"at tolerance edge", windowEnd.Add(30 * time.Minute), 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := testReport(33.20, -97.10, tt.at)
			score, overlap := engine.temporalScore(alert, report)
			assert.InDelta(t, tt.score, score, 0.001)
			assert.Equal(t, tt.overlap, overlap)
		})
	}
}

func TestMagnitudeScore(t *testing.T) {
	hail := 2.0
	detected := domain.Magnitudes{HailInches: &hail, HailDetected: true}

	tests := []struct {
		name   string
		mags   domain.Magnitudes
		report domain.StormReport
		want   float64
	}{
		{"meets prediction", detected, domain.StormReport{Category: domain.CategoryHail, Magnitude: 2.5}, 1.0},
		{"half of prediction", detected, domain.StormReport{Category: domain.CategoryHail, Magnitude: 1.0}, 0.5},
		{"unknown magnitude is neutral", detected, domain.StormReport{Category: domain.CategoryHail, UnknownMag: true}, 0.5},
		{"no alert signal is neutral", domain.Magnitudes{}, domain.StormReport{Category: domain.CategoryHail, Magnitude: 2.0}, 0.5},
		{"tornado has no comparison", detected, domain.StormReport{Category: domain.CategoryTornado, Magnitude: 2}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, magnitudeScore(tt.mags, tt.report), 0.001)
		})
	}
}

func TestMatchAlert_NoStateIsSkipped(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeEnqueuer{})

	alert := testAlert()
	alert.State = ""
	links, err := engine.MatchAlert(context.Background(), alert)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestMatchAlert_GeometrylessUsesCounty(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeEnqueuer{})

	store.reports = []domain.StormReport{testReport(33.20, -97.10, windowStart.Add(10*time.Minute))}

	alert := testAlert()
	alert.Geometry = nil
	links, err := engine.MatchAlert(context.Background(), alert)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.False(t, links[0].SpatialContainment)

	want := spatialWeight*scoreCounty + temporalWeight + magWeight
	assert.InDelta(t, want, links[0].Confidence, 0.001,
		fmt.Sprintf("county fallback scores %.3f", want))
}
