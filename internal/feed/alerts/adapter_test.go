package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/observability"
)

// --- fakes ---

type fakeAlertStore struct {
	mu      sync.Mutex
	byExtID map[string]domain.AlertRecord
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{byExtID: make(map[string]domain.AlertRecord)}
}

func (s *fakeAlertStore) UpsertAlert(_ context.Context, a *domain.AlertRecord) (domain.Transition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byExtID[a.ExternalID]
	if !ok {
		a.ID = uuid.New()
		s.byExtID[a.ExternalID] = *a
		return domain.TransitionInsert, true, nil
	}
	if a.Sent.Before(existing.Sent) {
		return "", false, nil
	}
	a.ID = existing.ID
	a.Verified = existing.Verified
	s.byExtID[a.ExternalID] = *a
	return domain.TransitionUpdate, true, nil
}

func (s *fakeAlertStore) get(extID string) (domain.AlertRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byExtID[extID]
	return a, ok
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

type fakeMatcher struct {
	mu      sync.Mutex
	matched []domain.AlertRecord
}

func (m *fakeMatcher) MatchAlert(_ context.Context, a domain.AlertRecord) ([]domain.VerificationLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matched = append(m.matched, a)
	return nil, nil
}

// --- helpers ---

func featureJSON(id, sent, headline, description, params string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"geometry": null,
		"properties": {
			"event": "Severe Thunderstorm Warning",
			"severity": "Severe",
			"urgency": "Immediate",
			"certainty": "Observed",
			"effective": "2026-04-12T15:00:00Z",
			"expires": "2026-04-12T16:00:00Z",
			"sent": %q,
			"headline": %q,
			"description": %q,
			"areaDesc": "Denton, TX",
			"geocode": {"UGC": ["TXC121"]},
			"parameters": {%s}
		}
	}`, id, sent, headline, description, params)
}

func newTestAdapter(t *testing.T, feedURL string) (*Adapter, *fakeAlertStore, *fakeEnqueuer, *fakeMatcher) {
	t.Helper()
	store := newFakeAlertStore()
	enq := &fakeEnqueuer{}
	matcher := &fakeMatcher{}
	client := NewClient(feedURL, 5*time.Second, slog.Default())
	cache := NewLiveCache(100, time.Hour, nil)
	adapter := NewAdapter(client, store, cache, enq, matcher, slog.Default(), observability.NewMetricsForTesting())
	return adapter, store, enq, matcher
}

// --- tests ---

func TestPoll_FreeTextExtraction(t *testing.T) {
	body := `{"features": [` + featureJSON(
		"urn:alert:1", "2026-04-12T15:00:00Z",
		"Severe Thunderstorm Warning",
		"Golf ball size hail and wind gusts to 70 mph.",
		"",
	) + `]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	adapter, store, enq, matcher := newTestAdapter(t, srv.URL)

	result, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollResult{Fetched: 1, Inserted: 1}, result)

	stored, ok := store.get("urn:alert:1")
	require.True(t, ok)
	require.True(t, stored.Magnitudes.HailDetected)
	assert.InDelta(t, 1.75, *stored.Magnitudes.HailInches, 0.001)
	require.True(t, stored.Magnitudes.WindDetected)
	assert.InDelta(t, 70, *stored.Magnitudes.WindMPH, 0.001)

	assert.Equal(t, "TX", stored.State)
	assert.Equal(t, []string{"Denton"}, stored.Counties)

	require.Len(t, enq.triggers, 1)
	assert.Equal(t, domain.KindAlert, enq.triggers[0].Kind)
	assert.Equal(t, domain.TransitionInsert, enq.triggers[0].Transition)
	assert.Len(t, matcher.matched, 1)
}

func TestPoll_StructuredParametersWin(t *testing.T) {
	body := `{"features": [` + featureJSON(
		"urn:alert:2", "2026-04-12T15:00:00Z",
		"Severe Thunderstorm Warning",
		"Quarter size hail possible.",
		`"hailSize": ["2.50"], "windGust": [60]`,
	) + `]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	adapter, store, _, _ := newTestAdapter(t, srv.URL)

	_, err := adapter.Poll(context.Background())
	require.NoError(t, err)

	stored, ok := store.get("urn:alert:2")
	require.True(t, ok)
	assert.InDelta(t, 2.50, *stored.Magnitudes.HailInches, 0.001, "structured hailSize beats quarter-size text")
	assert.InDelta(t, 60, *stored.Magnitudes.WindMPH, 0.001)
}

func TestPoll_UpsertIdempotence(t *testing.T) {
	body := `{"features": [` + featureJSON(
		"urn:alert:3", "2026-04-12T15:00:00Z", "h", "d", "",
	) + `]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	adapter, store, _, _ := newTestAdapter(t, srv.URL)

	first, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Updated, "equal sent timestamp re-applies as update")

	assert.Len(t, store.byExtID, 1, "re-ingesting an identical payload yields one stored record")
}

func TestPoll_OlderSentIsNoOp(t *testing.T) {
	newer := `{"features": [` + featureJSON("urn:alert:4", "2026-04-12T15:00:00Z", "new headline", "d", "") + `]}`
	older := `{"features": [` + featureJSON("urn:alert:4", "2026-04-12T14:00:00Z", "old headline", "d", "") + `]}`

	bodies := []string{newer, older}
	var call int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, bodies[call])
		call++
	}))
	defer srv.Close()

	adapter, store, _, _ := newTestAdapter(t, srv.URL)

	_, err := adapter.Poll(context.Background())
	require.NoError(t, err)

	result, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollResult{Fetched: 1}, result, "older replay is a silent no-op")

	stored, _ := store.get("urn:alert:4")
	assert.Equal(t, "new headline", stored.Headline, "stored record never regresses to older data")
}

func TestPoll_Pagination(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"features": [%s], "pagination": {"next": %q}}`,
			featureJSON("urn:page1", "2026-04-12T15:00:00Z", "h", "d", ""),
			srv.URL+"/page2")
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"features": [%s]}`,
			featureJSON("urn:page2", "2026-04-12T15:05:00Z", "h", "d", ""))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	adapter, store, _, _ := newTestAdapter(t, srv.URL)

	result, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Inserted)
	assert.Len(t, store.byExtID, 2)
}

func TestPoll_FetchFailureAbortsCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter, store, _, _ := newTestAdapter(t, srv.URL)

	_, err := adapter.Poll(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.byExtID, "no partial commit from a failed page")
}

func TestPoll_MalformedFeatureCountedNotFatal(t *testing.T) {
	// Second feature is missing its id; first must still be stored.
	body := `{"features": [` +
		featureJSON("urn:alert:ok", "2026-04-12T15:00:00Z", "h", "d", "") + `,` +
		featureJSON("", "2026-04-12T15:00:00Z", "h", "d", "") +
		`]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	adapter, store, _, _ := newTestAdapter(t, srv.URL)

	result, err := adapter.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollResult{Fetched: 2, Inserted: 1, Errors: 1}, result)
	assert.Len(t, store.byExtID, 1)
}

func TestPoll_NoMagnitudeSignalsStaysAbsent(t *testing.T) {
	body := `{"features": [` + featureJSON(
		"urn:alert:5", "2026-04-12T15:00:00Z",
		"Tornado Warning", "Radar indicated rotation.", "",
	) + `]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	adapter, store, _, _ := newTestAdapter(t, srv.URL)

	_, err := adapter.Poll(context.Background())
	require.NoError(t, err)

	stored, _ := store.get("urn:alert:5")
	assert.False(t, stored.Magnitudes.HailDetected)
	assert.Nil(t, stored.Magnitudes.HailInches)
	assert.False(t, stored.Magnitudes.WindDetected)
	assert.Nil(t, stored.Magnitudes.WindMPH)
}
