package dispatch

import (
	"context"
	"errors"
	"io"
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

type chanSource struct {
	ch chan domain.Trigger
}

func (s *chanSource) Next(ctx context.Context) (domain.Trigger, func(context.Context) error, error) {
	select {
	case trigger := <-s.ch:
		return trigger, func(context.Context) error { return nil }, nil
	case <-ctx.Done():
		return domain.Trigger{}, nil, ctx.Err()
	}
}

type fakeDispatchStore struct {
	mu         sync.Mutex
	alerts     map[uuid.UUID]domain.AlertRecord
	reports    map[uuid.UUID]domain.StormReport
	links      map[uuid.UUID]domain.VerificationLink
	rules      []domain.NotificationRule
	deliveries map[string]uuid.UUID
	statuses   map[uuid.UUID]domain.DeliveryStatus
	attempts   []domain.DeliveryAttempt
}

func newFakeDispatchStore() *fakeDispatchStore {
	return &fakeDispatchStore{
		alerts:     make(map[uuid.UUID]domain.AlertRecord),
		reports:    make(map[uuid.UUID]domain.StormReport),
		links:      make(map[uuid.UUID]domain.VerificationLink),
		deliveries: make(map[string]uuid.UUID),
		statuses:   make(map[uuid.UUID]domain.DeliveryStatus),
	}
}

func (s *fakeDispatchStore) GetAlert(_ context.Context, id uuid.UUID) (domain.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.AlertRecord{}, errNotFound
	}
	return a, nil
}

func (s *fakeDispatchStore) GetReport(_ context.Context, id uuid.UUID) (domain.StormReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return domain.StormReport{}, errNotFound
	}
	return r, nil
}

func (s *fakeDispatchStore) GetLink(_ context.Context, id uuid.UUID) (domain.VerificationLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return domain.VerificationLink{}, errNotFound
	}
	return l, nil
}

func (s *fakeDispatchStore) ListActiveRules(_ context.Context) ([]domain.NotificationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.NotificationRule(nil), s.rules...), nil
}

func (s *fakeDispatchStore) CreateDelivery(_ context.Context, d *domain.Delivery) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := d.RuleID.String() + "|" + string(d.Kind) + "|" + d.RecordID.String() + "|" + string(d.Transition)
	if _, ok := s.deliveries[key]; ok {
		return false, nil
	}
	d.ID = uuid.New()
	s.deliveries[key] = d.ID
	s.statuses[d.ID] = d.Status
	return true, nil
}

func (s *fakeDispatchStore) SetDeliveryStatus(_ context.Context, id uuid.UUID, status domain.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakeDispatchStore) AppendAttempt(_ context.Context, a *domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *fakeDispatchStore) attemptOutcomes() []domain.AttemptOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcomes := make([]domain.AttemptOutcome, len(s.attempts))
	for i, a := range s.attempts {
		outcomes[i] = a.Outcome
	}
	return outcomes
}

func (s *fakeDispatchStore) statusOf(t *testing.T) domain.DeliveryStatus {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.statuses, 1)
	for _, status := range s.statuses {
		return status
	}
	return ""
}

var errNotFound = errors.New("not found")

// --- fixtures ---

func storedAlert() domain.AlertRecord {
	hail := 1.75
	return domain.AlertRecord{
		ID:        uuid.New(),
		Event:     "Severe Thunderstorm Warning",
		State:     "TX",
		Counties:  []string{"Denton"},
		Effective: time.Date(2026, 4, 12, 15, 0, 0, 0, time.UTC),
		Expires:   time.Date(2026, 4, 12, 16, 0, 0, 0, time.UTC),
		Magnitudes: domain.Magnitudes{
			HailInches:   &hail,
			HailDetected: true,
		},
	}
}

func activeRule(endpoint string) domain.NotificationRule {
	return domain.NotificationRule{
		ID:       uuid.New(),
		Name:     "texas-hail",
		States:   []string{"TX"},
		Endpoint: endpoint,
		Active:   true,
	}
}

func newTestPool(store *fakeDispatchStore, maxAttempts int, senderTimeout time.Duration) *Pool {
	pool := NewPool(
		&chanSource{ch: make(chan domain.Trigger, 8)},
		store,
		NewSender(senderTimeout, "test-secret"),
		1, maxAttempts,
		slog.Default(), observability.NewMetricsForTesting(),
	)
	pool.baseDelay = time.Millisecond
	return pool
}

// --- tests ---

func TestProcess_MatchingRuleDelivered(t *testing.T) {
	var mu sync.Mutex
	var signatures []string
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		signatures = append(signatures, r.Header.Get("X-Webhook-Signature"))
		bodies = append(bodies, body)
		mu.Unlock()
	}))
	defer srv.Close()

	store := newFakeDispatchStore()
	alert := storedAlert()
	store.alerts[alert.ID] = alert
	store.rules = []domain.NotificationRule{
		activeRule(srv.URL),
		{ID: uuid.New(), Name: "oklahoma-only", States: []string{"OK"}, Endpoint: srv.URL, Active: true},
	}

	pool := newTestPool(store, 3, 5*time.Second)
	pool.process(context.Background(), domain.Trigger{
		Kind:       domain.KindAlert,
		RecordID:   alert.ID,
		Transition: domain.TransitionInsert,
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1, "only the matching rule is delivered")
	assert.Equal(t, signPayload(bodies[0], "test-secret"), signatures[0])
	assert.Equal(t, domain.DeliverySucceeded, store.statusOf(t))
}

func TestProcess_RedeliveredTriggerIsIdempotent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	store := newFakeDispatchStore()
	alert := storedAlert()
	store.alerts[alert.ID] = alert
	store.rules = []domain.NotificationRule{activeRule(srv.URL)}

	pool := newTestPool(store, 3, 5*time.Second)
	trigger := domain.Trigger{Kind: domain.KindAlert, RecordID: alert.ID, Transition: domain.TransitionInsert}
	pool.process(context.Background(), trigger)
	pool.process(context.Background(), trigger)

	assert.Equal(t, 1, calls, "a redelivered trigger never posts twice")
	assert.Len(t, store.deliveries, 1)
}

func TestDeliver_RetriesUntilSuccess(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	store := newFakeDispatchStore()
	alert := storedAlert()
	store.alerts[alert.ID] = alert
	store.rules = []domain.NotificationRule{activeRule(srv.URL)}

	pool := newTestPool(store, 5, 5*time.Second)
	pool.process(context.Background(), domain.Trigger{
		Kind: domain.KindAlert, RecordID: alert.ID, Transition: domain.TransitionInsert,
	})

	assert.Equal(t, []domain.AttemptOutcome{
		domain.OutcomeFailure, domain.OutcomeFailure, domain.OutcomeSuccess,
	}, store.attemptOutcomes())
	assert.Equal(t, domain.DeliverySucceeded, store.statusOf(t))
}

func TestDeliver_AttemptCapMarksFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newFakeDispatchStore()
	alert := storedAlert()
	store.alerts[alert.ID] = alert
	store.rules = []domain.NotificationRule{activeRule(srv.URL)}

	pool := newTestPool(store, 3, 5*time.Second)
	pool.process(context.Background(), domain.Trigger{
		Kind: domain.KindAlert, RecordID: alert.ID, Transition: domain.TransitionInsert,
	})

	assert.Len(t, store.attempts, 3, "every attempt is in the audit trail")
	assert.Equal(t, domain.DeliveryFailed, store.statusOf(t))

	code := store.attempts[0].ResponseCode
	require.NotNil(t, code)
	assert.Equal(t, http.StatusServiceUnavailable, *code)
}

func TestDeliver_TimeoutOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	store := newFakeDispatchStore()
	alert := storedAlert()
	store.alerts[alert.ID] = alert
	store.rules = []domain.NotificationRule{activeRule(srv.URL)}

	pool := newTestPool(store, 1, 20*time.Millisecond)
	pool.process(context.Background(), domain.Trigger{
		Kind: domain.KindAlert, RecordID: alert.ID, Transition: domain.TransitionInsert,
	})

	outcomes := store.attemptOutcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeTimeout, outcomes[0])
	assert.Equal(t, domain.DeliveryFailed, store.statusOf(t))
}

func TestProcess_LinkTriggerMatchesEitherSide(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	store := newFakeDispatchStore()
	alert := storedAlert()
	report := domain.StormReport{
		ID: uuid.New(), Category: domain.CategoryHail,
		State: "TX", County: "Denton", Magnitude: 1.75,
	}
	link := domain.VerificationLink{
		ID: uuid.New(), AlertID: alert.ID, ReportID: report.ID, Confidence: 0.9,
	}
	store.alerts[alert.ID] = alert
	store.reports[report.ID] = report
	store.links[link.ID] = link

	// Matches the report side only.
	rule := activeRule(srv.URL)
	rule.Counties = []string{"Denton"}
	rule.States = nil
	store.rules = []domain.NotificationRule{rule}

	pool := newTestPool(store, 3, 5*time.Second)
	pool.process(context.Background(), domain.Trigger{
		Kind: domain.KindLink, RecordID: link.ID, Transition: domain.TransitionNewLink,
	})

	assert.Equal(t, 1, calls)
}

func TestRun_DrainsQueueUntilCancelled(t *testing.T) {
	var mu sync.Mutex
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer srv.Close()

	store := newFakeDispatchStore()
	alert := storedAlert()
	store.alerts[alert.ID] = alert
	store.rules = []domain.NotificationRule{activeRule(srv.URL)}

	source := &chanSource{ch: make(chan domain.Trigger, 1)}
	pool := NewPool(source, store, NewSender(5*time.Second, ""), 2, 3,
		slog.Default(), observability.NewMetricsForTesting())
	pool.baseDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	source.ch <- domain.Trigger{Kind: domain.KindAlert, RecordID: alert.ID, Transition: domain.TransitionInsert}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
