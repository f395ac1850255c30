package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/observability"
)

// AlertStore persists normalized alerts.
type AlertStore interface {
	UpsertAlert(ctx context.Context, a *domain.AlertRecord) (domain.Transition, bool, error)
}

// Enqueuer hands stored records to the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, triggers []domain.Trigger) error
}

// Matcher runs incremental verification against the records just produced
// by this cycle.
type Matcher interface {
	MatchAlert(ctx context.Context, a domain.AlertRecord) ([]domain.VerificationLink, error)
}

// PollResult summarizes one alert feed cycle.
type PollResult struct {
	Fetched  int
	Inserted int
	Updated  int
	Errors   int
}

func (r PollResult) String() string {
	return fmt.Sprintf("fetched=%d inserted=%d updated=%d errors=%d",
		r.Fetched, r.Inserted, r.Updated, r.Errors)
}

// Adapter polls, normalizes, stores, matches, and enqueues alerts.
type Adapter struct {
	client   *Client
	store    AlertStore
	cache    *LiveCache
	enqueuer Enqueuer
	matcher  Matcher
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewAdapter wires the alert feed adapter.
func NewAdapter(client *Client, store AlertStore, cache *LiveCache, enqueuer Enqueuer, matcher Matcher, logger *slog.Logger, metrics *observability.Metrics) *Adapter {
	return &Adapter{
		client:   client,
		store:    store,
		cache:    cache,
		enqueuer: enqueuer,
		matcher:  matcher,
		logger:   logger,
		metrics:  metrics,
	}
}

// Poll runs one feed cycle: fetch every page, normalize and upsert each
// record, then match and enqueue the ones that changed. A fetch failure
// aborts the cycle; per-record failures are counted and skipped. Records
// committed before an abort stay committed.
func (a *Adapter) Poll(ctx context.Context) (PollResult, error) {
	var result PollResult

	url := a.client.BaseURL()
	for url != "" {
		// Stop signal is honored between pages, never mid-record.
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := a.client.FetchPage(ctx, url)
		if err != nil {
			a.metrics.FetchErrors.WithLabelValues(string(domain.FeedAlerts)).Inc()
			return result, err
		}

		result.Fetched += len(page.Features)
		a.metrics.RecordsFetched.WithLabelValues(string(domain.FeedAlerts)).Add(float64(len(page.Features)))

		for _, f := range page.Features {
			a.processFeature(ctx, f, &result)
		}

		url = page.Pagination.Next
	}

	return result, nil
}

func (a *Adapter) processFeature(ctx context.Context, f feature, result *PollResult) {
	record, err := normalizeFeature(f)
	if err != nil {
		a.logger.Warn("skipping malformed alert", "id", f.ID, "error", err)
		a.metrics.RecordsMalformed.WithLabelValues(string(domain.FeedAlerts)).Inc()
		result.Errors++
		return
	}

	transition, applied, err := a.store.UpsertAlert(ctx, &record)
	if err != nil {
		a.logger.Error("upsert alert failed", "external_id", record.ExternalID, "error", err)
		result.Errors++
		return
	}
	if !applied {
		// Older replay; stored data is newer. Silent no-op.
		return
	}

	switch transition {
	case domain.TransitionInsert:
		result.Inserted++
		a.metrics.RecordsInserted.WithLabelValues(string(domain.FeedAlerts)).Inc()
	case domain.TransitionUpdate:
		result.Updated++
		a.metrics.RecordsUpdated.WithLabelValues(string(domain.FeedAlerts)).Inc()
	}

	a.cache.Put(record)

	if err := a.enqueuer.Enqueue(ctx, []domain.Trigger{{
		Kind:       domain.KindAlert,
		RecordID:   record.ID,
		Transition: transition,
		EnqueuedAt: domain.Now(),
	}}); err != nil {
		a.logger.Error("enqueue alert trigger failed", "external_id", record.ExternalID, "error", err)
		result.Errors++
	}

	if _, err := a.matcher.MatchAlert(ctx, record); err != nil {
		a.logger.Error("matching alert failed", "external_id", record.ExternalID, "error", err)
		result.Errors++
	}
}
