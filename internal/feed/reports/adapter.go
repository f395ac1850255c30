package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/observability"
)

// ReportStore persists storm reports with content-hash dedup.
type ReportStore interface {
	InsertReport(ctx context.Context, r *domain.StormReport) (bool, error)
}

// Enqueuer hands stored records to the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, triggers []domain.Trigger) error
}

// Matcher runs incremental verification against records just inserted.
type Matcher interface {
	MatchReport(ctx context.Context, r domain.StormReport) ([]domain.VerificationLink, error)
}

// PollResult summarizes one report feed cycle.
type PollResult struct {
	Fetched    int
	Inserted   int
	Duplicates int
	Malformed  int
}

func (r PollResult) String() string {
	return fmt.Sprintf("fetched=%d inserted=%d duplicates=%d malformed=%d",
		r.Fetched, r.Inserted, r.Duplicates, r.Malformed)
}

// Adapter downloads, parses, stores, matches, and enqueues storm reports.
type Adapter struct {
	client   *Client
	store    ReportStore
	enqueuer Enqueuer
	matcher  Matcher
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewAdapter wires the report feed adapter.
func NewAdapter(client *Client, store ReportStore, enqueuer Enqueuer, matcher Matcher, logger *slog.Logger, metrics *observability.Metrics) *Adapter {
	return &Adapter{
		client:   client,
		store:    store,
		enqueuer: enqueuer,
		matcher:  matcher,
		logger:   logger,
		metrics:  metrics,
	}
}

// Poll ingests the report file for one target date. A download failure
// aborts the cycle; malformed lines and duplicate hashes are counted and
// skipped.
func (a *Adapter) Poll(ctx context.Context, targetDate time.Time) (PollResult, error) {
	var result PollResult
	feed := string(domain.FeedReports)

	body, err := a.client.Download(ctx, targetDate)
	if err != nil {
		a.metrics.FetchErrors.WithLabelValues(feed).Inc()
		return result, err
	}
	defer body.Close()

	parsed, err := Parse(ctx, targetDate, body)
	if err != nil {
		return result, err
	}

	result.Fetched = len(parsed.Reports)
	result.Malformed = parsed.Malformed
	a.metrics.RecordsFetched.WithLabelValues(feed).Add(float64(result.Fetched))
	a.metrics.RecordsMalformed.WithLabelValues(feed).Add(float64(result.Malformed))

	for i := range parsed.Reports {
		report := &parsed.Reports[i]

		inserted, err := a.store.InsertReport(ctx, report)
		if err != nil {
			return result, fmt.Errorf("store report: %w", err)
		}
		if !inserted {
			// Seen hash: silent no-op.
			result.Duplicates++
			a.metrics.RecordsDuplicate.WithLabelValues(feed).Inc()
			continue
		}

		result.Inserted++
		a.metrics.RecordsInserted.WithLabelValues(feed).Inc()

		if err := a.enqueuer.Enqueue(ctx, []domain.Trigger{{
			Kind:       domain.KindReport,
			RecordID:   report.ID,
			Transition: domain.TransitionInsert,
			EnqueuedAt: domain.Now(),
		}}); err != nil {
			a.logger.Error("enqueue report trigger failed", "hash", report.ContentHash, "error", err)
		}

		if _, err := a.matcher.MatchReport(ctx, *report); err != nil {
			a.logger.Error("matching report failed", "hash", report.ContentHash, "error", err)
		}
	}

	return result, nil
}
