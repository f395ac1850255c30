// Package scheduler drives the two feed lanes on independent cadences.
// Alerts poll at a fixed short interval. Report dates cool down through
// cadence tiers as they age, until only a manual trigger can re-poll them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/feed/alerts"
	"github.com/couchcryptid/storm-watch/internal/feed/reports"
	"github.com/couchcryptid/storm-watch/internal/observability"
)

// ErrBusy is returned by ForceTrigger when the lane already has a cycle
// in flight.
var ErrBusy = errors.New("feed cycle already in flight")

// ErrFutureDate is returned when a manual trigger names a date after today.
var ErrFutureDate = errors.New("target date is in the future")

const (
	alertInterval = 5 * time.Minute
	reportTick    = time.Minute
)

// AlertPoller runs one alert feed cycle.
type AlertPoller interface {
	Poll(ctx context.Context) (alerts.PollResult, error)
}

// ReportPoller runs one report feed cycle for a target date.
type ReportPoller interface {
	Poll(ctx context.Context, date time.Time) (reports.PollResult, error)
}

// Scheduler owns the polling loops for both feeds. Each lane fires at
// most one cycle at a time; cycle failures are recorded in lane state and
// never stop the loop.
type Scheduler struct {
	alerts  AlertPoller
	reports ReportPoller
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	lookbackDays int

	alertLane  laneState
	reportLane laneState

	mu         sync.Mutex
	lastPolled map[string]time.Time // report date -> last poll wall time

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. A nil clock means the real one.
func New(alertPoller AlertPoller, reportPoller ReportPoller, lookbackDays int, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		alerts:       alertPoller,
		reports:      reportPoller,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		lookbackDays: lookbackDays,
		lastPolled:   make(map[string]time.Time),
	}
}

// Start launches both lanes. Each fires immediately, then settles into
// its cadence. Stop must be called to wait the loops out.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)
	s.metrics.SchedulerRunning.Set(1)
	s.logger.Info("scheduler started",
		"alert_interval", alertInterval, "lookback_days", s.lookbackDays)

	s.wg.Add(2)
	go s.alertLoop(ctx)
	go s.reportLoop(ctx)
}

// Stop cancels the loops and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
	s.metrics.SchedulerRunning.Set(0)
	s.logger.Info("scheduler stopped")
}

// ForceTrigger fires one cycle out of band. For the report feed a nil
// date means today; dates beyond the automatic window are allowed, that
// is the only way settled history gets re-polled. Returns ErrBusy when
// the lane is mid-cycle.
func (s *Scheduler) ForceTrigger(ctx context.Context, feed domain.Feed, date *time.Time) error {
	switch feed {
	case domain.FeedAlerts:
		return s.fireAlerts(ctx)
	case domain.FeedReports:
		target := s.today()
		if date != nil {
			target = midnightUTC(*date)
		}
		if target.After(s.today()) {
			return ErrFutureDate
		}
		return s.fireReports(ctx, target)
	default:
		return fmt.Errorf("unknown feed %q", feed)
	}
}

// CheckReadiness reports ready once either lane has completed a cycle.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.running.Load() {
		return errors.New("scheduler is not running")
	}
	alertView := s.alertLane.view()
	reportView := s.reportLane.view()
	if alertView.lastSuccessAt.IsZero() && reportView.lastSuccessAt.IsZero() {
		return errors.New("no feed cycle has completed yet")
	}
	return nil
}

// Snapshots returns the current state of both lanes.
func (s *Scheduler) Snapshots() []domain.ScheduleSnapshot {
	now := s.clock.Now()
	running := s.running.Load()

	alertView := s.alertLane.view()
	alertNext := time.Duration(0)
	if running && !alertView.lastFireAt.IsZero() {
		alertNext = max(0, alertView.lastFireAt.Add(alertInterval).Sub(now))
	}

	reportView := s.reportLane.view()
	reportNext, reportTier := s.nextReportDue(now)

	return []domain.ScheduleSnapshot{
		{
			Feed:          domain.FeedAlerts,
			Running:       running,
			Firing:        alertView.firing,
			Tier:          domain.TierRealtime.String(),
			NextFireIn:    alertNext,
			LastSuccess:   alertView.lastSuccess,
			LastSuccessAt: alertView.lastSuccessAt,
			LastFailure:   alertView.lastFailure,
			LastFailureAt: alertView.lastFailureAt,
		},
		{
			Feed:          domain.FeedReports,
			Running:       running,
			Firing:        reportView.firing,
			Tier:          reportTier.String(),
			NextFireIn:    reportNext,
			LastSuccess:   reportView.lastSuccess,
			LastSuccessAt: reportView.lastSuccessAt,
			LastFailure:   reportView.lastFailure,
			LastFailureAt: reportView.lastFailureAt,
		},
	}
}

func (s *Scheduler) alertLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(alertInterval)
	defer ticker.Stop()

	for {
		if err := s.fireAlerts(ctx); err != nil && ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// reportLoop ticks every minute and polls whichever dates are due under
// their tier's interval. Dates past the lookback window never come due
// automatically.
func (s *Scheduler) reportLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(reportTick)
	defer ticker.Stop()

	for {
		for _, date := range s.dueDates(s.clock.Now()) {
			if ctx.Err() != nil {
				return
			}
			if err := s.fireReports(ctx, date); errors.Is(err, ErrBusy) {
				// Manual trigger holds the lane; catch up next tick.
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (s *Scheduler) fireAlerts(ctx context.Context) error {
	return s.fire(domain.FeedAlerts, &s.alertLane, func() (string, error) {
		result, err := s.alerts.Poll(ctx)
		return result.String(), err
	})
}

func (s *Scheduler) fireReports(ctx context.Context, date time.Time) error {
	return s.fire(domain.FeedReports, &s.reportLane, func() (string, error) {
		result, err := s.reports.Poll(ctx, date)
		if err == nil {
			s.markPolled(date)
		}
		return fmt.Sprintf("date=%s %s", date.Format("2006-01-02"), result), err
	})
}

// fire runs one guarded cycle on a lane, recording outcome and metrics.
func (s *Scheduler) fire(feed domain.Feed, lane *laneState, run func() (string, error)) error {
	if !lane.tryAcquire(s.clock.Now()) {
		return ErrBusy
	}
	defer lane.release()

	start := s.clock.Now()
	summary, err := run()
	s.metrics.CycleDuration.WithLabelValues(string(feed)).Observe(s.clock.Since(start).Seconds())

	if err != nil {
		s.metrics.CyclesFired.WithLabelValues(string(feed), "failure").Inc()
		lane.recordFailure(err, s.clock.Now())
		s.logger.Error("feed cycle failed", "feed", feed, "error", err)
		return err
	}
	s.metrics.CyclesFired.WithLabelValues(string(feed), "success").Inc()
	lane.recordSuccess(summary, s.clock.Now())
	s.logger.Info("feed cycle complete", "feed", feed, "result", summary)
	return nil
}

// dueDates returns the report dates whose tier interval has elapsed since
// their last poll, today first. A never-polled date is immediately due.
func (s *Scheduler) dueDates(now time.Time) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []time.Time
	for age := 0; age <= s.lookbackDays; age++ {
		tier := domain.TierForAge(age)
		interval, ok := tier.Interval()
		if !ok {
			continue
		}
		date := midnightUTC(now).AddDate(0, 0, -age)
		last, polled := s.lastPolled[dateKey(date)]
		if !polled || now.Sub(last) >= interval {
			due = append(due, date)
		}
	}
	return due
}

// nextReportDue computes how long until the soonest automatic report
// poll, and which tier that date is in.
func (s *Scheduler) nextReportDue(now time.Time) (time.Duration, domain.CadenceTier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	soonest := time.Duration(-1)
	tier := domain.TierManual
	for age := 0; age <= s.lookbackDays; age++ {
		t := domain.TierForAge(age)
		interval, ok := t.Interval()
		if !ok {
			continue
		}
		date := midnightUTC(now).AddDate(0, 0, -age)
		last, polled := s.lastPolled[dateKey(date)]
		var wait time.Duration
		if polled {
			wait = max(0, last.Add(interval).Sub(now))
		}
		if soonest < 0 || wait < soonest {
			soonest = wait
			tier = t
		}
	}
	if soonest < 0 {
		soonest = 0
	}
	return soonest, tier
}

// markPolled records the poll time for a date and prunes entries that
// have aged out of the automatic window.
func (s *Scheduler) markPolled(date time.Time) {
	now := s.clock.Now()
	cutoff := midnightUTC(now).AddDate(0, 0, -(domain.MaxReportAgeDays + 1))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPolled[dateKey(date)] = now
	for key := range s.lastPolled {
		if key < dateKey(cutoff) {
			delete(s.lastPolled, key)
		}
	}
}

// polledDates is a test hook: the dates currently tracked, sorted.
func (s *Scheduler) polledDates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.lastPolled))
	for key := range s.lastPolled {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Scheduler) today() time.Time {
	return midnightUTC(s.clock.Now())
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dateKey(date time.Time) string {
	return date.Format("2006-01-02")
}
