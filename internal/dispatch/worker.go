package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/observability"
)

// Store is the persistence surface the workers need: record lookup, rule
// listing, and the delivery ledger.
type Store interface {
	GetAlert(ctx context.Context, id uuid.UUID) (domain.AlertRecord, error)
	GetReport(ctx context.Context, id uuid.UUID) (domain.StormReport, error)
	GetLink(ctx context.Context, id uuid.UUID) (domain.VerificationLink, error)
	ListActiveRules(ctx context.Context) ([]domain.NotificationRule, error)
	CreateDelivery(ctx context.Context, d *domain.Delivery) (bool, error)
	SetDeliveryStatus(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus) error
	AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error
}

// TriggerSource blocks for the next trigger to process.
type TriggerSource interface {
	Next(ctx context.Context) (domain.Trigger, func(context.Context) error, error)
}

// Deliverer posts one payload to one endpoint.
type Deliverer interface {
	Send(ctx context.Context, endpoint string, payload []byte) (int, error)
}

// Notification is the JSON body posted to a rule's endpoint. Exactly the
// records relevant to the trigger kind are populated.
type Notification struct {
	RuleID     uuid.UUID                `json:"rule_id"`
	RuleName   string                   `json:"rule_name"`
	Kind       domain.RecordKind        `json:"kind"`
	Transition domain.Transition        `json:"transition"`
	Alert      *domain.AlertRecord      `json:"alert,omitempty"`
	Report     *domain.StormReport      `json:"report,omitempty"`
	Link       *domain.VerificationLink `json:"link,omitempty"`
	SentAt     time.Time                `json:"sent_at"`
}

// Pool drains the trigger queue with a fixed set of workers. Each
// trigger is evaluated against every active rule; matches are registered
// in the delivery ledger and posted with capped exponential-backoff
// retries.
type Pool struct {
	source      TriggerSource
	store       Store
	sender      Deliverer
	workers     int
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewPool creates a dispatch worker pool.
func NewPool(source TriggerSource, store Store, sender Deliverer, workers, maxAttempts int, logger *slog.Logger, metrics *observability.Metrics) *Pool {
	return &Pool{
		source:      source,
		store:       store,
		sender:      sender,
		workers:     workers,
		maxAttempts: maxAttempts,
		baseDelay:   500 * time.Millisecond,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run blocks until the context is cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("dispatch pool started", "workers", p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("dispatch pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	for {
		trigger, commit, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errMalformedTrigger) {
				continue
			}
			p.logger.Error("fetch trigger failed", "worker", id, "error", err)
			if !sleepWithContext(ctx, p.baseDelay) {
				return
			}
			continue
		}

		p.metrics.DispatchQueueLag.Inc()
		p.process(ctx, trigger)
		p.metrics.DispatchQueueLag.Dec()

		if err := commit(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("commit trigger failed", "worker", id, "error", err)
		}
	}
}

// process evaluates one trigger against all active rules. A missing
// record or a rule that was already served this (record, transition)
// drops silently; delivery failures are terminal per delivery, never
// for the worker.
func (p *Pool) process(ctx context.Context, trigger domain.Trigger) {
	notification, match, err := p.loadRecord(ctx, trigger)
	if err != nil {
		p.logger.Error("load trigger record failed",
			"kind", trigger.Kind, "record_id", trigger.RecordID, "error", err)
		return
	}

	rules, err := p.store.ListActiveRules(ctx)
	if err != nil {
		p.logger.Error("list rules failed", "error", err)
		return
	}

	for _, rule := range rules {
		if !match(rule) {
			continue
		}

		delivery := domain.Delivery{
			RuleID:     rule.ID,
			Kind:       trigger.Kind,
			RecordID:   trigger.RecordID,
			Transition: trigger.Transition,
			Status:     domain.DeliveryPending,
			CreatedAt:  domain.Now(),
			UpdatedAt:  domain.Now(),
		}
		created, err := p.store.CreateDelivery(ctx, &delivery)
		if err != nil {
			p.logger.Error("register delivery failed", "rule_id", rule.ID, "error", err)
			continue
		}
		if !created {
			// Redelivered trigger: this rule was already served.
			continue
		}

		p.deliver(ctx, rule, delivery, notification)
	}
}

// loadRecord fetches the record behind the trigger and returns both the
// notification skeleton and the rule predicate for it. Link triggers
// match a rule when either side of the link does.
func (p *Pool) loadRecord(ctx context.Context, trigger domain.Trigger) (Notification, func(domain.NotificationRule) bool, error) {
	notification := Notification{
		Kind:       trigger.Kind,
		Transition: trigger.Transition,
	}

	switch trigger.Kind {
	case domain.KindAlert:
		alert, err := p.store.GetAlert(ctx, trigger.RecordID)
		if err != nil {
			return Notification{}, nil, err
		}
		notification.Alert = &alert
		return notification, func(r domain.NotificationRule) bool {
			return r.MatchesAlert(alert)
		}, nil

	case domain.KindReport:
		report, err := p.store.GetReport(ctx, trigger.RecordID)
		if err != nil {
			return Notification{}, nil, err
		}
		notification.Report = &report
		return notification, func(r domain.NotificationRule) bool {
			return r.MatchesReport(report)
		}, nil

	case domain.KindLink:
		link, err := p.store.GetLink(ctx, trigger.RecordID)
		if err != nil {
			return Notification{}, nil, err
		}
		alert, err := p.store.GetAlert(ctx, link.AlertID)
		if err != nil {
			return Notification{}, nil, err
		}
		report, err := p.store.GetReport(ctx, link.ReportID)
		if err != nil {
			return Notification{}, nil, err
		}
		notification.Link = &link
		notification.Alert = &alert
		notification.Report = &report
		return notification, func(r domain.NotificationRule) bool {
			return r.MatchesAlert(alert) || r.MatchesReport(report)
		}, nil

	default:
		return Notification{}, nil, fmt.Errorf("unknown record kind %q", trigger.Kind)
	}
}

// deliver posts one notification with retries. Every attempt lands in
// the audit trail; after the cap the delivery is marked failed and
// surfaced to operators instead of retrying forever.
func (p *Pool) deliver(ctx context.Context, rule domain.NotificationRule, delivery domain.Delivery, notification Notification) {
	notification.RuleID = rule.ID
	notification.RuleName = rule.Name
	notification.SentAt = domain.Now()

	payload, err := json.Marshal(notification)
	if err != nil {
		p.logger.Error("serialize notification failed", "delivery_id", delivery.ID, "error", err)
		return
	}

	delay := p.baseDelay
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		start := time.Now()
		code, sendErr := p.sender.Send(ctx, rule.Endpoint, payload)
		p.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

		outcome := classifyOutcome(sendErr)
		p.metrics.DeliveryAttempts.WithLabelValues(string(outcome)).Inc()

		attemptRow := domain.DeliveryAttempt{
			DeliveryID: delivery.ID,
			AttemptNum: attempt,
			At:         domain.Now(),
			Outcome:    outcome,
		}
		if code > 0 {
			attemptRow.ResponseCode = &code
		}
		if sendErr != nil {
			attemptRow.Error = sendErr.Error()
		}
		if err := p.store.AppendAttempt(ctx, &attemptRow); err != nil {
			p.logger.Error("append attempt failed", "delivery_id", delivery.ID, "error", err)
		}

		if sendErr == nil {
			if err := p.store.SetDeliveryStatus(ctx, delivery.ID, domain.DeliverySucceeded); err != nil {
				p.logger.Error("mark delivery succeeded failed", "delivery_id", delivery.ID, "error", err)
			}
			return
		}

		p.logger.Warn("delivery attempt failed",
			"delivery_id", delivery.ID, "rule", rule.Name,
			"attempt", attempt, "outcome", outcome, "error", sendErr)

		if attempt < p.maxAttempts {
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay *= 2
		}
	}

	if err := p.store.SetDeliveryStatus(ctx, delivery.ID, domain.DeliveryFailed); err != nil {
		p.logger.Error("mark delivery failed failed", "delivery_id", delivery.ID, "error", err)
	}
	p.metrics.DeliveriesFailed.Inc()
	p.logger.Error("delivery permanently failed",
		"delivery_id", delivery.ID, "rule", rule.Name, "attempts", p.maxAttempts)
}

func classifyOutcome(err error) domain.AttemptOutcome {
	if err == nil {
		return domain.OutcomeSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.OutcomeTimeout
	}
	return domain.OutcomeFailure
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
