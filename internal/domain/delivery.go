package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordKind identifies which table a trigger or delivery refers to.
type RecordKind string

const (
	KindAlert  RecordKind = "alert"
	KindReport RecordKind = "report"
	KindLink   RecordKind = "link"
)

// Transition is the state change that caused a record to be enqueued for
// rule evaluation. A rule is evaluated exactly once per
// (record, transition); re-delivery is a retry of the same logical trigger.
type Transition string

const (
	TransitionInsert  Transition = "insert"
	TransitionUpdate  Transition = "update"
	TransitionNewLink Transition = "new-link"
)

// Trigger is the queue message produced by the adapters and the matching
// engine and consumed by the dispatch workers.
type Trigger struct {
	Kind       RecordKind `json:"kind"`
	RecordID   uuid.UUID  `json:"record_id"`
	Transition Transition `json:"transition"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// DeliveryStatus is the lifecycle state of a rule/record delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySucceeded DeliveryStatus = "succeeded"
	// DeliveryFailed is terminal: the attempt cap was reached and the pair
	// is surfaced to operators instead of being retried further.
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is one logical notification of a record to a rule's endpoint.
// Uniqueness over (rule, kind, record, transition) is what makes rule
// evaluation idempotent per state transition.
type Delivery struct {
	ID         uuid.UUID      `json:"id"`
	RuleID     uuid.UUID      `json:"rule_id"`
	Kind       RecordKind     `json:"kind"`
	RecordID   uuid.UUID      `json:"record_id"`
	Transition Transition     `json:"transition"`
	Status     DeliveryStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// AttemptOutcome classifies a single delivery attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
	OutcomeTimeout AttemptOutcome = "timeout"
)

// DeliveryAttempt is one row of the append-only delivery audit trail.
type DeliveryAttempt struct {
	ID           uuid.UUID      `json:"id"`
	DeliveryID   uuid.UUID      `json:"delivery_id"`
	AttemptNum   int            `json:"attempt_num"`
	At           time.Time      `json:"at"`
	Outcome      AttemptOutcome `json:"outcome"`
	ResponseCode *int           `json:"response_code,omitempty"`
	Error        string         `json:"error,omitempty"`
}
