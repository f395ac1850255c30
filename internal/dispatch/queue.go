// Package dispatch moves triggers from the ingestion side to webhook
// deliveries: a Kafka queue decouples the feed adapters from the worker
// pool that evaluates rules and posts signed notifications.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-watch/internal/domain"
	"github.com/couchcryptid/storm-watch/internal/observability"
)

// Queue produces triggers to the Kafka trigger topic.
type Queue struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewQueue creates a Kafka producer for the trigger topic.
func NewQueue(brokers []string, topic string, logger *slog.Logger, metrics *observability.Metrics) *Queue {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Queue{writer: w, logger: logger, metrics: metrics}
}

// Enqueue serializes and publishes triggers in a single WriteMessages
// call. Keying by record id keeps one record's transitions in order.
func (q *Queue) Enqueue(ctx context.Context, triggers []domain.Trigger) error {
	if len(triggers) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(triggers))
	for i, trigger := range triggers {
		data, err := json.Marshal(trigger)
		if err != nil {
			return fmt.Errorf("serialize trigger: %w", err)
		}
		msgs[i] = kafkago.Message{
			Key:   []byte(trigger.RecordID.String()),
			Value: data,
			Headers: []kafkago.Header{
				{Key: "kind", Value: []byte(trigger.Kind)},
				{Key: "transition", Value: []byte(trigger.Transition)},
			},
		}
	}
	if err := q.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("enqueue triggers: %w", err)
	}
	q.metrics.TriggersEnqueued.Add(float64(len(msgs)))
	return nil
}

func (q *Queue) Close() error {
	return q.writer.Close()
}

// Source consumes triggers from the trigger topic as part of a consumer
// group, so dispatch scales horizontally and resumes after restarts.
type Source struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewSource creates a consumer-group reader for the trigger topic.
func NewSource(brokers []string, topic, groupID string, logger *slog.Logger) *Source {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Source{reader: r, logger: logger}
}

// Next blocks for the next trigger. The returned commit function
// acknowledges the message; an uncommitted trigger is redelivered, which
// is safe because delivery registration is idempotent.
func (s *Source) Next(ctx context.Context) (domain.Trigger, func(context.Context) error, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return domain.Trigger{}, nil, err
	}

	var trigger domain.Trigger
	if err := json.Unmarshal(msg.Value, &trigger); err != nil {
		// Poison message: commit so it does not wedge the partition.
		s.logger.Error("malformed trigger message", "offset", msg.Offset, "error", err)
		if commitErr := s.reader.CommitMessages(ctx, msg); commitErr != nil {
			return domain.Trigger{}, nil, commitErr
		}
		return domain.Trigger{}, nil, errMalformedTrigger
	}

	commit := func(ctx context.Context) error {
		return s.reader.CommitMessages(ctx, msg)
	}
	return trigger, commit, nil
}

func (s *Source) Close() error {
	return s.reader.Close()
}
