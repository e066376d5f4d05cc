package notify

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Publisher forwards one payload under a topic. gateway.AMQPMessenger and
// gateway.LogMessenger both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// EventStore drains and settles outbox rows. *Repository satisfies it.
type EventStore interface {
	FetchPending(ctx context.Context, limit int) ([]Event, error)
	MarkProcessed(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

const relayMaxAttempts = 5

// Relay drains pending outbox events to the publisher. It is stateless
// between runs; the scheduler invokes Run on a fixed cadence.
type Relay struct {
	repo      EventStore
	publisher Publisher
	tracer    trace.Tracer
	batchSize int
}

func NewRelay(repo EventStore, publisher Publisher) *Relay {
	return &Relay{
		repo:      repo,
		publisher: publisher,
		tracer:    otel.Tracer("leadcast/notify"),
		batchSize: 50,
	}
}

// Run relays one batch. Individual event failures are counted against the
// event, never aborting the batch.
func (r *Relay) Run(ctx context.Context) error {
	events, err := r.repo.FetchPending(ctx, r.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		ctx, span := r.tracer.Start(ctx, "RelayOutboxEvent", trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.String("event.topic", event.Topic),
			attribute.Int("event.attempts", event.Attempts),
		))

		if err := r.publisher.Publish(ctx, event.Topic, event.Payload); err != nil {
			log.Printf("notify: publish event %s: %v", event.ID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			if event.Attempts+1 >= relayMaxAttempts {
				if err := r.repo.MarkFailed(ctx, event.ID); err != nil {
					log.Printf("notify: mark event %s failed: %v", event.ID, err)
				}
			} else if err := r.repo.IncrementAttempts(ctx, event.ID); err != nil {
				log.Printf("notify: record attempt for event %s: %v", event.ID, err)
			}

			span.End()
			continue
		}

		if err := r.repo.MarkProcessed(ctx, event.ID); err != nil {
			log.Printf("notify: mark event %s processed: %v", event.ID, err)
			span.RecordError(err)
		}
		span.End()
	}

	return nil
}
