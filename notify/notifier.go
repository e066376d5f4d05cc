// Package notify carries stakeholder notifications out of the engine. The
// engine supplies an audience, a template kind and variables; rendering and
// final delivery happen in the downstream notification consumer.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audience selects who receives a notification.
type Audience string

const (
	AudienceAdmin   Audience = "admin"
	AudienceBroker  Audience = "broker"
	AudienceParties Audience = "parties"
)

// Kind identifies the template the consumer renders.
type Kind string

const (
	KindOfferSent          Kind = "offer_sent"
	KindAssignmentAccepted Kind = "assignment_accepted"
	KindDistributionFailed Kind = "distribution_failed"
)

// Notification is one event handed to the sink.
type Notification struct {
	Audience  Audience
	Kind      Kind
	Variables map[string]any
}

// Notifier persists a notification for delivery. When tx is non-nil the write
// joins the caller's transaction so a notification never survives a rolled
// back state change.
type Notifier interface {
	Notify(ctx context.Context, tx pgx.Tx, n Notification) error
}

// OutboxNotifier implements Notifier over the transactional outbox table.
type OutboxNotifier struct {
	pool *pgxpool.Pool
}

func NewOutboxNotifier(pool *pgxpool.Pool) *OutboxNotifier {
	return &OutboxNotifier{pool: pool}
}

func (o *OutboxNotifier) Notify(ctx context.Context, tx pgx.Tx, n Notification) error {
	payload := map[string]any{
		"audience":  n.Audience,
		"variables": n.Variables,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	const query = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	topic := "notify." + string(n.Kind)

	if tx != nil {
		if _, err := tx.Exec(ctx, query, topic, body); err != nil {
			return fmt.Errorf("notify: enqueue outbox: %w", err)
		}
		return nil
	}
	if _, err := o.pool.Exec(ctx, query, topic, body); err != nil {
		return fmt.Errorf("notify: enqueue outbox: %w", err)
	}
	return nil
}
