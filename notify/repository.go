package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventStatus is the delivery state of one outbox row.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusProcessed EventStatus = "processed"
	StatusFailed    EventStatus = "failed"
)

// Event is one persisted notification awaiting relay.
type Event struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    EventStatus
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository drains and settles outbox rows for the relay worker.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchPending returns up to limit pending events, oldest first.
func (r *Repository) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	const query = `
		SELECT id, topic, payload, status, attempts, created_at, updated_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: fetch pending: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.Status, &e.Attempts, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate events: %w", err)
	}
	return events, nil
}

// MarkProcessed settles a delivered event.
func (r *Repository) MarkProcessed(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET status = 'processed', updated_at = now()
		WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("notify: mark processed: %w", err)
	}
	return nil
}

// IncrementAttempts records a failed delivery, leaving the event pending for
// the next relay pass.
func (r *Repository) IncrementAttempts(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("notify: increment attempts: %w", err)
	}
	return nil
}

// MarkFailed dead-ends an event that exhausted its delivery attempts.
func (r *Repository) MarkFailed(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET status = 'failed', updated_at = now()
		WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("notify: mark failed: %w", err)
	}
	return nil
}
