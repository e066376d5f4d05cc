package distribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadcast/target"
)

// QueueRepository persists distribution queue entries.
type QueueRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry QueueEntry) (QueueEntry, error)
	Get(ctx context.Context, id string) (QueueEntry, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (QueueEntry, error)
	SetAttempt(ctx context.Context, tx pgx.Tx, id string, attempt int) error
	// Complete transitions an open entry to completed, stamping the winner.
	// Returns false when the entry was already terminal (lost the race).
	Complete(ctx context.Context, tx pgx.Tx, id, brokerID string) (bool, error)
	// Fail transitions an open entry to failed with a reason. Returns false
	// when the entry was already terminal.
	Fail(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error)
	// PurgeTarget hard-deletes every entry and offer for a target so a fresh
	// start never collides with prior attempt numbering.
	PurgeTarget(ctx context.Context, tx pgx.Tx, kind target.Kind, targetID string) error
	List(ctx context.Context, filters QueueFilters) ([]QueueEntry, int, error)
}

// OfferRepository persists offers. Terminal transitions are conditional
// updates guarded by status='pending'; whichever caller commits first wins
// and the loser observes zero rows affected.
type OfferRepository interface {
	Create(ctx context.Context, tx pgx.Tx, offer Offer) (Offer, error)
	Get(ctx context.Context, id string) (Offer, error)
	// OfferedBrokers returns the IDs of every broker ever offered the target.
	OfferedBrokers(ctx context.Context, kind target.Kind, targetID string) (map[string]bool, error)
	// PendingForBroker returns the broker's pending offers, most recent
	// first. More than one is an invariant violation the caller logs.
	PendingForBroker(ctx context.Context, brokerID string) ([]Offer, error)
	// MarkTerminal atomically transitions pending -> status. Returns false
	// when another trigger already terminalized the offer.
	MarkTerminal(ctx context.Context, id string, status OfferStatus, replyText *string, at time.Time) (bool, error)
	// CancelSiblings expires every other pending offer for the target so
	// stale replies are ignored after completion.
	CancelSiblings(ctx context.Context, tx pgx.Tx, kind target.Kind, targetID, keepOfferID string) error
	SetMessageHandle(ctx context.Context, id, handle string) error
	// ListExpired returns pending offers whose deadline passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Offer, error)
	ListForEntry(ctx context.Context, queueEntryID string) ([]Offer, error)
}

// QueueFilters narrows dashboard queries over the queue.
type QueueFilters struct {
	Status     QueueStatus
	TargetKind target.Kind
	Page       int
	PageSize   int
}

const queueColumns = `id, target_kind, target_id, status, current_attempt, assigned_broker_id, failure_reason, started_at, completed_at`

// PGQueueRepository is the pgx implementation of QueueRepository.
type PGQueueRepository struct {
	pool *pgxpool.Pool
}

func NewQueueRepository(pool *pgxpool.Pool) *PGQueueRepository {
	return &PGQueueRepository{pool: pool}
}

func (r *PGQueueRepository) Create(ctx context.Context, tx pgx.Tx, entry QueueEntry) (QueueEntry, error) {
	query := fmt.Sprintf(`
		INSERT INTO distribution_queue (id, target_kind, target_id, status, current_attempt)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5)
		RETURNING %s
	`, queueColumns)

	created, err := scanQueueEntry(tx.QueryRow(ctx, query,
		entry.ID,
		entry.TargetKind,
		entry.TargetID,
		entry.Status,
		entry.CurrentAttempt,
	))
	if err != nil {
		return QueueEntry{}, fmt.Errorf("distribution: create queue entry: %w", err)
	}
	return created, nil
}

func (r *PGQueueRepository) Get(ctx context.Context, id string) (QueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM distribution_queue WHERE id = $1`, queueColumns)

	entry, err := scanQueueEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QueueEntry{}, ErrQueueEntryNotFound
		}
		return QueueEntry{}, fmt.Errorf("distribution: get queue entry: %w", err)
	}
	return entry, nil
}

func (r *PGQueueRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (QueueEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM distribution_queue WHERE id = $1 FOR UPDATE`, queueColumns)

	entry, err := scanQueueEntry(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QueueEntry{}, ErrQueueEntryNotFound
		}
		return QueueEntry{}, fmt.Errorf("distribution: get queue entry for update: %w", err)
	}
	return entry, nil
}

func (r *PGQueueRepository) SetAttempt(ctx context.Context, tx pgx.Tx, id string, attempt int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE distribution_queue
		SET current_attempt = $2, status = 'in_progress'
		WHERE id = $1 AND status IN ('pending', 'in_progress')
	`, id, attempt)
	if err != nil {
		return fmt.Errorf("distribution: set attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQueueEntryNotFound
	}
	return nil
}

func (r *PGQueueRepository) Complete(ctx context.Context, tx pgx.Tx, id, brokerID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE distribution_queue
		SET status = 'completed',
		    assigned_broker_id = $2,
		    completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'in_progress')
	`, id, brokerID)
	if err != nil {
		return false, fmt.Errorf("distribution: complete queue entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGQueueRepository) Fail(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE distribution_queue
		SET status = 'failed',
		    failure_reason = $2,
		    completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'in_progress')
	`, id, reason)
	if err != nil {
		return false, fmt.Errorf("distribution: fail queue entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGQueueRepository) PurgeTarget(ctx context.Context, tx pgx.Tx, kind target.Kind, targetID string) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM distribution_offers WHERE target_kind = $1 AND target_id = $2
	`, kind, targetID); err != nil {
		return fmt.Errorf("distribution: purge offers: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM distribution_queue WHERE target_kind = $1 AND target_id = $2
	`, kind, targetID); err != nil {
		return fmt.Errorf("distribution: purge queue entries: %w", err)
	}
	return nil
}

func (r *PGQueueRepository) List(ctx context.Context, filters QueueFilters) ([]QueueEntry, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.TargetKind != "" {
		where = append(where, fmt.Sprintf("target_kind=$%d", len(args)+1))
		args = append(args, filters.TargetKind)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	query := fmt.Sprintf(`SELECT %s FROM distribution_queue%s ORDER BY started_at DESC LIMIT %d OFFSET %d`,
		queueColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("distribution: list queue: %w", err)
	}
	defer rows.Close()

	entries := []QueueEntry{}
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("distribution: scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("distribution: iterate queue: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM distribution_queue%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("distribution: count queue: %w", err)
	}

	return entries, total, nil
}

func scanQueueEntry(row pgx.Row) (QueueEntry, error) {
	var e QueueEntry
	return e, row.Scan(
		&e.ID,
		&e.TargetKind,
		&e.TargetID,
		&e.Status,
		&e.CurrentAttempt,
		&e.AssignedBrokerID,
		&e.FailureReason,
		&e.StartedAt,
		&e.CompletedAt,
	)
}

const offerColumns = `id, queue_entry_id, target_kind, target_id, broker_id, attempt_order, status, sent_at, timeout_at, reply_text, reply_received_at, message_handle`

// PGOfferRepository is the pgx implementation of OfferRepository.
type PGOfferRepository struct {
	pool *pgxpool.Pool
}

func NewOfferRepository(pool *pgxpool.Pool) *PGOfferRepository {
	return &PGOfferRepository{pool: pool}
}

func (r *PGOfferRepository) Create(ctx context.Context, tx pgx.Tx, offer Offer) (Offer, error) {
	query := fmt.Sprintf(`
		INSERT INTO distribution_offers
			(id, queue_entry_id, target_kind, target_id, broker_id, attempt_order, status, timeout_at)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s
	`, offerColumns)

	created, err := scanOffer(tx.QueryRow(ctx, query,
		offer.ID,
		offer.QueueEntryID,
		offer.TargetKind,
		offer.TargetID,
		offer.BrokerID,
		offer.AttemptOrder,
		offer.Status,
		offer.TimeoutAt,
	))
	if err != nil {
		return Offer{}, fmt.Errorf("distribution: create offer: %w", err)
	}
	return created, nil
}

func (r *PGOfferRepository) Get(ctx context.Context, id string) (Offer, error) {
	query := fmt.Sprintf(`SELECT %s FROM distribution_offers WHERE id = $1`, offerColumns)

	offer, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrOfferNotFound
		}
		return Offer{}, fmt.Errorf("distribution: get offer: %w", err)
	}
	return offer, nil
}

func (r *PGOfferRepository) OfferedBrokers(ctx context.Context, kind target.Kind, targetID string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT broker_id
		FROM distribution_offers
		WHERE target_kind = $1 AND target_id = $2
	`, kind, targetID)
	if err != nil {
		return nil, fmt.Errorf("distribution: offered brokers: %w", err)
	}
	defer rows.Close()

	offered := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("distribution: scan offered broker: %w", err)
		}
		offered[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distribution: iterate offered brokers: %w", err)
	}
	return offered, nil
}

func (r *PGOfferRepository) PendingForBroker(ctx context.Context, brokerID string) ([]Offer, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM distribution_offers
		WHERE broker_id = $1 AND status = 'pending'
		ORDER BY sent_at DESC
	`, offerColumns)

	rows, err := r.pool.Query(ctx, query, brokerID)
	if err != nil {
		return nil, fmt.Errorf("distribution: pending for broker: %w", err)
	}
	defer rows.Close()

	offers := []Offer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("distribution: scan pending offer: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distribution: iterate pending offers: %w", err)
	}
	return offers, nil
}

func (r *PGOfferRepository) MarkTerminal(ctx context.Context, id string, status OfferStatus, replyText *string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE distribution_offers
		SET status = $2,
		    reply_text = $3,
		    reply_received_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, status, replyText, terminalReplyTime(status, at))
	if err != nil {
		return false, fmt.Errorf("distribution: mark offer terminal: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// terminalReplyTime keeps reply_received_at null for transitions that carry
// no broker reply.
func terminalReplyTime(status OfferStatus, at time.Time) *time.Time {
	if status == OfferAccepted || status == OfferRejected {
		return &at
	}
	return nil
}

func (r *PGOfferRepository) CancelSiblings(ctx context.Context, tx pgx.Tx, kind target.Kind, targetID, keepOfferID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE distribution_offers
		SET status = 'timeout'
		WHERE target_kind = $1 AND target_id = $2 AND id <> $3 AND status = 'pending'
	`, kind, targetID, keepOfferID); err != nil {
		return fmt.Errorf("distribution: cancel sibling offers: %w", err)
	}
	return nil
}

func (r *PGOfferRepository) SetMessageHandle(ctx context.Context, id, handle string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE distribution_offers
		SET message_handle = $2
		WHERE id = $1
	`, id, handle); err != nil {
		return fmt.Errorf("distribution: set message handle: %w", err)
	}
	return nil
}

func (r *PGOfferRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]Offer, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM distribution_offers
		WHERE status = 'pending' AND timeout_at < $1
		ORDER BY timeout_at ASC
		LIMIT $2
	`, offerColumns)

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("distribution: list expired: %w", err)
	}
	defer rows.Close()

	offers := []Offer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("distribution: scan expired offer: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distribution: iterate expired offers: %w", err)
	}
	return offers, nil
}

func (r *PGOfferRepository) ListForEntry(ctx context.Context, queueEntryID string) ([]Offer, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM distribution_offers
		WHERE queue_entry_id = $1
		ORDER BY attempt_order ASC
	`, offerColumns)

	rows, err := r.pool.Query(ctx, query, queueEntryID)
	if err != nil {
		return nil, fmt.Errorf("distribution: list offers for entry: %w", err)
	}
	defer rows.Close()

	offers := []Offer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("distribution: scan entry offer: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distribution: iterate entry offers: %w", err)
	}
	return offers, nil
}

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	return o, row.Scan(
		&o.ID,
		&o.QueueEntryID,
		&o.TargetKind,
		&o.TargetID,
		&o.BrokerID,
		&o.AttemptOrder,
		&o.Status,
		&o.SentAt,
		&o.TimeoutAt,
		&o.ReplyText,
		&o.ReplyReceivedAt,
		&o.MessageHandle,
	)
}
