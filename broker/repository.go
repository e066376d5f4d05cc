package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested broker does not exist.
var ErrNotFound = errors.New("broker: not found")

const candidateColumns = `id, name, contact_phone, status, rating, completed_count, property_type, regions, providers, created_at`

// Repository provides access to broker candidate records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a candidate by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Candidate, error) {
	query := fmt.Sprintf(`SELECT %s FROM brokers WHERE id = $1`, candidateColumns)

	c, err := scanCandidate(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Candidate{}, ErrNotFound
		}
		return Candidate{}, fmt.Errorf("broker: query by id: %w", err)
	}
	return c, nil
}

// ListActive returns every broker whose account may receive offers.
func (r *Repository) ListActive(ctx context.Context) ([]Candidate, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM brokers
		WHERE status = 'active'
		ORDER BY id ASC
	`, candidateColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("broker: list active: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0, 16)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("broker: scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("broker: iterate candidates: %w", err)
	}

	return candidates, nil
}

// GetByContact resolves a candidate from an inbound sender address. Contact
// numbers are stored in whatever format the admin typed, so the lookup tries
// the normalized form, then the raw form, then falls back to a linear scan
// normalizing each stored number.
func (r *Repository) GetByContact(ctx context.Context, address string) (Candidate, error) {
	normalized := NormalizePhone(address)

	if normalized != "" {
		c, err := r.getByPhone(ctx, normalized)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Candidate{}, err
		}
	}

	if address != normalized {
		c, err := r.getByPhone(ctx, address)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Candidate{}, err
		}
	}

	return r.scanForPhone(ctx, normalized)
}

func (r *Repository) getByPhone(ctx context.Context, phone string) (Candidate, error) {
	query := fmt.Sprintf(`SELECT %s FROM brokers WHERE contact_phone = $1 LIMIT 1`, candidateColumns)

	c, err := scanCandidate(r.pool.QueryRow(ctx, query, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Candidate{}, ErrNotFound
		}
		return Candidate{}, fmt.Errorf("broker: query by phone: %w", err)
	}
	return c, nil
}

func (r *Repository) scanForPhone(ctx context.Context, normalized string) (Candidate, error) {
	if normalized == "" {
		return Candidate{}, ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM brokers WHERE contact_phone <> ''`, candidateColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return Candidate{}, fmt.Errorf("broker: scan for phone: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return Candidate{}, fmt.Errorf("broker: scan candidate: %w", err)
		}
		if NormalizePhone(c.ContactPhone) == normalized {
			return c, nil
		}
	}
	if err := rows.Err(); err != nil {
		return Candidate{}, fmt.Errorf("broker: iterate phone scan: %w", err)
	}

	return Candidate{}, ErrNotFound
}

// IncrementCompleted bumps the lifetime engagement counter inside the
// caller's transaction. The counter feeds workload balancing in ranking.
func (r *Repository) IncrementCompleted(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE brokers
		SET completed_count = completed_count + 1
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("broker: increment completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCandidate(row pgx.Row) (Candidate, error) {
	var c Candidate
	return c, row.Scan(
		&c.ID,
		&c.Name,
		&c.ContactPhone,
		&c.Status,
		&c.Rating,
		&c.CompletedCount,
		&c.PropertyType,
		&c.Regions,
		&c.Providers,
		&c.CreatedAt,
	)
}
