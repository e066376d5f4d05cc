package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsSource loads the distribution configuration snapshot.
type SettingsSource interface {
	Load(ctx context.Context) (Settings, error)
}

// SettingsRepository reads the singleton distribution_settings row. The row
// is seeded by migration and edited by admins; its absence is fatal rather
// than defaulted.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

func (r *SettingsRepository) Load(ctx context.Context) (Settings, error) {
	const query = `
		SELECT max_attempts, timeout_minutes, auto_distribution_enabled, fallback_to_admin, updated_at
		FROM distribution_settings
		LIMIT 1
	`

	var s Settings
	err := r.pool.QueryRow(ctx, query).Scan(
		&s.MaxAttempts,
		&s.TimeoutMinutes,
		&s.AutoDistribution,
		&s.FallbackToAdmin,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrSettingsMissing
		}
		return Settings{}, fmt.Errorf("distribution: load settings: %w", err)
	}

	if s.MaxAttempts < 1 || s.TimeoutMinutes < 1 {
		return Settings{}, fmt.Errorf("distribution: invalid settings (max_attempts=%d timeout_minutes=%d)", s.MaxAttempts, s.TimeoutMinutes)
	}
	return s, nil
}
