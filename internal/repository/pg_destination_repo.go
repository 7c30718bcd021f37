package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

const destinationColumns = `
	id, kind, name, target, categories, min_cooldown_ms, max_posts_per_day,
	last_post_at, posts_today, day_started_at, disabled, disabled_reason, updated_at`

type pgDestinationRepository struct {
	pool *pgxpool.Pool
}

// NewPgDestinationRepository returns a DestinationRepository backed by PostgreSQL.
func NewPgDestinationRepository(pool *pgxpool.Pool) DestinationRepository {
	return &pgDestinationRepository{pool: pool}
}

func (r *pgDestinationRepository) List(ctx context.Context) ([]*domain.Destination, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+destinationColumns+` FROM destinations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *pgDestinationRepository) GetByID(ctx context.Context, id string) (*domain.Destination, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+destinationColumns+` FROM destinations WHERE id = $1`, id)
	d, err := scanDestination(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

// ClaimPost applies the post in one conditional UPDATE, so two processes
// that selected the same destination cannot both get past its cooldown or
// daily cap. The daily counter rolls over 24h after its own last reset.
// The locked CTE row carries the prior state back for ReleaseClaim, and
// ClaimedAt is read back at the column's precision.
func (r *pgDestinationRepository) ClaimPost(ctx context.Context, id string, now time.Time) (domain.PostClaim, error) {
	c := domain.PostClaim{DestinationID: id}
	err := r.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, last_post_at, posts_today, day_started_at
			FROM destinations
			WHERE id = $1
			FOR UPDATE
		)
		UPDATE destinations d
		SET posts_today    = CASE WHEN $2::timestamptz - d.day_started_at >= INTERVAL '24 hours' THEN 1 ELSE d.posts_today + 1 END,
		    day_started_at = CASE WHEN $2::timestamptz - d.day_started_at >= INTERVAL '24 hours' THEN $2 ELSE d.day_started_at END,
		    last_post_at   = $2,
		    updated_at     = $2
		FROM prev
		WHERE d.id = prev.id
		  AND NOT d.disabled
		  AND (d.last_post_at IS NULL OR $2::timestamptz - d.last_post_at >= d.min_cooldown_ms * INTERVAL '1 millisecond')
		  AND (CASE WHEN $2::timestamptz - d.day_started_at >= INTERVAL '24 hours' THEN 0 ELSE d.posts_today END) < d.max_posts_per_day
		RETURNING d.last_post_at, d.posts_today, prev.last_post_at, prev.posts_today, prev.day_started_at`,
		id, now,
	).Scan(&c.ClaimedAt, &c.PostsAfter, &c.PrevLastPostAt, &c.PrevPostsToday, &c.PrevDayStartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return domain.PostClaim{}, gerr
		}
		return domain.PostClaim{}, domain.ErrStaleState
	}
	if err != nil {
		return domain.PostClaim{}, fmt.Errorf("claim destination post: %w", err)
	}
	return c, nil
}

func (r *pgDestinationRepository) ReleaseClaim(ctx context.Context, c domain.PostClaim) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE destinations
		SET last_post_at = $4, posts_today = $5, day_started_at = $6, updated_at = NOW()
		WHERE id = $1 AND last_post_at = $2 AND posts_today = $3`,
		c.DestinationID, c.ClaimedAt, c.PostsAfter,
		c.PrevLastPostAt, c.PrevPostsToday, c.PrevDayStartedAt,
	)
	if err != nil {
		return fmt.Errorf("release destination claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleState
	}
	return nil
}

func (r *pgDestinationRepository) SetDisabled(ctx context.Context, id string, disabled bool, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE destinations
		SET disabled = $1, disabled_reason = $2, updated_at = NOW()
		WHERE id = $3`, disabled, reason, id)
	if err != nil {
		return fmt.Errorf("set destination disabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanDestination(row pgx.Row) (*domain.Destination, error) {
	var (
		d          domain.Destination
		cooldownMS int64
	)
	err := row.Scan(
		&d.ID, &d.Kind, &d.Name, &d.Target, &d.Categories, &cooldownMS, &d.MaxPostsPerDay,
		&d.LastPostAt, &d.PostsToday, &d.DayStartedAt, &d.Disabled, &d.DisabledReason, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.MinCooldown = time.Duration(cooldownMS) * time.Millisecond
	return &d, nil
}
