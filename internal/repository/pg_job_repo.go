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

const jobColumns = `
	id, user_id, channel, item_id, event_id, event_kind, retailer, product_key,
	payload, status, attempts, max_attempts, scheduled_for, detected_at,
	dedup_key, last_error, external_id, delivered_at, created_at, updated_at`

type pgJobRepository struct {
	pool *pgxpool.Pool
}

// NewPgJobRepository returns a JobRepository backed by PostgreSQL.
func NewPgJobRepository(pool *pgxpool.Pool) JobRepository {
	return &pgJobRepository{pool: pool}
}

func (r *pgJobRepository) Create(ctx context.Context, j *domain.NotificationJob) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		j.ID, j.UserID, j.Channel, j.ItemID, j.EventID, j.EventKind, j.Retailer, j.ProductKey,
		j.Payload, j.Status, j.Attempts, j.MaxAttempts, j.ScheduledFor, j.DetectedAt,
		j.DedupKey, j.LastError, j.ExternalID, j.DeliveredAt, j.CreatedAt, j.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert notification job: %w", err)
	}
	return nil
}

func (r *pgJobRepository) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (r *pgJobRepository) GetActiveByDedupKey(ctx context.Context, key string) (*domain.NotificationJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM notification_jobs
		WHERE dedup_key = $1 AND status IN ('pending', 'in_progress')`, key)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (r *pgJobRepository) LeaseDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*domain.NotificationJob, error) {
	// SKIP LOCKED lets several processes lease disjoint sets concurrently.
	// LIMIT NULL is no limit.
	rows, err := r.pool.Query(ctx, `
		UPDATE notification_jobs
		SET status = 'in_progress', updated_at = $1
		WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE (status = 'pending' AND scheduled_for <= $1)
			   OR (status = 'in_progress' AND updated_at < $2)
			ORDER BY scheduled_for ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, now, staleBefore, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("lease due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.NotificationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *pgJobRepository) Save(ctx context.Context, j *domain.NotificationJob) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_jobs
		SET status = $1, attempts = $2, scheduled_for = $3, last_error = $4,
		    external_id = $5, delivered_at = $6, updated_at = $7
		WHERE id = $8`,
		j.Status, j.Attempts, j.ScheduledFor, j.LastError,
		j.ExternalID, j.DeliveredAt, j.UpdatedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("save notification job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgJobRepository) LastDelivered(ctx context.Context, userID, productKey string, kind domain.ChangeKind) (*time.Time, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MAX(delivered_at)
		FROM notification_jobs
		WHERE status = 'delivered' AND user_id = $1 AND product_key = $2 AND event_kind = $3`,
		userID, productKey, kind).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("last delivered: %w", err)
	}
	return at, nil
}

func (r *pgJobRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notification_jobs
		WHERE status IN ('delivered', 'failed', 'cancelled') AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgJobRepository) CountByStatus(ctx context.Context) (domain.JobStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM notification_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	stats := domain.JobStats{}
	for _, s := range domain.JobStatuses {
		stats[s] = 0
	}
	for rows.Next() {
		var (
			status domain.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

func scanJob(row pgx.Row) (*domain.NotificationJob, error) {
	var j domain.NotificationJob
	err := row.Scan(
		&j.ID, &j.UserID, &j.Channel, &j.ItemID, &j.EventID, &j.EventKind, &j.Retailer, &j.ProductKey,
		&j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.ScheduledFor, &j.DetectedAt,
		&j.DedupKey, &j.LastError, &j.ExternalID, &j.DeliveredAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
