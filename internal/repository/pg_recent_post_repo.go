package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

type pgRecentPostRepository struct {
	pool *pgxpool.Pool
}

// NewPgRecentPostRepository returns a RecentPostRepository backed by PostgreSQL.
func NewPgRecentPostRepository(pool *pgxpool.Pool) RecentPostRepository {
	return &pgRecentPostRepository{pool: pool}
}

// AppendIfAbsent serialises writers of one product on a transaction-scoped
// advisory lock, so the check and the insert cannot interleave across
// processes.
func (r *pgRecentPostRepository) AppendIfAbsent(ctx context.Context, p domain.RecentPost, since time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin recent post tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.ProductKey); err != nil {
		return false, fmt.Errorf("lock recent posts: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM recent_posts WHERE product_key = $1 AND posted_at >= $2
		)`, p.ProductKey, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("check recent posts: %w", err)
	}
	if exists {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO recent_posts (product_key, destination_id, posted_at)
		VALUES ($1, $2, $3)`, p.ProductKey, p.DestinationID, p.PostedAt); err != nil {
		return false, fmt.Errorf("append recent post: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit recent post: %w", err)
	}
	return true, nil
}

func (r *pgRecentPostRepository) Delete(ctx context.Context, p domain.RecentPost) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM recent_posts
		WHERE product_key = $1 AND destination_id = $2 AND posted_at = $3`,
		p.ProductKey, p.DestinationID, p.PostedAt)
	if err != nil {
		return fmt.Errorf("delete recent post: %w", err)
	}
	return nil
}

func (r *pgRecentPostRepository) ListSince(ctx context.Context, productKey string, since time.Time) ([]domain.RecentPost, error) {
	// Prune on read; the log is otherwise append-only.
	if _, err := r.pool.Exec(ctx, `
		DELETE FROM recent_posts WHERE product_key = $1 AND posted_at < $2`, productKey, since); err != nil {
		return nil, fmt.Errorf("prune recent posts: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT product_key, destination_id, posted_at
		FROM recent_posts
		WHERE product_key = $1 AND posted_at >= $2
		ORDER BY posted_at DESC`, productKey, since)
	if err != nil {
		return nil, fmt.Errorf("list recent posts: %w", err)
	}
	defer rows.Close()

	var out []domain.RecentPost
	for rows.Next() {
		var p domain.RecentPost
		if err := rows.Scan(&p.ProductKey, &p.DestinationID, &p.PostedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
