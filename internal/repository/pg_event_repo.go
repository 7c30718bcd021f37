package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

type pgEventRepository struct {
	pool *pgxpool.Pool
}

// NewPgEventRepository returns an EventRepository backed by PostgreSQL.
func NewPgEventRepository(pool *pgxpool.Pool) EventRepository {
	return &pgEventRepository{pool: pool}
}

func (r *pgEventRepository) Insert(ctx context.Context, events []*domain.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO change_events
				(id, item_id, user_id, retailer, product_key, product_name, url, category,
				 kind, old_value, new_value, delta, percent, message, listing, detected_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			e.ID, nullString(e.ItemID), nullString(e.UserID), e.Retailer, e.ProductKey, e.ProductName, e.URL, e.Category,
			e.Kind, e.OldValue, e.NewValue, nullDecimal(e.Delta), e.Percent, e.Message, e.Listing, e.DetectedAt,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert change events: %w", err)
	}
	return nil
}

func (r *pgEventRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM change_events WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge change events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
