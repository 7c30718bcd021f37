package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

const itemColumns = `
	id, user_id, retailer, source_product_id, url, name, category,
	last_price, last_available, target_price, check_interval_ms,
	error_count, last_error, next_check_at, last_checked_at,
	active, deactivated_at, created_at, updated_at`

type pgItemRepository struct {
	pool *pgxpool.Pool
}

// NewPgItemRepository returns an ItemRepository backed by PostgreSQL.
func NewPgItemRepository(pool *pgxpool.Pool) ItemRepository {
	return &pgItemRepository{pool: pool}
}

func (r *pgItemRepository) Create(ctx context.Context, it *domain.TrackedItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tracked_items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		it.ID, it.UserID, it.Retailer, it.SourceProductID, it.URL, it.Name, it.Category,
		nullDecimal(it.LastPrice), it.LastAvailable, nullDecimal(it.TargetPrice), it.CheckInterval.Milliseconds(),
		it.ErrorCount, it.LastError, it.NextCheckAt, it.LastCheckedAt,
		it.Active, it.DeactivatedAt, it.CreatedAt, it.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert tracked item: %w", err)
	}
	return nil
}

func (r *pgItemRepository) GetByID(ctx context.Context, id string) (*domain.TrackedItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE id = $1`, id)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return it, err
}

func (r *pgItemRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*domain.TrackedItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM tracked_items
		WHERE active AND next_check_at <= $1
		ORDER BY next_check_at ASC
		LIMIT $2`, now, nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("find due items: %w", err)
	}
	defer rows.Close()

	var items []*domain.TrackedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *pgItemRepository) Update(ctx context.Context, it *domain.TrackedItem) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tracked_items
		SET name = $1, last_price = $2, last_available = $3, target_price = $4,
		    check_interval_ms = $5, error_count = $6, last_error = $7,
		    next_check_at = $8, last_checked_at = $9, active = $10,
		    deactivated_at = $11, updated_at = $12
		WHERE id = $13`,
		it.Name, nullDecimal(it.LastPrice), it.LastAvailable, nullDecimal(it.TargetPrice),
		it.CheckInterval.Milliseconds(), it.ErrorCount, it.LastError,
		it.NextCheckAt, it.LastCheckedAt, it.Active,
		it.DeactivatedAt, it.UpdatedAt, it.ID,
	)
	if err != nil {
		return fmt.Errorf("update tracked item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgItemRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tracked_items WHERE active`).Scan(&n)
	return n, err
}

// ---- helpers ----

func scanItem(row pgx.Row) (*domain.TrackedItem, error) {
	var (
		it                domain.TrackedItem
		lastPrice, target decimal.NullDecimal
		intervalMS        int64
	)
	err := row.Scan(
		&it.ID, &it.UserID, &it.Retailer, &it.SourceProductID, &it.URL, &it.Name, &it.Category,
		&lastPrice, &it.LastAvailable, &target, &intervalMS,
		&it.ErrorCount, &it.LastError, &it.NextCheckAt, &it.LastCheckedAt,
		&it.Active, &it.DeactivatedAt, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.LastPrice = fromNullDecimal(lastPrice)
	it.TargetPrice = fromNullDecimal(target)
	it.CheckInterval = time.Duration(intervalMS) * time.Millisecond
	return &it, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullableLimit maps a non-positive limit to NULL, which Postgres reads as
// LIMIT ALL. The in-memory mocks treat 0 the same way.
func nullableLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
